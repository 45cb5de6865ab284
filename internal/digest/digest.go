// Package digest defines the content fingerprint functions used to
// index and match device blocks. Fingerprint equality is a candidate
// match only; callers must confirm by byte comparison.
package digest

import (
	"crypto/sha1"
	"fmt"

	"github.com/zeebo/blake3"
)

// Digest maps a byte block to a fixed-width fingerprint. Implementations
// are stateless and safe for concurrent use.
type Digest interface {
	Name() string
	Size() int
	Sum(data []byte) []byte
}

// New returns the digest registered under name.
func New(name string) (Digest, error) {
	switch name {
	case "blake3":
		return blake3Digest{}, nil
	case "sha1":
		return sha1Digest{}, nil
	}
	return nil, fmt.Errorf("unknown digest algorithm %q (have %v)", name, Names())
}

// Names lists the registered digest algorithms.
func Names() []string { return []string{"blake3", "sha1"} }

// BLAKE3 is the default fingerprint function: cryptographic collision
// resistance at hashing throughput that keeps full-device scans I/O bound.
func BLAKE3() Digest { return blake3Digest{} }

// SHA1 matches the fingerprint function of historical index files.
func SHA1() Digest { return sha1Digest{} }

type blake3Digest struct{}

func (blake3Digest) Name() string { return "blake3" }
func (blake3Digest) Size() int    { return 32 }

func (blake3Digest) Sum(data []byte) []byte {
	sum := blake3.Sum256(data)
	return sum[:]
}

type sha1Digest struct{}

func (sha1Digest) Name() string { return "sha1" }
func (sha1Digest) Size() int    { return sha1.Size }

func (sha1Digest) Sum(data []byte) []byte {
	sum := sha1.Sum(data)
	return sum[:]
}
