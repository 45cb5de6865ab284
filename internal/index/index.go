// Package index builds and persists the content-addressed fingerprint
// index of an origin device. The index maps each fingerprint to the
// ascending list of origin offsets whose block content produced it, at
// a fixed granularity that every searched cache-block size must divide
// into.
package index

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/coderobe/dmcache-recovery-experiments/internal/device"
	"github.com/coderobe/dmcache-recovery-experiments/internal/digest"
)

// DefaultGranularity is the fingerprinting block size used by collect
// unless overridden. It bounds the finest cache-block alignment a later
// search can resolve.
const DefaultGranularity = 8 * 1024

// buildBufferSize is the read-chunk size of a build pass. Blocks inside
// a chunk are fingerprinted in parallel; chunks are committed in offset
// order so bucket contents stay deterministic.
const buildBufferSize = 4 * 1024 * 1024

// Index maps fingerprints to the origin offsets that produced them.
// Read-only after Build or Read; safe for concurrent Lookup calls.
type Index struct {
	algorithm   string
	digestSize  int
	granularity uint64
	deviceSize  uint64
	blocks      uint64
	buckets     map[string][]uint64
}

// Build fingerprints dev in disjoint granularity-sized blocks from
// offset 0. A trailing partial block is skipped, never padded. Any read
// failure aborts the build: a fingerprint index must reflect the whole
// device or be considered invalid. progress, if non-nil, is called with
// bytes indexed so far out of the indexable total.
func Build(ctx context.Context, dev device.Device, dg digest.Digest, granularity uint64, progress func(done, total uint64)) (*Index, error) {
	if granularity == 0 {
		return nil, fmt.Errorf("granularity must be positive")
	}
	if granularity%dev.SectorSize() != 0 {
		return nil, &device.AlignmentError{Length: granularity, SectorSize: dev.SectorSize()}
	}

	blocks := dev.Size() / granularity
	if blocks == 0 {
		return nil, fmt.Errorf("device size %d is smaller than granularity %d", dev.Size(), granularity)
	}

	ix := &Index{
		algorithm:   dg.Name(),
		digestSize:  dg.Size(),
		granularity: granularity,
		deviceSize:  dev.Size(),
		blocks:      blocks,
		buckets:     make(map[string][]uint64, blocks),
	}

	chunkBlocks := uint64(buildBufferSize) / granularity
	if chunkBlocks == 0 {
		chunkBlocks = 1
	}
	buf := make([]byte, chunkBlocks*granularity)
	total := blocks * granularity

	for off := uint64(0); off < total; off += uint64(len(buf)) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n := chunkBlocks
		if remaining := (total - off) / granularity; remaining < n {
			n = remaining
			buf = buf[:n*granularity]
		}

		if err := dev.ReadAt(buf, off); err != nil {
			return nil, fmt.Errorf("index build aborted: %w", err)
		}

		for i, fp := range fingerprintBlocks(dg, buf, int(n), granularity) {
			key := string(fp)
			ix.buckets[key] = append(ix.buckets[key], off+uint64(i)*granularity)
		}

		if progress != nil {
			progress(off+uint64(len(buf)), total)
		}
	}
	return ix, nil
}

// fingerprintBlocks hashes the n granularity-sized blocks of buf across
// GOMAXPROCS goroutines, returning fingerprints in block order.
func fingerprintBlocks(dg digest.Digest, buf []byte, n int, granularity uint64) [][]byte {
	fps := make([][]byte, n)

	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < n; i += workers {
				fps[i] = dg.Sum(buf[uint64(i)*granularity : uint64(i+1)*granularity])
			}
		}(w)
	}
	wg.Wait()
	return fps
}

// Lookup returns the ascending origin offsets whose block content
// produced fp, or nil. The returned slice must not be modified.
func (ix *Index) Lookup(fp []byte) []uint64 {
	return ix.buckets[string(fp)]
}

// Algorithm returns the name of the digest the index was built with.
func (ix *Index) Algorithm() string { return ix.algorithm }

// DigestSize returns the fingerprint width in bytes.
func (ix *Index) DigestSize() int { return ix.digestSize }

// Granularity returns the indexing block size in bytes.
func (ix *Index) Granularity() uint64 { return ix.granularity }

// DeviceSize returns the size of the origin device the index was built from.
func (ix *Index) DeviceSize() uint64 { return ix.deviceSize }

// Blocks returns the number of indexed blocks.
func (ix *Index) Blocks() uint64 { return ix.blocks }

// Fingerprints returns the number of distinct fingerprints.
func (ix *Index) Fingerprints() uint64 { return uint64(len(ix.buckets)) }

// sortedFingerprints returns bucket keys in lexicographic order, the
// canonical ordering of the serialized form.
func (ix *Index) sortedFingerprints() []string {
	keys := make([]string, 0, len(ix.buckets))
	for k := range ix.buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
