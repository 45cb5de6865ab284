package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/coderobe/dmcache-recovery-experiments/internal/digest"
)

// File format: "CGIX" magic, uint32 little-endian header length, a
// deterministically encoded CBOR header, then a zstd stream of buckets
// in lexicographic fingerprint order. Each bucket is the raw digest
// bytes, a uvarint offset count, the first offset as a uvarint and the
// remaining offsets as uvarint deltas. The encoding is canonical:
// serializing the same index twice yields identical bytes.

var indexMagic = [4]byte{'C', 'G', 'I', 'X'}

const formatVersion = 1

// maxHeaderLen bounds the CBOR header so a corrupt length field cannot
// trigger an arbitrary allocation.
const maxHeaderLen = 1 << 20

type fileHeader struct {
	Version      uint32 `cbor:"version"`
	Algorithm    string `cbor:"algorithm"`
	DigestSize   int    `cbor:"digest_size"`
	Granularity  uint64 `cbor:"granularity"`
	DeviceSize   uint64 `cbor:"device_size"`
	Blocks       uint64 `cbor:"blocks"`
	Fingerprints uint64 `cbor:"fingerprints"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// Core Deterministic Encoding: same header, same bytes. Required
	// for collect runs to be byte-idempotent.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("index: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("index: CBOR decoder initialization failed: " + err.Error())
	}
}

// IncompatibleIndexError reports a persisted index that cannot be used:
// unrecognized format, unknown digest, or metadata that contradicts
// itself. It is raised before any device scanning begins.
type IncompatibleIndexError struct {
	Field  string
	Reason string
}

func (e *IncompatibleIndexError) Error() string {
	return fmt.Sprintf("incompatible index: %s: %s", e.Field, e.Reason)
}

// Write serializes the index to w in canonical form.
func (ix *Index) Write(w io.Writer) error {
	if _, err := w.Write(indexMagic[:]); err != nil {
		return err
	}

	hdr, err := encMode.Marshal(fileHeader{
		Version:      formatVersion,
		Algorithm:    ix.algorithm,
		DigestSize:   ix.digestSize,
		Granularity:  ix.granularity,
		DeviceSize:   ix.deviceSize,
		Blocks:       ix.blocks,
		Fingerprints: uint64(len(ix.buckets)),
	})
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(hdr))); err != nil {
		return err
	}
	if _, err := w.Write(hdr); err != nil {
		return err
	}

	// Single-goroutine encoder: concurrent zstd encoding is not
	// guaranteed to be byte-reproducible across runs.
	zw, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return err
	}

	var scratch []byte
	for _, key := range ix.sortedFingerprints() {
		offsets := ix.buckets[key]

		scratch = scratch[:0]
		scratch = append(scratch, key...)
		scratch = binary.AppendUvarint(scratch, uint64(len(offsets)))

		var prev uint64
		for i, off := range offsets {
			if i == 0 {
				scratch = binary.AppendUvarint(scratch, off)
			} else {
				scratch = binary.AppendUvarint(scratch, off-prev)
			}
			prev = off
		}

		if _, err := zw.Write(scratch); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

// Read deserializes an index, validating that the header is
// self-consistent and that every bucket satisfies the index invariants
// (offsets unique, ascending, granularity-aligned, in range).
func Read(r io.Reader) (*Index, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, &IncompatibleIndexError{Field: "magic", Reason: err.Error()}
	}
	if magic != indexMagic {
		return nil, &IncompatibleIndexError{Field: "magic", Reason: fmt.Sprintf("unexpected %q", magic[:])}
	}

	var hdrLen uint32
	if err := binary.Read(r, binary.LittleEndian, &hdrLen); err != nil {
		return nil, &IncompatibleIndexError{Field: "header", Reason: err.Error()}
	}
	if hdrLen == 0 || hdrLen > maxHeaderLen {
		return nil, &IncompatibleIndexError{Field: "header", Reason: fmt.Sprintf("implausible length %d", hdrLen)}
	}

	hdrBytes := make([]byte, hdrLen)
	if _, err := io.ReadFull(r, hdrBytes); err != nil {
		return nil, &IncompatibleIndexError{Field: "header", Reason: err.Error()}
	}

	var hdr fileHeader
	if err := decMode.Unmarshal(hdrBytes, &hdr); err != nil {
		return nil, &IncompatibleIndexError{Field: "header", Reason: err.Error()}
	}
	if err := validateHeader(&hdr); err != nil {
		return nil, err
	}

	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, &IncompatibleIndexError{Field: "payload", Reason: err.Error()}
	}
	defer zr.Close()

	ix := &Index{
		algorithm:   hdr.Algorithm,
		digestSize:  hdr.DigestSize,
		granularity: hdr.Granularity,
		deviceSize:  hdr.DeviceSize,
		blocks:      hdr.Blocks,
		buckets:     make(map[string][]uint64, hdr.Fingerprints),
	}

	br := bufio.NewReader(zr)
	fp := make([]byte, hdr.DigestSize)
	var totalBlocks uint64

	for i := uint64(0); i < hdr.Fingerprints; i++ {
		if _, err := io.ReadFull(br, fp); err != nil {
			return nil, &IncompatibleIndexError{Field: "payload", Reason: fmt.Sprintf("truncated bucket %d: %v", i, err)}
		}

		count, err := binary.ReadUvarint(br)
		if err != nil || count == 0 {
			return nil, &IncompatibleIndexError{Field: "payload", Reason: fmt.Sprintf("bad offset count in bucket %d", i)}
		}

		offsets := make([]uint64, count)
		var off uint64
		for j := range offsets {
			d, err := binary.ReadUvarint(br)
			if err != nil {
				return nil, &IncompatibleIndexError{Field: "payload", Reason: fmt.Sprintf("truncated offsets in bucket %d: %v", i, err)}
			}
			if j == 0 {
				off = d
			} else {
				if d == 0 {
					return nil, &IncompatibleIndexError{Field: "payload", Reason: fmt.Sprintf("duplicate offset in bucket %d", i)}
				}
				off += d
			}
			if off%hdr.Granularity != 0 || off+hdr.Granularity > hdr.DeviceSize {
				return nil, &IncompatibleIndexError{Field: "payload", Reason: fmt.Sprintf("offset %d out of range in bucket %d", off, i)}
			}
			offsets[j] = off
		}

		ix.buckets[string(fp)] = offsets
		totalBlocks += count
	}

	if totalBlocks != hdr.Blocks {
		return nil, &IncompatibleIndexError{
			Field:  "blocks",
			Reason: fmt.Sprintf("header claims %d indexed blocks, payload holds %d", hdr.Blocks, totalBlocks),
		}
	}
	return ix, nil
}

func validateHeader(hdr *fileHeader) error {
	if hdr.Version != formatVersion {
		return &IncompatibleIndexError{Field: "version", Reason: fmt.Sprintf("unsupported version %d", hdr.Version)}
	}

	dg, err := digest.New(hdr.Algorithm)
	if err != nil {
		return &IncompatibleIndexError{Field: "algorithm", Reason: err.Error()}
	}
	if dg.Size() != hdr.DigestSize {
		return &IncompatibleIndexError{
			Field:  "digest_size",
			Reason: fmt.Sprintf("%d does not match %s digest size %d", hdr.DigestSize, hdr.Algorithm, dg.Size()),
		}
	}

	if hdr.Granularity == 0 {
		return &IncompatibleIndexError{Field: "granularity", Reason: "missing or zero"}
	}
	if hdr.Blocks == 0 || hdr.Blocks != hdr.DeviceSize/hdr.Granularity {
		return &IncompatibleIndexError{
			Field:  "blocks",
			Reason: fmt.Sprintf("%d inconsistent with device size %d at granularity %d", hdr.Blocks, hdr.DeviceSize, hdr.Granularity),
		}
	}
	if hdr.Fingerprints > hdr.Blocks {
		return &IncompatibleIndexError{Field: "fingerprints", Reason: "more fingerprints than indexed blocks"}
	}
	return nil
}
