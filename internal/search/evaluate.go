package search

import (
	"context"
	"errors"
	"sort"

	"github.com/coderobe/dmcache-recovery-experiments/internal/device"
)

// evaluate scans the cache device under one hypothesis, in ascending
// offset order so an interrupted scan yields a deterministic coverage
// ratio over the prefix covered. Unreadable cache blocks are coverage
// gaps; any other device error is a fault and aborts the run.
func (e *Engine) evaluate(ctx context.Context, h Hypothesis) (*HypothesisResult, error) {
	g := e.cfg.Index.Granularity()
	subBlocks := int(h.BlockSize / g)

	hr := &HypothesisResult{
		Hypothesis: h,
		Verified:   e.cfg.Origin != nil,
	}

	buf := make([]byte, h.BlockSize)
	var originBuf []byte
	if e.cfg.Origin != nil {
		originBuf = make([]byte, h.BlockSize)
	}

	cacheSize := e.cfg.Cache.Size()
	for off := h.Alignment; off+h.BlockSize <= cacheSize; off += h.BlockSize {
		select {
		case <-ctx.Done():
			hr.Partial = true
			return hr, nil
		default:
		}

		if err := e.cfg.Cache.ReadAt(buf, off); err != nil {
			var ioErr *device.IOError
			if errors.As(err, &ioErr) {
				hr.ReadFailures++
				e.cfg.Logger.Warnf("cache block at offset %d unreadable, skipping: %s", off, err)
				continue
			}
			return nil, err
		}
		hr.Attempted++

		bases := e.candidateBases(buf, subBlocks, g)
		if len(bases) == 0 {
			continue
		}

		origin, ok, rejected := e.verify(buf, originBuf, bases)
		hr.Collisions += rejected
		if ok {
			hr.Matches = append(hr.Matches, Match{CacheOffset: off, OriginOffset: origin})
		}
	}
	return hr, nil
}

// candidateBases resolves the origin offsets a cache block could map
// to. The block is decomposed into granularity-sized sub-blocks; a base
// offset survives only if every sub-block i has an index hit at
// base+i*g, i.e. the whole block maps to one contiguous origin extent.
// Survivors are returned in ascending order.
func (e *Engine) candidateBases(block []byte, subBlocks int, g uint64) []uint64 {
	first := e.cfg.Index.Lookup(e.cfg.Digest.Sum(block[:g]))
	if len(first) == 0 {
		return nil
	}

	bases := append([]uint64(nil), first...)
	for i := 1; i < subBlocks && len(bases) > 0; i++ {
		hits := e.cfg.Index.Lookup(e.cfg.Digest.Sum(block[uint64(i)*g : uint64(i+1)*g]))
		if len(hits) == 0 {
			return nil
		}

		want := uint64(i) * g
		keep := bases[:0]
		for _, base := range bases {
			if containsOffset(hits, base+want) {
				keep = append(keep, base)
			}
		}
		bases = keep
	}
	return bases
}

// containsOffset reports whether the ascending bucket holds off.
func containsOffset(bucket []uint64, off uint64) bool {
	i := sort.Search(len(bucket), func(i int) bool { return bucket[i] >= off })
	return i < len(bucket) && bucket[i] == off
}
