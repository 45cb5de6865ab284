package fuse

import (
	"fmt"
	"io"
	"sort"
)

// ImageName is the single file exposed by a mounted geometry view.
const ImageName = "origin.img"

// Segment is one recovered mapping entry: Length bytes at CacheOffset
// on the cache device hold the content of OriginOffset on the origin.
type Segment struct {
	CacheOffset  uint64
	OriginOffset uint64
	Length       uint64
}

// View presents the origin address space with the recovered cache
// segments overlaid: reads inside a segment come from the cache device,
// reads outside come from the origin device when one is given and as
// zeros otherwise. This is what the mount command serves.
type View struct {
	cache  io.ReaderAt
	origin io.ReaderAt
	size   uint64
	segs   []Segment
}

// NewView assembles a view of size bytes. Segments are sorted by origin
// offset; duplicate-content mappings can target overlapping origin
// ranges, in which case the lower cache offset wins. Segments reaching
// past size are rejected.
func NewView(cache, origin io.ReaderAt, size uint64, segs []Segment) (*View, error) {
	sorted := append([]Segment(nil), segs...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].OriginOffset != sorted[j].OriginOffset {
			return sorted[i].OriginOffset < sorted[j].OriginOffset
		}
		return sorted[i].CacheOffset < sorted[j].CacheOffset
	})

	kept := sorted[:0]
	var end uint64
	for _, seg := range sorted {
		if seg.Length == 0 {
			continue
		}
		if seg.OriginOffset+seg.Length > size {
			return nil, fmt.Errorf("mapping at origin offset %d reaches past view size %d", seg.OriginOffset, size)
		}
		if seg.OriginOffset < end {
			continue
		}
		kept = append(kept, seg)
		end = seg.OriginOffset + seg.Length
	}

	return &View{
		cache:  cache,
		origin: origin,
		size:   size,
		segs:   kept,
	}, nil
}

// Size returns the view length in bytes.
func (v *View) Size() uint64 { return v.size }

// Segments returns the number of overlaid mapping segments.
func (v *View) Segments() int { return len(v.segs) }

// ReadAt implements io.ReaderAt over the overlaid address space.
func (v *View) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}

	pos := uint64(off)
	if pos >= v.size {
		return 0, io.EOF
	}

	atEnd := false
	if pos+uint64(len(p)) > v.size {
		p = p[:v.size-pos]
		atEnd = true
	}

	n := 0
	for len(p) > 0 {
		// First segment ending after pos.
		i := sort.Search(len(v.segs), func(i int) bool {
			return v.segs[i].OriginOffset+v.segs[i].Length > pos
		})

		var m int
		var err error
		if i == len(v.segs) || pos < v.segs[i].OriginOffset {
			gap := uint64(len(p))
			if i < len(v.segs) && v.segs[i].OriginOffset-pos < gap {
				gap = v.segs[i].OriginOffset - pos
			}
			m, err = v.readGap(p[:gap], pos)
		} else {
			seg := v.segs[i]
			within := pos - seg.OriginOffset
			chunk := seg.Length - within
			if uint64(len(p)) < chunk {
				chunk = uint64(len(p))
			}
			m, err = v.cache.ReadAt(p[:chunk], int64(seg.CacheOffset+within))
		}

		n += m
		pos += uint64(m)
		p = p[m:]
		if err != nil {
			return n, err
		}
	}

	if atEnd {
		return n, io.EOF
	}
	return n, nil
}

// readGap serves a range not covered by any mapping segment: origin
// content when an origin device was given, zeros otherwise. An origin
// shorter than the view reads as zeros past its end.
func (v *View) readGap(p []byte, pos uint64) (int, error) {
	if v.origin == nil {
		clear(p)
		return len(p), nil
	}

	n, err := v.origin.ReadAt(p, int64(pos))
	if err == io.EOF {
		clear(p[n:])
		return len(p), nil
	}
	return n, err
}
