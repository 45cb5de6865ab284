package fuse_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coderobe/dmcache-recovery-experiments/internal/fuse"
)

func TestViewOverlay(t *testing.T) {
	cache := make([]byte, 64)
	for i := range cache {
		cache[i] = 0xC0 | byte(i&0xF)
	}
	origin := make([]byte, 128)
	for i := range origin {
		origin[i] = byte(i)
	}

	// Two mapped segments: origin [16,32) served from cache offset 0,
	// origin [64,80) served from cache offset 32.
	view, err := fuse.NewView(
		bytes.NewReader(cache),
		bytes.NewReader(origin),
		128,
		[]fuse.Segment{
			{CacheOffset: 32, OriginOffset: 64, Length: 16},
			{CacheOffset: 0, OriginOffset: 16, Length: 16},
		},
	)
	require.NoError(t, err)
	require.Equal(t, uint64(128), view.Size())
	require.Equal(t, 2, view.Segments())

	got := make([]byte, 128)
	n, err := view.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, 128, n)

	want := append([]byte(nil), origin...)
	copy(want[16:32], cache[0:16])
	copy(want[64:80], cache[32:48])
	require.Equal(t, want, got)
}

func TestViewReadInsideSegment(t *testing.T) {
	cache := []byte("cache-segment-content-here....!!")
	view, err := fuse.NewView(
		bytes.NewReader(cache),
		nil,
		64,
		[]fuse.Segment{{CacheOffset: 0, OriginOffset: 16, Length: 32}},
	)
	require.NoError(t, err)

	// A read straddling the gap, the segment and the trailing gap.
	got := make([]byte, 64)
	n, err := view.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, 64, n)

	require.Equal(t, make([]byte, 16), got[:16])
	require.Equal(t, cache, got[16:48])
	require.Equal(t, make([]byte, 16), got[48:])

	// A read entirely within the segment.
	mid := make([]byte, 8)
	n, err = view.ReadAt(mid, 20)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, cache[4:12], mid)
}

func TestViewZeroFillWithoutOrigin(t *testing.T) {
	view, err := fuse.NewView(bytes.NewReader(nil), nil, 32, nil)
	require.NoError(t, err)

	got := make([]byte, 32)
	for i := range got {
		got[i] = 0xFF
	}
	n, err := view.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, 32, n)
	require.Equal(t, make([]byte, 32), got)
}

func TestViewShortOriginReadsAsZeros(t *testing.T) {
	origin := []byte{1, 2, 3, 4}
	view, err := fuse.NewView(bytes.NewReader(nil), bytes.NewReader(origin), 16, nil)
	require.NoError(t, err)

	got := make([]byte, 16)
	n, err := view.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, 16, n)
	require.Equal(t, []byte{1, 2, 3, 4, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, got)
}

func TestViewBounds(t *testing.T) {
	view, err := fuse.NewView(bytes.NewReader(nil), nil, 16, nil)
	require.NoError(t, err)

	_, err = view.ReadAt(make([]byte, 4), 16)
	require.ErrorIs(t, err, io.EOF)

	// Reads past the end are truncated.
	got := make([]byte, 8)
	n, err := view.ReadAt(got, 12)
	require.Equal(t, 4, n)
	require.ErrorIs(t, err, io.EOF)
}

func TestViewRejectsSegmentPastEnd(t *testing.T) {
	_, err := fuse.NewView(bytes.NewReader(nil), nil, 32,
		[]fuse.Segment{{CacheOffset: 0, OriginOffset: 24, Length: 16}})
	require.Error(t, err)
}

func TestViewDropsOverlappingSegments(t *testing.T) {
	cache := make([]byte, 64)
	view, err := fuse.NewView(bytes.NewReader(cache), nil, 64,
		[]fuse.Segment{
			{CacheOffset: 0, OriginOffset: 0, Length: 32},
			{CacheOffset: 32, OriginOffset: 16, Length: 16},
		})
	require.NoError(t, err)
	require.Equal(t, 1, view.Segments())
}
