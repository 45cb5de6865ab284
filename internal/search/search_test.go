package search_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coderobe/dmcache-recovery-experiments/internal/device"
	"github.com/coderobe/dmcache-recovery-experiments/internal/digest"
	"github.com/coderobe/dmcache-recovery-experiments/internal/index"
	"github.com/coderobe/dmcache-recovery-experiments/internal/search"
)

const g = 1024 // index granularity used throughout

// originData builds n granularity blocks of pairwise distinct content.
func originData(n int) []byte {
	data := make([]byte, n*g)
	for b := 0; b < n; b++ {
		block := data[b*g : (b+1)*g]
		for i := range block {
			block[i] = byte(b + i*3)
		}
	}
	return data
}

func buildIndex(t *testing.T, dg digest.Digest, data []byte) *index.Index {
	t.Helper()
	ix, err := index.Build(context.Background(), device.NewMemory(data, 512), dg, g, nil)
	require.NoError(t, err)
	return ix
}

func newEngine(t *testing.T, cfg search.Config) *search.Engine {
	t.Helper()
	e, err := search.New(cfg)
	require.NoError(t, err)
	return e
}

func TestSelfMatch(t *testing.T) {
	data := originData(16)
	dg := digest.BLAKE3()

	origin := device.NewMemory(data, 512)
	cache := device.NewMemory(data, 512)

	e := newEngine(t, search.Config{
		Index:  buildIndex(t, dg, data),
		Cache:  cache,
		Origin: origin,
		Digest: dg,
	})

	res, err := e.Run(context.Background(), []uint64{2 * g})
	require.NoError(t, err)
	require.False(t, res.Partial)

	best := res.Best
	require.Equal(t, uint64(2*g), best.BlockSize)
	require.Equal(t, uint64(0), best.Alignment)
	require.Equal(t, 1.0, best.Coverage())
	require.True(t, best.Verified)
	require.Zero(t, best.ReadFailures)
	require.Zero(t, best.Collisions)

	require.Len(t, best.Matches, 8)
	for i, m := range best.Matches {
		require.Equal(t, uint64(i)*2*g, m.CacheOffset)
		require.Equal(t, m.CacheOffset, m.OriginOffset)
	}
}

func TestShiftedCopyRecoversAlignment(t *testing.T) {
	data := originData(16)
	dg := digest.BLAKE3()

	// The cache holds the origin content behind 2g bytes of foreign data.
	junk := make([]byte, 2*g)
	for i := range junk {
		junk[i] = 0xFF
	}
	cache := device.NewMemory(append(junk, data...), 512)

	e := newEngine(t, search.Config{
		Index:  buildIndex(t, dg, data),
		Cache:  cache,
		Origin: device.NewMemory(data, 512),
		Digest: dg,
	})

	res, err := e.Run(context.Background(), []uint64{4 * g})
	require.NoError(t, err)

	best := res.Best
	require.Equal(t, uint64(4*g), best.BlockSize)
	require.Equal(t, uint64(2*g), best.Alignment)
	require.Equal(t, 1.0, best.Coverage())

	require.Len(t, best.Matches, 4)
	for i, m := range best.Matches {
		require.Equal(t, 2*g+uint64(i)*4*g, m.CacheOffset)
		require.Equal(t, uint64(i)*4*g, m.OriginOffset)
	}
}

func TestTieBreakPrefersLargerBlockSize(t *testing.T) {
	data := originData(16)
	dg := digest.BLAKE3()

	// A verbatim copy scores 1.0 under every hypothesis, so the winner
	// is decided purely by the tie-break order.
	e := newEngine(t, search.Config{
		Index:  buildIndex(t, dg, data),
		Cache:  device.NewMemory(data, 512),
		Origin: device.NewMemory(data, 512),
		Digest: dg,
	})

	res, err := e.Run(context.Background(), []uint64{2 * g, 4 * g})
	require.NoError(t, err)
	require.Equal(t, uint64(4*g), res.Best.BlockSize)
	require.Equal(t, uint64(0), res.Best.Alignment)
}

func TestNoConfidentMatch(t *testing.T) {
	data := originData(16)
	dg := digest.BLAKE3()

	foreign := make([]byte, 16*g)
	for i := range foreign {
		foreign[i] = 0xEE
	}

	e := newEngine(t, search.Config{
		Index:  buildIndex(t, dg, data),
		Cache:  device.NewMemory(foreign, 512),
		Origin: device.NewMemory(data, 512),
		Digest: dg,
	})

	res, err := e.Run(context.Background(), []uint64{2 * g})
	require.ErrorIs(t, err, search.ErrNoConfidentMatch)

	// The best effort is still reported alongside the error.
	require.NotNil(t, res)
	require.NotNil(t, res.Best)
	require.Empty(t, res.Best.Matches)
	require.Equal(t, 0.0, res.Best.Coverage())
}

func TestDisabledConfidenceFloor(t *testing.T) {
	data := originData(16)
	dg := digest.BLAKE3()

	foreign := make([]byte, 16*g)
	for i := range foreign {
		foreign[i] = 0xEE
	}

	e := newEngine(t, search.Config{
		Index:       buildIndex(t, dg, data),
		Cache:       device.NewMemory(foreign, 512),
		Origin:      device.NewMemory(data, 512),
		Digest:      dg,
		MinCoverage: -1,
	})

	res, err := e.Run(context.Background(), []uint64{2 * g})
	require.NoError(t, err)
	require.Empty(t, res.Best.Matches)
}

// weakDigest fingerprints a block by its first byte, which makes
// collisions trivial to construct.
type weakDigest struct{}

func (weakDigest) Name() string          { return "weak" }
func (weakDigest) Size() int             { return 1 }
func (weakDigest) Sum(data []byte) []byte { return []byte{data[0]} }

func TestCollisionsRejectedByVerification(t *testing.T) {
	// Blocks 0..3 share a first byte but differ in content, so their
	// fingerprints collide under weakDigest.
	data := make([]byte, 8*g)
	for b := 0; b < 8; b++ {
		block := data[b*g : (b+1)*g]
		first := byte(b)
		if b < 4 {
			first = 0xAA
		}
		block[0] = first
		for i := 1; i < len(block); i++ {
			block[i] = byte(b + i)
		}
	}

	dg := weakDigest{}
	origin := device.NewMemory(data, 512)

	// The cache holds blocks 2 and 7 of the origin.
	cacheData := append(append([]byte(nil), data[2*g:3*g]...), data[7*g:8*g]...)

	e := newEngine(t, search.Config{
		Index:  buildIndex(t, dg, data),
		Cache:  device.NewMemory(cacheData, 512),
		Origin: origin,
		Digest: dg,
	})

	res, err := e.Run(context.Background(), []uint64{g})
	require.NoError(t, err)

	best := res.Best
	require.Equal(t, 1.0, best.Coverage())
	require.True(t, best.Verified)

	// Blocks 0 and 1 collide with cache block 0 and are rejected by the
	// byte comparison before block 2 matches.
	require.Equal(t, uint64(2), best.Collisions)
	require.Equal(t, []search.Match{
		{CacheOffset: 0, OriginOffset: 2 * g},
		{CacheOffset: g, OriginOffset: 7 * g},
	}, best.Matches)
}

func TestUnverifiedWithoutOrigin(t *testing.T) {
	data := originData(16)
	dg := digest.BLAKE3()

	e := newEngine(t, search.Config{
		Index:  buildIndex(t, dg, data),
		Cache:  device.NewMemory(data, 512),
		Digest: dg,
	})

	res, err := e.Run(context.Background(), []uint64{2 * g})
	require.NoError(t, err)
	require.False(t, res.Best.Verified)
	require.Equal(t, 1.0, res.Best.Coverage())
}

func TestUnreadableCacheBlockIsCoverageGap(t *testing.T) {
	data := originData(16)
	dg := digest.BLAKE3()

	cache := device.NewMemory(data, 512)
	cache.FailWith(func(off, length uint64) error {
		if off == 4*g {
			return errors.New("bad sector")
		}
		return nil
	})

	e := newEngine(t, search.Config{
		Index:  buildIndex(t, dg, data),
		Cache:  cache,
		Origin: device.NewMemory(data, 512),
		Digest: dg,
	})

	res, err := e.Run(context.Background(), []uint64{2 * g})
	require.NoError(t, err)

	best := res.Best
	require.Equal(t, uint64(0), best.Alignment)
	require.Equal(t, uint64(1), best.ReadFailures)
	require.Equal(t, uint64(7), best.Attempted)
	require.Len(t, best.Matches, 7)
	require.Equal(t, 1.0, best.Coverage())
}

func TestInvalidSizesAreSkipped(t *testing.T) {
	data := originData(16)
	dg := digest.BLAKE3()

	e := newEngine(t, search.Config{
		Index:  buildIndex(t, dg, data),
		Cache:  device.NewMemory(data, 512),
		Origin: device.NewMemory(data, 512),
		Digest: dg,
	})

	// 1000 is not a multiple of the granularity; 64g exceeds the cache.
	res, err := e.Run(context.Background(), []uint64{1000, 64 * g, 2 * g})
	require.NoError(t, err)
	require.Equal(t, 2, res.Skipped)
	require.Equal(t, uint64(2*g), res.Best.BlockSize)

	// A sweep with no evaluable size fails outright.
	_, err = e.Run(context.Background(), []uint64{1000})
	require.Error(t, err)
	require.NotErrorIs(t, err, search.ErrNoConfidentMatch)
}

func TestCancellation(t *testing.T) {
	data := originData(16)
	dg := digest.BLAKE3()

	e := newEngine(t, search.Config{
		Index:  buildIndex(t, dg, data),
		Cache:  device.NewMemory(data, 512),
		Origin: device.NewMemory(data, 512),
		Digest: dg,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.Run(ctx, []uint64{2 * g})
	require.NotNil(t, res)
	require.True(t, res.Partial)
	if res.Best != nil {
		// Workers that had already picked up a hypothesis report a
		// partial prefix scan.
		require.True(t, res.Best.Partial || err == nil)
	}
}

func TestConfigValidation(t *testing.T) {
	data := originData(4)
	dg := digest.BLAKE3()
	ix := buildIndex(t, dg, data)
	cache := device.NewMemory(data, 512)

	_, err := search.New(search.Config{Cache: cache, Digest: dg})
	require.Error(t, err)

	_, err = search.New(search.Config{Index: ix, Cache: cache, Digest: digest.SHA1()})
	require.Error(t, err)

	_, err = search.New(search.Config{Index: ix, Cache: cache, Digest: dg, MinCoverage: 1.5})
	require.Error(t, err)
}
