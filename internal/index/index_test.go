package index_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coderobe/dmcache-recovery-experiments/internal/device"
	"github.com/coderobe/dmcache-recovery-experiments/internal/digest"
	"github.com/coderobe/dmcache-recovery-experiments/internal/index"
)

const testGranularity = 1024

// originDevice builds an in-memory origin of n granularity blocks whose
// content is derived from the block number, with selected blocks forced
// to identical content to exercise duplicate handling.
func originDevice(n int, duplicates ...int) *device.Memory {
	data := make([]byte, n*testGranularity)
	for b := 0; b < n; b++ {
		block := data[b*testGranularity : (b+1)*testGranularity]
		for i := range block {
			block[i] = byte(b + i*3)
		}
	}
	for _, b := range duplicates {
		copy(data[b*testGranularity:(b+1)*testGranularity], data[:testGranularity])
	}
	return device.NewMemory(data, 512)
}

func TestBuildAndLookup(t *testing.T) {
	dev := originDevice(16)
	dg := digest.BLAKE3()

	ix, err := index.Build(context.Background(), dev, dg, testGranularity, nil)
	require.NoError(t, err)

	require.Equal(t, "blake3", ix.Algorithm())
	require.Equal(t, uint64(testGranularity), ix.Granularity())
	require.Equal(t, dev.Size(), ix.DeviceSize())
	require.Equal(t, uint64(16), ix.Blocks())
	require.Equal(t, uint64(16), ix.Fingerprints())

	block := make([]byte, testGranularity)
	for b := uint64(0); b < 16; b++ {
		require.NoError(t, dev.ReadAt(block, b*testGranularity))
		require.Equal(t, []uint64{b * testGranularity}, ix.Lookup(dg.Sum(block)))
	}

	require.Nil(t, ix.Lookup(dg.Sum(make([]byte, testGranularity))))
}

func TestBuildDuplicateBlocks(t *testing.T) {
	dev := originDevice(16, 5, 11)
	dg := digest.BLAKE3()

	ix, err := index.Build(context.Background(), dev, dg, testGranularity, nil)
	require.NoError(t, err)

	require.Equal(t, uint64(16), ix.Blocks())
	require.Equal(t, uint64(14), ix.Fingerprints())

	block := make([]byte, testGranularity)
	require.NoError(t, dev.ReadAt(block, 0))
	require.Equal(t, []uint64{0, 5 * testGranularity, 11 * testGranularity}, ix.Lookup(dg.Sum(block)))
}

func TestBuildSkipsTrailingPartialBlock(t *testing.T) {
	// 16 full blocks plus half a block of trailing data.
	data := make([]byte, 16*testGranularity+testGranularity/2)
	for i := range data {
		data[i] = byte(i)
	}
	dev := device.NewMemory(data, 512)

	ix, err := index.Build(context.Background(), dev, digest.BLAKE3(), testGranularity, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(16), ix.Blocks())
	require.Equal(t, dev.Size(), ix.DeviceSize())
}

func TestBuildProgress(t *testing.T) {
	dev := originDevice(16)

	var lastDone, lastTotal uint64
	_, err := index.Build(context.Background(), dev, digest.BLAKE3(), testGranularity, func(done, total uint64) {
		require.GreaterOrEqual(t, done, lastDone)
		lastDone, lastTotal = done, total
	})
	require.NoError(t, err)
	require.Equal(t, uint64(16*testGranularity), lastDone)
	require.Equal(t, uint64(16*testGranularity), lastTotal)
}

func TestBuildAbortsOnReadFailure(t *testing.T) {
	dev := originDevice(16)
	dev.FailWith(func(off, length uint64) error {
		return errors.New("bad sector")
	})

	_, err := index.Build(context.Background(), dev, digest.BLAKE3(), testGranularity, nil)
	var ioErr *device.IOError
	require.ErrorAs(t, err, &ioErr)
}

func TestBuildCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := index.Build(ctx, originDevice(16), digest.BLAKE3(), testGranularity, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestBuildInvalidGranularity(t *testing.T) {
	dev := originDevice(16)

	_, err := index.Build(context.Background(), dev, digest.BLAKE3(), 0, nil)
	require.Error(t, err)

	// Not a multiple of the sector size.
	var alignErr *device.AlignmentError
	_, err = index.Build(context.Background(), dev, digest.BLAKE3(), 1000, nil)
	require.ErrorAs(t, err, &alignErr)

	// Device smaller than one block.
	_, err = index.Build(context.Background(), dev, digest.BLAKE3(), dev.Size()*2, nil)
	require.Error(t, err)
}

func TestWriteIsByteIdempotent(t *testing.T) {
	ix, err := index.Build(context.Background(), originDevice(32, 3, 17), digest.BLAKE3(), testGranularity, nil)
	require.NoError(t, err)

	var first, second bytes.Buffer
	require.NoError(t, ix.Write(&first))
	require.NoError(t, ix.Write(&second))
	require.Equal(t, first.Bytes(), second.Bytes())
}

func TestRoundTrip(t *testing.T) {
	dev := originDevice(32, 3, 17)
	dg := digest.BLAKE3()

	ix, err := index.Build(context.Background(), dev, dg, testGranularity, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, ix.Write(&buf))

	got, err := index.Read(&buf)
	require.NoError(t, err)

	require.Equal(t, ix.Algorithm(), got.Algorithm())
	require.Equal(t, ix.DigestSize(), got.DigestSize())
	require.Equal(t, ix.Granularity(), got.Granularity())
	require.Equal(t, ix.DeviceSize(), got.DeviceSize())
	require.Equal(t, ix.Blocks(), got.Blocks())
	require.Equal(t, ix.Fingerprints(), got.Fingerprints())

	block := make([]byte, testGranularity)
	for b := uint64(0); b < 32; b++ {
		require.NoError(t, dev.ReadAt(block, b*testGranularity))
		require.Equal(t, ix.Lookup(dg.Sum(block)), got.Lookup(dg.Sum(block)))
	}
}

func TestReadRejectsBadMagic(t *testing.T) {
	ix, err := index.Build(context.Background(), originDevice(8), digest.BLAKE3(), testGranularity, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, ix.Write(&buf))

	raw := buf.Bytes()
	raw[0] = 'X'

	var incompatErr *index.IncompatibleIndexError
	_, err = index.Read(bytes.NewReader(raw))
	require.ErrorAs(t, err, &incompatErr)
	require.Equal(t, "magic", incompatErr.Field)
}

func TestReadRejectsTruncatedPayload(t *testing.T) {
	ix, err := index.Build(context.Background(), originDevice(8), digest.BLAKE3(), testGranularity, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, ix.Write(&buf))

	var incompatErr *index.IncompatibleIndexError
	_, err = index.Read(bytes.NewReader(buf.Bytes()[:buf.Len()-20]))
	require.ErrorAs(t, err, &incompatErr)
}

func TestReadRejectsEmptyInput(t *testing.T) {
	var incompatErr *index.IncompatibleIndexError
	_, err := index.Read(bytes.NewReader(nil))
	require.ErrorAs(t, err, &incompatErr)
}
