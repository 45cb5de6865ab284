//go:build linux
// +build linux

package device

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// openDevice opens path read-only and reports its size and sector size.
// Block devices are probed with the BLKGETSIZE64/BLKSSZGET ioctls and
// opened with O_EXCL so a device held open for writing elsewhere (for
// example a live dm-cache member) fails fast instead of producing
// fingerprints of a moving target.
func openDevice(path string) (*os.File, uint64, uint64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, 0, 0, err
	}

	if fi.Mode()&os.ModeDevice == 0 {
		f, err := os.Open(path)
		if err != nil {
			return nil, 0, 0, err
		}
		return f, uint64(fi.Size()), DefaultSectorSize, nil
	}

	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_EXCL, 0)
	if err != nil {
		if errors.Is(err, unix.EBUSY) {
			return nil, 0, 0, fmt.Errorf("%s: %w", path, ErrDeviceBusy)
		}
		return nil, 0, 0, err
	}

	size, err := blkSize64(f)
	if err != nil {
		f.Close()
		return nil, 0, 0, fmt.Errorf("device size of %s: %w", path, err)
	}

	sectorSize, err := blkSectorSize(f)
	if err != nil {
		// Logical sector size is not fatal to probe; 512 is the safe floor.
		sectorSize = DefaultSectorSize
	}
	return f, size, sectorSize, nil
}

func blkSize64(f *os.File) (uint64, error) {
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, fmt.Errorf("ioctl BLKGETSIZE64: %w", errno)
	}
	return size, nil
}

func blkSectorSize(f *os.File) (uint64, error) {
	var ssz uint32
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKSSZGET, uintptr(unsafe.Pointer(&ssz)))
	if errno != 0 {
		return 0, fmt.Errorf("ioctl BLKSSZGET: %w", errno)
	}
	return uint64(ssz), nil
}
