//go:build !linux
// +build !linux

package device

import "os"

// openDevice on non-Linux platforms treats every path as a plain file:
// stat size, default sector size. Raw device ioctls are Linux-only.
func openDevice(path string) (*os.File, uint64, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, 0, err
	}
	return f, uint64(fi.Size()), DefaultSectorSize, nil
}
