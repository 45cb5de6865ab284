package device

import (
	"os"
)

// File is a Device backed by a regular file or a raw block device.
type File struct {
	f          *os.File
	path       string
	size       uint64
	sectorSize uint64
}

// Open opens path read-only. Block devices are opened exclusively so a
// device whose content may change under the scan is refused with
// ErrDeviceBusy; size and sector size come from the kernel where the
// platform supports it, with stat size and DefaultSectorSize as the
// fallback for disk images.
func Open(path string) (*File, error) {
	f, size, sectorSize, err := openDevice(path)
	if err != nil {
		return nil, err
	}
	return &File{
		f:          f,
		path:       path,
		size:       size,
		sectorSize: sectorSize,
	}, nil
}

func (d *File) ReadAt(buf []byte, off uint64) error {
	if err := checkRead(d, len(buf), off); err != nil {
		return err
	}
	if _, err := d.f.ReadAt(buf, int64(off)); err != nil {
		return &IOError{Path: d.path, Offset: off, Length: uint64(len(buf)), Err: err}
	}
	return nil
}

func (d *File) Size() uint64       { return d.size }
func (d *File) SectorSize() uint64 { return d.sectorSize }
func (d *File) Path() string       { return d.path }

func (d *File) Close() error { return d.f.Close() }
