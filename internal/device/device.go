// Package device provides read-only, sector-aligned access to block
// devices and disk images. It is the seam that lets tests substitute
// an in-memory buffer for real disks.
package device

// DefaultSectorSize is the assumed sector size for regular files or when
// a device's sector size cannot be determined.
const DefaultSectorSize = 512

// Device is a read-only byte store addressed by absolute offset.
// Reads must be aligned to the device's sector size in both offset
// and length; unaligned requests fail rather than rounding silently.
type Device interface {
	// ReadAt fills buf with device content starting at off.
	// It returns *AlignmentError for unaligned requests, *RangeError
	// for reads past the device end, and *IOError when the medium
	// fails. A successful call fills buf completely.
	ReadAt(buf []byte, off uint64) error

	// Size returns the device size in bytes.
	Size() uint64

	// SectorSize returns the native sector size in bytes.
	SectorSize() uint64
}

// checkRead validates alignment and bounds for a read of length bytes
// at off against d. Shared by every Device implementation so that the
// in-memory test device enforces the same contract as real disks.
func checkRead(d Device, length int, off uint64) error {
	n := uint64(length)
	ss := d.SectorSize()
	if off%ss != 0 || n%ss != 0 {
		return &AlignmentError{Offset: off, Length: n, SectorSize: ss}
	}
	if off+n > d.Size() {
		return &RangeError{Offset: off, Length: n, Size: d.Size()}
	}
	return nil
}
