package device

import (
	"errors"
	"fmt"
)

// ErrDeviceBusy reports that the medium is in use and cannot guarantee
// stable content for the duration of a scan.
var ErrDeviceBusy = errors.New("device is busy")

// AlignmentError reports a read that is not aligned to the device
// sector size. This is a usage fault and aborts the run.
type AlignmentError struct {
	Offset     uint64
	Length     uint64
	SectorSize uint64
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("unaligned read of %d bytes at offset %d (sector size %d)",
		e.Length, e.Offset, e.SectorSize)
}

// RangeError reports a read extending past the end of the device.
type RangeError struct {
	Offset uint64
	Length uint64
	Size   uint64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("read of %d bytes at offset %d exceeds device size %d",
		e.Length, e.Offset, e.Size)
}

// IOError reports a medium-level read failure. Scans treat it as a
// coverage gap for the affected block and continue.
type IOError struct {
	Path   string
	Offset uint64
	Length uint64
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("read %q at offset %d (%d bytes): %v", e.Path, e.Offset, e.Length, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
