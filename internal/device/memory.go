package device

// Memory is an in-memory Device used by tests in place of real disks.
// It enforces the same alignment and bounds contract as File.
type Memory struct {
	data       []byte
	sectorSize uint64
	fault      func(off, length uint64) error
}

// NewMemory wraps data as a device with the given sector size.
// A sectorSize of 0 selects DefaultSectorSize.
func NewMemory(data []byte, sectorSize uint64) *Memory {
	if sectorSize == 0 {
		sectorSize = DefaultSectorSize
	}
	return &Memory{data: data, sectorSize: sectorSize}
}

// FailWith installs a fault hook consulted before every read. A non-nil
// return is wrapped as an *IOError, simulating an unreadable region.
func (d *Memory) FailWith(fault func(off, length uint64) error) {
	d.fault = fault
}

func (d *Memory) ReadAt(buf []byte, off uint64) error {
	if err := checkRead(d, len(buf), off); err != nil {
		return err
	}
	if d.fault != nil {
		if err := d.fault(off, uint64(len(buf))); err != nil {
			return &IOError{Path: "memory", Offset: off, Length: uint64(len(buf)), Err: err}
		}
	}
	copy(buf, d.data[off:off+uint64(len(buf))])
	return nil
}

func (d *Memory) Size() uint64       { return uint64(len(d.data)) }
func (d *Memory) SectorSize() uint64 { return d.sectorSize }
