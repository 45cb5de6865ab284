// Package report renders recovered cache geometry in a stable,
// parseable XML form. A report carries the winning hypothesis, its
// score, and the full cache-to-origin offset mapping, and can be read
// back to drive the mount command.
package report

import (
	"encoding/xml"
	"os"
	"os/user"
	"runtime"
	"strconv"
	"time"

	"github.com/coderobe/dmcache-recovery-experiments/pkg/sysinfo"
)

const OutputVersion = "1.0"

// Header is the leading metadata of a geometry report.
type Header struct {
	XMLName xml.Name `xml:"geometry_report"`
	Version string   `xml:"version,attr,omitempty"`
	Creator Creator  `xml:"creator"`
	Index   Index    `xml:"index"`
	Cache   Source   `xml:"cache_device"`
	Origin  *Source  `xml:"origin_device,omitempty"`
}

// Creator describes the software and environment that produced the report.
type Creator struct {
	Package              string  `xml:"package"`
	Version              string  `xml:"version"`
	ExecutionEnvironment ExecEnv `xml:"execution_environment"`
}

// ExecEnv records the host the search ran on.
type ExecEnv struct {
	OS      string `xml:"os_sysname"`
	Release string `xml:"os_release"`
	Version string `xml:"os_version"`
	Host    string `xml:"host"`
	Arch    string `xml:"arch"`
	UID     int    `xml:"uid"`
	Start   string `xml:"start_time"`
}

// Index describes the fingerprint index the search ran against.
type Index struct {
	Path         string `xml:"path"`
	Algorithm    string `xml:"algorithm"`
	Granularity  uint64 `xml:"granularity"`
	DeviceSize   uint64 `xml:"device_size"`
	Blocks       uint64 `xml:"blocks"`
	Fingerprints uint64 `xml:"fingerprints"`
}

// Source describes a scanned device.
type Source struct {
	Path       string `xml:"path"`
	SectorSize uint64 `xml:"sector_size"`
	Size       uint64 `xml:"size"`
}

// Geometry is the selected hypothesis and its score.
type Geometry struct {
	XMLName      xml.Name `xml:"geometry"`
	BlockSize    uint64   `xml:"block_size,attr"`
	Alignment    uint64   `xml:"alignment,attr"`
	Coverage     float64  `xml:"coverage,attr"`
	Matched      uint64   `xml:"matched,attr"`
	Attempted    uint64   `xml:"attempted,attr"`
	ReadFailures uint64   `xml:"read_failures,attr"`
	Collisions   uint64   `xml:"collisions,attr"`
	Verified     bool     `xml:"verified,attr"`
	Partial      bool     `xml:"partial,attr"`
}

// Mapping pairs one cache block with the origin block holding the same
// content.
type Mapping struct {
	XMLName      xml.Name `xml:"map"`
	CacheOffset  uint64   `xml:"cache_offset,attr"`
	OriginOffset uint64   `xml:"origin_offset,attr"`
	Length       uint64   `xml:"len,attr"`
}

// Report is a fully parsed geometry report.
type Report struct {
	Header   Header
	Geometry Geometry
	Mappings []Mapping
}

// GetExecEnv captures the current execution environment.
func GetExecEnv() ExecEnv {
	sinfo, err := sysinfo.Stat()
	if err != nil {
		sinfo = &sysinfo.SysUnknown
	}

	host, err := os.Hostname()
	if err != nil {
		host = "unknown_host"
	}

	uid := 0
	if current, err := user.Current(); err == nil {
		if v, err := strconv.Atoi(current.Uid); err == nil {
			uid = v
		}
	}

	return ExecEnv{
		OS:      sinfo.Name,
		Release: sinfo.Release,
		Version: sinfo.Version,
		Host:    host,
		Arch:    runtime.GOARCH,
		UID:     uid,
		Start:   time.Now().UTC().Format("2006-01-02T15:04:05Z"),
	}
}
