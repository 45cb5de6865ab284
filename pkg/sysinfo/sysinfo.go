package sysinfo

import (
	"bufio"
	"os"
	"runtime"
	"strings"
)

// SysUnknown is the fallback when OS details cannot be determined.
var SysUnknown = SysInfo{
	Name:    runtime.GOOS,
	Release: "unknown",
	Version: "unknown",
}

// SysInfo holds the basic operating system details recorded in the
// execution-environment block of a geometry report.
type SysInfo struct {
	Name    string
	Release string
	Version string
}

// Stat gathers operating system information for the current host.
func Stat() (*SysInfo, error) {
	info := SysUnknown
	if runtime.GOOS == "linux" {
		info.Name, info.Release, info.Version = linuxRelease()
	}
	return &info, nil
}

// linuxRelease parses /etc/os-release, the conventional source of
// distribution name and version on Linux.
func linuxRelease() (name, release, version string) {
	name, release, version = "unknown", "unknown", "unknown"

	f, err := os.Open("/etc/os-release")
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if v, ok := strings.CutPrefix(line, "NAME="); ok {
			name = strings.Trim(v, `"`)
		}
		if v, ok := strings.CutPrefix(line, "VERSION_ID="); ok {
			release = strings.Trim(v, `"`)
		}
		if v, ok := strings.CutPrefix(line, "VERSION="); ok {
			version = strings.Trim(v, `"`)
		}
	}
	return
}
