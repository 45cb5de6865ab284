//go:build !linux
// +build !linux

package fuse

import "fmt"

func Mount(mountpoint string, view *View) error {
	return fmt.Errorf("FUSE mount is only supported on Linux")
}
