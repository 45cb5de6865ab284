package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coderobe/dmcache-recovery-experiments/internal/fuse"
	"github.com/coderobe/dmcache-recovery-experiments/pkg/report"
)

func DefineMountCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount <report_file> <cache_device>",
		Short: "Mount the reconstructed origin image from a geometry report",
		Long: `The 'mount' command exposes the origin device reconstructed from a geometry
report as a single read-only file on a FUSE mountpoint. Every mapped block is
served from the cache device; unmapped regions fall back to the origin device
given with --origin, or read as zeroes without one.`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         RunMount,
	}

	cmd.Flags().StringP("mountpoint", "m", "", "Absolute path to the directory where the filesystem will be mounted. If not specified, a default will be generated.")
	cmd.Flags().String("origin", "", "origin device backing the unmapped regions")
	return cmd
}

func RunMount(cmd *cobra.Command, args []string) error {
	reportFile, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer reportFile.Close()

	rep, err := report.ReadReport(bufio.NewReader(reportFile))
	if err != nil {
		return err
	}

	cache, err := os.Open(args[1])
	if err != nil {
		return err
	}
	defer cache.Close()

	var origin *os.File
	originPath, _ := cmd.Flags().GetString("origin")
	if originPath != "" {
		origin, err = os.Open(originPath)
		if err != nil {
			return err
		}
		defer origin.Close()
	}

	mountpoint, _ := cmd.Flags().GetString("mountpoint")
	if mountpoint == "" {
		mountpoint = getMountpoint(reportFile.Name())
	}

	segs := make([]fuse.Segment, len(rep.Mappings))
	for i, m := range rep.Mappings {
		segs[i] = fuse.Segment{
			CacheOffset:  m.CacheOffset,
			OriginOffset: m.OriginOffset,
			Length:       m.Length,
		}
	}

	view, err := newMountView(cache, origin, rep, segs)
	if err != nil {
		return err
	}

	fmt.Printf("[INFO] Serving %s (%d mapped segments)\n", fuse.ImageName, view.Segments())
	return fuse.Mount(mountpoint, view)
}

func newMountView(cache, origin *os.File, rep *report.Report, segs []fuse.Segment) (*fuse.View, error) {
	if origin == nil {
		// A nil *os.File must not reach the io.ReaderAt interface value.
		return fuse.NewView(cache, nil, rep.Header.Index.DeviceSize, segs)
	}
	return fuse.NewView(cache, origin, rep.Header.Index.DeviceSize, segs)
}

// getMountpoint generates a mountpoint name from a report file name by stripping the extension.
// If the extension is empty, "_mnt" is added.
func getMountpoint(reportFileName string) string {
	baseName := filepath.Base(reportFileName)
	ext := filepath.Ext(baseName)
	baseName = strings.TrimSuffix(baseName, ext)
	mountpoint := baseName
	if ext == "" {
		mountpoint += "_mnt"
	}
	return mountpoint
}
