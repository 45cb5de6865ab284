package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	fmtutil "github.com/coderobe/dmcache-recovery-experiments/pkg/util/format"
)

func DefineInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "info <index>",
		Short:        "Show the metadata and statistics of an index file",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         RunInfo,
	}
}

func RunInfo(cmd *cobra.Command, args []string) error {
	ix, err := loadIndex(args[0])
	if err != nil {
		return err
	}

	dup := ix.Blocks() - ix.Fingerprints()

	fmt.Printf("[INFO] Index: \t%s\n", absPath(args[0]))
	fmt.Printf("[INFO] Digest algorithm: \t%s (%d bytes)\n", ix.Algorithm(), ix.DigestSize())
	fmt.Printf("[INFO] Granularity: \t%s\n", fmtutil.FormatBytes(int64(ix.Granularity())))
	fmt.Printf("[INFO] Origin device size: \t%s\n", fmtutil.FormatBytes(int64(ix.DeviceSize())))
	fmt.Printf("[INFO] Indexed blocks: \t%d\n", ix.Blocks())
	fmt.Printf("[INFO] Distinct fingerprints: \t%d\n", ix.Fingerprints())
	fmt.Printf("[INFO] Duplicate blocks: \t%d (%.1f%%)\n", dup, 100*float64(dup)/float64(max(ix.Blocks(), 1)))

	return nil
}
