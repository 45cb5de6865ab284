// Copyright (c) 2025 coderobe
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/coderobe/dmcache-recovery-experiments/internal/device"
	"github.com/coderobe/dmcache-recovery-experiments/internal/digest"
	"github.com/coderobe/dmcache-recovery-experiments/internal/index"
	"github.com/coderobe/dmcache-recovery-experiments/pkg/pbar"
	fmtutil "github.com/coderobe/dmcache-recovery-experiments/pkg/util/format"
)

func DefineCollectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "collect <index> <device>",
		Short:        "Fingerprint an origin device into a reusable index",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         RunCollect,
	}

	cmd.Flags().String("granularity", "8KB", "fingerprinting block size")
	cmd.Flags().String("digest", "blake3", "digest algorithm ("+strings.Join(digest.Names(), ", ")+")")

	return cmd
}

func RunCollect(cmd *cobra.Command, args []string) error {
	indexPath, devicePath := args[0], args[1]

	granularity, err := getBytes(cmd, "granularity")
	if err != nil {
		return err
	}

	algo, _ := cmd.Flags().GetString("digest")
	dg, err := digest.New(algo)
	if err != nil {
		return err
	}

	dev, err := device.Open(devicePath)
	if err != nil {
		return err
	}
	defer dev.Close()

	fmt.Println("[INFO] Starting collect operation...")
	fmt.Printf("[INFO] Source: \t%s\n", absPath(devicePath))
	fmt.Printf("[INFO] Device size: \t%s\n", fmtutil.FormatBytes(int64(dev.Size())))
	fmt.Printf("[INFO] Sector size: \t%d\n", dev.SectorSize())
	fmt.Printf("[INFO] Granularity: \t%s\n", fmtutil.FormatBytes(int64(granularity)))
	fmt.Printf("[INFO] Digest: \t%s\n", dg.Name())

	start := time.Now()

	bar := pbar.NewBytes(int64(dev.Size() / granularity * granularity))
	ix, err := index.Build(cmd.Context(), dev, dg, granularity, func(done, total uint64) {
		bar.Set(int64(done))
	})
	if err != nil {
		fmt.Println()
		return err
	}
	bar.Finish()

	f, err := os.Create(indexPath)
	if err != nil {
		return err
	}

	w := bufio.NewWriterSize(f, 1024*1024)
	if err := ix.Write(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	fmt.Printf("[INFO] Collect completed!\n")
	fmt.Printf("[INFO] Indexed blocks: \t%d\n", ix.Blocks())
	fmt.Printf("[INFO] Distinct fingerprints: \t%d\n", ix.Fingerprints())
	fmt.Printf("[INFO] Duration: \t%s\n", FormatDurationHMS(time.Since(start)))
	fmt.Printf("[INFO] Index saved to: \t%s\n", absPath(indexPath))
	return nil
}
