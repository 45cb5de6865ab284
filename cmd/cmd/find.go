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
	"github.com/coderobe/dmcache-recovery-experiments/internal/env"
	"github.com/coderobe/dmcache-recovery-experiments/internal/index"
	"github.com/coderobe/dmcache-recovery-experiments/internal/search"
	"github.com/coderobe/dmcache-recovery-experiments/pkg/pbar"
	"github.com/coderobe/dmcache-recovery-experiments/pkg/report"
	fmtutil "github.com/coderobe/dmcache-recovery-experiments/pkg/util/format"
)

func DefineFindCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "find <index> <cache_device>",
		Short:        "Recover the cache geometry matching an origin index",
		Long: `The 'find' command scans a cache device for regions whose content matches
a fingerprint index previously built with 'collect', trying every alignment of
each candidate cache block size, and reports the best-scoring geometry together
with the cache-to-origin block mapping.

Pass the origin device with --origin to confirm every fingerprint hit by full
byte comparison; without it, matches rest on fingerprint evidence alone.`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         RunFind,
	}

	cmd.Flags().StringSlice("cache-block-size", []string{fmtutil.FormatBytes(search.DefaultCacheBlockSize)},
		"candidate cache block sizes; multiple values sweep the whole set")
	cmd.Flags().String("origin", "", "origin device for byte-level verification of matches")
	cmd.Flags().Float64("min-coverage", search.DefaultMinCoverage, "confidence floor for the winning hypothesis")
	cmd.Flags().Int("workers", 0, "concurrent hypothesis evaluations (default GOMAXPROCS)")
	cmd.Flags().StringP("output", "o", "", "path of the geometry report file")

	return cmd
}

func RunFind(cmd *cobra.Command, args []string) error {
	log := newLogger(cmd)
	indexPath, cachePath := args[0], args[1]

	ix, err := loadIndex(indexPath)
	if err != nil {
		return err
	}

	dg, err := digest.New(ix.Algorithm())
	if err != nil {
		return err
	}

	cache, err := device.Open(cachePath)
	if err != nil {
		return err
	}
	defer cache.Close()

	sizeFlags, _ := cmd.Flags().GetStringSlice("cache-block-size")
	sizes := make([]uint64, 0, len(sizeFlags))
	for _, s := range sizeFlags {
		v, err := fmtutil.ParseBytes(s)
		if err != nil {
			return fmt.Errorf("flag --cache-block-size: %w", err)
		}
		sizes = append(sizes, v)
	}

	minCoverage, _ := cmd.Flags().GetFloat64("min-coverage")
	workers, _ := cmd.Flags().GetInt("workers")

	cfg := search.Config{
		Index:       ix,
		Cache:       cache,
		Digest:      dg,
		Logger:      log,
		Workers:     workers,
		MinCoverage: minCoverage,
	}

	var origin *device.File
	originPath, _ := cmd.Flags().GetString("origin")
	if originPath != "" {
		origin, err = device.Open(originPath)
		if err != nil {
			return err
		}
		defer origin.Close()
		cfg.Origin = origin
	} else {
		log.Warn("no --origin device given: matches will not be confirmed by full comparison")
	}

	fmt.Println("[INFO] Starting find operation...")
	fmt.Printf("[INFO] Index: \t%s (%s, granularity %s, origin size %s)\n",
		absPath(indexPath), ix.Algorithm(),
		fmtutil.FormatBytes(int64(ix.Granularity())),
		fmtutil.FormatBytes(int64(ix.DeviceSize())))
	fmt.Printf("[INFO] Cache device: \t%s (%s)\n", absPath(cachePath), fmtutil.FormatBytes(int64(cache.Size())))
	fmt.Printf("[INFO] Candidate sizes: \t%s\n", strings.Join(sizeFlags, ","))

	var bar *pbar.ProgressBar
	cfg.Progress = func(done, total int) {
		if bar == nil {
			bar = pbar.New(int64(total), "hypotheses")
		}
		bar.Set(int64(done))
	}

	engine, err := search.New(cfg)
	if err != nil {
		return err
	}

	start := time.Now()
	res, runErr := engine.Run(cmd.Context(), sizes)
	if bar != nil {
		bar.Finish()
	}
	if res == nil || res.Best == nil {
		return runErr
	}

	outPath, _ := cmd.Flags().GetString("output")
	if outPath == "" {
		outPath = fmt.Sprintf("geometry_%s.xml", GenSessionID())
	}
	if err := writeReport(outPath, indexPath, ix, cache, origin, res); err != nil {
		return err
	}

	best := res.Best
	fmt.Printf("[INFO] Search completed!\n")
	fmt.Printf("[INFO] Best geometry: \tblock size %s, alignment %d\n",
		fmtutil.FormatBytes(int64(best.BlockSize)), best.Alignment)
	fmt.Printf("[INFO] Coverage: \t%.3f (%d of %d blocks", best.Coverage(), len(best.Matches), best.Attempted)
	if !best.Verified {
		fmt.Print(", unverified")
	}
	if res.Partial {
		fmt.Print(", partial")
	}
	fmt.Println(")")
	fmt.Printf("[INFO] Read failures: \t%d\n", best.ReadFailures)
	fmt.Printf("[INFO] Collisions: \t%d\n", best.Collisions)
	fmt.Printf("[INFO] Hypotheses: \t%d evaluated, %d sizes skipped\n", res.Evaluated, res.Skipped)
	fmt.Printf("[INFO] Duration: \t%s\n", FormatDurationHMS(time.Since(start)))
	fmt.Printf("[INFO] Report saved to: \t%s\n", absPath(outPath))

	return runErr
}

func writeReport(path, indexPath string, ix *index.Index, cache, origin *device.File, res *search.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriterSize(f, 1024*1024)
	w := report.NewWriter(bw)

	hdr := report.Header{
		Version: report.OutputVersion,
		Creator: report.Creator{
			Package:              env.AppName,
			Version:              env.Version,
			ExecutionEnvironment: report.GetExecEnv(),
		},
		Index: report.Index{
			Path:         absPath(indexPath),
			Algorithm:    ix.Algorithm(),
			Granularity:  ix.Granularity(),
			DeviceSize:   ix.DeviceSize(),
			Blocks:       ix.Blocks(),
			Fingerprints: ix.Fingerprints(),
		},
		Cache: report.Source{
			Path:       cache.Path(),
			SectorSize: cache.SectorSize(),
			Size:       cache.Size(),
		},
	}
	if origin != nil {
		hdr.Origin = &report.Source{
			Path:       origin.Path(),
			SectorSize: origin.SectorSize(),
			Size:       origin.Size(),
		}
	}
	if err := w.WriteHeader(hdr); err != nil {
		return err
	}

	best := res.Best
	err = w.WriteGeometry(report.Geometry{
		BlockSize:    best.BlockSize,
		Alignment:    best.Alignment,
		Coverage:     best.Coverage(),
		Matched:      uint64(len(best.Matches)),
		Attempted:    best.Attempted,
		ReadFailures: best.ReadFailures,
		Collisions:   best.Collisions,
		Verified:     best.Verified,
		Partial:      res.Partial,
	})
	if err != nil {
		return err
	}

	for _, m := range best.Matches {
		err := w.WriteMapping(report.Mapping{
			CacheOffset:  m.CacheOffset,
			OriginOffset: m.OriginOffset,
			Length:       best.BlockSize,
		})
		if err != nil {
			return err
		}
	}

	if err := w.Close(); err != nil {
		return err
	}
	return bw.Flush()
}
