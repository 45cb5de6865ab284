package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/coderobe/dmcache-recovery-experiments/internal/env"
	"github.com/coderobe/dmcache-recovery-experiments/internal/index"
	"github.com/coderobe/dmcache-recovery-experiments/internal/logger"
	"github.com/coderobe/dmcache-recovery-experiments/pkg/util/format"
)

func Execute(ctx context.Context) error {
	rootCmd := &cobra.Command{
		Use:   env.AppName,
		Short: env.AppName + " - cache geometry recovery tool",
	}

	rootCmd.PersistentFlags().String("log-level", "INFO", "minimum log level (DEBUG, INFO, WARN, ERROR)")

	rootCmd.AddCommand(DefineCollectCommand())
	rootCmd.AddCommand(DefineFindCommand())
	rootCmd.AddCommand(DefineInfoCommand())
	rootCmd.AddCommand(DefineMountCommand())

	return rootCmd.ExecuteContext(ctx)
}

func newLogger(cmd *cobra.Command) *logger.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	return logger.New(os.Stderr, logger.ParseLevel(level))
}

// getBytes parses a byte-size flag such as "8KB" or "256KB".
func getBytes(cmd *cobra.Command, name string) (uint64, error) {
	s, _ := cmd.Flags().GetString(name)

	v, err := format.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("flag --%s: %w", name, err)
	}
	return v, nil
}

// loadIndex reads and validates a persisted fingerprint index.
func loadIndex(path string) (*index.Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ix, err := index.Read(bufio.NewReaderSize(f, 1024*1024))
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", path, err)
	}
	return ix, nil
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// GenSessionID creates a unique name fragment for a run.
// The format is "YYYYMMDD_HHMMSS".
func GenSessionID() string {
	return time.Now().Format("20060102_150405")
}

// FormatDurationHMS formats a time.Duration into an HH:MM:SS string.
func FormatDurationHMS(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	totalSeconds := int64(d.Seconds())

	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
