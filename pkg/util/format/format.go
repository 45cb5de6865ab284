package format

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatBytes renders a byte count in human-readable units,
// avoiding .00 for whole numbers.
func FormatBytes(b int64) string {
	const (
		_  = iota // ignore first value
		KB = 1 << (10 * iota)
		MB
		GB
		TB
	)

	val := float64(b)
	var unit string

	switch {
	case b >= TB:
		val /= float64(TB)
		unit = "TB"
	case b >= GB:
		val /= float64(GB)
		unit = "GB"
	case b >= MB:
		val /= float64(MB)
		unit = "MB"
	case b >= KB:
		val /= float64(KB)
		unit = "KB"
	default:
		return fmt.Sprintf("%dB", b)
	}

	if val == float64(int(val)) {
		return fmt.Sprintf("%.0f%s", val, unit)
	}
	return fmt.Sprintf("%.2f%s", val, unit)
}

// ParseBytes parses a byte-size string such as "512", "8KB", "256KB" or "1GB".
// Units are powers of two; a bare "B" suffix and lowercase are accepted.
func ParseBytes(s string) (uint64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, fmt.Errorf("empty byte size")
	}

	mult := uint64(1)
	switch {
	case strings.HasSuffix(s, "TB"):
		mult = 1 << 40
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "GB"):
		mult = 1 << 30
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "MB"):
		mult = 1 << 20
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "KB"):
		mult = 1 << 10
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "B"):
		s = s[:len(s)-1]
	}

	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return v * mult, nil
}
