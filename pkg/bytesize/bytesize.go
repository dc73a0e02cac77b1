// Package bytesize formats byte counts for logs and operator-facing output.
// Media sizes in sved span five orders of magnitude, from kilobyte VMAF
// reports to multi-gigabyte sources, so raw byte counts are unreadable.
package bytesize

import (
	"fmt"
	"strings"
)

// Size is a byte count with a human-readable String form.
type Size int64

// Binary (1024) base units.
const (
	B  Size = 1
	KB Size = 1024
	MB Size = 1024 * KB
	GB Size = 1024 * MB
	TB Size = 1024 * GB
)

// Format renders a byte count using the largest unit that keeps the value
// at or above one.
func Format(n int64) string {
	return Size(n).String()
}

// String returns a human-readable representation like "1.4GB" or "512KB".
func (s Size) String() string {
	if s == 0 {
		return "0B"
	}

	negative := s < 0
	if negative {
		s = -s
	}

	var result string
	switch {
	case s >= TB:
		result = formatUnit(float64(s)/float64(TB), "TB")
	case s >= GB:
		result = formatUnit(float64(s)/float64(GB), "GB")
	case s >= MB:
		result = formatUnit(float64(s)/float64(MB), "MB")
	case s >= KB:
		result = formatUnit(float64(s)/float64(KB), "KB")
	default:
		result = fmt.Sprintf("%dB", s)
	}

	if negative {
		return "-" + result
	}
	return result
}

// Bytes returns the size as a plain int64.
func (s Size) Bytes() int64 {
	return int64(s)
}

// formatUnit trims trailing zeros so whole values print without decimals.
func formatUnit(value float64, unit string) string {
	if value == float64(int64(value)) {
		return fmt.Sprintf("%d%s", int64(value), unit)
	}
	formatted := strings.TrimRight(fmt.Sprintf("%.2f", value), "0")
	formatted = strings.TrimRight(formatted, ".")
	return formatted + unit
}
