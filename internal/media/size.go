package media

import (
	"fmt"
	"strconv"
	"strings"
)

var sizeUnits = [...]string{"B", "KB", "MB", "GB", "TB"}

// FormatSize renders a byte count as "1.23 GB" (1024-based).
func FormatSize(bytes int64) string {
	if bytes == 0 {
		return "0 B"
	}
	size := float64(bytes)
	i := 0
	for size >= 1024.0 && i < len(sizeUnits)-1 {
		size /= 1024.0
		i++
	}
	return fmt.Sprintf("%.2f %s", size, sizeUnits[i])
}

// ParseSize reverses FormatSize for the "<number> <unit>" shape and returns
// the byte count. Units map 1024-based; an unrecognized unit counts the bare
// number as bytes, and anything that does not split into number + unit
// parses as 0.
func ParseSize(s string) int64 {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	switch fields[1] {
	case "GB":
		return int64(v * 1024 * 1024 * 1024)
	case "MB":
		return int64(v * 1024 * 1024)
	case "KB":
		return int64(v * 1024)
	default:
		return int64(v)
	}
}
