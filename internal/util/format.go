package util

import (
	"time"

	"github.com/dustin/go-humanize"
)

// FormatBytes formats bytes in human-readable format
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		return "-"
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatAge renders t relative to now ("3 hours ago")
func FormatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}
