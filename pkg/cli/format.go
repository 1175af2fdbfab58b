package cli

import (
	"fmt"
	"time"
)

// FormatDuration formats d for humans: 850ms, 1.5s, 2m5.5s.
func FormatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	secs := float64(ms) / 1000
	if secs < 60 {
		return fmt.Sprintf("%.1fs", secs)
	}
	mins := int(secs / 60)
	secs -= float64(mins * 60)
	return fmt.Sprintf("%dm%.1fs", mins, secs)
}

// Between formats the time from start to end, or "-" when either is unset.
func Between(start, end time.Time) string {
	if start.IsZero() || end.IsZero() {
		return "-"
	}
	return FormatDuration(end.Sub(start))
}
