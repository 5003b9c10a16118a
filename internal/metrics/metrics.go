// Package metrics derives throughput and remaining-time figures from
// progress counters. Everything here is a pure function.
package metrics

import (
	"fmt"
	"math"
	"time"
)

// Snapshot is the derived view of one progress observation.
type Snapshot struct {
	Processed  int
	Total      int
	Elapsed    time.Duration
	Throughput float64 // items per second, never NaN or Inf

	// ETA is only meaningful when ETAKnown is true. An unknown ETA is not
	// the same as zero seconds remaining.
	ETA      time.Duration
	ETAKnown bool
}

// Compute derives throughput and ETA from the processed/total counters and
// the elapsed time since the operation became active.
//
// Elapsed is truncated to whole seconds. Throughput is 0 when elapsed is
// not positive. The ETA is known only when total > 0, processed > 0 and
// throughput > 0; it is ceil((total-processed)/throughput) seconds.
func Compute(processed, total int, elapsed time.Duration) Snapshot {
	if processed < 0 {
		processed = 0
	}
	if total < 0 {
		total = 0
	}
	if elapsed < 0 {
		elapsed = 0
	}

	s := Snapshot{
		Processed: processed,
		Total:     total,
		Elapsed:   elapsed.Truncate(time.Second),
	}

	secs := s.Elapsed.Seconds()
	if secs > 0 {
		s.Throughput = float64(processed) / secs
	}

	if total > 0 && processed > 0 && s.Throughput > 0 {
		remaining := total - processed
		if remaining < 0 {
			remaining = 0
		}
		etaSecs := math.Ceil(float64(remaining) / s.Throughput)
		s.ETA = time.Duration(etaSecs) * time.Second
		s.ETAKnown = true
	}

	return s
}

// FormatClock renders a whole number of seconds as HH:MM:SS. Hours are not
// capped, so 100 hours renders as "100:00:00". Negative input renders as zero.
func FormatClock(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatDuration is FormatClock for a time.Duration, truncated to seconds.
func FormatDuration(d time.Duration) string {
	return FormatClock(int64(d / time.Second))
}

// FormatETA renders the ETA, or placeholder when it is unknown.
func (s Snapshot) FormatETA(placeholder string) string {
	if !s.ETAKnown {
		return placeholder
	}
	return FormatDuration(s.ETA)
}

// FormatThroughput renders throughput with two decimals and the given unit.
func (s Snapshot) FormatThroughput(unit string) string {
	return fmt.Sprintf("%.2f %s/s", s.Throughput, unit)
}
