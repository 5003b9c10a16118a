package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeZeroElapsedHasZeroThroughput(t *testing.T) {
	for _, processed := range []int{0, 1, 50, 1_000_000} {
		s := Compute(processed, 100, 0)
		assert.Equal(t, 0.0, s.Throughput)
		assert.False(t, math.IsNaN(s.Throughput))
		assert.False(t, math.IsInf(s.Throughput, 0))
		assert.False(t, s.ETAKnown)
	}
}

func TestComputeSubSecondElapsedIsTreatedAsZero(t *testing.T) {
	s := Compute(10, 100, 900*time.Millisecond)
	assert.Equal(t, 0.0, s.Throughput)
	assert.False(t, s.ETAKnown)
}

func TestComputeZeroProcessedHasUnknownETA(t *testing.T) {
	for _, elapsed := range []time.Duration{0, time.Second, time.Hour} {
		s := Compute(0, 100, elapsed)
		assert.False(t, s.ETAKnown, "elapsed=%v", elapsed)
		assert.Equal(t, "...", s.FormatETA("..."))
	}
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name           string
		processed      int
		total          int
		elapsed        time.Duration
		wantThroughput float64
		wantETA        time.Duration
		wantKnown      bool
	}{
		{"even rate", 50, 100, 10 * time.Second, 5, 10 * time.Second, true},
		{"eta rounds up", 30, 100, 7 * time.Second, 30.0 / 7.0, 17 * time.Second, true},
		{"finished", 100, 100, 20 * time.Second, 5, 0, true},
		{"over-reported progress clamps remaining", 120, 100, 10 * time.Second, 12, 0, true},
		{"unknown total", 10, 0, 10 * time.Second, 1, 0, false},
		{"negative elapsed clamps", 10, 100, -5 * time.Second, 0, 0, false},
		{"elapsed truncated to seconds", 30, 60, 3*time.Second + 999*time.Millisecond, 10, 3 * time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Compute(tt.processed, tt.total, tt.elapsed)
			assert.InDelta(t, tt.wantThroughput, s.Throughput, 1e-9)
			assert.Equal(t, tt.wantKnown, s.ETAKnown)
			if tt.wantKnown {
				assert.Equal(t, tt.wantETA, s.ETA)
			}
		})
	}
}

func TestFormatClock(t *testing.T) {
	tests := []struct {
		seconds int64
		want    string
	}{
		{0, "00:00:00"},
		{59, "00:00:59"},
		{61, "00:01:01"},
		{3600, "01:00:00"},
		{86399, "23:59:59"},
		{360000, "100:00:00"},
		{-4, "00:00:00"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatClock(tt.seconds))
	}
}

func TestFormatHelpers(t *testing.T) {
	s := Compute(50, 100, 10*time.Second)
	assert.Equal(t, "5.00 img/s", s.FormatThroughput("img"))
	assert.Equal(t, "00:00:10", s.FormatETA("..."))
	assert.Equal(t, "01:01:01", FormatDuration(time.Hour+time.Minute+time.Second+400*time.Millisecond))
}
