package ratelimit

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedlink/embedlink/internal/logging"
)

func TestBucketStartsFullAndEmpties(t *testing.T) {
	rl := NewRateLimiter(1.0, 5.0)
	assert.InDelta(t, 5.0, rl.GetCurrentTokens(), 0.1)

	for i := 0; i < 5; i++ {
		require.True(t, rl.TryAcquire(), "attempt %d", i+1)
	}
	assert.False(t, rl.TryAcquire(), "bucket should be empty after the burst")
}

func TestTokensRefillOverTime(t *testing.T) {
	rl := NewRateLimiter(20.0, 2.0)
	rl.Drain()
	require.False(t, rl.TryAcquire())

	time.Sleep(120 * time.Millisecond)
	assert.True(t, rl.TryAcquire())
	assert.LessOrEqual(t, rl.GetCurrentTokens(), 2.0, "refill is capped at the burst size")
}

func TestWaitBlocksUntilTokenAvailable(t *testing.T) {
	rl := NewRateLimiter(10.0, 1.0) // one token every 100ms
	require.True(t, rl.TryAcquire())

	start := time.Now()
	require.NoError(t, rl.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	rl := NewRateLimiter(0.1, 1.0)
	rl.Drain()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rl.Wait(ctx), context.DeadlineExceeded)
}

func TestCooldown(t *testing.T) {
	tests := []struct {
		name    string
		first   time.Duration
		second  time.Duration
		atLeast time.Duration
		atMost  time.Duration
	}{
		{"single", time.Second, 0, 900 * time.Millisecond, time.Second},
		{"shorter does not cut", 2 * time.Second, 100 * time.Millisecond, 1900 * time.Millisecond, 2 * time.Second},
		{"longer extends", 100 * time.Millisecond, 2 * time.Second, 1900 * time.Millisecond, 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := NewRateLimiter(100.0, 10.0)
			rl.SetCooldown(tt.first)
			rl.SetCooldown(tt.second)

			remaining := rl.CooldownRemaining()
			assert.GreaterOrEqual(t, remaining, tt.atLeast)
			assert.LessOrEqual(t, remaining, tt.atMost)
			assert.False(t, rl.TryAcquire(), "no token during cooldown even with a full bucket")
			assert.GreaterOrEqual(t, rl.TimeUntilNextToken(), tt.atLeast)
		})
	}
}

func TestNoCooldownByDefault(t *testing.T) {
	rl := NewRateLimiter(1.0, 1.0)
	assert.Zero(t, rl.CooldownRemaining())
	rl.SetCooldown(-time.Second)
	assert.Zero(t, rl.CooldownRemaining())
}

func TestLongWaitIsLogged(t *testing.T) {
	var buf bytes.Buffer
	rl := NewRateLimiter(10.0, 1.0)
	rl.SetLogger(logging.NewLogger(&buf))
	rl.SetCooldown(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.Error(t, rl.Wait(ctx))
	assert.Contains(t, buf.String(), "Rate limited, waiting for capacity")
}

func TestConcurrentDrainAndWait(t *testing.T) {
	rl := NewRateLimiter(200.0, 5.0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, rl.Wait(ctx))
		}()
	}
	for i := 0; i < 5; i++ {
		rl.Drain()
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()
}
