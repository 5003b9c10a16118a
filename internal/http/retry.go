package http

import (
	"context"
	"math/rand"
	nethttp "net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/embedlink/embedlink/internal/logging"
)

const (
	retryWaitMin = 200 * time.Millisecond
	retryWaitMax = 15 * time.Second
)

// NewRetryingClient wraps base with retryablehttp. Only use the result for
// idempotent requests; submissions go through base directly so a user
// action is never replayed behind the user's back.
//
// retryMax <= 0 returns base unchanged.
func NewRetryingClient(base *nethttp.Client, retryMax int, logger *logging.Logger) *nethttp.Client {
	if retryMax <= 0 {
		return base
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = base
	rc.RetryMax = retryMax
	rc.RetryWaitMin = retryWaitMin
	rc.RetryWaitMax = retryWaitMax
	rc.CheckRetry = CheckRetry
	rc.Backoff = Backoff
	rc.Logger = logging.LeveledAdapter{L: logger.Named("retry")}
	// Hand the final response back instead of an opaque "giving up" error so
	// callers can read the status and body.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client := rc.StandardClient()
	client.Timeout = base.Timeout
	return client
}

// CheckRetry retries connection errors, 429 and 5xx except 501. A cancelled
// context stops immediately.
func CheckRetry(ctx context.Context, resp *nethttp.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// Backoff honours Retry-After on 429/503 and otherwise uses exponential
// backoff with full jitter.
func Backoff(min, max time.Duration, attempt int, resp *nethttp.Response) time.Duration {
	if resp != nil && (resp.StatusCode == nethttp.StatusTooManyRequests || resp.StatusCode == nethttp.StatusServiceUnavailable) {
		if resp.Header.Get("Retry-After") != "" {
			return retryablehttp.DefaultBackoff(min, max, attempt, resp)
		}
	}
	return CalculateBackoff(attempt+1, min, max)
}

// CalculateBackoff returns random(0, min(maxDelay, initialDelay * 2^attempt)).
// Full jitter keeps many clients from retrying in lockstep.
func CalculateBackoff(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	if attempt <= 0 || initialDelay <= 0 {
		return 0
	}

	base := maxDelay
	if attempt < 32 {
		if d := time.Duration(1<<uint(attempt)) * initialDelay; d > 0 && d < maxDelay {
			base = d
		}
	}
	if base <= 0 {
		return 0
	}

	return time.Duration(rand.Int63n(int64(base)))
}
