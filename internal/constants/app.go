// Package constants holds the tunables shared by the controllers, the HTTP
// stack and the presentation layer.
package constants

import (
	"time"
)

// Remote operation timing
const (
	// TrainingPollInterval - how often a queued/running training job is polled (2 seconds)
	TrainingPollInterval = 2 * time.Second

	// MetricsTickInterval - how often elapsed time and throughput are recomputed (1 second)
	MetricsTickInterval = 1 * time.Second

	// NotificationLifetime - how long a notification stays visible before auto-dismiss (3 seconds)
	NotificationLifetime = 3 * time.Second

	// MaxConsecutivePollFailures - failed status requests tolerated before the job is marked failed
	// 0 disables the limit and the loop keeps polling, as the browser front-end did
	MaxConsecutivePollFailures = 5

	// PollRequestTimeout - upper bound for a single status request so a stalled
	// request cannot freeze the poll loop (30 seconds)
	PollRequestTimeout = 30 * time.Second
)

// Error display limits
const (
	// ServerErrorPrefixLen - maximum bytes of a server error body kept for display
	ServerErrorPrefixLen = 100
)

// Remote collaborator endpoints (relative to the configured base URL)
const (
	PathStartTraining  = "/start_train"
	PathTrainingStatus = "/train_status/"
	PathCompareImage   = "/compare_image"
	PathUpload         = "/upload"
	PathImage          = "/image"

	// MultipartFileField - form field name used for search and upload bodies
	MultipartFileField = "file"
)

// AllowedImageExtensions - lowercase extensions accepted by intake and by the
// console file picker. Order is the display order used in messages.
var AllowedImageExtensions = []string{"png", "jpg", "jpeg", "bmp", "webp"}

// Preview thumbnails
const (
	// PreviewMaxWidth / PreviewMaxHeight - bounding box for generated previews
	PreviewMaxWidth  uint = 200
	PreviewMaxHeight uint = 200

	// PreviewJPEGQuality - JPEG quality used when encoding previews
	PreviewJPEGQuality = 75
)

// HTTP Client Timeouts
const (
	// HTTPIdleConnTimeout - how long to keep idle connections open (90 seconds)
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for TLS handshake (60 seconds)
	HTTPTLSHandshakeTimeout = 60 * time.Second

	// HTTPExpectContinueTimeout - timeout for 100-continue response (1 second)
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPDialTimeout - timeout for establishing connection (30 seconds)
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - keep-alive period for dialer (30 seconds)
	HTTPDialKeepAlive = 30 * time.Second

	// ProxyWarmupTimeout - timeout for the optional proxy warmup request (15 seconds)
	ProxyWarmupTimeout = 15 * time.Second
)

// Request pacing
const (
	// DefaultRateLimitPerSec - sustained requests per second sent to the remote service
	DefaultRateLimitPerSec = 10.0

	// DefaultRateLimitBurst - requests allowed in a burst before pacing kicks in
	DefaultRateLimitBurst = 20.0

	// RateLimitWarningThreshold - delay threshold to log a pacing warning (2 seconds)
	RateLimitWarningThreshold = 2 * time.Second

	// RateLimitWarningInterval - minimum interval between pacing warnings (10 seconds)
	RateLimitWarningInterval = 10 * time.Second
)

// Event bus sizing
const (
	// EventBusDefaultBuffer - per-subscriber channel buffer
	EventBusDefaultBuffer = 256

	// EventBusMaxBuffer - cap on the per-subscriber buffer
	EventBusMaxBuffer = 4096
)

// Console
const (
	// DefaultConsoleAddr - listen address of the local control console
	DefaultConsoleAddr = "127.0.0.1:8765"

	// ConsoleMaxUploadMemory - multipart memory limit for files posted to the console (64 MB)
	ConsoleMaxUploadMemory = 64 << 20

	// ConsoleWriteWait - time allowed to write a websocket frame
	ConsoleWriteWait = 10 * time.Second

	// ConsolePingPeriod - websocket keepalive ping period
	ConsolePingPeriod = 30 * time.Second
)
