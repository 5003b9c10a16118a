// Package operation implements the lifecycle of a remote operation: submit,
// then either poll a server-side job or await a single response, while
// keeping derived metrics and the view's notification slot current.
//
// One generic Controller drives all three features; Training, Search and
// Upload supply the request shape, the optional poller and the result
// normaliser.
package operation

import (
	"errors"
	"time"

	"github.com/embedlink/embedlink/internal/api"
	"github.com/embedlink/embedlink/internal/metrics"
)

// State is the lifecycle position of an operation.
type State int

const (
	Idle State = iota
	Submitting
	Queued
	Active
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Submitting:
		return "submitting"
	case Queued:
		return "queued"
	case Active:
		return "active"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is Succeeded or Failed.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed
}

// InFlight reports whether a submission or job is outstanding.
func (s State) InFlight() bool {
	return s == Submitting || s == Queued || s == Active
}

var (
	// ErrBusy is returned when an operation is already in flight.
	ErrBusy = errors.New("operation already in progress")

	// ErrClosed is returned after the owning view has been torn down.
	ErrClosed = errors.New("operation closed")

	// ErrRemoteFailed marks a job the service itself reported as failed.
	ErrRemoteFailed = errors.New("remote operation failed")
)

// Progress is the processed/total counter pair reported by a job, plus the
// service's own percentage and status detail.
type Progress struct {
	Processed int     `json:"processed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
	Message   string  `json:"message,omitempty"`
}

// ErrorDetail is the failure cause of a Failed operation.
type ErrorDetail struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"` // raw transport detail, bounded
	StatusCode int    `json:"status_code,omitempty"`
	Err        error  `json:"-"`
}

// RemoteError is a failure the service reported for a job.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// Is matches ErrRemoteFailed.
func (e *RemoteError) Is(target error) bool { return target == ErrRemoteFailed }

func newErrorDetail(err error) *ErrorDetail {
	d := &ErrorDetail{Kind: api.KindName(err), Message: err.Error(), Err: err}
	if errors.Is(err, ErrRemoteFailed) {
		d.Kind = "remote"
	}
	if apiErr, ok := api.AsError(err); ok {
		d.Message = apiErr.Message
		d.Detail = apiErr.Detail
		d.StatusCode = apiErr.StatusCode
	}
	return d
}

// Snapshot is an immutable view of an operation. Accessors return ok=false
// for fields that are not live in the current state.
type Snapshot[R any] struct {
	state         State
	correlationID string
	progress      Progress
	hasProgress   bool
	startedAt     time.Time
	result        R
	hasResult     bool
	errDetail     *ErrorDetail
	metrics       metrics.Snapshot
	hasMetrics    bool
}

// State returns the lifecycle state.
func (s Snapshot[R]) State() State {
	return s.state
}

// CorrelationID returns the identifier assigned by the service once the
// operation was accepted.
func (s Snapshot[R]) CorrelationID() (string, bool) {
	if s.state == Idle || s.state == Submitting || s.correlationID == "" {
		return "", false
	}
	return s.correlationID, true
}

// Progress is live in Queued, Active and the terminal states.
func (s Snapshot[R]) Progress() (Progress, bool) {
	if !s.hasProgress || s.state == Idle || s.state == Submitting {
		return Progress{}, false
	}
	return s.progress, true
}

// StartedAt is the first time the operation was observed Active.
func (s Snapshot[R]) StartedAt() (time.Time, bool) {
	if s.startedAt.IsZero() || s.state == Idle {
		return time.Time{}, false
	}
	return s.startedAt, true
}

// Result is live only in Succeeded.
func (s Snapshot[R]) Result() (R, bool) {
	if s.state != Succeeded || !s.hasResult {
		var zero R
		return zero, false
	}
	return s.result, true
}

// Error is live only in Failed.
func (s Snapshot[R]) Error() (ErrorDetail, bool) {
	if s.state != Failed || s.errDetail == nil {
		return ErrorDetail{}, false
	}
	return *s.errDetail, true
}

// Metrics is live once the metrics clock has ticked while Active, and keeps
// its last value in the terminal states.
func (s Snapshot[R]) Metrics() (metrics.Snapshot, bool) {
	if !s.hasMetrics || !(s.state == Active || s.state.Terminal()) {
		return metrics.Snapshot{}, false
	}
	return s.metrics, true
}
