package console

import (
	"time"

	"github.com/embedlink/embedlink/internal/metrics"
	"github.com/embedlink/embedlink/internal/notify"
	"github.com/embedlink/embedlink/internal/operation"
)

// OperationView is the JSON form of an operation snapshot. Fields that are
// not live in the current state are omitted.
type OperationView struct {
	State         string                 `json:"state"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Progress      *operation.Progress    `json:"progress,omitempty"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	Metrics       *MetricsView           `json:"metrics,omitempty"`
	Result        any                    `json:"result,omitempty"`
	Error         *operation.ErrorDetail `json:"error,omitempty"`
	StatusText    string                 `json:"status_text,omitempty"`
	Notification  *notify.Notification   `json:"notification,omitempty"`
}

// MetricsView is the display form of derived metrics.
type MetricsView struct {
	Elapsed    string  `json:"elapsed"`
	Throughput float64 `json:"throughput"`
	ETA        string  `json:"eta"`
	ETAKnown   bool    `json:"eta_known"`
}

func viewOf[R any](snap operation.Snapshot[R], n notify.Notification, hasNotification bool) OperationView {
	v := OperationView{State: snap.State().String()}
	if id, ok := snap.CorrelationID(); ok {
		v.CorrelationID = id
	}
	if p, ok := snap.Progress(); ok {
		v.Progress = &p
	}
	if t, ok := snap.StartedAt(); ok {
		v.StartedAt = &t
	}
	if m, ok := snap.Metrics(); ok {
		v.Metrics = metricsView(m)
	}
	if r, ok := snap.Result(); ok {
		v.Result = r
	}
	if d, ok := snap.Error(); ok {
		v.Error = &d
	}
	if hasNotification {
		v.Notification = &n
	}
	return v
}

func metricsView(m metrics.Snapshot) *MetricsView {
	return &MetricsView{
		Elapsed:    metrics.FormatDuration(m.Elapsed),
		Throughput: m.Throughput,
		ETA:        m.FormatETA(""),
		ETAKnown:   m.ETAKnown,
	}
}
