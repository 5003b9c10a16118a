package operation

import (
	"context"
	"fmt"
	"strings"

	"github.com/embedlink/embedlink/internal/api"
	"github.com/embedlink/embedlink/internal/notify"
)

// TrainingAPI is the part of the service client the training view uses.
type TrainingAPI interface {
	Configured() bool
	StartTraining(ctx context.Context) (string, error)
	GetTrainingStatus(ctx context.Context, jobID string) (*api.TrainingStatus, error)
}

// TrainingResult summarises a finished training job.
type TrainingResult struct {
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Message   string `json:"message,omitempty"`
}

// Training is the polled controller for training jobs.
type Training struct {
	*Controller[TrainingResult]
}

// NewTraining creates the training controller.
func NewTraining(client TrainingAPI, opts Options) *Training {
	strategy := Strategy[TrainingResult]{
		View: "training",
		Prepare: func() (SubmitFunc[TrainingResult], error) {
			if !client.Configured() {
				return nil, api.ConfigurationError("start training", "API base URL is missing")
			}
			return func(ctx context.Context) (Outcome[TrainingResult], error) {
				id, err := client.StartTraining(ctx)
				return Outcome[TrainingResult]{CorrelationID: id}, err
			}, nil
		},
		Poll: func(ctx context.Context, jobID string) (Observation[TrainingResult], error) {
			status, err := client.GetTrainingStatus(ctx, jobID)
			if err != nil {
				return Observation[TrainingResult]{}, err
			}
			return ObserveTraining(status), nil
		},
		Announce: announceTraining,
	}
	return &Training{Controller: NewController(strategy, opts)}
}

// ObserveTraining maps a status response to local terms. A missing or
// unrecognised status fails the job rather than leaving it ambiguous.
func ObserveTraining(status *api.TrainingStatus) Observation[TrainingResult] {
	progress := Progress{
		Processed: max(status.Processed, 0),
		Total:     max(status.Total, 0),
		Percent:   status.Progress,
		Message:   status.Message,
	}
	obs := Observation[TrainingResult]{Progress: progress}

	switch strings.ToLower(strings.TrimSpace(status.Status)) {
	case "queued":
		obs.State = Queued
	case "running":
		obs.State = Active
	case "done":
		obs.State = Succeeded
		obs.Result = TrainingResult{Processed: progress.Processed, Total: progress.Total, Message: status.Message}
	case "error":
		obs.State = Failed
		msg := status.Message
		if msg == "" {
			msg = "training failed"
		}
		obs.Err = &RemoteError{Message: msg}
	default:
		obs.State = Failed
		obs.Err = api.ProtocolError("training status", "server returned no/unknown status")
	}
	return obs
}

func announceTraining(tr Transition[TrainingResult]) (string, notify.Severity, bool) {
	switch tr.To {
	case Succeeded:
		if tr.From == Succeeded {
			return "", "", false
		}
		return TrainingStatusText(tr.Snapshot), notify.SeveritySuccess, true
	case Failed:
		if tr.From == Failed {
			return "", "", false
		}
		return TrainingStatusText(tr.Snapshot), notify.SeverityError, true
	}
	return "", "", false
}

// TrainingStatusText is the one-line status shown for a training snapshot.
func TrainingStatusText(s Snapshot[TrainingResult]) string {
	switch s.State() {
	case Submitting:
		return "Starting training job..."
	case Queued:
		return "Job is queued and waiting to start."
	case Active:
		p, _ := s.Progress()
		return fmt.Sprintf("Processing: %d/%d images", p.Processed, p.Total)
	case Succeeded:
		r, _ := s.Result()
		return fmt.Sprintf("Training complete! Processed %d images.", r.Processed)
	case Failed:
		d, _ := s.Error()
		return "Error: " + d.Message
	default:
		return ""
	}
}
