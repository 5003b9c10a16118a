package operation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedlink/embedlink/internal/api"
	"github.com/embedlink/embedlink/internal/events"
	"github.com/embedlink/embedlink/internal/notify"
	"github.com/embedlink/embedlink/internal/operation"
	"github.com/embedlink/embedlink/internal/testutil"
)

type trainingSnap = operation.Snapshot[operation.TrainingResult]

func TestTrainingRunsToCompletion(t *testing.T) {
	opts, center := testOptions(t)
	bus := events.NewEventBus(64)
	defer bus.Close()
	opts.Bus = bus
	changes := bus.Subscribe(events.EventStateChange)

	fake := newFakeTraining("job-1",
		status("queued", 0, 4),
		status("running", 1, 4),
		status("running", 3, 4),
		status("done", 4, 4),
	)
	tr := operation.NewTraining(fake, opts)
	defer tr.Close()

	require.NoError(t, tr.Submit())
	snap := waitDone[operation.TrainingResult](t, tr)

	require.Equal(t, operation.Succeeded, snap.State())
	id, ok := snap.CorrelationID()
	require.True(t, ok)
	assert.Equal(t, "job-1", id)

	res, ok := snap.Result()
	require.True(t, ok)
	assert.Equal(t, 4, res.Processed)
	assert.Equal(t, 4, res.Total)

	_, ok = snap.StartedAt()
	assert.True(t, ok, "startedAt is recorded once the job is active")
	_, ok = snap.Error()
	assert.False(t, ok)

	n, ok := center.Current()
	require.True(t, ok)
	assert.Equal(t, "Training complete! Processed 4 images.", n.Text)
	assert.Equal(t, notify.SeveritySuccess, n.Severity)

	var states []string
	for len(changes) > 0 {
		ev := (<-changes).(*events.StateChangeEvent)
		if ev.OldState != ev.NewState {
			states = append(states, ev.NewState)
		}
	}
	assert.Equal(t, []string{"submitting", "queued", "active", "succeeded"}, states)
}

func TestTrainingStartedAtSetOnFirstActiveOnly(t *testing.T) {
	opts, _ := testOptions(t)
	clock := testutil.NewManualClock()
	opts.Now = clock.Now

	fake := newFakeTraining("job-2", status("queued", 0, 10), status("running", 1, 10))
	fake.gate = make(chan struct{})
	tr := operation.NewTraining(fake, opts)
	defer func() {
		close(fake.gate)
		tr.Close()
	}()

	require.NoError(t, tr.Submit())
	_, ok := tr.Snapshot().StartedAt()
	assert.False(t, ok, "not started while submitting")

	fake.gate <- struct{}{} // queued
	require.Eventually(t, func() bool { return tr.Snapshot().State() == operation.Queued }, waitFor, time.Millisecond)
	_, ok = tr.Snapshot().StartedAt()
	assert.False(t, ok, "not started while queued")

	first := clock.Now()
	fake.gate <- struct{}{} // running
	require.Eventually(t, func() bool { return tr.Snapshot().State() == operation.Active }, waitFor, time.Millisecond)

	clock.Advance(5 * time.Second)
	fake.gate <- struct{}{} // still running
	require.Eventually(t, func() bool { return fake.pollCount() >= 3 }, waitFor, time.Millisecond)

	started, ok := tr.Snapshot().StartedAt()
	require.True(t, ok)
	assert.Equal(t, first, started)
}

func TestTrainingMetricsAtZeroElapsed(t *testing.T) {
	opts, _ := testOptions(t)
	clock := testutil.NewManualClock()
	opts.Now = clock.Now // never advances

	fake := newFakeTraining("job-3", status("running", 5, 10))
	tr := operation.NewTraining(fake, opts)
	defer tr.Close()

	require.NoError(t, tr.Submit())
	require.Eventually(t, func() bool {
		_, ok := tr.Snapshot().Metrics()
		return ok
	}, waitFor, time.Millisecond)

	m, _ := tr.Snapshot().Metrics()
	assert.Equal(t, time.Duration(0), m.Elapsed)
	assert.Zero(t, m.Throughput)
	assert.False(t, m.ETAKnown)
}

func TestTrainingMissingIdentifierFails(t *testing.T) {
	opts, center := testOptions(t)
	fake := newFakeTraining("", status("done", 1, 1))
	tr := operation.NewTraining(fake, opts)
	defer tr.Close()

	require.NoError(t, tr.Submit())
	snap := waitDone[operation.TrainingResult](t, tr)

	require.Equal(t, operation.Failed, snap.State())
	d, ok := snap.Error()
	require.True(t, ok)
	assert.Equal(t, "protocol", d.Kind)
	assert.Contains(t, d.Message, "identifier missing")
	assert.Zero(t, fake.pollCount())

	n, ok := center.Current()
	require.True(t, ok)
	assert.Equal(t, notify.SeverityError, n.Severity)
}

func TestTrainingStatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		reply   statusReply
		message string
		kind    string
	}{
		{"unknown status", status("paused", 0, 0), "server returned no/unknown status", "protocol"},
		{"missing status", status("", 0, 0), "server returned no/unknown status", "protocol"},
		{"remote error", statusReply{status: &api.TrainingStatus{Status: "error", Message: "disk full"}}, "disk full", "remote"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, center := testOptions(t)
			tr := operation.NewTraining(newFakeTraining("job", tt.reply), opts)
			defer tr.Close()

			require.NoError(t, tr.Submit())
			snap := waitDone[operation.TrainingResult](t, tr)

			require.Equal(t, operation.Failed, snap.State())
			d, _ := snap.Error()
			assert.Equal(t, tt.kind, d.Kind)
			assert.Equal(t, tt.message, d.Message)

			n, ok := center.Current()
			require.True(t, ok)
			assert.Equal(t, "Error: "+tt.message, n.Text)
		})
	}
}

func TestTrainingPollFailuresAreTolerated(t *testing.T) {
	opts, _ := testOptions(t)
	boom := api.TransportError("training status", errors.New("connection reset"))
	fake := newFakeTraining("job",
		statusReply{err: boom},
		statusReply{err: boom},
		status("done", 2, 2),
	)
	tr := operation.NewTraining(fake, opts)
	defer tr.Close()

	require.NoError(t, tr.Submit())
	snap := waitDone[operation.TrainingResult](t, tr)
	assert.Equal(t, operation.Succeeded, snap.State())
	assert.Equal(t, 3, fake.pollCount())
}

func TestTrainingGivesUpAfterMaxPollFailures(t *testing.T) {
	opts, _ := testOptions(t)
	opts.MaxPollFailures = 3
	fake := newFakeTraining("job", statusReply{err: api.TransportError("training status", errors.New("timeout"))})
	tr := operation.NewTraining(fake, opts)
	defer tr.Close()

	require.NoError(t, tr.Submit())
	snap := waitDone[operation.TrainingResult](t, tr)

	require.Equal(t, operation.Failed, snap.State())
	d, _ := snap.Error()
	assert.Equal(t, "transport", d.Kind)
	assert.Equal(t, 3, fake.pollCount())
}

func TestTrainingUnconfiguredFailsWithoutRequests(t *testing.T) {
	opts, center := testOptions(t)
	fake := newFakeTraining("job", status("done", 0, 0))
	fake.configured = false
	tr := operation.NewTraining(fake, opts)
	defer tr.Close()

	err := tr.Submit()
	require.ErrorIs(t, err, api.ErrConfiguration)
	assert.Equal(t, operation.Failed, tr.Snapshot().State())
	assert.Zero(t, fake.starts)

	n, ok := center.Current()
	require.True(t, ok)
	assert.Equal(t, notify.SeverityError, n.Severity)
}

func TestTrainingSubmitWhileInFlight(t *testing.T) {
	opts, _ := testOptions(t)
	fake := newFakeTraining("job", status("running", 0, 1))
	fake.gate = make(chan struct{})
	tr := operation.NewTraining(fake, opts)
	defer func() {
		close(fake.gate)
		tr.Close()
	}()

	require.NoError(t, tr.Submit())
	assert.ErrorIs(t, tr.Submit(), operation.ErrBusy)
}

func TestTrainingResetDiscardsLateResponse(t *testing.T) {
	opts, center := testOptions(t)
	fake := newFakeTraining("job", status("done", 7, 7))
	fake.gate = make(chan struct{})
	fake.entered = make(chan struct{}, 1)
	tr := operation.NewTraining(fake, opts)
	defer tr.Close()

	require.NoError(t, tr.Submit())
	select {
	case <-fake.entered:
	case <-time.After(waitFor):
		t.Fatal("status request never issued")
	}

	tr.Reset()
	assert.Equal(t, operation.Idle, tr.Snapshot().State())

	// The in-flight status call now returns "done"; nothing may change.
	close(fake.gate)
	require.Eventually(t, func() bool { return fake.pollCount() == 1 }, waitFor, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	snap := tr.Snapshot()
	assert.Equal(t, operation.Idle, snap.State())
	_, ok := snap.Result()
	assert.False(t, ok)
	_, ok = center.Current()
	assert.False(t, ok, "no notification from the discarded response")
	assert.Equal(t, 1, fake.pollCount(), "no further polling after reset")
}

func TestTrainingCloseStopsPolling(t *testing.T) {
	opts, _ := testOptions(t)
	fake := newFakeTraining("job", status("running", 1, 100))
	tr := operation.NewTraining(fake, opts)

	require.NoError(t, tr.Submit())
	require.Eventually(t, func() bool { return fake.pollCount() >= 2 }, waitFor, time.Millisecond)

	tr.Close()
	polls := fake.pollCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, polls, fake.pollCount())

	assert.ErrorIs(t, tr.Submit(), operation.ErrClosed)
	_, err := tr.Wait(context.Background())
	assert.ErrorIs(t, err, operation.ErrClosed)
}

func TestTrainingStatusText(t *testing.T) {
	obs := operation.ObserveTraining(&api.TrainingStatus{Status: "RUNNING", Processed: 3, Total: 9})
	assert.Equal(t, operation.Active, obs.State)
	assert.Equal(t, 3, obs.Progress.Processed)

	obs = operation.ObserveTraining(&api.TrainingStatus{Status: "done", Processed: -2, Total: 9})
	assert.Equal(t, operation.Succeeded, obs.State)
	assert.Equal(t, 0, obs.Result.Processed, "negative counters clamp to zero")

	var idle trainingSnap
	assert.Empty(t, operation.TrainingStatusText(idle))
}
