package operation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/embedlink/embedlink/internal/api"
	"github.com/embedlink/embedlink/internal/intake"
	"github.com/embedlink/embedlink/internal/notify"
	"github.com/embedlink/embedlink/internal/operation"
	"github.com/embedlink/embedlink/internal/testutil"
)

const waitFor = 2 * time.Second

// testOptions uses short tickers and a notification slot driven by a manual
// clock, so notifications stay visible until the test inspects them.
func testOptions(t *testing.T) (operation.Options, *notify.Center) {
	t.Helper()
	clock := testutil.NewManualClock()
	center := notify.NewCenter("test", notify.WithScheduler(clock.AfterFunc, clock.Now))
	return operation.Options{
		Notifier:        center,
		PollInterval:    5 * time.Millisecond,
		MetricsInterval: 5 * time.Millisecond,
		MaxPollFailures: 5,
	}, center
}

func waitDone[R any](t *testing.T, c interface {
	Wait(context.Context) (operation.Snapshot[R], error)
}) operation.Snapshot[R] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	snap, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return snap
}

type statusReply struct {
	status *api.TrainingStatus
	err    error
}

// fakeTraining answers StartTraining with id and then replays replies; the
// last reply repeats.
type fakeTraining struct {
	mu         sync.Mutex
	configured bool
	id         string
	startErr   error
	replies    []statusReply
	polls      int
	starts     int

	// gate, when set, blocks each status call until a value arrives,
	// regardless of the request context.
	gate    chan struct{}
	entered chan struct{}
}

func newFakeTraining(id string, replies ...statusReply) *fakeTraining {
	return &fakeTraining{configured: true, id: id, replies: replies}
}

func (f *fakeTraining) Configured() bool { return f.configured }

func (f *fakeTraining) StartTraining(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.id, f.startErr
}

func (f *fakeTraining) GetTrainingStatus(ctx context.Context, jobID string) (*api.TrainingStatus, error) {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polls
	f.polls++
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	r := f.replies[i]
	return r.status, r.err
}

func (f *fakeTraining) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func status(s string, processed, total int) statusReply {
	return statusReply{status: &api.TrainingStatus{Status: s, Processed: processed, Total: total}}
}

// countingPreviews records every release so tests can assert each handle is
// released exactly once.
type countingPreviews struct {
	mu       sync.Mutex
	next     intake.PreviewHandle
	live     map[intake.PreviewHandle]bool
	releases map[intake.PreviewHandle]int
}

func newCountingPreviews() *countingPreviews {
	return &countingPreviews{
		live:     make(map[intake.PreviewHandle]bool),
		releases: make(map[intake.PreviewHandle]int),
	}
}

func (p *countingPreviews) Create(f intake.File) intake.PreviewHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	p.live[p.next] = true
	return p.next
}

func (p *countingPreviews) Release(h intake.PreviewHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releases[h]++
	if !p.live[h] {
		return intake.ErrUnknownPreview
	}
	delete(p.live, h)
	return nil
}

func (p *countingPreviews) liveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

func (p *countingPreviews) releaseCount(h intake.PreviewHandle) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releases[h]
}

func (p *countingPreviews) maxReleases() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := 0
	for _, n := range p.releases {
		m = max(m, n)
	}
	return m
}
