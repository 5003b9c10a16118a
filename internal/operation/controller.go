package operation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/embedlink/embedlink/internal/api"
	"github.com/embedlink/embedlink/internal/config"
	"github.com/embedlink/embedlink/internal/constants"
	"github.com/embedlink/embedlink/internal/events"
	"github.com/embedlink/embedlink/internal/logging"
	"github.com/embedlink/embedlink/internal/metrics"
	"github.com/embedlink/embedlink/internal/notify"
)

// SubmitFunc issues the initiating request with the payload captured by
// Strategy.Prepare.
type SubmitFunc[R any] func(ctx context.Context) (Outcome[R], error)

// Outcome is the answer to a submission. Polled strategies return a
// CorrelationID; single-shot strategies return the final Result.
type Outcome[R any] struct {
	CorrelationID string
	Result        R
}

// Observation is one poll response mapped to local terms.
type Observation[R any] struct {
	State    State // Queued, Active, Succeeded or Failed
	Progress Progress
	Result   R     // read when State is Succeeded
	Err      error // read when State is Failed
}

// Transition is handed to strategy hooks. From equals To for progress-only
// updates and for submissions rejected by local validation.
type Transition[R any] struct {
	From     State
	To       State
	Snapshot Snapshot[R]
	Err      error
}

// Strategy specialises the Controller.
type Strategy[R any] struct {
	// View names the owning view in events and logs.
	View string

	// Prepare validates local input and captures the payload. It runs with
	// the controller lock held, so the captured payload and the move to an
	// in-flight state are one step; strategies that guard their input must
	// lock it against edits before returning. A validation error leaves the
	// state untouched; any other error fails the operation without
	// contacting the service. It must not call back into the controller.
	Prepare func() (SubmitFunc[R], error)

	// Poll fetches job status. Nil makes the strategy single-shot.
	Poll func(ctx context.Context, correlationID string) (Observation[R], error)

	// OnTransition runs with the controller lock held, in transition order.
	// It must not call back into the controller.
	OnTransition func(Transition[R])

	// Announce maps a transition to a notification.
	Announce func(Transition[R]) (text string, severity notify.Severity, ok bool)
}

// Options carries the controller's collaborators and timing.
type Options struct {
	Notifier             notify.Notifier // defaults to a notify.Center for the view
	Bus                  *events.EventBus
	Logger               *logging.Logger
	PollInterval         time.Duration
	MetricsInterval      time.Duration
	NotificationLifetime time.Duration
	MaxPollFailures      int // consecutive failed polls before giving up; 0 = never
	Now                  func() time.Time
}

// OptionsFromConfig returns Options with the timing from cfg.
func OptionsFromConfig(cfg *config.Config, bus *events.EventBus, logger *logging.Logger) Options {
	return Options{
		Bus:                  bus,
		Logger:               logger,
		PollInterval:         cfg.PollInterval,
		MetricsInterval:      cfg.MetricsInterval,
		NotificationLifetime: cfg.NotificationLifetime,
		MaxPollFailures:      cfg.MaxPollFailures,
	}
}

// Controller runs one remote operation at a time for a view.
//
// The mutex guards state only and is never held across a network call.
// Every asynchronous activity captures the generation it was started for;
// Reset, a new Submit and Close bump the generation, so late results are
// dropped on arrival.
type Controller[R any] struct {
	strategy        Strategy[R]
	notifier        notify.Notifier
	bus             *events.EventBus
	logger          *logging.Logger
	pollInterval    time.Duration
	metricsInterval time.Duration
	maxPollFailures int
	now             func() time.Time

	mu      sync.Mutex
	gen     uint64
	snap    Snapshot[R]
	cancel  context.CancelFunc
	changed chan struct{}
	closed  bool

	wg sync.WaitGroup
}

// NewController creates an Idle controller.
func NewController[R any](strategy Strategy[R], opts Options) *Controller[R] {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = constants.TrainingPollInterval
	}
	if opts.MetricsInterval <= 0 {
		opts.MetricsInterval = constants.MetricsTickInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewCenter(strategy.View,
			notify.WithEventBus(opts.Bus),
			notify.WithLifetime(opts.NotificationLifetime),
		)
	}

	return &Controller[R]{
		strategy:        strategy,
		notifier:        opts.Notifier,
		bus:             opts.Bus,
		logger:          opts.Logger.Named(strategy.View),
		pollInterval:    opts.PollInterval,
		metricsInterval: opts.MetricsInterval,
		maxPollFailures: opts.MaxPollFailures,
		now:             opts.Now,
		changed:         make(chan struct{}),
	}
}

// View returns the view name.
func (c *Controller[R]) View() string {
	return c.strategy.View
}

// Notifier returns the view's notification slot.
func (c *Controller[R]) Notifier() notify.Notifier {
	return c.notifier
}

// Notification returns the live notification when the notifier exposes it.
func (c *Controller[R]) Notification() (notify.Notification, bool) {
	if cur, ok := c.notifier.(interface {
		Current() (notify.Notification, bool)
	}); ok {
		return cur.Current()
	}
	return notify.Notification{}, false
}

// Snapshot returns the current state.
func (c *Controller[R]) Snapshot() Snapshot[R] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Submit starts the operation and returns once it is under way. Local
// validation and configuration errors are returned directly; everything
// after that is observed through Snapshot, Wait or the event bus.
//
// Submitting from a terminal state starts over. Submitting while an
// operation is in flight returns ErrBusy.
func (c *Controller[R]) Submit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.acceptingLocked(); err != nil {
		return err
	}

	submit, prepErr := c.strategy.Prepare()

	from := c.snap.state
	if prepErr != nil {
		if errors.Is(prepErr, api.ErrValidation) {
			c.logger.Debug().Err(prepErr).Msg("Submission rejected")
			c.announceLocked(Transition[R]{From: from, To: from, Snapshot: c.snap, Err: prepErr})
			return prepErr
		}
		c.gen++
		c.stopLocked()
		c.snap = Snapshot[R]{state: Failed, errDetail: newErrorDetail(prepErr)}
		c.transitionLocked(from, prepErr)
		return prepErr
	}

	c.gen++
	c.stopLocked()
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.snap = Snapshot[R]{state: Submitting}
	if c.strategy.Poll == nil {
		// Nothing to queue for; the request itself is the active work.
		c.snap.state = Active
		c.snap.startedAt = c.now()
	}
	c.transitionLocked(from, nil)

	c.wg.Add(1)
	go c.run(ctx, c.gen, submit)
	return nil
}

// Reset returns to Idle, cancelling any in-flight request and stopping all
// timers. Late responses are discarded.
func (c *Controller[R]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.gen++
	c.stopLocked()
	from := c.snap.state
	c.snap = Snapshot[R]{}
	c.notifier.Clear()
	c.transitionLocked(from, nil)
}

// Close tears the controller down: in-flight work is cancelled, timers are
// stopped and no callback mutates state afterwards. Close waits for the
// controller's goroutines to exit.
func (c *Controller[R]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.stopLocked()
	c.closed = true
	c.snap = Snapshot[R]{}
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()

	if closer, ok := c.notifier.(interface{ Close() }); ok {
		closer.Close()
	}
	c.wg.Wait()
}

// Changed returns a channel that is closed at the next state change.
func (c *Controller[R]) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

// Wait blocks until the operation is no longer in flight and returns the
// resulting snapshot.
func (c *Controller[R]) Wait(ctx context.Context) (Snapshot[R], error) {
	for {
		c.mu.Lock()
		snap, changed, closed := c.snap, c.changed, c.closed
		c.mu.Unlock()

		if closed {
			return snap, ErrClosed
		}
		if !snap.state.InFlight() {
			return snap, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

func (c *Controller[R]) acceptingLocked() error {
	if c.closed {
		return ErrClosed
	}
	if c.snap.state.InFlight() {
		return ErrBusy
	}
	return nil
}

func (c *Controller[R]) currentLocked(gen uint64) bool {
	return !c.closed && c.gen == gen
}

// stopLocked cancels the in-flight request and both tickers of the current
// generation.
func (c *Controller[R]) stopLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller[R]) run(ctx context.Context, gen uint64, submit SubmitFunc[R]) {
	defer c.wg.Done()

	out, err := submit(ctx)

	c.mu.Lock()
	if !c.currentLocked(gen) {
		c.mu.Unlock()
		c.logger.Debug().Msg("Discarding stale submission response")
		return
	}

	if err != nil {
		c.failLocked(err)
		c.mu.Unlock()
		return
	}

	from := c.snap.state
	if c.strategy.Poll == nil {
		c.snap.state = Succeeded
		c.snap.result = out.Result
		c.snap.hasResult = true
		c.transitionLocked(from, nil)
		c.stopLocked()
		c.mu.Unlock()
		return
	}

	if out.CorrelationID == "" {
		c.failLocked(api.ProtocolError(c.strategy.View, "identifier missing"))
		c.mu.Unlock()
		return
	}

	c.snap.state = Queued
	c.snap.correlationID = out.CorrelationID
	c.snap.hasProgress = true
	c.transitionLocked(from, nil)
	c.mu.Unlock()

	c.pollLoop(ctx, gen, out.CorrelationID)
}

// pollLoop polls sequentially, so responses apply in the order they were
// issued. A failed request is logged and retried on the next tick until
// maxPollFailures consecutive failures.
func (c *Controller[R]) pollLoop(ctx context.Context, gen uint64, correlationID string) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		obs, err := c.strategy.Poll(ctx, correlationID)

		c.mu.Lock()
		if !c.currentLocked(gen) {
			c.mu.Unlock()
			c.logger.Debug().Str("job_id", correlationID).Msg("Discarding stale status response")
			return
		}

		if err != nil {
			failures++
			c.logger.Warn().Err(err).Str("job_id", correlationID).Int("failures", failures).Msg("Status request failed")
			if c.maxPollFailures > 0 && failures >= c.maxPollFailures {
				c.failLocked(err)
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
			continue
		}
		failures = 0

		done := c.observeLocked(ctx, gen, obs)
		c.mu.Unlock()
		if done {
			return
		}
	}
}

// observeLocked applies one poll observation and reports whether the
// operation reached a terminal state.
func (c *Controller[R]) observeLocked(ctx context.Context, gen uint64, obs Observation[R]) bool {
	from := c.snap.state
	c.snap.progress = obs.Progress

	switch obs.State {
	case Queued, Active:
		c.snap.state = obs.State
		if obs.State == Active && c.snap.startedAt.IsZero() {
			c.snap.startedAt = c.now()
			c.updateMetricsLocked()
			c.wg.Add(1)
			go c.metricsLoop(ctx, gen)
		}
		c.transitionLocked(from, nil)
		return false

	case Succeeded:
		if !c.snap.startedAt.IsZero() {
			c.updateMetricsLocked()
		}
		c.snap.state = Succeeded
		c.snap.result = obs.Result
		c.snap.hasResult = true
		c.transitionLocked(from, nil)
		c.stopLocked()
		return true

	default:
		err := obs.Err
		if err == nil {
			err = ErrRemoteFailed
		}
		c.failLocked(err)
		return true
	}
}

func (c *Controller[R]) metricsLoop(ctx context.Context, gen uint64) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if !c.currentLocked(gen) || c.snap.state.Terminal() {
			c.mu.Unlock()
			return
		}
		if c.snap.state == Active {
			c.updateMetricsLocked()
		}
		c.mu.Unlock()
	}
}

// updateMetricsLocked recomputes the derived metrics from startedAt. The
// elapsed time never goes negative.
func (c *Controller[R]) updateMetricsLocked() {
	elapsed := c.now().Sub(c.snap.startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	m := metrics.Compute(c.snap.progress.Processed, c.snap.progress.Total, elapsed)
	c.snap.metrics = m
	c.snap.hasMetrics = true

	c.bus.PublishMetrics(events.MetricsEvent{
		View:       c.strategy.View,
		Processed:  m.Processed,
		Total:      m.Total,
		Elapsed:    m.Elapsed,
		Throughput: m.Throughput,
		ETA:        m.ETA,
		ETAKnown:   m.ETAKnown,
	})
}

func (c *Controller[R]) failLocked(err error) {
	from := c.snap.state
	c.snap.state = Failed
	c.snap.errDetail = newErrorDetail(err)
	c.logger.Warn().Err(err).Str("kind", c.snap.errDetail.Kind).Msg("Operation failed")
	c.transitionLocked(from, err)
	c.stopLocked()
}

// transitionLocked runs the strategy hooks, publishes the change and wakes
// waiters. Everything happens under the lock so observers see transitions
// in order and a reset can never be overtaken by a stale notification.
func (c *Controller[R]) transitionLocked(from State, err error) {
	tr := Transition[R]{From: from, To: c.snap.state, Snapshot: c.snap, Err: err}

	if c.strategy.OnTransition != nil {
		c.strategy.OnTransition(tr)
	}
	if tr.To != Idle {
		c.announceLocked(tr)
	}

	ev := events.StateChangeEvent{
		View:          c.strategy.View,
		OldState:      from.String(),
		NewState:      tr.To.String(),
		CorrelationID: c.snap.correlationID,
		Processed:     c.snap.progress.Processed,
		Total:         c.snap.progress.Total,
		Message:       c.snap.progress.Message,
	}
	if c.snap.errDetail != nil {
		ev.ErrorMessage = c.snap.errDetail.Message
	}
	c.bus.PublishStateChange(ev)

	if from != tr.To {
		c.logger.Debug().Str("from", from.String()).Str("to", tr.To.String()).Msg("State change")
	}

	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Controller[R]) announceLocked(tr Transition[R]) {
	if c.strategy.Announce == nil {
		return
	}
	if text, severity, ok := c.strategy.Announce(tr); ok {
		c.notifier.Show(text, severity)
	}
}
