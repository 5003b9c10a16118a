// Package notify implements the per-view notification slot: at most one
// transient message, replaced (never queued) by the next one, dismissed
// automatically after a fixed lifetime.
package notify

import (
	"sync"
	"time"

	"github.com/embedlink/embedlink/internal/constants"
	"github.com/embedlink/embedlink/internal/events"
)

// Severity classifies a notification for presentation only.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Notification is the content of the slot.
type Notification struct {
	Text      string    `json:"text"`
	Severity  Severity  `json:"severity"`
	CreatedAt time.Time `json:"created_at"`
}

// Timer is the part of *time.Timer the center needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it through
// RealAfterFunc; tests substitute a manual scheduler.
type AfterFunc func(d time.Duration, f func()) Timer

// RealAfterFunc adapts time.AfterFunc.
func RealAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Notifier is what controllers depend on.
type Notifier interface {
	Show(text string, severity Severity)
	Clear()
}

// Center owns one notification slot and its dismissal timer.
type Center struct {
	view     string
	lifetime time.Duration
	after    AfterFunc
	now      func() time.Time
	bus      *events.EventBus

	mu      sync.Mutex
	current *Notification
	timer   Timer
	seq     uint64 // bumped on every show/clear; stale timers compare against it
	closed  bool
}

// Option configures a Center.
type Option func(*Center)

// WithLifetime overrides the auto-dismiss lifetime.
func WithLifetime(d time.Duration) Option {
	return func(c *Center) {
		if d > 0 {
			c.lifetime = d
		}
	}
}

// WithEventBus publishes every slot change on bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(c *Center) { c.bus = bus }
}

// WithScheduler replaces the timer source and clock.
func WithScheduler(after AfterFunc, now func() time.Time) Option {
	return func(c *Center) {
		if after != nil {
			c.after = after
		}
		if now != nil {
			c.now = now
		}
	}
}

// NewCenter creates an empty notification slot for view.
func NewCenter(view string, opts ...Option) *Center {
	c := &Center{
		view:     view,
		lifetime: constants.NotificationLifetime,
		after:    RealAfterFunc,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Show replaces the current notification and restarts the dismissal timer.
func (c *Center) Show(text string, severity Severity) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.stopTimerLocked()
	c.seq++
	seq := c.seq
	c.current = &Notification{Text: text, Severity: severity, CreatedAt: c.now()}
	c.timer = c.after(c.lifetime, func() { c.expire(seq) })
	c.mu.Unlock()

	c.bus.PublishNotification(events.NotificationEvent{
		View:     c.view,
		Text:     text,
		Severity: string(severity),
	})
}

// Clear cancels the timer and empties the slot immediately.
func (c *Center) Clear() {
	c.mu.Lock()
	if c.closed || c.current == nil {
		c.stopTimerLocked()
		c.mu.Unlock()
		return
	}
	c.stopTimerLocked()
	c.seq++
	c.current = nil
	c.mu.Unlock()

	c.bus.PublishNotification(events.NotificationEvent{View: c.view, Cleared: true})
}

// Current returns the live notification, if any.
func (c *Center) Current() (Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Notification{}, false
	}
	return *c.current, true
}

// Close stops the timer and drops the notification without publishing.
// Show and Clear are no-ops afterwards.
func (c *Center) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
	c.seq++
	c.current = nil
	c.closed = true
}

func (c *Center) expire(seq uint64) {
	c.mu.Lock()
	if c.closed || seq != c.seq || c.current == nil {
		// replaced or cleared since this timer was armed
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.timer = nil
	c.mu.Unlock()

	c.bus.PublishNotification(events.NotificationEvent{View: c.view, Cleared: true, Expired: true})
}

func (c *Center) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
