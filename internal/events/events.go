// Package events is the in-process bus the controllers publish on and the
// presentation layer (CLI renderers, console websocket) subscribes to.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/embedlink/embedlink/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventStateChange  EventType = "state_change"
	EventMetrics      EventType = "metrics"
	EventNotification EventType = "notification"
	EventQueue        EventType = "queue"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType `json:"type"`
	Time      time.Time `json:"time"`
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// StateChangeEvent is published on every operation state transition,
// including progress-only updates within the same state.
type StateChangeEvent struct {
	BaseEvent
	View          string `json:"view"` // "training", "search", "upload"
	OldState      string `json:"old_state"`
	NewState      string `json:"new_state"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Processed     int    `json:"processed,omitempty"`
	Total         int    `json:"total,omitempty"`
	Message       string `json:"message,omitempty"`
	ErrorMessage  string `json:"error,omitempty"`
}

// MetricsEvent carries the derived throughput figures of an active operation.
type MetricsEvent struct {
	BaseEvent
	View       string        `json:"view"`
	Processed  int           `json:"processed"`
	Total      int           `json:"total"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	Throughput float64       `json:"throughput"`
	ETA        time.Duration `json:"eta_ns"`
	ETAKnown   bool          `json:"eta_known"`
}

// NotificationEvent mirrors the notification slot of a view. Cleared is set
// when the slot was emptied (explicitly or by expiry).
type NotificationEvent struct {
	BaseEvent
	View     string `json:"view"`
	Text     string `json:"text,omitempty"`
	Severity string `json:"severity,omitempty"`
	Cleared  bool   `json:"cleared"`
	Expired  bool   `json:"expired"`
}

// QueueEvent is published when the upload collection changes.
type QueueEvent struct {
	BaseEvent
	View    string `json:"view"`
	Action  string `json:"action"` // "added", "removed", "cleared", "status"
	ItemID  int    `json:"item_id,omitempty"`
	Name    string `json:"name,omitempty"`
	Status  string `json:"status,omitempty"`
	Pending int    `json:"pending"` // items remaining in the collection
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking. A nil bus is
// a valid no-op publisher.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range eb.all {
		close(ch)
	}
}

// PublishStateChange is a convenience method for publishing state change events
func (eb *EventBus) PublishStateChange(ev StateChangeEvent) {
	ev.BaseEvent = BaseEvent{EventType: EventStateChange, Time: time.Now()}
	eb.Publish(&ev)
}

// PublishMetrics is a convenience method for publishing metrics events
func (eb *EventBus) PublishMetrics(ev MetricsEvent) {
	ev.BaseEvent = BaseEvent{EventType: EventMetrics, Time: time.Now()}
	eb.Publish(&ev)
}

// PublishNotification is a convenience method for publishing notification events
func (eb *EventBus) PublishNotification(ev NotificationEvent) {
	ev.BaseEvent = BaseEvent{EventType: EventNotification, Time: time.Now()}
	eb.Publish(&ev)
}

// PublishQueue is a convenience method for publishing queue events
func (eb *EventBus) PublishQueue(ev QueueEvent) {
	ev.BaseEvent = BaseEvent{EventType: EventQueue, Time: time.Now()}
	eb.Publish(&ev)
}

// Unsubscribe removes a subscription channel from a specific event type
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			break
		}
	}
}

// UnsubscribeAll removes a subscription channel from all event types
func (eb *EventBus) UnsubscribeAll(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for eventType, subscribers := range eb.subscribers {
		for i, subCh := range subscribers {
			if subCh == ch {
				subscribers[i] = subscribers[len(subscribers)-1]
				eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
				break
			}
		}
	}

	for i, subCh := range eb.all {
		if subCh == ch {
			eb.all[i] = eb.all[len(eb.all)-1]
			eb.all = eb.all[:len(eb.all)-1]
			break
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (eb *EventBus) Subscribers() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	n := len(eb.all)
	for _, subs := range eb.subscribers {
		n += len(subs)
	}
	return n
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}
