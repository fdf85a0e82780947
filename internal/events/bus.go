// Package events provides an in-process pub/sub bus for evaluation progress.
// Subscribers are local observers such as CLI progress output; the ordered
// log stays the only channel between writers and remote readers.
package events

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultBufferSize  = 100
	priorityBufferSize = 50
)

// Event is implemented by every evaluation event.
type Event interface {
	EventType() string
	Timestamp() time.Time
	EvaluationID() string
}

// BaseEvent carries the fields shared by all events.
type BaseEvent struct {
	Type       string    `json:"type"`
	Time       time.Time `json:"timestamp"`
	Evaluation string    `json:"evaluation_id"`
}

func (e BaseEvent) EventType() string    { return e.Type }
func (e BaseEvent) Timestamp() time.Time { return e.Time }
func (e BaseEvent) EvaluationID() string { return e.Evaluation }

// NewBaseEvent stamps an event of eventType for evaluationID with the
// current time.
func NewBaseEvent(eventType, evaluationID string) BaseEvent {
	return BaseEvent{Type: eventType, Time: time.Now(), Evaluation: evaluationID}
}

// subscription filters by type and evaluation; empty filters match all.
type subscription struct {
	ch         chan Event
	types      []string
	evaluation string
	// priority subscriptions only receive PublishPriority events and
	// block the publisher instead of dropping.
	priority bool
}

func (s *subscription) matches(e Event) bool {
	if len(s.types) > 0 && !slices.Contains(s.types, e.EventType()) {
		return false
	}
	return s.evaluation == "" || s.evaluation == e.EvaluationID()
}

// offer delivers e without blocking. A full buffer loses its oldest event
// so slow readers still see the latest progress. It returns how many
// events were dropped.
func (s *subscription) offer(e Event) int64 {
	select {
	case s.ch <- e:
		return 0
	default:
	}
	var dropped int64
	select {
	case <-s.ch:
		dropped++
	default:
	}
	select {
	case s.ch <- e:
	default:
		dropped++
	}
	return dropped
}

// EventBus fans events out to subscribers. Safe for concurrent use.
type EventBus struct {
	mu         sync.RWMutex
	subs       []*subscription
	bufferSize int
	dropped    atomic.Int64
	closed     bool
}

// New creates a bus whose regular subscribers buffer bufferSize events.
func New(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &EventBus{bufferSize: bufferSize}
}

// Subscribe receives events of the given types, or all when none are given.
func (eb *EventBus) Subscribe(types ...string) <-chan Event {
	return eb.add(&subscription{ch: make(chan Event, eb.bufferSize), types: types})
}

// SubscribeForEvaluation receives only events of one evaluation.
func (eb *EventBus) SubscribeForEvaluation(evaluationID string, types ...string) <-chan Event {
	return eb.add(&subscription{ch: make(chan Event, eb.bufferSize), types: types, evaluation: evaluationID})
}

// SubscribePriority receives PublishPriority events and never loses one.
// The reader must keep draining it or publishers stall.
func (eb *EventBus) SubscribePriority(types ...string) <-chan Event {
	return eb.add(&subscription{ch: make(chan Event, priorityBufferSize), types: types, priority: true})
}

func (eb *EventBus) add(s *subscription) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		close(s.ch)
	} else {
		eb.subs = append(eb.subs, s)
	}
	return s.ch
}

// Unsubscribe removes a subscription and closes its channel. Unknown
// channels are ignored.
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subs = slices.DeleteFunc(eb.subs, func(s *subscription) bool {
		if s.ch != ch {
			return false
		}
		close(s.ch)
		return true
	})
}

// Publish delivers event to matching regular subscribers without blocking.
func (eb *EventBus) Publish(event Event) {
	eb.send(event, false)
}

// PublishPriority also delivers to priority subscribers, blocking until
// each has room. Used for events a reader must not miss, like completion.
func (eb *EventBus) PublishPriority(event Event) {
	eb.send(event, true)
}

func (eb *EventBus) send(event Event, priority bool) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}
	for _, s := range eb.subs {
		switch {
		case !s.matches(event):
		case !s.priority:
			if n := s.offer(event); n > 0 {
				eb.dropped.Add(n)
			}
		case priority:
			s.ch <- event
		}
	}
}

// DroppedCount returns how many events regular subscribers have lost.
func (eb *EventBus) DroppedCount() int64 {
	return eb.dropped.Load()
}

// Close closes every subscriber channel. Later publishes are ignored and
// later subscriptions receive an already closed channel.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}
	eb.closed = true
	for _, s := range eb.subs {
		close(s.ch)
	}
	eb.subs = nil
}
