// Package status provides the in-process pub/sub channel that carries
// live run progress from the sweep controller to API subscribers.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/tokensweep/tokensweep/pkg/models"
)

// EventType classifies run events
type EventType string

const (
	// EventRunStarted announces a run and its plan
	EventRunStarted EventType = "run-started"
	// EventLog carries a human-readable progress line
	EventLog EventType = "log"
	// EventTierResult carries one finished tier measurement
	EventTierResult EventType = "tier-result"
	// EventResourceSample carries one process resource sample
	EventResourceSample EventType = "resource-sample"
	// EventRunStatus carries a run state change; terminal states close the stream
	EventRunStatus EventType = "run-status"
)

// Event is one item on a run's status stream
type Event struct {
	RunID     string    `json:"run_id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// StatusPayload is the data of a run-status event
type StatusPayload struct {
	Status models.RunStatus `json:"status"`
	Error  string           `json:"error,omitempty"`
}

// LogPayload is the data of a log event
type LogPayload struct {
	Level    string `json:"level"`
	Message  string `json:"message"`
	TargetID string `json:"target_id,omitempty"`
}

// SamplePayload ties a resource sample to the target it was taken from
type SamplePayload struct {
	TargetID string                `json:"target_id"`
	Sample   models.ResourceSample `json:"sample"`
}

const subscriberBuffer = 64

// Bus is an in-process pub/sub fan-out keyed by run ID. Slow subscribers
// lose their oldest events instead of blocking publishers, and each run
// emits exactly one terminal status event, replayed to late subscribers.
type Bus struct {
	mu       sync.RWMutex
	subs     map[string]map[int]chan Event
	terminal map[string]Event
	next     int
}

// NewBus returns a new, empty bus
func NewBus() *Bus {
	return &Bus{
		subs:     make(map[string]map[int]chan Event),
		terminal: make(map[string]Event),
	}
}

// Publish emits an event to all subscribers of the run. Events published
// after the run's terminal event are dropped.
func (b *Bus) Publish(runID string, typ EventType, data any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, done := b.terminal[runID]; done {
		return
	}

	event := Event{
		RunID:     runID,
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	for _, ch := range b.subs[runID] {
		send(ch, event)
	}
}

// PublishTerminal emits the run's final status event, closes all of its
// subscriber channels, and records the event for late subscribers. Only
// the first terminal event for a run wins.
func (b *Bus) PublishTerminal(runID string, payload StatusPayload) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, done := b.terminal[runID]; done {
		return
	}

	event := Event{
		RunID:     runID,
		Type:      EventRunStatus,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	}
	b.terminal[runID] = event

	for id, ch := range b.subs[runID] {
		send(ch, event)
		close(ch)
		delete(b.subs[runID], id)
	}
	delete(b.subs, runID)
}

// Subscribe registers for a run's events. The returned channel is closed
// when the run reaches a terminal status or the context is cancelled. A
// run that already finished gets its terminal event replayed immediately.
func (b *Bus) Subscribe(ctx context.Context, runID string) <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if event, done := b.terminal[runID]; done {
		b.mu.Unlock()
		ch <- event
		close(ch)
		return ch
	}
	if b.subs[runID] == nil {
		b.subs[runID] = make(map[int]chan Event)
	}
	id := b.next
	b.next++
	b.subs[runID][id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if runSubs, ok := b.subs[runID]; ok {
			if sub, ok := runSubs[id]; ok {
				delete(runSubs, id)
				close(sub)
			}
			if len(runSubs) == 0 {
				delete(b.subs, runID)
			}
		}
		b.mu.Unlock()
	}()

	return ch
}

// SubscriberCount returns the number of live subscribers for a run
func (b *Bus) SubscriberCount(runID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[runID])
}

// Forget drops the recorded terminal event for a run. Called when the run
// is pruned from the registry so the replay map cannot grow unbounded.
func (b *Bus) Forget(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.terminal, runID)
}

// send delivers without ever blocking the publisher: when the subscriber
// buffer is full the oldest event is discarded to make room.
func send(ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- event:
		default:
		}
	}
}
