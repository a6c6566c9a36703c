// Package events provides a small in-process pub/sub bus used to push
// run lifecycle updates to SSE clients.
package events

import (
	"sync"
	"time"
)

// Event is a single system event.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Event types published by the core.
const (
	TypeRunStarted      = "run.started"
	TypeRunCompleted    = "run.completed"
	TypeRunFailed       = "run.failed"
	TypeRunSkipped      = "run.skipped"
	TypeScheduleTripped = "schedule.tripped"
	TypeServiceTick     = "service.tick"
)

// Bus fans events out to subscribers. Slow subscribers drop events
// rather than block publishers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns its channel and an
// unsubscribe function.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, 64)
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

// Publish delivers an event to all subscribers without blocking.
func (b *Bus) Publish(eventType string, data map[string]any) {
	event := Event{Type: eventType, Timestamp: time.Now(), Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full; drop.
		}
	}
}
