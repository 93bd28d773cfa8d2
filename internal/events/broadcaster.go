// Package events broadcasts collection change notifications to interested
// listeners (CLI output, log sinks, tests).
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/deductiv/export-everything-sub000/internal/metrics"
)

const (
	EventRefresh = "refresh"
	EventCreate  = "create"
	EventUpdate  = "update"
	EventDelete  = "delete"
	EventError   = "error"
)

// Event describes the outcome of one collection operation.
type Event struct {
	Type       string `json:"type"`
	Collection string `json:"collection"`
	Key        string `json:"key,omitempty"`
	Message    string `json:"message"`
	Caller     string `json:"caller,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// Success reports whether the event describes a completed operation.
func (e Event) Success() bool {
	return e.Type != EventError
}

// Publisher is the subset of Broadcaster used by producers.
type Publisher interface {
	Publish(Event)
}

// Broadcaster manages subscribers and publishes events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers. Non-blocking: drops events
// for slow consumers.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	metrics.RecordEvent(event.Type)
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
