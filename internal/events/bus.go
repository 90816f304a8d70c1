package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Bus fans lifecycle events out to subscribers. Slow consumers are skipped
// rather than blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan *Event]string
	closed      atomic.Bool
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[chan *Event]string),
	}
}

// Subscribe creates a new subscription channel for events
func (b *Bus) Subscribe(name string) chan *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, 100)
	b.subscribers[ch] = name
	return ch
}

// Unsubscribe removes a subscription channel
func (b *Bus) Unsubscribe(ch chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, ch)
}

// Publish emits an event to all subscribers
func (b *Bus) Publish(ctx context.Context, event *Event) error {
	if b.closed.Load() {
		return fmt.Errorf("event bus is closed")
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Channel is full, skip this subscriber
		}
	}

	return nil
}

// Close shuts down the event bus
func (b *Bus) Close() error {
	b.closed.Store(true)

	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}

	return nil
}

// SubscriberCount returns the number of active subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
