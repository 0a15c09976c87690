// Package bus provides an in-process broadcast channel: one sender, N
// independent receivers, each with its own bounded queue. Slow receivers drop
// their oldest events instead of blocking the publisher, and can see how far
// they lagged.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/solbasis/basisbot/internal/domain"
)

// DefaultCapacity is the per-subscriber queue size.
const DefaultCapacity = 1024

// Bus fans events out to all current subscribers in send order.
type Bus struct {
	mu       sync.Mutex
	subs     []*Subscriber
	capacity int
	closed   bool
}

// Subscriber is one receiver's bounded view of the stream.
type Subscriber struct {
	name   string
	ch     chan domain.Event
	lagged atomic.Uint64
	bus    *Bus
	once   sync.Once
}

// New creates a bus whose subscribers buffer up to capacity events.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{capacity: capacity}
}

// Subscribe registers a named receiver. The name only shows up in lag
// diagnostics.
func (b *Bus) Subscribe(name string) *Subscriber {
	sub := &Subscriber{
		name: name,
		ch:   make(chan domain.Event, b.capacity),
		bus:  b,
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub
}

// Publish delivers the event to every subscriber. A full queue sheds its
// oldest event; the publisher never blocks. Delivery happens under the bus
// lock so a concurrent Unsubscribe or Close cannot close a queue mid-send.
func (b *Bus) Publish(event domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			// Queue full: evict the oldest, then retry once.
			select {
			case <-sub.ch:
				sub.lagged.Add(1)
			default:
			}
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of active receivers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close marks the bus closed and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		sub.once.Do(func() { close(sub.ch) })
	}
	b.subs = nil
}

// Events exposes the subscriber's queue for select loops.
func (s *Subscriber) Events() <-chan domain.Event {
	return s.ch
}

// Next blocks for the next event. Returns false when the bus closes or the
// context is done. A nonzero lag since the previous call is logged once.
func (s *Subscriber) Next(ctx context.Context) (domain.Event, bool) {
	if lag := s.lagged.Swap(0); lag > 0 {
		slog.Warn("event subscriber lagged", "subscriber", s.name, "dropped", lag)
	}
	select {
	case <-ctx.Done():
		return nil, false
	case event, ok := <-s.ch:
		return event, ok
	}
}

// TryNext returns the next queued event without blocking.
func (s *Subscriber) TryNext() (domain.Event, bool) {
	select {
	case event, ok := <-s.ch:
		return event, ok
	default:
		return nil, false
	}
}

// Lagged returns and resets the number of events this receiver dropped.
func (s *Subscriber) Lagged() uint64 {
	return s.lagged.Swap(0)
}

// Unsubscribe removes the receiver from the bus and closes its queue.
func (s *Subscriber) Unsubscribe() {
	s.bus.mu.Lock()
	for i, sub := range s.bus.subs {
		if sub == s {
			s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
			break
		}
	}
	s.bus.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
}
