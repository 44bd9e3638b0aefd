package events

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrSubscriberFull is returned by Broadcaster.Emit when at least one
// subscriber's buffer was full and the event was dropped for it.
var ErrSubscriberFull = errors.New("events: subscriber buffer full")

// Broadcaster fans events out to any number of subscribers, each with its own
// bounded buffer. A slow subscriber loses events instead of stalling the
// supervisor, the same trade the line pipelines make.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Envelope
	nextID  uint64
	buffer  int
	dropped atomic.Int64
}

// NewBroadcaster creates a broadcaster whose subscribers buffer up to
// buffer envelopes.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 256
	}
	return &Broadcaster{
		subs:   make(map[uint64]chan Envelope),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber. The returned cancel func removes it
// and closes the channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe() (<-chan Envelope, func()) {
	ch := make(chan Envelope, b.buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Emit delivers the event to every subscriber without blocking.
func (b *Broadcaster) Emit(name string, payload any) error {
	env := Envelope{Event: name, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var full bool
	for _, ch := range b.subs {
		select {
		case ch <- env:
		default:
			b.dropped.Add(1)
			full = true
		}
	}
	if full {
		return ErrSubscriberFull
	}
	return nil
}

// Subscribers returns the number of active subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns the number of envelopes dropped across all subscribers.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}
