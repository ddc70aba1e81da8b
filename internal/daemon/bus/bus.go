// Package bus carries commands from the UI into the launcher and fans
// events back out to every subscriber.
package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultBuffer is the per-subscriber event buffer.
const DefaultBuffer = 256

// Subscription receives events in publish order. C is closed when the
// subscription ends; Dropped reports whether that was because the
// subscriber fell behind.
type Subscription struct {
	ID string
	C  <-chan Event

	ch      chan Event
	dropped bool
}

// Dropped reports whether the bus disconnected this subscriber for being
// too slow. Valid after C is closed.
func (s *Subscription) Dropped() bool {
	return s.dropped
}

// Bus is a sequence-numbered event fan-out.
type Bus struct {
	mu     sync.Mutex
	seq    uint64
	buffer int
	subs   map[string]*Subscription
	closed bool
	logger zerolog.Logger
}

// New creates a bus whose subscribers buffer up to buffer events.
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		buffer: buffer,
		subs:   make(map[string]*Subscription),
		logger: log.With().Str("component", "bus").Logger(),
	}
}

// Publish stamps ev with the next sequence number and delivers it to all
// subscribers. A subscriber whose buffer is full is disconnected.
func (b *Bus) Publish(ev Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	ev.Seq = b.seq
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	if b.closed {
		return ev
	}

	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn().Str("subscriber", id).Uint64("seq", ev.Seq).Msg("subscriber too slow, disconnecting")
			sub.dropped = true
			close(sub.ch)
			delete(b.subs, id)
		}
	}

	b.logger.Debug().Str("kind", string(ev.Kind)).Uint64("seq", ev.Seq).Msg("event")
	return ev
}

// Subscribe registers a new subscriber.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	sub := &Subscription{ID: uuid.New().String(), C: ch, ch: ch}
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub.ID] = sub
	return sub
}

// Unsubscribe ends sub. It is safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.ID]; ok {
		close(sub.ch)
		delete(b.subs, sub.ID)
	}
}

// Close ends every subscription. Later publishes are numbered but not
// delivered.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
