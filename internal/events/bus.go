// File: internal/events/bus.go
// Description: In-process event bus. Stamps each published event with a
// run-wide monotonic sequence number and fans it out to subscribers without
// ever blocking the publishing session.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/formcourier/formcourier/api/schemas"
)

// Bus implements schemas.EventSink.
type Bus struct {
	logger *zap.Logger
	clock  clockwork.Clock
	seq    atomic.Uint64

	mu     sync.RWMutex
	subs   map[int]chan schemas.Event
	nextID int
	closed bool
}

var _ schemas.EventSink = (*Bus)(nil)

// NewBus creates an event bus.
func NewBus(logger *zap.Logger, clock clockwork.Clock) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Bus{
		logger: logger.Named("events"),
		clock:  clock,
		subs:   map[int]chan schemas.Event{},
	}
}

// Publish stamps and delivers the event. A subscriber whose buffer is full
// loses the event; slow consumers must not stall the session driving the
// browser.
func (b *Bus) Publish(ev schemas.Event) {
	ev.Seq = b.seq.Add(1)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.clock.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("subscriber buffer full, dropping event",
				zap.Int("subscriber", id),
				zap.Uint64("seq", ev.Seq),
				zap.String("kind", string(ev.Kind)),
			)
		}
	}
}

// Subscribe registers a consumer. The returned cancel function closes the
// channel; it is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan schemas.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan schemas.Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
