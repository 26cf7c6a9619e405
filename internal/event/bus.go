package event

import (
	"sync"
	"time"

	"github.com/goodtune/keytrack/internal/metrics"
	"github.com/rs/zerolog"
)

// Handler receives classified events. Handlers run on the publishing
// goroutine and must not block.
type Handler func(Event)

type subscriber struct {
	id      uint64
	name    string
	handler Handler
}

// Bus is the classified-event subscription point.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscriber
	nextID uint64
	logger zerolog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		logger: logger.With().Str("component", "event-bus").Logger(),
	}
}

// Subscribe registers a handler and returns a function that removes it.
// Handlers are invoked in subscription order.
func (b *Bus) Subscribe(name string, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, name: name, handler: h})
	b.mu.Unlock()

	b.logger.Debug().Str("subscriber", name).Msg("Subscriber added")

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers ev to every subscriber.
func (b *Bus) Publish(ev Event) {
	metrics.EventsTotal.WithLabelValues(ev.Kind.String()).Inc()

	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(ev)
	}
}

// Dispatch classifies raw and publishes the result.
func (b *Bus) Dispatch(raw []byte, at time.Time) Event {
	ev := Classify(raw, at)
	if ev.Kind != KindOther {
		b.logger.Debug().
			Str("kind", ev.Kind.String()).
			Uint8("note", ev.Note).
			Uint8("velocity", ev.Velocity).
			Msg("Event classified")
	}
	b.Publish(ev)
	return ev
}
