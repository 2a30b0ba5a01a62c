package events

import (
	"log"
	"sync"
)

// Handler receives every event published on the bus.
type Handler func(Event)

// Bus fans inbound push events out to independent subscribers. Handlers are
// invoked synchronously in subscription order; each subscriber reacts only
// to the event types it cares about and owns its own state.
type Bus struct {
	log      *log.Logger
	mu       sync.RWMutex
	handlers []Handler
}

func NewBus(logger *log.Logger) *Bus {
	return &Bus{log: logger}
}

func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
