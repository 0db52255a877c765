package events

import "sync"

// Handler receives events published to the bus. Handlers run synchronously
// on the publisher's goroutine — keep them fast; anything slow should hand
// off to its own goroutine.
type Handler func(eventType EventType, payload interface{})

// Bus is a minimal in-process publish/subscribe dispatcher.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers handler to be called whenever eventType is emitted.
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Emit publishes payload under eventType to every subscribed handler.
func (b *Bus) Emit(eventType EventType, payload interface{}) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[eventType]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(eventType, payload)
	}
}
