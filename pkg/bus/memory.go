package bus

import (
	"errors"
	"sync"
)

// MemoryBroadcaster is an in-process Broadcaster. All peers of one process
// share a single instance; Send fans the payload out to every registered
// receiver synchronously. Used for single-process deployments and tests.
type MemoryBroadcaster struct {
	mu       sync.RWMutex
	handlers map[int]func([]byte)
	nextID   int
	closed   bool
}

// NewMemoryBroadcaster creates an in-process broadcaster hub.
func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{
		handlers: make(map[int]func([]byte)),
	}
}

// Send delivers the payload to every registered receiver, including any
// receiver registered by the sender itself.
func (m *MemoryBroadcaster) Send(payload []byte) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return errors.New("bus: broadcaster is closed")
	}
	handlers := make([]func([]byte), 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
	return nil
}

// Receive registers a handler for broadcast payloads.
func (m *MemoryBroadcaster) Receive(handler func([]byte)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = handler
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.handlers, id)
		m.mu.Unlock()
	}
}

// Close marks the broadcaster closed. Shared by all peers of the process, so
// call it once during shutdown, not per peer.
func (m *MemoryBroadcaster) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.handlers = make(map[int]func([]byte))
	return nil
}
