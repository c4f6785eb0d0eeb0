package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/newsroomtools/sessionguard/pkg/kvs"
	"github.com/newsroomtools/sessionguard/pkg/logging"
)

// EventKey is the store key carrying the most recently published event.
// Writing it triggers a store change notification in sibling peers, which is
// the fallback delivery path when the broadcaster is unavailable.
const EventKey = "event"

// eventTTL bounds how long a fallback event lingers in the store. A peer that
// was offline longer than this re-derives state from the activity timestamp
// instead of replaying stale events.
const eventTTL = time.Minute

// seenCapacity bounds the duplicate-suppression window.
const seenCapacity = 128

// DualBus is the production Bus: it publishes through a real-time Broadcaster
// and, unconditionally, through the shared store's event key. Incoming events
// from either transport are de-duplicated by event ID and filtered by origin
// so a peer never reprocesses its own events.
type DualBus struct {
	tabID       string
	broadcaster Broadcaster
	store       kvs.Store
	logger      logging.Logger

	mu       sync.RWMutex
	handlers map[int]func(Event)
	nextID   int
	seen     *seenSet
	closed   bool

	cancelRecv  func()
	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

// NewDualBus creates the bus for one peer. tabID must be the peer's own tab
// identity; broadcaster may be nil, in which case only the store fallback
// carries events. The store should already be namespaced to the session
// keyspace. logger may be nil.
func NewDualBus(tabID string, broadcaster Broadcaster, store kvs.Store, logger logging.Logger) (*DualBus, error) {
	if tabID == "" {
		return nil, fmt.Errorf("bus: tabID is required")
	}
	if store == nil {
		return nil, fmt.Errorf("bus: store is required")
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}

	d := &DualBus{
		tabID:       tabID,
		broadcaster: broadcaster,
		store:       store,
		logger:      logger.WithModule("bus"),
		handlers:    make(map[int]func(Event)),
		seen:        newSeenSet(seenCapacity),
		watchDone:   make(chan struct{}),
	}

	if broadcaster != nil {
		d.cancelRecv = broadcaster.Receive(d.ingest)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	d.watchCancel = cancel

	changes, err := store.Watch(watchCtx, EventKey)
	if err != nil {
		cancel()
		if d.cancelRecv != nil {
			d.cancelRecv()
		}
		return nil, fmt.Errorf("bus: failed to watch event key: %w", err)
	}

	go func() {
		defer close(d.watchDone)
		for change := range changes {
			if change.Deleted || len(change.Value) == 0 {
				continue
			}
			d.ingest(change.Value)
		}
	}()

	return d, nil
}

// Publish sends the event through both transports.
func (d *DualBus) Publish(typ Type, payload interface{}) error {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return fmt.Errorf("bus: bus is closed")
	}
	d.mu.RUnlock()

	event := Event{
		ID:     uuid.NewString(),
		TabID:  d.tabID,
		Type:   typ,
		SentAt: time.Now(),
	}

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("bus: failed to marshal payload: %w", err)
		}
		event.Payload = raw
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("bus: failed to marshal event: %w", err)
	}

	// Primary transport. Failure here is recoverable: the store write below
	// still carries the event to sibling peers.
	if d.broadcaster != nil {
		if err := d.broadcaster.Send(raw); err != nil {
			d.logger.Debug("broadcast send failed, relying on store fallback", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.store.Set(ctx, EventKey, raw, eventTTL); err != nil {
		d.logger.Warn("failed to write event to store", "type", typ, "error", err)
	}

	return nil
}

// Subscribe registers a handler for events from sibling peers.
func (d *DualBus) Subscribe(handler func(Event)) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.handlers[id] = handler
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.handlers, id)
		d.mu.Unlock()
	}
}

// ingest handles a serialized event arriving from either transport.
func (d *DualBus) ingest(raw []byte) {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		// Corrupt payloads are treated as no signal.
		d.logger.Debug("dropping malformed event", "error", err)
		return
	}

	if event.TabID == d.tabID {
		return // self-published
	}
	if event.ID == "" {
		d.logger.Debug("dropping event without id", "type", event.Type)
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if d.seen.contains(event.ID) {
		d.mu.Unlock()
		return // duplicate from the other transport
	}
	d.seen.add(event.ID)
	handlers := make([]func(Event), 0, len(d.handlers))
	for _, h := range d.handlers {
		handlers = append(handlers, h)
	}
	d.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}

// Close tears down both transports. The underlying store is owned by the
// caller and stays open.
func (d *DualBus) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	if d.cancelRecv != nil {
		d.cancelRecv()
	}
	d.watchCancel()
	<-d.watchDone

	return nil
}

// seenSet is a fixed-capacity set of recent event IDs, evicting oldest-first.
type seenSet struct {
	ids   map[string]struct{}
	order []string
	cap   int
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{
		ids: make(map[string]struct{}, capacity),
		cap: capacity,
	}
}

func (s *seenSet) contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *seenSet) add(id string) {
	if len(s.order) >= s.cap {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.ids, oldest)
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
}
