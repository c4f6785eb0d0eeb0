package bus

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsroomtools/sessionguard/pkg/kvs"
)

func newTestStore(t *testing.T) kvs.Store {
	t.Helper()
	store, err := kvs.NewMemoryStore("", kvs.MemoryConfig{CleanupInterval: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func collectEvents(t *testing.T, b Bus) <-chan Event {
	t.Helper()
	ch := make(chan Event, 16)
	cancel := b.Subscribe(func(e Event) { ch <- e })
	t.Cleanup(cancel)
	return ch
}

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func expectNoEvent(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected event: %+v", e)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDualBus_DeliversToSibling(t *testing.T) {
	store := newTestStore(t)
	hub := NewMemoryBroadcaster()
	defer hub.Close()

	tabA, err := NewDualBus("tab-a", hub, store, nil)
	require.NoError(t, err)
	defer tabA.Close()

	tabB, err := NewDualBus("tab-b", hub, store, nil)
	require.NoError(t, err)
	defer tabB.Close()

	events := collectEvents(t, tabB)

	require.NoError(t, tabA.Publish(TypeActivity, map[string]int64{"lastActivityAt": 12345}))

	event := waitEvent(t, events)
	assert.Equal(t, TypeActivity, event.Type)
	assert.Equal(t, "tab-a", event.TabID)
	assert.NotEmpty(t, event.ID)

	var payload map[string]int64
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, int64(12345), payload["lastActivityAt"])
}

func TestDualBus_FiltersSelfEvents(t *testing.T) {
	store := newTestStore(t)
	hub := NewMemoryBroadcaster()
	defer hub.Close()

	tabA, err := NewDualBus("tab-a", hub, store, nil)
	require.NoError(t, err)
	defer tabA.Close()

	events := collectEvents(t, tabA)

	// The event reaches tab-a both through the broadcaster loopback and the
	// store watch round trip; neither may invoke its own handler.
	require.NoError(t, tabA.Publish(TypeExtend, nil))

	expectNoEvent(t, events)
}

func TestDualBus_DeduplicatesAcrossTransports(t *testing.T) {
	store := newTestStore(t)
	hub := NewMemoryBroadcaster()
	defer hub.Close()

	tabA, err := NewDualBus("tab-a", hub, store, nil)
	require.NoError(t, err)
	defer tabA.Close()

	tabB, err := NewDualBus("tab-b", hub, store, nil)
	require.NoError(t, err)
	defer tabB.Close()

	events := collectEvents(t, tabB)

	// With both transports live the event arrives twice at tab-b: once via
	// the broadcaster, once via the store watch.
	require.NoError(t, tabA.Publish(TypeWarning, map[string]int64{"remainingMs": 60000}))

	first := waitEvent(t, events)
	assert.Equal(t, TypeWarning, first.Type)

	expectNoEvent(t, events)
}

func TestDualBus_DeduplicatesRepeatedDelivery(t *testing.T) {
	store := newTestStore(t)

	tabB, err := NewDualBus("tab-b", nil, store, nil)
	require.NoError(t, err)
	defer tabB.Close()

	events := collectEvents(t, tabB)

	raw, err := json.Marshal(Event{
		ID:     "evt-1",
		TabID:  "tab-a",
		Type:   TypeActivity,
		SentAt: time.Now(),
	})
	require.NoError(t, err)

	// Same serialized event delivered twice, as if both transports raced.
	tabB.ingest(raw)
	tabB.ingest(raw)

	waitEvent(t, events)
	expectNoEvent(t, events)
}

// failingBroadcaster always fails Send, simulating an unsupported or closed
// broadcast primitive.
type failingBroadcaster struct{}

func (failingBroadcaster) Send([]byte) error           { return errors.New("broadcast unsupported") }
func (failingBroadcaster) Receive(func([]byte)) func() { return func() {} }
func (failingBroadcaster) Close() error                { return nil }

func TestDualBus_FallsBackToStoreOnBroadcastFailure(t *testing.T) {
	store := newTestStore(t)

	tabA, err := NewDualBus("tab-a", failingBroadcaster{}, store, nil)
	require.NoError(t, err)
	defer tabA.Close()

	tabB, err := NewDualBus("tab-b", nil, store, nil)
	require.NoError(t, err)
	defer tabB.Close()

	events := collectEvents(t, tabB)

	// Publish must not surface the broadcast failure.
	require.NoError(t, tabA.Publish(TypeLogout, map[string]interface{}{
		"reason":        "manual_logout",
		"preserveRoute": false,
	}))

	event := waitEvent(t, events)
	assert.Equal(t, TypeLogout, event.Type)
}

func TestDualBus_IgnoresMalformedEvents(t *testing.T) {
	store := newTestStore(t)

	tabB, err := NewDualBus("tab-b", nil, store, nil)
	require.NoError(t, err)
	defer tabB.Close()

	events := collectEvents(t, tabB)

	tabB.ingest([]byte("{not json"))
	tabB.ingest([]byte(`{"tabId":"tab-a","type":"activity"}`)) // missing id

	expectNoEvent(t, events)
}

func TestDualBus_SubscribeCancel(t *testing.T) {
	store := newTestStore(t)

	tabB, err := NewDualBus("tab-b", nil, store, nil)
	require.NoError(t, err)
	defer tabB.Close()

	ch := make(chan Event, 1)
	cancel := tabB.Subscribe(func(e Event) { ch <- e })
	cancel()

	raw, _ := json.Marshal(Event{ID: "evt-2", TabID: "tab-a", Type: TypeFocus, SentAt: time.Now()})
	tabB.ingest(raw)

	select {
	case e := <-ch:
		t.Fatalf("handler invoked after cancel: %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSeenSet_Eviction(t *testing.T) {
	s := newSeenSet(2)
	s.add("a")
	s.add("b")
	s.add("c") // evicts "a"

	assert.False(t, s.contains("a"))
	assert.True(t, s.contains("b"))
	assert.True(t, s.contains("c"))
}
