// Package bus fans session events out to sibling peers ("tabs") of the same
// deployment. Delivery rides two independent transports: a real-time
// broadcaster (Redis pub/sub in production) and a shared-store fallback that
// writes the serialized event to a well-known key, which sibling peers watch.
//
// Neither transport is reliable on its own and both may deliver the same
// event; consumers receive a de-duplicated stream with self-published events
// filtered out, and must still merge idempotently because no ordering holds
// across transports.
package bus

import (
	"encoding/json"
	"time"
)

// Type enumerates the session event kinds.
type Type string

const (
	// TypeActivity announces fresh user activity observed by a peer.
	TypeActivity Type = "activity"
	// TypeExtend announces an explicit session extension.
	TypeExtend Type = "extend"
	// TypeWarning announces that a peer entered the warning window.
	TypeWarning Type = "warning"
	// TypeLogout announces that the session was terminated.
	TypeLogout Type = "logout"
	// TypeFocus announces that a peer claimed enforcement responsibility.
	TypeFocus Type = "focus"
)

// Event is a single cross-peer session event.
type Event struct {
	ID      string          `json:"id"`
	TabID   string          `json:"tabId"`
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	SentAt  time.Time       `json:"sentAt"`
}

// Bus publishes events to sibling peers and delivers theirs.
type Bus interface {
	// Publish sends an event of the given type to all sibling peers.
	// Delivery is best-effort: transport failures are logged and swallowed,
	// never surfaced to the caller. The returned error is non-nil only when
	// the payload cannot be serialized.
	Publish(typ Type, payload interface{}) error

	// Subscribe registers a handler for events from sibling peers.
	// Self-published events and dual-transport duplicates are filtered
	// before the handler runs. The returned function removes the handler.
	Subscribe(handler func(Event)) (cancel func())

	// Close tears down both transports.
	Close() error
}

// Broadcaster is the real-time primary transport.
// Implementations: RedisBroadcaster (pub/sub), MemoryBroadcaster (in-process).
type Broadcaster interface {
	// Send delivers the payload to every receiver, possibly including the
	// sender itself (the bus filters self-delivery).
	Send(payload []byte) error

	// Receive registers a handler for incoming payloads.
	// The returned function removes the handler.
	Receive(handler func([]byte)) (cancel func())

	// Close releases transport resources.
	Close() error
}
