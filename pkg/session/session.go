// Package session coordinates admin session lifetime across a set of
// cooperating client instances ("tabs"). Each tab runs its own Controller;
// tabs share a kvs.Store for persisted state and a bus.Bus for live events.
// All tabs converge on one countdown derived from the newest activity
// timestamp any of them has recorded.
package session

import (
	"encoding/json"
	"time"
)

// Namespace prefixes every key the controller persists. Wrapping the store
// with kvs.NewNamespacedStore(store, Namespace) keeps session state apart
// from anything else sharing the backend.
const Namespace = "admin.session."

// Keys the controller reads and writes in its (namespaced) store.
const (
	// KeyLastActivity holds the shared activity high-water mark as a
	// decimal epoch-milliseconds string.
	KeyLastActivity = "lastActivityAt"
	// KeyActiveTab holds an activeTabRecord naming the current enforcer.
	KeyActiveTab = "activeTab"
	// KeyToken holds the admin credential. Its presence is what makes a
	// tab consider itself signed in; HardLogout deletes it.
	KeyToken = "token"
	// KeyLoginRedirect stores the route to restore after re-login.
	KeyLoginRedirect = "loginRedirect"
	// KeyLoginReason stores the human-readable message the login screen
	// shows after a forced logout.
	KeyLoginReason = "loginReason"
)

// State is the session lifecycle phase a tab is currently displaying.
type State string

const (
	StateActive  State = "active"
	StateWarning State = "warning"
	StateExpired State = "expired"
)

// Reason records why a session ended.
type Reason string

const (
	ReasonInactiveTimeout Reason = "inactive_timeout"
	ReasonSessionExpired  Reason = "session_expired"
	ReasonManualLogout    Reason = "manual_logout"
)

// reasonMessage maps a logout reason to the message persisted for the
// login screen. Manual logout shows nothing.
func reasonMessage(r Reason) string {
	switch r {
	case ReasonInactiveTimeout:
		return "You were signed out after a period of inactivity."
	case ReasonSessionExpired:
		return "Your session has expired. Please sign in again."
	default:
		return ""
	}
}

// Snapshot is a point-in-time view of the controller for presentation.
type Snapshot struct {
	State     State
	Remaining time.Duration
	Reason    Reason

	// ShowToast is true while the warning countdown is above the modal
	// threshold. ShowWarningModal takes over below it unless the user
	// dismissed the modal for this warning episode.
	ShowToast        bool
	ShowWarningModal bool
	ShowExpiredModal bool
	ModalDismissed   bool
}

// VisibilityProbe reports whether this tab is currently visible to the
// user. Background tabs neither record activity nor enforce logout.
type VisibilityProbe interface {
	Visible() bool
}

// VisibilityFunc adapts a function to the VisibilityProbe interface.
type VisibilityFunc func() bool

func (f VisibilityFunc) Visible() bool { return f() }

// Navigator moves the user to the login screen after a logout. message is
// the reason text (may be empty for manual logout), replace indicates the
// current history entry should be replaced rather than pushed.
type Navigator interface {
	GotoLogin(message string, replace bool)
}

// Presenter receives a fresh Snapshot whenever the controller's
// user-visible state changes. Calls arrive from the controller's own
// goroutines and must not call back into the controller.
type Presenter interface {
	SessionChanged(Snapshot)
}

// RouteFunc returns the route the user is currently on, used to restore
// their place after re-login.
type RouteFunc func() string

// activeTabRecord is the JSON value stored under KeyActiveTab.
type activeTabRecord struct {
	TabID     string `json:"tabId"`
	FocusedAt int64  `json:"focusedAt"`
}

func (r activeTabRecord) encode() []byte {
	b, _ := json.Marshal(r)
	return b
}

// Event payloads carried on the bus.

type activityPayload struct {
	LastActivityAt int64 `json:"lastActivityAt"`
}

type warningPayload struct {
	RemainingMs int64 `json:"remainingMs"`
}

type logoutPayload struct {
	Reason        Reason `json:"reason"`
	PreserveRoute bool   `json:"preserveRoute"`
}

type focusPayload struct {
	FocusedAt int64 `json:"focusedAt"`
}

func epochMillis(t time.Time) int64 { return t.UnixMilli() }

// Persisted marks are wall-clock instants; normalize to UTC so values
// compare cleanly regardless of the host's local zone.
func fromEpochMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
