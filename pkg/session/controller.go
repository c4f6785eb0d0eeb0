package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/newsroomtools/sessionguard/pkg/bus"
	"github.com/newsroomtools/sessionguard/pkg/kvs"
	"github.com/newsroomtools/sessionguard/pkg/logging"
)

// Options configures a Controller.
type Options struct {
	// Store persists shared session state. Required. Wrap with
	// kvs.NewNamespacedStore(store, Namespace) when the backend is
	// shared with other data.
	Store kvs.Store

	// Bus delivers live events between tabs. Required.
	Bus bus.Bus

	// TabID identifies this tab on the bus. Autogenerated when empty.
	TabID string

	// Visibility reports whether this tab is foregrounded. Defaults to
	// always visible.
	Visibility VisibilityProbe

	// Navigator is invoked after logout to send the user to the login
	// screen. Optional.
	Navigator Navigator

	// Presenter receives state snapshots for display. Optional.
	Presenter Presenter

	// Route reports the current route for post-login restoration.
	// Optional; without it PreserveRoute is a no-op.
	Route RouteFunc

	Config Config
	Logger logging.Logger
}

// Controller runs one tab's view of the shared session. It merges
// activity observations from the local tab, the event bus, and the store,
// derives the countdown state each tick, and executes logout when this
// tab is the enforcer.
type Controller struct {
	cfg     Config
	tabID   string
	store   kvs.Store
	bus     bus.Bus
	visible VisibilityProbe
	nav     Navigator
	pres    Presenter
	route   RouteFunc
	logger  logging.Logger

	now func() time.Time

	mu             sync.Mutex
	lastActivity   time.Time
	lastPersist    time.Time
	state          State
	remaining      time.Duration
	warned         bool
	modalDismissed bool
	reason         Reason

	logoutMu   sync.Mutex
	logoutBusy bool

	runCancel context.CancelFunc
	runDone   chan struct{}
	busCancel func()
	started   bool
}

// New builds a Controller. Start must be called before it does anything.
func New(opts Options) (*Controller, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("session: store is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("session: bus is required")
	}
	cfg := opts.Config
	cfg.ApplyDefaults()

	tabID := opts.TabID
	if tabID == "" {
		tabID = uuid.NewString()
	}
	visible := opts.Visibility
	if visible == nil {
		visible = VisibilityFunc(func() bool { return true })
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger{}
	}

	return &Controller{
		cfg:     cfg,
		tabID:   tabID,
		store:   opts.Store,
		bus:     opts.Bus,
		visible: visible,
		nav:     opts.Navigator,
		pres:    opts.Presenter,
		route:   opts.Route,
		logger:  logger.WithModule("session"),
		now:     time.Now,
		state:   StateActive,
	}, nil
}

// TabID returns this controller's identity on the bus.
func (c *Controller) TabID() string { return c.tabID }

// Start subscribes to the bus and launches the tick loop. A visible tab
// claims enforcement and records an initial activity mark so a fresh
// sign-in starts with a full idle budget.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("session: controller already started")
	}
	c.started = true
	c.remaining = c.cfg.InactivityTimeout
	timeout := c.cfg.InactivityTimeout
	c.mu.Unlock()

	c.busCancel = c.bus.Subscribe(c.handleEvent)

	if c.visible.Visible() {
		// Forced activity from a visible tab claims enforcement too.
		c.RecordActivity(true)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.runCancel = cancel
	c.runDone = make(chan struct{})
	go c.run(runCtx)

	c.logger.Info("session controller started", "tabId", c.tabID,
		"timeout", timeout.String())
	return nil
}

// Stop halts the tick loop and unsubscribes from the bus. It does not
// close the store or the bus; the caller owns those.
func (c *Controller) Stop() {
	c.mu.Lock()
	started := c.started
	c.started = false
	c.mu.Unlock()
	if !started {
		return
	}
	if c.runCancel != nil {
		c.runCancel()
		<-c.runDone
	}
	if c.busCancel != nil {
		c.busCancel()
	}
	c.logger.Info("session controller stopped", "tabId", c.tabID)
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.runDone)
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

// tick re-derives countdown state from the shared activity mark. It is
// the only place automatic logout is initiated, and only the enforcer
// does that.
func (c *Controller) tick() {
	if !c.trackingEnabled() {
		return
	}
	if !c.authenticated() {
		return
	}

	c.mu.Lock()
	now := c.now()
	c.mergeStoredActivityLocked()
	if c.lastActivity.IsZero() {
		// Nothing recorded anywhere yet; the idle epoch starts at the
		// first observation rather than the Unix epoch.
		c.lastActivity = now
	}
	c.recomputeLocked(now)

	expired := c.state == StateExpired
	shouldWarn := c.state == StateWarning && !c.warned
	if shouldWarn {
		c.warned = true
	}
	remaining := c.remaining
	c.mu.Unlock()

	if shouldWarn {
		c.publish(bus.TypeWarning, warningPayload{RemainingMs: remaining.Milliseconds()})
	}

	if expired && c.enforcing() {
		c.logger.Info("inactivity timeout reached, enforcing logout", "tabId", c.tabID)
		c.HardLogout(ReasonInactiveTimeout, LogoutOptions{
			Broadcast:     true,
			Redirect:      true,
			PreserveRoute: true,
		})
		return
	}

	c.notifyPresenter()
}

// recomputeLocked derives state and remaining from lastActivity. Expired
// is terminal for the current epoch: merged activity never resurrects an
// expired tab, only logout or a fresh sign-in does.
func (c *Controller) recomputeLocked(now time.Time) {
	if c.state == StateExpired {
		c.remaining = 0
		return
	}
	remaining := c.cfg.InactivityTimeout - now.Sub(c.lastActivity)
	if remaining < 0 {
		remaining = 0
	}
	c.remaining = remaining

	switch {
	case remaining <= 0:
		c.state = StateExpired
		if c.reason == "" {
			c.reason = ReasonInactiveTimeout
		}
	case remaining <= c.cfg.WarningWindow:
		c.state = StateWarning
	default:
		if c.state != StateActive {
			// New epoch: clear per-episode warning bookkeeping.
			c.warned = false
			c.modalDismissed = false
		}
		c.state = StateActive
	}
}

// mergeStoredActivityLocked folds the persisted activity mark into the
// local one, keeping whichever is newer. Merging is commutative so tabs
// converge regardless of delivery order.
func (c *Controller) mergeStoredActivityLocked() {
	raw, err := c.store.Get(context.Background(), KeyLastActivity)
	if err != nil {
		return
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return
	}
	c.mergeActivityLocked(fromEpochMillis(ms))
}

func (c *Controller) mergeActivityLocked(t time.Time) {
	if t.After(c.lastActivity) {
		c.lastActivity = t
	}
}

// handleEvent processes one bus event. Self events and duplicates are
// already filtered by the bus.
func (c *Controller) handleEvent(e bus.Event) {
	switch e.Type {
	case bus.TypeActivity, bus.TypeExtend:
		var p activityPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			c.logger.Debug("dropping malformed activity payload", "from", e.TabID)
			return
		}
		c.mu.Lock()
		c.mergeActivityLocked(fromEpochMillis(p.LastActivityAt))
		c.recomputeLocked(c.now())
		c.mu.Unlock()
		c.notifyPresenter()

	case bus.TypeWarning:
		// A sibling entered the warning phase first. Adopt it without
		// re-announcing so the warning is broadcast once per epoch.
		c.mu.Lock()
		c.mergeStoredActivityLocked()
		c.recomputeLocked(c.now())
		if c.state == StateWarning {
			c.warned = true
		}
		c.mu.Unlock()
		c.notifyPresenter()

	case bus.TypeLogout:
		var p logoutPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			p.Reason = ReasonManualLogout
		}
		c.logger.Info("logout received from sibling", "from", e.TabID, "reason", string(p.Reason))
		c.resetForLogout(p.Reason)
		if c.nav != nil {
			c.nav.GotoLogin(reasonMessage(p.Reason), true)
		}
		c.notifyPresenter()

	case bus.TypeFocus:
		// Enforcement is read from the store each tick; the event is
		// informational.
		c.logger.Debug("focus claimed by sibling", "from", e.TabID)
	}
}

// ServerExpired flips this tab to expired after the backend rejected the
// credential. The expired modal offers sign-in; ConfirmExpired completes
// the logout.
func (c *Controller) ServerExpired() {
	c.mu.Lock()
	c.state = StateExpired
	c.reason = ReasonSessionExpired
	c.remaining = 0
	c.mu.Unlock()
	c.logger.Warn("server reported expired session", "tabId", c.tabID)
	c.notifyPresenter()
}

// ConfirmExpired is the expired modal's acknowledgement. It finishes the
// logout with the recorded reason and brings siblings along.
func (c *Controller) ConfirmExpired() {
	c.mu.Lock()
	reason := c.reason
	c.mu.Unlock()
	if reason == "" {
		reason = ReasonSessionExpired
	}
	c.HardLogout(reason, LogoutOptions{
		Broadcast:     true,
		Redirect:      true,
		PreserveRoute: true,
	})
}

// DismissWarningModal hides the warning modal for the rest of this
// warning episode. The countdown keeps running.
func (c *Controller) DismissWarningModal() {
	c.mu.Lock()
	if c.state == StateWarning {
		c.modalDismissed = true
	}
	c.mu.Unlock()
	c.notifyPresenter()
}

// Snapshot returns the current presentation state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		State:          c.state,
		Remaining:      c.remaining,
		Reason:         c.reason,
		ModalDismissed: c.modalDismissed,
	}
	if !c.cfg.TrackingEnabled() {
		return s
	}
	switch c.state {
	case StateWarning:
		if c.remaining > c.cfg.ModalThreshold {
			s.ShowToast = true
		} else if !c.modalDismissed {
			s.ShowWarningModal = true
		}
	case StateExpired:
		s.ShowExpiredModal = true
	}
	return s
}

// UpdateConfig applies new timing parameters, used by config hot reload.
// The running tick loop keeps its interval; timeout and window changes
// take effect on the next tick.
func (c *Controller) UpdateConfig(cfg Config) {
	cfg.ApplyDefaults()
	c.mu.Lock()
	c.cfg.InactivityTimeout = cfg.InactivityTimeout
	c.cfg.WarningWindow = cfg.WarningWindow
	c.cfg.ModalThreshold = cfg.ModalThreshold
	c.cfg.ActivityWriteInterval = cfg.ActivityWriteInterval
	c.cfg.EnforcerStaleAfter = cfg.EnforcerStaleAfter
	c.mu.Unlock()
	c.logger.Info("session config updated", "timeout", cfg.InactivityTimeout.String(),
		"warningWindow", cfg.WarningWindow.String())
}

// trackingEnabled reads the timeout under the mutex; UpdateConfig may
// change it concurrently.
func (c *Controller) trackingEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.TrackingEnabled()
}

func (c *Controller) staleAfter() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.EnforcerStaleAfter
}

// authenticated reports whether a credential is present in the store.
func (c *Controller) authenticated() bool {
	ok, err := c.store.Exists(context.Background(), KeyToken)
	if err != nil {
		return false
	}
	return ok
}

func (c *Controller) publish(typ bus.Type, payload any) {
	if err := c.bus.Publish(typ, payload); err != nil {
		c.logger.Warn("publish failed", "type", string(typ), "error", err.Error())
	}
}

func (c *Controller) notifyPresenter() {
	if c.pres == nil {
		return
	}
	c.pres.SessionChanged(c.Snapshot())
}
