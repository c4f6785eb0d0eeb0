package session

import (
	"context"
	"errors"
	"time"

	"github.com/newsroomtools/sessionguard/pkg/bus"
	"github.com/newsroomtools/sessionguard/pkg/kvs"
)

// LogoutOptions controls what HardLogout does besides clearing state.
type LogoutOptions struct {
	// Broadcast tells sibling tabs to log out too.
	Broadcast bool
	// Redirect sends this tab to the login screen via the Navigator.
	Redirect bool
	// PreserveRoute stores the current route so login can restore it.
	PreserveRoute bool
}

// HardLogout ends the session: persists the reason and optionally the
// route, deletes the credential and the shared session keys, resets local
// state, then broadcasts and redirects per opts. A single-permit guard
// makes overlapping calls (enforcer tick racing a sibling's broadcast, a
// double-clicked logout button) collapse into one execution.
func (c *Controller) HardLogout(reason Reason, opts LogoutOptions) {
	c.logoutMu.Lock()
	if c.logoutBusy {
		c.logoutMu.Unlock()
		return
	}
	c.logoutBusy = true
	c.logoutMu.Unlock()
	defer func() {
		c.logoutMu.Lock()
		c.logoutBusy = false
		c.logoutMu.Unlock()
	}()

	c.logger.Info("hard logout", "tabId", c.tabID, "reason", string(reason),
		"broadcast", opts.Broadcast)

	ctx := context.Background()
	if opts.PreserveRoute && c.route != nil {
		if path := c.route(); path != "" && path != c.cfg.LoginPath {
			if err := c.store.Set(ctx, KeyLoginRedirect, []byte(path), 0); err != nil {
				c.logger.Warn("storing login redirect failed", "error", err.Error())
			}
		}
	}

	if msg := reasonMessage(reason); msg != "" {
		if err := c.store.Set(ctx, KeyLoginReason, []byte(msg), 0); err != nil {
			c.logger.Warn("storing login reason failed", "error", err.Error())
		}
	}

	for _, key := range []string{KeyToken, KeyLastActivity, KeyActiveTab} {
		if err := c.store.Delete(ctx, key); err != nil && !errors.Is(err, kvs.ErrNotFound) {
			c.logger.Warn("clearing session key failed", "key", key, "error", err.Error())
		}
	}

	c.resetForLogout(reason)

	if opts.Broadcast {
		c.publish(bus.TypeLogout, logoutPayload{
			Reason:        reason,
			PreserveRoute: opts.PreserveRoute,
		})
	}
	if opts.Redirect && c.nav != nil {
		c.nav.GotoLogin(reasonMessage(reason), true)
	}
	c.notifyPresenter()
}

// resetForLogout clears the local countdown state. The reason is kept for
// display until the next sign-in.
func (c *Controller) resetForLogout(reason Reason) {
	c.mu.Lock()
	c.state = StateActive
	c.remaining = c.cfg.InactivityTimeout
	c.warned = false
	c.modalDismissed = false
	c.lastActivity = time.Time{}
	c.lastPersist = time.Time{}
	c.reason = reason
	c.mu.Unlock()
}
