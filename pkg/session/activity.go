package session

import (
	"context"
	"strconv"

	"github.com/newsroomtools/sessionguard/pkg/bus"
)

// RecordActivity notes user activity on this tab. Background activity is
// ignored unless force is set (the embedder passes force on events that
// prove the user is here, like a focus gain). A forced record from a
// visible tab also claims the enforcer role, so enforcement follows the
// tab the user is actually using. The local countdown resets
// immediately; the persisted mark and the bus announcement are throttled
// to one write per ActivityWriteInterval.
func (c *Controller) RecordActivity(force bool) {
	if !c.trackingEnabled() {
		return
	}
	if !force && !c.visible.Visible() {
		return
	}
	if force && c.visible.Visible() {
		c.Claim()
	}
	if !c.authenticated() {
		return
	}

	c.mu.Lock()
	if c.state == StateExpired {
		// Terminal for this epoch; an expired tab must not refresh
		// the shared mark and pull siblings out of warning.
		c.mu.Unlock()
		return
	}
	now := c.now()
	c.mergeActivityLocked(now)
	c.recomputeLocked(now)
	persist := c.lastPersist.IsZero() || now.Sub(c.lastPersist) >= c.cfg.ActivityWriteInterval
	if persist {
		c.lastPersist = now
	}
	c.mu.Unlock()

	if persist {
		c.persistActivity(epochMillis(now))
		c.publish(bus.TypeActivity, activityPayload{LastActivityAt: epochMillis(now)})
	}
	c.notifyPresenter()
}

// ExtendSession resets the idle budget unconditionally, bypassing the
// write throttle and the visibility gate. Mutating operations call this
// so a successful save always buys the full timeout.
func (c *Controller) ExtendSession() {
	if !c.trackingEnabled() {
		return
	}
	if !c.authenticated() {
		return
	}

	c.mu.Lock()
	if c.state == StateExpired {
		c.mu.Unlock()
		return
	}
	now := c.now()
	c.mergeActivityLocked(now)
	c.recomputeLocked(now)
	c.lastPersist = now
	c.mu.Unlock()

	c.persistActivity(epochMillis(now))
	c.publish(bus.TypeExtend, activityPayload{LastActivityAt: epochMillis(now)})
	c.notifyPresenter()
}

func (c *Controller) persistActivity(ms int64) {
	if err := c.store.Set(context.Background(), KeyLastActivity, []byte(strconv.FormatInt(ms, 10)), 0); err != nil {
		c.logger.Warn("persisting activity mark failed", "error", err.Error())
	}
}
