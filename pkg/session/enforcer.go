package session

import (
	"context"
	"encoding/json"

	"github.com/newsroomtools/sessionguard/pkg/bus"
)

// Claim records this tab as the enforcer. The embedder calls it whenever
// the tab gains focus or becomes visible; last claim wins, so exactly one
// tab holds the role at a time. Only the enforcer executes automatic
// logout, which keeps N tabs from racing to clear the same credential.
func (c *Controller) Claim() {
	now := c.now()
	rec := activeTabRecord{TabID: c.tabID, FocusedAt: epochMillis(now)}
	if err := c.store.Set(context.Background(), KeyActiveTab, rec.encode(), 0); err != nil {
		c.logger.Warn("claiming enforcement failed", "error", err.Error())
		return
	}
	c.publish(bus.TypeFocus, focusPayload{FocusedAt: epochMillis(now)})
	c.logger.Debug("claimed enforcement", "tabId", c.tabID)
}

// enforcing reports whether this tab should execute automatic logout. A
// hidden tab never enforces. When the recorded enforcer's claim is older
// than EnforcerStaleAfter (closed tab, killed process) a visible tab
// takes the role over so expiry is not left unenforced.
func (c *Controller) enforcing() bool {
	if !c.visible.Visible() {
		return false
	}
	raw, err := c.store.Get(context.Background(), KeyActiveTab)
	if err != nil {
		// No claim on record; a visible tab steps up.
		c.Claim()
		return true
	}
	var rec activeTabRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		c.Claim()
		return true
	}
	if rec.TabID == c.tabID {
		return true
	}
	if staleAfter := c.staleAfter(); staleAfter > 0 {
		age := c.now().Sub(fromEpochMillis(rec.FocusedAt))
		if age > staleAfter {
			c.logger.Info("taking over stale enforcement claim",
				"staleTab", rec.TabID, "age", age.String())
			c.Claim()
			return true
		}
	}
	return false
}
