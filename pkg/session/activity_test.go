package session

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsroomtools/sessionguard/pkg/bus"
	"github.com/newsroomtools/sessionguard/pkg/kvs"
)

func storedActivity(t *testing.T, h *harness) (time.Time, bool) {
	t.Helper()
	raw, err := h.store.Get(context.Background(), KeyLastActivity)
	if err != nil {
		require.ErrorIs(t, err, kvs.ErrNotFound)
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	require.NoError(t, err)
	return fromEpochMillis(ms), true
}

func TestActivityWriteThrottle(t *testing.T) {
	h := newHarness(t)
	h.signIn()
	tb := h.newTab("tab-a", testConfig())
	seen := h.observe()

	tb.ctrl.RecordActivity(true)
	first, ok := storedActivity(t, h)
	require.True(t, ok)

	// Within the write interval: local reset only, no persist, no event.
	h.clock.Advance(time.Second)
	tb.ctrl.RecordActivity(true)
	got, _ := storedActivity(t, h)
	assert.Equal(t, first, got)

	// Local countdown reset is never throttled.
	tb.ctrl.mu.Lock()
	local := tb.ctrl.lastActivity
	tb.ctrl.mu.Unlock()
	assert.Equal(t, h.clock.Now(), local)

	// Past the interval the write goes through.
	h.clock.Advance(3 * time.Second)
	tb.ctrl.RecordActivity(true)
	got, _ = storedActivity(t, h)
	assert.Equal(t, h.clock.Now(), got)

	settle()
	assert.Equal(t, 2, countByType(seen(), bus.TypeActivity))
}

func TestBackgroundActivityIgnored(t *testing.T) {
	h := newHarness(t)
	h.signIn()
	tb := h.newTab("tab-a", testConfig())
	tb.vis.set(false)

	tb.ctrl.RecordActivity(false)
	_, ok := storedActivity(t, h)
	assert.False(t, ok, "hidden tab must not record activity")

	tb.ctrl.mu.Lock()
	local := tb.ctrl.lastActivity
	tb.ctrl.mu.Unlock()
	assert.True(t, local.IsZero())

	// force bypasses the gate, used when the tab just became visible.
	tb.ctrl.RecordActivity(true)
	_, ok = storedActivity(t, h)
	assert.True(t, ok)
}

func TestExtendBypassesThrottle(t *testing.T) {
	h := newHarness(t)
	h.signIn()
	tb := h.newTab("tab-a", testConfig())
	seen := h.observe()

	tb.ctrl.RecordActivity(true)
	h.clock.Advance(time.Second)
	tb.ctrl.ExtendSession()

	got, ok := storedActivity(t, h)
	require.True(t, ok)
	assert.Equal(t, h.clock.Now(), got)

	settle()
	events := seen()
	assert.Equal(t, 1, countByType(events, bus.TypeActivity))
	assert.Equal(t, 1, countByType(events, bus.TypeExtend))
}

func TestExpiredTabStopsRecording(t *testing.T) {
	h := newHarness(t)
	h.signIn()
	a := h.newTab("tab-a", testConfig())
	b := h.newTab("tab-b", testConfig())
	seen := h.observe()
	a.vis.set(false) // neither tab enforces, both just count down
	b.vis.set(false)

	a.ctrl.RecordActivity(true)
	settle()

	h.clock.Advance(26 * time.Minute)
	a.ctrl.tick()
	h.clock.Advance(5 * time.Minute)
	b.ctrl.tick()
	require.Equal(t, StateWarning, a.ctrl.Snapshot().State)
	require.Equal(t, StateExpired, b.ctrl.Snapshot().State)

	// Expired is terminal; the tab must not refresh the shared mark and
	// pull the warning sibling back to active.
	b.ctrl.RecordActivity(true)
	b.ctrl.ExtendSession()
	settle()

	events := seen()
	assert.Equal(t, 1, countByType(events, bus.TypeActivity), "only the initial record publishes")
	assert.Equal(t, 0, countByType(events, bus.TypeExtend))
	assert.Equal(t, StateWarning, a.ctrl.Snapshot().State)
	assert.Equal(t, StateExpired, b.ctrl.Snapshot().State)

	before, ok := storedActivity(t, h)
	require.True(t, ok)
	assert.Equal(t, before, fromEpochMillis(epochMillis(h.clock.Now().Add(-31*time.Minute))))
}

func TestActivityWhenSignedOut(t *testing.T) {
	h := newHarness(t)
	tb := h.newTab("tab-a", testConfig())

	tb.ctrl.RecordActivity(true)
	tb.ctrl.ExtendSession()

	_, ok := storedActivity(t, h)
	assert.False(t, ok, "signed-out tab must not record activity")
}
