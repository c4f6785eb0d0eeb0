package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsroomtools/sessionguard/pkg/bus"
	"github.com/newsroomtools/sessionguard/pkg/kvs"
)

func TestHardLogoutClearsSession(t *testing.T) {
	h := newHarness(t)
	h.signIn()
	tb := h.newTab("tab-a", testConfig())
	tb.ctrl.Claim()
	tb.ctrl.RecordActivity(true)

	tb.ctrl.HardLogout(ReasonManualLogout, LogoutOptions{Redirect: true})

	assert.False(t, h.signedIn())
	for _, key := range []string{KeyLastActivity, KeyActiveTab} {
		_, err := h.store.Get(context.Background(), key)
		assert.ErrorIs(t, err, kvs.ErrNotFound, key)
	}

	// Manual logout carries no message and no stored reason.
	_, err := h.store.Get(context.Background(), KeyLoginReason)
	assert.ErrorIs(t, err, kvs.ErrNotFound)
	require.Len(t, tb.nav.calls(), 1)
	assert.Empty(t, tb.nav.calls()[0])

	snap := tb.ctrl.Snapshot()
	assert.Equal(t, StateActive, snap.State)
	assert.False(t, snap.ShowExpiredModal)
}

func TestLogoutPropagatesToSiblings(t *testing.T) {
	h := newHarness(t)
	h.signIn()
	a := h.newTab("tab-a", testConfig())
	b := h.newTab("tab-b", testConfig())
	seen := h.observe()

	a.ctrl.RecordActivity(true)
	a.ctrl.HardLogout(ReasonManualLogout, LogoutOptions{Broadcast: true, Redirect: true})
	settle()

	// The sibling navigates away but does not re-broadcast.
	require.Len(t, b.nav.calls(), 1)
	assert.Equal(t, 1, countByType(seen(), bus.TypeLogout))
	assert.Equal(t, StateActive, b.ctrl.Snapshot().State)
}

func TestRoutePreservation(t *testing.T) {
	h := newHarness(t)
	h.signIn()

	busA, err := bus.NewDualBus("tab-a", h.hub, h.store, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = busA.Close() })

	route := "/galleries/42/edit"
	ctrl, err := New(Options{
		Store:  h.store,
		Bus:    busA,
		TabID:  "tab-a",
		Config: testConfig(),
		Route:  func() string { return route },
	})
	require.NoError(t, err)
	ctrl.now = h.clock.Now

	ctrl.HardLogout(ReasonInactiveTimeout, LogoutOptions{PreserveRoute: true})
	saved, err := h.store.Get(context.Background(), KeyLoginRedirect)
	require.NoError(t, err)
	assert.Equal(t, route, string(saved))

	// Logging out from the login screen must not store a redirect loop.
	require.NoError(t, h.store.Delete(context.Background(), KeyLoginRedirect))
	h.signIn()
	route = DefaultLoginPath
	ctrl.HardLogout(ReasonInactiveTimeout, LogoutOptions{PreserveRoute: true})
	_, err = h.store.Get(context.Background(), KeyLoginRedirect)
	assert.ErrorIs(t, err, kvs.ErrNotFound)
}

// reentrantPresenter calls back into HardLogout from the snapshot
// notification, the way a hasty UI layer might.
type reentrantPresenter struct {
	ctrl *Controller
}

func (p *reentrantPresenter) SessionChanged(Snapshot) {
	if p.ctrl != nil {
		p.ctrl.HardLogout(ReasonManualLogout, LogoutOptions{Broadcast: true})
	}
}

func TestHardLogoutReentrancyGuard(t *testing.T) {
	h := newHarness(t)
	h.signIn()

	b, err := bus.NewDualBus("tab-a", h.hub, h.store, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	pres := &reentrantPresenter{}
	ctrl, err := New(Options{
		Store:     h.store,
		Bus:       b,
		TabID:     "tab-a",
		Config:    testConfig(),
		Presenter: pres,
	})
	require.NoError(t, err)
	ctrl.now = h.clock.Now
	pres.ctrl = ctrl

	seen := h.observe()
	ctrl.HardLogout(ReasonManualLogout, LogoutOptions{Broadcast: true})
	settle()

	assert.Equal(t, 1, countByType(seen(), bus.TypeLogout), "reentrant call must collapse into one logout")
}

func TestConcurrentHardLogoutSinglePermit(t *testing.T) {
	h := newHarness(t)
	h.signIn()
	tb := h.newTab("tab-a", testConfig())
	seen := h.observe()

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			tb.ctrl.HardLogout(ReasonManualLogout, LogoutOptions{Broadcast: true})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	settle()

	// Overlapping calls are no-ops while one is in flight; the exact count
	// depends on scheduling, but the session is cleanly ended either way.
	assert.GreaterOrEqual(t, countByType(seen(), bus.TypeLogout), 1)
	assert.False(t, h.signedIn())
}

func TestDisplayClock(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{5 * time.Minute, "5:00"},
		{61 * time.Second, "1:01"},
		{60*time.Second + 300*time.Millisecond, "1:01"}, // rounds up
		{60 * time.Second, "1:00"},
		{59*time.Second + 10*time.Millisecond, "1:00"},
		{time.Second, "0:01"},
		{300 * time.Millisecond, "0:01"},
		{0, "0:00"},
		{-time.Second, "0:00"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DisplayClock(tc.in), "DisplayClock(%v)", tc.in)
	}
}
