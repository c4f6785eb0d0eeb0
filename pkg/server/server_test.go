package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsroomtools/sessionguard/pkg/bus"
	"github.com/newsroomtools/sessionguard/pkg/kvs"
	"github.com/newsroomtools/sessionguard/pkg/session"
)

func setupServer(t *testing.T) (*Server, *session.Controller, kvs.Store) {
	t.Helper()

	base, err := kvs.NewMemoryStore("", kvs.MemoryConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = base.Close() })
	store := kvs.NewNamespacedStore(base, session.Namespace)

	hub := bus.NewMemoryBroadcaster()
	t.Cleanup(func() { _ = hub.Close() })

	b, err := bus.NewDualBus("tab-server", hub, store, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	ctrl, err := session.New(session.Options{
		Store:  store,
		Bus:    b,
		TabID:  "tab-server",
		Config: session.Config{InactivityTimeout: 30 * time.Minute},
	})
	require.NoError(t, err)

	require.NoError(t, store.Set(context.Background(), session.KeyToken, []byte("token-1"), 0))

	return New("127.0.0.1", 0, ctrl, nil), ctrl, store
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) stateResponse {
	t.Helper()
	var resp stateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	s, _, _ := setupServer(t)
	rec := doJSON(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestStateEndpoint(t *testing.T) {
	s, ctrl, _ := setupServer(t)
	ctrl.RecordActivity(true)

	rec := doJSON(t, s, http.MethodGet, "/session/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeState(t, rec)
	assert.Equal(t, session.StateActive, resp.State)
	assert.Equal(t, (30 * time.Minute).Milliseconds(), resp.RemainingMs)
	assert.Equal(t, "30:00", resp.Display)
	assert.False(t, resp.ShowToast)
	assert.False(t, resp.ShowExpiredModal)
}

func TestActivityEndpoint(t *testing.T) {
	s, _, store := setupServer(t)

	rec := doJSON(t, s, http.MethodPost, "/session/activity", activityRequest{Force: true})
	require.Equal(t, http.StatusOK, rec.Code)

	ok, err := store.Exists(context.Background(), session.KeyLastActivity)
	require.NoError(t, err)
	assert.True(t, ok, "forced activity must be persisted")
	assert.Equal(t, session.StateActive, decodeState(t, rec).State)
}

func TestActivityEndpointEmptyBody(t *testing.T) {
	s, _, _ := setupServer(t)
	req := httptest.NewRequest(http.MethodPost, "/session/activity", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFocusEndpoint(t *testing.T) {
	s, _, store := setupServer(t)

	rec := doJSON(t, s, http.MethodPost, "/session/focus", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	raw, err := store.Get(context.Background(), session.KeyActiveTab)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "tab-server", "focus must claim enforcement for this instance")
	assert.Equal(t, session.StateActive, decodeState(t, rec).State)
}

func TestExtendEndpoint(t *testing.T) {
	s, _, store := setupServer(t)

	rec := doJSON(t, s, http.MethodPost, "/session/extend", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	ok, err := store.Exists(context.Background(), session.KeyLastActivity)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLogoutEndpoint(t *testing.T) {
	s, _, store := setupServer(t)

	rec := doJSON(t, s, http.MethodPost, "/session/logout", logoutRequest{
		Reason:        session.ReasonManualLogout,
		PreserveRoute: false,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "logged_out")

	ok, err := store.Exists(context.Background(), session.KeyToken)
	require.NoError(t, err)
	assert.False(t, ok, "logout must clear the credential")
}

func TestLogoutEndpointUnknownReason(t *testing.T) {
	s, _, store := setupServer(t)

	rec := doJSON(t, s, http.MethodPost, "/session/logout",
		map[string]string{"reason": "because"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Unknown reasons fall back to manual logout, which stores no message.
	_, err := store.Get(context.Background(), session.KeyLoginReason)
	assert.ErrorIs(t, err, kvs.ErrNotFound)
}

func TestDismissWarningEndpoint(t *testing.T) {
	s, _, _ := setupServer(t)
	rec := doJSON(t, s, http.MethodPost, "/session/warning/dismiss", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.StateActive, decodeState(t, rec).State)
}

func TestUnknownRoute(t *testing.T) {
	s, _, _ := setupServer(t)
	rec := doJSON(t, s, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/session/state", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWriteRateLimit(t *testing.T) {
	s, _, _ := setupServer(t)

	// httptest requests all share one RemoteAddr, so they share a bucket.
	for i := 0; i < writeRateLimit; i++ {
		rec := doJSON(t, s, http.MethodPost, "/session/activity", nil)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}

	rec := doJSON(t, s, http.MethodPost, "/session/activity", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Reads are not limited.
	rec = doJSON(t, s, http.MethodGet, "/session/state", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestAuthInterceptor(t *testing.T) {
	s, ctrl, _ := setupServer(t)

	status := http.StatusOK
	transport := NewAuthInterceptor(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: status, Body: http.NoBody, Request: r}, nil
	}), ctrl, nil)

	req := httptest.NewRequest(http.MethodGet, "http://api.internal/articles", nil)

	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, session.StateActive, ctrl.Snapshot().State)

	status = http.StatusUnauthorized
	resp, err = transport.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "response passes through")

	rec := doJSON(t, s, http.MethodGet, "/session/state", nil)
	state := decodeState(t, rec)
	assert.Equal(t, session.StateExpired, state.State)
	assert.True(t, state.ShowExpiredModal)
	assert.Equal(t, session.ReasonSessionExpired, state.Reason)
}
