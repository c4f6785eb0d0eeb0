package server

import (
	"net/http"

	"github.com/newsroomtools/sessionguard/pkg/logging"
	"github.com/newsroomtools/sessionguard/pkg/session"
)

// AuthInterceptor is an http.RoundTripper that watches outbound API
// responses for credential rejection. A 401 flips the controller to the
// server-expired state so the UI offers re-login instead of failing
// silently. The response passes through untouched either way.
type AuthInterceptor struct {
	base       http.RoundTripper
	controller *session.Controller
	logger     logging.Logger
}

// NewAuthInterceptor wraps base (http.DefaultTransport when nil).
func NewAuthInterceptor(base http.RoundTripper, controller *session.Controller, logger logging.Logger) *AuthInterceptor {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &AuthInterceptor{
		base:       base,
		controller: controller,
		logger:     logger.WithModule("interceptor"),
	}
}

// RoundTrip implements http.RoundTripper.
func (i *AuthInterceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := i.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		i.logger.Warn("API rejected credential", "url", req.URL.Path)
		i.controller.ServerExpired()
	}
	return resp, nil
}
