package server

import (
	"encoding/json"
	"net/http"

	"github.com/newsroomtools/sessionguard/pkg/session"
)

// stateResponse is the JSON shape of GET /session/state.
type stateResponse struct {
	State            session.State  `json:"state"`
	RemainingMs      int64          `json:"remainingMs"`
	Display          string         `json:"display"`
	Reason           session.Reason `json:"reason,omitempty"`
	ShowToast        bool           `json:"showToast"`
	ShowWarningModal bool           `json:"showWarningModal"`
	ShowExpiredModal bool           `json:"showExpiredModal"`
}

type activityRequest struct {
	Force bool `json:"force"`
}

type logoutRequest struct {
	Reason        session.Reason `json:"reason"`
	PreserveRoute bool           `json:"preserveRoute"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap := s.controller.Snapshot()
	s.writeJSON(w, http.StatusOK, stateResponse{
		State:            snap.State,
		RemainingMs:      snap.Remaining.Milliseconds(),
		Display:          session.DisplayClock(snap.Remaining),
		Reason:           snap.Reason,
		ShowToast:        snap.ShowToast,
		ShowWarningModal: snap.ShowWarningModal,
		ShowExpiredModal: snap.ShowExpiredModal,
	})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if r.Body != nil {
		// An empty body means a plain, non-forced activity report.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	s.controller.RecordActivity(req.Force)
	s.handleState(w, r)
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	// Focus gains count as proof the user is here; the forced record
	// also moves the enforcer role to this instance.
	s.controller.RecordActivity(true)
	s.handleState(w, r)
}

func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request) {
	s.controller.ExtendSession()
	s.handleState(w, r)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	reason := req.Reason
	switch reason {
	case session.ReasonInactiveTimeout, session.ReasonSessionExpired, session.ReasonManualLogout:
	default:
		reason = session.ReasonManualLogout
	}
	s.controller.HardLogout(reason, session.LogoutOptions{
		Broadcast:     true,
		Redirect:      true,
		PreserveRoute: req.PreserveRoute,
	})
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) handleDismissWarning(w http.ResponseWriter, r *http.Request) {
	s.controller.DismissWarningModal()
	s.handleState(w, r)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}
