package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fleetops/fleetd/internal/registry"
	"github.com/fleetops/fleetd/internal/server"
	"github.com/fleetops/fleetd/internal/tracker"
	"github.com/go-chi/chi/v5"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

const loginPageHTML = `<!DOCTYPE html>
<html><head><title>fleetd login</title></head>
<body>
<h1>fleetd</h1>
%s
<form method="post" action="/login">
<input type="password" name="password" placeholder="password" autofocus>
<input type="text" name="totp" placeholder="TOTP code (if enabled)">
<button type="submit">Sign in</button>
</form>
</body></html>`

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if _, err := s.auth.GetSessionFromRequest(r); err == nil {
		http.Redirect(w, r, "/api/hosts", http.StatusFound)
		return
	}
	errorMsg := r.URL.Query().Get("error")
	banner := ""
	if errorMsg != "" {
		banner = "<p style=\"color:red\">" + errorMsg + "</p>"
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, loginPageHTML, banner)
}

func clientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if colonIdx := strings.LastIndex(ip, ":"); colonIdx != -1 {
		if bracketIdx := strings.LastIndex(ip, "]"); bracketIdx == -1 || colonIdx > bracketIdx {
			ip = ip[:colonIdx]
		}
	}
	return ip
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if s.auth.IsRateLimited(ip) {
		http.Redirect(w, r, "/login?error=Too+many+attempts.+Please+wait.", http.StatusFound)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, "/login?error=Invalid+request", http.StatusFound)
		return
	}

	password := r.FormValue("password")
	totpCode := r.FormValue("totp")

	if !s.auth.CheckPassword(password) {
		s.log.Warn().Str("ip", ip).Msg("failed login attempt: wrong password")
		http.Redirect(w, r, "/login?error=Invalid+password", http.StatusFound)
		return
	}
	if s.cfg.HasTOTP() && !s.auth.CheckTOTP(totpCode) {
		s.log.Warn().Str("ip", ip).Msg("failed login attempt: wrong TOTP")
		http.Redirect(w, r, "/login?error=Invalid+TOTP+code", http.StatusFound)
		return
	}

	session, err := s.auth.CreateSession()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to create session")
		http.Redirect(w, r, "/login?error=Server+error", http.StatusFound)
		return
	}

	s.auth.ResetRateLimit(ip)
	s.auth.SetSessionCookie(w, session)
	// Non-browser clients (fleetctl) can't read an HttpOnly cookie's
	// value back out, so hand the CSRF token back once here too.
	w.Header().Set("X-CSRF-Token", session.CSRFToken)
	http.Redirect(w, r, "/api/hosts", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())
	if session != nil {
		_ = s.auth.DeleteSession(session.ID)
	}
	s.auth.ClearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}

// hostView is the JSON shape returned by GET /api/hosts.
type hostView struct {
	ClientID   string            `json:"client_id"`
	Connected  bool              `json:"connected"`
	SystemInfo interface{}       `json:"system_info"`
	LastSeen   time.Time         `json:"last_seen"`
}

func (s *Server) handleGetHosts(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.core.Reg.Snapshot()
	out := make([]hostView, 0, len(snapshot))
	for _, info := range snapshot {
		out = append(out, hostView{
			ClientID:   info.ClientID,
			Connected:  s.core.Reg.IsConnected(info.ClientID),
			SystemInfo: info.SystemInfo,
			LastSeen:   info.LastSeen,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type dispatchRequest struct {
	Command string `json:"command"`
}

type dispatchResponse struct {
	CommandID string `json:"command_id"`
}

func (s *Server) handleDispatchCommand(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	commandID, err := s.core.Dispatch(clientID, req.Command)
	if err != nil {
		s.writeDispatchError(w, err)
		return
	}

	s.recordAudit(commandID, clientID, req.Command, "dispatched")
	s.hub.Publish(Event{Type: "command_dispatched", Data: dispatchResponse{CommandID: commandID}})
	writeJSON(w, http.StatusOK, dispatchResponse{CommandID: commandID})
}

func (s *Server) writeDispatchError(w http.ResponseWriter, err error) {
	var blocked *server.BlockedError
	switch {
	case errors.As(err, &blocked):
		http.Error(w, blocked.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, server.ErrNotConnected):
		http.Error(w, err.Error(), http.StatusInternalServerError)
	case errors.Is(err, registry.ErrCapacityReached):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) recordAudit(commandID, clientID, command, status string) {
	if s.db == nil {
		return
	}
	_, err := s.db.Exec(
		`INSERT INTO command_audit (command_id, client_id, command, status, dispatched_at) VALUES (?, ?, ?, ?, ?)`,
		commandID, clientID, command, status, time.Now(),
	)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to record command audit row")
	}
}

type commandStatusView struct {
	Status string          `json:"status"`
	Result *tracker.Result `json:"result,omitempty"`
}

func (s *Server) handleGetCommandStatus(w http.ResponseWriter, r *http.Request) {
	commandID := chi.URLParam(r, "commandID")
	state, ok := s.core.Trk.GetStatus(commandID)
	if !ok {
		http.Error(w, "command not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, commandStatusView{
		Status: state.Status.String(),
		Result: state.Result,
	})
}

func (s *Server) handleGetClientResults(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	results := s.core.Trk.GetClientResults(clientID, 50)
	writeJSON(w, http.StatusOK, results)
}

type broadcastRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	errs := s.core.Broadcast(req.Text)
	s.hub.Publish(Event{Type: "broadcast_sent", Data: req.Text})
	writeJSON(w, http.StatusOK, map[string]any{"failed": errs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
