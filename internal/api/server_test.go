package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/fleetops/fleetd/internal/clock"
	"github.com/fleetops/fleetd/internal/policy"
	"github.com/fleetops/fleetd/internal/server"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

func newTestAPIServer(t *testing.T) *Server {
	t.Helper()

	dbPath := t.TempDir() + "/fleetd_test.db"
	db, err := InitDatabase(dbPath)
	if err != nil {
		t.Fatalf("InitDatabase: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	cfg := &Config{
		PasswordHash:      string(hash),
		SessionCookieName: "fleetd_session",
		RateLimitRequests: 10,
		RateLimitWindow:   0,
	}

	core := server.New(server.Config{Addr: "127.0.0.1:0"}, policy.Default(), clock.Real{}, zerolog.New(os.Stderr))

	return New(cfg, core, db, zerolog.New(os.Stderr))
}

func TestHandleHealth(t *testing.T) {
	s := newTestAPIServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleLoginWrongPassword(t *testing.T) {
	s := newTestAPIServer(t)
	form := bytes.NewBufferString("password=nope")
	req := httptest.NewRequest(http.MethodPost, "/login", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/login?error=Invalid+password" {
		t.Fatalf("redirect = %q", loc)
	}
}

func TestHandleLoginSuccessSetsCookie(t *testing.T) {
	s := newTestAPIServer(t)
	form := bytes.NewBufferString("password=correct-horse")
	req := httptest.NewRequest(http.MethodPost, "/login", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 || cookies[0].Name != "fleetd_session" {
		t.Fatalf("expected session cookie, got %v", cookies)
	}
}

func TestHandleGetHostsRequiresAuth(t *testing.T) {
	s := newTestAPIServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/hosts", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302 redirect to login", rec.Code)
	}
}

func TestHandleGetHostsEmptyFleet(t *testing.T) {
	s := newTestAPIServer(t)
	session, err := s.auth.CreateSession()
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/hosts", nil)
	req.AddCookie(&http.Cookie{Name: "fleetd_session", Value: session.ID})
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	var hosts []hostView
	if err := json.Unmarshal(rec.Body.Bytes(), &hosts); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(hosts) != 0 {
		t.Fatalf("hosts = %v, want empty", hosts)
	}
}

func TestHandleDispatchCommandRejectsWithoutCSRF(t *testing.T) {
	s := newTestAPIServer(t)
	session, err := s.auth.CreateSession()
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	body := bytes.NewBufferString(`{"command":"uptime"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/hosts/agent-1/command", body)
	req.AddCookie(&http.Cookie{Name: "fleetd_session", Value: session.ID})
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 (missing CSRF token)", rec.Code)
	}
}

func TestHandleDispatchCommandNotConnected(t *testing.T) {
	s := newTestAPIServer(t)
	session, err := s.auth.CreateSession()
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	body := bytes.NewBufferString(`{"command":"uptime"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/hosts/agent-1/command", body)
	req.AddCookie(&http.Cookie{Name: "fleetd_session", Value: session.ID})
	req.Header.Set("X-CSRF-Token", session.CSRFToken)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 for a disconnected client", rec.Code)
	}
}

func TestHandleDispatchCommandBlockedByPolicy(t *testing.T) {
	s := newTestAPIServer(t)
	session, err := s.auth.CreateSession()
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	body := bytes.NewBufferString(`{"command":"rm -rf /"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/hosts/agent-1/command", body)
	req.AddCookie(&http.Cookie{Name: "fleetd_session", Value: session.ID})
	req.Header.Set("X-CSRF-Token", session.CSRFToken)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 for a policy-blocked command", rec.Code)
	}
}
