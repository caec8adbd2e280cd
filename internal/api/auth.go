package api

import (
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

// Session represents an authenticated operator session.
type Session struct {
	ID        string
	CSRFToken string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// RateLimiter tracks login attempts per source IP over a sliding
// window.
type RateLimiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a rate limiter allowing limit attempts per
// window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		attempts: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow reports whether ip is still under its attempt budget, and
// records this attempt if so.
func (r *RateLimiter) Allow(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.attempts[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.attempts[ip] = recent
		return false
	}

	r.attempts[ip] = append(recent, now)
	return true
}

// Reset clears attempts recorded for ip.
func (r *RateLimiter) Reset(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attempts, ip)
}

// AuthService handles operator login, session issuance, and CSRF
// validation.
type AuthService struct {
	cfg         *Config
	db          *sql.DB
	rateLimiter *RateLimiter
}

// NewAuthService builds an AuthService backed by db.
func NewAuthService(cfg *Config, db *sql.DB) *AuthService {
	return &AuthService{
		cfg:         cfg,
		db:          db,
		rateLimiter: NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
	}
}

// CheckPassword verifies password against the configured bcrypt hash.
func (a *AuthService) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(a.cfg.PasswordHash), []byte(password))
	return err == nil
}

// CheckTOTP verifies code, or accepts any code when TOTP isn't
// configured.
func (a *AuthService) CheckTOTP(code string) bool {
	if !a.cfg.HasTOTP() {
		return true
	}
	return totp.Validate(code, a.cfg.TOTPSecret)
}

// CreateSession mints and persists a new session.
func (a *AuthService) CreateSession() (*Session, error) {
	sessionID, err := generateSecureToken(32)
	if err != nil {
		return nil, err
	}
	csrfToken, err := generateSecureToken(32)
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:        sessionID,
		CSRFToken: csrfToken,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(a.cfg.SessionDuration),
	}

	_, err = a.db.Exec(
		`INSERT INTO sessions (id, csrf_token, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		session.ID, session.CSRFToken, session.CreatedAt, session.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession loads a session by ID, evicting it if expired.
func (a *AuthService) GetSession(sessionID string) (*Session, error) {
	session := &Session{}
	err := a.db.QueryRow(
		`SELECT id, csrf_token, created_at, expires_at FROM sessions WHERE id = ?`,
		sessionID,
	).Scan(&session.ID, &session.CSRFToken, &session.CreatedAt, &session.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if time.Now().After(session.ExpiresAt) {
		_ = a.DeleteSession(sessionID)
		return nil, sql.ErrNoRows
	}
	return session, nil
}

// DeleteSession removes a session.
func (a *AuthService) DeleteSession(sessionID string) error {
	_, err := a.db.Exec(`DELETE FROM sessions WHERE id = ?`, sessionID)
	return err
}

// ValidateCSRF constant-time-compares token against the session's
// stored CSRF token.
func (a *AuthService) ValidateCSRF(session *Session, token string) bool {
	return subtle.ConstantTimeCompare([]byte(session.CSRFToken), []byte(token)) == 1
}

// IsRateLimited reports whether ip has exceeded its login attempt
// budget.
func (a *AuthService) IsRateLimited(ip string) bool {
	return !a.rateLimiter.Allow(ip)
}

// ResetRateLimit clears ip's login attempt history, called after a
// successful login.
func (a *AuthService) ResetRateLimit(ip string) {
	a.rateLimiter.Reset(ip)
}

// SetSessionCookie writes session's cookie onto the response.
func (a *AuthService) SetSessionCookie(w http.ResponseWriter, session *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cfg.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   false, // TODO: flip once fleetd terminates TLS itself
		SameSite: http.SameSiteLaxMode,
		Expires:  session.ExpiresAt,
	})
}

// ClearSessionCookie expires the session cookie.
func (a *AuthService) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cfg.SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}

// GetSessionFromRequest extracts and loads the session named in r's
// cookie.
func (a *AuthService) GetSessionFromRequest(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(a.cfg.SessionCookieName)
	if err != nil {
		return nil, err
	}
	return a.GetSession(cookie.Value)
}

func generateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
