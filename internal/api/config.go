// Package api implements fleetd's HTTP surface: session-cookie login,
// the host/command REST endpoints, Prometheus exposition, and the
// browser-facing WebSocket push channel, all sitting in front of
// internal/server's registry and tracker.
package api

import (
	"errors"
	"strings"
	"time"

	"github.com/fleetops/fleetd/internal/config"
)

// Config holds the HTTP API's own configuration, layered on top of
// config.ServerConfig the way the teacher's dashboard.Config layers on
// top of its own environment variables.
type Config struct {
	ListenAddr   string
	PasswordHash string // bcrypt hash of the operator password
	TOTPSecret   string // optional TOTP seed, base32

	SessionCookieName string
	SessionDuration   time.Duration

	RateLimitRequests int
	RateLimitWindow   time.Duration

	DatabasePath string

	AllowedOrigins []string
}

// FromServerConfig derives the API's Config from the shared
// ServerConfig plus the login-specific environment variables the
// server config doesn't otherwise carry.
func FromServerConfig(sc *config.ServerConfig, passwordHash, totpSecret string, allowedOrigins []string) *Config {
	return &Config{
		ListenAddr:        sc.HTTPAddr,
		PasswordHash:      passwordHash,
		TOTPSecret:        totpSecret,
		SessionCookieName: sc.SessionCookieName,
		SessionDuration:   24 * time.Hour,
		RateLimitRequests: sc.RateLimitPerMinute,
		RateLimitWindow:   time.Minute,
		DatabasePath:      sc.DatabasePath,
		AllowedOrigins:    allowedOrigins,
	}
}

func (c *Config) validate() error {
	var errs []string
	if c.PasswordHash == "" {
		errs = append(errs, "operator password hash is required")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// HasTOTP reports whether two-factor login is configured.
func (c *Config) HasTOTP() bool {
	return c.TOTPSecret != ""
}
