package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default sweep intervals, matching spec.md §9's design notes:
// cleanup_interval_secs defaults to 10s and is authoritative.
const (
	DefaultCleanupInterval = 10 * time.Second
	DefaultCommandTimeout  = 5 * time.Minute
	DefaultClientTimeout   = 30 * time.Second
)

// ServerConfig controls fleetd's TCP listener, HTTP API, and
// persistence, mirroring the teacher's dashboard Config/LoadConfig
// pattern (env-driven, multi-error validate, getEnv/parseX helpers).
type ServerConfig struct {
	TCPAddr      string
	HTTPAddr     string
	SharedSecret string
	AuthEnabled  bool

	MaxConnections  int
	CleanupInterval time.Duration
	CommandTimeout  time.Duration
	ClientTimeout   time.Duration

	DatabasePath       string
	SessionCookieName  string
	RateLimitPerMinute int

	PrometheusNamespace string
}

// LoadServerConfigFromEnv builds a ServerConfig from the process
// environment.
func LoadServerConfigFromEnv() (*ServerConfig, error) {
	cfg := &ServerConfig{
		TCPAddr:             getServerEnv("FLEETD_TCP_ADDR", ":7777"),
		HTTPAddr:            getServerEnv("FLEETD_HTTP_ADDR", ":8080"),
		SharedSecret:        os.Getenv("FLEETD_TCP_AUTH_SECRET"),
		AuthEnabled:         parseServerBool(getServerEnv("FLEETD_TCP_AUTH_ENABLED", "true"), true),
		MaxConnections:      parseServerInt(getServerEnv("FLEETD_MAX_CONNECTIONS", "500"), 500),
		CleanupInterval:     parseServerDuration(getServerEnv("FLEETD_CLEANUP_INTERVAL", "10s"), DefaultCleanupInterval),
		CommandTimeout:      parseServerDuration(getServerEnv("FLEETD_COMMAND_TIMEOUT", "5m"), DefaultCommandTimeout),
		ClientTimeout:       parseServerDuration(getServerEnv("FLEETD_CLIENT_TIMEOUT", "30s"), DefaultClientTimeout),
		DatabasePath:        getServerEnv("FLEETD_DATABASE_PATH", "fleetd.db"),
		SessionCookieName:   getServerEnv("FLEETD_SESSION_COOKIE", "fleetd_session"),
		RateLimitPerMinute:  parseServerInt(getServerEnv("FLEETD_LOGIN_RATE_LIMIT", "10"), 10),
		PrometheusNamespace: getServerEnv("FLEETD_METRICS_NAMESPACE", "fleetd"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ServerConfig) validate() error {
	var errs []string
	if c.AuthEnabled && strings.TrimSpace(c.SharedSecret) == "" {
		errs = append(errs, "FLEETD_TCP_AUTH_SECRET is required when FLEETD_TCP_AUTH_ENABLED is true")
	}
	if c.MaxConnections < 0 {
		errs = append(errs, "FLEETD_MAX_CONNECTIONS must be >= 0")
	}
	if c.RateLimitPerMinute <= 0 {
		errs = append(errs, "FLEETD_LOGIN_RATE_LIMIT must be > 0")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func getServerEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func parseServerBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func parseServerInt(v string, fallback int) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func parseServerDuration(v string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
