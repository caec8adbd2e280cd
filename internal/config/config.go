// Package config loads fleetd's server and agent configuration from
// environment variables. LoadFromEnv constructors validate required
// fields up front, mirroring the teacher's agent config loader.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// AgentConfig holds a demo agent's configuration.
type AgentConfig struct {
	// Connection
	ServerAddr   string // fleetd TCP address, host:port
	SharedSecret string // TCP auth shared secret
	AuthEnabled  bool

	// Behavior
	HeartbeatInterval time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	LogLevel          string

	// Derived
	ClientID string
	Hostname string
}

// DefaultAgentConfig returns a config with default values.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		AuthEnabled:       true,
		HeartbeatInterval: 30 * time.Second,
		InitialBackoff:    time.Second,
		MaxBackoff:        60 * time.Second,
		LogLevel:          "info",
		Hostname:          getStableHostname(),
	}
}

// getStableHostname returns os.Hostname with any domain suffix
// stripped, so a client ID stays stable across network changes.
func getStableHostname() string {
	hostname, _ := os.Hostname()
	if idx := strings.Index(hostname, "."); idx != -1 {
		hostname = hostname[:idx]
	}
	return hostname
}

// LoadAgentConfigFromEnv loads agent configuration from environment
// variables, defaulting ClientID to the machine's hostname.
func LoadAgentConfigFromEnv() (*AgentConfig, error) {
	cfg := DefaultAgentConfig()

	cfg.ServerAddr = os.Getenv("FLEET_AGENT_SERVER_ADDR")
	if cfg.ServerAddr == "" {
		return nil, errors.New("FLEET_AGENT_SERVER_ADDR is required")
	}

	if v := os.Getenv("FLEET_AGENT_AUTH_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.New("FLEET_AGENT_AUTH_ENABLED must be a bool")
		}
		cfg.AuthEnabled = enabled
	}

	cfg.SharedSecret = os.Getenv("FLEET_AGENT_AUTH_SECRET")
	if cfg.AuthEnabled && cfg.SharedSecret == "" {
		return nil, errors.New("FLEET_AGENT_AUTH_SECRET is required when FLEET_AGENT_AUTH_ENABLED is true")
	}

	if v := os.Getenv("FLEET_AGENT_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	} else {
		cfg.ClientID = cfg.Hostname
	}

	if interval := os.Getenv("FLEET_AGENT_HEARTBEAT_INTERVAL"); interval != "" {
		seconds, err := strconv.Atoi(interval)
		if err != nil {
			return nil, errors.New("FLEET_AGENT_HEARTBEAT_INTERVAL must be a number (seconds)")
		}
		cfg.HeartbeatInterval = time.Duration(seconds) * time.Second
	}

	if level := os.Getenv("FLEET_AGENT_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if hostname := os.Getenv("FLEET_AGENT_HOSTNAME"); hostname != "" {
		cfg.Hostname = hostname
	}

	return cfg, nil
}

// Validate checks that the agent configuration is usable.
func (c *AgentConfig) Validate() error {
	if c.ServerAddr == "" {
		return errors.New("server address is required")
	}
	if c.AuthEnabled && c.SharedSecret == "" {
		return errors.New("shared secret is required when auth is enabled")
	}
	if c.HeartbeatInterval < time.Second {
		return errors.New("heartbeat interval must be at least 1 second")
	}
	return nil
}
