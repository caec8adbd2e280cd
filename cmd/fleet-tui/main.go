// Command fleet-tui is a live terminal fleet monitor: it polls
// fleetd's HTTP API and renders connected hosts in a scrolling table,
// grounded on the retrieval pack's bubbletea dashboard idiom but
// polling HTTP instead of subscribing to an IPC event bus.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"
)

func main() {
	addr := pflag.String("addr", envOrDefault("FLEETCTL_ADDR", "http://127.0.0.1:8080"), "fleetd HTTP API address")
	password := pflag.String("password", os.Getenv("FLEETCTL_PASSWORD"), "operator password")
	pflag.Parse()

	if *password == "" {
		fmt.Fprintln(os.Stderr, "fleet-tui: --password (or FLEETCTL_PASSWORD) is required")
		os.Exit(1)
	}

	client, err := login(*addr, *password)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fleet-tui:", err)
		os.Exit(1)
	}

	m := newModel(client)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "fleet-tui:", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type pollClient struct {
	addr string
	http *http.Client
}

func login(addr, password string) (*pollClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	hc := &http.Client{Jar: jar}
	resp, err := hc.PostForm(addr+"/login", url.Values{"password": {password}})
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("login: unexpected status %s", resp.Status)
	}
	return &pollClient{addr: addr, http: hc}, nil
}

func (c *pollClient) fetchHosts() ([]hostRow, error) {
	resp, err := c.http.Get(c.addr + "/api/hosts")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	var hosts []hostRow
	if err := json.NewDecoder(resp.Body).Decode(&hosts); err != nil {
		return nil, err
	}
	return hosts, nil
}

type hostRow struct {
	ClientID  string    `json:"client_id"`
	Connected bool      `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
}
