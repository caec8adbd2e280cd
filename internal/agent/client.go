// Package agent implements the demo fleetd agent: it dials the server
// over raw TCP, completes the C2 challenge-response handshake when
// enabled, reports host state on a heartbeat, and executes dispatched
// commands. It is adapted from the teacher's WebSocketClient reconnect
// idiom onto the raw TCP framing the wire protocol actually requires.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fleetops/fleetd/internal/auth"
	"github.com/fleetops/fleetd/internal/config"
	"github.com/fleetops/fleetd/internal/protocol"
	"github.com/rs/zerolog"
)

// Client manages one TCP connection to fleetd: dialing, the optional
// auth handshake, and exposing a read channel plus a serialized write
// path, mirroring the teacher's WebSocketClient shape.
type Client struct {
	cfg   *config.AgentConfig
	log   zerolog.Logger
	authr *auth.Authenticator

	mu        sync.Mutex
	conn      net.Conn
	writer    *protocol.Writer
	connected bool

	incoming chan Frame
	backoff  time.Duration
}

// Frame is one parsed line delivered to the agent's message loop: a
// JSON envelope's type and raw payload, or a legacy text frame.
type Frame struct {
	Type    string
	Raw     json.RawMessage
	Legacy  string
	IsJSON  bool
}

// NewClient builds a Client for cfg.
func NewClient(cfg *config.AgentConfig, log zerolog.Logger) *Client {
	return &Client{
		cfg:      cfg,
		log:      log.With().Str("component", "agent.client").Logger(),
		authr:    auth.New(cfg.SharedSecret),
		incoming: make(chan Frame, 32),
		backoff:  cfg.InitialBackoff,
	}
}

// Messages returns the channel of frames read off the connection.
func (c *Client) Messages() <-chan Frame { return c.incoming }

// Run dials, reconnecting with exponential backoff, until ctx is
// canceled.
func (c *Client) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.connect(ctx); err != nil {
			c.log.Warn().Err(err).Dur("backoff", c.backoff).Msg("connect failed, retrying")
			if !c.waitBackoff(ctx) {
				return
			}
			continue
		}
		c.backoff = c.cfg.InitialBackoff
		c.readLoop(ctx)
		c.markDisconnected()
	}
}

func (c *Client) waitBackoff(ctx context.Context) bool {
	t := time.NewTimer(c.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
	}
	c.backoff *= 2
	if c.backoff > c.cfg.MaxBackoff {
		c.backoff = c.cfg.MaxBackoff
	}
	return true
}

func (c *Client) connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("agent: dial %s: %w", c.cfg.ServerAddr, err)
	}

	if c.cfg.AuthEnabled {
		if err := c.handshake(conn); err != nil {
			_ = conn.Close()
			return err
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.writer = protocol.NewWriter(conn)
	c.connected = true
	c.mu.Unlock()

	c.log.Info().Str("server", c.cfg.ServerAddr).Msg("connected")
	return nil
}

// handshake reads the server's auth_challenge and replies with a
// signed auth_response, blocking until the server's auth_result arrives.
func (c *Client) handshake(conn net.Conn) error {
	reader := protocol.NewReader(conn)

	line, err := reader.ReadLine()
	if err != nil {
		return fmt.Errorf("agent: read auth_challenge: %w", err)
	}
	typ, raw, err := protocol.Decode([]byte(line))
	if err != nil || typ != protocol.TypeAuthChallenge {
		return fmt.Errorf("agent: expected auth_challenge, got %q", line)
	}
	var challenge protocol.AuthChallengePayload
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return fmt.Errorf("agent: malformed auth_challenge: %w", err)
	}

	resp, err := c.authr.GenerateResponse(c.cfg.ClientID, auth.Challenge{
		Nonce:     challenge.Nonce,
		Timestamp: challenge.Timestamp,
	}, uint64(time.Now().Unix()))
	if err != nil {
		return fmt.Errorf("agent: generate auth response: %w", err)
	}

	writer := protocol.NewWriter(conn)
	if err := writer.WriteAuthMessage(protocol.TypeAuthResponse, protocol.AuthResponsePayload{
		ClientID:     resp.ClientID,
		Nonce:        resp.Nonce,
		ResponseHash: resp.ResponseHash,
		Timestamp:    resp.Timestamp,
	}); err != nil {
		return fmt.Errorf("agent: send auth response: %w", err)
	}

	resultLine, err := reader.ReadLine()
	if err != nil {
		return fmt.Errorf("agent: read auth_result: %w", err)
	}
	typ, raw, err = protocol.Decode([]byte(resultLine))
	if err != nil || typ != protocol.TypeAuthResult {
		return fmt.Errorf("agent: expected auth_result, got %q", resultLine)
	}
	var result protocol.AuthResultPayload
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("agent: malformed auth_result: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("agent: authentication rejected: %s", result.Message)
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	reader := protocol.NewReader(conn)
	for {
		if ctx.Err() != nil {
			return
		}
		line, err := reader.ReadLine()
		if err != nil {
			c.log.Warn().Err(err).Msg("connection closed")
			return
		}
		c.dispatchLine(line)
	}
}

func (c *Client) dispatchLine(line string) {
	if protocol.IsAck(line) {
		c.log.Debug().Msg("received ACK")
		return
	}
	if id, cmd, ok := protocol.DecodeCommand(line); ok {
		c.incoming <- Frame{Type: "command", Legacy: id + "::" + cmd}
		return
	}
	if text, ok := protocol.DecodeBroadcast(line); ok {
		c.incoming <- Frame{Type: "broadcast", Legacy: text}
		return
	}
	typ, raw, err := protocol.Decode([]byte(line))
	if err != nil {
		c.log.Warn().Str("line", line).Msg("unrecognized frame")
		return
	}
	c.incoming <- Frame{Type: typ, Raw: raw, IsJSON: true}
}

func (c *Client) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Send writes a JSON envelope frame to the server.
func (c *Client) Send(typ string, payload any) error {
	c.mu.Lock()
	w := c.writer
	c.mu.Unlock()
	if w == nil {
		return fmt.Errorf("agent: not connected")
	}
	return w.WriteMessage(typ, payload)
}

// SendLine writes a raw line (a legacy frame) to the server.
func (c *Client) SendLine(line string) error {
	c.mu.Lock()
	w := c.writer
	c.mu.Unlock()
	if w == nil {
		return fmt.Errorf("agent: not connected")
	}
	return w.WriteLine(line)
}

// IsConnected reports whether the client currently holds a live
// connection.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close closes the active connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
