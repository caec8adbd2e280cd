package server

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"time"

	"github.com/fleetops/fleetd/internal/auth"
	"github.com/fleetops/fleetd/internal/clock"
	"github.com/fleetops/fleetd/internal/protocol"
	"github.com/fleetops/fleetd/internal/registry"
	"github.com/fleetops/fleetd/internal/tracker"
	"github.com/rs/zerolog"
)

// connState is this connection's position in the
// Connected -> [Authenticating] -> Authenticated/AuthFailed -> Closed
// state machine.
type connState int

const (
	stateConnected connState = iota
	stateAuthenticating
	stateAuthenticated
	stateAuthFailed
)

// authReadTimeout bounds how long the server waits for an
// auth_response once a challenge has been sent, the fix the design
// notes' open question calls for: an agent that never replies must not
// pin a goroutine and a registry slot forever.
const authReadTimeout = 10 * time.Second

// handler drives one accepted connection through the auth handshake
// and then the steady-state client_info/command_response read loop.
type handler struct {
	conn     *Conn
	reg      *registry.Registry
	trk      *tracker.Tracker
	authr    *auth.Authenticator
	authOn   bool
	clk      clock.Clock
	log      zerolog.Logger

	state             connState
	clientID          string
	challengeNonce    string
	challengeTimestamp uint64
}

func newHandler(conn *Conn, reg *registry.Registry, trk *tracker.Tracker, authr *auth.Authenticator, authOn bool, clk clock.Clock, log zerolog.Logger) *handler {
	return &handler{
		conn:   conn,
		reg:    reg,
		trk:    trk,
		authr:  authr,
		authOn: authOn,
		clk:    clk,
		log:    log,
		state:  stateConnected,
	}
}

// run drives the connection until it closes or fails, then unregisters
// it from the fleet registry.
func (h *handler) run(raw net.Conn) {
	defer func() {
		if h.clientID != "" {
			h.reg.Unregister(h.clientID)
		}
		_ = h.conn.Close()
	}()

	reader := protocol.NewReader(raw)

	if h.authOn {
		if !h.runHandshake(raw, reader) {
			return
		}
	} else {
		h.state = stateAuthenticated
	}

	for {
		line, err := reader.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.log.Warn().Err(err).Str("client_id", h.clientID).Msg("connection read failed")
			}
			return
		}
		h.handleLine(line)
	}
}

// runHandshake sends the auth challenge and blocks (bounded by
// authReadTimeout) for the client's response, reading off the same
// Reader the steady-state loop will continue using afterward so no
// buffered bytes past the auth line are lost. It returns false if the
// caller should stop processing the connection.
func (h *handler) runHandshake(raw net.Conn, reader *protocol.Reader) bool {
	h.state = stateAuthenticating
	now := uint64(h.clk.Now().Unix())
	challenge := auth.GenerateChallenge(now)
	h.challengeNonce = challenge.Nonce
	h.challengeTimestamp = challenge.Timestamp

	if err := h.conn.SendAuth(protocol.TypeAuthChallenge, protocol.AuthChallengePayload{
		Nonce:     challenge.Nonce,
		Timestamp: challenge.Timestamp,
	}); err != nil {
		h.log.Error().Err(err).Msg("failed to send auth challenge")
		return false
	}

	_ = raw.SetReadDeadline(time.Now().Add(authReadTimeout))
	line, err := reader.ReadLine()
	_ = raw.SetReadDeadline(time.Time{})
	if err != nil {
		h.log.Warn().Err(err).Msg("no auth response received within the handshake window")
		return false
	}

	typ, raw2, err := protocol.Decode([]byte(line))
	if err != nil || typ != protocol.TypeAuthResponse {
		h.log.Warn().Str("line", line).Msg("expected an auth_response frame")
		h.sendAuthResult(false, "expected auth_response")
		return false
	}
	var payload protocol.AuthResponsePayload
	if err := json.Unmarshal(raw2, &payload); err != nil {
		h.log.Warn().Err(err).Msg("malformed auth_response payload")
		h.sendAuthResult(false, "malformed auth_response")
		return false
	}

	resp := auth.Response{
		ClientID:     payload.ClientID,
		Nonce:        payload.Nonce,
		ResponseHash: payload.ResponseHash,
		Timestamp:    payload.Timestamp,
	}
	valid, err := h.authr.VerifyResponse(resp, h.challengeNonce, h.challengeTimestamp, uint64(h.clk.Now().Unix()))
	if err != nil {
		h.log.Error().Err(err).Msg("auth verification error")
		valid = false
	}
	if !valid {
		h.state = stateAuthFailed
		h.log.Warn().Str("client_id", payload.ClientID).Msg("authentication failed")
		h.sendAuthResult(false, "Authentication failed")
		return false
	}

	h.state = stateAuthenticated
	h.clientID = payload.ClientID
	h.log.Info().Str("client_id", h.clientID).Msg("authentication successful")
	h.sendAuthResult(true, "Authentication successful")
	return true
}

func (h *handler) sendAuthResult(success bool, message string) {
	_ = h.conn.SendAuth(protocol.TypeAuthResult, protocol.AuthResultPayload{Success: success, Message: message})
}

// handleLine dispatches one line of input according to the connection's
// current state.
func (h *handler) handleLine(line string) {
	if line == "" {
		return
	}
	if protocol.IsCommandEcho(line) {
		h.log.Warn().Str("client_id", h.clientID).Str("line", line).Msg("ignoring a CMD: frame echoed back on the read side")
		return
	}

	typ, raw, err := protocol.Decode([]byte(line))
	if err != nil {
		h.log.Error().Err(err).Str("line", line).Msg("failed to parse client frame")
		return
	}

	switch typ {
	case protocol.TypeClientInfo:
		h.handleClientInfo(raw)
	case protocol.TypeCommandResponse:
		h.handleCommandResponse(raw)
	case protocol.TypeAuthChallenge, protocol.TypeAuthResult:
		h.log.Warn().Str("client_id", h.clientID).Str("type", typ).Msg("unexpected auth message type from client")
	default:
		h.log.Warn().Str("type", typ).Msg("unknown message type")
	}
}

func (h *handler) handleClientInfo(raw json.RawMessage) {
	if h.authOn && h.state != stateAuthenticated {
		h.log.Warn().Msg("received client_info before authentication")
		return
	}

	var payload protocol.ClientInfoPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.log.Error().Err(err).Msg("failed to parse client_info payload")
		return
	}

	if h.clientID == "" {
		h.clientID = payload.ClientID
	}

	if err := h.reg.Register(h.clientID, h.conn); err != nil {
		h.log.Error().Err(err).Str("client_id", h.clientID).Msg("failed to register connection")
		_ = h.conn.Send("CONNECTION_REJECTED: Too many connections")
		return
	}

	h.reg.UpdateClientInfo(registry.ClientInfo{
		ClientID:    payload.ClientID,
		SystemInfo:  payload.SystemInfo,
		VersionInfo: payload.VersionInfo,
		AppInfo:     payload.AppInfo,
	})

	if err := h.conn.Send(protocol.Ack()); err != nil {
		h.log.Error().Err(err).Str("client_id", h.clientID).Msg("failed to send ACK")
	}
}

func (h *handler) handleCommandResponse(raw json.RawMessage) {
	if h.authOn && h.state != stateAuthenticated {
		h.log.Warn().Msg("received command_response before authentication")
		return
	}

	var payload protocol.CommandResponsePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.log.Error().Err(err).Msg("failed to parse command_response payload")
		return
	}

	h.trk.StoreResult(tracker.Result{
		CommandID:   payload.CommandID,
		ClientID:    payload.ClientID,
		Command:     payload.Command,
		Output:      payload.Output,
		ErrorOutput: payload.ErrorOutput,
		ExitCode:    payload.ExitCode,
		ExecutedAt:  time.Unix(payload.ExecutedAt, 0),
		ReceivedAt:  h.clk.Now(),
	})
	h.log.Info().Str("client_id", payload.ClientID).Str("command_id", payload.CommandID).Int("exit_code", payload.ExitCode).Msg("command result received")
}
