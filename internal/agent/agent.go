// Package agent implements the demo fleetd agent: it dials the server
// over raw TCP, completes the C2 challenge-response handshake when
// enabled, reports host state on a heartbeat, and executes dispatched
// commands. It is adapted from the teacher's WebSocket-based Agent
// coordinator onto the raw TCP framing the wire protocol actually
// requires.
package agent

import (
	"context"
	"time"

	"github.com/fleetops/fleetd/internal/config"
	"github.com/fleetops/fleetd/internal/protocol"
	"github.com/rs/zerolog"
)

// Agent coordinates one Client connection: it sends periodic client_info
// heartbeats and executes commands the server dispatches.
type Agent struct {
	cfg *config.AgentConfig
	cl  *Client
	log zerolog.Logger
}

// New creates a new agent with the given configuration.
func New(cfg *config.AgentConfig, log zerolog.Logger) *Agent {
	log = log.With().Str("component", "agent").Str("client_id", cfg.ClientID).Logger()
	return &Agent{
		cfg: cfg,
		cl:  NewClient(cfg, log),
		log: log,
	}
}

// Run starts the agent and blocks until ctx is canceled.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info().
		Str("server", a.cfg.ServerAddr).
		Bool("auth_enabled", a.cfg.AuthEnabled).
		Msg("starting agent")

	go a.cl.Run(ctx)

	heartbeat := time.NewTicker(a.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = a.cl.Close()
			a.log.Info().Msg("agent stopped")
			return nil
		case <-heartbeat.C:
			a.sendClientInfo(ctx)
		case frame, ok := <-a.cl.Messages():
			if !ok {
				return nil
			}
			a.handleFrame(ctx, frame)
		}
	}
}

func (a *Agent) sendClientInfo(ctx context.Context) {
	if !a.cl.IsConnected() {
		return
	}
	info := collectHostInfo(ctx, a.cfg.Hostname)
	payload := protocol.ClientInfoPayload{
		ClientID:   a.cfg.ClientID,
		SystemInfo: info,
		LastSeen:   time.Now().Unix(),
	}
	if err := a.cl.Send(protocol.TypeClientInfo, payload); err != nil {
		a.log.Warn().Err(err).Msg("failed to send client_info")
	}
}

func (a *Agent) handleFrame(ctx context.Context, frame Frame) {
	switch frame.Type {
	case "command":
		commandID, command, ok := splitLegacyCommand(frame.Legacy)
		if !ok {
			a.log.Warn().Str("frame", frame.Legacy).Msg("malformed command frame")
			return
		}
		go a.executeAndReply(ctx, commandID, command)
	case "broadcast":
		a.log.Info().Str("message", frame.Legacy).Msg("received broadcast")
	default:
		if frame.IsJSON {
			a.log.Debug().Str("type", frame.Type).RawJSON("payload", frame.Raw).Msg("received frame")
		}
	}
}

func splitLegacyCommand(legacy string) (id, command string, ok bool) {
	for i := 0; i+1 < len(legacy); i++ {
		if legacy[i] == ':' && legacy[i+1] == ':' {
			return legacy[:i], legacy[i+2:], true
		}
	}
	return "", "", false
}

func (a *Agent) executeAndReply(ctx context.Context, commandID, command string) {
	a.log.Info().Str("command_id", commandID).Str("command", command).Msg("executing dispatched command")
	result := runCommand(ctx, command)
	payload := protocol.CommandResponsePayload{
		CommandID:   commandID,
		ClientID:    a.cfg.ClientID,
		Command:     command,
		Output:      result.Stdout,
		ErrorOutput: result.Stderr,
		ExitCode:    result.ExitCode,
		ExecutedAt:  time.Now().Unix(),
	}
	if err := a.cl.Send(protocol.TypeCommandResponse, payload); err != nil {
		a.log.Warn().Err(err).Str("command_id", commandID).Msg("failed to send command_response")
	}
}

// Version is the agent version.
const Version = "1.0.0"
