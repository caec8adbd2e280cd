// Package server implements C6, the per-connection handler, and the
// TCP listener/sweeper lifecycle that ties the codec, authenticator,
// policy, registry, and tracker together into the fleet's session and
// dispatch engine.
package server

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fleetops/fleetd/internal/auth"
	"github.com/fleetops/fleetd/internal/clock"
	"github.com/fleetops/fleetd/internal/metrics"
	"github.com/fleetops/fleetd/internal/policy"
	"github.com/fleetops/fleetd/internal/protocol"
	"github.com/fleetops/fleetd/internal/registry"
	"github.com/fleetops/fleetd/internal/tracker"
	"github.com/rs/zerolog"
)

// Config controls the TCP listener's behavior. Zero values fall back
// to the defaults documented in spec.md §9.
type Config struct {
	Addr            string
	SharedSecret    string
	AuthEnabled     bool
	MaxConnections  int
	CleanupInterval time.Duration
	CommandTimeout  time.Duration
	ClientTimeout   time.Duration
}

const (
	defaultCleanupInterval = 10 * time.Second
	defaultCommandTimeout  = 5 * time.Minute
	defaultClientTimeout   = 30 * time.Second
)

// Server owns the TCP listener plus the fleet's registry, tracker, and
// policy.
type Server struct {
	cfg   Config
	log   zerolog.Logger
	clk   clock.Clock
	authr *auth.Authenticator
	pol   *policy.Policy
	Reg   *registry.Registry
	Trk   *tracker.Tracker
	Met   *metrics.Metrics

	ln   net.Listener
	done chan struct{}
	wg   sync.WaitGroup
}

// WithMetrics attaches a Metrics instance the server updates as it
// accepts connections and dispatches commands. Optional: a nil Met is
// simply skipped on every update.
func (s *Server) WithMetrics(m *metrics.Metrics) *Server {
	s.Met = m
	return s
}

// New builds a Server. pol may be nil, in which case policy.Default()
// is used.
func New(cfg Config, pol *policy.Policy, clk clock.Clock, log zerolog.Logger) *Server {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.ClientTimeout <= 0 {
		cfg.ClientTimeout = defaultClientTimeout
	}
	if pol == nil {
		pol = policy.Default()
	}
	return &Server{
		cfg:   cfg,
		log:   log.With().Str("component", "server").Logger(),
		clk:   clk,
		authr: auth.New(cfg.SharedSecret),
		pol:   pol,
		Reg:   registry.New(clk, cfg.MaxConnections),
		Trk:   tracker.New(clk, 0),
		done:  make(chan struct{}),
	}
}

// ListenAndServe binds the TCP listener and runs the accept loop and
// sweepers until Close is called.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln
	s.log.Info().Str("addr", s.cfg.Addr).Bool("auth_enabled", s.cfg.AuthEnabled).Msg("listening for agent connections")

	s.wg.Add(1)
	go s.acceptLoop()

	s.wg.Add(1)
	go s.sweepLoop()

	return nil
}

// Close stops accepting connections and waits for background
// goroutines to exit.
func (s *Server) Close() error {
	close(s.done)
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		raw, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				s.log.Error().Err(err).Msg("accept failed")
				continue
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(raw)
		}()
	}
}

func (s *Server) serveConn(raw net.Conn) {
	peer := raw.RemoteAddr().String()
	s.log.Info().Str("peer", peer).Msg("accepted connection")
	if s.Met != nil {
		s.Met.ActiveConnections.Inc()
		defer s.Met.ActiveConnections.Dec()
	}
	conn := NewConn(raw)
	h := newHandler(conn, s.Reg, s.Trk, s.authr, s.cfg.AuthEnabled, s.clk, s.log.With().Str("peer", peer).Logger())
	h.run(raw)
	s.log.Info().Str("peer", peer).Msg("connection closed")
}

// sweepLoop periodically clears pending commands that never completed
// and registry entries that have gone stale, on the same time.Ticker
// idiom the retrieval pack's dashboard hub uses for its own
// fixed-interval housekeeping loops.
func (s *Server) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			expired := s.Trk.CleanupExpired(s.cfg.CommandTimeout)
			if len(expired) > 0 {
				s.log.Warn().Int("count", len(expired)).Msg("swept expired pending commands")
			}
			stale := s.Reg.Sweep(s.cfg.ClientTimeout)
			if len(stale) > 0 {
				s.log.Info().Int("count", len(stale)).Msg("swept expired fleet registry entries")
			}
		}
	}
}

// Dispatch validates command against policy, then sends it to clientID
// as a CMD:<id>::<command> frame, returning the minted command ID.
func (s *Server) Dispatch(clientID, command string) (string, error) {
	if result := s.pol.Validate(command); !result.Allowed {
		if s.Met != nil {
			s.Met.CommandsBlocked.Inc()
		}
		return "", &BlockedError{Reason: result.Reason}
	}

	conn, ok := s.Reg.Conn(clientID)
	if !ok {
		return "", ErrNotConnected
	}

	commandID := s.Trk.CreateCommand(clientID, command)
	frame := protocol.EncodeCommand(commandID, command)
	if err := conn.Send(frame); err != nil {
		return "", fmt.Errorf("server: dispatch to %s: %w", clientID, err)
	}
	s.Trk.MarkExecuting(commandID)
	if s.Met != nil {
		s.Met.CommandsDispatched.Inc()
	}
	s.log.Info().Str("client_id", clientID).Str("command_id", commandID).Msg("command dispatched")
	return commandID, nil
}

// Broadcast sends text to every connected client and returns any
// per-client send errors.
func (s *Server) Broadcast(text string) map[string]error {
	if s.Met != nil {
		s.Met.BroadcastsSent.Inc()
	}
	return s.Reg.Broadcast(text)
}
