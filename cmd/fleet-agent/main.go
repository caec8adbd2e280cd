// Command fleet-agent is the demo agent: it dials fleetd over raw TCP,
// completes the challenge-response handshake when enabled, reports
// host state on a heartbeat, and executes dispatched commands.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fleetops/fleetd/internal/agent"
	"github.com/fleetops/fleetd/internal/config"
	"github.com/rs/zerolog"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.BoolVar(showVersion, "v", false, "print version and exit")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Printf("fleet-agent %s\n", agent.Version)
		os.Exit(0)
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	cfg, err := config.LoadAgentConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	switch cfg.LogLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().
		Str("version", agent.Version).
		Str("client_id", cfg.ClientID).
		Str("server", cfg.ServerAddr).
		Msg("fleet-agent starting")

	a := agent.New(cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("received signal")
		cancel()
	}()

	if err := a.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("agent failed")
	}
}

func printUsage() {
	fmt.Printf(`Usage: fleet-agent [options]

fleet-agent %s - connects to fleetd for fleet management.

Options:
  -v, --version   Print version and exit

Environment variables:
  FLEET_AGENT_SERVER_ADDR          fleetd TCP address, host:port (required)
  FLEET_AGENT_AUTH_ENABLED         Require TCP challenge-response auth (default: true)
  FLEET_AGENT_AUTH_SECRET          Shared secret (required when auth enabled)
  FLEET_AGENT_CLIENT_ID            Override client ID (default: hostname)
  FLEET_AGENT_HOSTNAME             Override hostname detection
  FLEET_AGENT_HEARTBEAT_INTERVAL   Heartbeat interval in seconds (default: 30)
  FLEET_AGENT_LOG_LEVEL            Log level: debug, info, warn, error
`, agent.Version)
}
