// Command fleetd runs the TCP session/dispatch engine plus its HTTP
// API surface: agents dial in on the TCP listener, operators dispatch
// and inspect commands over HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetops/fleetd/internal/api"
	"github.com/fleetops/fleetd/internal/clock"
	"github.com/fleetops/fleetd/internal/config"
	"github.com/fleetops/fleetd/internal/metrics"
	"github.com/fleetops/fleetd/internal/policy"
	"github.com/fleetops/fleetd/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	cfg, err := config.LoadServerConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	core := server.New(server.Config{
		Addr:            cfg.TCPAddr,
		SharedSecret:    cfg.SharedSecret,
		AuthEnabled:     cfg.AuthEnabled,
		MaxConnections:  cfg.MaxConnections,
		CleanupInterval: cfg.CleanupInterval,
		CommandTimeout:  cfg.CommandTimeout,
		ClientTimeout:   cfg.ClientTimeout,
	}, policy.Default(), clock.Real{}, log)

	met := metrics.New(cfg.PrometheusNamespace, prometheus.DefaultRegisterer)
	core.WithMetrics(met)

	if err := core.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("failed to start TCP listener")
	}

	db, err := api.InitDatabase(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer func() { _ = db.Close() }()

	apiCfg := api.FromServerConfig(cfg, os.Getenv("FLEETD_PASSWORD_HASH"), os.Getenv("FLEETD_TOTP_SECRET"), nil)
	httpServer := api.New(apiCfg, core, db, log)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		if err := httpServer.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-shutdownCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown error")
	}
	if err := core.Close(); err != nil {
		log.Error().Err(err).Msg("TCP listener shutdown error")
	}

	log.Info().Msg("fleetd shutdown complete")
}
