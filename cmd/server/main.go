// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/drivepulse/internal/alerts"
	"github.com/tomtom215/drivepulse/internal/api"
	"github.com/tomtom215/drivepulse/internal/config"
	"github.com/tomtom215/drivepulse/internal/logging"
	"github.com/tomtom215/drivepulse/internal/metrics"
	"github.com/tomtom215/drivepulse/internal/notify"
	"github.com/tomtom215/drivepulse/internal/store"
	"github.com/tomtom215/drivepulse/internal/supervisor"
	"github.com/tomtom215/drivepulse/internal/supervisor/services"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})
	logging.Info().
		Str("environment", cfg.Server.Environment).
		Str("addr", cfg.Server.Addr()).
		Msg("Starting Drivepulse")

	if cfg.HasWildcardCORS() && cfg.IsProduction() {
		logging.Warn().Msg("CORS allows any origin in production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()

	mongoStore, err := store.New(ctx, cfg.Database, reg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create MongoDB client")
	}

	var gateway store.Gateway = mongoStore
	if cfg.Database.CircuitBreaker {
		gateway = store.NewCircuitBreakerStore(mongoStore, reg)
	}

	pingCtx, cancelPing := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
	if err := gateway.Ping(pingCtx); err != nil {
		logging.Warn().Err(err).Msg("MongoDB not reachable, continuing without a verified connection")
	} else {
		logging.Info().Msg("Connected to MongoDB")
	}
	cancelPing()

	registry := notify.NewRegistry(notify.Options{
		BufferSize: cfg.Notify.BufferSize,
		PruneEmpty: cfg.Notify.PruneEmpty,
		Metrics:    reg,
	})

	handler := api.NewHandler(gateway, reg, registry, api.HandlerOptions{
		Keepalive: cfg.Notify.Keepalive,
	})
	router := api.NewRouter(handler, api.NewChiMiddleware(api.ChiMiddlewareConfigFromSecurity(cfg.Security)), reg)

	// Streaming responses have no write deadline.
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.SetupChi(),
		ReadTimeout:       cfg.Server.Timeout,
		ReadHeaderTimeout: cfg.Server.Timeout,
		IdleTimeout:       2 * cfg.Server.Timeout,
	}
	// Shutdown does not wait for hijacked or streaming connections to end on
	// their own; closing the registry ends every SSE and WebSocket stream.
	server.RegisterOnShutdown(registry.Close)

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: shutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddMessagingService(registry)
	if cfg.Alerts.Enabled {
		tree.AddMessagingService(alerts.NewWatcher(gateway, registry, reg))
		logging.Info().Msg("Accident alerts enabled")
	}
	tree.AddAPIService(services.NewHTTPServerService(server, server.Addr, shutdownTimeout))

	errCh := tree.ServeBackground(ctx)

	var treeErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received")
		treeErr = <-errCh
	case treeErr = <-errCh:
	}
	stop()
	if treeErr != nil && !errors.Is(treeErr, context.Canceled) {
		logging.Error().Err(treeErr).Msg("Supervisor tree error")
	}

	if unstopped, err := tree.UnstoppedServiceReport(); err == nil {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
		}
	}

	closeCtx, cancelClose := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelClose()
	if err := mongoStore.Close(closeCtx); err != nil {
		logging.Error().Err(err).Msg("Failed to disconnect from MongoDB")
	}

	logging.Info().Msg("Drivepulse stopped")
}
