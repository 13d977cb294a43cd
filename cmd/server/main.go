// Sentinel - Tourist Safety Realtime Event Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Package main is the entry point for the Sentinel server.
//
// Sentinel tracks tourist locations against a catalog of safety zones and
// pushes realtime safety events (zone transitions, SOS alerts, alert
// status changes, responder chat) to connected clients over WebSocket.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered settings from defaults, config file, and
//     environment variables (Koanf v2)
//  2. Mutation queue: BadgerDB-backed durable queue for writes that
//     could not reach the store
//  3. Geofence monitor: zone catalog with exit hysteresis, refreshed
//     periodically from the zone source
//  4. Event bus: in-process topic fan-out with per-connection buffers
//  5. Session gateway: WebSocket endpoint with explicit topic rejoin
//  6. HTTP server: REST API under /api plus /ws, /health, /metrics
//
// All long-running components run under a suture supervisor tree with
// data, messaging, and api layers for failure isolation.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables with the SENTINEL_ prefix
//   - Config file (config.yaml, or SENTINEL_CONFIG_PATH)
//   - Built-in defaults
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops accepting new connections
//   - Waits for in-flight requests to complete
//   - Closes WebSocket sessions and detaches them from the bus
//   - Closes the mutation queue, flushing Badger to disk
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/sentinel/internal/api"
	"github.com/tomtom215/sentinel/internal/bus"
	"github.com/tomtom215/sentinel/internal/config"
	"github.com/tomtom215/sentinel/internal/gateway"
	"github.com/tomtom215/sentinel/internal/geofence"
	"github.com/tomtom215/sentinel/internal/logging"
	"github.com/tomtom215/sentinel/internal/queue"
	"github.com/tomtom215/sentinel/internal/store"
	"github.com/tomtom215/sentinel/internal/supervisor"
	"github.com/tomtom215/sentinel/internal/supervisor/services"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(cfg.Logging.ToLogging())

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Str("queue_path", cfg.Queue.Path).
		Int("zones", len(cfg.Zones)).
		Msg("Starting Sentinel")

	// Durable mutation queue
	q, err := queue.Open(cfg.Queue.ToQueue())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open mutation queue")
	}
	defer func() {
		if err := q.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing mutation queue")
		}
	}()

	// Geofence monitor seeded from the configured zone catalog
	monitor := geofence.New(geofence.Config{ExitHysteresis: cfg.Geofence.ExitHysteresis})
	source := geofence.NewStaticSource(cfg.SeedZones())
	if err := monitor.Refresh(context.Background(), source); err != nil {
		logging.Fatal().Err(err).Msg("Failed to load zone catalog")
	}
	logging.Info().Int("zones", len(monitor.Zones())).Msg("Zone catalog loaded")

	// Event bus and WebSocket gateway
	eventBus := bus.New(cfg.Bus.BufferSize)
	gw := gateway.New(eventBus, nil)

	// Persistence and the queue sink that replays into it. The breaker
	// keeps drain cycles from hammering an unavailable store.
	memory := store.NewMemory()
	sink := queue.NewBreakerSink("store", store.NewSink(memory, memory))

	handlers := api.NewHandlers(monitor, eventBus, q, memory, memory)
	router := api.NewRouter(api.RouterConfig{
		CORSOrigins:       cfg.Server.CORSOrigins,
		IngestRatePerMin:  cfg.Server.IngestRatePerMin,
		RequestRatePerMin: cfg.Server.RequestRatePerMin,
	}, handlers, gw)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Supervisor tree: data (queue drain), messaging (zone refresh), api
	// (HTTP server). sutureslog needs an slog.Logger, so bridge zerolog.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddDataService(queue.NewDrainer(q, sink))
	tree.AddMessagingService(geofence.NewRefresher(monitor, source, cfg.Geofence.RefreshInterval))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain the error channel until the supervisor finishes.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	// Close live WebSocket sessions before the queue flushes to disk.
	gw.Shutdown()

	logging.Info().Msg("Sentinel stopped gracefully")
}
