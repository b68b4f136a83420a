// ConfluenceSyncService - Smartsheet/Confluence Mirroring and Task Acknowledgment Workflow
// Copyright 2026 Chip E. (chip-edw)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chip-edw/ConfluenceSyncService-sub000

// Command server runs the task acknowledgment workflow engine: the
// notification/chase scheduler and the HTTP surface for acknowledgment
// links, health and metrics, under a suture supervision tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/api"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/collab"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/config"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/duedate"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/logging"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/scheduler"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/signer"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/store"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/supervisor"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/supervisor/services"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/workflow"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Str("ack_base_url", cfg.Ack.BaseURL).
		Msg("Starting ConfluenceSyncService workflow engine")

	db, err := store.Open(store.Config{
		Path:           cfg.Database.Path,
		BusyRetries:    cfg.Database.BusyRetries,
		BusyRetryDelay: cfg.Database.BusyRetryDelay,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open task store")
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logging.Error().Err(cerr).Msg("Failed to close task store")
		}
	}()

	sig, err := signer.New(cfg.Ack.Secret)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create link signer")
	}

	calc, err := duedate.NewCalculator(regionConfigs(cfg))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build due-date calculator")
	}

	logger := logging.Logger()
	resolver := workflow.New(workflow.Config{
		CategorySequence: cfg.Workflow.CategorySequence,
	}, logger)

	// External collaborators. Deployments front these with the real
	// Smartsheet and Teams clients; the defaults log what they would do.
	channel := collab.NewLogOnlyChannel(logger)
	updater := collab.NoopUpdater{}
	identity := collab.HeaderIdentityResolver{}
	anchors := collab.StaticAnchorSource{}

	sched := scheduler.New(db, resolver, calc, sig, channel, updater, anchors, cfg.RegionFor, &logger, scheduler.Config{
		Enabled:                   cfg.Scheduler.Enabled,
		TickInterval:              cfg.Scheduler.TickInterval,
		MaxConcurrentCustomers:    cfg.Scheduler.MaxConcurrentCustomers,
		BatchSize:                 cfg.Scheduler.BatchSize,
		ChaseIntervalBusinessDays: cfg.Scheduler.ChaseIntervalBusinessDays,
		GraceBusinessDays:         cfg.Ack.GraceBusinessDays,
		BaseURL:                   cfg.Ack.BaseURL,
		FailureThreshold:          cfg.Scheduler.FailureThreshold,
		CoolOff:                   cfg.Scheduler.CoolOff,
		SendRatePerSecond:         cfg.Scheduler.SendRatePerSecond,
		ThreadFallbackNewRoot:     cfg.Scheduler.ThreadFallbackNewRoot,
		DryRun:                    cfg.Scheduler.DryRun,
	})

	handler := api.NewHandler(db, sig, updater, channel, identity, &logger)
	router := api.NewRouter(handler, api.RouterConfig{
		RateLimitReqs:   cfg.Server.RateLimitReqs,
		RateLimitWindow: cfg.Server.RateLimitWindow,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge zerolog to slog for sutureslog
	slogLogger := logging.NewSlogLogger()

	tree, err := supervisor.NewTree(slogLogger, supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddWorkflowService(services.NewSchedulerService(sched))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		logging.Info().Str("signal", s.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Application stopped gracefully")
}

// regionConfigs converts the loaded region configuration into the
// calculator's form.
func regionConfigs(cfg *config.Config) map[string]duedate.RegionConfig {
	out := make(map[string]duedate.RegionConfig, len(cfg.Regions))
	for name, rc := range cfg.Regions {
		out[name] = duedate.RegionConfig{
			Timezone:    rc.Timezone,
			CutoffLocal: rc.CutoffLocal,
			Holidays:    rc.Holidays,
		}
	}
	return out
}
