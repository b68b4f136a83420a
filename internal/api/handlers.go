// ConfluenceSyncService - Smartsheet/Confluence Mirroring and Task Acknowledgment Workflow
// Copyright 2026 Chip E. (chip-edw)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chip-edw/ConfluenceSyncService-sub000

// Package api provides the HTTP surface: the public acknowledgment endpoint,
// health checks and Prometheus metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/collab"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/models"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/signer"
)

// TaskStore defines the store operations the handlers need.
type TaskStore interface {
	GetTask(ctx context.Context, taskID string) (*models.TaskRecord, error)
	UpdateStatus(ctx context.Context, taskID string, status models.TaskStatus) error
	StampExternalSynced(ctx context.Context, taskID string, at time.Time) error
	Ping(ctx context.Context) error
}

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	store    TaskStore
	signer   *signer.Signer
	updater  collab.SystemOfRecordUpdater
	channel  collab.NotificationChannel
	identity collab.IdentityResolver
	logger   zerolog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewHandler creates the handler set.
func NewHandler(
	store TaskStore,
	sig *signer.Signer,
	updater collab.SystemOfRecordUpdater,
	channel collab.NotificationChannel,
	identity collab.IdentityResolver,
	logger *zerolog.Logger,
) *Handler {
	return &Handler{
		store:    store,
		signer:   sig,
		updater:  updater,
		channel:  channel,
		identity: identity,
		logger:   logger.With().Str("component", "api").Logger(),
		now:      time.Now,
	}
}

// HealthLive reports process liveness.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data:   map[string]string{"status": "alive"},
		Metadata: models.Metadata{
			Timestamp: h.now(),
		},
	})
}

// HealthReady reports readiness: the task store must answer a ping.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Error().Err(err).Msg("Readiness check failed")
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "task store unavailable", err)
		return
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data:   map[string]string{"status": "ready"},
		Metadata: models.Metadata{
			Timestamp: h.now(),
		},
	})
}
