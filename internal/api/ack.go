// ConfluenceSyncService - Smartsheet/Confluence Mirroring and Task Acknowledgment Workflow
// Copyright 2026 Chip E. (chip-edw)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chip-edw/ConfluenceSyncService-sub000

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/collab"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/metrics"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/models"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/signer"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/store"
)

const (
	ackBodyAccepted = "Task acknowledged. Thank you, you can close this page."
	ackBodyReplay   = "This task was already acknowledged. Nothing further to do."
	ackBodyMissing  = "Missing required parameters."
	ackBodyBadSig   = "This acknowledgment link is not valid."
	ackBodyExpired  = "This acknowledgment link has expired. A new one will be sent with the next reminder."
	ackBodyFailed   = "The acknowledgment could not be recorded. Please try again later."
)

// MarkComplete handles GET /maintenance/actions/mark-complete.
//
// Checks run in a fixed order: parameters, signature, expiry. Only after all
// three pass does the handler touch any store. Downstream work (identity
// lookup, system-of-record update, thread annotation) is best effort; once
// the link is verified the clicker gets a success page unless the local
// store write itself fails.
func (h *Handler) MarkComplete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	taskID := q.Get("id")
	expRaw := q.Get("exp")
	sig := q.Get("sig")
	correlationID := q.Get("c")

	logger := h.logger.With().Str("task_id", sanitizeLogValue(taskID)).Logger()

	if taskID == "" || expRaw == "" || sig == "" {
		metrics.AckRequests.WithLabelValues("bad_request").Inc()
		respondText(w, http.StatusBadRequest, ackBodyMissing)
		return
	}
	expUnix, err := strconv.ParseInt(expRaw, 10, 64)
	if err != nil {
		metrics.AckRequests.WithLabelValues("bad_request").Inc()
		respondText(w, http.StatusBadRequest, ackBodyMissing)
		return
	}

	canonical := signer.Canonical(taskID, expUnix, correlationID)
	if !h.signer.Verify(canonical, sig) {
		metrics.AckRequests.WithLabelValues("bad_signature").Inc()
		logger.Warn().Msg("Acknowledgment link signature rejected")
		respondText(w, http.StatusUnauthorized, ackBodyBadSig)
		return
	}

	// Expiry is checked after the signature so a forged link never learns
	// whether its expiry would have passed.
	if h.now().UTC().Unix() > expUnix {
		metrics.AckRequests.WithLabelValues("expired").Inc()
		logger.Info().Int64("exp", expUnix).Msg("Acknowledgment link expired")
		respondText(w, http.StatusGone, ackBodyExpired)
		return
	}

	ctx := r.Context()
	task, err := h.store.GetTask(ctx, taskID)
	if err != nil {
		metrics.AckRequests.WithLabelValues("error").Inc()
		if errors.Is(err, store.ErrNotFound) {
			logger.Error().Msg("Verified acknowledgment for unknown task")
		} else {
			logger.Error().Err(err).Msg("Failed to load task for acknowledgment")
		}
		respondText(w, http.StatusBadGateway, ackBodyFailed)
		return
	}

	replay := task.Status == models.StatusCompleted

	// Identity is audit data only. A clicker we cannot identify still
	// completes the task.
	ackedBy := "task-link"
	ackedByActual := ""
	if h.identity != nil {
		if who, rerr := h.identity.Resolve(ctx, r); rerr == nil && who != nil {
			if who.DisplayName != "" {
				ackedByActual = who.DisplayName
			} else {
				ackedByActual = who.Email
			}
		}
	}

	// System-of-record update is best effort and runs until the row is
	// known synced, so a replayed click repairs an earlier failed update. A
	// failure leaves the external row stale until the reconciliation pass
	// notices the mismatch. The stored list key is the only reference used;
	// the link's list parameter is outside the signed canonical.
	if !task.Linked() {
		logger.Warn().Msg("Acknowledged task has no linked external row")
	} else if !task.ExternallySynced() {
		updated, uerr := h.updater.MarkCompleted(ctx, task.ListKey, *task.ExternalItemID, ackedBy, ackedByActual)
		if uerr != nil {
			logger.Error().Err(uerr).Msg("System-of-record update failed, will reconcile later")
		} else if updated {
			if serr := h.store.StampExternalSynced(ctx, task.TaskID, h.now().UTC()); serr != nil {
				logger.Error().Err(serr).Msg("Failed to stamp external sync time")
			}
		}
	}

	// A replay stops here: the task is already Completed, and the only
	// permitted write on this path is the sync repair above.
	if replay {
		metrics.AckRequests.WithLabelValues("replay").Inc()
		logger.Info().Msg("Acknowledgment replay accepted")
		respondText(w, http.StatusOK, ackBodyReplay)
		return
	}

	// The local completion is the one write that must land.
	if err := h.store.UpdateStatus(ctx, task.TaskID, models.StatusCompleted); err != nil {
		metrics.AckRequests.WithLabelValues("error").Inc()
		logger.Error().Err(err).Msg("Failed to complete task locally")
		respondText(w, http.StatusBadGateway, ackBodyFailed)
		return
	}

	// Thread annotation is cosmetic and posts once, on first completion.
	if task.RootMessageID != "" {
		thread := threadRef(task)
		note := "Acknowledged"
		if ackedByActual != "" {
			note = "Acknowledged by " + ackedByActual
		}
		if aerr := h.channel.AnnotateAcknowledged(ctx, thread, note); aerr != nil {
			logger.Warn().Err(aerr).Msg("Failed to annotate thread after acknowledgment")
		}
	}

	metrics.AckRequests.WithLabelValues("completed").Inc()
	logger.Info().Str("acked_by", sanitizeLogValue(ackedByActual)).Msg("Task acknowledged")
	respondText(w, http.StatusOK, ackBodyAccepted)
}

func threadRef(task *models.TaskRecord) collab.MessageRef {
	return collab.MessageRef{ID: task.RootMessageID, Thread: task.RootMessageID}
}
