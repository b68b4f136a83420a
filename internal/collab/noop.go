// ConfluenceSyncService - Smartsheet/Confluence Mirroring and Task Acknowledgment Workflow
// Copyright 2026 Chip E. (chip-edw)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chip-edw/ConfluenceSyncService-sub000

package collab

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/models"
)

// LogOnlyChannel is a NotificationChannel that records what it would post.
// It backs development deployments where no Teams webhook is configured; the
// scheduler's own dry-run mode skips channel calls entirely.
type LogOnlyChannel struct {
	logger zerolog.Logger
}

// NewLogOnlyChannel creates a channel that only logs.
func NewLogOnlyChannel(logger zerolog.Logger) *LogOnlyChannel {
	return &LogOnlyChannel{logger: logger.With().Str("component", "log-only-channel").Logger()}
}

func (c *LogOnlyChannel) PostRoot(_ context.Context, task TaskRef, body, link string) (MessageRef, error) {
	id := uuid.New().String()
	c.logger.Info().
		Str("task_id", task.TaskID).
		Str("customer_id", task.CustomerID).
		Str("channel_ref", task.ChannelRef).
		Str("body", body).
		Str("link", link).
		Str("message_id", id).
		Msg("Would post root notification")
	return MessageRef{ID: id, Thread: id}, nil
}

func (c *LogOnlyChannel) PostChaserReply(_ context.Context, thread MessageRef, body, link string) (bool, error) {
	c.logger.Info().
		Str("thread", thread.Thread).
		Str("body", body).
		Str("link", link).
		Msg("Would post chaser reply")
	return true, nil
}

func (c *LogOnlyChannel) AnnotateAcknowledged(_ context.Context, thread MessageRef, note string) error {
	c.logger.Info().Str("thread", thread.Thread).Str("note", note).Msg("Would annotate thread")
	return nil
}

// NoopUpdater is a SystemOfRecordUpdater for deployments without Smartsheet
// credentials. It reports success so local completion still proceeds.
type NoopUpdater struct{}

func (NoopUpdater) MarkCompleted(context.Context, string, string, string, string) (bool, error) {
	return true, nil
}

// HeaderIdentityResolver resolves clicker identity from reverse-proxy
// headers (e.g. an authenticating proxy in front of the service). Missing
// headers resolve to nil, which never blocks completion.
type HeaderIdentityResolver struct {
	// NameHeader and EmailHeader default to X-Forwarded-User and
	// X-Forwarded-Email.
	NameHeader  string
	EmailHeader string
}

func (h HeaderIdentityResolver) Resolve(_ context.Context, r *http.Request) (*Identity, error) {
	nameHeader := h.NameHeader
	if nameHeader == "" {
		nameHeader = "X-Forwarded-User"
	}
	emailHeader := h.EmailHeader
	if emailHeader == "" {
		emailHeader = "X-Forwarded-Email"
	}
	name := r.Header.Get(nameHeader)
	email := r.Header.Get(emailHeader)
	if name == "" && email == "" {
		return nil, nil
	}
	return &Identity{DisplayName: name, Email: email}, nil
}

// StaticAnchorSource serves anchor dates from a fixed map keyed by customer.
// It stands in until the Smartsheet-backed source is wired in; a customer
// missing from the map simply has no anchors, which the resolver reports.
type StaticAnchorSource map[string]map[models.AnchorDateType]time.Time

func (s StaticAnchorSource) AnchorDates(_ context.Context, customerID string) (map[models.AnchorDateType]time.Time, error) {
	return s[customerID], nil
}
