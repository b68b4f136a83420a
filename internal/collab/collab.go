// ConfluenceSyncService - Smartsheet/Confluence Mirroring and Task Acknowledgment Workflow
// Copyright 2026 Chip E. (chip-edw)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chip-edw/ConfluenceSyncService-sub000

// Package collab defines the capability interfaces for the engine's external
// collaborators: the Smartsheet system of record, the Teams notification
// channel, the clicker identity resolver, and the customer anchor-date
// source.
//
// Each contract is deliberately narrow and injected per deployment, so the
// engine never type-switches on a backend. Concrete REST clients live
// outside this module's scope.
package collab

import (
	"context"
	"net/http"
	"time"

	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/models"
)

// MessageRef identifies a posted channel message. Thread is the root the
// message belongs to (equal to ID for root posts).
type MessageRef struct {
	ID     string
	Thread string
}

// TaskRef carries the addressing a channel post needs.
type TaskRef struct {
	TaskID     string
	TaskName   string
	CustomerID string
	TeamRef    string
	ChannelRef string
}

// Identity is the best-effort resolved identity of a link clicker.
type Identity struct {
	DisplayName string
	Email       string
}

// SystemOfRecordUpdater marks tasks complete in Smartsheet.
type SystemOfRecordUpdater interface {
	// MarkCompleted returns true when the row was updated, false when the
	// row was already complete. Errors are logged by callers and retried on
	// a later reconciliation pass, never surfaced to the clicker.
	MarkCompleted(ctx context.Context, listRef, externalItemID, ackedBy, ackedByActual string) (bool, error)
}

// NotificationChannel posts task notifications into the Teams channel.
type NotificationChannel interface {
	// PostRoot starts a new thread for a task and returns its reference.
	PostRoot(ctx context.Context, task TaskRef, body, link string) (MessageRef, error)

	// PostChaserReply posts a reminder into an existing thread.
	PostChaserReply(ctx context.Context, thread MessageRef, body, link string) (bool, error)

	// AnnotateAcknowledged best-effort updates a thread after an ack.
	AnnotateAcknowledged(ctx context.Context, thread MessageRef, note string) error
}

// IdentityResolver resolves the clicker's identity from the inbound request.
// Absence of identity never blocks completion; implementations return nil
// when nothing can be resolved.
type IdentityResolver interface {
	Resolve(ctx context.Context, r *http.Request) (*Identity, error)
}

// AnchorSource resolves a customer's named anchor dates (go-live,
// hypercare-end). A customer with no anchor data yields an empty map, which
// the resolver reports as blocked-by-missing-configuration.
type AnchorSource interface {
	AnchorDates(ctx context.Context, customerID string) (map[models.AnchorDateType]time.Time, error)
}
