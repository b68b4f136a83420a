// ConfluenceSyncService - Smartsheet/Confluence Mirroring and Task Acknowledgment Workflow
// Copyright 2026 Chip E. (chip-edw)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chip-edw/ConfluenceSyncService-sub000

// Package models defines the shared data types for the workflow engine.
package models

import "time"

// TaskStatus is the forward-only progress state of a task.
// NotStarted -> InProgress -> Completed; Completed is terminal.
type TaskStatus string

const (
	StatusNotStarted TaskStatus = "NotStarted"
	StatusInProgress TaskStatus = "InProgress"
	StatusCompleted  TaskStatus = "Completed"
)

// statusRank orders statuses for forward-only transition checks.
var statusRank = map[TaskStatus]int{
	StatusNotStarted: 0,
	StatusInProgress: 1,
	StatusCompleted:  2,
}

// Rank returns the ordinal position of the status, or -1 for unknown values.
func (s TaskStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// CanTransitionTo reports whether moving from s to next is a legal forward
// transition. Same-state writes are allowed (idempotent no-ops).
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	sr, nr := s.Rank(), next.Rank()
	if sr < 0 || nr < 0 {
		return false
	}
	return nr >= sr
}

// ReservationState tracks whether a task row has been tied to its Smartsheet
// row. Transitions only Reserved -> Linked, never backward.
type ReservationState string

const (
	ReservationReserved ReservationState = "Reserved"
	ReservationLinked   ReservationState = "Linked"
)

// AnchorDateType names which of the customer's anchor dates a task's offset
// is computed from.
type AnchorDateType string

const (
	AnchorGoLive       AnchorDateType = "go_live"
	AnchorHypercareEnd AnchorDateType = "hypercare_end"
)

// TaskRecord is the unit of work tracked by the engine.
//
// Identity is the surrogate TaskID (immutable once issued) plus the
// caller-supplied (ListKey, CorrelationID) natural key used for idempotent
// reservation. ExternalItemID is the Smartsheet row identity, nil until
// linked and unique across all records.
type TaskRecord struct {
	TaskID        string
	ListKey       string
	CorrelationID string

	CustomerID      string
	PhaseName       string
	TaskName        string
	WorkflowID      string
	Category        string
	AnchorDateType  AnchorDateType
	StartOffsetDays int

	ExternalItemID   *string
	ReservationState ReservationState
	Status           TaskStatus

	// Notification and chase bookkeeping. Message IDs refer to the Teams
	// channel thread; RootMessageID anchors chaser replies.
	TeamRef        string
	ChannelRef     string
	RootMessageID  string
	LastMessageID  string
	NotifiedAtUTC  *time.Time
	AckVersion     int
	AckExpiresUTC  *time.Time
	NextChaseAtUTC *time.Time
	LastChaseAtUTC *time.Time

	// DueDateUTC is computed once from anchor + offset + region and never
	// recomputed, so the scheduling timeline stays stable.
	DueDateUTC *time.Time

	// ExternalSyncedUTC is set when the Smartsheet row reflects completion.
	// Nil on a Completed task marks it as a reconciliation candidate.
	ExternalSyncedUTC *time.Time

	CreatedUTC time.Time
}

// Notified reports whether an initial root notification has been sent.
func (t *TaskRecord) Notified() bool {
	return t.NotifiedAtUTC != nil
}

// Linked reports whether the task has been tied to a Smartsheet row.
func (t *TaskRecord) Linked() bool {
	return t.ReservationState == ReservationLinked && t.ExternalItemID != nil
}

// ExternallySynced reports whether the Smartsheet row already reflects
// completion.
func (t *TaskRecord) ExternallySynced() bool {
	return t.ExternalSyncedUTC != nil
}

// GroupKey is the sequencing bucket identity: tasks sharing a key may
// proceed in parallel; distinct keys for one customer proceed strictly in
// category-then-offset order.
type GroupKey struct {
	CustomerID      string
	Category        string
	AnchorDateType  AnchorDateType
	StartOffsetDays int
}

// Key returns the task's group key.
func (t *TaskRecord) Key() GroupKey {
	return GroupKey{
		CustomerID:      t.CustomerID,
		Category:        t.Category,
		AnchorDateType:  t.AnchorDateType,
		StartOffsetDays: t.StartOffsetDays,
	}
}
