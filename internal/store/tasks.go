// ConfluenceSyncService - Smartsheet/Confluence Mirroring and Task Acknowledgment Workflow
// Copyright 2026 Chip E. (chip-edw)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chip-edw/ConfluenceSyncService-sub000

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/metrics"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/models"
)

const taskColumns = `task_id, list_key, correlation_id, customer_id, phase_name, task_name,
workflow_id, category, anchor_date_type, start_offset_days, external_item_id,
reservation_state, status, team_ref, channel_ref, root_message_id, last_message_id,
notified_at_utc, ack_version, ack_expires_utc, next_chase_at_utc, last_chase_at_utc,
due_date_utc, external_synced_utc, created_utc`

// ReserveParams carries the identity and classification of a task at
// reservation time. (ListKey, CorrelationID) is the idempotency key.
type ReserveParams struct {
	ListKey       string
	CorrelationID string
	CustomerID    string
	PhaseName     string
	TaskName      string
	WorkflowID    string

	Category        string
	AnchorDateType  models.AnchorDateType
	StartOffsetDays int
	TeamRef         string
	ChannelRef      string
}

// Reserve returns the TaskID reserved for (ListKey, CorrelationID), creating
// a new Reserved row if none exists. Re-reserving with the same key returns
// the existing TaskID; a concurrent insert racing on the reservation index
// resolves the same way.
func (s *Store) Reserve(ctx context.Context, p ReserveParams) (string, error) {
	var taskID string
	err := s.withRetry(ctx, "reserve", func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT task_id FROM tasks WHERE list_key = ? AND correlation_id = ? AND reservation_state = ?`,
			p.ListKey, p.CorrelationID, models.ReservationReserved)
		if err := row.Scan(&taskID); err == nil {
			return nil
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		id := uuid.New().String()
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO tasks (task_id, list_key, correlation_id, customer_id, phase_name,
			   task_name, workflow_id, category, anchor_date_type, start_offset_days,
			   team_ref, channel_ref, created_utc)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, p.ListKey, p.CorrelationID, p.CustomerID, p.PhaseName,
			p.TaskName, p.WorkflowID, p.Category, string(p.AnchorDateType), p.StartOffsetDays,
			p.TeamRef, p.ChannelRef, time.Now().UTC())
		if err == nil {
			taskID = id
			return nil
		}
		if isUniqueViolation(err) {
			// Lost the reservation race; the winner's row is ours to reuse.
			return s.db.QueryRowContext(ctx,
				`SELECT task_id FROM tasks WHERE list_key = ? AND correlation_id = ? AND reservation_state = ?`,
				p.ListKey, p.CorrelationID, models.ReservationReserved).Scan(&taskID)
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return taskID, nil
}

// LinkToExternal records the Smartsheet row identity for a task and flips
// its reservation to Linked. If a concurrent caller already linked the same
// external id to a different row, the unique constraint fires; that race is
// benign and resolved by accepting the current persisted state.
func (s *Store) LinkToExternal(ctx context.Context, taskID, externalItemID string) error {
	return s.withRetry(ctx, "link_external", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE tasks SET external_item_id = ?, reservation_state = ?
			 WHERE task_id = ? AND reservation_state = ?`,
			externalItemID, models.ReservationLinked, taskID, models.ReservationReserved)
		if err != nil {
			if isUniqueViolation(err) {
				metrics.LinkageRaces.Inc()
				return nil
			}
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// Already Linked (idempotent replay) or unknown id.
			var state string
			err := s.db.QueryRowContext(ctx,
				`SELECT reservation_state FROM tasks WHERE task_id = ?`, taskID).Scan(&state)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		return nil
	})
}

// UpdateStatus advances a task's status. Transitions are forward-only;
// writing the current status (or an earlier one when the row has since moved
// past it) is an idempotent no-op, never an error, so concurrent writers and
// replayed acknowledgments always converge.
func (s *Store) UpdateStatus(ctx context.Context, taskID string, status models.TaskStatus) error {
	if status.Rank() < 0 {
		return fmt.Errorf("store: unknown status %q", status)
	}
	return s.withRetry(ctx, "update_status", func() error {
		for {
			var current models.TaskStatus
			err := s.db.QueryRowContext(ctx,
				`SELECT status FROM tasks WHERE task_id = ?`, taskID).Scan(&current)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			if current.Rank() >= status.Rank() {
				return nil
			}
			res, err := s.db.ExecContext(ctx,
				`UPDATE tasks SET status = ? WHERE task_id = ? AND status = ?`,
				status, taskID, current)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n > 0 {
				return nil
			}
			// Raced with another writer; re-read and re-evaluate.
		}
	})
}

// MarkCompleted moves a task to Completed. Idempotent: completing an
// already-Completed task is a no-op.
func (s *Store) MarkCompleted(ctx context.Context, taskID string) error {
	return s.UpdateStatus(ctx, taskID, models.StatusCompleted)
}

// SetDueDate assigns the computed due date exactly once. Rows with a due
// date already set are left untouched, keeping the scheduling timeline
// stable across recomputation.
func (s *Store) SetDueDate(ctx context.Context, taskID string, dueUTC time.Time) error {
	return s.withRetry(ctx, "set_due_date", func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE tasks SET due_date_utc = ? WHERE task_id = ? AND due_date_utc IS NULL`,
			dueUTC.UTC(), taskID)
		return err
	})
}

// NotifiedStamp is the bookkeeping persisted after a successful root post.
type NotifiedStamp struct {
	RootMessageID  string
	NotifiedAtUTC  time.Time
	AckExpiresUTC  time.Time
	NextChaseAtUTC time.Time
}

// StampNotified records the initial notification. The ack version advances
// because a fresh link was minted for the post.
func (s *Store) StampNotified(ctx context.Context, taskID string, st NotifiedStamp) error {
	return s.withRetry(ctx, "stamp_notified", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE tasks SET root_message_id = ?, last_message_id = ?, notified_at_utc = ?,
			   ack_version = ack_version + 1, ack_expires_utc = ?, next_chase_at_utc = ?
			 WHERE task_id = ?`,
			st.RootMessageID, st.RootMessageID, st.NotifiedAtUTC.UTC(),
			st.AckExpiresUTC.UTC(), st.NextChaseAtUTC.UTC(), taskID)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// ChaseStamp is the bookkeeping persisted after a successful chaser post.
type ChaseStamp struct {
	LastMessageID  string
	ChasedAtUTC    time.Time
	AckExpiresUTC  time.Time
	NextChaseAtUTC time.Time

	// NewRoot is set when the chaser had to start a new thread (fallback
	// policy); the root reference is re-anchored to it.
	NewRoot bool
}

// StampChase records a chaser. The ack version advances with the fresh link.
func (s *Store) StampChase(ctx context.Context, taskID string, st ChaseStamp) error {
	return s.withRetry(ctx, "stamp_chase", func() error {
		query := `UPDATE tasks SET last_message_id = ?, last_chase_at_utc = ?,
			   ack_version = ack_version + 1, ack_expires_utc = ?, next_chase_at_utc = ?
			 WHERE task_id = ?`
		args := []interface{}{st.LastMessageID, st.ChasedAtUTC.UTC(),
			st.AckExpiresUTC.UTC(), st.NextChaseAtUTC.UTC(), taskID}
		if st.NewRoot {
			query = `UPDATE tasks SET last_message_id = ?, root_message_id = ?, last_chase_at_utc = ?,
				   ack_version = ack_version + 1, ack_expires_utc = ?, next_chase_at_utc = ?
				 WHERE task_id = ?`
			args = []interface{}{st.LastMessageID, st.LastMessageID, st.ChasedAtUTC.UTC(),
				st.AckExpiresUTC.UTC(), st.NextChaseAtUTC.UTC(), taskID}
		}
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// StampExternalSynced records that the Smartsheet row reflects completion.
// Tasks completed locally without this stamp are reconciliation candidates.
func (s *Store) StampExternalSynced(ctx context.Context, taskID string, at time.Time) error {
	return s.withRetry(ctx, "stamp_external_synced", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE tasks SET external_synced_utc = ? WHERE task_id = ?`, at.UTC(), taskID)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// GetTask loads a single task by id.
func (s *Store) GetTask(ctx context.Context, taskID string) (*models.TaskRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, taskID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// ListByCustomer returns all of a customer's tasks, completed ones included.
// The resolver needs completed rows to order groups and to detect
// out-of-band completions.
func (s *Store) ListByCustomer(ctx context.Context, customerID string) ([]models.TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE customer_id = ?
		 ORDER BY category, start_offset_days, task_name`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListCustomersWithIncomplete returns the customers that have at least one
// task not yet Completed. This is the tick loop's work list.
func (s *Store) ListCustomersWithIncomplete(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT customer_id FROM tasks WHERE status != ? ORDER BY customer_id`,
		models.StatusCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListCompletionMismatch returns tasks completed locally whose Smartsheet
// update never succeeded, for the reconciliation pass.
func (s *Store) ListCompletionMismatch(ctx context.Context) ([]models.TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE status = ? AND external_synced_utc IS NULL AND external_item_id IS NOT NULL
		 ORDER BY created_utc`, models.StatusCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.TaskRecord, error) {
	var (
		t          models.TaskRecord
		externalID sql.NullString
		anchorType string
		notifiedAt sql.NullTime
		ackExpires sql.NullTime
		nextChase  sql.NullTime
		lastChase  sql.NullTime
		dueDate    sql.NullTime
		synced     sql.NullTime
	)
	err := row.Scan(
		&t.TaskID, &t.ListKey, &t.CorrelationID, &t.CustomerID, &t.PhaseName, &t.TaskName,
		&t.WorkflowID, &t.Category, &anchorType, &t.StartOffsetDays, &externalID,
		&t.ReservationState, &t.Status, &t.TeamRef, &t.ChannelRef, &t.RootMessageID, &t.LastMessageID,
		&notifiedAt, &t.AckVersion, &ackExpires, &nextChase, &lastChase,
		&dueDate, &synced, &t.CreatedUTC)
	if err != nil {
		return nil, err
	}
	t.AnchorDateType = models.AnchorDateType(anchorType)
	if externalID.Valid {
		t.ExternalItemID = &externalID.String
	}
	t.NotifiedAtUTC = nullTimePtr(notifiedAt)
	t.AckExpiresUTC = nullTimePtr(ackExpires)
	t.NextChaseAtUTC = nullTimePtr(nextChase)
	t.LastChaseAtUTC = nullTimePtr(lastChase)
	t.DueDateUTC = nullTimePtr(dueDate)
	t.ExternalSyncedUTC = nullTimePtr(synced)
	t.CreatedUTC = t.CreatedUTC.UTC()
	return &t, nil
}

func collectTasks(rows *sql.Rows) ([]models.TaskRecord, error) {
	var out []models.TaskRecord
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	u := nt.Time.UTC()
	return &u
}
