// ConfluenceSyncService - Smartsheet/Confluence Mirroring and Task Acknowledgment Workflow
// Copyright 2026 Chip E. (chip-edw)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chip-edw/ConfluenceSyncService-sub000

// Package store implements the durable task identity store on SQLite.
//
// The store is the sole mutable shared resource between the scheduler tick
// loop and concurrent acknowledgment requests. Correctness relies on
// idempotent operations (reserve, link, complete) and narrow field-scoped
// updates rather than pessimistic locks. Transient busy/locked write
// failures are retried a small bounded number of times with linear backoff;
// unique-constraint races on the external item linkage are absorbed as
// benign (someone linked it, that's fine).
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/metrics"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound indicates no task row exists for the given id.
var ErrNotFound = errors.New("store: task not found")

// Config tunes connection and retry behavior.
type Config struct {
	// Path is the SQLite database file. ":memory:" is accepted for tests.
	Path string

	// BusyRetries is the number of additional attempts after a busy/locked
	// failure. Default: 3.
	BusyRetries int

	// BusyRetryDelay is the base delay; attempt n waits n*delay (linear
	// backoff). Default: 50ms.
	BusyRetryDelay time.Duration
}

// Store provides durable storage for task records.
type Store struct {
	db  *sql.DB
	cfg Config
}

// Open creates or opens the task database, applies pragmas and the schema.
// Idempotent; safe to call on an existing database file.
func Open(cfg Config) (*Store, error) {
	if cfg.BusyRetries <= 0 {
		cfg.BusyRetries = 3
	}
	if cfg.BusyRetryDelay <= 0 {
		cfg.BusyRetryDelay = 50 * time.Millisecond
	}

	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." && cfg.Path != ":memory:" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// WAL allows the ack handler to read while the tick loop writes. The
	// busy timeout is kept short; contention beyond it is handled by the
	// store's own bounded retry.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 1000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, cfg: cfg}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the store is reachable. Used by the readiness endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// isBusy reports whether err is SQLite lock contention.
func isBusy(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	return false
}

// isUniqueViolation reports whether err is a unique-constraint failure.
func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// withRetry runs fn, retrying busy/locked failures with linear backoff.
// Unique-constraint violations are never retried here; they are either
// benign races handled by the caller or real bugs.
func (s *Store) withRetry(ctx context.Context, operation string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= s.cfg.BusyRetries; attempt++ {
		if attempt > 0 {
			metrics.StoreBusyRetries.WithLabelValues(operation).Inc()
			select {
			case <-time.After(time.Duration(attempt) * s.cfg.BusyRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
	}
	metrics.StoreWriteFailures.WithLabelValues(operation).Inc()
	return fmt.Errorf("store: %s failed after %d busy retries: %w", operation, s.cfg.BusyRetries, err)
}
