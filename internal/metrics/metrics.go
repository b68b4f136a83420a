// ConfluenceSyncService - Smartsheet/Confluence Mirroring and Task Acknowledgment Workflow
// Copyright 2026 Chip E. (chip-edw)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chip-edw/ConfluenceSyncService-sub000

// Package metrics exposes Prometheus instrumentation for the workflow
// engine: tick loop outcomes, notification and chaser volume, acknowledgment
// results, store contention, and the send circuit breaker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tick loop

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "workflow_tick_duration_seconds",
			Help:    "Duration of a full scheduler tick in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CustomersProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_customers_processed_total",
			Help: "Customers evaluated per tick, by resolution outcome",
		},
		[]string{"outcome"}, // "eligible", "not_yet_due", "missing_anchor", "none", "error"
	)

	// Notifications

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_notifications_sent_total",
			Help: "Notifications posted to the channel, by kind",
		},
		[]string{"kind"}, // "root", "chaser"
	)

	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_notification_failures_total",
			Help: "Failed channel posts, by kind",
		},
		[]string{"kind"},
	)

	DryRunDecisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workflow_dry_run_decisions_total",
			Help: "Scheduling decisions logged without side effects in dry-run mode",
		},
	)

	// Acknowledgments

	AckRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_ack_requests_total",
			Help: "Acknowledgment link clicks, by result",
		},
		[]string{"result"}, // "completed", "replay", "bad_request", "bad_signature", "expired", "error"
	)

	// Store

	StoreBusyRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskstore_busy_retries_total",
			Help: "Write retries caused by SQLite busy/locked contention",
		},
		[]string{"operation"},
	)

	StoreWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskstore_write_failures_total",
			Help: "Writes that failed after retry exhaustion",
		},
		[]string{"operation"},
	)

	LinkageRaces = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskstore_linkage_races_total",
			Help: "Benign unique-constraint races on external item linkage",
		},
	)

	// Send circuit breaker

	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "workflow_send_breaker_state",
			Help: "Send circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_send_breaker_transitions_total",
			Help: "Send circuit breaker state transitions",
		},
		[]string{"from", "to"},
	)

	// HTTP

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)
)
