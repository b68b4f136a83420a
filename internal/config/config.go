// ConfluenceSyncService - Smartsheet/Confluence Mirroring and Task Acknowledgment Workflow
// Copyright 2026 Chip E. (chip-edw)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chip-edw/ConfluenceSyncService-sub000

// Package config holds the immutable service configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: built-in sensible defaults for all optional settings
//  2. Config file: optional YAML file for persistent settings
//  3. Environment variables: override any setting
//
// The loaded Config is immutable and injected into each component at
// construction; no component reads ambient global settings.
package config

import (
	"time"
)

// Config is the root configuration for the service.
type Config struct {
	Server    ServerConfig            `koanf:"server"`
	Database  DatabaseConfig          `koanf:"database"`
	Ack       AckConfig               `koanf:"ack"`
	Scheduler SchedulerConfig         `koanf:"scheduler"`
	Workflow  WorkflowConfig          `koanf:"workflow"`
	Regions   map[string]RegionConfig `koanf:"regions"`
	Logging   LoggingConfig           `koanf:"logging"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"gt=0,lte=65535"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// Rate limiting for the public acknowledgment endpoint.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// DatabaseConfig holds the task store settings.
type DatabaseConfig struct {
	Path           string        `koanf:"path" validate:"required"`
	BusyRetries    int           `koanf:"busy_retries"`
	BusyRetryDelay time.Duration `koanf:"busy_retry_delay"`
}

// AckConfig holds acknowledgment link settings.
type AckConfig struct {
	// Secret is the service-wide HMAC key. Required: a missing secret is
	// fatal at startup rather than replaced by a random fallback, which
	// would silently break links across restarts.
	Secret string `koanf:"secret"`

	// BaseURL is the externally reachable origin links point at.
	BaseURL string `koanf:"base_url" validate:"required,url"`

	// GraceBusinessDays is the ack-link validity window, in business days
	// past the task's own due date.
	GraceBusinessDays int `koanf:"grace_business_days" validate:"gt=0"`
}

// SchedulerConfig holds tick loop and chase settings.
type SchedulerConfig struct {
	Enabled      bool          `koanf:"enabled"`
	TickInterval time.Duration `koanf:"tick_interval"`

	// MaxConcurrentCustomers bounds customer fan-out within a tick. Group
	// order inside one customer is always sequential.
	MaxConcurrentCustomers int `koanf:"max_concurrent_customers"`

	// BatchSize bounds sends per tick.
	BatchSize int `koanf:"batch_size"`

	// ChaseIntervalBusinessDays is the business-day cadence between chasers.
	ChaseIntervalBusinessDays int `koanf:"chase_interval_business_days" validate:"gt=0"`

	// FailureThreshold consecutive send failures trip a cool-off before the
	// channel is attempted again.
	FailureThreshold uint32        `koanf:"failure_threshold"`
	CoolOff          time.Duration `koanf:"cool_off"`

	// SendRatePerSecond paces channel posts. Zero disables pacing.
	SendRatePerSecond float64 `koanf:"send_rate_per_second"`

	// ThreadFallbackNewRoot starts a new thread when a chaser has no root
	// reference to reply to. When false such chasers are skipped.
	ThreadFallbackNewRoot bool `koanf:"thread_fallback_new_root"`

	// DryRun computes and logs every scheduling decision without posting.
	DryRun bool `koanf:"dry_run"`
}

// WorkflowConfig holds group sequencing settings.
type WorkflowConfig struct {
	// CategorySequence lists categories in completion order.
	CategorySequence []string `koanf:"category_sequence"`

	// DefaultRegion names the region used for customers without an explicit
	// mapping in CustomerRegions.
	DefaultRegion   string            `koanf:"default_region" validate:"required"`
	CustomerRegions map[string]string `koanf:"customer_regions"`
}

// RegionConfig describes one region's civil calendar.
type RegionConfig struct {
	Timezone    string   `koanf:"timezone" validate:"required"`
	CutoffLocal string   `koanf:"cutoff_local"`
	Holidays    []string `koanf:"holidays"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// RegionFor returns the region name configured for a customer.
func (c *Config) RegionFor(customerID string) string {
	if r, ok := c.Workflow.CustomerRegions[customerID]; ok {
		return r
	}
	return c.Workflow.DefaultRegion
}
