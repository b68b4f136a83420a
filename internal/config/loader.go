// ConfluenceSyncService - Smartsheet/Confluence Mirroring and Task Acknowledgment Workflow
// Copyright 2026 Chip E. (chip-edw)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chip-edw/ConfluenceSyncService-sub000

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/confluencesync/config.yaml",
	"/etc/confluencesync/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with defaults for every optional setting.
// Required settings (ack secret, ack base URL) deliberately have no default.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8443,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimitReqs:   60,
			RateLimitWindow: time.Minute,
		},
		Database: DatabaseConfig{
			Path:           "/data/confluencesync.db",
			BusyRetries:    3,
			BusyRetryDelay: 50 * time.Millisecond,
		},
		Ack: AckConfig{
			Secret:            "",
			BaseURL:           "",
			GraceBusinessDays: 5,
		},
		Scheduler: SchedulerConfig{
			Enabled:                   true,
			TickInterval:              5 * time.Minute,
			MaxConcurrentCustomers:    4,
			BatchSize:                 50,
			ChaseIntervalBusinessDays: 2,
			FailureThreshold:          5,
			CoolOff:                   10 * time.Minute,
			SendRatePerSecond:         2,
			ThreadFallbackNewRoot:     true,
			DryRun:                    false,
		},
		Workflow: WorkflowConfig{
			CategorySequence: []string{
				"Kickoff",
				"Discovery",
				"Provisioning",
				"Validation",
				"Go-Live",
				"Hypercare",
			},
			DefaultRegion:   "us",
			CustomerRegions: map[string]string{},
		},
		Regions: map[string]RegionConfig{
			"us": {
				Timezone:    "America/New_York",
				CutoffLocal: "17:00",
			},
			"uk": {
				Timezone:    "Europe/London",
				CutoffLocal: "17:00",
			},
			"apac": {
				Timezone:    "Australia/Sydney",
				CutoffLocal: "17:00",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in defaults
//  2. Config file: optional YAML config file (if exists)
//  3. Environment variables: override any setting
//
// Precedence: ENV > File > Defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Transform environment variable names to koanf paths:
	// ACK_SECRET -> ack.secret, SCHEDULER_TICK_INTERVAL -> scheduler.tick_interval
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths are parsed as comma-separated
// slices when supplied through environment variables.
var sliceConfigPaths = []string{
	"workflow.category_sequence",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars come in as plain strings.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from defaults or YAML).
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are skipped so that random environment variables do not
// pollute the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server mappings
		"http_host":               "server.host",
		"http_port":               "server.port",
		"http_timeout":            "server.timeout",
		"http_shutdown_timeout":   "server.shutdown_timeout",
		"ack_rate_limit_requests": "server.rate_limit_reqs",
		"ack_rate_limit_window":   "server.rate_limit_window",

		// Database mappings
		"sqlite_path":         "database.path",
		"db_busy_retries":     "database.busy_retries",
		"db_busy_retry_delay": "database.busy_retry_delay",

		// Acknowledgment link mappings
		"ack_secret":              "ack.secret",
		"ack_base_url":            "ack.base_url",
		"ack_grace_business_days": "ack.grace_business_days",

		// Scheduler mappings
		"scheduler_enabled":            "scheduler.enabled",
		"scheduler_tick_interval":      "scheduler.tick_interval",
		"scheduler_max_concurrent":     "scheduler.max_concurrent_customers",
		"scheduler_batch_size":         "scheduler.batch_size",
		"chase_interval_business_days": "scheduler.chase_interval_business_days",
		"scheduler_failure_threshold":  "scheduler.failure_threshold",
		"scheduler_cool_off":           "scheduler.cool_off",
		"scheduler_send_rate":          "scheduler.send_rate_per_second",
		"chase_fallback_new_root":      "scheduler.thread_fallback_new_root",
		"scheduler_dry_run":            "scheduler.dry_run",

		// Workflow mappings
		"workflow_category_sequence": "workflow.category_sequence",
		"workflow_default_region":    "workflow.default_region",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	return ""
}
