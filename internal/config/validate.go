// ConfluenceSyncService - Smartsheet/Confluence Mirroring and Task Acknowledgment Workflow
// Copyright 2026 Chip E. (chip-edw)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chip-edw/ConfluenceSyncService-sub000

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := c.validateAck(); err != nil {
		return err
	}

	if err := c.validateRegions(); err != nil {
		return err
	}

	if err := c.validateWorkflow(); err != nil {
		return err
	}

	return c.validateLogging()
}

// validateAck checks the acknowledgment link settings. A missing HMAC secret
// is fatal: generating a random fallback would invalidate every outstanding
// link on the next restart.
func (c *Config) validateAck() error {
	if strings.TrimSpace(c.Ack.Secret) == "" {
		return fmt.Errorf("ACK_SECRET is required")
	}
	if len(c.Ack.Secret) < 32 {
		return fmt.Errorf("ACK_SECRET must be at least 32 characters, got %d", len(c.Ack.Secret))
	}
	return nil
}

// validateRegions checks that every region has a loadable timezone, a
// parseable cutoff time, and well-formed holiday dates.
func (c *Config) validateRegions() error {
	if len(c.Regions) == 0 {
		return fmt.Errorf("at least one region must be configured")
	}

	for name, region := range c.Regions {
		if _, err := time.LoadLocation(region.Timezone); err != nil {
			return fmt.Errorf("region %q: invalid timezone %q: %w", name, region.Timezone, err)
		}
		if region.CutoffLocal != "" {
			if _, err := time.Parse("15:04", region.CutoffLocal); err != nil {
				return fmt.Errorf("region %q: invalid cutoff_local %q (expected HH:MM): %w", name, region.CutoffLocal, err)
			}
		}
		for _, h := range region.Holidays {
			if _, err := time.Parse("2006-01-02", h); err != nil {
				return fmt.Errorf("region %q: invalid holiday %q (expected YYYY-MM-DD): %w", name, h, err)
			}
		}
	}

	return nil
}

// validateWorkflow checks that the category sequence is usable and that every
// customer region mapping points at a configured region.
func (c *Config) validateWorkflow() error {
	if len(c.Workflow.CategorySequence) == 0 {
		return fmt.Errorf("workflow.category_sequence must not be empty")
	}

	seen := make(map[string]struct{}, len(c.Workflow.CategorySequence))
	for _, cat := range c.Workflow.CategorySequence {
		if cat == "" {
			return fmt.Errorf("workflow.category_sequence contains an empty category")
		}
		if _, dup := seen[cat]; dup {
			return fmt.Errorf("workflow.category_sequence contains duplicate category %q", cat)
		}
		seen[cat] = struct{}{}
	}

	if _, ok := c.Regions[c.Workflow.DefaultRegion]; !ok {
		return fmt.Errorf("workflow.default_region %q is not a configured region", c.Workflow.DefaultRegion)
	}
	for customer, region := range c.Workflow.CustomerRegions {
		if _, ok := c.Regions[region]; !ok {
			return fmt.Errorf("customer %q maps to unknown region %q", customer, region)
		}
	}

	return nil
}

// validateLogging checks logging configuration.
func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "":
	default:
		return fmt.Errorf("invalid LOG_LEVEL %q", c.Logging.Level)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "console", "":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q (must be json or console)", c.Logging.Format)
	}

	return nil
}
