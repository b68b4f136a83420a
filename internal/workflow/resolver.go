// ConfluenceSyncService - Smartsheet/Confluence Mirroring and Task Acknowledgment Workflow
// Copyright 2026 Chip E. (chip-edw)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chip-edw/ConfluenceSyncService-sub000

// Package workflow resolves which of a customer's task groups is eligible
// for notification this tick.
//
// A group is the set of tasks sharing (customer, category, anchor type,
// offset). Tasks within a group proceed in parallel; groups proceed strictly
// in sequence. The resolver never skips ahead: while the earliest incomplete
// group remains open, later groups are ignored even when their own due dates
// have passed.
package workflow

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/models"
)

// Outcome classifies a customer's resolution this tick.
type Outcome string

const (
	// OutcomeEligible means the earliest incomplete group is calendar-due.
	OutcomeEligible Outcome = "eligible"
	// OutcomeNotYetDue means the earliest incomplete group's due date is in
	// the future; the customer is fully blocked this tick.
	OutcomeNotYetDue Outcome = "not_yet_due"
	// OutcomeMissingAnchor means due dates could not be computed because the
	// customer's anchor configuration is absent.
	OutcomeMissingAnchor Outcome = "missing_anchor"
	// OutcomeNone means the customer has no incomplete tasks.
	OutcomeNone Outcome = "none"
)

// Resolution is the result of resolving one customer.
type Resolution struct {
	Outcome Outcome

	// Tasks holds the incomplete tasks of the eligible group, parallel
	// candidates for the scheduler. Empty unless Outcome is Eligible.
	Tasks []models.TaskRecord

	// Key and DueUTC describe the earliest incomplete group when one exists.
	Key    models.GroupKey
	DueUTC time.Time
}

// Config holds the externally defined category precedence.
type Config struct {
	// CategorySequence lists categories in completion order. Categories not
	// listed sort after all listed ones, alphabetically.
	CategorySequence []string
}

// Resolver computes group eligibility. Immutable after construction.
type Resolver struct {
	categoryRank map[string]int
	known        int
	logger       zerolog.Logger
}

// New creates a Resolver with the given category precedence.
func New(cfg Config, logger zerolog.Logger) *Resolver {
	rank := make(map[string]int, len(cfg.CategorySequence))
	for i, c := range cfg.CategorySequence {
		rank[c] = i
	}
	return &Resolver{
		categoryRank: rank,
		known:        len(cfg.CategorySequence),
		logger:       logger.With().Str("component", "group-resolver").Logger(),
	}
}

type group struct {
	key        models.GroupKey
	tasks      []models.TaskRecord
	incomplete int
	due        *time.Time
	missingDue bool
}

// Resolve evaluates all of a customer's tasks (completed rows included, so
// ordering and anomaly detection see the full picture) against nowUTC and
// returns the single actionable group, if any. Due dates are expected to be
// stamped on tasks before resolution; an incomplete task without one marks
// the customer blocked by missing anchor configuration.
func (r *Resolver) Resolve(customerID string, tasks []models.TaskRecord, nowUTC time.Time) Resolution {
	logger := r.logger.With().Str("customer_id", customerID).Logger()

	groups := r.partition(tasks)
	if len(groups) == 0 {
		return Resolution{Outcome: OutcomeNone}
	}

	earliest := -1
	for i, g := range groups {
		if g.incomplete > 0 {
			earliest = i
			break
		}
	}
	if earliest < 0 {
		return Resolution{Outcome: OutcomeNone}
	}
	g := groups[earliest]

	// A fully-completed group ordered after the earliest incomplete one can
	// only come from out-of-band completion. That never unblocks earlier
	// groups; it is surfaced as an anomaly, not corrected.
	for _, later := range groups[earliest+1:] {
		if later.incomplete == 0 && len(later.tasks) > 0 {
			logger.Warn().
				Str("category", later.key.Category).
				Int("start_offset_days", later.key.StartOffsetDays).
				Str("blocking_category", g.key.Category).
				Int("blocking_offset", g.key.StartOffsetDays).
				Msg("Dependency-order anomaly: later group completed out of band while earlier group open")
		}
	}

	if g.missingDue {
		logger.Warn().
			Str("category", g.key.Category).
			Str("anchor_type", string(g.key.AnchorDateType)).
			Msg("Customer blocked by missing anchor configuration")
		return Resolution{Outcome: OutcomeMissingAnchor, Key: g.key}
	}

	if nowUTC.Before(*g.due) {
		// The strict no-skip-ahead rule: the whole customer waits on this
		// group even if later groups are individually calendar-due.
		logger.Debug().
			Str("category", g.key.Category).
			Int("start_offset_days", g.key.StartOffsetDays).
			Time("due_utc", *g.due).
			Msg("Earliest incomplete group not yet due; customer blocked this tick")
		return Resolution{Outcome: OutcomeNotYetDue, Key: g.key, DueUTC: *g.due}
	}

	eligible := make([]models.TaskRecord, 0, g.incomplete)
	for _, t := range g.tasks {
		if t.Status != models.StatusCompleted {
			eligible = append(eligible, t)
		}
	}
	logger.Debug().
		Str("category", g.key.Category).
		Int("start_offset_days", g.key.StartOffsetDays).
		Int("tasks", len(eligible)).
		Msg("Group eligible for action")
	return Resolution{Outcome: OutcomeEligible, Tasks: eligible, Key: g.key, DueUTC: *g.due}
}

// partition buckets tasks into groups and orders them by category precedence
// then offset ascending.
func (r *Resolver) partition(tasks []models.TaskRecord) []*group {
	byKey := make(map[models.GroupKey]*group)
	var order []*group
	for _, t := range tasks {
		k := t.Key()
		g, ok := byKey[k]
		if !ok {
			g = &group{key: k}
			byKey[k] = g
			order = append(order, g)
		}
		g.tasks = append(g.tasks, t)
		if t.Status != models.StatusCompleted {
			g.incomplete++
			if t.DueDateUTC == nil {
				g.missingDue = true
			}
		}
		if t.DueDateUTC != nil && (g.due == nil || t.DueDateUTC.Before(*g.due)) {
			g.due = t.DueDateUTC
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i].key, order[j].key
		ra, rb := r.rank(a.Category), r.rank(b.Category)
		if ra != rb {
			return ra < rb
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.StartOffsetDays != b.StartOffsetDays {
			return a.StartOffsetDays < b.StartOffsetDays
		}
		return a.AnchorDateType < b.AnchorDateType
	})
	return order
}

func (r *Resolver) rank(category string) int {
	if i, ok := r.categoryRank[category]; ok {
		return i
	}
	return r.known
}
