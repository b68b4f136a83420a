// ConfluenceSyncService - Smartsheet/Confluence Mirroring and Task Acknowledgment Workflow
// Copyright 2026 Chip E. (chip-edw)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chip-edw/ConfluenceSyncService-sub000

package workflow

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/logging"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/models"
)

var testNow = time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)

func newResolver(buf *bytes.Buffer) *Resolver {
	logger := logging.NewTestLogger(buf)
	return New(Config{CategorySequence: []string{"pre-golive", "golive", "hypercare"}}, logger)
}

func task(name, category string, offset int, status models.TaskStatus, due *time.Time) models.TaskRecord {
	return models.TaskRecord{
		TaskID:          "task-" + name,
		TaskName:        name,
		CustomerID:      "acme",
		Category:        category,
		AnchorDateType:  models.AnchorGoLive,
		StartOffsetDays: offset,
		Status:          status,
		DueDateUTC:      due,
	}
}

func dueAt(t time.Time) *time.Time { return &t }

func TestResolveNoTasks(t *testing.T) {
	r := newResolver(&bytes.Buffer{})
	res := r.Resolve("acme", nil, testNow)
	assert.Equal(t, OutcomeNone, res.Outcome)
}

func TestResolveAllCompleted(t *testing.T) {
	r := newResolver(&bytes.Buffer{})
	past := dueAt(testNow.AddDate(0, 0, -10))
	res := r.Resolve("acme", []models.TaskRecord{
		task("a", "pre-golive", -20, models.StatusCompleted, past),
	}, testNow)
	assert.Equal(t, OutcomeNone, res.Outcome)
}

func TestResolveEligibleGroupReturnsAllIncompleteTasks(t *testing.T) {
	r := newResolver(&bytes.Buffer{})
	past := dueAt(testNow.AddDate(0, 0, -1))
	res := r.Resolve("acme", []models.TaskRecord{
		task("a", "pre-golive", -20, models.StatusNotStarted, past),
		task("b", "pre-golive", -20, models.StatusInProgress, past),
		task("done", "pre-golive", -20, models.StatusCompleted, past),
	}, testNow)

	assert.Equal(t, OutcomeEligible, res.Outcome)
	assert.Len(t, res.Tasks, 2)
	assert.Equal(t, -20, res.Key.StartOffsetDays)
}

func TestSequentialGatingNeverSkipsAhead(t *testing.T) {
	r := newResolver(&bytes.Buffer{})

	// G1 (-20) has an incomplete task that is NOT yet due; G2 (-14) is due.
	// The resolver must return nothing: the customer waits on G1.
	futureDue := dueAt(testNow.AddDate(0, 0, 5))
	pastDue := dueAt(testNow.AddDate(0, 0, -5))
	res := r.Resolve("acme", []models.TaskRecord{
		task("g1", "pre-golive", -20, models.StatusNotStarted, futureDue),
		task("g2", "pre-golive", -14, models.StatusNotStarted, pastDue),
	}, testNow)

	assert.Equal(t, OutcomeNotYetDue, res.Outcome)
	assert.Empty(t, res.Tasks)
	assert.Equal(t, -20, res.Key.StartOffsetDays)
}

func TestSequentialGatingWithDueEarlierGroup(t *testing.T) {
	r := newResolver(&bytes.Buffer{})

	// G1 is due and incomplete; only G1's tasks come back even though G2 is
	// also due.
	pastDue := dueAt(testNow.AddDate(0, 0, -5))
	res := r.Resolve("acme", []models.TaskRecord{
		task("g1", "pre-golive", -20, models.StatusInProgress, pastDue),
		task("g2", "pre-golive", -14, models.StatusNotStarted, pastDue),
	}, testNow)

	assert.Equal(t, OutcomeEligible, res.Outcome)
	assert.Len(t, res.Tasks, 1)
	assert.Equal(t, "task-g1", res.Tasks[0].TaskID)
}

func TestCategoryPrecedenceOrdersBeforeOffset(t *testing.T) {
	r := newResolver(&bytes.Buffer{})

	// hypercare has a smaller offset but later category precedence, so the
	// golive group gates it.
	pastDue := dueAt(testNow.AddDate(0, 0, -5))
	res := r.Resolve("acme", []models.TaskRecord{
		task("h", "hypercare", -30, models.StatusNotStarted, pastDue),
		task("g", "golive", 0, models.StatusNotStarted, pastDue),
	}, testNow)

	assert.Equal(t, OutcomeEligible, res.Outcome)
	assert.Equal(t, "golive", res.Key.Category)
}

func TestUnknownCategorySortsAfterKnown(t *testing.T) {
	r := newResolver(&bytes.Buffer{})
	pastDue := dueAt(testNow.AddDate(0, 0, -5))
	res := r.Resolve("acme", []models.TaskRecord{
		task("x", "unlisted", -40, models.StatusNotStarted, pastDue),
		task("g", "hypercare", 10, models.StatusNotStarted, pastDue),
	}, testNow)

	assert.Equal(t, OutcomeEligible, res.Outcome)
	assert.Equal(t, "hypercare", res.Key.Category)
}

func TestMissingAnchorBlocksAndLogs(t *testing.T) {
	var buf bytes.Buffer
	r := newResolver(&buf)

	res := r.Resolve("acme", []models.TaskRecord{
		task("a", "pre-golive", -20, models.StatusNotStarted, nil),
	}, testNow)

	assert.Equal(t, OutcomeMissingAnchor, res.Outcome)
	assert.Empty(t, res.Tasks)
	assert.True(t, strings.Contains(buf.String(), "missing anchor configuration"))
}

func TestOutOfBandCompletionLogsAnomaly(t *testing.T) {
	var buf bytes.Buffer
	r := newResolver(&buf)

	// A later group was completed manually while the earlier group is open.
	futureDue := dueAt(testNow.AddDate(0, 0, 5))
	pastDue := dueAt(testNow.AddDate(0, 0, -5))
	res := r.Resolve("acme", []models.TaskRecord{
		task("early", "pre-golive", -20, models.StatusNotStarted, futureDue),
		task("late", "pre-golive", -14, models.StatusCompleted, pastDue),
	}, testNow)

	// The anomaly never unblocks the earlier group.
	assert.Equal(t, OutcomeNotYetDue, res.Outcome)
	assert.True(t, strings.Contains(buf.String(), "Dependency-order anomaly"))
}

func TestGroupDueIsEarliestTaskDue(t *testing.T) {
	r := newResolver(&bytes.Buffer{})
	early := testNow.AddDate(0, 0, -2)
	later := testNow.AddDate(0, 0, 3)
	res := r.Resolve("acme", []models.TaskRecord{
		task("a", "pre-golive", -20, models.StatusNotStarted, &early),
		task("b", "pre-golive", -20, models.StatusNotStarted, &later),
	}, testNow)

	assert.Equal(t, OutcomeEligible, res.Outcome)
	assert.Equal(t, early, res.DueUTC)
}
