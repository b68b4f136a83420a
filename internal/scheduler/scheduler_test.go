// ConfluenceSyncService - Smartsheet/Confluence Mirroring and Task Acknowledgment Workflow
// Copyright 2026 Chip E. (chip-edw)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chip-edw/ConfluenceSyncService-sub000

package scheduler

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/collab"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/duedate"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/logging"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/models"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/signer"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/store"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/workflow"
)

// fixedNow is a Wednesday, well inside business hours.
var fixedNow = time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC)

// pastDue is the previous Monday at cutoff.
var pastDue = time.Date(2025, 1, 6, 17, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu         sync.Mutex
	tasks      map[string][]models.TaskRecord
	dueDates   map[string]time.Time
	notified   map[string]store.NotifiedStamp
	chased     map[string]store.ChaseStamp
	statuses   map[string]models.TaskStatus
	mismatched []models.TaskRecord
	synced     []string
	notifyErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:    map[string][]models.TaskRecord{},
		dueDates: map[string]time.Time{},
		notified: map[string]store.NotifiedStamp{},
		chased:   map[string]store.ChaseStamp{},
		statuses: map[string]models.TaskStatus{},
	}
}

func (f *fakeStore) ListCustomersWithIncomplete(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.tasks))
	for id := range f.tasks {
		out = append(out, id)
	}
	return out, nil
}

func (f *fakeStore) ListByCustomer(ctx context.Context, customerID string) ([]models.TaskRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.TaskRecord(nil), f.tasks[customerID]...), nil
}

func (f *fakeStore) SetDueDate(ctx context.Context, taskID string, dueUTC time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dueDates[taskID] = dueUTC
	return nil
}

func (f *fakeStore) StampNotified(ctx context.Context, taskID string, st store.NotifiedStamp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notifyErr != nil {
		return f.notifyErr
	}
	f.notified[taskID] = st
	return nil
}

func (f *fakeStore) StampChase(ctx context.Context, taskID string, st store.ChaseStamp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chased[taskID] = st
	return nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, taskID string, status models.TaskStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[taskID] = status
	return nil
}

func (f *fakeStore) ListCompletionMismatch(ctx context.Context) ([]models.TaskRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.TaskRecord(nil), f.mismatched...), nil
}

func (f *fakeStore) StampExternalSynced(ctx context.Context, taskID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, taskID)
	return nil
}

type fakeChannel struct {
	mu           sync.Mutex
	rootCalls    int
	chaserCalls  int
	rootErr      error
	chaserPosted bool
	lastLink     string
	lastBody     string
}

func (f *fakeChannel) PostRoot(ctx context.Context, task collab.TaskRef, body, link string) (collab.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rootCalls++
	if f.rootErr != nil {
		return collab.MessageRef{}, f.rootErr
	}
	f.lastBody = body
	f.lastLink = link
	return collab.MessageRef{ID: "msg-root", Thread: "msg-root"}, nil
}

func (f *fakeChannel) PostChaserReply(ctx context.Context, thread collab.MessageRef, body, link string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chaserCalls++
	f.lastBody = body
	f.lastLink = link
	return f.chaserPosted, nil
}

func (f *fakeChannel) AnnotateAcknowledged(ctx context.Context, thread collab.MessageRef, note string) error {
	return nil
}

type fakeAnchors struct {
	dates map[models.AnchorDateType]time.Time
	err   error
}

func (f *fakeAnchors) AnchorDates(ctx context.Context, customerID string) (map[models.AnchorDateType]time.Time, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.dates, nil
}

func testTask(id string, due *time.Time) models.TaskRecord {
	return models.TaskRecord{
		TaskID:           id,
		ListKey:          "sheet-1",
		CorrelationID:    "corr-" + id,
		CustomerID:       "ACME",
		PhaseName:        "Onboarding",
		TaskName:         "Task " + id,
		Category:         "Kickoff",
		AnchorDateType:   models.AnchorGoLive,
		StartOffsetDays:  -5,
		ReservationState: models.ReservationLinked,
		Status:           models.StatusNotStarted,
		TeamRef:          "team-1",
		ChannelRef:       "chan-1",
		DueDateUTC:       due,
	}
}

func newTestScheduler(t *testing.T, cfg Config, st Store, ch collab.NotificationChannel, anchors collab.AnchorSource) *Scheduler {
	t.Helper()

	logger := logging.NewTestLogger(io.Discard)
	resolver := workflow.New(workflow.Config{
		CategorySequence: []string{"Kickoff", "Go-Live"},
	}, logger)

	calc, err := duedate.NewCalculator(map[string]duedate.RegionConfig{
		"us": {Timezone: "UTC", CutoffLocal: "17:00"},
	})
	require.NoError(t, err)

	sig, err := signer.New("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	cfg.BaseURL = "https://tasks.example.com"
	s := New(st, resolver, calc, sig, ch, collab.NoopUpdater{}, anchors, func(string) string { return "us" }, &logger, cfg)
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestTick_InitialNotification(t *testing.T) {
	st := newFakeStore()
	due := pastDue
	st.tasks["ACME"] = []models.TaskRecord{testTask("t1", &due)}
	ch := &fakeChannel{}

	s := newTestScheduler(t, DefaultConfig(), st, ch, &fakeAnchors{})
	s.Tick(context.Background())

	assert.Equal(t, 1, ch.rootCalls)
	assert.Contains(t, ch.lastLink, "/maintenance/actions/mark-complete?")
	assert.Contains(t, ch.lastBody, "Task t1")

	stamp, ok := st.notified["t1"]
	require.True(t, ok, "notification should be stamped")
	assert.Equal(t, "msg-root", stamp.RootMessageID)
	assert.Equal(t, fixedNow, stamp.NotifiedAtUTC)
	assert.True(t, stamp.AckExpiresUTC.After(fixedNow), "link expiry must be in the future")
	assert.True(t, stamp.NextChaseAtUTC.After(fixedNow))

	assert.Equal(t, models.StatusInProgress, st.statuses["t1"])
}

func TestTick_NotYetDue(t *testing.T) {
	st := newFakeStore()
	future := fixedNow.Add(72 * time.Hour)
	st.tasks["ACME"] = []models.TaskRecord{testTask("t1", &future)}
	ch := &fakeChannel{}

	s := newTestScheduler(t, DefaultConfig(), st, ch, &fakeAnchors{})
	s.Tick(context.Background())

	assert.Zero(t, ch.rootCalls)
	assert.Empty(t, st.notified)
}

func TestTick_StampsMissingDueDates(t *testing.T) {
	st := newFakeStore()
	st.tasks["ACME"] = []models.TaskRecord{testTask("t1", nil)}
	ch := &fakeChannel{}

	// Go-live anchor the following Monday; offset -5 business days lands the
	// previous Monday, already past.
	anchors := &fakeAnchors{dates: map[models.AnchorDateType]time.Time{
		models.AnchorGoLive: time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC),
	}}

	s := newTestScheduler(t, DefaultConfig(), st, ch, anchors)
	s.Tick(context.Background())

	due, ok := st.dueDates["t1"]
	require.True(t, ok, "due date should be stamped")
	assert.Equal(t, pastDue, due)

	// The freshly stamped due date is visible within the same tick.
	assert.Equal(t, 1, ch.rootCalls)
}

func TestTick_MissingAnchorBlocks(t *testing.T) {
	st := newFakeStore()
	st.tasks["ACME"] = []models.TaskRecord{testTask("t1", nil)}
	ch := &fakeChannel{}

	s := newTestScheduler(t, DefaultConfig(), st, ch, &fakeAnchors{})
	s.Tick(context.Background())

	assert.Empty(t, st.dueDates)
	assert.Zero(t, ch.rootCalls)
}

func TestTick_Chase(t *testing.T) {
	st := newFakeStore()
	due := pastDue
	task := testTask("t1", &due)
	task.Status = models.StatusInProgress
	notifiedAt := fixedNow.Add(-48 * time.Hour)
	chaseAt := fixedNow.Add(-time.Hour)
	task.NotifiedAtUTC = &notifiedAt
	task.NextChaseAtUTC = &chaseAt
	task.RootMessageID = "msg-root"
	st.tasks["ACME"] = []models.TaskRecord{task}
	ch := &fakeChannel{chaserPosted: true}

	s := newTestScheduler(t, DefaultConfig(), st, ch, &fakeAnchors{})
	s.Tick(context.Background())

	assert.Equal(t, 1, ch.chaserCalls)
	assert.Zero(t, ch.rootCalls)

	stamp, ok := st.chased["t1"]
	require.True(t, ok)
	assert.False(t, stamp.NewRoot)
	assert.Equal(t, "msg-root", stamp.LastMessageID)
	assert.True(t, stamp.NextChaseAtUTC.After(fixedNow))
	assert.True(t, stamp.AckExpiresUTC.After(fixedNow))
}

func TestTick_ChaseNotYetDueForChase(t *testing.T) {
	st := newFakeStore()
	due := pastDue
	task := testTask("t1", &due)
	task.Status = models.StatusInProgress
	notifiedAt := fixedNow.Add(-time.Hour)
	chaseAt := fixedNow.Add(24 * time.Hour)
	task.NotifiedAtUTC = &notifiedAt
	task.NextChaseAtUTC = &chaseAt
	task.RootMessageID = "msg-root"
	st.tasks["ACME"] = []models.TaskRecord{task}
	ch := &fakeChannel{chaserPosted: true}

	s := newTestScheduler(t, DefaultConfig(), st, ch, &fakeAnchors{})
	s.Tick(context.Background())

	assert.Zero(t, ch.chaserCalls)
	assert.Empty(t, st.chased)
}

func TestTick_ChaseFallbackNewRoot(t *testing.T) {
	st := newFakeStore()
	due := pastDue
	task := testTask("t1", &due)
	task.Status = models.StatusInProgress
	notifiedAt := fixedNow.Add(-48 * time.Hour)
	chaseAt := fixedNow.Add(-time.Hour)
	task.NotifiedAtUTC = &notifiedAt
	task.NextChaseAtUTC = &chaseAt
	task.RootMessageID = "msg-gone"
	st.tasks["ACME"] = []models.TaskRecord{task}
	ch := &fakeChannel{chaserPosted: false}

	s := newTestScheduler(t, DefaultConfig(), st, ch, &fakeAnchors{})
	s.Tick(context.Background())

	assert.Equal(t, 1, ch.chaserCalls)
	assert.Equal(t, 1, ch.rootCalls, "fallback should start a new thread")

	stamp, ok := st.chased["t1"]
	require.True(t, ok)
	assert.True(t, stamp.NewRoot)
	assert.Equal(t, "msg-root", stamp.LastMessageID)
}

func TestTick_ChaseFallbackDisabled(t *testing.T) {
	st := newFakeStore()
	due := pastDue
	task := testTask("t1", &due)
	task.Status = models.StatusInProgress
	notifiedAt := fixedNow.Add(-48 * time.Hour)
	chaseAt := fixedNow.Add(-time.Hour)
	task.NotifiedAtUTC = &notifiedAt
	task.NextChaseAtUTC = &chaseAt
	task.RootMessageID = "msg-gone"
	st.tasks["ACME"] = []models.TaskRecord{task}
	ch := &fakeChannel{chaserPosted: false}

	cfg := DefaultConfig()
	cfg.ThreadFallbackNewRoot = false
	s := newTestScheduler(t, cfg, st, ch, &fakeAnchors{})
	s.Tick(context.Background())

	assert.Equal(t, 1, ch.chaserCalls)
	assert.Zero(t, ch.rootCalls)
	assert.Empty(t, st.chased, "a skipped chaser must not be stamped")
}

func TestTick_DryRun(t *testing.T) {
	st := newFakeStore()
	due := pastDue
	st.tasks["ACME"] = []models.TaskRecord{testTask("t1", &due)}
	ch := &fakeChannel{}

	cfg := DefaultConfig()
	cfg.DryRun = true
	s := newTestScheduler(t, cfg, st, ch, &fakeAnchors{})
	s.Tick(context.Background())

	assert.Zero(t, ch.rootCalls)
	assert.Empty(t, st.notified)
	assert.Empty(t, st.statuses)
}

func TestTick_BatchBudget(t *testing.T) {
	st := newFakeStore()
	due := pastDue
	st.tasks["ACME"] = []models.TaskRecord{
		testTask("t1", &due),
		testTask("t2", &due),
		testTask("t3", &due),
	}
	ch := &fakeChannel{}

	cfg := DefaultConfig()
	cfg.BatchSize = 2
	s := newTestScheduler(t, cfg, st, ch, &fakeAnchors{})
	s.Tick(context.Background())

	assert.Equal(t, 2, ch.rootCalls)
}

func TestTick_StampFailureLeavesTaskUnadvanced(t *testing.T) {
	st := newFakeStore()
	st.notifyErr = errors.New("disk full")
	due := pastDue
	st.tasks["ACME"] = []models.TaskRecord{testTask("t1", &due)}
	ch := &fakeChannel{}

	s := newTestScheduler(t, DefaultConfig(), st, ch, &fakeAnchors{})
	s.Tick(context.Background())

	// Post landed but the stamp failed: status must not advance, so the next
	// tick retries (at-least-once delivery).
	assert.Equal(t, 1, ch.rootCalls)
	assert.Empty(t, st.statuses)
}

func TestTick_BreakerCoolsOff(t *testing.T) {
	st := newFakeStore()
	due := pastDue
	st.tasks["ACME"] = []models.TaskRecord{
		testTask("t1", &due),
		testTask("t2", &due),
		testTask("t3", &due),
		testTask("t4", &due),
	}
	ch := &fakeChannel{rootErr: errors.New("channel down")}

	cfg := DefaultConfig()
	cfg.FailureThreshold = 2
	s := newTestScheduler(t, cfg, st, ch, &fakeAnchors{})
	s.Tick(context.Background())

	// After two consecutive failures the breaker opens and the remaining
	// posts in the tick are skipped without touching the channel.
	assert.Equal(t, 2, ch.rootCalls)
	assert.Empty(t, st.notified)
}

func TestNotifyInitial_FirstChaseCountsFromDueDate(t *testing.T) {
	st := newFakeStore()
	ch := &fakeChannel{}
	s := newTestScheduler(t, DefaultConfig(), st, ch, &fakeAnchors{})

	// Due at cutoff later the same day. The first chase lands two business
	// days after the due date, not after the tick that happened to notify.
	due := time.Date(2025, 1, 8, 17, 0, 0, 0, time.UTC)
	task := testTask("t1", &due)

	var budget atomic.Int64
	budget.Store(1)
	s.notifyInitial(context.Background(), &task, "us", &budget, logging.NewTestLogger(io.Discard))

	stamp, ok := st.notified["t1"]
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 1, 10, 17, 0, 0, 0, time.UTC), stamp.NextChaseAtUTC)
}

func TestNotifyInitial_LateNotificationChasesFromNow(t *testing.T) {
	st := newFakeStore()
	ch := &fakeChannel{}
	s := newTestScheduler(t, DefaultConfig(), st, ch, &fakeAnchors{})

	due := pastDue
	task := testTask("t1", &due)

	var budget atomic.Int64
	budget.Store(1)
	s.notifyInitial(context.Background(), &task, "us", &budget, logging.NewTestLogger(io.Discard))

	stamp, ok := st.notified["t1"]
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC), stamp.NextChaseAtUTC)
}

func TestLinkExpiry_OverdueTaskGetsLiveLink(t *testing.T) {
	s := newTestScheduler(t, DefaultConfig(), newFakeStore(), &fakeChannel{}, &fakeAnchors{})

	longPast := fixedNow.AddDate(0, -2, 0)
	expiry, err := s.linkExpiry(longPast, "us")
	require.NoError(t, err)
	assert.True(t, expiry.After(fixedNow), "expiry anchored to now for overdue tasks")
}

func TestSchedulerStartStop(t *testing.T) {
	st := newFakeStore()
	ch := &fakeChannel{}
	cfg := DefaultConfig()
	cfg.TickInterval = time.Hour

	s := newTestScheduler(t, cfg, st, ch, &fakeAnchors{})

	require.NoError(t, s.Start(context.Background()))
	require.Error(t, s.Start(context.Background()), "double start must fail")
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop(), "stop is idempotent")
}

func TestTick_ReconcilesCompletionMismatch(t *testing.T) {
	st := newFakeStore()
	item := "row-9"
	st.mismatched = []models.TaskRecord{{
		TaskID:         "t9",
		ListKey:        "sheet-1",
		CustomerID:     "ACME",
		Status:         models.StatusCompleted,
		ExternalItemID: &item,
	}}

	s := newTestScheduler(t, DefaultConfig(), st, &fakeChannel{}, &fakeAnchors{})
	s.Tick(context.Background())

	assert.Equal(t, []string{"t9"}, st.synced)
}

func TestRootBodyMentionsDueDate(t *testing.T) {
	due := pastDue
	task := testTask("t1", &due)
	body := rootBody(&task)
	assert.True(t, strings.Contains(body, "Mon 06 Jan 2025"), body)
}
