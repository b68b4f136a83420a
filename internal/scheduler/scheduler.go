// ConfluenceSyncService - Smartsheet/Confluence Mirroring and Task Acknowledgment Workflow
// Copyright 2026 Chip E. (chip-edw)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chip-edw/ConfluenceSyncService-sub000

// Package scheduler drives the notification and chase loop.
//
// Each tick the scheduler:
//   - Lists customers with incomplete tasks
//   - Stamps due dates for tasks that do not have one yet
//   - Resolves each customer's earliest due group
//   - Posts initial notifications with signed acknowledgment links
//   - Posts chaser replies for tasks past their next chase time
//
// Posts happen before bookkeeping is stamped, so a crash between the two
// produces a duplicate message on the next tick rather than a silently
// missing one. The channel sits behind a circuit breaker that cools off
// after consecutive failures, and a rate limiter paces posts.
//
// The scheduler integrates with the supervisor tree for lifecycle management.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/collab"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/duedate"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/metrics"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/models"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/signer"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/store"
	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/workflow"
)

// Store defines the database operations required by the scheduler.
type Store interface {
	ListCustomersWithIncomplete(ctx context.Context) ([]string, error)
	ListByCustomer(ctx context.Context, customerID string) ([]models.TaskRecord, error)
	SetDueDate(ctx context.Context, taskID string, dueUTC time.Time) error
	StampNotified(ctx context.Context, taskID string, st store.NotifiedStamp) error
	StampChase(ctx context.Context, taskID string, st store.ChaseStamp) error
	UpdateStatus(ctx context.Context, taskID string, status models.TaskStatus) error
	ListCompletionMismatch(ctx context.Context) ([]models.TaskRecord, error)
	StampExternalSynced(ctx context.Context, taskID string, at time.Time) error
}

// Config holds scheduler settings.
type Config struct {
	// Enabled controls whether the tick loop runs.
	Enabled bool

	// TickInterval is how often to scan for due work.
	TickInterval time.Duration

	// MaxConcurrentCustomers bounds customer fan-out within one tick.
	MaxConcurrentCustomers int

	// BatchSize bounds posts per tick across all customers.
	BatchSize int

	// ChaseIntervalBusinessDays is the cadence between chasers.
	ChaseIntervalBusinessDays int

	// GraceBusinessDays is the ack-link validity window past the due date.
	GraceBusinessDays int

	// BaseURL is the externally reachable origin for acknowledgment links.
	BaseURL string

	// FailureThreshold consecutive post failures open the breaker.
	FailureThreshold uint32

	// CoolOff is how long the breaker stays open.
	CoolOff time.Duration

	// SendRatePerSecond paces posts. Zero disables pacing.
	SendRatePerSecond float64

	// ThreadFallbackNewRoot starts a new thread for chasers whose root
	// message is gone. When false such chasers are skipped.
	ThreadFallbackNewRoot bool

	// DryRun computes and logs decisions without posting or stamping.
	DryRun bool
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:                   true,
		TickInterval:              5 * time.Minute,
		MaxConcurrentCustomers:    4,
		BatchSize:                 50,
		ChaseIntervalBusinessDays: 2,
		GraceBusinessDays:         5,
		FailureThreshold:          5,
		CoolOff:                   10 * time.Minute,
		SendRatePerSecond:         2,
		ThreadFallbackNewRoot:     true,
	}
}

// postResult is the breaker-wrapped outcome of a channel post.
type postResult struct {
	ref    collab.MessageRef
	posted bool
}

// Scheduler runs the notification and chase loop.
type Scheduler struct {
	store     Store
	resolver  *workflow.Resolver
	calc      *duedate.Calculator
	signer    *signer.Signer
	channel   collab.NotificationChannel
	updater   collab.SystemOfRecordUpdater
	anchors   collab.AnchorSource
	regionFor func(customerID string) string
	logger    zerolog.Logger
	config    Config

	breaker *gobreaker.CircuitBreaker[postResult]
	limiter *rate.Limiter

	// now is swappable for tests.
	now func() time.Time

	// Runtime state
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a scheduler.
func New(
	st Store,
	resolver *workflow.Resolver,
	calc *duedate.Calculator,
	sig *signer.Signer,
	channel collab.NotificationChannel,
	updater collab.SystemOfRecordUpdater,
	anchors collab.AnchorSource,
	regionFor func(customerID string) string,
	logger *zerolog.Logger,
	config Config,
) *Scheduler {
	if config.TickInterval <= 0 {
		config.TickInterval = 5 * time.Minute
	}
	if config.MaxConcurrentCustomers <= 0 {
		config.MaxConcurrentCustomers = 4
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.ChaseIntervalBusinessDays <= 0 {
		config.ChaseIntervalBusinessDays = 2
	}
	if config.GraceBusinessDays <= 0 {
		config.GraceBusinessDays = 5
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.CoolOff <= 0 {
		config.CoolOff = 10 * time.Minute
	}

	s := &Scheduler{
		store:     st,
		resolver:  resolver,
		calc:      calc,
		signer:    sig,
		channel:   channel,
		updater:   updater,
		anchors:   anchors,
		regionFor: regionFor,
		logger:    logger.With().Str("component", "task-scheduler").Logger(),
		config:    config,
		now:       time.Now,
	}

	s.breaker = gobreaker.NewCircuitBreaker[postResult](gobreaker.Settings{
		Name:        "notification-channel",
		MaxRequests: 1,
		Timeout:     config.CoolOff,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerTransitions.WithLabelValues(from.String(), to.String()).Inc()
			metrics.BreakerState.Set(breakerStateValue(to))
			s.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Notification channel breaker state change")
		},
	})

	if config.SendRatePerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(config.SendRatePerSecond), 1)
	}

	return s
}

func breakerStateValue(st gobreaker.State) float64 {
	switch st {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	if !s.config.Enabled {
		s.logger.Info().Msg("Task scheduler disabled")
		go func() {
			defer close(s.doneCh)
			select {
			case <-s.stopCh:
			case <-ctx.Done():
			}
		}()
		return nil
	}

	s.logger.Info().
		Dur("tick_interval", s.config.TickInterval).
		Int("max_concurrent", s.config.MaxConcurrentCustomers).
		Int("batch_size", s.config.BatchSize).
		Bool("dry_run", s.config.DryRun).
		Msg("Starting task scheduler")

	go s.run(ctx)
	return nil
}

// Stop stops the scheduler loop and waits for it to complete.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.logger.Info().Msg("Stopping task scheduler...")
	close(s.stopCh)
	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info().Msg("Task scheduler stopped")
	return nil
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	// Run immediately on start
	s.Tick(ctx)

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Tick performs one scan over all customers with incomplete tasks.
func (s *Scheduler) Tick(ctx context.Context) {
	start := s.now()
	defer func() {
		metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()

	customers, err := s.store.ListCustomersWithIncomplete(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list customers with incomplete tasks")
		return
	}
	if len(customers) == 0 {
		s.logger.Debug().Msg("No customers with incomplete tasks")
		return
	}

	s.logger.Debug().Int("count", len(customers)).Msg("Processing customers")

	// Shared post budget for this tick.
	var budget atomic.Int64
	budget.Store(int64(s.config.BatchSize))

	sem := make(chan struct{}, s.config.MaxConcurrentCustomers)
	var wg sync.WaitGroup

	for _, customerID := range customers {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()
			s.processCustomer(ctx, id, &budget)
		}(customerID)
	}

	wg.Wait()

	s.reconcile(ctx)
}

// reconcile retries the system-of-record update for tasks completed locally
// whose external row was never confirmed, typically because Smartsheet was
// down when the acknowledgment arrived.
func (s *Scheduler) reconcile(ctx context.Context) {
	if s.updater == nil {
		return
	}

	mismatched, err := s.store.ListCompletionMismatch(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list completion mismatches")
		return
	}

	for i := range mismatched {
		task := &mismatched[i]
		if task.ExternalItemID == nil {
			continue
		}

		if s.config.DryRun {
			metrics.DryRunDecisions.Inc()
			s.logger.Info().
				Str("task_id", task.TaskID).
				Msg("Dry run: would reconcile external completion")
			continue
		}

		_, uerr := s.updater.MarkCompleted(ctx, task.ListKey, *task.ExternalItemID, "reconciliation", "")
		if uerr != nil {
			s.logger.Warn().Err(uerr).
				Str("task_id", task.TaskID).
				Msg("Reconciliation update failed, will retry next tick")
			continue
		}
		if serr := s.store.StampExternalSynced(ctx, task.TaskID, s.now().UTC()); serr != nil {
			s.logger.Error().Err(serr).Str("task_id", task.TaskID).Msg("Failed to stamp reconciled sync")
			continue
		}
		s.logger.Info().Str("task_id", task.TaskID).Msg("Reconciled external completion")
	}
}

// processCustomer stamps missing due dates for one customer, resolves the
// earliest due group, and posts anything due.
func (s *Scheduler) processCustomer(ctx context.Context, customerID string, budget *atomic.Int64) {
	logger := s.logger.With().Str("customer_id", customerID).Logger()

	tasks, err := s.store.ListByCustomer(ctx, customerID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list customer tasks")
		metrics.CustomersProcessed.WithLabelValues("error").Inc()
		return
	}

	tasks = s.stampDueDates(ctx, customerID, tasks, logger)

	res := s.resolver.Resolve(customerID, tasks, s.now().UTC())
	metrics.CustomersProcessed.WithLabelValues(string(res.Outcome)).Inc()

	if res.Outcome != workflow.OutcomeEligible {
		logger.Debug().Str("outcome", string(res.Outcome)).Msg("Customer not eligible this tick")
		return
	}

	region := s.regionFor(customerID)
	for i := range res.Tasks {
		task := &res.Tasks[i]
		if task.DueDateUTC == nil {
			continue
		}

		if !task.Notified() {
			s.notifyInitial(ctx, task, region, budget, logger)
			continue
		}
		if task.NextChaseAtUTC != nil && !s.now().UTC().Before(*task.NextChaseAtUTC) {
			s.chase(ctx, task, region, budget, logger)
		}
	}
}

// stampDueDates computes and persists due dates for tasks that have none.
// Stamped values are reflected into the returned slice so the resolver sees
// them this tick. An existing due date is never recomputed.
func (s *Scheduler) stampDueDates(ctx context.Context, customerID string, tasks []models.TaskRecord, logger zerolog.Logger) []models.TaskRecord {
	var missing bool
	for i := range tasks {
		if tasks[i].DueDateUTC == nil {
			missing = true
			break
		}
	}
	if !missing {
		return tasks
	}

	anchorDates, err := s.anchors.AnchorDates(ctx, customerID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to fetch anchor dates")
		return tasks
	}

	region := s.regionFor(customerID)
	for i := range tasks {
		task := &tasks[i]
		if task.DueDateUTC != nil {
			continue
		}

		anchor, ok := anchorDates[task.AnchorDateType]
		if !ok {
			// The resolver reports the missing anchor loudly.
			continue
		}

		due, err := s.calc.ComputeDueUTC(anchor, task.StartOffsetDays, region, "")
		if err != nil {
			logger.Error().Err(err).
				Str("task_id", task.TaskID).
				Str("region", region).
				Msg("Failed to compute due date")
			continue
		}

		if err := s.store.SetDueDate(ctx, task.TaskID, due); err != nil {
			logger.Error().Err(err).Str("task_id", task.TaskID).Msg("Failed to stamp due date")
			continue
		}

		d := due
		task.DueDateUTC = &d
		logger.Debug().
			Str("task_id", task.TaskID).
			Time("due_utc", due).
			Msg("Stamped due date")
	}

	return tasks
}

// linkExpiry returns the ack-link expiry: grace business days past the due
// date, or past now when the task is already overdue, so a freshly minted
// link is never dead on arrival.
func (s *Scheduler) linkExpiry(dueUTC time.Time, region string) (time.Time, error) {
	base := dueUTC
	if now := s.now().UTC(); now.After(base) {
		base = now
	}
	return s.calc.AddBusinessDaysUTC(base, s.config.GraceBusinessDays, region)
}

// notifyInitial posts the root notification for a task and stamps the
// bookkeeping. The post happens first; a crash before the stamp means a
// duplicate post next tick, never a missing one.
func (s *Scheduler) notifyInitial(ctx context.Context, task *models.TaskRecord, region string, budget *atomic.Int64, logger zerolog.Logger) {
	if !spend(budget) {
		return
	}

	expiry, err := s.linkExpiry(*task.DueDateUTC, region)
	if err != nil {
		logger.Error().Err(err).Str("task_id", task.TaskID).Msg("Failed to compute link expiry")
		return
	}
	link := s.signer.AckURL(s.config.BaseURL, task.TaskID, expiry.Unix(), task.CorrelationID, task.ListKey)
	body := rootBody(task)

	if s.config.DryRun {
		metrics.DryRunDecisions.Inc()
		logger.Info().
			Str("task_id", task.TaskID).
			Str("task_name", task.TaskName).
			Time("due_utc", *task.DueDateUTC).
			Msg("Dry run: would post root notification")
		return
	}

	ref, err := s.post(ctx, func(c context.Context) (postResult, error) {
		r, perr := s.channel.PostRoot(c, taskRef(task), body, link)
		return postResult{ref: r, posted: true}, perr
	})
	if err != nil {
		s.logPostFailure(logger, err, task.TaskID, "root")
		metrics.NotificationFailures.WithLabelValues("root").Inc()
		return
	}
	metrics.NotificationsSent.WithLabelValues("root").Inc()

	now := s.now().UTC()
	// The first chase counts from the due date, floored at now for late
	// notifications, mirroring the link expiry base.
	chaseBase := task.DueDateUTC.UTC()
	if now.After(chaseBase) {
		chaseBase = now
	}
	nextChase, err := s.calc.AddBusinessDaysUTC(chaseBase, s.config.ChaseIntervalBusinessDays, region)
	if err != nil {
		nextChase = now.Add(48 * time.Hour)
	}

	if err := s.store.StampNotified(ctx, task.TaskID, store.NotifiedStamp{
		RootMessageID:  ref.ref.ID,
		NotifiedAtUTC:  now,
		AckExpiresUTC:  expiry,
		NextChaseAtUTC: nextChase,
	}); err != nil {
		// At-least-once: the post landed, the stamp did not. The next tick
		// re-posts.
		logger.Error().Err(err).Str("task_id", task.TaskID).Msg("Failed to stamp notification")
		return
	}

	if err := s.store.UpdateStatus(ctx, task.TaskID, models.StatusInProgress); err != nil {
		logger.Error().Err(err).Str("task_id", task.TaskID).Msg("Failed to advance task status")
	}

	logger.Info().
		Str("task_id", task.TaskID).
		Str("task_name", task.TaskName).
		Str("message_id", ref.ref.ID).
		Time("ack_expires_utc", expiry).
		Time("next_chase_utc", nextChase).
		Msg("Posted root notification")
}

// chase posts a reminder into the task's thread with a freshly minted link.
// When the root message is gone the configured fallback either starts a new
// thread or skips the task.
func (s *Scheduler) chase(ctx context.Context, task *models.TaskRecord, region string, budget *atomic.Int64, logger zerolog.Logger) {
	if !spend(budget) {
		return
	}

	expiry, err := s.linkExpiry(*task.DueDateUTC, region)
	if err != nil {
		logger.Error().Err(err).Str("task_id", task.TaskID).Msg("Failed to compute link expiry")
		return
	}
	link := s.signer.AckURL(s.config.BaseURL, task.TaskID, expiry.Unix(), task.CorrelationID, task.ListKey)
	body := chaserBody(task)

	if s.config.DryRun {
		metrics.DryRunDecisions.Inc()
		logger.Info().
			Str("task_id", task.TaskID).
			Str("task_name", task.TaskName).
			Msg("Dry run: would post chaser")
		return
	}

	newRoot := false
	res, err := s.post(ctx, func(c context.Context) (postResult, error) {
		if task.RootMessageID == "" {
			return postResult{}, nil
		}
		thread := collab.MessageRef{ID: task.RootMessageID, Thread: task.RootMessageID}
		posted, perr := s.channel.PostChaserReply(c, thread, body, link)
		return postResult{ref: thread, posted: posted}, perr
	})
	if err != nil {
		s.logPostFailure(logger, err, task.TaskID, "chaser")
		metrics.NotificationFailures.WithLabelValues("chaser").Inc()
		return
	}

	if !res.posted {
		// Thread missing or never recorded.
		if !s.config.ThreadFallbackNewRoot {
			logger.Warn().
				Str("task_id", task.TaskID).
				Msg("Chaser thread unavailable and fallback disabled, skipping")
			return
		}
		newRoot = true
		res, err = s.post(ctx, func(c context.Context) (postResult, error) {
			r, perr := s.channel.PostRoot(c, taskRef(task), body, link)
			return postResult{ref: r, posted: true}, perr
		})
		if err != nil {
			s.logPostFailure(logger, err, task.TaskID, "chaser")
			metrics.NotificationFailures.WithLabelValues("chaser").Inc()
			return
		}
	}
	metrics.NotificationsSent.WithLabelValues("chaser").Inc()

	now := s.now().UTC()
	nextChase, err := s.calc.AddBusinessDaysUTC(now, s.config.ChaseIntervalBusinessDays, region)
	if err != nil {
		nextChase = now.Add(48 * time.Hour)
	}

	if err := s.store.StampChase(ctx, task.TaskID, store.ChaseStamp{
		LastMessageID:  res.ref.ID,
		ChasedAtUTC:    now,
		AckExpiresUTC:  expiry,
		NextChaseAtUTC: nextChase,
		NewRoot:        newRoot,
	}); err != nil {
		logger.Error().Err(err).Str("task_id", task.TaskID).Msg("Failed to stamp chaser")
		return
	}

	logger.Info().
		Str("task_id", task.TaskID).
		Str("task_name", task.TaskName).
		Bool("new_root", newRoot).
		Time("next_chase_utc", nextChase).
		Msg("Posted chaser")
}

// post runs one channel post through the rate limiter and circuit breaker.
func (s *Scheduler) post(ctx context.Context, fn func(context.Context) (postResult, error)) (postResult, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return postResult{}, err
		}
	}
	return s.breaker.Execute(func() (postResult, error) {
		return fn(ctx)
	})
}

func (s *Scheduler) logPostFailure(logger zerolog.Logger, err error, taskID, kind string) {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		logger.Debug().Str("task_id", taskID).Str("kind", kind).Msg("Channel breaker open, skipping post")
		return
	}
	logger.Error().Err(err).Str("task_id", taskID).Str("kind", kind).Msg("Channel post failed")
}

// spend takes one unit from the tick's post budget.
func spend(budget *atomic.Int64) bool {
	return budget.Add(-1) >= 0
}

func taskRef(task *models.TaskRecord) collab.TaskRef {
	return collab.TaskRef{
		TaskID:     task.TaskID,
		TaskName:   task.TaskName,
		CustomerID: task.CustomerID,
		TeamRef:    task.TeamRef,
		ChannelRef: task.ChannelRef,
	}
}

func rootBody(task *models.TaskRecord) string {
	return fmt.Sprintf("Task %q (%s / %s) is due %s. Use the link below to confirm completion.",
		task.TaskName, task.CustomerID, task.PhaseName,
		task.DueDateUTC.Format("Mon 02 Jan 2006"))
}

func chaserBody(task *models.TaskRecord) string {
	return fmt.Sprintf("Reminder: task %q (%s / %s) was due %s and is still open. Use the link below to confirm completion.",
		task.TaskName, task.CustomerID, task.PhaseName,
		task.DueDateUTC.Format("Mon 02 Jan 2006"))
}
