// ConfluenceSyncService - Smartsheet/Confluence Mirroring and Task Acknowledgment Workflow
// Copyright 2026 Chip E. (chip-edw)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chip-edw/ConfluenceSyncService-sub000

package services

import (
	"context"
	"fmt"
)

// SchedulerManager matches the task scheduler's Start/Stop lifecycle.
// Satisfied by *scheduler.Scheduler.
type SchedulerManager interface {
	Start(ctx context.Context) error
	Stop() error
}

// SchedulerService adapts the Start/Stop lifecycle to suture's Serve
// pattern: start the tick loop, block until cancellation, stop gracefully.
type SchedulerService struct {
	manager SchedulerManager
	name    string
}

// NewSchedulerService wraps the task scheduler as a supervised service.
func NewSchedulerService(manager SchedulerManager) *SchedulerService {
	return &SchedulerService{
		manager: manager,
		name:    "task-scheduler",
	}
}

// Serve implements suture.Service. A failed Start returns immediately so
// suture restarts the service under its backoff policy.
func (s *SchedulerService) Serve(ctx context.Context) error {
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("task scheduler start failed: %w", err)
	}

	<-ctx.Done()

	if err := s.manager.Stop(); err != nil {
		return fmt.Errorf("task scheduler stop failed: %w", err)
	}

	return ctx.Err()
}

// String identifies the service in supervisor logs.
func (s *SchedulerService) String() string {
	return s.name
}
