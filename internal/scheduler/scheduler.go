/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package scheduler polls the store for pending builds and admits them
// up to a tenant's concurrency limit, handing each claimed build to the
// executor to run to completion.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/centrixci/centrix-ci/internal/store"
)

// checkInterval is how often the scheduler scans for pending builds.
const checkInterval = 5 * time.Second

// buildRunner is the subset of *executor.Executor the scheduler depends
// on, kept as an interface so tests can substitute a fake.
type buildRunner interface {
	Run(ctx context.Context, build *store.Build, project *store.Project) error
}

// Scheduler admits pending builds for a single tenant up to
// maxConcurrent, running each on its own goroutine via executor.
type Scheduler struct {
	store         *store.Store
	executor      buildRunner
	tenantID      string
	maxConcurrent int
	log           *zap.Logger

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	stopped chan struct{}
}

// New builds a Scheduler for tenantID, admitting at most maxConcurrent
// builds at once.
func New(st *store.Store, executor buildRunner, tenantID string, maxConcurrent int, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Scheduler{
		store:         st,
		executor:      executor,
		tenantID:      tenantID,
		maxConcurrent: maxConcurrent,
		log:           log,
	}
}

// Start begins polling on a fixed interval until ctx is cancelled or
// Stop is called. Start must only be called once per Scheduler.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopped = make(chan struct{})

	go func() {
		defer close(s.stopped)
		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return
			case now := <-ticker.C:
				s.runOnce(ctx, now)
			}
		}
	}()
}

// Stop cancels the polling loop and waits for in-flight builds to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.stopped != nil {
		<-s.stopped
	}
}

// runOnce admits as many pending builds as there is spare concurrency
// for, each dispatched to its own goroutine.
func (s *Scheduler) runOnce(ctx context.Context, now time.Time) {
	running, err := s.store.CountRunningBuilds(ctx, s.tenantID)
	if err != nil {
		s.log.Error("scheduler: count running builds failed", zap.Error(err))
		return
	}

	for slot := s.maxConcurrent - running; slot > 0; slot-- {
		build, err := s.store.ClaimNextPendingBuild(ctx, s.tenantID)
		if err == store.ErrNotFound {
			return
		}
		if err != nil {
			s.log.Error("scheduler: claim pending build failed", zap.Error(err))
			return
		}

		project, err := s.store.GetProject(ctx, s.tenantID, build.ProjectID)
		if err != nil {
			s.log.Error("scheduler: resolve project for build failed",
				zap.String("build_id", build.ID), zap.Error(err))
			continue
		}

		s.wg.Add(1)
		go func(b *store.Build, p *store.Project) {
			defer s.wg.Done()
			if err := s.executor.Run(ctx, b, p); err != nil {
				s.log.Error("scheduler: build run failed",
					zap.String("build_id", b.ID), zap.Error(err))
			}
		}(build, project)
	}
}
