// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler runs the deviation sweep and alert dispatch in the
// background.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/careos/careos/services/alerts"
)

// =============================================================================
// Interfaces
// =============================================================================

// Sweeper runs the batch deviation sweep.
type Sweeper interface {
	RunBatchSweep(ctx context.Context) (int, error)
}

// Dispatcher sends pending deviation alerts.
type Dispatcher interface {
	DispatchPending(ctx context.Context) (alerts.DispatchResult, error)
}

// JobMetrics records job runs.
type JobMetrics interface {
	RecordJob(job string, seconds float64, success bool)
}

type nopMetrics struct{}

func (nopMetrics) RecordJob(string, float64, bool) {}

// Job names reported to JobMetrics.
const (
	JobSweep    = "sweep"
	JobDispatch = "dispatch"
)

// =============================================================================
// Scheduler
// =============================================================================

// Config holds scheduler settings.
//
// # Fields
//
//   - SweepInterval: how often the full sweep-then-dispatch cycle runs. Default: 24h.
//   - DispatchInterval: how often pending alerts are dispatched between
//     sweeps. Default: 1h. Zero disables the extra dispatch loop.
//   - RunOnStart: run a full cycle immediately on Start.
type Config struct {
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	DispatchInterval time.Duration `yaml:"dispatch_interval"`
	RunOnStart       bool          `yaml:"run_on_start"`
}

// DefaultConfig returns the nightly schedule.
func DefaultConfig() Config {
	return Config{
		SweepInterval:    24 * time.Hour,
		DispatchInterval: time.Hour,
	}
}

// RunResult summarises one cycle.
type RunResult struct {
	DeviationsCreated int                   `json:"deviationsCreated"`
	Dispatch          alerts.DispatchResult `json:"dispatch"`
	StartTime         time.Time             `json:"startTime"`
	EndTime           time.Time             `json:"endTime"`
}

// Duration returns how long the cycle took.
func (r RunResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Scheduler runs sweep then dispatch on a ticker.
//
// # Description
//
// Uses the ticker + done channel pattern. Cycles never overlap: scheduled
// runs and RunNow share one run lock, so the dispatcher is never invoked
// concurrently with itself. Cycle errors are logged and never stop the
// loop.
//
// # Thread Safety
//
// All public methods are thread-safe.
type Scheduler struct {
	sweeper    Sweeper
	dispatcher Dispatcher
	cfg        Config
	logger     *slog.Logger
	metrics    JobMetrics

	runMu sync.Mutex

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger. Nil keeps slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records job durations and outcomes. Nil keeps the no-op recorder.
func WithMetrics(m JobMetrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New creates a Scheduler. Zero intervals take defaults, except
// DispatchInterval which may be left at zero to disable the dispatch loop.
func New(sweeper Sweeper, dispatcher Dispatcher, cfg Config, opts ...Option) (*Scheduler, error) {
	if sweeper == nil || dispatcher == nil {
		return nil, errors.New("scheduler requires a sweeper and a dispatcher")
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	s := &Scheduler{
		sweeper:    sweeper,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     slog.Default(),
		metrics:    nopMetrics{},
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start begins the background loop.
//
// # Outputs
//
//   - error: non-nil if the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{})

	s.logger.Info("Deviation scheduler starting",
		"sweep_interval", s.cfg.SweepInterval.String(),
		"dispatch_interval", s.cfg.DispatchInterval.String(),
		"run_on_start", s.cfg.RunOnStart)

	s.wg.Add(1)
	go s.runLoop(ctx, s.done)
	return nil
}

// Stop signals the loop to exit and waits for the current cycle to finish.
// Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.logger.Info("Deviation scheduler stopping")
	close(s.done)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
}

// Running reports whether the background loop is active. It turns false
// once the loop exits, whether through Stop or a cancelled context.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow runs a full cycle immediately: sweep, then dispatch.
//
// A failed sweep does not skip the dispatch; both errors are returned
// joined.
func (s *Scheduler) RunNow(ctx context.Context) (RunResult, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	res := RunResult{StartTime: time.Now()}
	_, sweepErr := s.timed(JobSweep, func() error {
		n, err := s.sweeper.RunBatchSweep(ctx)
		res.DeviationsCreated = n
		return err
	})
	_, dispatchErr := s.timed(JobDispatch, func() error {
		r, err := s.dispatcher.DispatchPending(ctx)
		res.Dispatch = r
		return err
	})
	res.EndTime = time.Now()

	var errs []error
	if sweepErr != nil {
		errs = append(errs, fmt.Errorf("deviation sweep: %w", sweepErr))
	}
	if dispatchErr != nil {
		errs = append(errs, fmt.Errorf("alert dispatch: %w", dispatchErr))
	}
	return res, errors.Join(errs...)
}

// DispatchNow runs only the alert dispatch.
func (s *Scheduler) DispatchNow(ctx context.Context) (alerts.DispatchResult, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	var res alerts.DispatchResult
	_, err := s.timed(JobDispatch, func() error {
		var err error
		res, err = s.dispatcher.DispatchPending(ctx)
		return err
	})
	return res, err
}

// =============================================================================
// Internal Methods
// =============================================================================

func (s *Scheduler) runLoop(ctx context.Context, done chan struct{}) {
	defer s.wg.Done()
	defer s.loopExited(done)

	sweepTicker := time.NewTicker(s.cfg.SweepInterval)
	defer sweepTicker.Stop()

	var dispatchC <-chan time.Time
	if s.cfg.DispatchInterval > 0 {
		dispatchTicker := time.NewTicker(s.cfg.DispatchInterval)
		defer dispatchTicker.Stop()
		dispatchC = dispatchTicker.C
	}

	if s.cfg.RunOnStart {
		s.executeCycle(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Deviation scheduler stopped (context cancelled)")
			return
		case <-done:
			s.logger.Info("Deviation scheduler stopped (stop requested)")
			return
		case <-sweepTicker.C:
			s.executeCycle(ctx)
		case <-dispatchC:
			if _, err := s.DispatchNow(ctx); err != nil {
				s.logger.Error("Scheduled alert dispatch failed", "error", err)
			}
		}
	}
}

// loopExited clears running when the loop returns on its own. A loop that
// has already been replaced by a later Start leaves the state alone.
func (s *Scheduler) loopExited(done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == done {
		s.running = false
	}
}

// executeCycle wraps RunNow with logging so errors never stop the loop.
func (s *Scheduler) executeCycle(ctx context.Context) {
	res, err := s.RunNow(ctx)
	if err != nil {
		s.logger.Error("Deviation cycle failed", "error", err)
	}
	s.logger.Info("Deviation cycle completed",
		"deviations_created", res.DeviationsCreated,
		"alerts_sent", res.Dispatch.Sent,
		"alerts_failed", res.Dispatch.Failed,
		"duration_ms", res.Duration().Milliseconds())
}

func (s *Scheduler) timed(job string, fn func() error) (time.Duration, error) {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	s.metrics.RecordJob(job, elapsed.Seconds(), err == nil)
	return elapsed, err
}
