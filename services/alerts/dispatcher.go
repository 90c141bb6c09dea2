// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package alerts notifies managers about pending deviations.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/careos/careos/services/datatypes"
	"github.com/careos/careos/services/messaging"
	"github.com/careos/careos/services/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("careos.alerts")

// Outcomes reported to Metrics.RecordAlert.
const (
	OutcomeSent             = "sent"
	OutcomeSkippedNoManager = "skipped_no_manager"
	OutcomeSkippedOptOut    = "skipped_opt_out"
	OutcomeFailed           = "failed"
)

// Store is the subset of storage the dispatcher needs.
type Store interface {
	storage.DeviationStore
	storage.UserStore
}

// Metrics receives per-deviation dispatch outcomes.
type Metrics interface {
	RecordAlert(outcome string)
}

type nopMetrics struct{}

func (nopMetrics) RecordAlert(string) {}

// DispatchResult summarises one dispatch run.
type DispatchResult struct {
	Pending          int `json:"pending"`
	Sent             int `json:"sent"`
	SkippedNoManager int `json:"skippedNoManager"`
	SkippedOptOut    int `json:"skippedOptOut"`
	Failed           int `json:"failed"`
}

// Config holds dispatcher settings.
type Config struct {
	// RatePerSecond paces outbound notifications. <= 0 disables pacing.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// DefaultConfig returns the standard dispatcher settings.
func DefaultConfig() Config {
	return Config{RatePerSecond: 5, Burst: 5}
}

// Dispatcher sends manager alerts for pending deviations.
//
// # Description
//
// Delivery is at-least-once: a deviation is marked notified only after the
// notifier accepted it, so a crash between the two steps resends the alert
// on the next run.
//
// # Thread Safety
//
// DispatchPending may be called concurrently, but two overlapping runs can
// both send the same alert. The scheduler serialises runs.
type Dispatcher struct {
	store    Store
	notifier messaging.Notifier
	limiter  *rate.Limiter
	logger   *slog.Logger
	metrics  Metrics
	now      func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics records alert outcomes.
func WithMetrics(m Metrics) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithClock overrides time.Now when stamping notified deviations.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(store Store, notifier messaging.Notifier, cfg Config, opts ...Option) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("alert dispatcher requires a store")
	}
	if notifier == nil {
		return nil, errors.New("alert dispatcher requires a notifier")
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	d := &Dispatcher{
		store:    store,
		notifier: notifier,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   slog.Default(),
		metrics:  nopMetrics{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// DispatchPending sends an alert for every pending deviation.
//
// # Description
//
// For each deviation that is neither notified nor resolved, oldest first:
//
//  1. The subject's privacy settings are checked; opted-out users are skipped.
//  2. The subject's manager is resolved; no manager means skip with a warning.
//  3. The advisory message is built and sent through the notifier.
//  4. The deviation is marked notified.
//
// A failure on one deviation is logged and counted and never affects the
// others. Skipped deviations stay pending.
//
// # Outputs
//
//   - DispatchResult: per-outcome counts.
//   - error: non-nil if the pending list cannot be read or ctx ends.
func (d *Dispatcher) DispatchPending(ctx context.Context) (DispatchResult, error) {
	ctx, span := tracer.Start(ctx, "alerts.DispatchPending")
	defer span.End()

	var res DispatchResult
	pending, err := d.store.ListPendingDeviations(ctx)
	if err != nil {
		return res, fmt.Errorf("list pending deviations: %w", err)
	}
	res.Pending = len(pending)

	for _, dev := range pending {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("alert dispatch interrupted: %w", err)
		}
		outcome, err := d.dispatchOne(ctx, dev)
		switch outcome {
		case OutcomeSent:
			res.Sent++
		case OutcomeSkippedNoManager:
			res.SkippedNoManager++
		case OutcomeSkippedOptOut:
			res.SkippedOptOut++
		case OutcomeFailed:
			res.Failed++
			d.logger.Error("Failed to send deviation alert",
				"deviation_id", dev.ID,
				"user_id", dev.UserID,
				"error", err)
		}
		d.metrics.RecordAlert(outcome)
	}

	span.SetAttributes(
		attribute.Int("pending", res.Pending),
		attribute.Int("sent", res.Sent),
		attribute.Int("failed", res.Failed))
	if res.Pending > 0 {
		d.logger.Info("Deviation alerts dispatched",
			"pending", res.Pending,
			"sent", res.Sent,
			"skipped_no_manager", res.SkippedNoManager,
			"skipped_opt_out", res.SkippedOptOut,
			"failed", res.Failed)
	}
	return res, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, dev datatypes.Deviation) (string, error) {
	privacy, err := d.store.GetPrivacySettings(ctx, dev.UserID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("load privacy settings: %w", err)
	}
	if !privacy.AllowAIAnalysis {
		d.logger.Debug("Skipping alert, user opted out of AI analysis",
			"deviation_id", dev.ID,
			"user_id", dev.UserID)
		return OutcomeSkippedOptOut, nil
	}

	subject, err := d.store.GetUser(ctx, dev.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			d.logger.Warn("Deviation subject not found, skipping notification",
				"deviation_id", dev.ID,
				"user_id", dev.UserID)
			return OutcomeSkippedNoManager, nil
		}
		return OutcomeFailed, fmt.Errorf("load user: %w", err)
	}
	if subject.ManagerID == "" {
		d.logger.Warn("User has no manager assigned, skipping notification", "user_id", dev.UserID)
		return OutcomeSkippedNoManager, nil
	}
	manager, err := d.store.GetUser(ctx, subject.ManagerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			d.logger.Warn("Manager not found, skipping notification",
				"user_id", dev.UserID,
				"manager_id", subject.ManagerID)
			return OutcomeSkippedNoManager, nil
		}
		return OutcomeFailed, fmt.Errorf("load manager: %w", err)
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return OutcomeFailed, fmt.Errorf("rate limiter: %w", err)
	}
	if err := d.notifier.Notify(ctx, manager.Identity(), BuildMessage(dev, subject)); err != nil {
		return OutcomeFailed, fmt.Errorf("notify manager %s: %w", manager.ID, err)
	}
	if err := d.store.MarkDeviationNotified(ctx, dev.ID, d.now().UTC()); err != nil {
		return OutcomeFailed, fmt.Errorf("mark notified: %w", err)
	}

	d.logger.Info("Deviation alert sent to manager",
		"deviation_id", dev.ID,
		"manager_id", manager.ID)
	return OutcomeSent, nil
}
