// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package deviation detects meaningful shifts in an employee's check-in
// history.
//
// Two kinds of check exist. The batch rules (Evaluate, DetectForUser,
// RunBatchSweep) look at the lookback window and persist deviations, with a
// dedup window that stops a condition from alerting on every run. The
// per-submission check (CheckSingleSubmission) compares the latest check-in
// with the trailing 7-day mean and is reported back to the submitter only.
package deviation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/careos/careos/services/datatypes"
	"github.com/careos/careos/services/storage"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("careos.deviation")

// ErrInvalidCheckIn marks a stored check-in that fails validation. The
// affected user's run is aborted; other users are unaffected.
var ErrInvalidCheckIn = errors.New("invalid check-in")

// DefaultLookbackDays is used when neither the caller nor config sets one.
const DefaultLookbackDays = 14

// Store is the subset of storage the detector needs.
type Store interface {
	storage.CheckInStore
	storage.DeviationStore
	storage.UserStore
}

// Metrics receives detector counters.
type Metrics interface {
	RecordDeviationDetected(deviationType string)
	RecordDeviationSuppressed(deviationType string)
	RecordSweepUserFailure()
}

type nopMetrics struct{}

func (nopMetrics) RecordDeviationDetected(string) {}
func (nopMetrics) RecordDeviationSuppressed(string) {}
func (nopMetrics) RecordSweepUserFailure() {}

// Config holds detector settings.
type Config struct {
	LookbackDays int
	Concurrency  int
	Thresholds   Thresholds
}

// DefaultConfig returns the standard detector settings.
func DefaultConfig() Config {
	return Config{
		LookbackDays: DefaultLookbackDays,
		Concurrency:  4,
		Thresholds:   DefaultThresholds(),
	}
}

// Detector runs the deviation rules against stored check-ins.
//
// # Thread Safety
//
// Safe for concurrent use. The dedup check-then-insert is delegated to the
// store, which makes it atomic per {user, type}.
type Detector struct {
	store   Store
	cfg     Config
	logger  *slog.Logger
	metrics Metrics
	now     func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the detector logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics sets the detector metrics.
func WithMetrics(m Metrics) Option {
	return func(d *Detector) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDetector creates a Detector. Zero config fields take defaults.
func NewDetector(store Store, cfg Config, opts ...Option) (*Detector, error) {
	if store == nil {
		return nil, errors.New("deviation detector requires a store")
	}
	def := DefaultConfig()
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = def.LookbackDays
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = def.Thresholds
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid deviation thresholds: %w", err)
	}

	d := &Detector{
		store:   store,
		cfg:     cfg,
		logger:  slog.Default(),
		metrics: nopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Thresholds returns the active thresholds.
func (d *Detector) Thresholds() Thresholds {
	return d.cfg.Thresholds
}

// DetectForUser runs the batch rules for one user and persists new
// deviations.
//
// # Description
//
// Users who opted out of AI analysis are skipped entirely. Every check-in in
// the window is validated first; a malformed one aborts this user's run with
// ErrInvalidCheckIn. Each finding is persisted through
// CreateDeviationIfAbsent, so repeats within the dedup window are dropped.
//
// # Inputs
//
//   - lookbackDays: window size; <= 0 uses the configured default.
//
// # Outputs
//
//   - []datatypes.Deviation: only the deviations newly persisted by this call.
//   - error: ErrInvalidCheckIn (wrapped) or a storage error.
func (d *Detector) DetectForUser(ctx context.Context, userID string, lookbackDays int) ([]datatypes.Deviation, error) {
	ctx, span := tracer.Start(ctx, "deviation.DetectForUser")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	if lookbackDays <= 0 {
		lookbackDays = d.cfg.LookbackDays
	}

	privacy, err := d.store.GetPrivacySettings(ctx, userID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load privacy settings for %s: %w", userID, err)
	}
	if !privacy.AllowAIAnalysis {
		d.logger.Debug("Skipping deviation detection, user opted out", "user_id", userID)
		return nil, nil
	}

	now := d.now().UTC()
	since := now.Add(-time.Duration(lookbackDays) * 24 * time.Hour)
	checkIns, err := d.store.ListCheckIns(ctx, userID, since, 0)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list check-ins for %s: %w", userID, err)
	}
	for i := range checkIns {
		if verr := checkIns[i].Validate(); verr != nil {
			err := fmt.Errorf("%w: %s: %v", ErrInvalidCheckIn, checkIns[i].ID, verr)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	findings := Evaluate(checkIns, lookbackDays, d.cfg.Thresholds)
	span.SetAttributes(
		attribute.Int("checkins", len(checkIns)),
		attribute.Int("findings", len(findings)))

	var created []datatypes.Deviation
	for _, f := range findings {
		dev := datatypes.Deviation{
			ID:          uuid.NewString(),
			UserID:      userID,
			Type:        f.Type,
			Severity:    f.Severity,
			Description: f.Description,
			DetectedAt:  now,
		}
		ok, err := d.store.CreateDeviationIfAbsent(ctx, dev, d.cfg.Thresholds.DedupWindow)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return created, fmt.Errorf("persist %s deviation for %s: %w", f.Type, userID, err)
		}
		if !ok {
			d.metrics.RecordDeviationSuppressed(string(f.Type))
			d.logger.Debug("Deviation suppressed by dedup window",
				"user_id", userID,
				"type", f.Type)
			continue
		}
		d.metrics.RecordDeviationDetected(string(f.Type))
		d.logger.Info("Deviation detected",
			"user_id", userID,
			"type", f.Type,
			"severity", f.Severity)
		created = append(created, dev)
	}
	return created, nil
}
