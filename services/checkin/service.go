// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package checkin handles check-in submission and reads.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/careos/careos/services/audit"
	"github.com/careos/careos/services/datatypes"
	"github.com/careos/careos/services/storage"
)

// ErrForbidden is returned when the caller may not modify a check-in.
var ErrForbidden = errors.New("forbidden")

// Store is the subset of storage the service needs.
type Store interface {
	storage.CheckInStore
	GetUser(ctx context.Context, id string) (datatypes.User, error)
	GetPrivacySettings(ctx context.Context, userID string) (datatypes.PrivacySettings, error)
}

// Analyzer runs the post-submission deviation checks.
type Analyzer interface {
	CheckSingleSubmission(ctx context.Context, userID string) ([]datatypes.MetricDeviation, error)
	DetectForUser(ctx context.Context, userID string, lookbackDays int) ([]datatypes.Deviation, error)
}

// SubmitResult is returned to the submitter.
type SubmitResult struct {
	CheckIn      datatypes.CheckIn           `json:"checkIn"`
	PatternShift []datatypes.MetricDeviation `json:"patternShift,omitempty"`
}

// Service coordinates check-in storage, analysis and access auditing.
type Service struct {
	store    Store
	analyzer Analyzer
	audit    *audit.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithAnalyzer enables post-submission analysis.
func WithAnalyzer(a Analyzer) Option {
	return func(s *Service) { s.analyzer = a }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now when stamping check-ins.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a Service.
func NewService(store Store, recorder *audit.Recorder, opts ...Option) (*Service, error) {
	if store == nil || recorder == nil {
		return nil, errors.New("check-in service requires a store and an audit recorder")
	}
	s := &Service{
		store:  store,
		audit:  recorder,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Submit stores a check-in for userID and runs the post-submission checks.
//
// # Description
//
// The input is validated and its visibility defaults to the user's privacy
// setting. The check-in is upserted on (user, UTC day), so a second
// submission on the same day replaces the first. The per-submission relative
// check and the user's deviation run follow; their failures are logged and
// never fail the submission.
func (s *Service) Submit(ctx context.Context, userID string, in datatypes.CheckInInput) (SubmitResult, error) {
	if userID == "" {
		return SubmitResult{}, fmt.Errorf("%w: user id required", datatypes.ErrValidation)
	}
	if err := in.Validate(); err != nil {
		return SubmitResult{}, err
	}

	visibility := in.Visibility
	if visibility == "" {
		privacy, err := s.store.GetPrivacySettings(ctx, userID)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("load privacy settings: %w", err)
		}
		visibility = privacy.DefaultVisibility
		if !visibility.IsValid() {
			visibility = datatypes.VisibilityManager
		}
	}

	stored, err := s.store.UpsertCheckIn(ctx, datatypes.NewCheckIn(userID, in, visibility, s.now()))
	if err != nil {
		return SubmitResult{}, fmt.Errorf("store check-in: %w", err)
	}
	s.logger.Info("Check-in stored",
		"user_id", userID,
		"checkin_id", stored.ID,
		"date", stored.CheckInDate)

	res := SubmitResult{CheckIn: stored}
	if s.analyzer == nil {
		return res, nil
	}

	shift, err := s.analyzer.CheckSingleSubmission(ctx, userID)
	if err != nil {
		s.logger.Warn("Per-submission deviation check failed", "user_id", userID, "error", err)
	} else {
		res.PatternShift = shift
	}
	if _, err := s.analyzer.DetectForUser(ctx, userID, 0); err != nil {
		s.logger.Warn("Post-submission deviation detection failed", "user_id", userID, "error", err)
	}
	return res, nil
}

// UpdateCheckIn changes the visibility or notes of the requester's own
// check-in.
func (s *Service) UpdateCheckIn(ctx context.Context, requesterID, id string, upd datatypes.CheckInUpdate) (datatypes.CheckIn, error) {
	if err := upd.Validate(); err != nil {
		return datatypes.CheckIn{}, err
	}
	current, err := s.store.GetCheckIn(ctx, id)
	if err != nil {
		return datatypes.CheckIn{}, fmt.Errorf("load check-in: %w", err)
	}
	if current.UserID != requesterID {
		return datatypes.CheckIn{}, fmt.Errorf("%w: check-in %s belongs to another user", ErrForbidden, id)
	}
	updated, err := s.store.UpdateCheckIn(ctx, id, upd)
	if err != nil {
		return datatypes.CheckIn{}, fmt.Errorf("update check-in: %w", err)
	}
	return updated, nil
}

// ListVisible returns the target user's check-ins that viewer may see,
// newest first, and audits the access.
func (s *Service) ListVisible(ctx context.Context, viewer datatypes.User, targetUserID string, limit int) ([]datatypes.CheckIn, error) {
	owner := datatypes.User{ID: targetUserID}
	if viewer.ID != targetUserID {
		u, err := s.store.GetUser(ctx, targetUserID)
		if err != nil {
			return nil, fmt.Errorf("load user %s: %w", targetUserID, err)
		}
		owner = u
	}

	all, err := s.store.ListCheckIns(ctx, targetUserID, time.Time{}, 0)
	if err != nil {
		return nil, fmt.Errorf("list check-ins: %w", err)
	}
	visible := make([]datatypes.CheckIn, 0, len(all))
	for _, c := range all {
		if CanView(c, viewer, owner) {
			visible = append(visible, c)
		}
	}
	if limit > 0 && len(visible) > limit {
		visible = visible[:limit]
	}

	granted := viewer.ID == targetUserID || len(visible) > 0
	s.audit.RecordDataAccess(ctx, viewer.ID, targetUserID, "checkins", granted)
	return visible, nil
}
