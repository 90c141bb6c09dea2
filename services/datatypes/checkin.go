// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the domain records shared by the CareOS services.
//
// Check-ins, deviations, insights, audit entries, users and privacy settings
// all live here so that storage backends, the HTTP layer and the analysis
// services agree on one shape. Validation is done with go-playground/validator
// struct tags; call Validate() after binding a request body.
package datatypes

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MinScore and MaxScore bound every 1-10 check-in scale.
	MinScore = 1
	MaxScore = 10

	// MaxNotesBytes caps free-text notes on a single check-in.
	MaxNotesBytes = 4 * 1024

	// CheckInDateLayout is the layout of CheckIn.CheckInDate (one per user per day).
	CheckInDateLayout = "2006-01-02"
)

// ErrValidation is returned (wrapped) when a record fails validation.
var ErrValidation = errors.New("validation failed")

// =============================================================================
// Shared Validator Instance
// =============================================================================

// validate is the validator instance for all datatypes.
var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("visibility", validateVisibility)
}

func validateVisibility(fl validator.FieldLevel) bool {
	return Visibility(fl.Field().String()).IsValid()
}

// validateStruct runs the shared validator and wraps failures in ErrValidation.
func validateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// =============================================================================
// Visibility
// =============================================================================

// Visibility controls who may read a check-in.
type Visibility string

const (
	VisibilityPrivate Visibility = "PRIVATE"
	VisibilityManager Visibility = "MANAGER"
	VisibilityPublic  Visibility = "PUBLIC"
)

// IsValid reports whether v is one of the known visibility levels.
func (v Visibility) IsValid() bool {
	switch v {
	case VisibilityPrivate, VisibilityManager, VisibilityPublic:
		return true
	default:
		return false
	}
}

// =============================================================================
// Check-in
// =============================================================================

// CheckIn is a user-submitted snapshot of mood, workload, energy and stress for
// a given day.
//
// # Description
//
// Check-ins are immutable once created except for Visibility and Notes. At
// most one check-in exists per user per CheckInDate; a second submission on
// the same day replaces the first (upsert semantics).
//
// # Fields
//
//   - MoodScore, WorkloadLevel: required, 1-10.
//   - EnergyLevel, StressLevel: optional, 1-10 when present.
//   - Visibility: PRIVATE, MANAGER or PUBLIC.
type CheckIn struct {
	ID            string     `json:"id" validate:"required"`
	UserID        string     `json:"userId" validate:"required"`
	Timestamp     time.Time  `json:"timestamp" validate:"required"`
	CheckInDate   string     `json:"checkInDate" validate:"required,datetime=2006-01-02"`
	MoodScore     int        `json:"moodScore" validate:"min=1,max=10"`
	WorkloadLevel int        `json:"workloadLevel" validate:"min=1,max=10"`
	EnergyLevel   *int       `json:"energyLevel,omitempty" validate:"omitempty,min=1,max=10"`
	StressLevel   *int       `json:"stressLevel,omitempty" validate:"omitempty,min=1,max=10"`
	Notes         string     `json:"notes,omitempty" validate:"max=4096"`
	Visibility    Visibility `json:"visibility" validate:"required,visibility"`
}

// Validate checks the check-in against its struct tags.
func (c *CheckIn) Validate() error {
	return validateStruct(c)
}

// CheckInInput is the body of a check-in submission.
//
// Visibility is optional; when empty the submitter's default visibility from
// their privacy settings is used.
type CheckInInput struct {
	MoodScore     int        `json:"moodScore" validate:"min=1,max=10"`
	WorkloadLevel int        `json:"workloadLevel" validate:"min=1,max=10"`
	EnergyLevel   *int       `json:"energyLevel,omitempty" validate:"omitempty,min=1,max=10"`
	StressLevel   *int       `json:"stressLevel,omitempty" validate:"omitempty,min=1,max=10"`
	Notes         string     `json:"notes,omitempty" validate:"max=4096"`
	Visibility    Visibility `json:"visibility,omitempty" validate:"omitempty,visibility"`
}

// Validate checks the input against its struct tags.
func (in *CheckInInput) Validate() error {
	return validateStruct(in)
}

// CheckInUpdate carries the only mutable check-in fields. Nil means unchanged.
type CheckInUpdate struct {
	Visibility *Visibility `json:"visibility,omitempty"`
	Notes      *string     `json:"notes,omitempty" validate:"omitempty,max=4096"`
}

// Validate checks the update against its struct tags.
func (u *CheckInUpdate) Validate() error {
	if u.Visibility == nil && u.Notes == nil {
		return fmt.Errorf("%w: nothing to update", ErrValidation)
	}
	if u.Visibility != nil && !u.Visibility.IsValid() {
		return fmt.Errorf("%w: invalid visibility %q", ErrValidation, *u.Visibility)
	}
	return validateStruct(u)
}

// NewCheckIn builds a check-in for userID from a validated input.
//
// The check-in date is derived from at in UTC so that the same calendar day
// always maps to the same upsert key.
func NewCheckIn(userID string, in CheckInInput, visibility Visibility, at time.Time) CheckIn {
	at = at.UTC()
	return CheckIn{
		ID:            uuid.NewString(),
		UserID:        userID,
		Timestamp:     at,
		CheckInDate:   at.Format(CheckInDateLayout),
		MoodScore:     in.MoodScore,
		WorkloadLevel: in.WorkloadLevel,
		EnergyLevel:   in.EnergyLevel,
		StressLevel:   in.StressLevel,
		Notes:         in.Notes,
		Visibility:    visibility,
	}
}

// IntPtr is a small helper for optional score fields.
func IntPtr(v int) *int {
	return &v
}
