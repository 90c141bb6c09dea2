// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"
	"time"
)

// InsightType selects which kind of summary is produced.
type InsightType string

const (
	InsightTeamWellbeing   InsightType = "team_wellbeing"
	InsightIndividualTrend InsightType = "individual_trend"
	InsightWorkloadBalance InsightType = "workload_balance"
)

// TimeRange is a closed [Start, End] interval.
type TimeRange struct {
	Start time.Time `json:"start" validate:"required"`
	End   time.Time `json:"end" validate:"required,gtefield=Start"`
}

// Contains reports whether t falls inside the range, inclusive on both ends.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// InsightRequest asks the generator for an advisory summary.
//
// Exactly one scope applies: UserID (one employee), TeamManagerID (the
// manager's direct reports) or neither (everyone in range).
type InsightRequest struct {
	Type          InsightType `json:"type" validate:"required,oneof=team_wellbeing individual_trend workload_balance"`
	TimeRange     TimeRange   `json:"timeRange" validate:"required"`
	UserID        string      `json:"userId,omitempty" validate:"omitempty,max=128"`
	TeamManagerID string      `json:"teamManagerId,omitempty" validate:"omitempty,max=128"`
}

// Validate checks the request against its struct tags.
func (r *InsightRequest) Validate() error {
	if r.UserID != "" && r.TeamManagerID != "" {
		return fmt.Errorf("%w: userId and teamManagerId are mutually exclusive", ErrValidation)
	}
	return validateStruct(r)
}

// InsightMetadata carries the advisory guarantees of an insight.
//
// IsAdvisoryOnly and RequiresHumanReview are always true on anything that
// leaves the generator or is read back from a store.
type InsightMetadata struct {
	IsAdvisoryOnly      bool      `json:"isAdvisoryOnly"`
	RequiresHumanReview bool      `json:"requiresHumanReview"`
	Disclaimer          string    `json:"disclaimer"`
	GeneratedAt         time.Time `json:"generatedAt"`
	DataPoints          int       `json:"dataPoints"`
}

// InsightResponse is an advisory-only summary of check-in data.
type InsightResponse struct {
	ID              string          `json:"id"`
	Type            InsightType     `json:"type"`
	Insights        []string        `json:"insights"`
	Recommendations []string        `json:"recommendations"`
	Metadata        InsightMetadata `json:"metadata"`

	// Scope copied from the request. Reads of a stored insight are
	// authorised against it the same way generation was.
	UserID        string `json:"userId,omitempty"`
	TeamManagerID string `json:"teamManagerId,omitempty"`

	HumanReviewed bool       `json:"humanReviewed"`
	ReviewedBy    string     `json:"reviewedBy,omitempty"`
	ReviewedAt    *time.Time `json:"reviewedAt,omitempty"`
	ActionTaken   string     `json:"actionTaken,omitempty"`
}

// Strings returns every human-facing string of the insight in display order.
func (r *InsightResponse) Strings() []string {
	out := make([]string, 0, len(r.Insights)+len(r.Recommendations))
	out = append(out, r.Insights...)
	out = append(out, r.Recommendations...)
	return out
}

// ReviewInput is the body of a human review of an insight.
type ReviewInput struct {
	ActionTaken string `json:"actionTaken" validate:"max=4096"`
}

// Validate checks the review against its struct tags.
func (r *ReviewInput) Validate() error {
	return validateStruct(r)
}
