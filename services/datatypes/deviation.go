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
	"time"
)

// DeviationType names a detected pattern shift.
type DeviationType string

const (
	DeviationMoodDrop         DeviationType = "mood_drop"
	DeviationSustainedLowMood DeviationType = "sustained_low_mood"
	DeviationHighWorkload     DeviationType = "high_workload"
	DeviationMissedCheckIns   DeviationType = "missed_checkins"
)

// AllDeviationTypes lists every deviation type in rule order.
var AllDeviationTypes = []DeviationType{
	DeviationMoodDrop,
	DeviationSustainedLowMood,
	DeviationHighWorkload,
	DeviationMissedCheckIns,
}

// Severity grades a deviation. Severities are derived from the triggering
// metrics only.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Deviation is a detected, named pattern shift in a user's check-in history.
//
// # Description
//
// Created by the deviation detector, mutated by the alert dispatcher
// (ManagerNotified/NotifiedAt) and by a manager action (Resolved,
// Acknowledged). Deviations are never deleted; resolution is an append-only
// state change.
type Deviation struct {
	ID              string        `json:"id"`
	UserID          string        `json:"userId"`
	Type            DeviationType `json:"type"`
	Severity        Severity      `json:"severity"`
	Description     string        `json:"description"`
	DetectedAt      time.Time     `json:"detectedAt"`
	Resolved        bool          `json:"resolved"`
	ResolvedBy      string        `json:"resolvedBy,omitempty"`
	ResolvedAt      *time.Time    `json:"resolvedAt,omitempty"`
	Acknowledged    bool          `json:"acknowledged"`
	ManagerNotified bool          `json:"managerNotified"`
	NotifiedAt      *time.Time    `json:"notifiedAt,omitempty"`
}

// Pending reports whether the deviation still needs a manager notification.
func (d Deviation) Pending() bool {
	return !d.ManagerNotified && !d.Resolved
}

// MetricDeviation is the result of the per-submission relative check: the
// latest value of one metric compared with its trailing mean.
type MetricDeviation struct {
	Metric        string  `json:"metric"`
	Previous      float64 `json:"previous"`
	Current       int     `json:"current"`
	ChangePercent float64 `json:"changePercent"`
}
