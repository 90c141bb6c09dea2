// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package deviation

import (
	"errors"
	"time"
)

// Thresholds holds every tunable constant of the deviation rules.
//
// The defaults are product policy carried over unchanged. They are kept in
// one struct so operators can tune them from configuration.
type Thresholds struct {
	// mood_drop
	MoodRecentCount   int     `yaml:"mood_recent_count"`
	MoodBaselineCount int     `yaml:"mood_baseline_count"`
	MoodDropMin       float64 `yaml:"mood_drop_min"`
	MoodDropHigh      float64 `yaml:"mood_drop_high"`
	MoodDropCritical  float64 `yaml:"mood_drop_critical"`

	// sustained_low_mood
	LowMoodWindow   int `yaml:"low_mood_window"`
	LowMoodBelow    int `yaml:"low_mood_below"`
	LowMoodMinCount int `yaml:"low_mood_min_count"`

	// high_workload
	HighWorkloadWindow int `yaml:"high_workload_window"`
	HighWorkloadAbove  int `yaml:"high_workload_above"`

	// missed_checkins
	WorkdaysPerWeek  int `yaml:"workdays_per_week"`
	MissedMin        int `yaml:"missed_min"`
	MissedMediumFrom int `yaml:"missed_medium_from"`

	// per-submission relative check
	RelativeChange        float64       `yaml:"relative_change"`
	SubmissionWindow      time.Duration `yaml:"submission_window"`
	SubmissionMinCheckIns int           `yaml:"submission_min_checkins"`

	// DedupWindow is how long an unresolved deviation suppresses repeats.
	DedupWindow time.Duration `yaml:"dedup_window"`
}

// DefaultThresholds returns the standard rule constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MoodRecentCount:   3,
		MoodBaselineCount: 7,
		MoodDropMin:       2,
		MoodDropHigh:      3,
		MoodDropCritical:  4,

		LowMoodWindow:   5,
		LowMoodBelow:    4,
		LowMoodMinCount: 4,

		HighWorkloadWindow: 3,
		HighWorkloadAbove:  8,

		WorkdaysPerWeek:  5,
		MissedMin:        3,
		MissedMediumFrom: 5,

		RelativeChange:        0.25,
		SubmissionWindow:      7 * 24 * time.Hour,
		SubmissionMinCheckIns: 3,

		DedupWindow: 7 * 24 * time.Hour,
	}
}

// Validate rejects thresholds that would make a rule meaningless.
func (t Thresholds) Validate() error {
	var errs []error
	if t.MoodRecentCount < 1 || t.MoodBaselineCount < 1 {
		errs = append(errs, errors.New("mood window sizes must be positive"))
	}
	if !(t.MoodDropMin <= t.MoodDropHigh && t.MoodDropHigh <= t.MoodDropCritical) {
		errs = append(errs, errors.New("mood drop thresholds must be ascending"))
	}
	if t.LowMoodWindow < 1 || t.LowMoodMinCount < 1 || t.LowMoodMinCount > t.LowMoodWindow {
		errs = append(errs, errors.New("low mood window must be positive and hold the minimum count"))
	}
	if t.HighWorkloadWindow < 1 {
		errs = append(errs, errors.New("high workload window must be positive"))
	}
	if t.WorkdaysPerWeek < 1 || t.WorkdaysPerWeek > 7 {
		errs = append(errs, errors.New("workdays per week must be between 1 and 7"))
	}
	if t.MissedMin < 1 || t.MissedMediumFrom < t.MissedMin {
		errs = append(errs, errors.New("missed check-in thresholds must be positive and ascending"))
	}
	if t.RelativeChange <= 0 {
		errs = append(errs, errors.New("relative change threshold must be positive"))
	}
	if t.SubmissionWindow <= 0 || t.SubmissionMinCheckIns < 1 {
		errs = append(errs, errors.New("submission window and minimum check-ins must be positive"))
	}
	if t.DedupWindow <= 0 {
		errs = append(errs, errors.New("dedup window must be positive"))
	}
	return errors.Join(errs...)
}
