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
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/careos/careos/services/datatypes"
)

// Finding is one rule firing, before dedup and persistence.
type Finding struct {
	Type        datatypes.DeviationType
	Severity    datatypes.Severity
	Description string
}

// rule inspects check-ins ordered newest first.
type rule func(checkIns []datatypes.CheckIn, lookbackDays int, t Thresholds) (Finding, bool)

var rules = []rule{
	moodDrop,
	sustainedLowMood,
	highWorkload,
	missedCheckIns,
}

// Evaluate runs every rule over a user's check-ins from the lookback window.
//
// # Description
//
// Rules are independent and may all fire in one pass. The input order does
// not matter; a copy is sorted newest first. With zero check-ins nothing is
// evaluated, including missed_checkins.
//
// # Outputs
//
// Findings in rule order: mood_drop, sustained_low_mood, high_workload,
// missed_checkins.
func Evaluate(checkIns []datatypes.CheckIn, lookbackDays int, t Thresholds) []Finding {
	if len(checkIns) == 0 {
		return nil
	}
	sorted := newestFirst(checkIns)

	var findings []Finding
	for _, r := range rules {
		if f, ok := r(sorted, lookbackDays, t); ok {
			findings = append(findings, f)
		}
	}
	return findings
}

func newestFirst(in []datatypes.CheckIn) []datatypes.CheckIn {
	out := slices.Clone(in)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// moodDrop compares the mean mood of the most recent check-ins with the
// mean of the next older ones.
func moodDrop(cs []datatypes.CheckIn, _ int, t Thresholds) (Finding, bool) {
	if len(cs) < t.MoodRecentCount {
		return Finding{}, false
	}
	recent := cs[:t.MoodRecentCount]
	end := min(len(cs), t.MoodRecentCount+t.MoodBaselineCount)
	older := cs[t.MoodRecentCount:end]
	if len(older) == 0 {
		return Finding{}, false
	}

	drop := roundTo(meanMood(older)-meanMood(recent), 1e6)
	if drop < t.MoodDropMin {
		return Finding{}, false
	}

	severity := datatypes.SeverityMedium
	switch {
	case drop >= t.MoodDropCritical:
		severity = datatypes.SeverityCritical
	case drop >= t.MoodDropHigh:
		severity = datatypes.SeverityHigh
	}
	return Finding{
		Type:        datatypes.DeviationMoodDrop,
		Severity:    severity,
		Description: fmt.Sprintf("Mood score dropped by %.1f points over recent check-ins", drop),
	}, true
}

func sustainedLowMood(cs []datatypes.CheckIn, _ int, t Thresholds) (Finding, bool) {
	if len(cs) < t.LowMoodWindow {
		return Finding{}, false
	}
	low := 0
	for _, c := range cs[:t.LowMoodWindow] {
		if c.MoodScore < t.LowMoodBelow {
			low++
		}
	}
	if low < t.LowMoodMinCount {
		return Finding{}, false
	}
	return Finding{
		Type:     datatypes.DeviationSustainedLowMood,
		Severity: datatypes.SeverityHigh,
		Description: fmt.Sprintf("Reported low mood (< %d/10) in %d of last %d check-ins",
			t.LowMoodBelow, low, t.LowMoodWindow),
	}, true
}

func highWorkload(cs []datatypes.CheckIn, _ int, t Thresholds) (Finding, bool) {
	if len(cs) < t.HighWorkloadWindow {
		return Finding{}, false
	}
	for _, c := range cs[:t.HighWorkloadWindow] {
		if c.WorkloadLevel <= t.HighWorkloadAbove {
			return Finding{}, false
		}
	}
	return Finding{
		Type:     datatypes.DeviationHighWorkload,
		Severity: datatypes.SeverityHigh,
		Description: fmt.Sprintf("Reported high workload (> %d/10) for %d+ consecutive check-ins",
			t.HighWorkloadAbove, t.HighWorkloadWindow),
	}, true
}

func missedCheckIns(cs []datatypes.CheckIn, lookbackDays int, t Thresholds) (Finding, bool) {
	missed := MissedCount(len(cs), lookbackDays, t.WorkdaysPerWeek)
	if missed < t.MissedMin {
		return Finding{}, false
	}
	severity := datatypes.SeverityLow
	if missed >= t.MissedMediumFrom {
		severity = datatypes.SeverityMedium
	}
	return Finding{
		Type:        datatypes.DeviationMissedCheckIns,
		Severity:    severity,
		Description: fmt.Sprintf("Missed %d check-ins in the last %d days", missed, lookbackDays),
	}, true
}

// ExpectedCheckIns is floor(lookbackDays / 7 * workdaysPerWeek).
func ExpectedCheckIns(lookbackDays, workdaysPerWeek int) int {
	if lookbackDays <= 0 {
		return 0
	}
	return lookbackDays * workdaysPerWeek / 7
}

// MissedCount is max(0, expected - actual).
func MissedCount(actual, lookbackDays, workdaysPerWeek int) int {
	return max(0, ExpectedCheckIns(lookbackDays, workdaysPerWeek)-actual)
}

func meanMood(cs []datatypes.CheckIn) float64 {
	sum := 0
	for _, c := range cs {
		sum += c.MoodScore
	}
	return float64(sum) / float64(len(cs))
}

// roundTo rounds v to 1/scale, removing float noise from small averages.
func roundTo(v, scale float64) float64 {
	return math.Round(v*scale) / scale
}
