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
	"context"
	"fmt"
	"math"

	"github.com/careos/careos/services/datatypes"
)

// submissionMetric extracts one optional metric from a check-in.
type submissionMetric struct {
	name  string
	value func(c datatypes.CheckIn) (int, bool)
}

var submissionMetrics = []submissionMetric{
	{"energy", func(c datatypes.CheckIn) (int, bool) {
		if c.EnergyLevel == nil {
			return 0, false
		}
		return *c.EnergyLevel, true
	}},
	{"stress", func(c datatypes.CheckIn) (int, bool) {
		if c.StressLevel == nil {
			return 0, false
		}
		return *c.StressLevel, true
	}},
	{"workload", func(c datatypes.CheckIn) (int, bool) {
		return c.WorkloadLevel, true
	}},
}

// CheckSingleSubmission compares the user's latest check-in with the mean of
// their check-ins over the submission window (the latest included).
//
// # Description
//
// For energy, stress and workload, a metric is flagged when
// |latest - mean| / mean exceeds Thresholds.RelativeChange. A metric missing
// from the latest check-in, or with a zero mean, is skipped. The result is
// feedback for the submitter and is not persisted.
//
// # Outputs
//
//   - nil when there are fewer than SubmissionMinCheckIns check-ins, the
//     user opted out, or nothing changed enough.
func (d *Detector) CheckSingleSubmission(ctx context.Context, userID string) ([]datatypes.MetricDeviation, error) {
	privacy, err := d.store.GetPrivacySettings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load privacy settings for %s: %w", userID, err)
	}
	if !privacy.AllowAIAnalysis {
		return nil, nil
	}

	t := d.cfg.Thresholds
	since := d.now().UTC().Add(-t.SubmissionWindow)
	checkIns, err := d.store.ListCheckIns(ctx, userID, since, 0)
	if err != nil {
		return nil, fmt.Errorf("list check-ins for %s: %w", userID, err)
	}
	if len(checkIns) < t.SubmissionMinCheckIns {
		return nil, nil
	}
	checkIns = newestFirst(checkIns)
	latest := checkIns[0]

	var out []datatypes.MetricDeviation
	for _, m := range submissionMetrics {
		current, ok := m.value(latest)
		if !ok {
			continue
		}
		sum, n := 0, 0
		for _, c := range checkIns {
			if v, ok := m.value(c); ok {
				sum += v
				n++
			}
		}
		mean := float64(sum) / float64(n)
		if mean == 0 {
			continue
		}
		change := (float64(current) - mean) / mean
		if math.Abs(change) <= t.RelativeChange {
			continue
		}
		out = append(out, datatypes.MetricDeviation{
			Metric:        m.name,
			Previous:      roundTo(mean, 10),
			Current:       current,
			ChangePercent: roundTo(change*100, 10),
		})
	}

	if len(out) > 0 {
		d.logger.Info("Pattern shift on submission",
			"user_id", userID,
			"metrics", len(out))
	}
	return out, nil
}
