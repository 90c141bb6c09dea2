// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package insights

import (
	"context"
	"fmt"

	"github.com/careos/careos/services/datatypes"
)

// Fixed texts produced by the statistical summarizer.
const (
	InsufficientDataInsight = "Insufficient data for meaningful insights in this time period."
	OptedOutInsight         = "Team member has opted out of AI analysis."
)

// DefaultRecommendations are supportive, non-evaluative next steps attached
// to every statistical summary.
var DefaultRecommendations = []string{
	"Consider scheduling 1:1 check-ins with team members showing consistent workload stress",
	"Review team capacity and consider redistributing tasks if workload patterns persist",
	"Encourage use of wellbeing resources and ensure team is aware of support available",
}

// SummaryInput is what a Summarizer sees: the request type and the
// already privacy-filtered check-ins.
type SummaryInput struct {
	Type     datatypes.InsightType
	CheckIns []datatypes.CheckIn
}

// Summary is raw summarizer output. It is not trusted: the generator scans
// every string before it leaves.
type Summary struct {
	Insights        []string
	Recommendations []string
}

// Summarizer turns check-ins into insight text. A generative model can be
// plugged in here; the generator applies the guardrails regardless.
type Summarizer interface {
	Summarize(ctx context.Context, in SummaryInput) (Summary, error)
}

// Thresholds for StatisticalSummarizer.
const (
	lowMoodMean      = 5.0
	highWorkloadMean = 7.0
)

// StatisticalSummarizer flags low mean mood and high mean workload.
type StatisticalSummarizer struct{}

func (StatisticalSummarizer) Summarize(_ context.Context, in SummaryInput) (Summary, error) {
	recs := append([]string(nil), DefaultRecommendations...)
	if len(in.CheckIns) == 0 {
		return Summary{Insights: []string{InsufficientDataInsight}, Recommendations: recs}, nil
	}

	var mood, workload float64
	for _, c := range in.CheckIns {
		mood += float64(c.MoodScore)
		workload += float64(c.WorkloadLevel)
	}
	n := float64(len(in.CheckIns))
	mood /= n
	workload /= n

	var out []string
	if mood < lowMoodMean {
		out = append(out, fmt.Sprintf(
			"Team mood scores are below average (%.1f/10). Consider checking in with individual team members to understand concerns.", mood))
	}
	if workload > highWorkloadMean {
		out = append(out, fmt.Sprintf(
			"Team reporting high workload levels (%.1f/10). Review capacity and consider workload distribution adjustments.", workload))
	}
	if len(out) == 0 {
		out = append(out, fmt.Sprintf(
			"Team wellbeing metrics are within normal range. Mood: %.1f/10, Workload: %.1f/10.", mood, workload))
	}
	return Summary{Insights: out, Recommendations: recs}, nil
}
