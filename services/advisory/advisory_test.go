// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package advisory

import (
	"testing"
	"time"

	"github.com/careos/careos/services/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnforce_AlwaysAdvisory(t *testing.T) {
	reviewed := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   datatypes.InsightResponse
	}{
		{"zero value", datatypes.InsightResponse{}},
		{"explicitly false", datatypes.InsightResponse{
			Metadata: datatypes.InsightMetadata{IsAdvisoryOnly: false, RequiresHumanReview: false, Disclaimer: "trust me"},
		}},
		{"already true", datatypes.InsightResponse{
			Metadata: datatypes.InsightMetadata{IsAdvisoryOnly: true, RequiresHumanReview: true},
		}},
		{"reviewed", datatypes.InsightResponse{
			ID: "i1", Insights: []string{"a"}, Recommendations: []string{"b"},
			HumanReviewed: true, ReviewedBy: "m1", ReviewedAt: &reviewed, ActionTaken: "talked",
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := Enforce(tc.in)
			assert.True(t, out.Metadata.IsAdvisoryOnly)
			assert.True(t, out.Metadata.RequiresHumanReview)
			assert.Equal(t, Disclaimer(), out.Metadata.Disclaimer)

			assert.Equal(t, tc.in.ID, out.ID)
			assert.Equal(t, tc.in.HumanReviewed, out.HumanReviewed)
			assert.Equal(t, tc.in.ReviewedBy, out.ReviewedBy)
			assert.Equal(t, tc.in.ActionTaken, out.ActionTaken)
		})
	}
}

func TestEnforce_Idempotent(t *testing.T) {
	in := datatypes.InsightResponse{
		ID:              "i1",
		Type:            datatypes.InsightTeamWellbeing,
		Insights:        []string{"Mood is fine."},
		Recommendations: []string{"Keep going."},
		Metadata:        datatypes.InsightMetadata{DataPoints: 4, GeneratedAt: time.Unix(100, 0).UTC()},
	}
	once := Enforce(in)
	twice := Enforce(once)
	assert.Equal(t, once, twice)
}

func TestEnforce_DoesNotAliasInput(t *testing.T) {
	in := datatypes.InsightResponse{Insights: []string{"original"}}
	out := Enforce(in)
	out.Insights[0] = "changed"
	assert.Equal(t, "original", in.Insights[0])
	assert.False(t, in.Metadata.IsAdvisoryOnly, "input must not be mutated")
}

func TestEnforcePtr(t *testing.T) {
	EnforcePtr(nil)

	r := &datatypes.InsightResponse{}
	EnforcePtr(r)
	require.True(t, r.Metadata.IsAdvisoryOnly)
	assert.NotNil(t, r.Insights)
}

func TestBadge(t *testing.T) {
	assert.Contains(t, Badge(), "Advisory Only")
	assert.Contains(t, Badge(), "Human Decision Required")
}
