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
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckInInput_Validate(t *testing.T) {
	tests := []struct {
		name    string
		input   CheckInInput
		wantErr bool
	}{
		{"minimal valid", CheckInInput{MoodScore: 5, WorkloadLevel: 5}, false},
		{"all fields", CheckInInput{MoodScore: 1, WorkloadLevel: 10, EnergyLevel: IntPtr(3), StressLevel: IntPtr(9), Notes: "ok", Visibility: VisibilityPublic}, false},
		{"mood zero", CheckInInput{MoodScore: 0, WorkloadLevel: 5}, true},
		{"mood eleven", CheckInInput{MoodScore: 11, WorkloadLevel: 5}, true},
		{"workload zero", CheckInInput{MoodScore: 5, WorkloadLevel: 0}, true},
		{"energy out of range", CheckInInput{MoodScore: 5, WorkloadLevel: 5, EnergyLevel: IntPtr(0)}, true},
		{"stress out of range", CheckInInput{MoodScore: 5, WorkloadLevel: 5, StressLevel: IntPtr(11)}, true},
		{"bad visibility", CheckInInput{MoodScore: 5, WorkloadLevel: 5, Visibility: "SECRET"}, true},
		{"notes too long", CheckInInput{MoodScore: 5, WorkloadLevel: 5, Notes: strings.Repeat("x", MaxNotesBytes+1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrValidation))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewCheckIn_DerivesUTCDate(t *testing.T) {
	loc := time.FixedZone("UTC-8", -8*60*60)
	at := time.Date(2025, 3, 10, 20, 0, 0, 0, loc)

	c := NewCheckIn("u1", CheckInInput{MoodScore: 6, WorkloadLevel: 4}, VisibilityPrivate, at)

	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "2025-03-11", c.CheckInDate)
	assert.Equal(t, time.UTC, c.Timestamp.Location())
	require.NoError(t, c.Validate())
}

func TestCheckInUpdate_Validate(t *testing.T) {
	bad := Visibility("NOPE")
	pub := VisibilityPublic
	notes := "updated"

	assert.Error(t, (&CheckInUpdate{}).Validate())
	assert.Error(t, (&CheckInUpdate{Visibility: &bad}).Validate())
	assert.NoError(t, (&CheckInUpdate{Visibility: &pub}).Validate())
	assert.NoError(t, (&CheckInUpdate{Notes: &notes}).Validate())
}

func TestInsightRequest_Validate(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(7 * 24 * time.Hour)

	valid := InsightRequest{Type: InsightTeamWellbeing, TimeRange: TimeRange{Start: start, End: end}}
	assert.NoError(t, valid.Validate())

	unknown := valid
	unknown.Type = "performance_ranking"
	assert.Error(t, unknown.Validate())

	inverted := valid
	inverted.TimeRange = TimeRange{Start: end, End: start}
	assert.Error(t, inverted.Validate())

	both := valid
	both.UserID = "u1"
	both.TeamManagerID = "m1"
	assert.ErrorIs(t, both.Validate(), ErrValidation)
}

func TestTimeRange_ContainsIsInclusive(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	r := TimeRange{Start: start, End: end}

	assert.True(t, r.Contains(start))
	assert.True(t, r.Contains(end))
	assert.False(t, r.Contains(end.Add(time.Nanosecond)))
	assert.False(t, r.Contains(start.Add(-time.Nanosecond)))
}

func TestDeviation_Pending(t *testing.T) {
	assert.True(t, Deviation{}.Pending())
	assert.False(t, Deviation{ManagerNotified: true}.Pending())
	assert.False(t, Deviation{Resolved: true}.Pending())
}

func TestUser_Validate(t *testing.T) {
	u := User{ID: "u1", Role: RoleEmployee, PlatformType: PlatformSlack, PlatformID: "U123"}
	require.NoError(t, u.Validate())
	assert.Equal(t, PlatformIdentity{UserID: "u1", PlatformType: PlatformSlack, PlatformID: "U123"}, u.Identity())

	u.Role = "INTERN"
	assert.Error(t, u.Validate())
}

func TestDefaultPrivacySettings(t *testing.T) {
	p := DefaultPrivacySettings("u1")
	assert.False(t, p.AllowAIAnalysis, "analysis needs an explicit opt-in")
	assert.Equal(t, VisibilityManager, p.DefaultVisibility)
}
