// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storagetest holds the behavioural test suite every storage.Store
// implementation must pass.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/careos/careos/services/datatypes"
	"github.com/careos/careos/services/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) storage.Store

// Base is the reference time used by the suite.
var Base = time.Date(2025, 5, 12, 9, 0, 0, 0, time.UTC)

// Run executes the full suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"UpsertCheckInReplacesSameDay", testUpsertCheckIn},
		{"UpdateCheckIn", testUpdateCheckIn},
		{"ListCheckInsNewestFirst", testListCheckIns},
		{"ListCheckInsInRange", testListCheckInsInRange},
		{"DeviationDedupWindow", testDeviationDedup},
		{"DeviationDedupConcurrent", testDeviationDedupConcurrent},
		{"PendingAndNotified", testPendingDeviations},
		{"ResolveDeviation", testResolveDeviation},
		{"Users", testUsers},
		{"PrivacyDefaults", testPrivacy},
		{"Insights", testInsights},
		{"Audit", testAudit},
		{"NotFound", testNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tc.fn(t, s)
		})
	}
}

func checkIn(user string, at time.Time, mood, workload int) datatypes.CheckIn {
	return datatypes.NewCheckIn(user, datatypes.CheckInInput{MoodScore: mood, WorkloadLevel: workload}, datatypes.VisibilityManager, at)
}

func testUpsertCheckIn(t *testing.T, s storage.Store) {
	ctx := context.Background()
	first, err := s.UpsertCheckIn(ctx, checkIn("u1", Base, 5, 5))
	require.NoError(t, err)

	second := checkIn("u1", Base.Add(2*time.Hour), 8, 3)
	stored, err := s.UpsertCheckIn(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, first.ID, stored.ID, "same-day upsert keeps the original id")
	assert.Equal(t, 8, stored.MoodScore)

	list, err := s.ListCheckIns(ctx, "u1", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 8, list[0].MoodScore)

	_, err = s.UpsertCheckIn(ctx, checkIn("u1", Base.Add(24*time.Hour), 6, 6))
	require.NoError(t, err)
	list, err = s.ListCheckIns(ctx, "u1", time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func testUpdateCheckIn(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c, err := s.UpsertCheckIn(ctx, checkIn("u1", Base, 5, 5))
	require.NoError(t, err)

	pub := datatypes.VisibilityPublic
	notes := "feeling better"
	updated, err := s.UpdateCheckIn(ctx, c.ID, datatypes.CheckInUpdate{Visibility: &pub, Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, datatypes.VisibilityPublic, updated.Visibility)
	assert.Equal(t, "feeling better", updated.Notes)
	assert.Equal(t, 5, updated.MoodScore)

	got, err := s.GetCheckIn(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Notes, got.Notes)
}

func testListCheckIns(t *testing.T, s storage.Store) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.UpsertCheckIn(ctx, checkIn("u1", Base.Add(time.Duration(i)*24*time.Hour), i+1, 5))
		require.NoError(t, err)
	}
	_, err := s.UpsertCheckIn(ctx, checkIn("u2", Base, 9, 9))
	require.NoError(t, err)

	all, err := s.ListCheckIns(ctx, "u1", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].Timestamp.After(all[i].Timestamp), "must be newest first")
	}
	assert.Equal(t, 5, all[0].MoodScore)

	limited, err := s.ListCheckIns(ctx, "u1", time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, 5, limited[0].MoodScore)

	since, err := s.ListCheckIns(ctx, "u1", Base.Add(3*24*time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, since, 2)
}

func testListCheckInsInRange(t *testing.T, s storage.Store) {
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		at := Base.Add(time.Duration(i) * 24 * time.Hour)
		_, err := s.UpsertCheckIn(ctx, checkIn("u1", at, 5, 5))
		require.NoError(t, err)
		_, err = s.UpsertCheckIn(ctx, checkIn("u2", at, 5, 5))
		require.NoError(t, err)
	}
	r := datatypes.TimeRange{Start: Base.Add(24 * time.Hour), End: Base.Add(2 * 24 * time.Hour)}

	everyone, err := s.ListCheckInsInRange(ctx, nil, r)
	require.NoError(t, err)
	assert.Len(t, everyone, 4)

	justU1, err := s.ListCheckInsInRange(ctx, []string{"u1"}, r)
	require.NoError(t, err)
	assert.Len(t, justU1, 2)
	for _, c := range justU1 {
		assert.Equal(t, "u1", c.UserID)
	}

	none, err := s.ListCheckInsInRange(ctx, []string{}, r)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func deviation(user string, typ datatypes.DeviationType, at time.Time) datatypes.Deviation {
	return datatypes.Deviation{
		UserID:      user,
		Type:        typ,
		Severity:    datatypes.SeverityHigh,
		Description: "test",
		DetectedAt:  at,
	}
}

func testDeviationDedup(t *testing.T, s storage.Store) {
	ctx := context.Background()

	t.Run("recent unresolved suppresses", func(t *testing.T) {
		created, err := s.CreateDeviationIfAbsent(ctx, deviation("a", datatypes.DeviationHighWorkload, Base.Add(-2*24*time.Hour)), storage.DedupWindow)
		require.NoError(t, err)
		require.True(t, created)

		created, err = s.CreateDeviationIfAbsent(ctx, deviation("a", datatypes.DeviationHighWorkload, Base), storage.DedupWindow)
		require.NoError(t, err)
		assert.False(t, created)

		created, err = s.CreateDeviationIfAbsent(ctx, deviation("a", datatypes.DeviationMoodDrop, Base), storage.DedupWindow)
		require.NoError(t, err)
		assert.True(t, created, "a different type is not suppressed")
	})

	t.Run("old unresolved does not suppress", func(t *testing.T) {
		created, err := s.CreateDeviationIfAbsent(ctx, deviation("b", datatypes.DeviationHighWorkload, Base.Add(-10*24*time.Hour)), storage.DedupWindow)
		require.NoError(t, err)
		require.True(t, created)

		created, err = s.CreateDeviationIfAbsent(ctx, deviation("b", datatypes.DeviationHighWorkload, Base), storage.DedupWindow)
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("resolved does not suppress", func(t *testing.T) {
		d := deviation("c", datatypes.DeviationHighWorkload, Base.Add(-24*time.Hour))
		d.ID = "dev-c-1"
		created, err := s.CreateDeviationIfAbsent(ctx, d, storage.DedupWindow)
		require.NoError(t, err)
		require.True(t, created)
		_, err = s.ResolveDeviation(ctx, "dev-c-1", "m1", Base)
		require.NoError(t, err)

		created, err = s.CreateDeviationIfAbsent(ctx, deviation("c", datatypes.DeviationHighWorkload, Base), storage.DedupWindow)
		require.NoError(t, err)
		assert.True(t, created)
	})
}

func testDeviationDedupConcurrent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	var wg sync.WaitGroup
	var createdCount atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := s.CreateDeviationIfAbsent(ctx, deviation("race", datatypes.DeviationMoodDrop, Base), storage.DedupWindow)
			assert.NoError(t, err)
			if created {
				createdCount.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), createdCount.Load(), "exactly one concurrent insert may win")

	devs, err := s.ListDeviations(ctx, "race", true)
	require.NoError(t, err)
	assert.Len(t, devs, 1)
}

func testPendingDeviations(t *testing.T, s storage.Store) {
	ctx := context.Background()
	for i, user := range []string{"p1", "p2", "p3"} {
		d := deviation(user, datatypes.DeviationMoodDrop, Base.Add(time.Duration(i)*time.Hour))
		d.ID = fmt.Sprintf("dev-%s", user)
		_, err := s.CreateDeviationIfAbsent(ctx, d, storage.DedupWindow)
		require.NoError(t, err)
	}

	pending, err := s.ListPendingDeviations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "dev-p1", pending[0].ID, "oldest first")

	require.NoError(t, s.MarkDeviationNotified(ctx, "dev-p1", Base))
	_, err = s.ResolveDeviation(ctx, "dev-p2", "m1", Base)
	require.NoError(t, err)

	pending, err = s.ListPendingDeviations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "dev-p3", pending[0].ID)

	notified, err := s.GetDeviation(ctx, "dev-p1")
	require.NoError(t, err)
	assert.True(t, notified.ManagerNotified)
	require.NotNil(t, notified.NotifiedAt)
	assert.True(t, notified.NotifiedAt.Equal(Base))
}

func testResolveDeviation(t *testing.T, s storage.Store) {
	ctx := context.Background()
	d := deviation("r1", datatypes.DeviationMissedCheckIns, Base)
	d.ID = "dev-r1"
	_, err := s.CreateDeviationIfAbsent(ctx, d, storage.DedupWindow)
	require.NoError(t, err)

	resolved, err := s.ResolveDeviation(ctx, "dev-r1", "m1", Base.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.Equal(t, "m1", resolved.ResolvedBy)

	again, err := s.ResolveDeviation(ctx, "dev-r1", "m2", Base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "m1", again.ResolvedBy, "resolving twice keeps the first resolution")

	open, err := s.ListDeviations(ctx, "r1", false)
	require.NoError(t, err)
	assert.Empty(t, open)
	all, err := s.ListDeviations(ctx, "r1", true)
	require.NoError(t, err)
	assert.Len(t, all, 1, "deviations are never deleted")
}

func testUsers(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.PutUser(ctx, datatypes.User{ID: "m1", Role: datatypes.RoleManager}))
	require.NoError(t, s.PutUser(ctx, datatypes.User{ID: "m2", Role: datatypes.RoleManager}))
	require.NoError(t, s.PutUser(ctx, datatypes.User{ID: "e1", Role: datatypes.RoleEmployee, ManagerID: "m1"}))
	require.NoError(t, s.PutUser(ctx, datatypes.User{ID: "e2", Role: datatypes.RoleEmployee, ManagerID: "m1"}))

	emps, err := s.ListUsersByRole(ctx, datatypes.RoleEmployee)
	require.NoError(t, err)
	assert.Len(t, emps, 2)

	reports, err := s.ListDirectReports(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, reports, 2)

	// Moving e2 to another manager updates both report lists.
	require.NoError(t, s.PutUser(ctx, datatypes.User{ID: "e2", Role: datatypes.RoleEmployee, ManagerID: "m2"}))
	reports, err = s.ListDirectReports(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "e1", reports[0].ID)
	reports, err = s.ListDirectReports(ctx, "m2")
	require.NoError(t, err)
	assert.Len(t, reports, 1)

	u, err := s.GetUser(ctx, "e2")
	require.NoError(t, err)
	assert.Equal(t, "m2", u.ManagerID)
}

func testPrivacy(t *testing.T, s storage.Store) {
	ctx := context.Background()
	p, err := s.GetPrivacySettings(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, datatypes.DefaultPrivacySettings("nobody"), p)

	require.NoError(t, s.PutPrivacySettings(ctx, datatypes.PrivacySettings{UserID: "x", AllowAIAnalysis: false, DefaultVisibility: datatypes.VisibilityPrivate}))
	p, err = s.GetPrivacySettings(ctx, "x")
	require.NoError(t, err)
	assert.False(t, p.AllowAIAnalysis)
	assert.Equal(t, datatypes.VisibilityPrivate, p.DefaultVisibility)
}

func testInsights(t *testing.T, s storage.Store) {
	ctx := context.Background()
	r := datatypes.InsightResponse{
		ID:       "ins-1",
		Type:     datatypes.InsightTeamWellbeing,
		Insights: []string{"Mood is fine."},
		Metadata: datatypes.InsightMetadata{IsAdvisoryOnly: true, RequiresHumanReview: true, GeneratedAt: Base},
	}
	require.NoError(t, s.SaveInsight(ctx, r))

	got, err := s.GetInsight(ctx, "ins-1")
	require.NoError(t, err)
	assert.Equal(t, r.Insights, got.Insights)

	reviewed, err := s.UpdateInsightReview(ctx, "ins-1", "m1", "Scheduled a 1:1", Base.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, reviewed.HumanReviewed)
	assert.Equal(t, "m1", reviewed.ReviewedBy)
	assert.Equal(t, "Scheduled a 1:1", reviewed.ActionTaken)
	assert.True(t, reviewed.Metadata.IsAdvisoryOnly)
}

func testAudit(t *testing.T, s storage.Store) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendAuditEntry(ctx, datatypes.AuditLogEntry{
			ID:        fmt.Sprintf("a%d", i),
			Action:    datatypes.AuditActionDataAccess,
			Resource:  "user:x:checkins",
			Details:   map[string]any{"granted": true},
			Timestamp: Base.Add(time.Duration(i) * time.Minute),
		}))
	}
	entries, err := s.ListAuditEntries(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a2", entries[0].ID, "newest first")
	assert.Equal(t, true, entries[0].Details["granted"])
}

func testNotFound(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.GetCheckIn(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetDeviation(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetInsight(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.MarkDeviationNotified(ctx, "missing", Base), storage.ErrNotFound)
	_, err = s.ResolveDeviation(ctx, "missing", "m", Base)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.UpdateCheckIn(ctx, "missing", datatypes.CheckInUpdate{})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
