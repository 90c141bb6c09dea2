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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/careos/careos/services/datatypes"
	"github.com/careos/careos/services/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMetrics struct {
	mu         sync.Mutex
	detected   map[string]int
	suppressed map[string]int
	failures   int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{detected: map[string]int{}, suppressed: map[string]int{}}
}

func (m *fakeMetrics) RecordDeviationDetected(t string) {
	m.mu.Lock()
	m.detected[t]++
	m.mu.Unlock()
}

func (m *fakeMetrics) RecordDeviationSuppressed(t string) {
	m.mu.Lock()
	m.suppressed[t]++
	m.mu.Unlock()
}

func (m *fakeMetrics) RecordSweepUserFailure() {
	m.mu.Lock()
	m.failures++
	m.mu.Unlock()
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// optIn stores an explicit AI-analysis consent. Users without a record are
// treated as opted out.
func optIn(t *testing.T, store *memory.Store, userID string) {
	t.Helper()
	require.NoError(t, store.PutPrivacySettings(context.Background(), datatypes.PrivacySettings{
		UserID:            userID,
		AllowAIAnalysis:   true,
		DefaultVisibility: datatypes.VisibilityManager,
	}))
}

func seed(t *testing.T, store *memory.Store, userID string, moods, workloads []int) {
	t.Helper()
	optIn(t, store, userID)
	for _, c := range history(userID, moods, workloads) {
		_, err := store.UpsertCheckIn(context.Background(), c)
		require.NoError(t, err)
	}
}

func addEmployee(t *testing.T, store *memory.Store, id string) {
	t.Helper()
	require.NoError(t, store.PutUser(context.Background(), datatypes.User{ID: id, Role: datatypes.RoleEmployee, ManagerID: "mgr"}))
	optIn(t, store, id)
}

func newTestDetector(t *testing.T, store *memory.Store, clock *testClock, m *fakeMetrics, lookback int) *Detector {
	t.Helper()
	cfg := DefaultConfig()
	cfg.LookbackDays = lookback
	d, err := NewDetector(store, cfg, WithClock(clock.Now), WithMetrics(m))
	require.NoError(t, err)
	return d
}

func typesOf(devs []datatypes.Deviation) []datatypes.DeviationType {
	out := make([]datatypes.DeviationType, 0, len(devs))
	for _, d := range devs {
		out = append(out, d.Type)
	}
	return out
}

func TestDetectForUser_PersistsFindings(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := &testClock{now: testNow}
	m := newFakeMetrics()
	d := newTestDetector(t, store, clock, m, 14)

	seed(t, store, "u1", []int{8, 8, 8, 8, 8, 8, 8, 2, 2, 2}, nil)

	devs, err := d.DetectForUser(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Contains(t, typesOf(devs), datatypes.DeviationMoodDrop)

	stored, err := store.ListDeviations(ctx, "u1", false)
	require.NoError(t, err)
	assert.Len(t, stored, len(devs))
	for _, dev := range stored {
		assert.True(t, dev.Pending())
		assert.Equal(t, testNow, dev.DetectedAt)
	}
	assert.Equal(t, 1, m.detected[string(datatypes.DeviationMoodDrop)])
}

func TestDetectForUser_DedupWindow(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := &testClock{now: testNow}
	m := newFakeMetrics()
	d := newTestDetector(t, store, clock, m, 30)

	seed(t, store, "u1", []int{6, 6, 6}, []int{9, 9, 9})

	first, err := d.DetectForUser(ctx, "u1", 0)
	require.NoError(t, err)
	require.Contains(t, typesOf(first), datatypes.DeviationHighWorkload)

	clock.Advance(2 * 24 * time.Hour)
	second, err := d.DetectForUser(ctx, "u1", 0)
	require.NoError(t, err)
	assert.NotContains(t, typesOf(second), datatypes.DeviationHighWorkload)
	assert.Equal(t, 1, m.suppressed[string(datatypes.DeviationHighWorkload)])

	clock.Advance(8 * 24 * time.Hour)
	third, err := d.DetectForUser(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Contains(t, typesOf(third), datatypes.DeviationHighWorkload)
}

func TestDetectForUser_ResolvedDoesNotSuppress(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := &testClock{now: testNow}
	d := newTestDetector(t, store, clock, newFakeMetrics(), 30)

	seed(t, store, "u1", []int{6, 6, 6}, []int{9, 9, 9})
	first, err := d.DetectForUser(ctx, "u1", 0)
	require.NoError(t, err)
	for _, dev := range first {
		_, err := store.ResolveDeviation(ctx, dev.ID, "mgr", testNow)
		require.NoError(t, err)
	}

	clock.Advance(time.Hour)
	again, err := d.DetectForUser(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, typesOf(first), typesOf(again))
}

func TestDetectForUser_OptedOut(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	d := newTestDetector(t, store, &testClock{now: testNow}, newFakeMetrics(), 14)

	seed(t, store, "u1", []int{8, 8, 8, 8, 2, 2, 2}, nil)
	require.NoError(t, store.PutPrivacySettings(ctx, datatypes.PrivacySettings{
		UserID:            "u1",
		AllowAIAnalysis:   false,
		DefaultVisibility: datatypes.VisibilityPrivate,
	}))

	devs, err := d.DetectForUser(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, devs)

	stored, err := store.ListDeviations(ctx, "u1", true)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestDetectForUser_UnsetPrivacyIsOptOut(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	d := newTestDetector(t, store, &testClock{now: testNow}, newFakeMetrics(), 14)

	for _, c := range history("u1", []int{8, 8, 8, 8, 8, 8, 8, 2, 2, 2}, nil) {
		_, err := store.UpsertCheckIn(ctx, c)
		require.NoError(t, err)
	}

	devs, err := d.DetectForUser(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, devs)

	out, err := d.CheckSingleSubmission(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestDetectForUser_InvalidCheckIn(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	d := newTestDetector(t, store, &testClock{now: testNow}, newFakeMetrics(), 14)

	optIn(t, store, "u1")
	bad := datatypes.NewCheckIn("u1", datatypes.CheckInInput{MoodScore: 0, WorkloadLevel: 5}, datatypes.VisibilityManager, testNow.Add(-time.Hour))
	_, err := store.UpsertCheckIn(ctx, bad)
	require.NoError(t, err)

	devs, err := d.DetectForUser(ctx, "u1", 0)
	assert.Nil(t, devs)
	assert.True(t, errors.Is(err, ErrInvalidCheckIn))
}

func TestDetectForUser_NoCheckIns(t *testing.T) {
	store := memory.New()
	d := newTestDetector(t, store, &testClock{now: testNow}, newFakeMetrics(), 14)

	devs, err := d.DetectForUser(context.Background(), "ghost", 0)
	require.NoError(t, err)
	assert.Empty(t, devs)
}

func TestDetectForUser_LookbackFiltersOldCheckIns(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	clock := &testClock{now: testNow}
	d := newTestDetector(t, store, clock, newFakeMetrics(), 14)

	seed(t, store, "u1", []int{6, 6, 6}, []int{9, 9, 9})
	clock.Advance(20 * 24 * time.Hour)

	devs, err := d.DetectForUser(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, devs, "no check-ins inside the window means no rules run")
}

func TestNewDetector(t *testing.T) {
	_, err := NewDetector(nil, DefaultConfig())
	assert.Error(t, err)

	d, err := NewDetector(memory.New(), Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultThresholds(), d.Thresholds())

	cfg := DefaultConfig()
	cfg.Thresholds.MoodDropCritical = 1
	_, err = NewDetector(memory.New(), cfg)
	assert.Error(t, err)
}

func TestRunBatchSweep_IsolatesFailingUser(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	m := newFakeMetrics()
	d := newTestDetector(t, store, &testClock{now: testNow}, m, 14)

	addEmployee(t, store, "good")
	addEmployee(t, store, "broken")
	require.NoError(t, store.PutUser(ctx, datatypes.User{ID: "mgr", Role: datatypes.RoleManager}))

	seed(t, store, "good", []int{6, 6, 6}, []int{9, 9, 9})
	seed(t, store, "mgr", []int{6, 6, 6}, []int{9, 9, 9})
	bad := datatypes.NewCheckIn("broken", datatypes.CheckInInput{MoodScore: 42, WorkloadLevel: 5}, datatypes.VisibilityManager, testNow.Add(-time.Hour))
	_, err := store.UpsertCheckIn(ctx, bad)
	require.NoError(t, err)

	created, err := d.RunBatchSweep(ctx)
	require.NoError(t, err)
	assert.Positive(t, created)
	assert.Equal(t, 1, m.failures)

	good, err := store.ListDeviations(ctx, "good", false)
	require.NoError(t, err)
	assert.Len(t, good, created)

	managers, err := store.ListDeviations(ctx, "mgr", false)
	require.NoError(t, err)
	assert.Empty(t, managers, "only employees are swept")
}

func TestRunBatchSweep_ConcurrentUsers(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	d := newTestDetector(t, store, &testClock{now: testNow}, newFakeMetrics(), 14)

	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, id := range ids {
		addEmployee(t, store, id)
		seed(t, store, id, []int{6, 6, 6}, []int{9, 9, 9})
	}

	first, err := d.RunBatchSweep(ctx)
	require.NoError(t, err)
	second, err := d.RunBatchSweep(ctx)
	require.NoError(t, err)

	// high_workload and missed_checkins per user, then nothing on the rerun.
	assert.Equal(t, 2*len(ids), first)
	assert.Zero(t, second)
}

func TestRunBatchSweep_Cancelled(t *testing.T) {
	store := memory.New()
	d := newTestDetector(t, store, &testClock{now: testNow}, newFakeMetrics(), 14)
	addEmployee(t, store, "u1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.RunBatchSweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCheckSingleSubmission(t *testing.T) {
	ctx := context.Background()

	put := func(t *testing.T, store *memory.Store, daysAgo int, workload int, energy *int) {
		t.Helper()
		at := testNow.Add(-time.Duration(daysAgo) * 24 * time.Hour)
		optIn(t, store, "u1")
		c := datatypes.NewCheckIn("u1", datatypes.CheckInInput{MoodScore: 6, WorkloadLevel: workload, EnergyLevel: energy}, datatypes.VisibilityManager, at)
		_, err := store.UpsertCheckIn(ctx, c)
		require.NoError(t, err)
	}

	t.Run("fewer than three check-ins", func(t *testing.T) {
		store := memory.New()
		d := newTestDetector(t, store, &testClock{now: testNow}, newFakeMetrics(), 14)
		put(t, store, 2, 5, nil)
		put(t, store, 0, 10, nil)

		out, err := d.CheckSingleSubmission(ctx, "u1")
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("workload jump flagged", func(t *testing.T) {
		store := memory.New()
		d := newTestDetector(t, store, &testClock{now: testNow}, newFakeMetrics(), 14)
		put(t, store, 3, 4, nil)
		put(t, store, 2, 4, nil)
		put(t, store, 1, 4, nil)
		put(t, store, 0, 8, nil)

		out, err := d.CheckSingleSubmission(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "workload", out[0].Metric)
		assert.Equal(t, 8, out[0].Current)
		assert.InDelta(t, 5.0, out[0].Previous, 0.001)
		assert.InDelta(t, 60.0, out[0].ChangePercent, 0.001)
	})

	t.Run("small change ignored", func(t *testing.T) {
		store := memory.New()
		d := newTestDetector(t, store, &testClock{now: testNow}, newFakeMetrics(), 14)
		put(t, store, 2, 5, nil)
		put(t, store, 1, 5, nil)
		put(t, store, 0, 6, nil)

		out, err := d.CheckSingleSubmission(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("missing latest energy skipped", func(t *testing.T) {
		store := memory.New()
		d := newTestDetector(t, store, &testClock{now: testNow}, newFakeMetrics(), 14)
		put(t, store, 2, 5, datatypes.IntPtr(9))
		put(t, store, 1, 5, datatypes.IntPtr(9))
		put(t, store, 0, 5, nil)

		out, err := d.CheckSingleSubmission(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("energy drop flagged", func(t *testing.T) {
		store := memory.New()
		d := newTestDetector(t, store, &testClock{now: testNow}, newFakeMetrics(), 14)
		put(t, store, 2, 5, datatypes.IntPtr(9))
		put(t, store, 1, 5, datatypes.IntPtr(9))
		put(t, store, 0, 5, datatypes.IntPtr(3))

		out, err := d.CheckSingleSubmission(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "energy", out[0].Metric)
		assert.InDelta(t, 7.0, out[0].Previous, 0.001)
		assert.InDelta(t, -85.7, out[0].ChangePercent, 0.001)
	})

	t.Run("check-ins outside the window ignored", func(t *testing.T) {
		store := memory.New()
		d := newTestDetector(t, store, &testClock{now: testNow}, newFakeMetrics(), 14)
		put(t, store, 10, 2, nil)
		put(t, store, 9, 2, nil)
		put(t, store, 1, 9, nil)
		put(t, store, 0, 9, nil)

		out, err := d.CheckSingleSubmission(ctx, "u1")
		require.NoError(t, err)
		assert.Nil(t, out)
	})
}
