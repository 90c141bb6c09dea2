// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/careos/careos/services/advisory"
	"github.com/careos/careos/services/datatypes"
	"github.com/careos/careos/services/messaging"
	"github.com/careos/careos/services/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var detected = time.Date(2025, 6, 20, 9, 30, 0, 0, time.UTC)

// failingNotifier fails for the listed manager IDs and records the rest.
type failingNotifier struct {
	*messaging.LogNotifier
	failFor map[string]bool
}

func (n *failingNotifier) Notify(ctx context.Context, to datatypes.PlatformIdentity, msg messaging.Message) error {
	if n.failFor[to.UserID] {
		return errors.New("platform unavailable")
	}
	return n.LogNotifier.Notify(ctx, to, msg)
}

type countingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (m *countingMetrics) RecordAlert(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = map[string]int{}
	}
	m.outcomes[outcome]++
}

type fixture struct {
	store    *memory.Store
	notifier *failingNotifier
	metrics  *countingMetrics
	d        *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.New(),
		notifier: &failingNotifier{LogNotifier: messaging.NewLogNotifier(nil), failFor: map[string]bool{}},
		metrics:  &countingMetrics{},
	}
	d, err := NewDispatcher(f.store, f.notifier, Config{}, WithMetrics(f.metrics), WithClock(func() time.Time { return detected.Add(time.Hour) }))
	require.NoError(t, err)
	f.d = d
	return f
}

func (f *fixture) user(t *testing.T, id, name, managerID string) {
	t.Helper()
	require.NoError(t, f.store.PutUser(context.Background(), datatypes.User{
		ID:           id,
		DisplayName:  name,
		Role:         datatypes.RoleEmployee,
		ManagerID:    managerID,
		PlatformType: datatypes.PlatformSlack,
		PlatformID:   "P-" + id,
	}))
	f.optIn(t, id)
}

// optIn stores explicit consent; users without a privacy record are opted out.
func (f *fixture) optIn(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.store.PutPrivacySettings(context.Background(), datatypes.PrivacySettings{
		UserID:            id,
		AllowAIAnalysis:   true,
		DefaultVisibility: datatypes.VisibilityManager,
	}))
}

func (f *fixture) deviation(t *testing.T, id, userID string, typ datatypes.DeviationType) {
	t.Helper()
	ok, err := f.store.CreateDeviationIfAbsent(context.Background(), datatypes.Deviation{
		ID:          id,
		UserID:      userID,
		Type:        typ,
		Severity:    datatypes.SeverityHigh,
		Description: "Reported high workload (> 8/10) for 3+ consecutive check-ins",
		DetectedAt:  detected,
	}, 7*24*time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDispatchPending_SendsOnceThenNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "mgr", "Morgan", "")
	f.user(t, "u1", "Alex", "mgr")
	f.deviation(t, "d1", "u1", datatypes.DeviationHighWorkload)

	res, err := f.d.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{Pending: 1, Sent: 1}, res)

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "mgr", sent[0].To.UserID)
	assert.Equal(t, "P-mgr", sent[0].To.PlatformID)
	assert.Equal(t, "You have a new wellbeing alert for Alex", sent[0].Message.Text)

	dev, err := f.store.GetDeviation(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, dev.ManagerNotified)
	require.NotNil(t, dev.NotifiedAt)
	assert.Equal(t, detected.Add(time.Hour), *dev.NotifiedAt)

	res, err = f.d.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{}, res)
	assert.Len(t, f.notifier.Sent(), 1)
}

func TestDispatchPending_NoManagerSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "u1", "Alex", "")
	f.user(t, "u2", "Sam", "ghost-manager")
	f.deviation(t, "d1", "u1", datatypes.DeviationMoodDrop)
	f.deviation(t, "d2", "u2", datatypes.DeviationMoodDrop)
	f.optIn(t, "unknown-user")
	f.deviation(t, "d3", "unknown-user", datatypes.DeviationMoodDrop)

	res, err := f.d.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.SkippedNoManager)
	assert.Zero(t, res.Sent)

	pending, err := f.store.ListPendingDeviations(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 3, "skipped deviations stay pending")
}

func TestDispatchPending_PrivacyCheckedFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	// No manager either: the opt-out must win.
	f.user(t, "u1", "Alex", "")
	require.NoError(t, f.store.PutPrivacySettings(ctx, datatypes.PrivacySettings{UserID: "u1", AllowAIAnalysis: false, DefaultVisibility: datatypes.VisibilityPrivate}))
	f.deviation(t, "d1", "u1", datatypes.DeviationMoodDrop)

	res, err := f.d.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{Pending: 1, SkippedOptOut: 1}, res)
	assert.Empty(t, f.notifier.Sent())
}

func TestDispatchPending_UnsetPrivacyIsOptOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "mgr", "Morgan", "")
	require.NoError(t, f.store.PutUser(ctx, datatypes.User{
		ID: "u1", DisplayName: "Alex", Role: datatypes.RoleEmployee, ManagerID: "mgr",
	}))
	f.deviation(t, "d1", "u1", datatypes.DeviationHighWorkload)

	res, err := f.d.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{Pending: 1, SkippedOptOut: 1}, res)
	assert.Empty(t, f.notifier.Sent())

	dev, err := f.store.GetDeviation(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, dev.Pending())
}

func TestDispatchPending_FailureIsolated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "mgr-a", "A", "")
	f.user(t, "mgr-b", "B", "")
	f.user(t, "u1", "Alex", "mgr-a")
	f.user(t, "u2", "Sam", "mgr-b")
	f.deviation(t, "d1", "u1", datatypes.DeviationMoodDrop)
	f.deviation(t, "d2", "u2", datatypes.DeviationMoodDrop)
	f.notifier.failFor["mgr-a"] = true

	res, err := f.d.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, f.metrics.outcomes[OutcomeFailed])
	assert.Equal(t, 1, f.metrics.outcomes[OutcomeSent])

	d1, err := f.store.GetDeviation(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, d1.Pending(), "failed notification is retried next run")

	f.notifier.failFor["mgr-a"] = false
	res, err = f.d.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{Pending: 1, Sent: 1}, res)
}

func TestDispatchPending_ResolvedNotSent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "mgr", "Morgan", "")
	f.user(t, "u1", "Alex", "mgr")
	f.deviation(t, "d1", "u1", datatypes.DeviationMoodDrop)
	_, err := f.store.ResolveDeviation(ctx, "d1", "mgr", detected)
	require.NoError(t, err)

	res, err := f.d.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Pending)
	assert.Empty(t, f.notifier.Sent())
}

func TestDispatchPending_Cancelled(t *testing.T) {
	f := newFixture(t)
	f.user(t, "mgr", "Morgan", "")
	f.user(t, "u1", "Alex", "mgr")
	f.deviation(t, "d1", "u1", datatypes.DeviationMoodDrop)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.d.DispatchPending(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewDispatcher_RequiresDeps(t *testing.T) {
	_, err := NewDispatcher(nil, messaging.NewLogNotifier(nil), DefaultConfig())
	assert.Error(t, err)
	_, err = NewDispatcher(memory.New(), nil, DefaultConfig())
	assert.Error(t, err)
}

func TestBuildMessage(t *testing.T) {
	dev := datatypes.Deviation{
		Type:        datatypes.DeviationMissedCheckIns,
		Severity:    datatypes.SeverityMedium,
		Description: "Missed 7 check-ins in the last 14 days",
		DetectedAt:  detected,
	}
	msg := BuildMessage(dev, datatypes.User{ID: "u1"})

	assert.Equal(t, AlertTitle, msg.Title)
	assert.Equal(t, "You have a new wellbeing alert for a team member", msg.Text)
	assert.Equal(t, advisory.Badge(), msg.Footer)
	assert.Equal(t, SuggestedActions, msg.Actions)

	for label, want := range map[string]string{
		"Type":     "Missed Check-ins",
		"Severity": "MEDIUM",
		"Details":  "Missed 7 check-ins in the last 14 days",
		"Detected": "2025-06-20",
	} {
		got, ok := msg.Field(label)
		assert.True(t, ok, label)
		assert.Equal(t, want, got, label)
	}
}

func TestFormatType(t *testing.T) {
	tests := []struct {
		in   datatypes.DeviationType
		want string
	}{
		{datatypes.DeviationMoodDrop, "Mood Score Drop"},
		{datatypes.DeviationSustainedLowMood, "Sustained Low Mood"},
		{datatypes.DeviationHighWorkload, "High Workload Reported"},
		{datatypes.DeviationMissedCheckIns, "Missed Check-ins"},
		{"energy_dip", "Energy Dip"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatType(tt.in))
	}
}
