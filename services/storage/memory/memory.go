// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory is the map-backed storage backend used in demo mode.
//
// Nothing survives a restart. All state sits behind one RWMutex, which also
// makes the deviation dedup check-then-insert atomic.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/careos/careos/services/datatypes"
	"github.com/careos/careos/services/storage"
	"github.com/google/uuid"
)

// Store implements storage.Store in memory.
type Store struct {
	mu sync.RWMutex

	checkIns     map[string]datatypes.CheckIn
	checkInByDay map[string]string
	deviations   map[string]datatypes.Deviation
	users        map[string]datatypes.User
	privacy      map[string]datatypes.PrivacySettings
	insights     map[string]datatypes.InsightResponse
	audit        []datatypes.AuditLogEntry
}

var _ storage.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		checkIns:     make(map[string]datatypes.CheckIn),
		checkInByDay: make(map[string]string),
		deviations:   make(map[string]datatypes.Deviation),
		users:        make(map[string]datatypes.User),
		privacy:      make(map[string]datatypes.PrivacySettings),
		insights:     make(map[string]datatypes.InsightResponse),
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func dayKey(userID, date string) string {
	return userID + "\x00" + date
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
}

// =============================================================================
// Check-ins
// =============================================================================

func (s *Store) UpsertCheckIn(ctx context.Context, c datatypes.CheckIn) (datatypes.CheckIn, error) {
	if err := ctx.Err(); err != nil {
		return datatypes.CheckIn{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dayKey(c.UserID, c.CheckInDate)
	if existingID, ok := s.checkInByDay[key]; ok {
		c.ID = existingID
	} else if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.checkIns[c.ID] = cloneCheckIn(c)
	s.checkInByDay[key] = c.ID
	return cloneCheckIn(c), nil
}

func (s *Store) GetCheckIn(ctx context.Context, id string) (datatypes.CheckIn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.checkIns[id]
	if !ok {
		return datatypes.CheckIn{}, notFound("check-in", id)
	}
	return cloneCheckIn(c), nil
}

func (s *Store) UpdateCheckIn(ctx context.Context, id string, upd datatypes.CheckInUpdate) (datatypes.CheckIn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.checkIns[id]
	if !ok {
		return datatypes.CheckIn{}, notFound("check-in", id)
	}
	if upd.Visibility != nil {
		c.Visibility = *upd.Visibility
	}
	if upd.Notes != nil {
		c.Notes = *upd.Notes
	}
	s.checkIns[id] = c
	return cloneCheckIn(c), nil
}

func (s *Store) ListCheckIns(ctx context.Context, userID string, since time.Time, limit int) ([]datatypes.CheckIn, error) {
	s.mu.RLock()
	var out []datatypes.CheckIn
	for _, c := range s.checkIns {
		if c.UserID == userID && !c.Timestamp.Before(since) {
			out = append(out, cloneCheckIn(c))
		}
	}
	s.mu.RUnlock()

	sortCheckInsNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListCheckInsInRange(ctx context.Context, userIDs []string, r datatypes.TimeRange) ([]datatypes.CheckIn, error) {
	s.mu.RLock()
	var out []datatypes.CheckIn
	for _, c := range s.checkIns {
		if userIDs != nil && !slices.Contains(userIDs, c.UserID) {
			continue
		}
		if r.Contains(c.Timestamp) {
			out = append(out, cloneCheckIn(c))
		}
	}
	s.mu.RUnlock()

	sortCheckInsNewestFirst(out)
	return out, nil
}

func sortCheckInsNewestFirst(cs []datatypes.CheckIn) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Timestamp.Equal(cs[j].Timestamp) {
			return cs[i].ID > cs[j].ID
		}
		return cs[i].Timestamp.After(cs[j].Timestamp)
	})
}

func cloneCheckIn(c datatypes.CheckIn) datatypes.CheckIn {
	if c.EnergyLevel != nil {
		c.EnergyLevel = datatypes.IntPtr(*c.EnergyLevel)
	}
	if c.StressLevel != nil {
		c.StressLevel = datatypes.IntPtr(*c.StressLevel)
	}
	return c
}

// =============================================================================
// Deviations
// =============================================================================

func (s *Store) CreateDeviationIfAbsent(ctx context.Context, dev datatypes.Deviation, window time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := dev.DetectedAt.Add(-window)
	for _, existing := range s.deviations {
		if existing.UserID != dev.UserID || existing.Type != dev.Type || existing.Resolved {
			continue
		}
		if !existing.DetectedAt.Before(cutoff) {
			return false, nil
		}
	}

	if dev.ID == "" {
		dev.ID = uuid.NewString()
	}
	s.deviations[dev.ID] = dev
	return true, nil
}

func (s *Store) GetDeviation(ctx context.Context, id string) (datatypes.Deviation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deviations[id]
	if !ok {
		return datatypes.Deviation{}, notFound("deviation", id)
	}
	return d, nil
}

func (s *Store) ListDeviations(ctx context.Context, userID string, includeResolved bool) ([]datatypes.Deviation, error) {
	s.mu.RLock()
	var out []datatypes.Deviation
	for _, d := range s.deviations {
		if d.UserID == userID && (includeResolved || !d.Resolved) {
			out = append(out, d)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	return out, nil
}

func (s *Store) ListPendingDeviations(ctx context.Context) ([]datatypes.Deviation, error) {
	s.mu.RLock()
	var out []datatypes.Deviation
	for _, d := range s.deviations {
		if d.Pending() {
			out = append(out, d)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out, nil
}

func (s *Store) MarkDeviationNotified(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deviations[id]
	if !ok {
		return notFound("deviation", id)
	}
	d.ManagerNotified = true
	t := at.UTC()
	d.NotifiedAt = &t
	s.deviations[id] = d
	return nil
}

func (s *Store) ResolveDeviation(ctx context.Context, id, resolvedBy string, at time.Time) (datatypes.Deviation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deviations[id]
	if !ok {
		return datatypes.Deviation{}, notFound("deviation", id)
	}
	if d.Resolved {
		return d, nil
	}
	d.Resolved = true
	d.ResolvedBy = resolvedBy
	t := at.UTC()
	d.ResolvedAt = &t
	s.deviations[id] = d
	return d, nil
}

// =============================================================================
// Users
// =============================================================================

func (s *Store) GetUser(ctx context.Context, id string) (datatypes.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return datatypes.User{}, notFound("user", id)
	}
	return u, nil
}

func (s *Store) PutUser(ctx context.Context, u datatypes.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *Store) ListUsersByRole(ctx context.Context, role datatypes.Role) ([]datatypes.User, error) {
	return s.filterUsers(func(u datatypes.User) bool { return u.Role == role }), nil
}

func (s *Store) ListDirectReports(ctx context.Context, managerID string) ([]datatypes.User, error) {
	return s.filterUsers(func(u datatypes.User) bool { return u.ManagerID == managerID }), nil
}

func (s *Store) filterUsers(keep func(datatypes.User) bool) []datatypes.User {
	s.mu.RLock()
	var out []datatypes.User
	for _, u := range s.users {
		if keep(u) {
			out = append(out, u)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) GetPrivacySettings(ctx context.Context, userID string) (datatypes.PrivacySettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.privacy[userID]; ok {
		return p, nil
	}
	return datatypes.DefaultPrivacySettings(userID), nil
}

func (s *Store) PutPrivacySettings(ctx context.Context, p datatypes.PrivacySettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.privacy[p.UserID] = p
	return nil
}

// =============================================================================
// Insights
// =============================================================================

func (s *Store) SaveInsight(ctx context.Context, r datatypes.InsightResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insights[r.ID] = cloneInsight(r)
	return nil
}

func (s *Store) GetInsight(ctx context.Context, id string) (datatypes.InsightResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.insights[id]
	if !ok {
		return datatypes.InsightResponse{}, notFound("insight", id)
	}
	return cloneInsight(r), nil
}

func (s *Store) UpdateInsightReview(ctx context.Context, id, reviewer, actionTaken string, at time.Time) (datatypes.InsightResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.insights[id]
	if !ok {
		return datatypes.InsightResponse{}, notFound("insight", id)
	}
	r.HumanReviewed = true
	r.ReviewedBy = reviewer
	t := at.UTC()
	r.ReviewedAt = &t
	r.ActionTaken = actionTaken
	s.insights[id] = r
	return cloneInsight(r), nil
}

func cloneInsight(r datatypes.InsightResponse) datatypes.InsightResponse {
	r.Insights = slices.Clone(r.Insights)
	r.Recommendations = slices.Clone(r.Recommendations)
	return r
}

// =============================================================================
// Audit
// =============================================================================

func (s *Store) AppendAuditEntry(ctx context.Context, entry datatypes.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

func (s *Store) ListAuditEntries(ctx context.Context, limit int) ([]datatypes.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.audit)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]datatypes.AuditLogEntry, 0, n)
	for i := len(s.audit) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.audit[i])
	}
	return out, nil
}
