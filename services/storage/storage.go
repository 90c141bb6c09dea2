// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage declares the persistence interfaces used by the CareOS
// services.
//
// Two interchangeable implementations exist: storage/badger (persistent, or
// in-memory badger for tests) and storage/memory (plain maps, for demo mode).
// The backend is chosen once at startup; services only see these interfaces.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/careos/careos/services/datatypes"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// DedupWindow is how long an unresolved deviation suppresses new deviations
// of the same type for the same user.
const DedupWindow = 7 * 24 * time.Hour

// CheckInStore persists check-ins.
type CheckInStore interface {
	// UpsertCheckIn stores c, replacing any check-in for the same user and
	// CheckInDate. The existing ID is kept on replace. Returns the stored value.
	UpsertCheckIn(ctx context.Context, c datatypes.CheckIn) (datatypes.CheckIn, error)

	GetCheckIn(ctx context.Context, id string) (datatypes.CheckIn, error)

	// UpdateCheckIn applies the mutable fields of upd.
	UpdateCheckIn(ctx context.Context, id string, upd datatypes.CheckInUpdate) (datatypes.CheckIn, error)

	// ListCheckIns returns the user's check-ins with Timestamp >= since,
	// newest first. limit <= 0 means no limit.
	ListCheckIns(ctx context.Context, userID string, since time.Time, limit int) ([]datatypes.CheckIn, error)

	// ListCheckInsInRange returns check-ins inside r for the given users,
	// newest first. A nil userIDs slice means every user.
	ListCheckInsInRange(ctx context.Context, userIDs []string, r datatypes.TimeRange) ([]datatypes.CheckIn, error)
}

// DeviationStore persists deviations.
type DeviationStore interface {
	// CreateDeviationIfAbsent inserts dev unless an unresolved deviation of
	// the same user and type was detected within window before
	// dev.DetectedAt. The check and insert are atomic per {user, type}.
	CreateDeviationIfAbsent(ctx context.Context, dev datatypes.Deviation, window time.Duration) (created bool, err error)

	GetDeviation(ctx context.Context, id string) (datatypes.Deviation, error)

	// ListDeviations returns the user's deviations, newest first.
	ListDeviations(ctx context.Context, userID string, includeResolved bool) ([]datatypes.Deviation, error)

	// ListPendingDeviations returns every deviation with
	// ManagerNotified == false and Resolved == false, oldest first.
	ListPendingDeviations(ctx context.Context) ([]datatypes.Deviation, error)

	MarkDeviationNotified(ctx context.Context, id string, at time.Time) error

	// ResolveDeviation marks a deviation resolved. Resolving twice is a no-op
	// that returns the already-resolved record.
	ResolveDeviation(ctx context.Context, id, resolvedBy string, at time.Time) (datatypes.Deviation, error)
}

// UserStore persists users and their privacy settings.
type UserStore interface {
	GetUser(ctx context.Context, id string) (datatypes.User, error)
	PutUser(ctx context.Context, u datatypes.User) error
	ListUsersByRole(ctx context.Context, role datatypes.Role) ([]datatypes.User, error)
	ListDirectReports(ctx context.Context, managerID string) ([]datatypes.User, error)

	// GetPrivacySettings returns datatypes.DefaultPrivacySettings when the
	// user has no stored record.
	GetPrivacySettings(ctx context.Context, userID string) (datatypes.PrivacySettings, error)
	PutPrivacySettings(ctx context.Context, p datatypes.PrivacySettings) error
}

// InsightStore persists generated insights.
type InsightStore interface {
	SaveInsight(ctx context.Context, r datatypes.InsightResponse) error
	GetInsight(ctx context.Context, id string) (datatypes.InsightResponse, error)
	UpdateInsightReview(ctx context.Context, id, reviewer, actionTaken string, at time.Time) (datatypes.InsightResponse, error)
}

// AuditStore is the append-only audit log. Reads exist for operators and
// tests only.
type AuditStore interface {
	AppendAuditEntry(ctx context.Context, entry datatypes.AuditLogEntry) error
	ListAuditEntries(ctx context.Context, limit int) ([]datatypes.AuditLogEntry, error)
}

// Store bundles every store interface behind one backend.
type Store interface {
	CheckInStore
	DeviationStore
	UserStore
	InsightStore
	AuditStore
	Close() error
}
