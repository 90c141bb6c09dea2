// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit records AI recommendations and privacy-sensitive data access.
//
// Audit writes never block or fail the operation being audited. A sink
// failure is logged and counted, then dropped.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/careos/careos/services/datatypes"
	"github.com/google/uuid"
)

// =============================================================================
// Interfaces
// =============================================================================

// Store is an append-only audit sink.
type Store interface {
	AppendAuditEntry(ctx context.Context, entry datatypes.AuditLogEntry) error
}

// FailureRecorder counts audit writes that could not be persisted.
type FailureRecorder interface {
	RecordAuditWriteFailure()
}

type nopFailures struct{}

func (nopFailures) RecordAuditWriteFailure() {}

type nopStore struct{}

func (nopStore) AppendAuditEntry(context.Context, datatypes.AuditLogEntry) error { return nil }

// NewNopStore returns a Store that discards every entry.
func NewNopStore() Store {
	return nopStore{}
}

// =============================================================================
// Recorder
// =============================================================================

// Recorder writes audit entries to a Store.
//
// # Thread Safety
//
// Safe for concurrent use if the underlying Store is.
type Recorder struct {
	store   Store
	logger  *slog.Logger
	metrics FailureRecorder
	now     func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the recorder logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the failure counter.
func WithMetrics(m FailureRecorder) Option {
	return func(r *Recorder) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

type clientInfoKey struct{}

type clientInfo struct {
	ip, userAgent string
}

// WithClientInfo attaches the caller's address and user agent to ctx.
// Record copies them into entries that do not set their own.
func WithClientInfo(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, clientInfo{ip: ip, userAgent: userAgent})
}

// NewRecorder creates a Recorder. A nil store discards entries.
func NewRecorder(store Store, opts ...Option) *Recorder {
	if store == nil {
		store = nopStore{}
	}
	r := &Recorder{
		store:   store,
		logger:  slog.Default(),
		metrics: nopFailures{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends entry, filling ID and Timestamp when empty.
//
// Record never returns an error. Failures are logged and counted.
func (r *Recorder) Record(ctx context.Context, entry datatypes.AuditLogEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now().UTC()
	}
	if info, ok := ctx.Value(clientInfoKey{}).(clientInfo); ok {
		if entry.IPAddress == "" {
			entry.IPAddress = info.ip
		}
		if entry.UserAgent == "" {
			entry.UserAgent = info.userAgent
		}
	}

	if err := r.store.AppendAuditEntry(ctx, entry); err != nil {
		r.metrics.RecordAuditWriteFailure()
		r.logger.Error("Failed to write audit entry",
			"action", entry.Action,
			"resource", entry.Resource,
			"user_id", entry.UserID,
			"error", err)
		return
	}
	r.logger.Debug("Audit entry written", "action", entry.Action, "resource", entry.Resource)
}

// RecordAIRecommendation audits one AI-derived output.
//
// The resource is "ai:<type>" and the details always carry
// wasAdvisoryFlagEnforced=true.
func (r *Recorder) RecordAIRecommendation(ctx context.Context, userID, insightType string, input, output any) {
	r.Record(ctx, datatypes.AuditLogEntry{
		UserID:   userID,
		Action:   datatypes.AuditActionAIRecommendation,
		Resource: "ai:" + insightType,
		Details: map[string]any{
			"type":                    insightType,
			"input":                   input,
			"output":                  output,
			"wasAdvisoryFlagEnforced": true,
		},
	})
}

// RecordDataAccess audits an attempt by accessorID to read dataType of
// targetUserID, whether or not it was granted.
func (r *Recorder) RecordDataAccess(ctx context.Context, accessorID, targetUserID, dataType string, granted bool) {
	r.Record(ctx, datatypes.AuditLogEntry{
		UserID:   accessorID,
		Action:   datatypes.AuditActionDataAccess,
		Resource: fmt.Sprintf("user:%s:%s", targetUserID, dataType),
		Details: map[string]any{
			"accessorId":   accessorID,
			"targetUserId": targetUserID,
			"dataType":     dataType,
			"granted":      granted,
		},
	})
}
