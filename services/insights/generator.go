// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package insights produces advisory-only summaries of check-in data.
//
// Every response passes the content policy filter on the way in (the
// request) and on the way out (each insight and recommendation), carries the
// advisory envelope, and is audited.
package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/careos/careos/services/advisory"
	"github.com/careos/careos/services/audit"
	"github.com/careos/careos/services/datatypes"
	"github.com/careos/careos/services/storage"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("careos.insights")

// ErrNoInsightStore is returned by read and review calls when the generator
// was built without an InsightStore.
var ErrNoInsightStore = errors.New("insight storage not configured")

// Guard is the blocking side of the content policy filter.
type Guard interface {
	Enforce(text string) error
	EnforceAll(texts ...string) error
}

// DataStore is what the generator reads check-ins and privacy from.
type DataStore interface {
	ListCheckInsInRange(ctx context.Context, userIDs []string, r datatypes.TimeRange) ([]datatypes.CheckIn, error)
	ListDirectReports(ctx context.Context, managerID string) ([]datatypes.User, error)
	GetPrivacySettings(ctx context.Context, userID string) (datatypes.PrivacySettings, error)
}

// Metrics receives generator counters.
type Metrics interface {
	RecordInsightGenerated(insightType string)
}

type nopMetrics struct{}

func (nopMetrics) RecordInsightGenerated(string) {}

// Generator runs the insight pipeline.
type Generator struct {
	guard      Guard
	data       DataStore
	insights   storage.InsightStore
	audit      *audit.Recorder
	summarizer Summarizer
	logger     *slog.Logger
	metrics    Metrics
	now        func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithInsightStore persists generated insights and enables Get and
// MarkReviewed.
func WithInsightStore(s storage.InsightStore) Option {
	return func(g *Generator) { g.insights = s }
}

// WithSummarizer replaces the StatisticalSummarizer.
func WithSummarizer(s Summarizer) Option {
	return func(g *Generator) {
		if s != nil {
			g.summarizer = s
		}
	}
}

// WithLogger sets the generator logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithMetrics counts generated insights by type.
func WithMetrics(m Metrics) Option {
	return func(g *Generator) {
		if m != nil {
			g.metrics = m
		}
	}
}

// WithClock overrides time.Now for GeneratedAt and ReviewedAt.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGenerator creates a Generator. guard, data and recorder are required.
func NewGenerator(guard Guard, data DataStore, recorder *audit.Recorder, opts ...Option) (*Generator, error) {
	if guard == nil || data == nil || recorder == nil {
		return nil, errors.New("insight generator requires a policy guard, a data store and an audit recorder")
	}
	g := &Generator{
		guard:      guard,
		data:       data,
		audit:      recorder,
		summarizer: StatisticalSummarizer{},
		logger:     slog.Default(),
		metrics:    nopMetrics{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate produces an advisory insight for the request.
//
// # Description
//
// Steps, in order:
//
//  1. Validate the request.
//  2. Scan the serialised request; prohibited intent is rejected before any
//     data is read.
//  3. Apply privacy: a user-scoped request for an opted-out user returns the
//     fixed opted-out insight; team and global scopes drop opted-out users.
//  4. Fetch check-ins in the time range for the scope.
//  5. Summarize.
//  6. Scan every insight and recommendation.
//  7. Apply the advisory envelope.
//  8. Persist, if an InsightStore is configured. Failures are logged only.
//  9. Audit.
//
// # Outputs
//
//   - *datatypes.InsightResponse: always advisory-only.
//   - error: datatypes.ErrValidation, a *policy_engine.GuardrailViolationError,
//     or a wrapped storage/summarizer error.
func (g *Generator) Generate(ctx context.Context, req datatypes.InsightRequest) (*datatypes.InsightResponse, error) {
	ctx, span := tracer.Start(ctx, "insights.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("insight.type", string(req.Type)))

	if err := req.Validate(); err != nil {
		return nil, fail(span, err)
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fail(span, fmt.Errorf("marshal insight request: %w", err))
	}
	if err := g.guard.Enforce(string(reqJSON)); err != nil {
		return nil, fail(span, err)
	}

	g.logger.Info("Generating insights",
		"type", req.Type,
		"start", req.TimeRange.Start,
		"end", req.TimeRange.End)

	var (
		summary  Summary
		dataSize int
	)
	optedOut, checkIns, err := g.fetch(ctx, req)
	if err != nil {
		return nil, fail(span, err)
	}
	if optedOut {
		summary = Summary{Insights: []string{OptedOutInsight}, Recommendations: []string{}}
	} else {
		dataSize = len(checkIns)
		summary, err = g.summarizer.Summarize(ctx, SummaryInput{Type: req.Type, CheckIns: checkIns})
		if err != nil {
			return nil, fail(span, fmt.Errorf("summarize check-ins: %w", err))
		}
	}

	if err := g.guard.EnforceAll(summary.Insights...); err != nil {
		return nil, fail(span, err)
	}
	if err := g.guard.EnforceAll(summary.Recommendations...); err != nil {
		return nil, fail(span, err)
	}

	resp := advisory.Enforce(datatypes.InsightResponse{
		ID:              uuid.NewString(),
		Type:            req.Type,
		Insights:        summary.Insights,
		Recommendations: summary.Recommendations,
		UserID:          req.UserID,
		TeamManagerID:   req.TeamManagerID,
		Metadata: datatypes.InsightMetadata{
			GeneratedAt: g.now().UTC(),
			DataPoints:  dataSize,
		},
	})

	if g.insights != nil {
		if err := g.insights.SaveInsight(ctx, resp); err != nil {
			g.logger.Error("Failed to persist insight", "insight_id", resp.ID, "error", err)
		}
	}

	g.audit.RecordAIRecommendation(ctx, auditSubject(req), string(req.Type),
		map[string]any{"timeRange": req.TimeRange, "userId": req.UserID, "teamManagerId": req.TeamManagerID},
		map[string]any{"insightId": resp.ID, "insightCount": len(resp.Insights), "optedOut": optedOut})
	g.metrics.RecordInsightGenerated(string(req.Type))

	span.SetAttributes(attribute.Int("data_points", dataSize))
	return &resp, nil
}

// fetch applies the privacy rules and loads check-ins for the request scope.
func (g *Generator) fetch(ctx context.Context, req datatypes.InsightRequest) (optedOut bool, checkIns []datatypes.CheckIn, err error) {
	var userIDs []string
	switch {
	case req.UserID != "":
		privacy, err := g.data.GetPrivacySettings(ctx, req.UserID)
		if err != nil {
			return false, nil, fmt.Errorf("load privacy settings: %w", err)
		}
		if !privacy.AllowAIAnalysis {
			return true, nil, nil
		}
		userIDs = []string{req.UserID}
	case req.TeamManagerID != "":
		reports, err := g.data.ListDirectReports(ctx, req.TeamManagerID)
		if err != nil {
			return false, nil, fmt.Errorf("list direct reports of %s: %w", req.TeamManagerID, err)
		}
		if len(reports) == 0 {
			return false, nil, nil
		}
		userIDs = make([]string, 0, len(reports))
		for _, u := range reports {
			userIDs = append(userIDs, u.ID)
		}
	}

	all, err := g.data.ListCheckInsInRange(ctx, userIDs, req.TimeRange)
	if err != nil {
		return false, nil, fmt.Errorf("list check-ins: %w", err)
	}
	if req.UserID != "" {
		return false, all, nil
	}

	allowed := make(map[string]bool)
	checkIns = all[:0:0]
	for _, c := range all {
		ok, seen := allowed[c.UserID]
		if !seen {
			privacy, err := g.data.GetPrivacySettings(ctx, c.UserID)
			if err != nil {
				return false, nil, fmt.Errorf("load privacy settings: %w", err)
			}
			ok = privacy.AllowAIAnalysis
			allowed[c.UserID] = ok
		}
		if ok {
			checkIns = append(checkIns, c)
		}
	}
	return false, checkIns, nil
}

func auditSubject(req datatypes.InsightRequest) string {
	switch {
	case req.UserID != "":
		return req.UserID
	case req.TeamManagerID != "":
		return req.TeamManagerID
	default:
		return "system"
	}
}

// Get loads a stored insight. The advisory envelope is re-applied on read.
func (g *Generator) Get(ctx context.Context, id string) (*datatypes.InsightResponse, error) {
	if g.insights == nil {
		return nil, ErrNoInsightStore
	}
	resp, err := g.insights.GetInsight(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load insight %s: %w", id, err)
	}
	resp = advisory.Enforce(resp)
	return &resp, nil
}

// MarkReviewed records that a human reviewed an insight and what they did.
// The action text goes through the content policy filter like any other
// text attached to an insight.
func (g *Generator) MarkReviewed(ctx context.Context, id, reviewer, actionTaken string) (*datatypes.InsightResponse, error) {
	ctx, span := tracer.Start(ctx, "insights.MarkReviewed")
	defer span.End()

	if g.insights == nil {
		return nil, ErrNoInsightStore
	}
	in := datatypes.ReviewInput{ActionTaken: actionTaken}
	if err := in.Validate(); err != nil {
		return nil, fail(span, err)
	}
	if err := g.guard.Enforce(actionTaken); err != nil {
		return nil, fail(span, err)
	}

	resp, err := g.insights.UpdateInsightReview(ctx, id, reviewer, actionTaken, g.now().UTC())
	if err != nil {
		return nil, fail(span, fmt.Errorf("review insight %s: %w", id, err))
	}
	resp = advisory.Enforce(resp)

	g.audit.Record(ctx, datatypes.AuditLogEntry{
		UserID:   reviewer,
		Action:   datatypes.AuditActionInsightReviewed,
		Resource: "insight:" + id,
		Details:  map[string]any{"actionTaken": actionTaken},
	})
	return &resp, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
