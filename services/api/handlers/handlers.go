// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the CareOS HTTP endpoints.
//
// Handlers bind and authorise requests, delegate to the services, and map
// service errors to HTTP responses in one place (respondError). Row-level
// access (who may see whose data) is decided here; whole-operation role
// checks run earlier in middleware.RequireAction.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/careos/careos/pkg/extensions"
	"github.com/careos/careos/services/alerts"
	"github.com/careos/careos/services/api/middleware"
	"github.com/careos/careos/services/audit"
	"github.com/careos/careos/services/checkin"
	"github.com/careos/careos/services/datatypes"
	"github.com/careos/careos/services/scheduler"
	"github.com/careos/careos/services/storage"
)

// =============================================================================
// Dependencies
// =============================================================================

// CheckInService is implemented by *checkin.Service.
type CheckInService interface {
	Submit(ctx context.Context, userID string, in datatypes.CheckInInput) (checkin.SubmitResult, error)
	UpdateCheckIn(ctx context.Context, requesterID, id string, upd datatypes.CheckInUpdate) (datatypes.CheckIn, error)
	ListVisible(ctx context.Context, viewer datatypes.User, targetUserID string, limit int) ([]datatypes.CheckIn, error)
}

// InsightService is implemented by *insights.Generator.
type InsightService interface {
	Generate(ctx context.Context, req datatypes.InsightRequest) (*datatypes.InsightResponse, error)
	Get(ctx context.Context, id string) (*datatypes.InsightResponse, error)
	MarkReviewed(ctx context.Context, id, reviewer, actionTaken string) (*datatypes.InsightResponse, error)
}

// Jobs is implemented by *scheduler.Scheduler.
type Jobs interface {
	RunNow(ctx context.Context) (scheduler.RunResult, error)
	DispatchNow(ctx context.Context) (alerts.DispatchResult, error)
}

// Store is the storage the handlers read directly.
type Store interface {
	GetUser(ctx context.Context, id string) (datatypes.User, error)
	storage.DeviationStore
}

// Deps wires the handlers to the services. Every field except AlertStream,
// Logger and Now is required.
type Deps struct {
	Store       Store
	CheckIns    CheckInService
	Insights    InsightService
	Jobs        Jobs
	Audit       *audit.Recorder
	AlertStream AlertStream
	Logger      *slog.Logger
	Now         func() time.Time
}

// Handlers holds the endpoint implementations.
type Handlers struct {
	store    Store
	checkIns CheckInService
	insights InsightService
	jobs     Jobs
	audit    *audit.Recorder
	logger   *slog.Logger
	now      func() time.Time

	alertStream AlertStream
}

// New validates deps and builds the handlers.
func New(deps Deps) (*Handlers, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("handlers: store is required")
	case deps.CheckIns == nil:
		return nil, errors.New("handlers: check-in service is required")
	case deps.Insights == nil:
		return nil, errors.New("handlers: insight service is required")
	case deps.Jobs == nil:
		return nil, errors.New("handlers: jobs are required")
	case deps.Audit == nil:
		return nil, errors.New("handlers: audit recorder is required")
	}
	h := &Handlers{
		store:    deps.Store,
		checkIns: deps.CheckIns,
		insights: deps.Insights,
		jobs:     deps.Jobs,
		audit:    deps.Audit,
		logger:   deps.Logger,
		now:      deps.Now,

		alertStream: deps.AlertStream,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h, nil
}

// =============================================================================
// Caller resolution
// =============================================================================

// caller resolves the authenticated identity to a directory user. Callers
// known to the auth provider but absent from the directory (the local
// administrator of an unauthenticated install, service accounts) get a
// synthetic user built from their token roles.
func (h *Handlers) caller(c *gin.Context) (datatypes.User, error) {
	info := middleware.GetAuthInfo(c)
	if info == nil || info.UserID == "" {
		return datatypes.User{}, extensions.ErrUnauthorized
	}
	u, err := h.store.GetUser(c.Request.Context(), info.UserID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return datatypes.User{}, fmt.Errorf("load caller %s: %w", info.UserID, err)
	}
	return datatypes.User{
		ID:    info.UserID,
		Email: info.Email,
		Role:  roleFromClaims(info),
	}, nil
}

// roleFromClaims picks the most privileged role carried by the token.
func roleFromClaims(info *extensions.AuthInfo) datatypes.Role {
	for _, r := range []datatypes.Role{
		datatypes.RoleAdmin,
		datatypes.RoleExecutive,
		datatypes.RoleManager,
	} {
		if info.HasRole(string(r)) {
			return r
		}
	}
	return datatypes.RoleEmployee
}

func isOrgWide(u datatypes.User) bool {
	return u.Role == datatypes.RoleExecutive || u.Role == datatypes.RoleAdmin
}

// canSeeUser reports whether viewer may read target's personal records.
func canSeeUser(viewer, target datatypes.User) bool {
	return viewer.ID == target.ID || isOrgWide(viewer) ||
		(target.ManagerID != "" && target.ManagerID == viewer.ID)
}

// lookupTarget loads targetID unless it is the viewer.
func (h *Handlers) lookupTarget(ctx context.Context, viewer datatypes.User, targetID string) (datatypes.User, error) {
	if targetID == viewer.ID {
		return viewer, nil
	}
	u, err := h.store.GetUser(ctx, targetID)
	if err != nil {
		return datatypes.User{}, fmt.Errorf("load user %s: %w", targetID, err)
	}
	return u, nil
}
