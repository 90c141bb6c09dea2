// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/careos/careos/services/datatypes"
	"github.com/careos/careos/services/storage"
)

// GenerateInsight handles POST /v1/insights.
//
// Scope rules: a single-user insight needs the same access as reading that
// user's records; a team insight is for the team's manager or an
// organisation-wide role; an unscoped insight is organisation-wide only.
func (h *Handlers) GenerateInsight(c *gin.Context) {
	caller, err := h.caller(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	var req datatypes.InsightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	scope := insightScope{userID: req.UserID, teamManagerID: req.TeamManagerID, dataType: "insights"}
	if err := h.authorizeInsightScope(c.Request.Context(), caller, scope); err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp, err := h.insights.Generate(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// insightScope is the subject an insight covers plus how access to it
// is audited.
type insightScope struct {
	userID        string
	teamManagerID string
	dataType      string
	// read audits every decision, including self and team reads.
	read bool
}

func scopeOf(resp datatypes.InsightResponse) insightScope {
	return insightScope{
		userID:        resp.UserID,
		teamManagerID: resp.TeamManagerID,
		dataType:      "insight:" + resp.ID,
		read:          true,
	}
}

// subject names who an insight is about for the audit trail.
func (s insightScope) subject() string {
	switch {
	case s.userID != "":
		return s.userID
	case s.teamManagerID != "":
		return s.teamManagerID
	default:
		return "organisation"
	}
}

func (h *Handlers) authorizeInsightScope(ctx context.Context, caller datatypes.User, scope insightScope) error {
	var denied error
	switch {
	case scope.userID != "":
		target, err := h.lookupTarget(ctx, caller, scope.userID)
		if err != nil {
			// Unknown users are reported as forbidden so the endpoint
			// cannot be used to enumerate the directory.
			if errors.Is(err, storage.ErrNotFound) && !isOrgWide(caller) {
				denied = fmt.Errorf("%w: insight for %s", errForbidden, scope.userID)
				break
			}
			return err
		}
		granted := canSeeUser(caller, target)
		if caller.ID != target.ID && !scope.read {
			h.audit.RecordDataAccess(ctx, caller.ID, target.ID, scope.dataType, granted)
		}
		if !granted {
			denied = fmt.Errorf("%w: insight for %s", errForbidden, scope.userID)
		}
	case scope.teamManagerID != "":
		if scope.teamManagerID != caller.ID && !isOrgWide(caller) {
			denied = fmt.Errorf("%w: team insight for %s", errForbidden, scope.teamManagerID)
		}
	default:
		if !isOrgWide(caller) {
			denied = fmt.Errorf("%w: organisation-wide insight", errForbidden)
		}
	}
	if scope.read {
		h.audit.RecordDataAccess(ctx, caller.ID, scope.subject(), scope.dataType, denied == nil)
	}
	return denied
}

// loadInsight fetches a stored insight and checks the caller may see it
// under the scope it was generated for.
func (h *Handlers) loadInsight(ctx context.Context, caller datatypes.User, id string) (*datatypes.InsightResponse, error) {
	resp, err := h.insights.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := h.authorizeInsightScope(ctx, caller, scopeOf(*resp)); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetInsight handles GET /v1/insights/:id. Stored insights carry the scope
// they were generated for and are only returned to callers who could have
// generated them. Every read is audited.
func (h *Handlers) GetInsight(c *gin.Context) {
	caller, err := h.caller(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	resp, err := h.loadInsight(c.Request.Context(), caller, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ReviewInsight handles POST /v1/insights/:id/review. The caller is
// recorded as the reviewer and must be able to see the insight.
func (h *Handlers) ReviewInsight(c *gin.Context) {
	caller, err := h.caller(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var in datatypes.ReviewInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	if _, err := h.loadInsight(c.Request.Context(), caller, id); err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp, err := h.insights.MarkReviewed(c.Request.Context(), id, caller.ID, in.ActionTaken)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
