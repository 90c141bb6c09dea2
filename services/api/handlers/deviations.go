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
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/careos/careos/services/datatypes"
	"github.com/careos/careos/services/storage"
)

// ListDeviations handles GET /v1/users/:userId/deviations?includeResolved=true.
// Every attempt is audited as a data access.
func (h *Handlers) ListDeviations(c *gin.Context) {
	caller, err := h.caller(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	includeResolved := false
	if raw := c.Query("includeResolved"); raw != "" {
		includeResolved, err = strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "includeResolved must be a boolean"})
			return
		}
	}

	ctx := c.Request.Context()
	targetID, ok := pathID(c, "userId")
	if !ok {
		return
	}
	target, err := h.lookupTarget(ctx, caller, targetID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	granted := canSeeUser(caller, target)
	h.audit.RecordDataAccess(ctx, caller.ID, targetID, "deviations", granted)
	if !granted {
		respondError(c, h.logger, fmt.Errorf("%w: deviations of %s", errForbidden, targetID))
		return
	}

	list, err := h.store.ListDeviations(ctx, targetID, includeResolved)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deviations": list, "count": len(list)})
}

// ResolveDeviation handles POST /v1/deviations/:id/resolve.
//
// Only the subject's manager or an organisation-wide role may resolve.
// Resolving is audited; resolving twice returns the already-resolved
// record.
func (h *Handlers) ResolveDeviation(c *gin.Context) {
	caller, err := h.caller(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	ctx := c.Request.Context()
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	dev, err := h.store.GetDeviation(ctx, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	subject, err := h.store.GetUser(ctx, dev.UserID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		respondError(c, h.logger, err)
		return
	}
	if !isOrgWide(caller) && (subject.ManagerID == "" || subject.ManagerID != caller.ID) {
		respondError(c, h.logger, fmt.Errorf("%w: deviation %s", errForbidden, id))
		return
	}

	resolved, err := h.store.ResolveDeviation(ctx, id, caller.ID, h.now().UTC())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.audit.Record(ctx, datatypes.AuditLogEntry{
		UserID:   caller.ID,
		Action:   datatypes.AuditActionDeviationResolve,
		Resource: "deviation:" + id,
		Details: map[string]any{
			"userId":   dev.UserID,
			"type":     string(dev.Type),
			"severity": string(dev.Severity),
		},
	})
	h.logger.Info("Deviation resolved", "deviation_id", id, "resolved_by", caller.ID)
	c.JSON(http.StatusOK, resolved)
}
