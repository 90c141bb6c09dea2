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
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/careos/careos/services/datatypes"
)

// maxListLimit caps ?limit= on list endpoints.
const maxListLimit = 500

// SubmitCheckIn handles POST /v1/checkins.
//
// The check-in always belongs to the caller. The response carries the
// stored check-in and, when the per-submission check flagged a metric, the
// pattern shift.
func (h *Handlers) SubmitCheckIn(c *gin.Context) {
	caller, err := h.caller(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	var in datatypes.CheckInInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.checkIns.Submit(c.Request.Context(), caller.ID, in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// UpdateCheckIn handles PATCH /v1/checkins/:id. Only visibility and notes
// can change, and only on the caller's own check-ins.
func (h *Handlers) UpdateCheckIn(c *gin.Context) {
	caller, err := h.caller(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var upd datatypes.CheckInUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		badRequest(c, err)
		return
	}

	updated, err := h.checkIns.UpdateCheckIn(c.Request.Context(), caller.ID, id, upd)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// ListCheckIns handles GET /v1/users/:userId/checkins?limit=N.
//
// Visibility filtering and the data-access audit happen in the check-in
// service; a viewer with no access gets an empty list.
func (h *Handlers) ListCheckIns(c *gin.Context) {
	caller, err := h.caller(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	targetID, ok := pathID(c, "userId")
	if !ok {
		return
	}

	list, err := h.checkIns.ListVisible(c.Request.Context(), caller, targetID, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkIns": list, "count": len(list)})
}

// parseLimit reads ?limit=, answering 400 itself on a bad value.
func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > maxListLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer between 0 and 500"})
		return 0, false
	}
	return n, true
}
