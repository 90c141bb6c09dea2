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

	"github.com/gin-gonic/gin"
)

// RunSweep handles POST /v1/admin/sweep: an immediate sweep-and-dispatch
// cycle. Partial results are returned alongside a failure.
func (h *Handlers) RunSweep(c *gin.Context) {
	res, err := h.jobs.RunNow(c.Request.Context())
	if err != nil {
		h.logger.Error("Manual sweep failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "result": res})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"result":     res,
		"durationMs": res.Duration().Milliseconds(),
	})
}

// RunDispatch handles POST /v1/admin/dispatch.
func (h *Handlers) RunDispatch(c *gin.Context) {
	res, err := h.jobs.DispatchNow(c.Request.Context())
	if err != nil {
		h.logger.Error("Manual dispatch failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "result": res})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res})
}

// HealthCheck handles GET /health.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
