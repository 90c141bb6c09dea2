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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/careos/careos/pkg/extensions"
	"github.com/careos/careos/pkg/validation"
	"github.com/careos/careos/services/checkin"
	"github.com/careos/careos/services/datatypes"
	"github.com/careos/careos/services/deviation"
	"github.com/careos/careos/services/insights"
	"github.com/careos/careos/services/policy_engine"
	"github.com/careos/careos/services/storage"
)

// errForbidden is the row-level denial used by the handlers themselves.
var errForbidden = extensions.ErrForbidden

// respondError maps a service error to its HTTP response.
//
// Guardrail rejections carry the category and its fixed message so the
// caller can tell a policy rejection from a failure. Internal errors never
// leak their text.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	if gv, ok := policy_engine.IsGuardrailViolation(err); ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "Policy Violation",
			"category": gv.Category,
			"message":  gv.Message,
		})
		return
	}

	switch {
	case errors.Is(err, datatypes.ErrValidation), errors.Is(err, deviation.ErrInvalidCheckIn),
		errors.Is(err, validation.ErrInvalidIdentifier):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, extensions.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, extensions.ErrForbidden), errors.Is(err, checkin.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, insights.ErrNoInsightStore):
		c.JSON(http.StatusNotImplemented, gin.H{"error": "insight storage not configured"})
	default:
		logger.Error("Request failed",
			"route", c.FullPath(),
			"method", c.Request.Method,
			"error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// pathID reads a path parameter that is used as a record key, answering
// 400 itself when it is malformed.
func pathID(c *gin.Context, name string) (string, bool) {
	id := c.Param(name)
	if err := validation.ValidateIdentifier(name, id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return id, true
}

// badRequest answers a body that could not be bound.
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
}
