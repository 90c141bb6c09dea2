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

// AlertStream is implemented by *messaging.WebSocketHub.
type AlertStream interface {
	Serve(w http.ResponseWriter, r *http.Request, userID string) error
}

// StreamAlerts handles GET /v1/alerts/stream. The connection is upgraded to
// a websocket that receives the caller's own manager alerts as they are
// dispatched.
func (h *Handlers) StreamAlerts(c *gin.Context) {
	caller, err := h.caller(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if h.alertStream == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert streaming is not enabled"})
		return
	}
	if err := h.alertStream.Serve(c.Writer, c.Request, caller.ID); err != nil {
		h.logger.Debug("Alert stream ended", "user_id", caller.ID, "error", err)
	}
}
