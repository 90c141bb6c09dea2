// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"bytes"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/careos/careos/services/policy_engine"
)

// Scanner is the reporting-mode half of the policy engine.
type Scanner interface {
	ScanBytes(body []byte) (policy_engine.ContentViolation, bool)
}

// bufferedWriter holds the handler's response until the guard has scanned
// it. Headers go straight to the underlying writer's map, which is safe
// because nothing is flushed before the guard decides.
type bufferedWriter struct {
	gin.ResponseWriter
	body   bytes.Buffer
	status int
}

func (w *bufferedWriter) WriteHeader(code int) {
	w.status = code
}

func (w *bufferedWriter) WriteHeaderNow() {}

func (w *bufferedWriter) Write(data []byte) (int, error) {
	return w.body.Write(data)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	return w.body.WriteString(s)
}

func (w *bufferedWriter) Status() int {
	return w.status
}

func (w *bufferedWriter) Size() int {
	return w.body.Len()
}

func (w *bufferedWriter) Written() bool {
	return w.body.Len() > 0
}

// ContentGuard scans successful responses of AI-output routes and replaces
// any that contain prohibited language with a 422 ContentViolation body.
//
// # Description
//
// This is the reporting-mode counterpart of PolicyEngine.Enforce. The
// generator already blocks violating output, so a hit here means a
// response slipped past the blocking path; it is logged at error level.
// Error responses (status >= 400) are passed through unscanned.
func ContentGuard(scanner Scanner, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		original := c.Writer
		buf := &bufferedWriter{ResponseWriter: original, status: http.StatusOK}
		c.Writer = buf

		c.Next()

		c.Writer = original
		if buf.status < http.StatusBadRequest {
			if violation, blocked := scanner.ScanBytes(buf.body.Bytes()); blocked {
				logger.Error("Response blocked by content guard",
					"route", c.FullPath(),
					"categories", violation.Categories)
				original.Header().Del("Content-Length")
				c.JSON(http.StatusUnprocessableEntity, violation)
				return
			}
		}
		original.WriteHeader(buf.status)
		original.WriteHeaderNow()
		if buf.body.Len() > 0 {
			_, _ = original.Write(buf.body.Bytes())
		}
	}
}
