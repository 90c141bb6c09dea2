// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// Audit actions written by the core services.
const (
	AuditActionAIRecommendation = "AI_RECOMMENDATION"
	AuditActionDataAccess       = "DATA_ACCESS"
	AuditActionInsightReviewed  = "INSIGHT_REVIEWED"
	AuditActionDeviationResolve = "DEVIATION_RESOLVED"
)

// AuditLogEntry is an append-only record of a sensitive action.
type AuditLogEntry struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Details   map[string]any `json:"details,omitempty"`
	IPAddress string         `json:"ipAddress,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
