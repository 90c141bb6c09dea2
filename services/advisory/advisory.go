// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package advisory stamps the advisory-only envelope onto AI-derived output.
//
// Every insight that leaves the generator, and every insight read back from
// a store, passes through Enforce. There is no option to turn it off.
package advisory

import (
	"github.com/careos/careos/services/datatypes"
)

const badge = "⚠️ Advisory Only - Human Decision Required"

const disclaimer = "This analysis is provided for advisory purposes only. " +
	"All insights must be reviewed and validated by authorized personnel " +
	"before any action is taken. CareOS does not make decisions; humans do."

// Badge returns the short marker shown next to advisory content in chat.
func Badge() string {
	return badge
}

// Disclaimer returns the fixed advisory disclaimer.
func Disclaimer() string {
	return disclaimer
}

// Enforce returns a copy of resp with the advisory envelope applied.
//
// # Description
//
// IsAdvisoryOnly and RequiresHumanReview are forced to true and the fixed
// disclaimer replaces whatever was there. All other fields, including the
// human review metadata, pass through unchanged.
//
// # Limitations
//
// The returned value does not share slices with resp, so callers may mutate
// either without affecting the other.
//
// # Examples
//
//	out := advisory.Enforce(datatypes.InsightResponse{Metadata: datatypes.InsightMetadata{IsAdvisoryOnly: false}})
//	// out.Metadata.IsAdvisoryOnly == true
func Enforce(resp datatypes.InsightResponse) datatypes.InsightResponse {
	out := resp
	out.Insights = cloneStrings(resp.Insights)
	out.Recommendations = cloneStrings(resp.Recommendations)
	if resp.ReviewedAt != nil {
		t := *resp.ReviewedAt
		out.ReviewedAt = &t
	}

	out.Metadata.IsAdvisoryOnly = true
	out.Metadata.RequiresHumanReview = true
	out.Metadata.Disclaimer = disclaimer
	return out
}

// EnforcePtr applies Enforce in place. A nil pointer is left alone.
func EnforcePtr(resp *datatypes.InsightResponse) {
	if resp == nil {
		return
	}
	*resp = Enforce(*resp)
}

func cloneStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
