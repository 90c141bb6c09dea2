// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package alerts

import (
	"fmt"
	"strings"
	"time"

	"github.com/careos/careos/services/advisory"
	"github.com/careos/careos/services/datatypes"
	"github.com/careos/careos/services/messaging"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// AlertTitle heads every deviation alert.
const AlertTitle = "🔔 Wellbeing Check-in Prompt"

// SuggestedActions are attached to every alert. They are fixed and
// supportive; alerts never suggest evaluative or disciplinary steps.
var SuggestedActions = []string{
	"Schedule a private 1:1 conversation",
	"Ask open-ended questions about workload and wellbeing",
	"Offer support resources or adjust workload if needed",
	"This is not a performance issue. Focus on support.",
}

var typeTitles = map[datatypes.DeviationType]string{
	datatypes.DeviationMoodDrop:         "Mood Score Drop",
	datatypes.DeviationSustainedLowMood: "Sustained Low Mood",
	datatypes.DeviationHighWorkload:     "High Workload Reported",
	datatypes.DeviationMissedCheckIns:   "Missed Check-ins",
}

var titleCaser = cases.Title(language.English)

// FormatType returns the human-readable name of a deviation type. Unknown
// types are title-cased from their snake_case name.
func FormatType(t datatypes.DeviationType) string {
	if s, ok := typeTitles[t]; ok {
		return s
	}
	return titleCaser.String(strings.ReplaceAll(string(t), "_", " "))
}

// BuildMessage renders the manager alert for a deviation.
func BuildMessage(dev datatypes.Deviation, subject datatypes.User) messaging.Message {
	name := subject.DisplayName
	if name == "" {
		name = "a team member"
	}
	return messaging.Message{
		Title: AlertTitle,
		Text:  fmt.Sprintf("You have a new wellbeing alert for %s", name),
		Fields: []messaging.Field{
			{Label: "Type", Value: FormatType(dev.Type)},
			{Label: "Severity", Value: string(dev.Severity)},
			{Label: "Details", Value: dev.Description},
			{Label: "Detected", Value: dev.DetectedAt.UTC().Format(time.DateOnly)},
		},
		Actions: append([]string(nil), SuggestedActions...),
		Footer:  advisory.Badge(),
	}
}
