// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package messaging delivers platform-agnostic notifications to users.
//
// A Message is a small block document (title, labelled fields, suggested
// actions, footer) that a platform adapter renders for Slack, Teams or a
// plain API consumer. Adapters subscribe to the subjects NATSNotifier
// publishes on; LogNotifier writes the message to the log for demo setups.
package messaging

import (
	"context"
	"errors"

	"github.com/careos/careos/services/datatypes"
)

// ErrNoRecipient is returned when the identity has nowhere to deliver to.
var ErrNoRecipient = errors.New("recipient has no platform identity")

// Field is one labelled line of a message.
type Field struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Message is a platform-agnostic notification.
type Message struct {
	Title   string   `json:"title"`
	Text    string   `json:"text,omitempty"`
	Fields  []Field  `json:"fields,omitempty"`
	Actions []string `json:"actions,omitempty"`
	Footer  string   `json:"footer,omitempty"`
}

// Field returns the value of the first field with the given label.
func (m Message) Field(label string) (string, bool) {
	for _, f := range m.Fields {
		if f.Label == label {
			return f.Value, true
		}
	}
	return "", false
}

// Notifier sends a message to one recipient.
//
// Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, to datatypes.PlatformIdentity, msg Message) error
}

// envelope is the wire form published for platform adapters.
type envelope struct {
	To      datatypes.PlatformIdentity `json:"to"`
	Message Message                    `json:"message"`
}

func checkRecipient(to datatypes.PlatformIdentity) error {
	if to.UserID == "" && to.PlatformID == "" {
		return ErrNoRecipient
	}
	return nil
}
