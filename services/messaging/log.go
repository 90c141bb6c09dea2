// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/careos/careos/services/datatypes"
)

// LogNotifier writes notifications to the log instead of a platform.
// It keeps the sent messages so demos and tests can inspect them.
type LogNotifier struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []Sent
}

// Sent is one delivered notification.
type Sent struct {
	To      datatypes.PlatformIdentity
	Message Message
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, to datatypes.PlatformIdentity, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkRecipient(to); err != nil {
		return err
	}
	n.mu.Lock()
	n.sent = append(n.sent, Sent{To: to, Message: msg})
	n.mu.Unlock()

	n.logger.Info("Notification",
		"to_user", to.UserID,
		"platform", to.PlatformType,
		"title", msg.Title,
		"fields", len(msg.Fields))
	return nil
}

// Sent returns a copy of everything delivered so far.
func (n *LogNotifier) Sent() []Sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Sent, len(n.sent))
	copy(out, n.sent)
	return out
}
