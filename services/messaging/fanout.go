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
	"errors"
	"log/slog"

	"github.com/careos/careos/services/datatypes"
)

// Fanout delivers through a primary notifier and mirrors every message to
// best-effort secondaries such as the live alert stream.
//
// Only the primary decides success. A mirror that fails is logged and
// otherwise ignored, so an offline manager does not hold an alert back.
type Fanout struct {
	primary Notifier
	mirrors []Notifier
	logger  *slog.Logger
}

// NewFanout creates a Fanout. Nil mirrors are skipped.
func NewFanout(primary Notifier, logger *slog.Logger, mirrors ...Notifier) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fanout{primary: primary, logger: logger}
	for _, m := range mirrors {
		if m != nil {
			f.mirrors = append(f.mirrors, m)
		}
	}
	return f
}

// Notify implements Notifier.
func (f *Fanout) Notify(ctx context.Context, to datatypes.PlatformIdentity, msg Message) error {
	if err := f.primary.Notify(ctx, to, msg); err != nil {
		return err
	}
	for _, m := range f.mirrors {
		err := m.Notify(ctx, to, msg)
		switch {
		case err == nil:
		case errors.Is(err, ErrNotConnected), errors.Is(err, ErrNoRecipient):
			f.logger.Debug("Mirror skipped", "to_user", to.UserID, "reason", err)
		default:
			f.logger.Warn("Mirror delivery failed", "to_user", to.UserID, "error", err)
		}
	}
	return nil
}
