// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"context"
	"errors"

	"github.com/careos/careos/services/datatypes"
)

// MultiStore writes every entry to all of its stores. A failing store does
// not stop the others; the failures are joined into the returned error.
type MultiStore []Store

// AppendAuditEntry implements Store.
func (m MultiStore) AppendAuditEntry(ctx context.Context, entry datatypes.AuditLogEntry) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.AppendAuditEntry(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
