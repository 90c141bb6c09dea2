// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package checkin

import "github.com/careos/careos/services/datatypes"

// CanView reports whether viewer may see a check-in belonging to owner.
//
// Owners see everything they submitted. Executives and admins see anything
// not PRIVATE. A direct manager sees MANAGER and PUBLIC. Everyone else sees
// PUBLIC only.
func CanView(c datatypes.CheckIn, viewer, owner datatypes.User) bool {
	if viewer.ID == c.UserID {
		return true
	}
	switch {
	case viewer.Role == datatypes.RoleExecutive || viewer.Role == datatypes.RoleAdmin:
		return c.Visibility != datatypes.VisibilityPrivate
	case viewer.Role == datatypes.RoleManager && owner.ManagerID == viewer.ID:
		return c.Visibility == datatypes.VisibilityManager || c.Visibility == datatypes.VisibilityPublic
	}
	return c.Visibility == datatypes.VisibilityPublic
}
