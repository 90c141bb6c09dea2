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

// Role is a user's organisational role.
type Role string

const (
	RoleEmployee  Role = "EMPLOYEE"
	RoleManager   Role = "MANAGER"
	RoleExecutive Role = "EXECUTIVE"
	RoleAdmin     Role = "ADMIN"
)

// PlatformType is the chat platform a user is reachable on.
type PlatformType string

const (
	PlatformSlack PlatformType = "slack"
	PlatformTeams PlatformType = "teams"
	PlatformAPI   PlatformType = "api"
)

// User is a member of the organisation.
type User struct {
	ID           string       `json:"id" validate:"required"`
	DisplayName  string       `json:"displayName"`
	Email        string       `json:"email,omitempty" validate:"omitempty,email"`
	Role         Role         `json:"role" validate:"required,oneof=EMPLOYEE MANAGER EXECUTIVE ADMIN"`
	ManagerID    string       `json:"managerId,omitempty"`
	PlatformType PlatformType `json:"platformType" validate:"omitempty,oneof=slack teams api"`
	PlatformID   string       `json:"platformId,omitempty"`
}

// Validate checks the user against its struct tags.
func (u *User) Validate() error {
	return validateStruct(u)
}

// Identity returns where the user can be messaged.
func (u *User) Identity() PlatformIdentity {
	return PlatformIdentity{
		UserID:       u.ID,
		PlatformType: u.PlatformType,
		PlatformID:   u.PlatformID,
	}
}

// PlatformIdentity addresses a notification recipient.
type PlatformIdentity struct {
	UserID       string       `json:"userId"`
	PlatformType PlatformType `json:"platformType"`
	PlatformID   string       `json:"platformId"`
}

// PrivacySettings holds a user's consent choices.
//
// A missing record means the defaults from DefaultPrivacySettings apply.
type PrivacySettings struct {
	UserID            string     `json:"userId"`
	AllowAIAnalysis   bool       `json:"allowAIAnalysis"`
	DefaultVisibility Visibility `json:"defaultVisibility"`
}

// DefaultPrivacySettings returns the settings assumed for a user with no record.
func DefaultPrivacySettings(userID string) PrivacySettings {
	return PrivacySettings{
		UserID:            userID,
		AllowAIAnalysis:   false,
		DefaultVisibility: VisibilityManager,
	}
}
