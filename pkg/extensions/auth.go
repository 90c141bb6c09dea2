// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrUnauthorized is returned when a request carries no valid credentials.
var ErrUnauthorized = errors.New("unauthorized")

// ErrForbidden is returned when an authenticated caller may not perform an
// action.
var ErrForbidden = errors.New("forbidden")

// Role names carried in AuthInfo.Roles. They mirror datatypes.Role.
const (
	RoleEmployee  = "EMPLOYEE"
	RoleManager   = "MANAGER"
	RoleExecutive = "EXECUTIVE"
	RoleAdmin     = "ADMIN"
)

// Actions checked by the HTTP layer.
const (
	ActionCheckInSubmit    = "checkin:submit"
	ActionCheckInUpdate    = "checkin:update"
	ActionCheckInRead      = "checkin:read"
	ActionInsightGenerate  = "insight:generate"
	ActionInsightReview    = "insight:review"
	ActionDeviationRead    = "deviation:read"
	ActionDeviationResolve = "deviation:resolve"
	ActionAlertStream      = "alert:stream"
	ActionAdminSweep       = "admin:sweep"
	ActionAdminDispatch    = "admin:dispatch"
)

// =============================================================================
// Authentication
// =============================================================================

// AuthInfo describes an authenticated caller.
type AuthInfo struct {
	// UserID is the CareOS user the credentials belong to.
	UserID string `yaml:"user_id" json:"user_id"`

	// Email is informational only.
	Email string `yaml:"email,omitempty" json:"email,omitempty"`

	// Roles granted to the caller. Compared case-sensitively.
	Roles []string `yaml:"roles" json:"roles"`
}

// HasRole reports whether the caller holds role.
func (a *AuthInfo) HasRole(role string) bool {
	return slices.Contains(a.Roles, role)
}

// AuthProvider validates bearer tokens.
//
// # Description
//
// Validate returns the caller's identity or an error wrapping
// ErrUnauthorized. Implementations must be safe for concurrent use.
type AuthProvider interface {
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider accepts every request as a local administrator. It is the
// default for single-user development setups.
type NopAuthProvider struct{}

// Validate implements AuthProvider.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: "local-user",
		Roles:  []string{RoleAdmin},
	}, nil
}

// TokenEntry binds one static bearer token to an identity.
type TokenEntry struct {
	Token    string `yaml:"token" json:"-"`
	AuthInfo `yaml:",inline"`
}

// StaticTokenAuthProvider validates tokens against a fixed table loaded
// from configuration.
//
// # Thread Safety
//
// Immutable after construction.
type StaticTokenAuthProvider struct {
	entries []TokenEntry
}

// NewStaticTokenAuthProvider builds a provider from entries. Empty tokens
// and duplicate tokens are rejected.
func NewStaticTokenAuthProvider(entries []TokenEntry) (*StaticTokenAuthProvider, error) {
	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		if e.Token == "" {
			return nil, fmt.Errorf("token entry %d: empty token", i)
		}
		if e.UserID == "" {
			return nil, fmt.Errorf("token entry %d: empty user_id", i)
		}
		if _, dup := seen[e.Token]; dup {
			return nil, fmt.Errorf("token entry %d: duplicate token", i)
		}
		seen[e.Token] = struct{}{}
	}
	return &StaticTokenAuthProvider{entries: slices.Clone(entries)}, nil
}

// Validate implements AuthProvider. An optional "Bearer " prefix is
// stripped before comparison.
func (p *StaticTokenAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	for _, e := range p.entries {
		if subtle.ConstantTimeCompare([]byte(e.Token), []byte(token)) == 1 {
			info := e.AuthInfo
			info.Roles = slices.Clone(e.Roles)
			return &info, nil
		}
	}
	return nil, fmt.Errorf("%w: unknown token", ErrUnauthorized)
}

// =============================================================================
// Authorization
// =============================================================================

// AuthzRequest is a single authorization question.
type AuthzRequest struct {
	User         *AuthInfo
	Action       string
	ResourceType string
	ResourceID   string
}

// AuthzProvider decides whether a caller may perform an action. A nil
// return means allowed; denials wrap ErrForbidden.
type AuthzProvider interface {
	Authorize(ctx context.Context, req AuthzRequest) error
}

// NopAuthzProvider allows everything.
type NopAuthzProvider struct{}

// Authorize implements AuthzProvider.
func (p *NopAuthzProvider) Authorize(_ context.Context, _ AuthzRequest) error {
	return nil
}

// DefaultActionRoles is the role table used by RoleAuthzProvider when none
// is supplied. Row-level checks (ownership, manager relationship) happen in
// the services; this table only gates whole operations.
func DefaultActionRoles() map[string][]string {
	everyone := []string{RoleEmployee, RoleManager, RoleExecutive, RoleAdmin}
	leaders := []string{RoleManager, RoleExecutive, RoleAdmin}
	return map[string][]string{
		ActionCheckInSubmit:    everyone,
		ActionCheckInUpdate:    everyone,
		ActionCheckInRead:      everyone,
		ActionInsightGenerate:  everyone,
		ActionInsightReview:    leaders,
		ActionDeviationRead:    everyone,
		ActionDeviationResolve: leaders,
		ActionAlertStream:      leaders,
		ActionAdminSweep:       {RoleAdmin},
		ActionAdminDispatch:    {RoleAdmin},
	}
}

// RoleAuthzProvider allows an action when the caller holds any role listed
// for it. Unknown actions are denied.
type RoleAuthzProvider struct {
	table map[string][]string
}

// NewRoleAuthzProvider builds a provider. A nil table uses
// DefaultActionRoles.
func NewRoleAuthzProvider(table map[string][]string) *RoleAuthzProvider {
	if table == nil {
		table = DefaultActionRoles()
	}
	return &RoleAuthzProvider{table: table}
}

// Authorize implements AuthzProvider.
func (p *RoleAuthzProvider) Authorize(_ context.Context, req AuthzRequest) error {
	if req.User == nil {
		return fmt.Errorf("%w: no caller", ErrUnauthorized)
	}
	roles, ok := p.table[req.Action]
	if !ok {
		return fmt.Errorf("%w: unknown action %q", ErrForbidden, req.Action)
	}
	for _, r := range roles {
		if req.User.HasRole(r) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s requires one of %v", ErrForbidden, req.Action, roles)
}

var (
	_ AuthProvider  = (*NopAuthProvider)(nil)
	_ AuthProvider  = (*StaticTokenAuthProvider)(nil)
	_ AuthzProvider = (*NopAuthzProvider)(nil)
	_ AuthzProvider = (*RoleAuthzProvider)(nil)
)
