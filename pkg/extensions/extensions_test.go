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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	info, err := opts.AuthProvider.Validate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "local-user", info.UserID)
	assert.True(t, info.HasRole(RoleAdmin))
	assert.NoError(t, opts.AuthzProvider.Authorize(context.Background(), AuthzRequest{Action: "anything"}))

	custom := opts.WithAuthz(NewRoleAuthzProvider(nil))
	assert.IsType(t, &RoleAuthzProvider{}, custom.AuthzProvider)
	assert.IsType(t, &NopAuthzProvider{}, opts.AuthzProvider, "With* must not mutate the receiver")
}

func TestStaticTokenAuthProvider(t *testing.T) {
	p, err := NewStaticTokenAuthProvider([]TokenEntry{
		{Token: "tok-emp", AuthInfo: AuthInfo{UserID: "emp-1", Roles: []string{RoleEmployee}}},
		{Token: "tok-mgr", AuthInfo: AuthInfo{UserID: "mgr-1", Roles: []string{RoleManager}}},
	})
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantID  string
		wantErr bool
	}{
		{"plain token", "tok-emp", "emp-1", false},
		{"bearer prefix", "Bearer tok-mgr", "mgr-1", false},
		{"unknown", "tok-nope", "", true},
		{"empty", "", "", true},
		{"bearer only", "Bearer ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := p.Validate(context.Background(), tt.token)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrUnauthorized))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, info.UserID)
		})
	}
}

func TestStaticTokenAuthProvider_ReturnsCopies(t *testing.T) {
	p, err := NewStaticTokenAuthProvider([]TokenEntry{
		{Token: "t", AuthInfo: AuthInfo{UserID: "u", Roles: []string{RoleEmployee}}},
	})
	require.NoError(t, err)

	info, err := p.Validate(context.Background(), "t")
	require.NoError(t, err)
	info.Roles[0] = RoleAdmin

	again, err := p.Validate(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, []string{RoleEmployee}, again.Roles)
}

func TestNewStaticTokenAuthProvider_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		entries []TokenEntry
	}{
		{"empty token", []TokenEntry{{AuthInfo: AuthInfo{UserID: "u"}}}},
		{"empty user", []TokenEntry{{Token: "t"}}},
		{"duplicate", []TokenEntry{
			{Token: "t", AuthInfo: AuthInfo{UserID: "a"}},
			{Token: "t", AuthInfo: AuthInfo{UserID: "b"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStaticTokenAuthProvider(tt.entries)
			assert.Error(t, err)
		})
	}
}

func TestRoleAuthzProvider(t *testing.T) {
	p := NewRoleAuthzProvider(nil)
	employee := &AuthInfo{UserID: "e", Roles: []string{RoleEmployee}}
	manager := &AuthInfo{UserID: "m", Roles: []string{RoleManager}}
	admin := &AuthInfo{UserID: "a", Roles: []string{RoleAdmin}}

	tests := []struct {
		name   string
		user   *AuthInfo
		action string
		want   error
	}{
		{"employee submits", employee, ActionCheckInSubmit, nil},
		{"employee cannot resolve", employee, ActionDeviationResolve, ErrForbidden},
		{"manager resolves", manager, ActionDeviationResolve, nil},
		{"manager cannot sweep", manager, ActionAdminSweep, ErrForbidden},
		{"employee cannot stream alerts", employee, ActionAlertStream, ErrForbidden},
		{"manager streams alerts", manager, ActionAlertStream, nil},
		{"admin sweeps", admin, ActionAdminDispatch, nil},
		{"unknown action", admin, "reports:export", ErrForbidden},
		{"no caller", nil, ActionCheckInRead, ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Authorize(context.Background(), AuthzRequest{User: tt.user, Action: tt.action})
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
