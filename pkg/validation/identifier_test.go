// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		// Valid identifiers
		{"simple", "emp-1", false},
		{"uuid", "3f2b8c1e-9a4d-4e57-8d0b-2c6f1a7e9b31", false},
		{"email", "jane.doe@example.com", false},
		{"slack id", "U01ABCDEF", false},
		{"colon", "team:mgr-1", false},
		{"max length", strings.Repeat("a", MaxIdentifierLength), false},

		// Invalid identifiers
		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxIdentifierLength+1), true},
		{"key separator", "emp-1/../admin", true},
		{"newline", "emp-1\nadmin", true},
		{"space", "emp 1", true},
		{"starts with dot", ".emp", true},
		{"starts with hyphen", "-emp", true},
		{"unicode", "emp™", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier("userId", tt.id)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidIdentifier)
				assert.Contains(t, err.Error(), "userId")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateIdentifiers(t *testing.T) {
	tests := []struct {
		name    string
		ids     []string
		wantErr bool
	}{
		{"all valid", []string{"emp-1", "emp-2", "mgr-1"}, false},
		{"one invalid", []string{"emp-1", "bad id", "mgr-1"}, true},
		{"empty slice", []string{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifiers("userId", tt.ids)
			assert.Equal(t, tt.wantErr, err != nil, "error = %v", err)
		})
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	got, err := SanitizeIdentifier("id", "  dev-42 \n")
	require.NoError(t, err)
	assert.Equal(t, "dev-42", got)

	_, err = SanitizeIdentifier("id", "   ")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}
