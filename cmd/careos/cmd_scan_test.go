// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careos/careos/pkg/config"
	"github.com/careos/careos/services/policy_engine"
)

func TestScan(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		stdin    string
		wantCode int
		wantOut  string
	}{
		{"clean argument", []string{"Consider a check-in about workload balance."}, "", ScanExitClean, "OK: No prohibited language found"},
		{"violation argument", []string{"Put him on a performance improvement plan"}, "", ScanExitViolation, "CATEGORIES: disciplinary"},
		{"stdin with dash", []string{"-"}, "rank employees by output", ScanExitViolation, "CATEGORIES: ranking"},
		{"stdin without args", nil, "Offer a flexible schedule.", ScanExitClean, "OK:"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			code, err := scan(strings.NewReader(tc.stdin), &out, config.PolicyConfig{}, tc.args, false)
			require.NoError(t, err)
			assert.Equal(t, tc.wantCode, code)
			assert.Contains(t, out.String(), tc.wantOut)
		})
	}
}

func TestScan_JSON(t *testing.T) {
	var out bytes.Buffer
	code, err := scan(strings.NewReader(""), &out, config.PolicyConfig{},
		[]string{"We should terminate underperformers"}, true)
	require.NoError(t, err)
	assert.Equal(t, ScanExitViolation, code)

	var report map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, false, report["is_clean"])
	assert.NotEmpty(t, report["message"])
	assert.Contains(t, report["categories"], string(policy_engine.CategoryDisciplinary))

	violations, ok := report["violations"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, violations)
	first := violations[0].(map[string]any)
	assert.NotContains(t, first, "Pattern")
}

func TestScan_ExtraRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path,
		[]byte("rules:\n  - id: PODIUM\n    category: ranking\n    keywords: [podium]\n"), 0o600))

	var out bytes.Buffer
	code, err := scan(nil, &out, config.PolicyConfig{ExtraRulesPath: path}, []string{"who made the podium"}, false)
	require.NoError(t, err)
	assert.Equal(t, ScanExitViolation, code)
	assert.Contains(t, out.String(), "PODIUM")
}

func TestScan_Errors(t *testing.T) {
	var out bytes.Buffer
	code, err := scan(nil, &out, config.PolicyConfig{
		ExtraRulesPath: filepath.Join(t.TempDir(), "missing.yaml"),
	}, []string{"hello"}, false)
	assert.Error(t, err)
	assert.Equal(t, ScanExitError, code)
}
