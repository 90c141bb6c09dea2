// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy_engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleWatcher_ReloadsOnWrite(t *testing.T) {
	engine := newTestEngine(t)
	path := filepath.Join(t.TempDir(), "extra.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules: []\n"), 0o600))
	require.NoError(t, engine.LoadExtraRulesFile(path))

	w, err := NewRuleWatcher(engine, path, nil)
	require.NoError(t, err)
	defer w.Stop()

	reloaded := make(chan error, 16)
	w.onReload = func(err error) { reloaded <- err }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	rules := "rules:\n  - id: PODIUM\n    category: ranking\n    keywords: [podium]\n"
	require.NoError(t, os.WriteFile(path, []byte(rules), 0o600))

	require.Eventually(t, func() bool {
		return !engine.Scan("on the podium").IsClean
	}, 3*time.Second, 20*time.Millisecond)

	// A broken file is rejected and the previous rules stay.
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - id: BAD\n    category: ranking\n    regex: '('\n"), 0o600))
	select {
	case <-reloaded:
	case <-time.After(3 * time.Second):
		t.Fatal("no reload attempt observed")
	}
	time.Sleep(50 * time.Millisecond)
	assert.False(t, engine.Scan("on the podium").IsClean)
	assert.False(t, engine.Scan("punish").IsClean)
}
