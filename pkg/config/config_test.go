// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careos/careos/pkg/extensions"
	"github.com/careos/careos/pkg/logging"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "careos.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 14, cfg.Deviation.LookbackDays)
	assert.Equal(t, 0.25, cfg.Deviation.Thresholds.RelativeChange)
	assert.Equal(t, NotifierLog, cfg.Messaging.Kind)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.SweepInterval)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Addr, cfg.Server.Addr)
}

func TestLoad_FileOverridesAndKeepsOtherDefaults(t *testing.T) {
	path := writeFile(t, `
server:
  addr: ":9090"
storage:
  backend: memory
deviation:
  lookback_days: 21
  thresholds:
    relative_change: 0.4
    dedup_window: 72h
scheduler:
  sweep_interval: 6h
messaging:
  kind: nats
  nats:
    url: nats://nats:4222
auth:
  enforce_roles: true
  tokens:
    - token: secret
      user_id: mgr-1
      roles: [MANAGER]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 21, cfg.Deviation.LookbackDays)
	assert.Equal(t, 0.4, cfg.Deviation.Thresholds.RelativeChange)
	assert.Equal(t, 72*time.Hour, cfg.Deviation.Thresholds.DedupWindow)
	assert.Equal(t, 3, cfg.Deviation.Thresholds.MoodRecentCount)
	assert.Equal(t, 6*time.Hour, cfg.Scheduler.SweepInterval)
	assert.Equal(t, "nats://nats:4222", cfg.Messaging.NATS.URL)
	assert.Equal(t, "careos.notify", cfg.Messaging.NATS.SubjectPrefix)
	require.Len(t, cfg.Auth.Tokens, 1)
	assert.Equal(t, extensions.TokenEntry{
		Token:    "secret",
		AuthInfo: extensions.AuthInfo{UserID: "mgr-1", Roles: []string{"MANAGER"}},
	}, cfg.Auth.Tokens[0])

	dc := cfg.Deviation.DetectorConfig()
	assert.Equal(t, 21, dc.LookbackDays)
	assert.Equal(t, 0.4, dc.Thresholds.RelativeChange)
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeFile(t, "server: [unclosed"))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DEVIATION_THRESHOLD_PERCENT", "30")
	t.Setenv("DEVIATION_LOOKBACK_DAYS", "28")
	t.Setenv("CAREOS_STORAGE_BACKEND", "memory")
	t.Setenv("CAREOS_LOG_LEVEL", "debug")
	t.Setenv("CAREOS_LOG_JSON", "1")
	t.Setenv("CAREOS_SWEEP_INTERVAL", "2h")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.InDelta(t, 0.30, cfg.Deviation.Thresholds.RelativeChange, 1e-9)
	assert.Equal(t, 28, cfg.Deviation.LookbackDays)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 2*time.Hour, cfg.Scheduler.SweepInterval)

	lc := cfg.Logging.LoggerConfig("careos")
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.True(t, lc.JSON)
	assert.Equal(t, "careos", lc.Service)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "deviation:\n  lookback_days: 7\n")
	t.Setenv("DEVIATION_LOOKBACK_DAYS", "10")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Deviation.LookbackDays)
}

func TestLoad_MalformedEnv(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"DEVIATION_THRESHOLD_PERCENT", "a lot"},
		{"DEVIATION_LOOKBACK_DAYS", "two weeks"},
		{"CAREOS_SWEEP_INTERVAL", "daily"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"badger without path", func(c *Config) { c.Storage.Path = "" }},
		{"watch without rules", func(c *Config) { c.Policy.Watch = true }},
		{"zero lookback", func(c *Config) { c.Deviation.LookbackDays = 0 }},
		{"zero concurrency", func(c *Config) { c.Deviation.Concurrency = 0 }},
		{"bad thresholds", func(c *Config) { c.Deviation.Thresholds.RelativeChange = 0 }},
		{"negative rate", func(c *Config) { c.Alerts.RatePerSecond = -1 }},
		{"negative interval", func(c *Config) { c.Scheduler.DispatchInterval = -time.Second }},
		{"unknown notifier", func(c *Config) { c.Messaging.Kind = "smtp" }},
		{"unknown exporter", func(c *Config) { c.Telemetry.Exporter = "zipkin" }},
		{"sample ratio", func(c *Config) { c.Telemetry.SampleRatio = 2 }},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"roles without tokens", func(c *Config) { c.Auth.EnforceRoles = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	t.Run("in-memory badger needs no path", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Storage.Path = ""
		cfg.Storage.InMemory = true
		assert.NoError(t, cfg.Validate())
	})
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".careos/data"), expandHome("~/.careos/data"))
	assert.Equal(t, "/var/lib/careos", expandHome("/var/lib/careos"))
	assert.Equal(t, "~other/x", expandHome("~other/x"))
}
