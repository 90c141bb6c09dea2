// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads CareOS runtime configuration.
//
// # Description
//
// Values come from three layers, later layers winning:
//
//  1. DefaultConfig()
//  2. A YAML file (optional; a missing file is not an error)
//  3. Environment variables (CAREOS_*, plus DEVIATION_THRESHOLD_PERCENT and
//     DEVIATION_LOOKBACK_DAYS)
//
// The result is validated before it is returned.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/careos/careos/pkg/extensions"
	"github.com/careos/careos/pkg/logging"
	"github.com/careos/careos/services/alerts"
	"github.com/careos/careos/services/deviation"
	"github.com/careos/careos/services/messaging"
	"github.com/careos/careos/services/observability"
	"github.com/careos/careos/services/scheduler"
)

// Storage backends.
const (
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Notifier kinds.
const (
	NotifierLog  = "log"
	NotifierNATS = "nats"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// =============================================================================
// Sections
// =============================================================================

// Config is the full CareOS configuration.
type Config struct {
	Server    ServerConfig                `yaml:"server"`
	Storage   StorageConfig               `yaml:"storage"`
	Audit     AuditConfig                 `yaml:"audit"`
	Policy    PolicyConfig                `yaml:"policy"`
	Deviation DeviationConfig             `yaml:"deviation"`
	Alerts    alerts.Config               `yaml:"alerts"`
	Scheduler scheduler.Config            `yaml:"scheduler"`
	Messaging MessagingConfig             `yaml:"messaging"`
	Telemetry observability.TracingConfig `yaml:"telemetry"`
	Logging   LoggingConfig               `yaml:"logging"`
	Auth      AuthConfig                  `yaml:"auth"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	// Backend is "badger" or "memory".
	Backend string `yaml:"backend"`

	// Path is the badger data directory. Supports ~.
	Path string `yaml:"path"`

	// InMemory runs badger without touching disk.
	InMemory bool `yaml:"in_memory"`
}

// AuditConfig configures the secondary tamper-evident audit log.
type AuditConfig struct {
	// ChainFile, when set, mirrors every audit entry to a hash-chained
	// JSON-lines file. Supports ~.
	ChainFile string `yaml:"chain_file"`
}

// PolicyConfig configures the content policy filter.
type PolicyConfig struct {
	// ExtraRulesPath is an optional YAML rule file merged over the
	// built-in table.
	ExtraRulesPath string `yaml:"extra_rules_path"`

	// Watch reloads ExtraRulesPath when it changes.
	Watch bool `yaml:"watch"`
}

// DeviationConfig configures the detector.
type DeviationConfig struct {
	LookbackDays int                  `yaml:"lookback_days"`
	Concurrency  int                  `yaml:"concurrency"`
	Thresholds   deviation.Thresholds `yaml:"thresholds"`
}

// DetectorConfig converts to deviation.Config.
func (d DeviationConfig) DetectorConfig() deviation.Config {
	return deviation.Config{
		LookbackDays: d.LookbackDays,
		Concurrency:  d.Concurrency,
		Thresholds:   d.Thresholds,
	}
}

// MessagingConfig selects the notifier.
type MessagingConfig struct {
	// Kind is "log" or "nats".
	Kind string                `yaml:"kind"`
	NATS messaging.NATSConfig `yaml:"nats"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// LoggerConfig converts to logging.Config. The level has already been
// checked by Validate.
func (l LoggingConfig) LoggerConfig(service string) logging.Config {
	level, _ := logging.ParseLevel(l.Level)
	return logging.Config{
		Level:   level,
		LogDir:  l.Dir,
		Service: service,
		JSON:    l.JSON,
	}
}

// AuthConfig configures API authentication. With no tokens the API runs
// unauthenticated as a local administrator.
type AuthConfig struct {
	Tokens []extensions.TokenEntry `yaml:"tokens"`

	// EnforceRoles turns on the role table for API actions.
	EnforceRoles bool `yaml:"enforce_roles"`
}

// =============================================================================
// Defaults and Loading
// =============================================================================

// DefaultConfig returns a configuration suitable for a local install.
func DefaultConfig() Config {
	dcfg := deviation.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Backend: BackendBadger,
			Path:    "~/.careos/data",
		},
		Deviation: DeviationConfig{
			LookbackDays: dcfg.LookbackDays,
			Concurrency:  dcfg.Concurrency,
			Thresholds:   dcfg.Thresholds,
		},
		Alerts:    alerts.DefaultConfig(),
		Scheduler: scheduler.DefaultConfig(),
		Messaging: MessagingConfig{
			Kind: NotifierLog,
			NATS: messaging.NATSConfig{
				SubjectPrefix: messaging.DefaultSubjectPrefix,
				Name:          "careos",
				MaxReconnects: 60,
				ReconnectWait: 2 * time.Second,
			},
		},
		Telemetry: observability.DefaultTracingConfig(),
		Logging:   LoggingConfig{Level: "info"},
	}
}

// Load builds a Config from defaults, the optional file at path, and the
// environment.
//
// # Inputs
//
//   - path: YAML file. Empty or missing means defaults only.
//
// # Outputs
//
//   - Config: The merged configuration. Returned even on validation error
//     so callers can report what was loaded.
//   - error: File read or parse failure, a malformed environment value, or
//     ErrInvalidConfig.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadFile(expandHome(path), &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("load config env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides cfg from the environment. Malformed numbers are errors
// rather than silently ignored.
func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"CAREOS_SERVER_ADDR":     &cfg.Server.Addr,
		"CAREOS_STORAGE_BACKEND": &cfg.Storage.Backend,
		"CAREOS_STORAGE_PATH":    &cfg.Storage.Path,
		"CAREOS_AUDIT_CHAIN":     &cfg.Audit.ChainFile,
		"CAREOS_POLICY_RULES":    &cfg.Policy.ExtraRulesPath,
		"CAREOS_NOTIFIER":        &cfg.Messaging.Kind,
		"CAREOS_NATS_URL":        &cfg.Messaging.NATS.URL,
		"CAREOS_LOG_LEVEL":       &cfg.Logging.Level,
		"CAREOS_LOG_DIR":         &cfg.Logging.Dir,
		"CAREOS_TRACE_EXPORTER":  &cfg.Telemetry.Exporter,
		"CAREOS_OTLP_ENDPOINT":   &cfg.Telemetry.OTLPEndpoint,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("CAREOS_LOG_JSON"); v != "" {
		cfg.Logging.JSON = v == "true" || v == "1"
	}

	if v := os.Getenv("DEVIATION_THRESHOLD_PERCENT"); v != "" {
		pct, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("DEVIATION_THRESHOLD_PERCENT: %w", err)
		}
		cfg.Deviation.Thresholds.RelativeChange = pct / 100
	}
	if v := os.Getenv("DEVIATION_LOOKBACK_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DEVIATION_LOOKBACK_DAYS: %w", err)
		}
		cfg.Deviation.LookbackDays = days
	}
	if v := os.Getenv("CAREOS_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CAREOS_SWEEP_INTERVAL: %w", err)
		}
		cfg.Scheduler.SweepInterval = d
	}
	return nil
}

// Validate reports every problem found, joined, each wrapping
// ErrInvalidConfig.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Server.Addr == "" {
		bad("server.addr is required")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendBadger:
		if c.Storage.Path == "" && !c.Storage.InMemory {
			bad("storage.path is required for the badger backend")
		}
	default:
		bad("storage.backend must be %q or %q, got %q", BackendBadger, BackendMemory, c.Storage.Backend)
	}
	if c.Policy.Watch && c.Policy.ExtraRulesPath == "" {
		bad("policy.watch requires policy.extra_rules_path")
	}
	if c.Deviation.LookbackDays < 1 {
		bad("deviation.lookback_days must be >= 1")
	}
	if c.Deviation.Concurrency < 1 {
		bad("deviation.concurrency must be >= 1")
	}
	if err := c.Deviation.Thresholds.Validate(); err != nil {
		bad("deviation.thresholds: %v", err)
	}
	if c.Alerts.RatePerSecond < 0 {
		bad("alerts.rate_per_second must be >= 0")
	}
	if c.Scheduler.SweepInterval < 0 || c.Scheduler.DispatchInterval < 0 {
		bad("scheduler intervals must be >= 0")
	}
	switch c.Messaging.Kind {
	case NotifierLog, NotifierNATS:
	default:
		bad("messaging.kind must be %q or %q, got %q", NotifierLog, NotifierNATS, c.Messaging.Kind)
	}
	switch c.Telemetry.Exporter {
	case "", observability.ExporterNone, observability.ExporterStdout, observability.ExporterOTLP:
	default:
		bad("telemetry.exporter %q is not supported", c.Telemetry.Exporter)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		bad("telemetry.sample_ratio must be between 0 and 1")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		bad("logging.level: %v", err)
	}
	if c.Auth.EnforceRoles && len(c.Auth.Tokens) == 0 {
		bad("auth.enforce_roles requires auth.tokens")
	}
	return errors.Join(errs...)
}

// StoragePath returns Storage.Path with ~ expanded.
func (c Config) StoragePath() string {
	return expandHome(c.Storage.Path)
}

// ChainFilePath returns Audit.ChainFile with ~ expanded.
func (c Config) ChainFilePath() string {
	return expandHome(c.Audit.ChainFile)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
