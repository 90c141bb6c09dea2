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
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/careos/careos/pkg/config"
	"github.com/careos/careos/pkg/extensions"
	"github.com/careos/careos/services/alerts"
	"github.com/careos/careos/services/api"
	"github.com/careos/careos/services/api/handlers"
	"github.com/careos/careos/services/api/routes"
	"github.com/careos/careos/services/audit"
	"github.com/careos/careos/services/checkin"
	"github.com/careos/careos/services/deviation"
	"github.com/careos/careos/services/insights"
	"github.com/careos/careos/services/messaging"
	"github.com/careos/careos/services/observability"
	"github.com/careos/careos/services/policy_engine"
	"github.com/careos/careos/services/scheduler"
	"github.com/careos/careos/services/storage"
	badgerstore "github.com/careos/careos/services/storage/badger"
	"github.com/careos/careos/services/storage/memory"
)

// =============================================================================
// Application Wiring
// =============================================================================

// app holds every long-lived component built from one Config.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	store     storage.Store
	engine    *policy_engine.PolicyEngine
	watcher   *policy_engine.RuleWatcher
	scheduler *scheduler.Scheduler
	hub       *messaging.WebSocketHub
	server    *api.Server

	closers []io.Closer
}

// newApp builds the storage backend, guardrail engine, deviation pipeline
// and HTTP server.
//
// # Description
//
// Components are built bottom-up. If any step fails, everything opened so
// far is closed before the error is returned.
//
// # Inputs
//
//   - cfg: Validated configuration.
//   - logger: Base logger. Each component gets a "component" attribute.
//
// # Outputs
//
//   - *app: Ready to serve or to run one-shot jobs. Call close when done.
//   - error: Non-nil if a backend could not be opened.
func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	if err := a.build(); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) build() (err error) {
	cfg, logger := a.cfg, a.logger

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(a.registry)

	if a.store, err = openStore(cfg, logger); err != nil {
		return err
	}
	a.closers = append(a.closers, a.store)

	auditStore := audit.Store(a.store)
	if path := cfg.ChainFilePath(); path != "" {
		chain, err := audit.OpenChainFile(path, logger.With("component", "audit_chain"))
		if err != nil {
			return fmt.Errorf("open audit chain: %w", err)
		}
		a.closers = append(a.closers, chain)
		auditStore = audit.MultiStore{a.store, chain}
	}
	recorder := audit.NewRecorder(auditStore,
		audit.WithMetrics(metrics),
		audit.WithLogger(logger.With("component", "audit")))

	a.engine, err = policy_engine.NewPolicyEngine(
		policy_engine.WithMetrics(metrics),
		policy_engine.WithLogger(logger.With("component", "policy_engine")))
	if err != nil {
		return fmt.Errorf("init policy engine: %w", err)
	}
	if path := cfg.Policy.ExtraRulesPath; path != "" {
		if err := a.engine.LoadExtraRulesFile(path); err != nil {
			return fmt.Errorf("load extra policy rules: %w", err)
		}
		if cfg.Policy.Watch {
			a.watcher, err = policy_engine.NewRuleWatcher(a.engine, path,
				logger.With("component", "policy_watcher"))
			if err != nil {
				return fmt.Errorf("watch extra policy rules: %w", err)
			}
		}
	}

	detector, err := deviation.NewDetector(a.store, cfg.Deviation.DetectorConfig(),
		deviation.WithMetrics(metrics),
		deviation.WithLogger(logger.With("component", "deviation")))
	if err != nil {
		return fmt.Errorf("init deviation detector: %w", err)
	}

	notifier, err := openNotifier(cfg, logger)
	if err != nil {
		return err
	}
	if c, ok := notifier.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	// Managers holding GET /v1/alerts/stream also get alerts pushed live.
	a.hub = messaging.NewWebSocketHub(logger.With("component", "alert-stream"), nil)
	a.closers = append(a.closers, a.hub)
	dispatcher, err := alerts.NewDispatcher(a.store, messaging.NewFanout(notifier, logger, a.hub), cfg.Alerts,
		alerts.WithMetrics(metrics),
		alerts.WithLogger(logger.With("component", "alerts")))
	if err != nil {
		return fmt.Errorf("init alert dispatcher: %w", err)
	}

	a.scheduler, err = scheduler.New(detector, dispatcher, cfg.Scheduler,
		scheduler.WithMetrics(metrics),
		scheduler.WithLogger(logger.With("component", "scheduler")))
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	checkIns, err := checkin.NewService(a.store, recorder,
		checkin.WithAnalyzer(detector),
		checkin.WithLogger(logger.With("component", "checkin")))
	if err != nil {
		return fmt.Errorf("init check-in service: %w", err)
	}
	generator, err := insights.NewGenerator(a.engine, a.store, recorder,
		insights.WithInsightStore(a.store),
		insights.WithMetrics(metrics),
		insights.WithLogger(logger.With("component", "insights")))
	if err != nil {
		return fmt.Errorf("init insight generator: %w", err)
	}

	h, err := handlers.New(handlers.Deps{
		Store:       a.store,
		CheckIns:    checkIns,
		Insights:    generator,
		Jobs:        a.scheduler,
		Audit:       recorder,
		AlertStream: a.hub,
		Logger:      logger.With("component", "api"),
	})
	if err != nil {
		return fmt.Errorf("init handlers: %w", err)
	}

	opts, err := serviceOptions(cfg.Auth)
	if err != nil {
		return err
	}
	a.server = api.NewServer(api.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, h, routes.Config{
		Options: opts,
		Guard:   a.engine,
		Metrics: promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
		Logger:  logger.With("component", "http"),
	}, metrics)

	return nil
}

// close releases every opened backend in reverse order.
func (a *app) close() error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	var errs []error
	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			errs = append(errs, err)
		}
		a.watcher = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openStore(cfg config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		logger.Info("Using in-memory map storage; data is lost on exit")
		return memory.New(), nil
	default:
		bcfg := badgerstore.DefaultConfig()
		if cfg.Storage.InMemory {
			bcfg = badgerstore.InMemoryConfig()
		} else {
			bcfg.Path = cfg.StoragePath()
		}
		bcfg.Logger = logger.With("component", "badger")
		store, err := badgerstore.NewStore(bcfg)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		logger.Info("Opened badger storage", "path", bcfg.Path, "in_memory", bcfg.InMemory)
		return store, nil
	}
}

func openNotifier(cfg config.Config, logger *slog.Logger) (messaging.Notifier, error) {
	switch cfg.Messaging.Kind {
	case config.NotifierNATS:
		n, err := messaging.DialNATS(cfg.Messaging.NATS, logger.With("component", "nats"))
		if err != nil {
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		return n, nil
	default:
		return messaging.NewLogNotifier(logger.With("component", "notifier")), nil
	}
}

// serviceOptions picks the auth providers. Without configured tokens every
// request runs as the local admin user, which suits a single-user demo.
func serviceOptions(cfg config.AuthConfig) (extensions.ServiceOptions, error) {
	opts := extensions.DefaultOptions()
	if len(cfg.Tokens) > 0 {
		auth, err := extensions.NewStaticTokenAuthProvider(cfg.Tokens)
		if err != nil {
			return opts, fmt.Errorf("load auth tokens: %w", err)
		}
		opts = opts.WithAuth(auth)
	}
	if cfg.EnforceRoles {
		opts = opts.WithAuthz(extensions.NewRoleAuthzProvider(nil))
	}
	return opts, nil
}
