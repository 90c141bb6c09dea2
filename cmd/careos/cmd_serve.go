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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/careos/careos/services/observability"
)

// runServe runs the API and the scheduler until SIGINT or SIGTERM.
func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := appLogger.Slog()

	shutdownTracing, err := observability.InitTracing(ctx, appConfig.Telemetry)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("Tracing shutdown failed", "error", err)
		}
	}()

	a, err := newApp(appConfig, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			logger.Warn("Shutdown completed with errors", "error", err)
		}
	}()

	if a.watcher != nil {
		go a.watcher.Start(ctx)
	}
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	logger.Info("CareOS started",
		"addr", appConfig.Server.Addr,
		"storage", appConfig.Storage.Backend,
		"notifier", appConfig.Messaging.Kind,
		"auth_tokens", len(appConfig.Auth.Tokens))

	return a.server.Run(ctx)
}
