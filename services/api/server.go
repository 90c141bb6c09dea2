// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api assembles the CareOS HTTP server: gin engine, otelgin
// tracing, request metrics, routes, and graceful shutdown.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/careos/careos/services/api/handlers"
	"github.com/careos/careos/services/api/middleware"
	"github.com/careos/careos/services/api/routes"
)

// ServiceName is the otelgin server name.
const ServiceName = "careos-api"

// Config configures the HTTP listener.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the CareOS HTTP API.
//
// # Thread Safety
//
// Run may be called once. Handler is safe to use concurrently.
type Server struct {
	cfg    Config
	engine *gin.Engine
	logger *slog.Logger
}

// NewServer builds the engine and registers all routes.
//
// # Inputs
//
//   - cfg: Listener settings.
//   - h: Endpoint handlers.
//   - rc: Auth providers, content guard and the /metrics handler.
//   - requests: Optional request counter (nil disables).
func NewServer(cfg Config, h *handlers.Handlers, rc routes.Config, requests middleware.RequestRecorder) *Server {
	logger := rc.Logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(ServiceName))
	if requests != nil {
		engine.Use(middleware.RequestMetrics(requests))
	}
	engine.Use(requestLogger(logger))
	routes.SetupRoutes(engine, h, rc)

	return &Server{cfg: cfg, engine: engine, logger: logger}
}

// Handler exposes the engine, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully within
// ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting CareOS API", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", s.cfg.Addr, err)
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.logger.Info("Shutting down CareOS API")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// requestLogger logs one line per request at debug level, and at warn
// level for server errors.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "HTTP request",
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds())
	}
}
