// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes registers the CareOS API on a gin engine.
package routes

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/careos/careos/pkg/extensions"
	"github.com/careos/careos/services/api/handlers"
	"github.com/careos/careos/services/api/middleware"
)

// Config carries what SetupRoutes needs beyond the handlers.
type Config struct {
	Options extensions.ServiceOptions

	// Guard scans AI-output responses in reporting mode.
	Guard middleware.Scanner

	// Metrics serves GET /metrics. Nil leaves the route out.
	Metrics http.Handler

	Logger *slog.Logger
}

// SetupRoutes registers every endpoint. /health and /metrics are public;
// everything under /v1 is authenticated and gated per action.
func SetupRoutes(router *gin.Engine, h *handlers.Handlers, cfg Config) {
	authz := cfg.Options.AuthzProvider
	if authz == nil {
		authz = &extensions.NopAuthzProvider{}
	}
	auth := cfg.Options.AuthProvider
	if auth == nil {
		auth = &extensions.NopAuthProvider{}
	}
	require := func(action string) gin.HandlerFunc {
		return middleware.RequireAction(authz, action)
	}

	router.GET("/health", handlers.HealthCheck)
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.ClientInfo(), middleware.AuthMiddleware(auth))
	{
		v1.POST("/checkins", require(extensions.ActionCheckInSubmit), h.SubmitCheckIn)
		v1.PATCH("/checkins/:id", require(extensions.ActionCheckInUpdate), h.UpdateCheckIn)

		users := v1.Group("/users/:userId")
		{
			users.GET("/checkins", require(extensions.ActionCheckInRead), h.ListCheckIns)
			users.GET("/deviations", require(extensions.ActionDeviationRead), h.ListDeviations)
		}

		// AI-derived output passes the reporting-mode content guard.
		ai := v1.Group("/insights")
		if cfg.Guard != nil {
			ai.Use(middleware.ContentGuard(cfg.Guard, cfg.Logger))
		}
		{
			ai.POST("", require(extensions.ActionInsightGenerate), h.GenerateInsight)
			ai.GET("/:id", require(extensions.ActionInsightGenerate), h.GetInsight)
			ai.POST("/:id/review", require(extensions.ActionInsightReview), h.ReviewInsight)
		}

		v1.POST("/deviations/:id/resolve", require(extensions.ActionDeviationResolve), h.ResolveDeviation)
		v1.GET("/alerts/stream", require(extensions.ActionAlertStream), h.StreamAlerts)

		admin := v1.Group("/admin")
		{
			admin.POST("/sweep", require(extensions.ActionAdminSweep), h.RunSweep)
			admin.POST("/dispatch", require(extensions.ActionAdminDispatch), h.RunDispatch)
		}
	}
}
