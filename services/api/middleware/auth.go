// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware holds the gin middleware of the CareOS API:
// authentication, action checks, request metadata, metrics and the
// reporting-mode content guard.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/careos/careos/pkg/extensions"
	"github.com/careos/careos/services/audit"
)

// authInfoKey is the gin context key for the authenticated caller.
const authInfoKey = "careos_auth_info"

// SetAuthInfo stores the authenticated caller on the gin context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the authenticated caller, or nil if AuthMiddleware
// did not run.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// AuthMiddleware validates the bearer token with provider and stores the
// result for downstream handlers.
//
// # Description
//
// Requests without a valid token are aborted with 401. With
// NopAuthProvider every request is accepted as a local administrator.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, extensions.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "unauthorized",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication failed",
			})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// RequireAction aborts with 403 unless authz allows the caller to perform
// action. Must run after AuthMiddleware.
func RequireAction(authz extensions.AuthzProvider, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := authz.Authorize(c.Request.Context(), extensions.AuthzRequest{
			User:   GetAuthInfo(c),
			Action: action,
		})
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, extensions.ErrUnauthorized):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		default:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		}
	}
}

// ClientInfo puts the caller's address and user agent on the request
// context so audit entries written while serving it carry them.
func ClientInfo() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := audit.WithClientInfo(c.Request.Context(), c.ClientIP(), c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// extractBearerToken returns the token of an "Authorization: Bearer <token>"
// header, or "" when absent or malformed.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
