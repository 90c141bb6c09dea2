// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careos/careos/pkg/extensions"
	"github.com/careos/careos/services/audit"
	"github.com/careos/careos/services/datatypes"
	"github.com/careos/careos/services/policy_engine"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

// mockAuthProvider is a configurable mock for testing.
type mockAuthProvider struct {
	authInfo *extensions.AuthInfo
	err      error
	gotToken string
}

func (m *mockAuthProvider) Validate(_ context.Context, token string) (*extensions.AuthInfo, error) {
	m.gotToken = token
	if m.err != nil {
		return nil, m.err
	}
	return m.authInfo, nil
}

type recordedRequest struct {
	route, method string
	code          int
}

type fakeRequestRecorder struct {
	mu   sync.Mutex
	reqs []recordedRequest
}

func (f *fakeRequestRecorder) RecordHTTPRequest(route, method string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, recordedRequest{route, method, code})
}

type entryStore struct {
	entries []datatypes.AuditLogEntry
}

func (s *entryStore) AppendAuditEntry(_ context.Context, e datatypes.AuditLogEntry) error {
	s.entries = append(s.entries, e)
	return nil
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// =============================================================================
// extractBearerToken Tests
// =============================================================================

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid", "Bearer abc123", "abc123"},
		{"lowercase scheme", "bearer abc123", "abc123"},
		{"missing", "", ""},
		{"no scheme", "abc123", ""},
		{"basic auth", "Basic abc123", ""},
		{"empty bearer", "Bearer ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, extractBearerToken(c))
		})
	}
}

// =============================================================================
// AuthMiddleware / RequireAction Tests
// =============================================================================

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		provider *mockAuthProvider
		wantCode int
		wantUser string
	}{
		{
			name:     "valid token",
			provider: &mockAuthProvider{authInfo: &extensions.AuthInfo{UserID: "emp-1"}},
			wantCode: http.StatusOK,
			wantUser: "emp-1",
		},
		{
			name:     "unauthorized",
			provider: &mockAuthProvider{err: extensions.ErrUnauthorized},
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "provider failure",
			provider: &mockAuthProvider{err: errors.New("directory down")},
			wantCode: http.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(AuthMiddleware(tt.provider))
			var seen string
			r.GET("/", func(c *gin.Context) {
				seen = GetAuthInfo(c).UserID
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer tok")
			w := serve(r, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantUser, seen)
			assert.Equal(t, "tok", tt.provider.gotToken)
		})
	}
}

func TestGetAuthInfo_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, GetAuthInfo(c))
	c.Set(authInfoKey, "not auth info")
	assert.Nil(t, GetAuthInfo(c))
}

func TestRequireAction(t *testing.T) {
	authz := extensions.NewRoleAuthzProvider(nil)
	tests := []struct {
		name     string
		info     *extensions.AuthInfo
		wantCode int
	}{
		{"admin allowed", &extensions.AuthInfo{UserID: "a", Roles: []string{extensions.RoleAdmin}}, http.StatusOK},
		{"employee forbidden", &extensions.AuthInfo{UserID: "e", Roles: []string{extensions.RoleEmployee}}, http.StatusForbidden},
		{"no caller", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(func(c *gin.Context) {
				if tt.info != nil {
					SetAuthInfo(c, tt.info)
				}
			})
			r.POST("/sweep", RequireAction(authz, extensions.ActionAdminSweep), func(c *gin.Context) {
				c.Status(http.StatusOK)
			})
			w := serve(r, httptest.NewRequest(http.MethodPost, "/sweep", nil))
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestClientInfo_ReachesAuditEntries(t *testing.T) {
	store := &entryStore{}
	rec := audit.NewRecorder(store)

	r := gin.New()
	r.Use(ClientInfo())
	r.GET("/", func(c *gin.Context) {
		rec.RecordDataAccess(c.Request.Context(), "mgr-1", "emp-1", "checkins", true)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	req.Header.Set("User-Agent", "careos-test")
	serve(r, req)

	require.Len(t, store.entries, 1)
	assert.Equal(t, "10.1.2.3", store.entries[0].IPAddress)
	assert.Equal(t, "careos-test", store.entries[0].UserAgent)
}

// =============================================================================
// ContentGuard Tests
// =============================================================================

func newGuardRouter(t *testing.T, status int, body any) *gin.Engine {
	t.Helper()
	engine, err := policy_engine.NewPolicyEngine()
	require.NoError(t, err)

	r := gin.New()
	r.Use(ContentGuard(engine, nil))
	r.GET("/out", func(c *gin.Context) {
		c.Header("X-Trace", "abc")
		c.JSON(status, body)
	})
	return r
}

func TestContentGuard_PassesCleanResponse(t *testing.T) {
	r := newGuardRouter(t, http.StatusCreated, gin.H{"insights": []string{"Team mood is within normal range."}})
	w := serve(r, httptest.NewRequest(http.MethodGet, "/out", nil))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "abc", w.Header().Get("X-Trace"))
	assert.JSONEq(t, `{"insights":["Team mood is within normal range."]}`, w.Body.String())
}

func TestContentGuard_BlocksViolatingResponse(t *testing.T) {
	r := newGuardRouter(t, http.StatusOK, gin.H{"recommendations": []string{"Consider a performance improvement plan."}})
	w := serve(r, httptest.NewRequest(http.MethodGet, "/out", nil))

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var got policy_engine.ContentViolation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Content Violation", got.Error)
	assert.Equal(t, "Response blocked by ethical guardrails", got.Message)
	assert.Equal(t, "Content contains prohibited disciplinary language", got.Details)
	assert.Contains(t, got.Categories, policy_engine.CategoryDisciplinary)
}

func TestContentGuard_SkipsErrorResponses(t *testing.T) {
	r := newGuardRouter(t, http.StatusBadRequest, gin.H{"error": "Policy Violation", "message": "cannot terminate anyone"})
	w := serve(r, httptest.NewRequest(http.MethodGet, "/out", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Policy Violation")
}

// =============================================================================
// RequestMetrics Tests
// =============================================================================

func TestRequestMetrics(t *testing.T) {
	rec := &fakeRequestRecorder{}
	r := gin.New()
	r.Use(RequestMetrics(rec))
	r.GET("/v1/users/:userId/checkins", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	serve(r, httptest.NewRequest(http.MethodGet, "/v1/users/emp-1/checkins", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	require.Len(t, rec.reqs, 2)
	assert.Equal(t, recordedRequest{"/v1/users/:userId/checkins", http.MethodGet, http.StatusTeapot}, rec.reqs[0])
	assert.Equal(t, recordedRequest{"unmatched", http.MethodGet, http.StatusNotFound}, rec.reqs[1])
}
