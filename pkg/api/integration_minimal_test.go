// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package api provides integration tests that drive the full router
// against a real policy store. Tests that need loaded eBPF programs live
// in the end-to-end suite.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/execguard/agent/pkg/api/models"
	"github.com/execguard/agent/pkg/metrics"
	"github.com/execguard/agent/pkg/policy"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test environment for API integration tests
type MinimalTestEnv struct {
	Router *gin.Engine
	Store  *policy.Store
}

// NewMinimalTestEnv creates a test environment backed by an in-memory store
func NewMinimalTestEnv(t *testing.T) *MinimalTestEnv {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	store, err := policy.NewStore(policy.Options{Capacity: 16, Metrics: m})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Stop(context.Background()) })

	cfg := DefaultConfig()
	cfg.EnableCORS = true
	server, err := NewAPIServer(cfg, Deps{
		Store:    store,
		Gatherer: reg,
		Metrics:  m,
		Version:  "test",
	})
	require.NoError(t, err)
	gin.SetMode(gin.TestMode)

	return &MinimalTestEnv{
		Router: server.GetRouter(),
		Store:  store,
	}
}

func programBody(name string, inode uint64) models.RuleRequest {
	return models.RuleRequest{
		Name: name,
		Module: models.ModuleRequest{
			Type:   "program_monitor",
			Action: models.ActionRequest{Type: "block_program_execution", Inode: inode},
		},
	}
}

// TestIntegration_API_Health tests the health endpoint integration
func TestIntegration_API_Health(t *testing.T) {
	env := NewMinimalTestEnv(t)

	w := performRequest(env.Router, "GET", "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var response models.HealthResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "ok", response.Status)
}

// TestIntegration_API_RuleLifecycle tests add, duplicate, disable and remove
func TestIntegration_API_RuleLifecycle(t *testing.T) {
	env := NewMinimalTestEnv(t)

	w := performRequest(env.Router, "POST", "/api/v1/rules", programBody("deny", 42))
	require.Equal(t, http.StatusCreated, w.Code)
	var created models.RuleResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, uint64(0), created.ID)

	w = performRequest(env.Router, "POST", "/api/v1/rules", programBody("deny", 42))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = performRequest(env.Router, "POST", "/api/v1/rules/0/disable", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rules, err := env.Store.GetRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.False(t, rules[0].Rule.IsActive)

	w = performRequest(env.Router, "GET", "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.RuleStatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Inactive)

	w = performRequest(env.Router, "DELETE", "/api/v1/rules/0", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = performRequest(env.Router, "DELETE", "/api/v1/rules/0", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestIntegration_API_StoreStopped tests that a stopped store yields 503
func TestIntegration_API_StoreStopped(t *testing.T) {
	env := NewMinimalTestEnv(t)
	require.NoError(t, env.Store.Stop(context.Background()))

	w := performRequest(env.Router, "GET", "/api/v1/rules", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// TestIntegration_API_Metrics tests the Prometheus endpoint
func TestIntegration_API_Metrics(t *testing.T) {
	env := NewMinimalTestEnv(t)

	w := performRequest(env.Router, "POST", "/api/v1/rules", programBody("deny", 7))
	require.Equal(t, http.StatusCreated, w.Code)

	w = performRequest(env.Router, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, "execguard_"), "metrics body lacks execguard series")
}

// TestIntegration_API_CORS tests the preflight short-circuit
func TestIntegration_API_CORS(t *testing.T) {
	env := NewMinimalTestEnv(t)

	w := performRequest(env.Router, "OPTIONS", "/api/v1/rules", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewAPIServer_RequiresStore(t *testing.T) {
	_, err := NewAPIServer(nil, Deps{})
	assert.Error(t, err)
}

// Helper function to perform HTTP requests
func performRequest(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var bodyReader io.Reader
	if body != nil {
		jsonData, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonData)
	}

	req, _ := http.NewRequest(method, path, bodyReader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
