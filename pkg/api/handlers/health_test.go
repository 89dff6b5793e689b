// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/execguard/agent/pkg/api/models"
	"github.com/execguard/agent/pkg/rule"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupHealthTestRouter creates a test router with health handler
func setupHealthTestRouter(store *MockManager, modules ...ModuleStatusProvider) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	handler := NewHealthHandler(store, modules, "test")

	router.GET("/api/v1/health", handler.GetHealth)
	router.GET("/api/v1/status", handler.GetStatus)

	return router
}

func getStatus(t *testing.T, router *gin.Engine) models.StatusResponse {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var response models.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return response
}

// TestGetHealth_Success tests the basic health check endpoint
func TestGetHealth_Success(t *testing.T) {
	router := setupHealthTestRouter(new(MockManager))

	req, _ := http.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response models.HealthResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, "ok", response.Status)
	assert.Equal(t, "API server is healthy", response.Message)

	// Verify the response is valid JSON
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}

// TestGetStatus_AllLoaded tests status with every module attached
func TestGetStatus_AllLoaded(t *testing.T) {
	store := new(MockManager)
	store.On("GetRules").Return([]rule.WithID{
		{ID: 0, Rule: programRule("a", true, 1)},
		{ID: 1, Rule: programRule("b", false, 2)},
		{ID: 2, Rule: addressRule("c", true, "10.0.0.1")},
	}, nil)

	router := setupHealthTestRouter(store,
		&MockModule{name: "program_monitor", loaded: true},
		&MockModule{name: "network_monitor", loaded: true},
	)

	response := getStatus(t, router)
	assert.Equal(t, "ok", response.Status)
	assert.Equal(t, "test", response.Version)
	require.Len(t, response.Modules, 2)
	assert.Equal(t, "loaded", response.Modules[0].Status)
	assert.Equal(t, models.RuleCounts{Total: 3, Active: 2, Inactive: 1}, response.Rules)
	assert.GreaterOrEqual(t, response.Uptime, int64(0))
}

// TestGetStatus_Degraded tests the degraded conditions
func TestGetStatus_Degraded(t *testing.T) {
	tests := []struct {
		name       string
		module     *MockModule
		storeErr   error
		wantModule string
	}{
		{"module unloaded", &MockModule{name: "program_monitor"}, nil, "unloaded"},
		{"module error", &MockModule{name: "program_monitor", err: errors.New("mailbox closed")}, nil, "error"},
		{"store unavailable", &MockModule{name: "program_monitor", loaded: true}, errors.New("mailbox closed"), "loaded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockManager)
			if tt.storeErr != nil {
				store.On("GetRules").Return(nil, tt.storeErr)
			} else {
				store.On("GetRules").Return([]rule.WithID{}, nil)
			}

			response := getStatus(t, setupHealthTestRouter(store, tt.module))
			assert.Equal(t, "degraded", response.Status)
			assert.Equal(t, tt.wantModule, response.Modules[0].Status)
		})
	}
}
