// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/execguard/agent/pkg/api/models"
	"github.com/execguard/agent/pkg/policy"
	"github.com/execguard/agent/pkg/rule"
	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

// ModuleStatusProvider reports whether an enforcement module is attached.
type ModuleStatusProvider interface {
	Name() string
	Loaded(ctx context.Context) (bool, error)
}

// HealthHandler handles health check requests
type HealthHandler struct {
	store   policy.Manager
	modules []ModuleStatusProvider
	version string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(store policy.Manager, modules []ModuleStatusProvider, version string) *HealthHandler {
	return &HealthHandler{
		store:   store,
		modules: modules,
		version: version,
	}
}

// GetHealth handles GET /api/v1/health
// Simple health check endpoint
func (h *HealthHandler) GetHealth(c *gin.Context) {
	response := models.HealthResponse{
		Status:  "ok",
		Message: "API server is healthy",
	}

	c.JSON(http.StatusOK, response)
}

// GetStatus handles GET /api/v1/status
// Detailed status endpoint with module load state and rule counts
func (h *HealthHandler) GetStatus(c *gin.Context) {
	ctx := c.Request.Context()
	overallStatus := "ok"

	modules := make([]models.ModuleStatus, 0, len(h.modules))
	for _, m := range h.modules {
		status := models.ModuleStatus{Name: m.Name(), Status: "unloaded"}
		loaded, err := m.Loaded(ctx)
		switch {
		case err != nil:
			status.Status = "error"
			status.Message = err.Error()
			overallStatus = "degraded"
		case loaded:
			status.Status = "loaded"
		default:
			overallStatus = "degraded"
		}
		modules = append(modules, status)
	}

	var counts models.RuleCounts
	if h.store != nil {
		rules, err := h.store.GetRules(ctx)
		if err != nil {
			overallStatus = "degraded"
		}
		counts = countRules(rules)
	}

	response := models.StatusResponse{
		Status:  overallStatus,
		Version: h.version,
		Modules: modules,
		Rules:   counts,
		Uptime:  int64(time.Since(startTime).Seconds()),
	}

	c.JSON(http.StatusOK, response)
}

func countRules(rules []rule.WithID) models.RuleCounts {
	counts := models.RuleCounts{Total: len(rules)}
	for _, r := range rules {
		if r.Rule.IsActive {
			counts.Active++
		}
	}
	counts.Inactive = counts.Total - counts.Active
	return counts
}
