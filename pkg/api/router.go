// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package api

import (
	"github.com/execguard/agent/pkg/api/handlers"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Create handlers
	healthHandler := handlers.NewHealthHandler(s.deps.Store, s.deps.Modules, s.deps.Version)
	ruleHandler := handlers.NewRuleHandler(s.deps.Store, s.deps.Resolve)
	statsHandler := handlers.NewStatisticsHandler(s.deps.Store)

	// API v1 group
	v1 := s.router.Group("/api/v1")
	{
		// Health and status endpoints
		v1.GET("/health", healthHandler.GetHealth)
		v1.GET("/status", healthHandler.GetStatus)

		// Rule management endpoints
		rules := v1.Group("/rules")
		{
			rules.POST("", ruleHandler.CreateRule)
			rules.GET("", ruleHandler.ListRules)
			rules.GET("/:id", ruleHandler.GetRule)
			rules.PUT("/:id", ruleHandler.UpdateRule)
			rules.DELETE("/:id", ruleHandler.DeleteRule)
			rules.POST("/:id/enable", ruleHandler.EnableRule)
			rules.POST("/:id/disable", ruleHandler.DisableRule)
		}

		v1.GET("/stats", statsHandler.GetRuleStats)
	}

	if s.deps.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}
}
