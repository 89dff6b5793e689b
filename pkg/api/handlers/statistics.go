// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package handlers

import (
	"net/http"

	"github.com/execguard/agent/pkg/api/models"
	"github.com/execguard/agent/pkg/policy"
	"github.com/execguard/agent/pkg/rule"
	"github.com/gin-gonic/gin"
)

// StatisticsHandler handles rule statistics requests
type StatisticsHandler struct {
	store policy.Manager
}

// NewStatisticsHandler creates a new statistics handler
func NewStatisticsHandler(store policy.Manager) *StatisticsHandler {
	return &StatisticsHandler{
		store: store,
	}
}

// GetRuleStats handles GET /api/v1/stats
func (h *StatisticsHandler) GetRuleStats(c *gin.Context) {
	rules, err := h.store.GetRules(c.Request.Context())
	if err != nil {
		storeError(c, "Failed to read rules", err)
		return
	}

	c.JSON(http.StatusOK, ruleStats(rules))
}

func ruleStats(rules []rule.WithID) models.RuleStatsResponse {
	response := models.RuleStatsResponse{
		RuleCounts: countRules(rules),
		ByModule:   make(map[string]models.ModuleStats),
		ByFilter:   make(map[string]int),
	}

	for _, r := range rules {
		if r.Rule.Module == nil {
			continue
		}
		kind := r.Rule.Module.Kind().String()
		spec := r.Rule.Module.Spec()

		stats := response.ByModule[kind]
		if r.Rule.IsActive {
			stats.Active++
			if spec.Filter.Kind() == rule.FilterBasic {
				response.Enforceable++
			}
		} else {
			stats.Inactive++
		}
		response.ByModule[kind] = stats
		response.ByFilter[spec.Filter.Kind().String()]++
	}

	return response
}
