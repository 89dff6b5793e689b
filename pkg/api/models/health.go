// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package models

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"` // "ok", "degraded", "down"
	Message string `json:"message"`
}

// StatusResponse represents detailed agent status
type StatusResponse struct {
	Status  string         `json:"status"` // "ok", "degraded", "down"
	Version string         `json:"version"`
	Modules []ModuleStatus `json:"modules"`
	Rules   RuleCounts     `json:"rules"`
	Uptime  int64          `json:"uptime_seconds"`
}

// ModuleStatus represents the load state of one enforcement module
type ModuleStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "loaded", "unloaded", "error"
	Message string `json:"message,omitempty"`
}

// RuleCounts summarizes the rule table
type RuleCounts struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}
