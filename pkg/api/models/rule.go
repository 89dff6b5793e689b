// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package models

import "github.com/execguard/agent/pkg/rule"

// RuleRequest represents a rule creation/update request
type RuleRequest struct {
	Name     string        `json:"name" binding:"required"`
	IsActive *bool         `json:"is_active"`
	Module   ModuleRequest `json:"module"`
}

// ModuleRequest selects the enforcement surface
type ModuleRequest struct {
	Type   string        `json:"type" binding:"required,oneof=program_monitor network_monitor"`
	Filter FilterRequest `json:"filter"`
	Action ActionRequest `json:"action"`
}

// FilterRequest is the rule filter. An empty Type means basic.
type FilterRequest struct {
	Type   string             `json:"type" binding:"omitempty,oneof=basic time_limited scheduled"`
	Limit  string             `json:"limit,omitempty"`
	Slices []TimeSliceRequest `json:"slices,omitempty" binding:"omitempty,dive"`
}

// TimeSliceRequest is one scheduled window in HH:MM:SS form
type TimeSliceRequest struct {
	Start string `json:"start" binding:"required"`
	End   string `json:"end" binding:"required"`
}

// ActionRequest is the rule action. Program rules give either Inode or
// Path; Path is resolved to its inode on the agent host.
type ActionRequest struct {
	Type    string `json:"type" binding:"required,oneof=block_program_execution block_address"`
	Inode   uint64 `json:"inode,omitempty"`
	Path    string `json:"path,omitempty"`
	Address string `json:"address,omitempty" binding:"omitempty,ip"`
}

// RuleResponse represents a rule in API responses
type RuleResponse struct {
	ID   uint64    `json:"id"`
	Rule rule.Rule `json:"rule"`
}

// RuleListResponse represents a list of rules
type RuleListResponse struct {
	Rules []RuleResponse `json:"rules"`
	Count int            `json:"count"`
}
