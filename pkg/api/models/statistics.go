// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package models

// RuleStatsResponse breaks the rule table down by variant
type RuleStatsResponse struct {
	RuleCounts
	ByModule map[string]ModuleStats `json:"by_module"`
	ByFilter map[string]int         `json:"by_filter"`

	// Enforceable counts active rules the kernel modules act on today.
	// Rules with a time-based filter are stored but not enforced.
	Enforceable int `json:"enforceable"`
}

// ModuleStats counts rules targeting one module
type ModuleStats struct {
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}
