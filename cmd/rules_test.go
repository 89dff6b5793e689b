// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package main

import (
	"net/netip"
	"testing"
	"time"

	"github.com/execguard/agent/pkg/rule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetRuleFlags() {
	ruleName, ruleInode, rulePath, ruleAddress = "", 0, "", ""
	ruleLimit, ruleSchedule, ruleInactive = 0, nil, false
}

func TestRuleFromFlags(t *testing.T) {
	tests := []struct {
		name  string
		setup func()
		want  rule.Rule
	}{
		{
			name:  "program by inode",
			setup: func() { ruleName, ruleInode = "nc", 42 },
			want: rule.Rule{Name: "nc", IsActive: true, Module: rule.ProgramMonitor{ModuleRule: rule.ModuleRule{
				Filter: rule.Basic{}, Action: rule.BlockProgramExecution{Inode: 42}}}},
		},
		{
			name:  "inactive address with limit",
			setup: func() { ruleName, ruleAddress, ruleLimit, ruleInactive = "drop", "192.0.2.4", time.Hour, true },
			want: rule.Rule{Name: "drop", Module: rule.NetworkMonitor{ModuleRule: rule.ModuleRule{
				Filter: rule.TimeLimited{Limit: time.Hour},
				Action: rule.BlockAddress{Addr: netip.MustParseAddr("192.0.2.4")}}}},
		},
		{
			name:  "scheduled",
			setup: func() { ruleName, ruleInode, ruleSchedule = "s", 7, []string{"08:00:00-12:00:00"} },
			want: rule.Rule{Name: "s", IsActive: true, Module: rule.ProgramMonitor{ModuleRule: rule.ModuleRule{
				Filter: rule.Scheduled{Slices: []rule.TimeSlice{
					{Start: rule.MustTimeOfDay("08:00:00"), End: rule.MustTimeOfDay("12:00:00")},
				}},
				Action: rule.BlockProgramExecution{Inode: 7}}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetRuleFlags()
			defer resetRuleFlags()
			tt.setup()

			got, err := ruleFromFlags()
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestRuleFromFlags_Errors(t *testing.T) {
	defer resetRuleFlags()

	resetRuleFlags()
	ruleName = "x"
	_, err := ruleFromFlags()
	assert.Error(t, err)

	resetRuleFlags()
	ruleName, ruleAddress = "x", "not-an-ip"
	_, err = ruleFromFlags()
	assert.Error(t, err)

	resetRuleFlags()
	ruleName, ruleInode, ruleSchedule = "x", 1, []string{"08:00:00"}
	_, err = ruleFromFlags()
	assert.Error(t, err)
}
