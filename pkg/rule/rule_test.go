// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package rule

import (
	"encoding/json"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func programRule(name string, active bool, inode uint64) Rule {
	return Rule{
		Name:     name,
		IsActive: active,
		Module: ProgramMonitor{ModuleRule{
			Filter: Basic{},
			Action: BlockProgramExecution{Inode: inode},
		}},
	}
}

// TestRule_Equal tests content equality used for duplicate detection
func TestRule_Equal(t *testing.T) {
	base := programRule("r", true, 7)

	testCases := []struct {
		name  string
		other Rule
		equal bool
	}{
		{"identical", programRule("r", true, 7), true},
		{"different name", programRule("s", true, 7), false},
		{"different state", programRule("r", false, 7), false},
		{"different inode", programRule("r", true, 8), false},
		{
			name: "different module",
			other: Rule{Name: "r", IsActive: true, Module: NetworkMonitor{ModuleRule{
				Filter: Basic{},
				Action: BlockProgramExecution{Inode: 7},
			}}},
			equal: false,
		},
		{
			name: "different filter",
			other: Rule{Name: "r", IsActive: true, Module: ProgramMonitor{ModuleRule{
				Filter: TimeLimited{Limit: time.Hour},
				Action: BlockProgramExecution{Inode: 7},
			}}},
			equal: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.equal, base.Equal(tc.other))
			assert.Equal(t, tc.equal, tc.other.Equal(base))
		})
	}
}

// TestFiltersEqual_Scheduled tests slice-by-slice comparison
func TestFiltersEqual_Scheduled(t *testing.T) {
	a := Scheduled{Slices: []TimeSlice{{Start: MustTimeOfDay("08:00:00"), End: MustTimeOfDay("12:00:00")}}}
	b := Scheduled{Slices: []TimeSlice{{Start: MustTimeOfDay("08:00:00"), End: MustTimeOfDay("12:00:00")}}}
	c := Scheduled{Slices: []TimeSlice{{Start: MustTimeOfDay("08:00:00"), End: MustTimeOfDay("12:00:01")}}}

	assert.True(t, FiltersEqual(a, b))
	assert.False(t, FiltersEqual(a, c))
	assert.True(t, FiltersEqual(Scheduled{}, Scheduled{Slices: []TimeSlice{}}))
	assert.False(t, FiltersEqual(Basic{}, Scheduled{}))
	assert.False(t, FiltersEqual(Basic{}, nil))
}

// TestRule_Validate tests rejection of malformed rules
func TestRule_Validate(t *testing.T) {
	addr := netip.MustParseAddr("192.0.2.1")

	testCases := []struct {
		name    string
		rule    Rule
		wantErr bool
	}{
		{"valid program rule", programRule("r", true, 1), false},
		{
			name: "valid network rule",
			rule: Rule{Name: "n", Module: NetworkMonitor{ModuleRule{Filter: Basic{}, Action: BlockAddress{Addr: addr}}}},
		},
		{"empty name", programRule("", true, 1), true},
		{"no module", Rule{Name: "r"}, true},
		{
			name:    "no filter",
			rule:    Rule{Name: "r", Module: ProgramMonitor{ModuleRule{Action: BlockProgramExecution{Inode: 1}}}},
			wantErr: true,
		},
		{
			name:    "no action",
			rule:    Rule{Name: "r", Module: ProgramMonitor{ModuleRule{Filter: Basic{}}}},
			wantErr: true,
		},
		{
			name:    "address action on program monitor",
			rule:    Rule{Name: "r", Module: ProgramMonitor{ModuleRule{Filter: Basic{}, Action: BlockAddress{Addr: addr}}}},
			wantErr: true,
		},
		{
			name:    "inode action on network monitor",
			rule:    Rule{Name: "r", Module: NetworkMonitor{ModuleRule{Filter: Basic{}, Action: BlockProgramExecution{Inode: 1}}}},
			wantErr: true,
		},
		{
			name:    "zero address",
			rule:    Rule{Name: "r", Module: NetworkMonitor{ModuleRule{Filter: Basic{}, Action: BlockAddress{}}}},
			wantErr: true,
		},
		{
			name: "negative limit",
			rule: Rule{Name: "r", Module: ProgramMonitor{ModuleRule{
				Filter: TimeLimited{Limit: -time.Second},
				Action: BlockProgramExecution{Inode: 1},
			}}},
			wantErr: true,
		},
		{
			name: "slice out of range",
			rule: Rule{Name: "r", Module: ProgramMonitor{ModuleRule{
				Filter: Scheduled{Slices: []TimeSlice{{Start: TimeOfDay{Hour: 25}, End: TimeOfDay{}}}},
				Action: BlockProgramExecution{Inode: 1},
			}}},
			wantErr: true,
		},
		{
			name: "slice starts after it ends",
			rule: Rule{Name: "r", Module: ProgramMonitor{ModuleRule{
				Filter: Scheduled{Slices: []TimeSlice{{Start: MustTimeOfDay("18:00:00"), End: MustTimeOfDay("08:00:00")}}},
				Action: BlockProgramExecution{Inode: 1},
			}}},
			wantErr: true,
		},
		{
			name: "single-instant slice",
			rule: Rule{Name: "r", Module: ProgramMonitor{ModuleRule{
				Filter: Scheduled{Slices: []TimeSlice{{Start: MustTimeOfDay("12:00:00"), End: MustTimeOfDay("12:00:00")}}},
				Action: BlockProgramExecution{Inode: 1},
			}}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rule.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRule)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestParseTimeOfDay tests the HH:MM:SS format
func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("07:05:09")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 7, Minute: 5, Second: 9}, tod)
	assert.Equal(t, "07:05:09", tod.String())

	for _, bad := range []string{"", "7:5", "24:00:00", "12:60:00", "noon"} {
		_, err := ParseTimeOfDay(bad)
		assert.Error(t, err, bad)
	}
}

// TestRule_JSON tests the persisted encoding of every variant
func TestRule_JSON(t *testing.T) {
	rules := []Rule{
		programRule("basic", true, 42),
		{
			Name: "limited",
			Module: ProgramMonitor{ModuleRule{
				Filter: TimeLimited{Limit: 90 * time.Minute},
				Action: BlockProgramExecution{Inode: 1},
			}},
		},
		{
			Name:     "scheduled",
			IsActive: true,
			Module: ProgramMonitor{ModuleRule{
				Filter: Scheduled{Slices: []TimeSlice{
					{Start: MustTimeOfDay("09:00:00"), End: MustTimeOfDay("17:30:00")},
				}},
				Action: BlockProgramExecution{Inode: 2},
			}},
		},
		{
			Name:     "v6",
			IsActive: true,
			Module: NetworkMonitor{ModuleRule{
				Filter: Basic{},
				Action: BlockAddress{Addr: netip.MustParseAddr("2001:db8::1")},
			}},
		},
	}

	for _, r := range rules {
		t.Run(r.Name, func(t *testing.T) {
			data, err := json.Marshal(r)
			require.NoError(t, err)

			var decoded Rule
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.True(t, r.Equal(decoded), "decoded %s", decoded)
		})
	}
}

// TestRule_UnmarshalJSONRejectsUnknownTypes tests unknown type tags
func TestRule_UnmarshalJSONRejectsUnknownTypes(t *testing.T) {
	testCases := map[string]string{
		"module": `{"name":"r","module":{"type":"disk","filter":{"type":"basic"},"action":{"type":"block_program_execution","inode":1}}}`,
		"filter": `{"name":"r","module":{"type":"program_monitor","filter":{"type":"weekly"},"action":{"type":"block_program_execution","inode":1}}}`,
		"action": `{"name":"r","module":{"type":"program_monitor","filter":{"type":"basic"},"action":{"type":"kill"}}}`,
	}

	for name, data := range testCases {
		t.Run(name, func(t *testing.T) {
			var r Rule
			assert.ErrorIs(t, json.Unmarshal([]byte(data), &r), ErrInvalidRule)
		})
	}
}
