// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package rule

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"time"
)

type ruleJSON struct {
	Name     string     `json:"name"`
	IsActive bool       `json:"is_active"`
	Module   moduleJSON `json:"module"`
}

type moduleJSON struct {
	Type   string     `json:"type"`
	Filter filterJSON `json:"filter"`
	Action actionJSON `json:"action"`
}

type filterJSON struct {
	Type   string      `json:"type"`
	Slices []sliceJSON `json:"slices,omitempty"`
	Limit  string      `json:"limit,omitempty"`
}

type sliceJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type actionJSON struct {
	Type    string `json:"type"`
	Inode   uint64 `json:"inode,omitempty"`
	Address string `json:"address,omitempty"`
}

// MarshalJSON encodes the rule with explicit type tags for each variant.
func (r Rule) MarshalJSON() ([]byte, error) {
	if r.Module == nil {
		return nil, fmt.Errorf("%w: no module", ErrInvalidRule)
	}
	spec := r.Module.Spec()

	out := ruleJSON{
		Name:     r.Name,
		IsActive: r.IsActive,
		Module:   moduleJSON{Type: r.Module.Kind().String()},
	}

	switch f := spec.Filter.(type) {
	case Basic:
		out.Module.Filter.Type = f.Kind().String()
	case TimeLimited:
		out.Module.Filter.Type = f.Kind().String()
		out.Module.Filter.Limit = f.Limit.String()
	case Scheduled:
		out.Module.Filter.Type = f.Kind().String()
		for _, s := range f.Slices {
			out.Module.Filter.Slices = append(out.Module.Filter.Slices, sliceJSON{
				Start: s.Start.String(),
				End:   s.End.String(),
			})
		}
	default:
		return nil, fmt.Errorf("%w: unsupported filter %T", ErrInvalidRule, spec.Filter)
	}

	switch a := spec.Action.(type) {
	case BlockProgramExecution:
		out.Module.Action = actionJSON{Type: a.Kind().String(), Inode: a.Inode}
	case BlockAddress:
		out.Module.Action = actionJSON{Type: a.Kind().String(), Address: a.Addr.String()}
	default:
		return nil, fmt.Errorf("%w: unsupported action %T", ErrInvalidRule, spec.Action)
	}

	return json.Marshal(out)
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var in ruleJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	filter, err := in.Module.Filter.decode()
	if err != nil {
		return err
	}
	action, err := in.Module.Action.decode()
	if err != nil {
		return err
	}

	mr := ModuleRule{Filter: filter, Action: action}
	var module Module
	switch in.Module.Type {
	case ModuleProgramMonitor.String():
		module = ProgramMonitor{mr}
	case ModuleNetworkMonitor.String():
		module = NetworkMonitor{mr}
	default:
		return fmt.Errorf("%w: unknown module type %q", ErrInvalidRule, in.Module.Type)
	}

	*r = Rule{Name: in.Name, IsActive: in.IsActive, Module: module}
	return nil
}

func (f filterJSON) decode() (Filter, error) {
	switch f.Type {
	case FilterBasic.String():
		return Basic{}, nil
	case FilterTimeLimited.String():
		limit, err := time.ParseDuration(f.Limit)
		if err != nil {
			return nil, fmt.Errorf("%w: time limit: %v", ErrInvalidRule, err)
		}
		return TimeLimited{Limit: limit}, nil
	case FilterScheduled.String():
		slices := make([]TimeSlice, 0, len(f.Slices))
		for _, s := range f.Slices {
			start, err := ParseTimeOfDay(s.Start)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
			}
			end, err := ParseTimeOfDay(s.End)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
			}
			slices = append(slices, TimeSlice{Start: start, End: end})
		}
		return Scheduled{Slices: slices}, nil
	}
	return nil, fmt.Errorf("%w: unknown filter type %q", ErrInvalidRule, f.Type)
}

func (a actionJSON) decode() (Action, error) {
	switch a.Type {
	case ActionBlockProgramExecution.String():
		return BlockProgramExecution{Inode: a.Inode}, nil
	case ActionBlockAddress.String():
		addr, err := netip.ParseAddr(a.Address)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
		return BlockAddress{Addr: addr}, nil
	}
	return nil, fmt.Errorf("%w: unknown action type %q", ErrInvalidRule, a.Type)
}
