// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package ipc

import (
	"errors"
	"fmt"
	"math"
	"net/netip"
	"time"

	"github.com/execguard/agent/pkg/rule"
	"github.com/godbus/dbus/v5"
)

// ErrInvalidWire wraps every decoding failure.
var ErrInvalidWire = errors.New("invalid wire payload")

const (
	filterBasic uint8 = iota
	filterTimeLimited
	filterScheduled
)

const (
	actionBlockProgramExecution uint8 = iota
	actionBlockAddress
)

const (
	moduleProgramMonitor uint8 = iota
	moduleNetworkMonitor
)

// Envelope is a tagged union on the wire.
type Envelope struct {
	Case    uint8
	Payload dbus.Variant
}

// WireRule is the D-Bus form of rule.Rule.
type WireRule struct {
	Name     string
	IsActive bool
	Module   Envelope
}

// ModulePayload is the payload of every module envelope.
type ModulePayload struct {
	Filter Envelope
	Action Envelope
}

// WireTimeSlice is one element of a Scheduled payload.
type WireTimeSlice struct {
	Start string
	End   string
}

// RuleEntry is one element of the Rules property.
type RuleEntry struct {
	ID   uint64
	Rule WireRule
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidWire, fmt.Sprintf(format, args...))
}

// EncodeRule converts r to its wire form.
func EncodeRule(r rule.Rule) (WireRule, error) {
	if r.Module == nil {
		return WireRule{}, invalid("rule %q has no module", r.Name)
	}
	spec := r.Module.Spec()

	filter, err := encodeFilter(spec.Filter)
	if err != nil {
		return WireRule{}, err
	}
	action, err := encodeAction(spec.Action)
	if err != nil {
		return WireRule{}, err
	}

	var tag uint8
	switch r.Module.(type) {
	case rule.ProgramMonitor:
		tag = moduleProgramMonitor
	case rule.NetworkMonitor:
		tag = moduleNetworkMonitor
	default:
		return WireRule{}, invalid("unsupported module %T", r.Module)
	}

	return WireRule{
		Name:     r.Name,
		IsActive: r.IsActive,
		Module: Envelope{
			Case:    tag,
			Payload: dbus.MakeVariant(ModulePayload{Filter: filter, Action: action}),
		},
	}, nil
}

func encodeFilter(f rule.Filter) (Envelope, error) {
	switch f := f.(type) {
	case rule.Basic:
		return Envelope{Case: filterBasic, Payload: dbus.MakeVariant(uint8(0))}, nil
	case rule.TimeLimited:
		secs := uint64(f.Limit / time.Second)
		nanos := uint64(f.Limit % time.Second)
		return Envelope{Case: filterTimeLimited, Payload: dbus.MakeVariant([]uint64{secs, nanos})}, nil
	case rule.Scheduled:
		slices := make([]WireTimeSlice, 0, len(f.Slices))
		for _, s := range f.Slices {
			slices = append(slices, WireTimeSlice{Start: s.Start.String(), End: s.End.String()})
		}
		return Envelope{Case: filterScheduled, Payload: dbus.MakeVariant(slices)}, nil
	}
	return Envelope{}, invalid("unsupported filter %T", f)
}

func encodeAction(a rule.Action) (Envelope, error) {
	switch a := a.(type) {
	case rule.BlockProgramExecution:
		return Envelope{Case: actionBlockProgramExecution, Payload: dbus.MakeVariant(a.Inode)}, nil
	case rule.BlockAddress:
		return Envelope{Case: actionBlockAddress, Payload: dbus.MakeVariant(a.Addr.String())}, nil
	}
	return Envelope{}, invalid("unsupported action %T", a)
}

// payload stores the variant's value into dest, converting the generic
// forms produced by the bus ([]interface{} for structs) as needed.
func payload(v dbus.Variant, dest interface{}) error {
	if v.Value() == nil {
		return invalid("empty payload")
	}
	if err := dbus.Store([]interface{}{v.Value()}, dest); err != nil {
		return invalid("payload %s: %v", v.Signature(), err)
	}
	return nil
}

// DecodeRule converts a wire rule into rule.Rule.
func DecodeRule(w WireRule) (rule.Rule, error) {
	var mp ModulePayload
	if err := payload(w.Module.Payload, &mp); err != nil {
		return rule.Rule{}, err
	}

	filter, err := decodeFilter(mp.Filter)
	if err != nil {
		return rule.Rule{}, err
	}
	action, err := decodeAction(mp.Action)
	if err != nil {
		return rule.Rule{}, err
	}

	mr := rule.ModuleRule{Filter: filter, Action: action}
	var module rule.Module
	switch w.Module.Case {
	case moduleProgramMonitor:
		module = rule.ProgramMonitor{ModuleRule: mr}
	case moduleNetworkMonitor:
		module = rule.NetworkMonitor{ModuleRule: mr}
	default:
		return rule.Rule{}, invalid("unknown module case %d", w.Module.Case)
	}

	return rule.Rule{Name: w.Name, IsActive: w.IsActive, Module: module}, nil
}

func decodeFilter(e Envelope) (rule.Filter, error) {
	switch e.Case {
	case filterBasic:
		return rule.Basic{}, nil
	case filterTimeLimited:
		var parts []uint64
		if err := payload(e.Payload, &parts); err != nil {
			return nil, err
		}
		return decodeDuration(parts)
	case filterScheduled:
		var wire []WireTimeSlice
		if err := payload(e.Payload, &wire); err != nil {
			return nil, err
		}
		slices := make([]rule.TimeSlice, 0, len(wire))
		for _, w := range wire {
			start, err := rule.ParseTimeOfDay(w.Start)
			if err != nil {
				return nil, invalid("%v", err)
			}
			end, err := rule.ParseTimeOfDay(w.End)
			if err != nil {
				return nil, invalid("%v", err)
			}
			slices = append(slices, rule.TimeSlice{Start: start, End: end})
		}
		return rule.Scheduled{Slices: slices}, nil
	}
	return nil, invalid("unknown filter case %d", e.Case)
}

func decodeDuration(parts []uint64) (rule.Filter, error) {
	if len(parts) != 2 {
		return nil, invalid("time limit needs [seconds, nanoseconds], got %d values", len(parts))
	}
	secs, nanos := parts[0], parts[1]
	if nanos > math.MaxUint32 {
		return nil, invalid("nanoseconds %d exceed 32 bits", nanos)
	}

	const maxSecs = uint64(math.MaxInt64 / int64(time.Second))
	extra := nanos / uint64(time.Second)
	if secs > maxSecs || secs+extra > maxSecs {
		return nil, invalid("time limit of %d seconds overflows", secs)
	}
	limit := time.Duration(secs)*time.Second + time.Duration(nanos)
	if limit < 0 {
		return nil, invalid("time limit overflows")
	}
	return rule.TimeLimited{Limit: limit}, nil
}

func decodeAction(e Envelope) (rule.Action, error) {
	switch e.Case {
	case actionBlockProgramExecution:
		var inode uint64
		if err := payload(e.Payload, &inode); err != nil {
			return nil, err
		}
		return rule.BlockProgramExecution{Inode: inode}, nil
	case actionBlockAddress:
		var text string
		if err := payload(e.Payload, &text); err != nil {
			return nil, err
		}
		addr, err := netip.ParseAddr(text)
		if err != nil {
			return nil, invalid("%v", err)
		}
		return rule.BlockAddress{Addr: addr}, nil
	}
	return nil, invalid("unknown action case %d", e.Case)
}

// EncodeEntries converts a store snapshot into the Rules property value.
// Rules that cannot be encoded are skipped and returned as an error.
func EncodeEntries(rules []rule.WithID) ([]RuleEntry, error) {
	entries := make([]RuleEntry, 0, len(rules))
	var errs []error
	for _, r := range rules {
		w, err := EncodeRule(r.Rule)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %d: %w", r.ID, err))
			continue
		}
		entries = append(entries, RuleEntry{ID: r.ID, Rule: w})
	}
	return entries, errors.Join(errs...)
}

// DecodeEntries is the inverse of EncodeEntries.
func DecodeEntries(entries []RuleEntry) ([]rule.WithID, error) {
	out := make([]rule.WithID, 0, len(entries))
	for _, e := range entries {
		r, err := DecodeRule(e.Rule)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", e.ID, err)
		}
		out = append(out, rule.WithID{ID: e.ID, Rule: r})
	}
	return out, nil
}
