// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package rule

import (
	"errors"
	"fmt"
)

// ID identifies a rule inside the policy store. IDs are allocated in
// strictly increasing order and never reused.
type ID = uint64

// ErrInvalidRule is wrapped by every validation failure.
var ErrInvalidRule = errors.New("invalid rule")

// Rule is a single policy entry.
type Rule struct {
	Name     string
	IsActive bool
	Module   Module
}

// WithID pairs a rule with the ID the store assigned to it.
type WithID struct {
	ID   ID
	Rule Rule
}

// Equal reports whether two rules have the same content. This is the
// identity used for duplicate detection.
func (r Rule) Equal(other Rule) bool {
	return r.Name == other.Name &&
		r.IsActive == other.IsActive &&
		ModulesEqual(r.Module, other.Module)
}

// WithActive returns a copy of the rule with IsActive set to active.
func (r Rule) WithActive(active bool) Rule {
	r.IsActive = active
	return r
}

// Validate checks the rule is well formed.
func (r Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidRule)
	}
	if r.Module == nil {
		return fmt.Errorf("%w: no module", ErrInvalidRule)
	}

	spec := r.Module.Spec()
	if spec.Filter == nil {
		return fmt.Errorf("%w: no filter", ErrInvalidRule)
	}
	if spec.Action == nil {
		return fmt.Errorf("%w: no action", ErrInvalidRule)
	}
	if err := validateFilter(spec.Filter); err != nil {
		return err
	}

	switch a := spec.Action.(type) {
	case BlockProgramExecution:
		if r.Module.Kind() != ModuleProgramMonitor {
			return fmt.Errorf("%w: action %s not supported by %s", ErrInvalidRule, a.Kind(), r.Module.Kind())
		}
	case BlockAddress:
		if r.Module.Kind() != ModuleNetworkMonitor {
			return fmt.Errorf("%w: action %s not supported by %s", ErrInvalidRule, a.Kind(), r.Module.Kind())
		}
		if !a.Addr.IsValid() {
			return fmt.Errorf("%w: invalid address", ErrInvalidRule)
		}
	}

	return nil
}

func validateFilter(f Filter) error {
	switch f := f.(type) {
	case TimeLimited:
		if f.Limit < 0 {
			return fmt.Errorf("%w: negative time limit %s", ErrInvalidRule, f.Limit)
		}
	case Scheduled:
		for _, s := range f.Slices {
			if !s.Start.valid() || !s.End.valid() {
				return fmt.Errorf("%w: time slice %s out of range", ErrInvalidRule, s)
			}
			if s.Start.Seconds() > s.End.Seconds() {
				return fmt.Errorf("%w: time slice %s starts after it ends", ErrInvalidRule, s)
			}
		}
	}
	return nil
}

func (r Rule) String() string {
	state := "inactive"
	if r.IsActive {
		state = "active"
	}
	if r.Module == nil {
		return fmt.Sprintf("%q (%s)", r.Name, state)
	}
	spec := r.Module.Spec()
	return fmt.Sprintf("%q (%s) %s/%s/%s", r.Name, state, r.Module.Kind(), kindOf(spec.Filter), spec.Action)
}

func kindOf(f Filter) string {
	if f == nil {
		return "<nil>"
	}
	return f.Kind().String()
}
