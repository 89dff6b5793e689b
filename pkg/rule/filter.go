// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package rule

import (
	"fmt"
	"time"
)

// FilterKind names a filter variant.
type FilterKind uint8

const (
	FilterBasic FilterKind = iota
	FilterTimeLimited
	FilterScheduled
)

func (k FilterKind) String() string {
	switch k {
	case FilterBasic:
		return "basic"
	case FilterTimeLimited:
		return "time_limited"
	case FilterScheduled:
		return "scheduled"
	default:
		return "unknown"
	}
}

// Filter decides when a rule's action applies.
type Filter interface {
	Kind() FilterKind
	isFilter()
}

// Basic applies the action unconditionally.
type Basic struct{}

func (Basic) Kind() FilterKind { return FilterBasic }
func (Basic) isFilter()        {}

// TimeLimited applies the action until a usage quota is spent.
type TimeLimited struct {
	Limit time.Duration
}

func (TimeLimited) Kind() FilterKind { return FilterTimeLimited }
func (TimeLimited) isFilter()        {}

// Scheduled applies the action during the given daily time slices.
type Scheduled struct {
	Slices []TimeSlice
}

func (Scheduled) Kind() FilterKind { return FilterScheduled }
func (Scheduled) isFilter()        {}

// TimeSlice is a daily window [Start, End].
type TimeSlice struct {
	Start TimeOfDay
	End   TimeOfDay
}

func (s TimeSlice) String() string {
	return s.Start.String() + "-" + s.End.String()
}

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   uint8
	Minute uint8
	Second uint8
}

const timeOfDayLayout = "15:04:05"

// ParseTimeOfDay parses an "HH:MM:SS" string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse(timeOfDayLayout, s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: uint8(t.Hour()), Minute: uint8(t.Minute()), Second: uint8(t.Second())}, nil
}

// MustTimeOfDay is ParseTimeOfDay for literals.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// Seconds returns the number of seconds since midnight.
func (t TimeOfDay) Seconds() int {
	return int(t.Hour)*3600 + int(t.Minute)*60 + int(t.Second)
}

func (t TimeOfDay) valid() bool {
	return t.Hour < 24 && t.Minute < 60 && t.Second < 60
}

// FiltersEqual compares two filters by content. A nil slice list and an
// empty one are equal.
func FiltersEqual(a, b Filter) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch fa := a.(type) {
	case Basic:
		_, ok := b.(Basic)
		return ok
	case TimeLimited:
		fb, ok := b.(TimeLimited)
		return ok && fa.Limit == fb.Limit
	case Scheduled:
		fb, ok := b.(Scheduled)
		if !ok || len(fa.Slices) != len(fb.Slices) {
			return false
		}
		for i := range fa.Slices {
			if fa.Slices[i] != fb.Slices[i] {
				return false
			}
		}
		return true
	}
	return false
}
