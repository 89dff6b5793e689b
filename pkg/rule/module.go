// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package rule

// ModuleKind names an enforcement surface.
type ModuleKind uint8

const (
	ModuleProgramMonitor ModuleKind = iota
	ModuleNetworkMonitor
)

func (k ModuleKind) String() string {
	switch k {
	case ModuleProgramMonitor:
		return "program_monitor"
	case ModuleNetworkMonitor:
		return "network_monitor"
	default:
		return "unknown"
	}
}

// ModuleRule is the filter/action pair carried by every module variant.
type ModuleRule struct {
	Filter Filter
	Action Action
}

// Module selects the enforcement surface a rule targets.
type Module interface {
	Kind() ModuleKind
	Spec() ModuleRule
	isModule()
}

// ProgramMonitor rules act on program execution.
type ProgramMonitor struct {
	ModuleRule
}

func (ProgramMonitor) Kind() ModuleKind   { return ModuleProgramMonitor }
func (m ProgramMonitor) Spec() ModuleRule { return m.ModuleRule }
func (ProgramMonitor) isModule()          {}

// NetworkMonitor rules act on inbound packets.
type NetworkMonitor struct {
	ModuleRule
}

func (NetworkMonitor) Kind() ModuleKind   { return ModuleNetworkMonitor }
func (m NetworkMonitor) Spec() ModuleRule { return m.ModuleRule }
func (NetworkMonitor) isModule()          {}

// ModulesEqual compares two modules by content.
func ModulesEqual(a, b Module) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	sa, sb := a.Spec(), b.Spec()
	return FiltersEqual(sa.Filter, sb.Filter) && sa.Action == sb.Action
}
