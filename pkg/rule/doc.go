// Package rule defines the policy data model: a named rule targeting one
// enforcement module, with a filter deciding when it applies and an action
// deciding what is enforced.
//
// Module, Filter and Action are closed sets. Their variants are plain
// structs and callers dispatch with a type switch:
//
//	switch m := r.Module.(type) {
//	case rule.ProgramMonitor:
//	    ...
//	case rule.NetworkMonitor:
//	    ...
//	}
package rule
