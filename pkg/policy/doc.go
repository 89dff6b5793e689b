// Package policy provides the policy store: the canonical rule table of
// the agent.
//
// It handles:
//   - Rule creation, retrieval, update, enable/disable and removal
//   - Rule ID allocation (starting at 0, strictly increasing, never reused)
//   - Duplicate detection on rule content
//   - Change notifications consumed by the reconciliation loop
//   - Optional persistence to SQLite
//
// # Example Usage
//
//	store, err := policy.NewStore(policy.Options{Storage: storage})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Stop(context.Background())
//
//	id, err := store.AddRule(ctx, rule.Rule{
//	    Name:     "no-nc",
//	    IsActive: true,
//	    Module: rule.ProgramMonitor{ModuleRule: rule.ModuleRule{
//	        Filter: rule.Basic{},
//	        Action: rule.BlockProgramExecution{Inode: 1312},
//	    }},
//	})
//
//	for n := range store.Notifications() {
//	    // RuleAdded, RuleRemoved or RuleUpdated
//	}
//
// # Notifications
//
// Every successful mutation emits exactly one notification, after the
// change is committed and before the caller gets its reply. The stream has
// a single consumer. When it is full the store stops processing requests
// until the consumer catches up.
//
// # Persistence
//
// With a Storage configured, rules and the ID counter survive restarts.
// The in-memory table stays the source of truth: a failed write is logged
// and the mutation still succeeds.
//
// # Thread Safety
//
// The Store is safe for concurrent use. All requests are serialized by a
// single goroutine that owns the rule table.
package policy
