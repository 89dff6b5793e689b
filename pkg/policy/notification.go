// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package policy

import "github.com/execguard/agent/pkg/rule"

// Notification describes one committed change to the rule table.
type Notification interface {
	RuleID() rule.ID
	Kind() string
	isNotification()
}

// RuleAdded is emitted by AddRule.
type RuleAdded struct {
	ID   rule.ID
	Rule rule.Rule
}

// RuleRemoved is emitted by RemoveRule when the rule existed.
type RuleRemoved struct {
	ID   rule.ID
	Rule rule.Rule
}

// RuleUpdated is emitted by UpdateRule, EnableRule and DisableRule.
type RuleUpdated struct {
	ID  rule.ID
	Old rule.Rule
	New rule.Rule
}

func (n RuleAdded) RuleID() rule.ID   { return n.ID }
func (n RuleRemoved) RuleID() rule.ID { return n.ID }
func (n RuleUpdated) RuleID() rule.ID { return n.ID }

func (RuleAdded) Kind() string   { return "added" }
func (RuleRemoved) Kind() string { return "removed" }
func (RuleUpdated) Kind() string { return "updated" }

func (RuleAdded) isNotification()   {}
func (RuleRemoved) isNotification() {}
func (RuleUpdated) isNotification() {}
