// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package policy

import (
	"context"

	"github.com/execguard/agent/pkg/rule"
)

// Manager interface defines the operations for rule management.
// The IPC facade and the HTTP API depend on this rather than on *Store.
type Manager interface {
	AddRule(ctx context.Context, r rule.Rule) (rule.ID, error)
	RemoveRule(ctx context.Context, id rule.ID) error
	UpdateRule(ctx context.Context, id rule.ID, r rule.Rule) error
	EnableRule(ctx context.Context, id rule.ID) error
	DisableRule(ctx context.Context, id rule.ID) error
	GetRule(ctx context.Context, id rule.ID) (rule.Rule, error)
	GetRules(ctx context.Context) ([]rule.WithID, error)
}

// Ensure Store implements Manager interface
var _ Manager = (*Store)(nil)
