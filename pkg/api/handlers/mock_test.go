// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package handlers

import (
	"context"
	"net/netip"

	"github.com/execguard/agent/pkg/rule"
	"github.com/stretchr/testify/mock"
)

// MockManager is a mock implementation of policy.Manager for testing
type MockManager struct {
	mock.Mock
}

func (m *MockManager) AddRule(ctx context.Context, r rule.Rule) (rule.ID, error) {
	args := m.Called(r)
	return args.Get(0).(rule.ID), args.Error(1)
}

func (m *MockManager) RemoveRule(ctx context.Context, id rule.ID) error {
	return m.Called(id).Error(0)
}

func (m *MockManager) UpdateRule(ctx context.Context, id rule.ID, r rule.Rule) error {
	return m.Called(id, r).Error(0)
}

func (m *MockManager) EnableRule(ctx context.Context, id rule.ID) error {
	return m.Called(id).Error(0)
}

func (m *MockManager) DisableRule(ctx context.Context, id rule.ID) error {
	return m.Called(id).Error(0)
}

func (m *MockManager) GetRule(ctx context.Context, id rule.ID) (rule.Rule, error) {
	args := m.Called(id)
	return args.Get(0).(rule.Rule), args.Error(1)
}

func (m *MockManager) GetRules(ctx context.Context) ([]rule.WithID, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]rule.WithID), args.Error(1)
}

// MockModule is a mock ModuleStatusProvider
type MockModule struct {
	name   string
	loaded bool
	err    error
}

func (m *MockModule) Name() string { return m.name }

func (m *MockModule) Loaded(ctx context.Context) (bool, error) { return m.loaded, m.err }

func programRule(name string, active bool, inode uint64) rule.Rule {
	return rule.Rule{
		Name:     name,
		IsActive: active,
		Module: rule.ProgramMonitor{ModuleRule: rule.ModuleRule{
			Filter: rule.Basic{},
			Action: rule.BlockProgramExecution{Inode: inode},
		}},
	}
}

func addressRule(name string, active bool, addr string) rule.Rule {
	return rule.Rule{
		Name:     name,
		IsActive: active,
		Module: rule.NetworkMonitor{ModuleRule: rule.ModuleRule{
			Filter: rule.Basic{},
			Action: rule.BlockAddress{Addr: netip.MustParseAddr(addr)},
		}},
	}
}

func sameRule(want rule.Rule) interface{} {
	return mock.MatchedBy(func(got rule.Rule) bool { return want.Equal(got) })
}
