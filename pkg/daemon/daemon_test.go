// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package daemon

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/execguard/agent/pkg/config"
	"github.com/execguard/agent/pkg/rule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStack_UnwindsInReverse(t *testing.T) {
	var order []string
	var s stack
	s.push(func(context.Context) error { order = append(order, "store"); return nil })
	s.push(func(context.Context) error { order = append(order, "programs"); return errors.New("detach failed") })
	s.push(func(context.Context) error { order = append(order, "dbus"); return nil })

	cause := errors.New("api bind failed")
	err := s.unwind(cause)

	assert.Equal(t, []string{"dbus", "programs", "store"}, order)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "detach failed")
}

// TestOpenStore_PersistsAcrossRestarts tests that the configured storage is
// created and reused
func TestOpenStore_PersistsAcrossRestarts(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "state", "rules.db")
	ctx := context.Background()

	store, err := openStore(cfg, nil)
	require.NoError(t, err)
	id, err := store.AddRule(ctx, rule.Rule{
		Name:     "r",
		IsActive: true,
		Module: rule.ProgramMonitor{ModuleRule: rule.ModuleRule{
			Filter: rule.Basic{},
			Action: rule.BlockProgramExecution{Inode: 11},
		}},
	})
	require.NoError(t, err)
	require.NoError(t, store.Stop(ctx))

	store, err = openStore(cfg, nil)
	require.NoError(t, err)
	defer store.Stop(ctx)

	rules, err := store.GetRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, id, rules[0].ID)
}

func TestOpenStore_InMemory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Path = ""

	store, err := openStore(cfg, nil)
	require.NoError(t, err)
	assert.NoError(t, store.Stop(context.Background()))
}
