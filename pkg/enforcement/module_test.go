// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package enforcement

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/execguard/agent/pkg/actor"
	"github.com/execguard/agent/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAttachment struct {
	*Blocklist[uint64]
	detached  bool
	detachErr error
}

func (a *fakeAttachment) Detach() error {
	a.detached = true
	return a.detachErr
}

type fakeSurface struct {
	mu        sync.Mutex
	table     *testutil.FakeTable
	attaches  int
	attachErr error
	detachErr error
	last      *fakeAttachment
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{table: testutil.NewFakeTable()}
}

func (s *fakeSurface) Name() string { return "fake_monitor" }

func (s *fakeSurface) Attach() (Attachment[uint64], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attachErr != nil {
		return nil, s.attachErr
	}
	s.attaches++
	s.last = &fakeAttachment{Blocklist: NewBlocklist[uint64](s.table), detachErr: s.detachErr}
	return s.last, nil
}

func newTestModule(t *testing.T, s *fakeSurface) *Module[uint64] {
	t.Helper()
	m := New[uint64](s, Options{})
	t.Cleanup(func() { m.Stop(context.Background()) })
	return m
}

// TestModule_LoadUnload tests the Unloaded/Loaded state machine
func TestModule_LoadUnload(t *testing.T) {
	s := newFakeSurface()
	m := newTestModule(t, s)
	ctx := context.Background()

	loaded, err := m.Loaded(ctx)
	require.NoError(t, err)
	assert.False(t, loaded)

	require.NoError(t, m.Load(ctx))
	loaded, err = m.Loaded(ctx)
	require.NoError(t, err)
	assert.True(t, loaded)

	assert.ErrorIs(t, m.Load(ctx), ErrModuleAlreadyLoaded)
	assert.Equal(t, 1, s.attaches, "second load must not attach again")
	assert.False(t, s.last.detached)

	require.NoError(t, m.Unload(ctx))
	assert.True(t, s.last.detached)
	assert.ErrorIs(t, m.Unload(ctx), ErrModuleNotLoaded)

	require.NoError(t, m.Load(ctx))
	assert.Equal(t, 2, s.attaches)
}

// TestModule_NotLoaded tests that Block and Allow require a loaded module
func TestModule_NotLoaded(t *testing.T) {
	s := newFakeSurface()
	m := newTestModule(t, s)
	ctx := context.Background()

	assert.ErrorIs(t, m.Block(ctx, 1), ErrModuleNotLoaded)
	assert.ErrorIs(t, m.Allow(ctx, 1), ErrModuleNotLoaded)
	assert.Equal(t, 0, s.table.Len())
}

// TestModule_BlockAllowIdempotent tests idempotent membership changes
func TestModule_BlockAllowIdempotent(t *testing.T) {
	s := newFakeSurface()
	m := newTestModule(t, s)
	ctx := context.Background()
	require.NoError(t, m.Load(ctx))

	require.NoError(t, m.Block(ctx, 42))
	require.NoError(t, m.Block(ctx, 42))
	assert.True(t, s.table.Contains(uint64(42)))
	assert.Equal(t, 1, s.table.Len())

	require.NoError(t, m.Allow(ctx, 42))
	assert.False(t, s.table.Contains(uint64(42)))

	// Allowing something never blocked is a successful no-op.
	require.NoError(t, m.Allow(ctx, 42))
	require.NoError(t, m.Allow(ctx, 7))
}

// TestModule_AllowPropagatesRealErrors tests that only missing keys are swallowed
func TestModule_AllowPropagatesRealErrors(t *testing.T) {
	s := newFakeSurface()
	s.table.DeleteErr = errors.New("map frozen")
	m := newTestModule(t, s)
	ctx := context.Background()
	require.NoError(t, m.Load(ctx))

	assert.Error(t, m.Allow(ctx, 1))
}

// TestModule_AttachFailure tests that a failed load leaves the module unloaded
func TestModule_AttachFailure(t *testing.T) {
	s := newFakeSurface()
	s.attachErr = errors.New("no BTF")
	m := newTestModule(t, s)
	ctx := context.Background()

	assert.EqualError(t, m.Load(ctx), "no BTF")
	loaded, err := m.Loaded(ctx)
	require.NoError(t, err)
	assert.False(t, loaded)
}

// TestModule_DetachFailure tests that a failed detach still unloads
func TestModule_DetachFailure(t *testing.T) {
	s := newFakeSurface()
	s.detachErr = errors.New("link busy")
	m := newTestModule(t, s)
	ctx := context.Background()
	require.NoError(t, m.Load(ctx))

	assert.Error(t, m.Unload(ctx))
	loaded, err := m.Loaded(ctx)
	require.NoError(t, err)
	assert.False(t, loaded)
}

// TestModule_Stop tests that Stop detaches a loaded module and closes the mailbox
func TestModule_Stop(t *testing.T) {
	s := newFakeSurface()
	m := New[uint64](s, Options{})
	ctx := context.Background()
	require.NoError(t, m.Load(ctx))

	require.NoError(t, m.Stop(ctx))
	assert.True(t, s.last.detached)

	assert.ErrorIs(t, m.Block(ctx, 1), actor.ErrMailboxClosed)
}

// TestModule_StopUnloaded tests that stopping an unloaded module is clean
func TestModule_StopUnloaded(t *testing.T) {
	m := New[uint64](newFakeSurface(), Options{})
	assert.NoError(t, m.Stop(context.Background()))
}
