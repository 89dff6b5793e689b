// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package dataplane

import (
	"net/netip"
	"testing"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"
	"github.com/execguard/agent/pkg/enforcement"
	"github.com/execguard/agent/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIPv4Key tests the host byte order key encoding
func TestIPv4Key(t *testing.T) {
	assert.Equal(t, uint32(0x5fd858e9), IPv4Key(netip.MustParseAddr("95.216.88.233")))
	assert.Equal(t, uint32(0x7f000001), IPv4Key(netip.MustParseAddr("127.0.0.1")))
}

// TestRouteAddr tests address family routing
func TestRouteAddr(t *testing.T) {
	v4 := testutil.NewFakeTable()
	v6 := testutil.NewFakeTable()

	testCases := []struct {
		name  string
		addr  netip.Addr
		table enforcement.Table
		key   interface{}
	}{
		{"ipv4", netip.MustParseAddr("10.0.0.1"), v4, uint32(0x0a000001)},
		{"ipv4-mapped ipv6", netip.MustParseAddr("::ffff:10.0.0.1"), v4, uint32(0x0a000001)},
		{"ipv6", netip.MustParseAddr("::1"), v6, netip.MustParseAddr("::1").As16()},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			table, key, err := routeAddr(v4, v6, tc.addr)
			require.NoError(t, err)
			assert.Same(t, tc.table, table)
			assert.Equal(t, tc.key, key)
		})
	}

	_, _, err := routeAddr(v4, v6, netip.Addr{})
	assert.Error(t, err)
}

// TestParseXDPMode tests XDP mode names
func TestParseXDPMode(t *testing.T) {
	testCases := map[string]link.XDPAttachFlags{
		"":        0,
		"auto":    0,
		"generic": link.XDPGenericMode,
		"SKB":     link.XDPGenericMode,
		"driver":  link.XDPDriverMode,
		"offload": link.XDPOffloadMode,
	}
	for mode, want := range testCases {
		got, err := ParseXDPMode(mode)
		require.NoError(t, err, mode)
		assert.Equal(t, want, got, mode)
	}

	_, err := ParseXDPMode("turbo")
	assert.Error(t, err)
}

// TestCheckLSMList tests detection of the bpf LSM
func TestCheckLSMList(t *testing.T) {
	assert.NoError(t, checkLSMList("lockdown,capability,yama,bpf\n"))
	assert.NoError(t, checkLSMList("bpf"))
	assert.Error(t, checkLSMList("lockdown,capability,yama,apparmor"))
	assert.Error(t, checkLSMList("bpfilter"))
}

func newTestCollection(t *testing.T) *ebpf.Collection {
	t.Helper()
	if msg := testutil.CheckE2ERequirements(); msg != "" {
		t.Skip(msg)
	}
	require.NoError(t, rlimit.RemoveMemlock())

	m, err := ebpf.NewMap(&ebpf.MapSpec{
		Type:       ebpf.Hash,
		KeySize:    8,
		ValueSize:  1,
		MaxEntries: 16,
	})
	require.NoError(t, err)

	p, err := ebpf.NewProgram(&ebpf.ProgramSpec{
		Type: ebpf.SocketFilter,
		Instructions: asm.Instructions{
			asm.LoadImm(asm.R0, 0, asm.DWord),
			asm.Return(),
		},
		License: "GPL",
	})
	require.NoError(t, err)

	return &ebpf.Collection{
		Programs: map[string]*ebpf.Program{programMonitorProgram: p},
		Maps:     map[string]*ebpf.Map{filesBlocklistMap: m},
	}
}

// TestArena_TakeAndReturn tests exclusive handle ownership
func TestArena_TakeAndReturn(t *testing.T) {
	arena := NewArena(newTestCollection(t))
	defer arena.Close()

	m, err := arena.TakeMap(filesBlocklistMap)
	require.NoError(t, err)

	_, err = arena.TakeMap(filesBlocklistMap)
	assert.ErrorIs(t, err, ErrMapNotFound)

	// The returned map keeps its contents.
	b := enforcement.NewBlocklist[uint64](m)
	require.NoError(t, b.Block(42))
	require.NoError(t, b.Block(42))
	require.NoError(t, b.Allow(7))
	arena.ReturnMap(filesBlocklistMap, m)

	again, err := arena.TakeMap(filesBlocklistMap)
	require.NoError(t, err)
	found, err := testutil.BlocklistContains(again, uint64(42))
	require.NoError(t, err)
	assert.True(t, found)
	n, err := testutil.CountEntries[uint64](again)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	arena.ReturnMap(filesBlocklistMap, again)

	_, err = arena.TakeProgram("missing")
	assert.ErrorIs(t, err, ErrProgramNotFound)
}

// TestArena_CheckoutRollsBack tests that a missing map returns the program
func TestArena_CheckoutRollsBack(t *testing.T) {
	arena := NewArena(newTestCollection(t))
	defer arena.Close()

	_, _, err := arena.checkout(programMonitorProgram, filesBlocklistMap, "MISSING")
	assert.ErrorIs(t, err, ErrMapNotFound)

	prog, maps, err := arena.checkout(programMonitorProgram, filesBlocklistMap)
	require.NoError(t, err)
	assert.NotNil(t, prog)
	assert.Len(t, maps, 1)
}

// TestArena_Closed tests use after Close
func TestArena_Closed(t *testing.T) {
	arena := NewArena(newTestCollection(t))
	require.NoError(t, arena.Close())
	require.NoError(t, arena.Close())

	_, err := arena.TakeProgram(programMonitorProgram)
	assert.ErrorIs(t, err, ErrArenaClosed)
	_, err = arena.TakeMap(filesBlocklistMap)
	assert.ErrorIs(t, err, ErrArenaClosed)
}
