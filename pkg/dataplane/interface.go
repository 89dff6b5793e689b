// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package dataplane

import (
	"net/netip"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/execguard/agent/pkg/enforcement"
)

// Ensure kernel maps can back a blocklist
var _ enforcement.Table = (*ebpf.Map)(nil)

// Ensure both surfaces satisfy enforcement.Surface
var (
	_ enforcement.Surface[uint64]     = (*ProgramMonitor)(nil)
	_ enforcement.Surface[netip.Addr] = (*NetworkMonitor)(nil)
)

// hookAttachment is a live link plus the handles it checked out of the
// arena. Detach closes the link and hands the handles back.
type hookAttachment[K any] struct {
	*enforcement.Blocklist[K]

	arena   *Arena
	link    link.Link
	program string
	prog    *ebpf.Program
	maps    map[string]*ebpf.Map
}

func (h *hookAttachment[K]) Detach() error {
	err := h.link.Close()
	h.arena.checkin(h.program, h.prog, h.maps)
	return err
}
