// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package dataplane

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"

	"github.com/cilium/ebpf/link"
	"github.com/execguard/agent/pkg/enforcement"
	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

const (
	networkMonitorProgram = "network_monitor"
	ipv4BlocklistMap      = "IPV4_BLOCKLIST"
	ipv6BlocklistMap      = "IPV6_BLOCKLIST"
)

// ParseXDPMode maps a config value to attach flags. The empty string lets
// the kernel choose.
func ParseXDPMode(mode string) (link.XDPAttachFlags, error) {
	switch strings.ToLower(mode) {
	case "", "auto":
		return 0, nil
	case "generic", "skb":
		return link.XDPGenericMode, nil
	case "driver", "native":
		return link.XDPDriverMode, nil
	case "offload":
		return link.XDPOffloadMode, nil
	}
	return 0, fmt.Errorf("unknown XDP mode %q", mode)
}

// NetworkMonitor drops inbound packets from blocklisted addresses.
type NetworkMonitor struct {
	arena *Arena
	iface string
	flags link.XDPAttachFlags
}

// NewNetworkMonitor returns the packet surface for iface.
func NewNetworkMonitor(arena *Arena, iface string, flags link.XDPAttachFlags) *NetworkMonitor {
	return &NetworkMonitor{arena: arena, iface: iface, flags: flags}
}

func (*NetworkMonitor) Name() string { return "network_monitor" }

// Attach attaches the XDP program to the interface and takes both address
// blocklists.
func (nm *NetworkMonitor) Attach() (enforcement.Attachment[netip.Addr], error) {
	nlLink, err := netlink.LinkByName(nm.iface)
	if err != nil {
		return nil, fmt.Errorf("interface %s not found: %w", nm.iface, err)
	}

	prog, maps, err := nm.arena.checkout(networkMonitorProgram, ipv4BlocklistMap, ipv6BlocklistMap)
	if err != nil {
		return nil, err
	}

	l, err := link.AttachXDP(link.XDPOptions{
		Program:   prog,
		Interface: nlLink.Attrs().Index,
		Flags:     nm.flags,
	})
	if err != nil {
		nm.arena.checkin(networkMonitorProgram, prog, maps)
		return nil, fmt.Errorf("%w: XDP on %s: %v", ErrAttach, nm.iface, err)
	}

	log.Infof("✓ XDP program %s attached to %s", networkMonitorProgram, nm.iface)

	v4, v6 := maps[ipv4BlocklistMap], maps[ipv6BlocklistMap]
	return &hookAttachment[netip.Addr]{
		Blocklist: enforcement.NewRoutedBlocklist(func(addr netip.Addr) (enforcement.Table, interface{}, error) {
			return routeAddr(v4, v6, addr)
		}),
		arena:   nm.arena,
		link:    l,
		program: networkMonitorProgram,
		prog:    prog,
		maps:    maps,
	}, nil
}

// routeAddr picks the blocklist for addr and encodes the key the way the
// XDP program reads it.
func routeAddr(v4, v6 enforcement.Table, addr netip.Addr) (enforcement.Table, interface{}, error) {
	addr = addr.Unmap()
	switch {
	case addr.Is4():
		return v4, IPv4Key(addr), nil
	case addr.Is6():
		return v6, addr.As16(), nil
	}
	return nil, nil, fmt.Errorf("invalid address %s", addr)
}

// IPv4Key returns the address as the program sees it after ntohl.
func IPv4Key(addr netip.Addr) uint32 {
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:])
}
