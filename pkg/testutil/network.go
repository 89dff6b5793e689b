// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package testutil provides helpers for testing the agent: in-memory
// blocklist tables for unit tests, and network namespaces, privilege
// checks and traffic helpers for end-to-end tests that load real BPF
// programs.
package testutil

import (
	"fmt"
	"net"
	"os"
	"runtime"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

// TestNetwork is a veth pair with one end in the current namespace (the
// host side, where XDP is attached) and the other in a fresh peer
// namespace that generates traffic.
type TestNetwork struct {
	PeerNS netns.NsHandle

	HostVeth string
	PeerVeth string

	HostIP string
	PeerIP string

	OriginalNS netns.NsHandle
}

// NetworkConfig contains configuration for test network creation.
type NetworkConfig struct {
	HostVethName string
	PeerVethName string
	HostIP       string
	PeerIP       string
}

// DefaultNetworkConfig returns default configuration for test network.
func DefaultNetworkConfig() *NetworkConfig {
	return &NetworkConfig{
		HostVethName: "eg-host",
		PeerVethName: "eg-peer",
		HostIP:       "10.200.0.1/24",
		PeerIP:       "10.200.0.2/24",
	}
}

// NewTestNetwork creates the network with the default configuration.
//
//	[current NS]               [peer NS]
//	   eg-host   <-------->   eg-peer
//	  10.200.0.1              10.200.0.2
func NewTestNetwork() (*TestNetwork, error) {
	return NewTestNetworkWithConfig(DefaultNetworkConfig())
}

// NewTestNetworkWithConfig creates a test network with custom configuration.
func NewTestNetworkWithConfig(cfg *NetworkConfig) (*TestNetwork, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	originalNS, err := netns.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to get original namespace: %w", err)
	}

	tn := &TestNetwork{
		HostVeth:   cfg.HostVethName,
		PeerVeth:   cfg.PeerVethName,
		HostIP:     cfg.HostIP,
		PeerIP:     cfg.PeerIP,
		OriginalNS: originalNS,
	}

	peerNS, err := netns.New()
	if err != nil {
		tn.Cleanup()
		return nil, fmt.Errorf("failed to create peer namespace: %w", err)
	}
	tn.PeerNS = peerNS

	if err := netns.Set(originalNS); err != nil {
		tn.Cleanup()
		return nil, fmt.Errorf("failed to return to original namespace: %w", err)
	}

	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{Name: cfg.HostVethName},
		PeerName:  cfg.PeerVethName,
	}
	if err := netlink.LinkAdd(veth); err != nil {
		tn.Cleanup()
		return nil, fmt.Errorf("failed to create veth pair: %w", err)
	}

	peer, err := netlink.LinkByName(cfg.PeerVethName)
	if err != nil {
		tn.Cleanup()
		return nil, fmt.Errorf("failed to get peer veth: %w", err)
	}
	if err := netlink.LinkSetNsFd(peer, int(peerNS)); err != nil {
		tn.Cleanup()
		return nil, fmt.Errorf("failed to move peer veth: %w", err)
	}

	if err := configureLink(cfg.HostVethName, cfg.HostIP); err != nil {
		tn.Cleanup()
		return nil, fmt.Errorf("failed to configure host side: %w", err)
	}

	if err := netns.Set(peerNS); err != nil {
		tn.Cleanup()
		return nil, fmt.Errorf("failed to enter peer namespace: %w", err)
	}
	err = configureLink(cfg.PeerVethName, cfg.PeerIP)
	if setErr := netns.Set(originalNS); setErr != nil && err == nil {
		err = setErr
	}
	if err != nil {
		tn.Cleanup()
		return nil, fmt.Errorf("failed to configure peer side: %w", err)
	}

	return tn, nil
}

// configureLink assigns ipAddr to the named link in the current namespace
// and brings it and loopback up.
func configureLink(name, ipAddr string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("failed to get link %s: %w", name, err)
	}

	addr, err := netlink.ParseAddr(ipAddr)
	if err != nil {
		return fmt.Errorf("failed to parse IP %s: %w", ipAddr, err)
	}
	if err := netlink.AddrAdd(link, addr); err != nil {
		return fmt.Errorf("failed to add IP address: %w", err)
	}

	lo, err := netlink.LinkByName("lo")
	if err != nil {
		return fmt.Errorf("failed to get loopback: %w", err)
	}
	if err := netlink.LinkSetUp(lo); err != nil {
		return fmt.Errorf("failed to bring up loopback: %w", err)
	}

	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to bring up %s: %w", name, err)
	}
	return nil
}

// RunInPeerNS executes fn in the peer namespace.
func (tn *TestNetwork) RunInPeerNS(fn func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := netns.Set(tn.PeerNS); err != nil {
		return fmt.Errorf("failed to enter namespace: %w", err)
	}

	err := fn()

	if setErr := netns.Set(tn.OriginalNS); setErr != nil {
		if err != nil {
			return fmt.Errorf("function error: %v, namespace restore error: %w", err, setErr)
		}
		return fmt.Errorf("failed to restore namespace: %w", setErr)
	}

	return err
}

// GetHostIP returns the host-side address without CIDR suffix.
func (tn *TestNetwork) GetHostIP() string {
	ip, _, _ := net.ParseCIDR(tn.HostIP)
	return ip.String()
}

// GetPeerIP returns the peer-side address without CIDR suffix.
func (tn *TestNetwork) GetPeerIP() string {
	ip, _, _ := net.ParseCIDR(tn.PeerIP)
	return ip.String()
}

// Cleanup removes the veth pair and the peer namespace.
func (tn *TestNetwork) Cleanup() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if tn.OriginalNS != 0 {
		_ = netns.Set(tn.OriginalNS)
	}

	// Deleting one end removes the pair.
	if link, err := netlink.LinkByName(tn.HostVeth); err == nil {
		_ = netlink.LinkDel(link)
	}

	if tn.PeerNS != 0 {
		_ = tn.PeerNS.Close()
	}
	if tn.OriginalNS != 0 {
		_ = tn.OriginalNS.Close()
	}
}

// IsRoot checks if the current process has root privileges.
func IsRoot() bool {
	return os.Geteuid() == 0
}

// HasCapability checks if the process has a specific capability.
func HasCapability(cap int) bool {
	var header unix.CapUserHeader
	var data [2]unix.CapUserData

	header.Version = unix.LINUX_CAPABILITY_VERSION_3
	header.Pid = 0

	if err := unix.Capget(&header, &data[0]); err != nil {
		return false
	}

	capMask := uint32(1 << uint(cap%32))
	return (data[cap/32].Effective & capMask) != 0
}

// CheckE2ERequirements checks if the environment supports E2E testing.
// Returns an error message if requirements are not met, empty string otherwise.
func CheckE2ERequirements() string {
	if !IsRoot() {
		if !HasCapability(unix.CAP_NET_ADMIN) {
			return "E2E tests require root privileges or CAP_NET_ADMIN capability"
		}
		if !HasCapability(unix.CAP_BPF) && !HasCapability(unix.CAP_SYS_ADMIN) {
			return "E2E tests require CAP_BPF or CAP_SYS_ADMIN capability for eBPF operations"
		}
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	original, err := netns.Get()
	if err != nil {
		return fmt.Sprintf("Network namespaces not supported: %v", err)
	}
	defer original.Close()

	// netns.New switches the calling thread into the new namespace.
	testNS, err := netns.New()
	if err != nil {
		return fmt.Sprintf("Network namespaces not supported: %v", err)
	}
	_ = netns.Set(original)
	_ = testNS.Close()

	return ""
}
