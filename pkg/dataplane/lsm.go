// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package dataplane

import (
	"fmt"
	"os"
	"strings"

	"github.com/cilium/ebpf/link"
	"github.com/execguard/agent/pkg/enforcement"
	log "github.com/sirupsen/logrus"
)

const (
	programMonitorProgram = "program_monitor"
	filesBlocklistMap     = "FILES_BLOCKLIST"

	lsmListPath = "/sys/kernel/security/lsm"
)

// ProgramMonitor denies execution of blocklisted inodes.
type ProgramMonitor struct {
	arena *Arena
}

// NewProgramMonitor returns the exec surface backed by arena.
func NewProgramMonitor(arena *Arena) *ProgramMonitor {
	return &ProgramMonitor{arena: arena}
}

func (*ProgramMonitor) Name() string { return "program_monitor" }

// Attach attaches the LSM program and takes the inode blocklist.
func (pm *ProgramMonitor) Attach() (enforcement.Attachment[uint64], error) {
	prog, maps, err := pm.arena.checkout(programMonitorProgram, filesBlocklistMap)
	if err != nil {
		return nil, err
	}

	l, err := link.AttachLSM(link.LSMOptions{Program: prog})
	if err != nil {
		pm.arena.checkin(programMonitorProgram, prog, maps)
		return nil, fmt.Errorf("%w: LSM hook %s: %v", ErrAttach, programMonitorProgram, err)
	}

	log.Infof("✓ LSM program %s attached to bprm_check_security", programMonitorProgram)
	return &hookAttachment[uint64]{
		Blocklist: enforcement.NewBlocklist[uint64](maps[filesBlocklistMap]),
		arena:     pm.arena,
		link:      l,
		program:   programMonitorProgram,
		prog:      prog,
		maps:      maps,
	}, nil
}

// CheckLSMEnvironment verifies that the bpf LSM is active.
func CheckLSMEnvironment() error {
	data, err := os.ReadFile(lsmListPath)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w (is securityfs mounted?)", lsmListPath, err)
	}
	return checkLSMList(string(data))
}

func checkLSMList(list string) error {
	list = strings.TrimSpace(list)
	for _, name := range strings.Split(list, ",") {
		if name == "bpf" {
			return nil
		}
	}
	return fmt.Errorf("BPF LSM not active (active LSMs: %q); add 'lsm=...,bpf' to the kernel command line", list)
}
