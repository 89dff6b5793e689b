// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package rule

import (
	"fmt"
	"net/netip"
)

// ActionKind names an action variant.
type ActionKind uint8

const (
	ActionBlockProgramExecution ActionKind = iota
	ActionBlockAddress
)

func (k ActionKind) String() string {
	switch k {
	case ActionBlockProgramExecution:
		return "block_program_execution"
	case ActionBlockAddress:
		return "block_address"
	default:
		return "unknown"
	}
}

// Action is what gets enforced. Every variant is comparable with ==.
type Action interface {
	Kind() ActionKind
	String() string
	isAction()
}

// BlockProgramExecution denies execve of the file with the given inode.
type BlockProgramExecution struct {
	Inode uint64
}

func (BlockProgramExecution) Kind() ActionKind { return ActionBlockProgramExecution }
func (a BlockProgramExecution) String() string {
	return fmt.Sprintf("block_program_execution(inode=%d)", a.Inode)
}
func (BlockProgramExecution) isAction() {}

// BlockAddress drops inbound packets from the given source address.
type BlockAddress struct {
	Addr netip.Addr
}

func (BlockAddress) Kind() ActionKind { return ActionBlockAddress }
func (a BlockAddress) String() string {
	return fmt.Sprintf("block_address(%s)", a.Addr)
}
func (BlockAddress) isAction() {}
