// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package enforcement

import "context"

// Table is the subset of *ebpf.Map used for blocklists.
type Table interface {
	Put(key, value interface{}) error
	Delete(key interface{}) error
}

// Attachment is a live kernel hook together with its blocklist.
type Attachment[K any] interface {
	Block(key K) error
	Allow(key K) error
	Detach() error
}

// Surface knows how to attach one kind of kernel hook.
type Surface[K any] interface {
	Name() string
	Attach() (Attachment[K], error)
}

// Enforcer is the view of a module the reconciliation loop needs.
type Enforcer[K any] interface {
	Name() string
	Block(ctx context.Context, key K) error
	Allow(ctx context.Context, key K) error
	Stop(ctx context.Context) error
}

// Ensure Module implements Enforcer
var _ Enforcer[uint64] = (*Module[uint64])(nil)
