// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package enforcement

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
)

// blockedValue is stored for every blocked key. Hooks only test for
// presence.
const blockedValue = uint8(0)

// Router maps a key to the table holding it and its kernel encoding.
type Router[K any] func(key K) (Table, interface{}, error)

// Blocklist applies idempotent membership changes to one or more tables.
type Blocklist[K any] struct {
	route Router[K]
}

// NewBlocklist returns a blocklist over a single table keyed by K itself.
func NewBlocklist[K any](t Table) *Blocklist[K] {
	return &Blocklist[K]{route: func(key K) (Table, interface{}, error) {
		return t, key, nil
	}}
}

// NewRoutedBlocklist returns a blocklist spread over several tables.
func NewRoutedBlocklist[K any](route Router[K]) *Blocklist[K] {
	return &Blocklist[K]{route: route}
}

// Block inserts key. Inserting a present key overwrites it.
func (b *Blocklist[K]) Block(key K) error {
	t, k, err := b.route(key)
	if err != nil {
		return err
	}
	if err := t.Put(k, blockedValue); err != nil {
		return fmt.Errorf("block %v: %w", key, err)
	}
	return nil
}

// Allow removes key. Removing an absent key is not an error.
func (b *Blocklist[K]) Allow(key K) error {
	t, k, err := b.route(key)
	if err != nil {
		return err
	}
	if err := t.Delete(k); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
		return fmt.Errorf("allow %v: %w", key, err)
	}
	return nil
}
