// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package testutil

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/cilium/ebpf"
)

// FakeTable is an in-memory stand-in for a BPF hash map. It reports absent
// keys with ebpf.ErrKeyNotExist, like the real thing.
type FakeTable struct {
	mu      sync.Mutex
	entries map[interface{}]interface{}

	// PutErr and DeleteErr, when set, are returned by every call.
	PutErr    error
	DeleteErr error
}

// NewFakeTable creates an empty table.
func NewFakeTable() *FakeTable {
	return &FakeTable{entries: make(map[interface{}]interface{})}
}

// Put stores value under key. Keys must be comparable.
func (t *FakeTable) Put(key, value interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.PutErr != nil {
		return t.PutErr
	}
	t.entries[key] = value
	return nil
}

// Delete removes key.
func (t *FakeTable) Delete(key interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.DeleteErr != nil {
		return t.DeleteErr
	}
	if _, ok := t.entries[key]; !ok {
		return fmt.Errorf("delete: %w", ebpf.ErrKeyNotExist)
	}
	delete(t.entries, key)
	return nil
}

// Contains reports whether key is present.
func (t *FakeTable) Contains(key interface{}) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.entries[key]
	return ok
}

// Len returns the number of entries.
func (t *FakeTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}

// BlocklistContains looks key up in a real blocklist map.
func BlocklistContains(m *ebpf.Map, key interface{}) (bool, error) {
	var value uint8
	err := m.Lookup(key, &value)
	if errors.Is(err, ebpf.ErrKeyNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("blocklist lookup failed: %w", err)
	}
	return true, nil
}

// CountEntries counts the entries of a map whose keys decode into K.
func CountEntries[K any](m *ebpf.Map) (int, error) {
	count := 0
	var key K
	var value uint8

	iter := m.Iterate()
	for iter.Next(&key, &value) {
		count++
	}

	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate map: %w", err)
	}

	return count, nil
}

// CheckBPFLSM returns an error message if the bpf LSM is not active,
// empty string otherwise.
func CheckBPFLSM() string {
	data, err := os.ReadFile("/sys/kernel/security/lsm")
	if err != nil {
		return fmt.Sprintf("cannot read active LSMs: %v", err)
	}
	for _, name := range strings.Split(strings.TrimSpace(string(data)), ",") {
		if name == "bpf" {
			return ""
		}
	}
	return "bpf LSM is not active"
}
