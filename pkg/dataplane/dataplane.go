// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package dataplane

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/btf"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrTypeMetadata wraps failures to load kernel BTF.
	ErrTypeMetadata = errors.New("kernel type metadata unavailable")

	// ErrProgramNotFound is returned when the object has no such program
	// or it is already taken.
	ErrProgramNotFound = errors.New("program not found")

	// ErrMapNotFound is returned when the object has no such map or it is
	// already taken.
	ErrMapNotFound = errors.New("map not found")

	// ErrAttach wraps hook attachment failures.
	ErrAttach = errors.New("attach failed")

	// ErrArenaClosed is returned after Close.
	ErrArenaClosed = errors.New("arena closed")
)

// Arena owns the loaded BPF collection.
type Arena struct {
	mu   sync.Mutex
	coll *ebpf.Collection
}

// OpenArena loads the BPF object at path against the running kernel's
// type information.
func OpenArena(path string) (*Arena, error) {
	spec, err := ebpf.LoadCollectionSpec(path)
	if err != nil {
		return nil, fmt.Errorf("loading BPF object %s: %w", path, err)
	}

	kernelTypes, err := btf.LoadKernelSpec()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTypeMetadata, err)
	}

	coll, err := ebpf.NewCollectionWithOptions(spec, ebpf.CollectionOptions{
		Programs: ebpf.ProgramOptions{KernelTypes: kernelTypes},
	})
	if err != nil {
		var verr *ebpf.VerifierError
		if errors.As(err, &verr) {
			log.Debugf("Verifier log:\n%+v", verr)
		}
		return nil, fmt.Errorf("loading eBPF objects: %w", err)
	}

	log.Debugf("eBPF objects loaded successfully: %d programs, %d maps", len(coll.Programs), len(coll.Maps))
	return NewArena(coll), nil
}

// NewArena wraps an already loaded collection.
func NewArena(coll *ebpf.Collection) *Arena {
	return &Arena{coll: coll}
}

// TakeProgram transfers ownership of the named program to the caller.
func (a *Arena) TakeProgram(name string) (*ebpf.Program, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.coll == nil {
		return nil, ErrArenaClosed
	}
	if a.coll.Programs[name] == nil {
		return nil, fmt.Errorf("%w: %s", ErrProgramNotFound, name)
	}
	return a.coll.DetachProgram(name), nil
}

// TakeMap transfers ownership of the named map to the caller.
func (a *Arena) TakeMap(name string) (*ebpf.Map, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.coll == nil {
		return nil, ErrArenaClosed
	}
	if a.coll.Maps[name] == nil {
		return nil, fmt.Errorf("%w: %s", ErrMapNotFound, name)
	}
	return a.coll.DetachMap(name), nil
}

// ReturnProgram gives a taken program back. After Close it is closed
// instead.
func (a *Arena) ReturnProgram(name string, p *ebpf.Program) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.coll == nil {
		p.Close()
		return
	}
	a.coll.Programs[name] = p
}

// ReturnMap gives a taken map back. After Close it is closed instead.
func (a *Arena) ReturnMap(name string, m *ebpf.Map) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.coll == nil {
		m.Close()
		return
	}
	a.coll.Maps[name] = m
}

// Close releases every handle still held by the arena.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.coll == nil {
		return nil
	}
	a.coll.Close()
	a.coll = nil

	log.Info("BPF objects released")
	return nil
}

// checkout takes a program and a set of maps, returning everything
// already taken if any of them is missing.
func (a *Arena) checkout(program string, maps ...string) (*ebpf.Program, map[string]*ebpf.Map, error) {
	prog, err := a.TakeProgram(program)
	if err != nil {
		return nil, nil, err
	}

	taken := make(map[string]*ebpf.Map, len(maps))
	for _, name := range maps {
		m, err := a.TakeMap(name)
		if err != nil {
			a.checkin(program, prog, taken)
			return nil, nil, err
		}
		taken[name] = m
	}
	return prog, taken, nil
}

func (a *Arena) checkin(program string, prog *ebpf.Program, maps map[string]*ebpf.Map) {
	a.ReturnProgram(program, prog)
	for name, m := range maps {
		a.ReturnMap(name, m)
	}
}
