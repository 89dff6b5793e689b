// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package enforcement

import (
	"context"
	"errors"

	"github.com/execguard/agent/pkg/actor"
	"github.com/execguard/agent/pkg/metrics"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrModuleAlreadyLoaded is returned by Load on a loaded module.
	ErrModuleAlreadyLoaded = errors.New("module already loaded")

	// ErrModuleNotLoaded is returned by Unload, Block and Allow on an
	// unloaded module.
	ErrModuleNotLoaded = errors.New("module not loaded")
)

// Options configures a Module.
type Options struct {
	Capacity int
	Metrics  *metrics.Metrics
}

// Module is the enforcement actor for one surface.
type Module[K any] struct {
	name    string
	mb      *actor.Mailbox[command[K]]
	metrics *metrics.Metrics
}

type moduleState[K any] struct {
	surface    Surface[K]
	attachment Attachment[K]
	metrics    *metrics.Metrics
}

type command[K any] struct {
	op    op
	key   K
	reply actor.Reply[bool]
}

type op uint8

const (
	opLoad op = iota
	opUnload
	opBlock
	opAllow
	opStatus
)

func (o op) String() string {
	switch o {
	case opLoad:
		return "load"
	case opUnload:
		return "unload"
	case opBlock:
		return "block"
	case opAllow:
		return "allow"
	default:
		return "status"
	}
}

// New starts an unloaded module for surface.
func New[K any](surface Surface[K], opts Options) *Module[K] {
	st := &moduleState[K]{surface: surface, metrics: opts.Metrics}
	opts.Metrics.SetModuleLoaded(surface.Name(), false)

	return &Module[K]{
		name:    surface.Name(),
		mb:      actor.Start(st, handle[K], opts.Capacity),
		metrics: opts.Metrics,
	}
}

// Name identifies the module in logs and metrics.
func (m *Module[K]) Name() string {
	return m.name
}

func (m *Module[K]) call(ctx context.Context, o op, key K) (bool, error) {
	return actor.PostAndReply(ctx, m.mb, func(r actor.Reply[bool]) command[K] {
		return command[K]{op: o, key: key, reply: r}
	})
}

// Load attaches the hook and takes ownership of the blocklist.
func (m *Module[K]) Load(ctx context.Context) error {
	var zero K
	_, err := m.call(ctx, opLoad, zero)
	return err
}

// Unload detaches the hook and releases the blocklist.
func (m *Module[K]) Unload(ctx context.Context) error {
	var zero K
	_, err := m.call(ctx, opUnload, zero)
	return err
}

// Block adds key to the blocklist.
func (m *Module[K]) Block(ctx context.Context, key K) error {
	_, err := m.call(ctx, opBlock, key)
	return err
}

// Allow removes key from the blocklist.
func (m *Module[K]) Allow(ctx context.Context, key K) error {
	_, err := m.call(ctx, opAllow, key)
	return err
}

// Loaded reports whether the module is attached.
func (m *Module[K]) Loaded(ctx context.Context) (bool, error) {
	var zero K
	return m.call(ctx, opStatus, zero)
}

// Stop unloads the module if needed and terminates its actor.
func (m *Module[K]) Stop(ctx context.Context) error {
	var errs []error
	if err := m.Unload(ctx); err != nil && !errors.Is(err, ErrModuleNotLoaded) {
		errs = append(errs, err)
	}
	if err := m.mb.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func handle[K any](_ context.Context, st *moduleState[K], cmd command[K]) *moduleState[K] {
	var err error
	switch cmd.op {
	case opLoad:
		err = st.load()
	case opUnload:
		err = st.unload()
	case opBlock:
		if st.attachment == nil {
			err = ErrModuleNotLoaded
			break
		}
		err = st.attachment.Block(cmd.key)
	case opAllow:
		if st.attachment == nil {
			err = ErrModuleNotLoaded
			break
		}
		err = st.attachment.Allow(cmd.key)
	case opStatus:
		cmd.reply.Send(st.attachment != nil, nil)
		return st
	}

	name := st.surface.Name()
	st.metrics.ModuleOp(name, cmd.op.String(), err)
	if err != nil {
		log.WithFields(log.Fields{"module": name, "op": cmd.op.String()}).Debugf("Module operation failed: %v", err)
	} else if cmd.op == opBlock || cmd.op == opAllow {
		log.WithFields(log.Fields{"module": name, "op": cmd.op.String(), "key": cmd.key}).Info("Blocklist updated")
	}

	cmd.reply.Send(st.attachment != nil, err)
	return st
}

func (st *moduleState[K]) load() error {
	if st.attachment != nil {
		return ErrModuleAlreadyLoaded
	}

	a, err := st.surface.Attach()
	if err != nil {
		return err
	}
	st.attachment = a
	st.metrics.SetModuleLoaded(st.surface.Name(), true)
	log.Infof("✓ %s loaded", st.surface.Name())
	return nil
}

func (st *moduleState[K]) unload() error {
	if st.attachment == nil {
		return ErrModuleNotLoaded
	}

	err := st.attachment.Detach()
	// The hook is gone or unusable either way; never report Loaded with a
	// half-detached attachment.
	st.attachment = nil
	st.metrics.SetModuleLoaded(st.surface.Name(), false)
	if err != nil {
		return err
	}
	log.Infof("%s unloaded", st.surface.Name())
	return nil
}
