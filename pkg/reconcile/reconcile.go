// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package reconcile keeps kernel enforcement in line with the policy
// store. It consumes store notifications one at a time and turns each
// delta into Block/Allow calls on the enforcement modules.
//
// Several rules may enforce the same target (two differently named rules
// blocking one inode). The reconciler counts references per target and
// only touches the kernel on the first apply and the last revert.
package reconcile

import (
	"context"
	"net/netip"
	"time"

	"github.com/execguard/agent/pkg/enforcement"
	"github.com/execguard/agent/pkg/metrics"
	"github.com/execguard/agent/pkg/policy"
	"github.com/execguard/agent/pkg/rule"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// DefaultShutdownTimeout bounds the ordered shutdown started by Run.
const DefaultShutdownTimeout = 30 * time.Second

// Store is the part of the policy store the loop consumes and stops.
type Store interface {
	Notifications() <-chan policy.Notification
	Stop(ctx context.Context) error
}

// Listener is told about every notification after enforcement ran.
type Listener interface {
	RulesChanged(n policy.Notification)
}

// Stopper is a facade stopped last during shutdown.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Config wires a Reconciler. Programs and Network may be nil when the
// surface is disabled.
type Config struct {
	Store     Store
	Programs  enforcement.Enforcer[uint64]
	Network   enforcement.Enforcer[netip.Addr]
	Listeners []Listener
	Facades   []Stopper
	Metrics   *metrics.Metrics

	ShutdownTimeout time.Duration
}

type target struct {
	module rule.ModuleKind
	inode  uint64
	addr   netip.Addr
}

// Reconciler is the reconciliation loop.
type Reconciler struct {
	cfg  Config
	refs map[target]int
}

// New creates a reconciler.
func New(cfg Config) *Reconciler {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Reconciler{cfg: cfg, refs: make(map[target]int)}
}

// Resync applies every active rule in rules. It is used once at startup
// for rules restored from storage, before Run.
func (r *Reconciler) Resync(ctx context.Context, rules []rule.WithID) {
	for _, rw := range rules {
		if rw.Rule.IsActive {
			r.apply(ctx, rw.ID, rw.Rule)
		}
	}
	log.Infof("Resynchronized enforcement with %d rules", len(rules))
}

// Run handles notifications until ctx is done or the stream closes, then
// performs the ordered shutdown.
func (r *Reconciler) Run(ctx context.Context) error {
	notifications := r.cfg.Store.Notifications()
	for {
		select {
		case <-ctx.Done():
			log.Info("Termination requested, shutting down...")
			return r.shutdown()
		case n, ok := <-notifications:
			if !ok {
				log.Warn("Notification stream closed, shutting down...")
				return r.shutdown()
			}
			r.Handle(ctx, n)
		}
	}
}

// Handle applies one notification and forwards it to the listeners.
func (r *Reconciler) Handle(ctx context.Context, n policy.Notification) {
	switch n := n.(type) {
	case policy.RuleAdded:
		if n.Rule.IsActive {
			r.apply(ctx, n.ID, n.Rule)
		}
	case policy.RuleRemoved:
		if n.Rule.IsActive {
			r.revert(ctx, n.ID, n.Rule)
		}
	case policy.RuleUpdated:
		r.update(ctx, n)
	}

	for _, l := range r.cfg.Listeners {
		l.RulesChanged(n)
	}
}

func (r *Reconciler) update(ctx context.Context, n policy.RuleUpdated) {
	switch {
	case !n.Old.IsActive && n.New.IsActive:
		r.apply(ctx, n.ID, n.New)
	case n.Old.IsActive && !n.New.IsActive:
		r.revert(ctx, n.ID, n.Old)
	case n.Old.IsActive && n.New.IsActive:
		// Content changed under an active rule: move enforcement to the
		// new target. Apply first so the target is never left open when
		// old and new share it through another rule.
		oldTarget, oldOK := targetOf(n.Old)
		newTarget, newOK := targetOf(n.New)
		if oldOK == newOK && oldTarget == newTarget {
			return
		}
		r.apply(ctx, n.ID, n.New)
		r.revert(ctx, n.ID, n.Old)
	}
}

// targetOf returns what r enforces. Only Basic filters are translated.
func targetOf(r rule.Rule) (target, bool) {
	if r.Module == nil {
		return target{}, false
	}
	spec := r.Module.Spec()
	if _, ok := spec.Filter.(rule.Basic); !ok {
		return target{}, false
	}

	switch a := spec.Action.(type) {
	case rule.BlockProgramExecution:
		return target{module: rule.ModuleProgramMonitor, inode: a.Inode}, true
	case rule.BlockAddress:
		// 192.0.2.1 and ::ffff:192.0.2.1 share one kernel key, as do
		// addresses differing only by zone.
		return target{module: rule.ModuleNetworkMonitor, addr: a.Addr.Unmap().WithZone("")}, true
	}
	return target{}, false
}

func (r *Reconciler) skip(id rule.ID, ru rule.Rule) {
	if ru.Module == nil {
		return
	}
	log.WithFields(log.Fields{
		"rule_id": id,
		"module":  ru.Module.Kind(),
		"filter":  ru.Module.Spec().Filter.Kind(),
	}).Warn("Filter has no enforcement translation, rule stored but not enforced")
}

func (r *Reconciler) apply(ctx context.Context, id rule.ID, ru rule.Rule) {
	t, ok := targetOf(ru)
	if !ok {
		r.skip(id, ru)
		return
	}

	r.refs[t]++
	if r.refs[t] > 1 {
		log.Debugf("Rule %d shares an already enforced target", id)
		return
	}

	if err := r.enforce(ctx, t, true); err != nil {
		// Forget the reference so a later apply retries the kernel.
		r.release(t)
		r.fail(id, t, "block", err)
	}
}

func (r *Reconciler) revert(ctx context.Context, id rule.ID, ru rule.Rule) {
	t, ok := targetOf(ru)
	if !ok {
		return
	}
	if r.refs[t] == 0 {
		// Apply failed earlier; nothing is in the kernel for this rule.
		return
	}

	if r.release(t) > 0 {
		log.Debugf("Target of rule %d still enforced by another rule", id)
		return
	}

	if err := r.enforce(ctx, t, false); err != nil {
		r.fail(id, t, "allow", err)
	}
}

func (r *Reconciler) release(t target) int {
	r.refs[t]--
	n := r.refs[t]
	if n <= 0 {
		delete(r.refs, t)
	}
	return n
}

func (r *Reconciler) enforce(ctx context.Context, t target, block bool) error {
	switch t.module {
	case rule.ModuleProgramMonitor:
		if r.cfg.Programs == nil {
			return errSurfaceDisabled(t.module)
		}
		if block {
			return r.cfg.Programs.Block(ctx, t.inode)
		}
		return r.cfg.Programs.Allow(ctx, t.inode)
	case rule.ModuleNetworkMonitor:
		if r.cfg.Network == nil {
			return errSurfaceDisabled(t.module)
		}
		if block {
			return r.cfg.Network.Block(ctx, t.addr)
		}
		return r.cfg.Network.Allow(ctx, t.addr)
	}
	return errSurfaceDisabled(t.module)
}

func (r *Reconciler) fail(id rule.ID, t target, op string, err error) {
	r.cfg.Metrics.ReconcileFailure(t.module.String())
	log.WithFields(log.Fields{
		"rule_id": id,
		"module":  t.module,
		"op":      op,
	}).Errorf("Enforcement failed: %v", err)
}

// shutdown stops the modules, then the store, then the facades. Every
// step runs even if an earlier one failed.
func (r *Reconciler) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ShutdownTimeout)
	defer cancel()

	var result *multierror.Error

	if r.cfg.Programs != nil {
		if err := r.cfg.Programs.Stop(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if r.cfg.Network != nil {
		if err := r.cfg.Network.Stop(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := r.cfg.Store.Stop(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	for _, f := range r.cfg.Facades {
		if err := f.Stop(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}
