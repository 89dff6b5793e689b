// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

// Package daemon wires the agent together: arena, enforcement modules,
// policy store, facades and the reconciliation loop.
package daemon

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"github.com/cilium/ebpf/rlimit"
	"github.com/execguard/agent/pkg/api"
	"github.com/execguard/agent/pkg/api/handlers"
	"github.com/execguard/agent/pkg/config"
	"github.com/execguard/agent/pkg/dataplane"
	"github.com/execguard/agent/pkg/enforcement"
	"github.com/execguard/agent/pkg/ipc"
	"github.com/execguard/agent/pkg/metrics"
	"github.com/execguard/agent/pkg/policy"
	"github.com/execguard/agent/pkg/reconcile"
	"github.com/execguard/agent/pkg/rule"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
)

const startupTimeout = 30 * time.Second

// stack unwinds partially started components when startup fails.
type stack []func(context.Context) error

func (s *stack) push(stop func(context.Context) error) {
	*s = append(*s, stop)
}

func (s stack) unwind(cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	result := multierror.Append(nil, cause)
	for i := len(s) - 1; i >= 0; i-- {
		if err := s[i](ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Run starts the agent and blocks until ctx is done, then shuts down in
// order: enforcement modules, policy store, facades.
func Run(ctx context.Context, cfg config.Config, version string) error {
	log.Infof("Starting execguard agent %s", version)
	log.Debugf("Configuration: %s", cfg)

	if err := rlimit.RemoveMemlock(); err != nil {
		return fmt.Errorf("failed to remove memlock limit: %w", err)
	}
	if cfg.ProgramMonitor.Enabled {
		if err := dataplane.CheckLSMEnvironment(); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	arena, err := dataplane.OpenArena(cfg.BPFObject)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", cfg.BPFObject, err)
	}
	defer arena.Close()
	log.Info("✓ eBPF object loaded")

	var started stack

	store, err := openStore(cfg, m)
	if err != nil {
		return err
	}
	started.push(store.Stop)

	rules, err := store.GetRules(ctx)
	if err != nil {
		return started.unwind(err)
	}
	log.Infof("✓ Policy store ready with %d rules", len(rules))

	opts := enforcement.Options{Capacity: cfg.MailboxCapacity, Metrics: m}
	var statuses []handlers.ModuleStatusProvider

	var programs *enforcement.Module[uint64]
	if cfg.ProgramMonitor.Enabled {
		programs = enforcement.New[uint64](dataplane.NewProgramMonitor(arena), opts)
		started.push(programs.Stop)
		if err := programs.Load(ctx); err != nil {
			return started.unwind(fmt.Errorf("failed to load program monitor: %w", err))
		}
		statuses = append(statuses, programs)
		log.Info("✓ Program monitor attached")
	}

	var network *enforcement.Module[netip.Addr]
	if cfg.NetworkMonitor.Enabled {
		flags, err := dataplane.ParseXDPMode(cfg.NetworkMonitor.XDPMode)
		if err != nil {
			return started.unwind(err)
		}
		network = enforcement.New[netip.Addr](
			dataplane.NewNetworkMonitor(arena, cfg.NetworkMonitor.Interface, flags), opts)
		started.push(network.Stop)
		if err := network.Load(ctx); err != nil {
			log.Errorf("Network monitor not attached to %s: %v", cfg.NetworkMonitor.Interface, err)
		} else {
			log.Infof("✓ Network monitor attached to %s", cfg.NetworkMonitor.Interface)
		}
		statuses = append(statuses, network)
	}

	rc := reconcile.Config{
		Store:   store,
		Metrics: m,
	}
	if programs != nil {
		rc.Programs = programs
	}
	if network != nil {
		rc.Network = network
	}

	if cfg.DBus.Enabled {
		service, err := startDBus(cfg.DBus, store, m, rules)
		if err != nil {
			return started.unwind(err)
		}
		started.push(service.Stop)
		rc.Listeners = append(rc.Listeners, service)
		rc.Facades = append(rc.Facades, service)
	}

	if cfg.API.Enabled {
		apiCfg := cfg.API
		server, err := api.NewAPIServer(&apiCfg, api.Deps{
			Store:    store,
			Modules:  statuses,
			Gatherer: reg,
			Metrics:  m,
			Version:  version,
		})
		if err != nil {
			return started.unwind(err)
		}
		if err := server.Start(); err != nil {
			return started.unwind(err)
		}
		started.push(server.Stop)
		rc.Facades = append(rc.Facades, server)
		log.Infof("✓ API server started on http://%s", apiCfg.Addr())
	}

	reconciler := reconcile.New(rc)
	reconciler.Resync(ctx, rules)

	log.Info("✓ Agent running. Press Ctrl+C to exit")
	return reconciler.Run(ctx)
}

func openStore(cfg config.Config, m *metrics.Metrics) (*policy.Store, error) {
	opts := policy.Options{Capacity: cfg.MailboxCapacity, Metrics: m}

	if cfg.Storage.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
		storage, err := policy.NewSQLiteStorage(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		opts.Storage = storage
	} else {
		log.Warn("No storage path configured, rules will not survive a restart")
	}

	store, err := policy.NewStore(opts)
	if err != nil {
		if opts.Storage != nil {
			opts.Storage.Close()
		}
		return nil, err
	}
	return store, nil
}

func startDBus(cfg config.DBusConfig, store policy.Manager, m *metrics.Metrics, rules []rule.WithID) (*ipc.Service, error) {
	conn, err := ipc.Connect(cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s bus: %w", cfg.Bus, err)
	}

	service := ipc.NewService(conn, store, ipc.ServiceOptions{Name: cfg.Name, Metrics: m})
	service.Sync(rules)
	if err := service.Start(); err != nil {
		conn.Close()
		return nil, err
	}
	log.Infof("✓ D-Bus service %s on the %s bus", cfg.Name, cfg.Bus)
	return service, nil
}
