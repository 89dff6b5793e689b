// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/execguard/agent/pkg/enforcement"
	"github.com/execguard/agent/pkg/policy"
	"github.com/execguard/agent/pkg/reconcile"
	"github.com/execguard/agent/pkg/rule"
	"github.com/execguard/agent/pkg/testutil"

	log "github.com/sirupsen/logrus"
)

var (
	ruleCount = flag.Int("rules", 10000, "Number of rules to add")
	dbPath    = flag.String("db", "", "SQLite file to persist rules to (empty keeps rules in memory)")
	capacity  = flag.Int("capacity", 0, "Mailbox capacity (0 selects the default)")
	timeout   = flag.Duration("timeout", 2*time.Minute, "Overall test timeout")
)

// memorySurface attaches an in-memory blocklist so the tool measures the
// store and reconciler without touching the kernel.
type memorySurface struct {
	table *testutil.FakeTable
}

type memoryAttachment struct {
	*enforcement.Blocklist[uint64]
}

func (memoryAttachment) Detach() error { return nil }

func (s *memorySurface) Name() string { return "program_monitor" }

func (s *memorySurface) Attach() (enforcement.Attachment[uint64], error) {
	return memoryAttachment{enforcement.NewBlocklist[uint64](s.table)}, nil
}

func main() {
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel)

	log.Info("=== Rule Pipeline Performance Test ===")
	log.Infof("Rules: %d", *ruleCount)
	log.Infof("Storage: %q", *dbPath)
	log.Info("======================================")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	opts := policy.Options{Capacity: *capacity}
	if *dbPath != "" {
		storage, err := policy.NewSQLiteStorage(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open storage: %v", err)
		}
		opts.Storage = storage
	}
	store, err := policy.NewStore(opts)
	if err != nil {
		log.Fatalf("Failed to create policy store: %v", err)
	}

	surface := &memorySurface{table: testutil.NewFakeTable()}
	programs := enforcement.New[uint64](surface, enforcement.Options{Capacity: *capacity})
	if err := programs.Load(ctx); err != nil {
		log.Fatalf("Failed to load module: %v", err)
	}

	runCtx, stopRun := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- reconcile.New(reconcile.Config{Store: store, Programs: programs}).Run(runCtx)
	}()

	ids := make([]rule.ID, 0, *ruleCount)
	phase := func(name string, target int, fn func(i int) error) {
		start := time.Now()
		for i := 0; i < *ruleCount; i++ {
			if err := fn(i); err != nil {
				log.Fatalf("%s %d failed: %v", name, i, err)
			}
		}
		submitted := time.Since(start)
		if !waitFor(ctx, func() bool { return surface.table.Len() == target }) {
			log.Fatalf("%s: blocklist has %d entries, want %d", name, surface.table.Len(), target)
		}
		total := time.Since(start)
		log.Infof("%-8s submitted in %v, enforced in %v (%.0f rules/s)",
			name, submitted, total, float64(*ruleCount)/total.Seconds())
	}

	phase("add", *ruleCount, func(i int) error {
		id, err := store.AddRule(ctx, rule.Rule{
			Name:     "perf",
			IsActive: true,
			Module: rule.ProgramMonitor{ModuleRule: rule.ModuleRule{
				Filter: rule.Basic{},
				Action: rule.BlockProgramExecution{Inode: uint64(i) + 1},
			}},
		})
		ids = append(ids, id)
		return err
	})
	phase("disable", 0, func(i int) error { return store.DisableRule(ctx, ids[i]) })
	phase("enable", *ruleCount, func(i int) error { return store.EnableRule(ctx, ids[i]) })
	phase("remove", 0, func(i int) error { return store.RemoveRule(ctx, ids[i]) })

	stopRun()
	if err := <-done; err != nil {
		log.Errorf("Shutdown failed: %v", err)
	}

	log.Info("=== Test Complete ===")
}

// waitFor polls cond until it holds or ctx is done.
func waitFor(ctx context.Context, cond func() bool) bool {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for !cond() {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return true
}
