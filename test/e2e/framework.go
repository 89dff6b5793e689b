// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause

//go:build e2e

// Package e2e provides the end-to-end testing framework for the agent.
// It loads the real eBPF object, attaches the LSM and XDP programs and
// drives rules through the policy store and the HTTP API, then checks
// their effect on program execution and traffic.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"
	"github.com/execguard/agent/pkg/api"
	"github.com/execguard/agent/pkg/api/handlers"
	"github.com/execguard/agent/pkg/dataplane"
	"github.com/execguard/agent/pkg/enforcement"
	"github.com/execguard/agent/pkg/policy"
	"github.com/execguard/agent/pkg/reconcile"
	"github.com/execguard/agent/pkg/rule"
	"github.com/execguard/agent/pkg/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

// objectPath is the compiled BPF object, overridable with
// EXECGUARD_BPF_OBJECT.
func objectPath() string {
	if p := os.Getenv("EXECGUARD_BPF_OBJECT"); p != "" {
		return p
	}
	return filepath.Join("..", "..", "bpf", "execguard.bpf.o")
}

// E2ETestEnv represents a complete end-to-end test environment.
type E2ETestEnv struct {
	T        *testing.T
	Network  *testutil.TestNetwork
	Arena    *dataplane.Arena
	Store    *policy.Store
	Programs *enforcement.Module[uint64]
	Hosts    *enforcement.Module[netip.Addr]
	Router   *gin.Engine

	cancel       context.CancelFunc
	done         chan error
	cleanupFuncs []func()
}

// Options selects the surfaces an environment attaches.
type Options struct {
	Programs bool
	Network  bool
}

// NewE2ETestEnv creates a new end-to-end test environment. It skips the
// test when the host cannot run it.
func NewE2ETestEnv(t *testing.T, opts Options) *E2ETestEnv {
	if msg := testutil.CheckE2ERequirements(); msg != "" {
		t.Skip(msg)
	}
	if opts.Programs {
		if msg := testutil.CheckBPFLSM(); msg != "" {
			t.Skip(msg)
		}
	}
	if _, err := os.Stat(objectPath()); err != nil {
		t.Skipf("BPF object not built: %v", err)
	}
	require.NoError(t, rlimit.RemoveMemlock())

	env := &E2ETestEnv{T: t, done: make(chan error, 1)}
	t.Cleanup(env.Cleanup)

	arena, err := dataplane.OpenArena(objectPath())
	require.NoError(t, err, "Failed to load BPF object")
	env.Arena = arena
	env.addCleanup(func() { arena.Close() })

	storage, err := policy.NewSQLiteStorage(filepath.Join(t.TempDir(), "rules.db"))
	require.NoError(t, err)
	store, err := policy.NewStore(policy.Options{Storage: storage})
	require.NoError(t, err)
	env.Store = store

	cfg := reconcile.Config{Store: store, ShutdownTimeout: 10 * time.Second}
	var modules []handlers.ModuleStatusProvider

	if opts.Programs {
		env.Programs = enforcement.New[uint64](dataplane.NewProgramMonitor(arena), enforcement.Options{})
		require.NoError(t, env.Programs.Load(context.Background()), "Failed to attach LSM program")
		cfg.Programs = env.Programs
		modules = append(modules, env.Programs)
	}

	if opts.Network {
		network, err := testutil.NewTestNetwork()
		require.NoError(t, err, "Failed to create test network")
		env.Network = network
		env.addCleanup(network.Cleanup)

		surface := dataplane.NewNetworkMonitor(arena, network.HostVeth, link.XDPGenericMode)
		env.Hosts = enforcement.New[netip.Addr](surface, enforcement.Options{})
		require.NoError(t, env.Hosts.Load(context.Background()), "Failed to attach XDP program")
		cfg.Network = env.Hosts
		modules = append(modules, env.Hosts)
	}

	server, err := api.NewAPIServer(nil, api.Deps{Store: store, Modules: modules, Version: "e2e"})
	require.NoError(t, err)
	env.Router = server.GetRouter()

	ctx, cancel := context.WithCancel(context.Background())
	env.cancel = cancel
	go func() { env.done <- reconcile.New(cfg).Run(ctx) }()

	return env
}

// addCleanup adds a cleanup function to be called on test teardown.
func (env *E2ETestEnv) addCleanup(fn func()) {
	env.cleanupFuncs = append(env.cleanupFuncs, fn)
}

// Cleanup stops the reconciler, which stops the modules and the store,
// then releases the remaining resources in reverse order.
func (env *E2ETestEnv) Cleanup() {
	if env.cancel != nil {
		env.cancel()
		if err := <-env.done; err != nil {
			env.T.Logf("shutdown: %v", err)
		}
		env.cancel = nil
	}
	for i := len(env.cleanupFuncs) - 1; i >= 0; i-- {
		env.cleanupFuncs[i]()
	}
	env.cleanupFuncs = nil
}

// AddRule adds r through the store.
func (env *E2ETestEnv) AddRule(r rule.Rule) rule.ID {
	id, err := env.Store.AddRule(context.Background(), r)
	require.NoError(env.T, err)
	return id
}

// DoHTTPRequest sends a request to the API router.
func (env *E2ETestEnv) DoHTTPRequest(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(env.T, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(env.T, err)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)
	return w
}

// CanExec reports whether path can be executed.
func CanExec(path string) bool {
	return exec.Command(path).Run() == nil
}

// Eventually polls cond until it holds or timeout passes.
func (env *E2ETestEnv) Eventually(cond func() bool, msg string, args ...interface{}) {
	require.Eventually(env.T, cond, 5*time.Second, 50*time.Millisecond, fmt.Sprintf(msg, args...))
}
