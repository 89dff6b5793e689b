// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package testutil

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// TestServer is a TCP server on the host side that accepts and closes
// connections.
type TestServer struct {
	Port     int
	listener net.Listener
	wg       sync.WaitGroup
}

// StartTCPServer listens on host:port in the current namespace.
func StartTCPServer(host string, port int) (*TestServer, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	server := &TestServer{Port: port, listener: listener}
	server.wg.Add(1)
	go func() {
		defer server.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	return server, nil
}

// Stop closes the listener and waits for the accept loop to exit.
func (ts *TestServer) Stop() {
	ts.listener.Close()
	ts.wg.Wait()
}

// TryConnect dials host:port from the peer namespace.
func (tn *TestNetwork) TryConnect(host string, port int) bool {
	err := tn.RunInPeerNS(func() error {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), time.Second)
		if err != nil {
			return err
		}
		return conn.Close()
	})
	return err == nil
}

// WaitForServer retries TryConnect until it succeeds or timeout passes.
func (tn *TestNetwork) WaitForServer(host string, port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if tn.TryConnect(host, port) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server %s:%d not reachable after %v", host, port, timeout)
}
