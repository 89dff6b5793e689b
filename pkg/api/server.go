// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/execguard/agent/pkg/api/handlers"
	"github.com/execguard/agent/pkg/metrics"
	"github.com/execguard/agent/pkg/policy"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// Deps are the components the API server talks to.
type Deps struct {
	Store   policy.Manager
	Modules []handlers.ModuleStatusProvider

	// Resolve maps program paths to inodes; nil selects handlers.StatInode.
	Resolve handlers.InodeResolver

	// Gatherer backs GET /metrics. The route is absent when nil.
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics
	Version  string
}

// Server represents the HTTP API server that provides RESTful endpoints
// for managing rules and monitoring agent health.
// It uses the Gin framework and talks to the policy store.
type Server struct {
	config     *Config
	deps       Deps
	httpServer *http.Server
	router     *gin.Engine
}

// NewAPIServer creates and initializes a new API server instance.
// It sets up the Gin router, configures middleware, and registers all routes.
//
// Parameters:
//   - cfg: API server configuration (nil uses defaults)
//   - deps: policy store, module status sources and metrics
//
// Returns:
//   - *Server: Initialized server instance
//   - error: Error if initialization fails
func NewAPIServer(cfg *Config, deps Deps) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if deps.Store == nil {
		return nil, errors.New("api server requires a policy store")
	}

	// Set Gin mode based on log level
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create router
	router := gin.New()

	server := &Server{
		config: cfg,
		deps:   deps,
		router: router,
	}

	// Setup routes and middleware
	server.setupMiddleware()
	server.setupRoutes()

	return server, nil
}

// Start binds the listen address and serves in a background goroutine.
// Bind errors are returned; errors after that are logged.
func (s *Server) Start() error {
	addr := s.config.Addr()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	log.Infof("Starting API server on %s", addr)

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Errorf("API server failed: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server, waiting for in-flight
// requests until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	log.Info("Shutting down API server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Errorf("API server forced to shutdown: %v", err)
		return err
	}

	log.Info("API server stopped gracefully")
	return nil
}

// GetRouter returns the underlying Gin router instance.
// This is primarily useful for testing purposes to inject
// test HTTP requests without starting the full HTTP server.
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
