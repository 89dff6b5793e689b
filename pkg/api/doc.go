// Package api provides a RESTful HTTP API server for managing the
// execution guard agent.
//
// The API server exposes endpoints for:
//   - Rule management (create, read, update, delete, enable, disable)
//   - Rule statistics
//   - Health checks and module status
//   - Prometheus metrics
//
// # Example Usage
//
//	cfg := api.DefaultConfig()
//	cfg.Port = 9630
//
//	server, err := api.NewAPIServer(cfg, api.Deps{Store: store})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := server.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer server.Stop(ctx)
//
// # Endpoints
//
// Health check:
//   - GET /api/v1/health  - Simple health check
//   - GET /api/v1/status  - Module load state and rule counts
//
// Rule management:
//   - POST   /api/v1/rules             - Create rule
//   - GET    /api/v1/rules             - List all rules
//   - GET    /api/v1/rules/:id         - Get specific rule
//   - PUT    /api/v1/rules/:id         - Replace rule content
//   - DELETE /api/v1/rules/:id         - Remove rule
//   - POST   /api/v1/rules/:id/enable  - Activate rule
//   - POST   /api/v1/rules/:id/disable - Deactivate rule
//
// Statistics:
//   - GET /api/v1/stats - Rule counts by module and filter
//   - GET /metrics      - Prometheus exposition
//
// # Errors
//
// Failures use models.ErrorResponse. Validation failures are 400, unknown
// IDs 404, duplicates 409 with the existing ID in details, and a stopped
// store 503.
package api
