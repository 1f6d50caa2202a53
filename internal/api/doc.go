// Package api implements the HTTP API and WebSocket live view of
// Gray Logic Logger.
//
// This package provides:
//   - GET /api/v1/health: liveness and scheduler health
//   - GET /api/v1/status: sources, outputs, columns, collisions and the
//     latest cycle report
//   - GET /api/v1/system: runtime, broker, database and InfluxDB statistics
//   - GET /api/v1/records: paginated records stored by sqlite outputs
//   - WebSocket hub fanning record frames out by channel
//   - Prometheus exposition at the configured metrics path
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// The API is read-only. Configuration changes require a restart.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	exec.Observe(server.ObserveCycle)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
