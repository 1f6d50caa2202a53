package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-logger/internal/engine"
	"github.com/nerrad567/gray-logic-logger/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-logger/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-logger/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-logger/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-logger/internal/records"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// EngineInfo is the read-only view of the executor the API reports on.
// *engine.Executor satisfies it.
type EngineInfo interface {
	Count() uint64
	SourceNames() []string
	OutputNames() []string
	Tables() *engine.Tables
}

// SchedulerInfo reports the scheduler lifecycle state.
type SchedulerInfo interface {
	State() engine.State
}

// EventStatsProvider reports event queue counters.
// *engine.EventScheduler satisfies it.
type EventStatsProvider interface {
	Stats() engine.EventStats
}

// BrokerInfo reports broker connectivity and traffic.
// *mqtt.Client satisfies it.
type BrokerInfo interface {
	IsConnected() bool
	Stats() mqtt.Stats
}

// DBStatsProvider reports connection pool statistics.
// *database.DB satisfies it.
type DBStatsProvider interface {
	Stats() sql.DBStats
}

// WriteStatsProvider reports time-series write counters.
// *influxdb.Client satisfies it.
type WriteStatsProvider interface {
	IsConnected() bool
	Stats() influxdb.WriteStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Metrics config.MetricsConfig
	Logger  *logging.Logger

	// Engine is required; the rest are optional and their endpoints
	// degrade gracefully when nil.
	Engine    EngineInfo
	Scheduler SchedulerInfo
	Events    EventStatsProvider
	Records   records.Repository
	MQTT      BrokerInfo
	DB        DBStatsProvider
	Influx    WriteStatsProvider

	// Prometheus serves the metrics exposition at Metrics.Path.
	Prometheus http.Handler

	// ExternalHub replaces the hub New would create. The server runs it
	// from Start either way.
	ExternalHub *Hub

	Version string
}

// Server is the HTTP API server for Gray Logic Logger.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	metricsCfg config.MetricsConfig
	logger     *logging.Logger
	engine     EngineInfo
	scheduler  SchedulerInfo
	events     EventStatsProvider
	records    records.Repository
	mqtt       BrokerInfo
	db         DBStatsProvider
	influx     WriteStatsProvider
	prometheus http.Handler
	version    string
	startTime  time.Time
	server     *http.Server
	hub        *Hub
	cancel     context.CancelFunc

	reportMu   sync.RWMutex
	lastReport *engine.CycleReport
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, engine)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	hub := deps.ExternalHub
	if hub == nil {
		hub = NewHub(deps.WS, deps.Logger)
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		metricsCfg: deps.Metrics,
		logger:     deps.Logger,
		engine:     deps.Engine,
		scheduler:  deps.Scheduler,
		events:     deps.Events,
		records:    deps.Records,
		mqtt:       deps.MQTT,
		db:         deps.DB,
		influx:     deps.Influx,
		prometheus: deps.Prometheus,
		version:    deps.Version,
		startTime:  time.Now(),
		hub:        hub,
	}, nil
}

// Hub returns the WebSocket hub records are broadcast through.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ObserveCycle stores the latest cycle report for the status endpoint.
// Register it with Executor.Observe.
func (s *Server) ObserveCycle(report *engine.CycleReport) {
	s.reportMu.Lock()
	s.lastReport = report
	s.reportMu.Unlock()
}

func (s *Server) latestReport() *engine.CycleReport {
	s.reportMu.RLock()
	defer s.reportMu.RUnlock()
	return s.lastReport
}

// Handler returns the router without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub and launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the hub; cancelling it disconnects clients
//
// Returns:
//   - error: Always nil; listener errors are logged
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
