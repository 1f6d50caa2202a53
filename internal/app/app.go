// Package app wires configuration, infrastructure clients, adapters, the
// executor and its scheduler into a runnable logger process.
//
// Startup order is database, MQTT, InfluxDB, metrics, WebSocket hub,
// sources, outputs, executor, scheduler and API server. Close releases
// them in reverse.
//
//	a, err := app.New(ctx, cfg, log, version)
//	if err != nil { ... }
//	defer a.Close()
//	return a.Run(ctx)
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-logger/internal/api"
	"github.com/nerrad567/gray-logic-logger/internal/engine"
	"github.com/nerrad567/gray-logic-logger/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-logger/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-logger/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-logger/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-logger/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-logger/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-logger/internal/records"
	"github.com/nerrad567/gray-logic-logger/internal/source"

	// Registers the embedded schema with the database package.
	_ "github.com/nerrad567/gray-logic-logger/migrations"
)

// App is a fully wired logger process.
type App struct {
	cfg     *config.Config
	log     *logging.Logger
	version string
	runID   string

	db      *database.DB
	mqtt    *mqtt.Client
	influx  *influxdb.Client
	metrics *metrics.Metrics
	hub     *api.Hub

	exec        *engine.Executor
	scheduler   engine.Scheduler
	events      *engine.EventScheduler
	mqttSources map[string]*source.MQTT
	server      *api.Server

	closers []closer
}

type closer struct {
	name  string
	close func() error
}

// New connects the infrastructure the configuration needs and builds every
// component. Nothing runs until Run is called. On error, everything opened
// so far is closed again.
//
// Parameters:
//   - ctx: Context for connection setup and migrations
//   - cfg: Validated configuration
//   - log: Logger configured from cfg.Logging
//   - version: Reported by the API
//
// Returns:
//   - *App: Ready to Run
//   - error: If a connection, adapter or mapping fails
func New(ctx context.Context, cfg *config.Config, log *logging.Logger, version string) (*App, error) {
	a := &App{
		cfg:     cfg,
		log:     log,
		version: version,
		runID:   uuid.NewString(),
	}

	if err := a.build(ctx); err != nil {
		if closeErr := a.Close(); closeErr != nil {
			log.Error("error releasing partially built app", "error", closeErr)
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	var c clients

	// Open database
	if a.cfg.UsesDatabase() {
		db, err := database.Open(database.FromConfig(a.cfg.Database))
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		a.db = db
		a.onClose("database", db.Close)
		a.log.Info("database connected", "path", a.cfg.Database.Path)

		applied, err := db.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		version, err := db.SchemaVersion(ctx)
		if err != nil {
			return err
		}
		a.log.Info("database migrations complete", "applied", applied, "schema_version", version)
		c.store = records.NewSQLiteRepository(db.DB)
	}

	// Connect to MQTT broker
	if a.cfg.UsesMQTT() {
		client, err := mqtt.Connect(a.cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		a.mqtt = client
		a.onClose("MQTT", client.Close)
		a.log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", a.cfg.MQTT.Broker.Host, a.cfg.MQTT.Broker.Port),
			"client_id", a.cfg.MQTT.Broker.ClientID,
		)

		client.SetLogger(a.log.Component("mqtt"))
		client.SetOnConnect(func() {
			a.log.Info("MQTT reconnected")
		})
		client.SetOnDisconnect(func(err error) {
			a.log.Warn("MQTT disconnected", "error", err)
		})
		c.subscriber = client
		c.publisher = client
	}

	// Connect to InfluxDB (optional)
	if a.cfg.InfluxDB.Enabled {
		client, err := influxdb.Connect(a.cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		a.influx = client
		a.onClose("InfluxDB", client.Close)
		a.log.Info("InfluxDB connected",
			"url", a.cfg.InfluxDB.URL,
			"org", a.cfg.InfluxDB.Org,
			"bucket", a.cfg.InfluxDB.Bucket,
		)

		client.SetOnError(func(err error) {
			a.log.Error("InfluxDB write error", "error", err)
		})
		c.points = client
	} else {
		a.log.Info("InfluxDB disabled")
	}

	var recorder engine.Recorder
	if a.cfg.Metrics.Enabled {
		a.metrics = metrics.New()
		recorder = a.metrics
	}

	if a.cfg.API.Enabled {
		a.hub = api.NewHub(a.cfg.WebSocket, a.log.Component("api"))
		if a.metrics != nil {
			a.hub.OnClientCount(a.metrics.WebSocketClients)
		}
		c.broadcaster = a.hub
	}

	adapters := a.log.Component("adapters")
	built, err := buildSources(a.cfg.Sources, c, adapters)
	if err != nil {
		return err
	}
	a.mqttSources = built.mqtt

	outputs, err := buildOutputs(a.cfg.Outputs, c, a.runID, adapters)
	if err != nil {
		return err
	}
	a.onClose("outputs", func() error { return closeOutputs(outputs) })

	exec, err := newExecutor(a.cfg, built.bindings, outputs, a.log.Component("engine"), recorder)
	if err != nil {
		return fmt.Errorf("building executor: %w", err)
	}
	a.exec = exec

	tables := exec.Tables()
	for _, name := range exec.OutputNames() {
		a.log.Info("output columns", "output", name, "columns", tables.Columns(name))
	}
	if tables.HasCollisions() {
		a.log.Warn("variable name collisions resolved with source prefix", "collisions", tables.Collisions)
	}

	a.buildScheduler(recorder)

	if a.cfg.API.Enabled {
		if err := a.buildServer(); err != nil {
			return err
		}
	}

	return nil
}

func (a *App) buildScheduler(recorder engine.Recorder) {
	sc := a.cfg.Scheduler
	log := a.log.Component("scheduler")
	if sc.Mode == config.ModeEvent {
		a.events = engine.NewEventScheduler(a.exec, engine.EventOptions{
			QueueSize:              sc.QueueSize,
			DrainOnStop:            sc.DrainOnStop,
			MaxConsecutiveFailures: sc.MaxConsecutiveFailures,
			Logger:                 log,
			Recorder:               recorder,
		})
		if trigger, ok := a.mqttSources[sc.TriggerSource]; ok {
			a.events.Bind(trigger)
		}
		a.scheduler = a.events
		return
	}

	a.scheduler = engine.NewIntervalScheduler(a.exec, engine.IntervalOptions{
		Interval:               sc.Interval,
		Duration:               sc.Duration,
		MaxConsecutiveFailures: sc.MaxConsecutiveFailures,
		Logger:                 log,
	})
}

func (a *App) buildServer() error {
	deps := api.Deps{
		Config:      a.cfg.API,
		WS:          a.cfg.WebSocket,
		Metrics:     a.cfg.Metrics,
		Logger:      a.log.Component("api"),
		Engine:      a.exec,
		Scheduler:   a.scheduler,
		ExternalHub: a.hub,
		Version:     a.version,
	}
	if a.events != nil {
		deps.Events = a.events
	}
	if a.db != nil {
		deps.Records = records.NewSQLiteRepository(a.db.DB)
		deps.DB = a.db.DB
	}
	if a.mqtt != nil {
		deps.MQTT = a.mqtt
	}
	if a.influx != nil {
		deps.Influx = a.influx
	}
	if a.metrics != nil {
		deps.Prometheus = a.metrics.Handler()
	}

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	a.server = server
	a.exec.Observe(server.ObserveCycle)
	return nil
}

// Executor returns the wired executor.
func (a *App) Executor() *engine.Executor {
	return a.exec
}

// Scheduler returns the configured scheduler.
func (a *App) Scheduler() engine.Scheduler {
	return a.scheduler
}

// RunID identifies this process in rows written by sqlite outputs.
func (a *App) RunID() string {
	return a.runID
}

// Handler returns the API router, or nil when the API is disabled.
func (a *App) Handler() http.Handler {
	if a.server == nil {
		return nil
	}
	return a.server.Handler()
}

// Run starts the API server, subscribes MQTT sources and runs the
// scheduler until ctx is cancelled or the scheduler finishes on its own,
// e.g. when an interval run reaches its duration.
//
// Returns:
//   - error: The scheduling fault if the scheduler faulted, or a startup error
func (a *App) Run(ctx context.Context) error {
	if a.server != nil {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		a.onClose("API server", a.server.Close)
	}

	for _, sc := range a.cfg.Sources {
		src, ok := a.mqttSources[sc.Name]
		if !ok {
			continue
		}
		if err := src.Start(); err != nil {
			return fmt.Errorf("subscribing source %q: %w", sc.Name, err)
		}
		a.onClose("source "+sc.Name, src.Close)
	}

	// Verify all connections are healthy
	if err := a.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	a.log.Info("all health checks passed")

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	a.log.Info("logging started",
		"mode", a.cfg.Scheduler.Mode,
		"run_id", a.runID,
		"sources", len(a.cfg.Sources),
		"outputs", len(a.cfg.Outputs),
	)

	err := a.scheduler.Wait()

	a.log.Info("logging stopped",
		"cycles", a.exec.Count(),
		"state", a.scheduler.State(),
	)
	if a.mqtt != nil {
		st := a.mqtt.Stats()
		a.log.Info("MQTT statistics", "received", st.Received, "published", st.Published)
	}
	if a.events != nil {
		st := a.events.Stats()
		a.log.Info("event statistics",
			"received", st.Received,
			"processed", st.Processed,
			"dropped", st.Dropped,
			"discarded", st.Discarded,
		)
	}

	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	return nil
}

// HealthCheck verifies all infrastructure connections are healthy.
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func (a *App) HealthCheck(ctx context.Context) error {
	if a.db != nil {
		if err := a.db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if a.mqtt != nil {
		if err := a.mqtt.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if a.influx != nil {
		if err := a.influx.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	if a.server != nil {
		if err := a.server.HealthCheck(ctx); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}
	return nil
}

// Close stops the scheduler if it is still running and releases every
// component in reverse order of creation. It is safe to call more than once.
func (a *App) Close() error {
	if a.scheduler != nil {
		if err := a.scheduler.Stop(); err != nil && !errors.Is(err, engine.ErrNotRunning) {
			a.log.Error("error stopping scheduler", "error", err)
		}
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		a.log.Info("closing " + c.name)
		if err := c.close(); err != nil {
			a.log.Error("error closing "+c.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, close: fn})
}
