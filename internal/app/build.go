package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nerrad567/gray-logic-logger/internal/engine"
	"github.com/nerrad567/gray-logic-logger/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-logger/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-logger/internal/output"
	"github.com/nerrad567/gray-logic-logger/internal/records"
	"github.com/nerrad567/gray-logic-logger/internal/source"
)

// ErrUnavailable is returned when an adapter needs a client that is not
// connected, e.g. an mqtt output with no broker configured.
var ErrUnavailable = errors.New("app: client unavailable")

// clients are the connections adapters are built on. A nil member makes
// the adapter types that need it fail to build.
type clients struct {
	subscriber  source.Subscriber
	publisher   output.Publisher
	points      output.PointWriter
	store       output.RecordStore
	broadcaster output.Broadcaster
}

// builtSources is the result of buildSources.
type builtSources struct {
	bindings []engine.SourceBinding
	mqtt     map[string]*source.MQTT
}

// buildSources creates one source per configuration entry, in order.
func buildSources(cfgs []config.SourceConfig, c clients, log source.Logger) (*builtSources, error) {
	built := &builtSources{mqtt: make(map[string]*source.MQTT)}

	for _, sc := range cfgs {
		var (
			src engine.Source
			err error
		)

		switch sc.Type {
		case config.SourceRandom:
			src, err = source.NewRandom(randomOptions(sc))
		case config.SourceRandomString:
			src, err = source.NewRandomString(randomOptions(sc))
		case config.SourceMQTT:
			if c.subscriber == nil {
				return nil, fmt.Errorf("source %q: %w: mqtt broker", sc.Name, ErrUnavailable)
			}
			var m *source.MQTT
			m, err = source.NewMQTT(c.subscriber, sc.Topics, byte(sc.QoS), log)
			if err == nil {
				built.mqtt[sc.Name] = m
				src = m
			}
		case config.SourceHTTPJSON:
			src, err = source.NewHTTPJSON(source.HTTPJSONOptions{
				URL:     sc.URL,
				Paths:   sc.Paths,
				Headers: sc.Headers,
				Timeout: time.Duration(sc.Timeout) * time.Second,
			})
		default:
			err = fmt.Errorf("unknown source type %q", sc.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", sc.Name, err)
		}

		built.bindings = append(built.bindings, engine.SourceBinding{Name: sc.Name, Source: src})
	}

	return built, nil
}

func randomOptions(sc config.SourceConfig) source.RandomOptions {
	return source.RandomOptions{
		Size:             sc.Size,
		KeyMissingRate:   sc.KeyMissingRate,
		ValueMissingRate: sc.ValueMissingRate,
		StrLength:        sc.StrLength,
		Seed:             sc.Seed,
	}
}

// buildOutputs creates one output per configuration entry, in order.
// runID tags the rows written by sqlite outputs.
func buildOutputs(cfgs []config.OutputConfig, c clients, runID string, log output.Logger) ([]engine.OutputBinding, error) {
	bindings := make([]engine.OutputBinding, 0, len(cfgs))

	for _, oc := range cfgs {
		var (
			out engine.Output
			err error
		)

		switch oc.Type {
		case config.OutputCSV:
			out, err = output.NewCSV(oc.Path, oc.Delimiter)
		case config.OutputMQTT:
			if c.publisher == nil {
				return nil, fmt.Errorf("output %q: %w: mqtt broker", oc.Name, ErrUnavailable)
			}
			out, err = output.NewMQTT(c.publisher, output.MQTTOptions{
				TopicPrefix: oc.TopicPrefix,
				QoS:         byte(oc.QoS),
				Retain:      oc.Retain,
			}, log)
		case config.OutputInfluxDB:
			if c.points == nil {
				return nil, fmt.Errorf("output %q: %w: influxdb", oc.Name, ErrUnavailable)
			}
			measurement := oc.Measurement
			if measurement == "" {
				measurement = oc.Name
			}
			out, err = output.NewInflux(c.points, output.InfluxOptions{
				Measurement: measurement,
				Tags:        oc.Tags,
			}, log)
		case config.OutputSQLite:
			if c.store == nil {
				return nil, fmt.Errorf("output %q: %w: database", oc.Name, ErrUnavailable)
			}
			out, err = output.NewSQLite(c.store, oc.Name, runID)
		case config.OutputWebSocket:
			if c.broadcaster == nil {
				return nil, fmt.Errorf("output %q: %w: websocket hub", oc.Name, ErrUnavailable)
			}
			out, err = output.NewWebSocket(c.broadcaster, oc.Name, oc.Channel)
		default:
			err = fmt.Errorf("unknown output type %q", oc.Type)
		}
		if err != nil {
			closeOutputs(bindings)
			return nil, fmt.Errorf("output %q: %w", oc.Name, err)
		}

		bindings = append(bindings, engine.OutputBinding{Name: oc.Name, Output: out})
	}

	return bindings, nil
}

// closeOutputs closes every output holding a resource and returns the
// joined errors.
func closeOutputs(bindings []engine.OutputBinding) error {
	var errs []error
	for _, b := range bindings {
		if c, ok := b.Output.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("output %q: %w", b.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// executorOptions maps the engine configuration onto executor options.
func executorOptions(cfg config.EngineConfig, sourceTimeout time.Duration, log engine.Logger, rec engine.Recorder) engine.ExecutorOptions {
	return engine.ExecutorOptions{
		Delimiter:       cfg.Delimiter,
		PrefixAll:       cfg.PrefixAll,
		NullPolicy:      engine.NullPolicy(cfg.NullPolicy),
		TimestampKey:    cfg.TimestampKey,
		TimestampFormat: cfg.TimestampFormat,
		ParallelReads:   cfg.ParallelReads,
		SourceTimeout:   sourceTimeout,
		Logger:          log,
		Recorder:        rec,
	}
}

// newExecutor parses the mappings and builds the executor.
func newExecutor(cfg *config.Config, sources []engine.SourceBinding, outputs []engine.OutputBinding, log engine.Logger, rec engine.Recorder) (*engine.Executor, error) {
	rename, err := engine.ParseRenameMapping("engine.rename", cfg.Engine.Rename)
	if err != nil {
		return nil, err
	}
	conversion, err := engine.ParseConversionMapping("engine.conversion", cfg.Engine.Conversion)
	if err != nil {
		return nil, err
	}

	return engine.NewExecutor(sources, outputs, rename, conversion,
		executorOptions(cfg.Engine, cfg.SourceTimeout(), log, rec))
}

// ─── Check ────────────────────────────────────────────────────────

// Check builds the executor a run would use without connecting to any
// broker or database and without touching output files. The returned
// executor resolves names and columns but must not be run.
//
// Parameters:
//   - cfg: Validated configuration
//
// Returns:
//   - *engine.Executor: Executor whose Tables describe the run
//   - error: If a source, output or mapping is invalid
func Check(cfg *config.Config) (*engine.Executor, error) {
	off := offline{}
	c := clients{
		subscriber:  off,
		publisher:   off,
		points:      off,
		store:       off,
		broadcaster: off,
	}

	built, err := buildSources(cfg.Sources, c, nil)
	if err != nil {
		return nil, err
	}
	outputs, err := buildOutputs(cfg.Outputs, c, "check", nil)
	if err != nil {
		return nil, err
	}
	for i := range outputs {
		outputs[i].Output = dryOutput{outputs[i].Output}
	}

	return newExecutor(cfg, built.bindings, outputs, nil, nil)
}

// dryOutput hides ColumnAware so that building the executor does not
// create or truncate files.
type dryOutput struct {
	engine.Output
}

// offline stands in for every client during Check.
type offline struct{}

func (offline) Subscribe(string, byte, mqtt.MessageHandler) error { return ErrUnavailable }
func (offline) Unsubscribe(string) error                          { return nil }
func (offline) Publish(string, []byte, byte, bool) error          { return ErrUnavailable }
func (offline) Create(context.Context, *records.Record) error     { return ErrUnavailable }
func (offline) Broadcast(string, any) error                       { return nil }

func (offline) WriteRecord(string, map[string]string, map[string]any, time.Time) error {
	return ErrUnavailable
}
