package engine

import (
	"context"
	"time"
)

// Snapshot is one source's output for a single cycle: variable name to value.
//
// Values are restricted to bool, int64, float64, string, []byte and nil.
// Adapters should pass other Go numeric types through Normalize.
type Snapshot map[string]any

// Record is the mapping delivered to one output for a single cycle.
//
// Besides the value domain of Snapshot, a record field may hold a
// ConversionFailure sentinel when its type conversion failed.
type Record map[string]any

// Source produces snapshots on demand.
//
// Implementations are never called concurrently by the engine.
type Source interface {
	// Read returns the current snapshot. A returned error marks the source
	// as failed for this cycle only.
	Read(ctx context.Context) (Snapshot, error)

	// Variables returns the names of all variables the source can produce,
	// in a stable order. It is consulted once, when the engine is built.
	Variables() []string
}

// Output accepts records and persists or transmits them.
//
// Implementations are never called concurrently by the engine.
type Output interface {
	// Write persists a single record.
	Write(ctx context.Context, rec Record) error

	// RequiresTimestamp reports whether the engine must inject the cycle
	// timestamp under the reserved timestamp key before writing.
	RequiresTimestamp() bool
}

// ColumnAware is implemented by outputs with a fixed schema (e.g. a CSV
// header). SetColumns is called once when the engine is built, with the
// ordered list of every field the output will ever receive.
type ColumnAware interface {
	SetColumns(columns []string) error
}

// Event is an inbound external trigger for the event-driven scheduler.
type Event struct {
	// Source names the origin of the event (e.g. an MQTT topic).
	Source string

	// ReceivedAt is when the event arrived.
	ReceivedAt time.Time
}

// EventSource is implemented by push-style sources that can notify the
// event scheduler about inbound data.
type EventSource interface {
	OnEvent(handler func(Event))
}

// SourceBinding binds a source instance to its unique name.
type SourceBinding struct {
	Name   string
	Source Source
}

// OutputBinding binds an output instance to its unique name.
type OutputBinding struct {
	Name   string
	Output Output
}

// Logger defines the logging interface used by the engine.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder receives engine telemetry. The metrics package provides a
// Prometheus implementation.
type Recorder interface {
	CycleCompleted(d time.Duration)
	SourceFailed(source string)
	OutputFailed(output string)
	ConversionFailed(output string)
	EventDropped()
	QueueLength(n int)
}

type noopRecorder struct{}

func (noopRecorder) CycleCompleted(time.Duration) {}
func (noopRecorder) SourceFailed(string)          {}
func (noopRecorder) OutputFailed(string)          {}
func (noopRecorder) ConversionFailed(string)      {}
func (noopRecorder) EventDropped()                {}
func (noopRecorder) QueueLength(int)              {}
