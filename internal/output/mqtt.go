package output

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/nerrad567/gray-logic-logger/internal/engine"
	"github.com/nerrad567/gray-logic-logger/internal/infrastructure/mqtt"
)

// Publisher is the part of the MQTT client an output needs.
// *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger defines the logging interface used by outputs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// MQTTOptions configures an MQTT output.
type MQTTOptions struct {
	// TopicPrefix is prepended to every field topic. Empty publishes each
	// field to a topic named by the field alone.
	TopicPrefix string

	QoS    byte
	Retain bool
}

// MQTT publishes each non-null record field as its own message.
//
// The payload is the field's canonical text form. Records with no non-null
// field are skipped without publishing anything.
type MQTT struct {
	pub    Publisher
	opts   MQTTOptions
	logger Logger
}

// NewMQTT creates an MQTT output.
func NewMQTT(pub Publisher, opts MQTTOptions, logger Logger) (*MQTT, error) {
	if pub == nil {
		return nil, fmt.Errorf("%w: mqtt publisher is nil", ErrInvalidOptions)
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("%w: qos %d", ErrInvalidOptions, opts.QoS)
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTT{pub: pub, opts: opts, logger: logger}, nil
}

// RequiresTimestamp reports false: the broker stamps messages itself.
func (m *MQTT) RequiresTimestamp() bool { return false }

// Write publishes every non-null field in name order.
//
// A failed publish does not stop the remaining fields; all failures are
// joined into the returned error.
func (m *MQTT) Write(ctx context.Context, rec engine.Record) error {
	fields := make([]string, 0, len(rec))
	for name, v := range rec {
		if v != nil {
			fields = append(fields, name)
		}
	}
	if len(fields) == 0 {
		m.logger.Debug("skipping empty record", "prefix", m.opts.TopicPrefix)
		return nil
	}
	sort.Strings(fields)

	var errs []error
	for _, name := range fields {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		topic := mqtt.Topics{}.RecordField(m.opts.TopicPrefix, name)
		payload := []byte(engine.FormatValue(rec[name]))
		if err := m.pub.Publish(topic, payload, m.opts.QoS, m.opts.Retain); err != nil {
			errs = append(errs, fmt.Errorf("publishing %s: %w", topic, err))
		}
	}

	return errors.Join(errs...)
}
