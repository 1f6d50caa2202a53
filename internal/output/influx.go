package output

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/nerrad567/gray-logic-logger/internal/engine"
)

// PointWriter is the part of the InfluxDB client an output needs.
// *influxdb.Client satisfies it.
type PointWriter interface {
	WriteRecord(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) error
}

// InfluxOptions configures an InfluxDB output.
type InfluxOptions struct {
	Measurement string
	Tags        map[string]string

	// Now stamps each point. Default time.Now.
	Now func() time.Time
}

// Influx writes one point per record.
//
// Fields whose conversion failed are dropped from the point, since InfluxDB
// fixes a field's type on first write. NaN and infinities are dropped too.
// Records with nothing left are skipped.
type Influx struct {
	w      PointWriter
	opts   InfluxOptions
	logger Logger
}

// NewInflux creates an InfluxDB output.
func NewInflux(w PointWriter, opts InfluxOptions, logger Logger) (*Influx, error) {
	if w == nil {
		return nil, fmt.Errorf("%w: influxdb writer is nil", ErrInvalidOptions)
	}
	if opts.Measurement == "" {
		return nil, fmt.Errorf("%w: influxdb measurement is empty", ErrInvalidOptions)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Influx{w: w, opts: opts, logger: logger}, nil
}

// RequiresTimestamp reports false. Points are stamped by Now when Write
// runs, not with the cycle's start time, so a point may trail the
// timestamp column of other outputs by the time earlier outputs took.
func (o *Influx) RequiresTimestamp() bool { return false }

// Write queues the record as one point.
func (o *Influx) Write(_ context.Context, rec engine.Record) error {
	fields := make(map[string]any, len(rec))
	for name, v := range rec {
		switch x := engine.Normalize(v).(type) {
		case nil:
		case engine.ConversionFailure:
			o.logger.Debug("dropping failed conversion", "measurement", o.opts.Measurement, "field", name)
		case []byte:
			fields[name] = string(x)
		case float64:
			if math.IsNaN(x) || math.IsInf(x, 0) {
				o.logger.Debug("dropping non-finite value", "measurement", o.opts.Measurement, "field", name)
				continue
			}
			fields[name] = x
		default:
			fields[name] = x
		}
	}
	if len(fields) == 0 {
		o.logger.Debug("skipping empty record", "measurement", o.opts.Measurement)
		return nil
	}

	if err := o.w.WriteRecord(o.opts.Measurement, o.opts.Tags, fields, o.opts.Now()); err != nil {
		return fmt.Errorf("writing point %s: %w", o.opts.Measurement, err)
	}
	return nil
}
