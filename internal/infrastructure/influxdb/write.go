package influxdb

import (
	"fmt"
	"sort"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// NewRecordPoint builds a point from one output record.
//
// Nil fields are dropped since line protocol has no null. Values of
// unsupported types are written as their string form by the client library.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: The record, column name to value
//   - timestamp: The cycle time
//
// Returns:
//   - *write.Point: Point ready for WritePointRaw
//   - error: ErrInvalidPoint if the measurement is empty or no field survives
func NewRecordPoint(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) (*write.Point, error) {
	if measurement == "" {
		return nil, fmt.Errorf("%w: measurement is empty", ErrInvalidPoint)
	}

	point := write.NewPointWithMeasurement(measurement).SetTime(timestamp)

	tagKeys := make([]string, 0, len(tags))
	for k := range tags {
		tagKeys = append(tagKeys, k)
	}
	sort.Strings(tagKeys)
	for _, k := range tagKeys {
		point.AddTag(k, tags[k])
	}

	names := make([]string, 0, len(fields))
	for name, v := range fields {
		if v != nil {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: record for %q has no non-null fields", ErrInvalidPoint, measurement)
	}
	sort.Strings(names)
	for _, name := range names {
		point.AddField(name, fields[name])
	}

	return point, nil
}

// WriteRecord queues one output record for batched delivery.
//
// The write is non-blocking; delivery failures are reported through the
// SetOnError callback.
//
// Example:
//
//	err := client.WriteRecord("plant", map[string]string{"site": "a"},
//	    map[string]any{"rand1_x": 0.42, "rand2_x": 0.17}, time.Now())
func (c *Client) WriteRecord(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	point, err := NewRecordPoint(measurement, tags, fields, timestamp)
	if err != nil {
		return err
	}

	c.writeAPI.WritePoint(point)
	c.queued.Add(1)
	return nil
}

// LineProtocol renders a point the way it is sent on the wire, at
// millisecond precision.
func LineProtocol(point *write.Point) string {
	return write.PointToLineProtocol(point, time.Millisecond)
}
