// Package output provides the record sinks of Gray Logic Logger.
//
// Every adapter implements engine.Output:
//
//	CSV        delimited file, header from engine.ColumnAware, one row per cycle
//	MQTT       one publish per non-null field, topic <prefix>/<field>
//	InfluxDB   one point per record, batched by the influxdb client
//	SQLite     one JSON row per record in the records table
//	WebSocket  one broadcast per record to subscribed API clients
//
// Adapters depend on narrow interfaces (Publisher, PointWriter, RecordStore,
// Broadcaster) rather than concrete clients so they can be tested without
// a broker, a database server or an HTTP listener.
package output
