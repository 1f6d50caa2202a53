// Package influxdb provides InfluxDB connectivity for Gray Logic Logger.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched record writing and health monitoring.
//
// Each influxdb output turns one record per cycle into one point: the
// record's columns become fields, the output's configured tags become tags
// and the cycle time becomes the point time.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.WriteRecord("plant", nil, map[string]any{"rand1_x": 0.42}, time.Now())
//
// # Error Handling
//
// Writes are non-blocking and batch errors are delivered through the
// SetOnError callback. Connection and health check errors are returned
// directly.
package influxdb
