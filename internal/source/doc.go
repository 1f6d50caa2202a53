// Package source provides the measurement sources of Gray Logic Logger.
//
// Every type here implements engine.Source:
//   - Random and RandomString simulate devices (RandData<n>, RandStr<n>)
//   - MQTT buffers the latest value per subscribed topic and drains the
//     buffer on every read; it also implements engine.EventSource so that
//     each message can trigger a cycle
//   - HTTPJSON polls a JSON endpoint and extracts variables by gjson path
//
// Sources are thin. Naming, conversion and failure isolation belong to the
// engine.
package source
