package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-logger/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-logger/internal/infrastructure/mqtt"
)

// SystemResponse is the body of GET /api/v1/system. Connection sections
// are omitted when the run does not use them.
type SystemResponse struct {
	Version   string           `json:"version"`
	StartedAt time.Time        `json:"started_at"`
	Uptime    string           `json:"uptime"`
	Process   ProcessStats     `json:"process"`
	WebSocket WebSocketStats   `json:"websocket"`
	MQTT      *BrokerStats     `json:"mqtt,omitempty"`
	Database  *DatabaseStats   `json:"database,omitempty"`
	InfluxDB  *TimeSeriesStats `json:"influxdb,omitempty"`
}

// ProcessStats is a snapshot of the Go runtime.
type ProcessStats struct {
	Goroutines     int    `json:"goroutines"`
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	SysBytes       uint64 `json:"sys_bytes"`
	GCCycles       uint32 `json:"gc_cycles"`
}

// WebSocketStats describes the live view.
type WebSocketStats struct {
	Clients       int    `json:"clients"`
	DroppedFrames uint64 `json:"dropped_frames"`
}

// BrokerStats describes the MQTT connection.
type BrokerStats struct {
	Connected bool `json:"connected"`
	mqtt.Stats
}

// DatabaseStats is the SQLite connection pool state.
type DatabaseStats struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	WaitCount       int64 `json:"wait_count"`
}

// TimeSeriesStats describes the InfluxDB writer.
type TimeSeriesStats struct {
	Connected bool `json:"connected"`
	influxdb.WriteStats
}

func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := SystemResponse{
		Version:   s.version,
		StartedAt: s.startTime.UTC(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Process: ProcessStats{
			Goroutines:     runtime.NumGoroutine(),
			HeapAllocBytes: mem.HeapAlloc,
			SysBytes:       mem.Sys,
			GCCycles:       mem.NumGC,
		},
		WebSocket: WebSocketStats{
			Clients:       s.hub.ClientCount(),
			DroppedFrames: s.hub.Dropped(),
		},
	}

	if s.mqtt != nil {
		resp.MQTT = &BrokerStats{Connected: s.mqtt.IsConnected(), Stats: s.mqtt.Stats()}
	}
	if s.db != nil {
		st := s.db.Stats()
		resp.Database = &DatabaseStats{
			OpenConnections: st.OpenConnections,
			InUse:           st.InUse,
			WaitCount:       st.WaitCount,
		}
	}
	if s.influx != nil {
		resp.InfluxDB = &TimeSeriesStats{Connected: s.influx.IsConnected(), WriteStats: s.influx.Stats()}
	}

	writeJSON(w, http.StatusOK, resp)
}
