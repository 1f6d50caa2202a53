package api

import (
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-logger/internal/engine"
)

// StatusResponse describes the running engine.
type StatusResponse struct {
	State      string                         `json:"state,omitempty"`
	Cycles     uint64                         `json:"cycles"`
	Sources    []string                       `json:"sources"`
	Outputs    []string                       `json:"outputs"`
	Columns    map[string][]string            `json:"columns"`
	Collisions map[string]map[string][]string `json:"collisions,omitempty"`
	Events     *engine.EventStats             `json:"events,omitempty"`
	LastCycle  *CycleView                     `json:"last_cycle,omitempty"`
}

// CycleView is the JSON rendering of a CycleReport.
type CycleView struct {
	ID          string       `json:"id"`
	Count       uint64       `json:"count"`
	StartedAt   string       `json:"started_at"`
	DurationMS  float64      `json:"duration_ms"`
	Sources     []ResultView `json:"sources"`
	Outputs     []ResultView `json:"outputs"`
	Conversions []string     `json:"conversion_errors,omitempty"`
	Unmapped    []string     `json:"unmapped,omitempty"`
}

// ResultView is one source or output outcome.
type ResultView struct {
	Name       string  `json:"name"`
	Fields     int     `json:"fields"`
	DurationMS float64 `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
}

// handleStatus reports the engine layout and the latest cycle.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	tables := s.engine.Tables()
	outputs := s.engine.OutputNames()

	resp := StatusResponse{
		Cycles:  s.engine.Count(),
		Sources: s.engine.SourceNames(),
		Outputs: outputs,
		Columns: make(map[string][]string, len(outputs)),
	}
	for _, name := range outputs {
		resp.Columns[name] = tables.Columns(name)
	}
	if tables.HasCollisions() {
		resp.Collisions = tables.Collisions
	}
	if s.scheduler != nil {
		resp.State = string(s.scheduler.State())
	}
	if s.events != nil {
		stats := s.events.Stats()
		resp.Events = &stats
	}
	if report := s.latestReport(); report != nil {
		resp.LastCycle = newCycleView(report)
	}

	writeJSON(w, http.StatusOK, resp)
}

func newCycleView(r *engine.CycleReport) *CycleView {
	v := &CycleView{
		ID:         r.ID,
		Count:      r.Count,
		StartedAt:  r.StartedAt.UTC().Format(time.RFC3339Nano),
		DurationMS: millis(r.Duration),
		Sources:    make([]ResultView, 0, len(r.Sources)),
		Outputs:    make([]ResultView, 0, len(r.Outputs)),
		Unmapped:   r.Unmapped,
	}
	for _, sr := range r.Sources {
		v.Sources = append(v.Sources, ResultView{
			Name:       sr.Source,
			Fields:     sr.Variables,
			DurationMS: millis(sr.Duration),
			Error:      errString(sr.Err),
		})
	}
	for _, or := range r.Outputs {
		v.Outputs = append(v.Outputs, ResultView{
			Name:       or.Output,
			Fields:     or.Fields,
			DurationMS: millis(or.Duration),
			Error:      errString(or.Err),
		})
	}
	for _, ce := range r.Conversions {
		v.Conversions = append(v.Conversions, ce.Error())
	}
	return v
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
