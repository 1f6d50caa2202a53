package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-logger/internal/records"
)

// handleListRecords returns paginated stored records with optional filters.
//
// Query parameters:
//   - output: filter by output name
//   - run_id: filter by run
//   - since: RFC 3339 lower bound on recorded_at
//   - limit: max results (default 50, max 500)
//   - offset: pagination offset
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeProblem(w, r, http.StatusServiceUnavailable, "record storage not configured")
		return
	}

	q := r.URL.Query()
	filter := records.Filter{
		Output: q.Get("output"),
		RunID:  q.Get("run_id"),
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeProblem(w, r, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = t
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.records.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list records", "error", err)
		writeProblem(w, r, http.StatusInternalServerError, "failed to list records")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
