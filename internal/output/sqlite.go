package output

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-logger/internal/engine"
	"github.com/nerrad567/gray-logic-logger/internal/records"
)

// RecordStore persists records. *records.SQLiteRepository satisfies it.
type RecordStore interface {
	Create(ctx context.Context, rec *records.Record) error
}

// SQLite stores each record as a JSON row, tagged with the run and a
// per-output cycle counter.
type SQLite struct {
	store RecordStore
	name  string
	runID string
	cycle atomic.Uint64
}

// NewSQLite creates a SQLite output.
//
// Parameters:
//   - store: Record repository
//   - name: Output name stored with every row
//   - runID: Run identifier; empty generates a UUID
func NewSQLite(store RecordStore, name, runID string) (*SQLite, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: record store is nil", ErrInvalidOptions)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: output name is empty", ErrInvalidOptions)
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	return &SQLite{store: store, name: name, runID: runID}, nil
}

// RunID returns the run identifier stored with every row.
func (s *SQLite) RunID() string { return s.runID }

// RequiresTimestamp reports false: rows carry their own recorded_at.
func (s *SQLite) RequiresTimestamp() bool { return false }

// Write inserts one row.
func (s *SQLite) Write(ctx context.Context, rec engine.Record) error {
	row := &records.Record{
		RunID:  s.runID,
		Cycle:  s.cycle.Add(1),
		Output: s.name,
		Data:   jsonRecord(rec),
	}
	if err := s.store.Create(ctx, row); err != nil {
		return fmt.Errorf("storing record: %w", err)
	}
	return nil
}
