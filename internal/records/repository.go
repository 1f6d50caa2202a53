// Package records provides access to the records table written by sqlite
// outputs and read back by the status API.
package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Page size limits for List.
const (
	defaultLimit = 50
	maxLimit     = 500
)

// timeLayout is fixed-width so that recorded_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Record is one stored output record.
type Record struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id"`
	Cycle      uint64         `json:"cycle"`
	Output     string         `json:"output"`
	Data       map[string]any `json:"data"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Filter controls which records to return.
type Filter struct {
	Output string    // optional: only this output
	RunID  string    // optional: only this run
	Since  time.Time // optional: recorded at or after
	Limit  int       // default 50, max 500
	Offset int
}

// ListResult contains a page of records, newest first.
type ListResult struct {
	Records []Record `json:"records"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// Repository defines the record store operations.
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores records in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new record repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a record. ID and RecordedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("marshalling record data: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO records (id, run_id, cycle, output, recorded_at, data)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, int64(rec.Cycle), rec.Output, //nolint:gosec // cycle counts never reach 2^63
		rec.RecordedAt.UTC().Format(timeLayout),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}

	return nil
}

// List returns records matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Output != "" {
		conditions = append(conditions, "output = ?")
		args = append(args, filter.Output)
	}
	if filter.RunID != "" {
		conditions = append(conditions, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "recorded_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM records %s", where) //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting records: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions
		"SELECT id, run_id, cycle, output, recorded_at, data FROM records %s ORDER BY recorded_at DESC, cycle DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	recs := []Record{}
	for rows.Next() {
		var rec Record
		var cycle int64
		var recordedAt, data string

		if err := rows.Scan(&rec.ID, &rec.RunID, &cycle, &rec.Output, &recordedAt, &data); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		rec.Cycle = uint64(cycle) //nolint:gosec // stored from a uint64

		if err := json.Unmarshal([]byte(data), &rec.Data); err != nil {
			return nil, fmt.Errorf("decoding record %s: %w", rec.ID, err)
		}

		t, err := time.Parse(timeLayout, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing record timestamp %q: %w", recordedAt, err)
		}
		rec.RecordedAt = t

		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}

	return &ListResult{
		Records: recs,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
