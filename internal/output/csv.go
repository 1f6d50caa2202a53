package output

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"

	"github.com/nerrad567/gray-logic-logger/internal/engine"
)

// DefaultCSVDelimiter separates CSV fields when none is configured.
const DefaultCSVDelimiter = ';'

// CSV writes one row per record to a delimited text file.
//
// The header is written when the columns are set, truncating any previous
// content. Rows follow the header order; fields absent from a record leave
// an empty cell.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type CSV struct {
	path  string
	comma rune

	mu      sync.Mutex
	file    *os.File
	writer  *csv.Writer
	columns []string
	index   map[string]int
	closed  bool
}

// NewCSV creates a CSV output for the file at path.
//
// Parameters:
//   - path: Target file, created with its parent directories
//   - delimiter: A single character; empty selects DefaultCSVDelimiter
//
// Returns:
//   - *CSV: Output ready for SetColumns
//   - error: ErrInvalidOptions for an empty path or a bad delimiter
func NewCSV(path, delimiter string) (*CSV, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: csv path is empty", ErrInvalidOptions)
	}

	comma := DefaultCSVDelimiter
	if delimiter != "" {
		r, size := utf8.DecodeRuneInString(delimiter)
		if size != len(delimiter) || r == utf8.RuneError || r == '"' || r == '\r' || r == '\n' {
			return nil, fmt.Errorf("%w: csv delimiter %q must be a single character", ErrInvalidOptions, delimiter)
		}
		comma = r
	}

	return &CSV{path: path, comma: comma}, nil
}

// RequiresTimestamp reports true: every row carries the cycle time.
func (c *CSV) RequiresTimestamp() bool { return true }

// Columns returns the header order, or nil before SetColumns.
func (c *CSV) Columns() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.columns...)
}

// SetColumns truncates the file and writes the header row.
func (c *CSV) SetColumns(columns []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if len(columns) == 0 {
		return fmt.Errorf("%w: csv %s has no columns", ErrInvalidOptions, c.path)
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating csv directory: %w", err)
		}
	}

	if c.file != nil {
		c.file.Close() //nolint:errcheck // replaced below
	}

	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640) //nolint:gosec // path comes from operator config
	if err != nil {
		return fmt.Errorf("opening csv file: %w", err)
	}

	w := csv.NewWriter(f)
	w.Comma = c.comma

	index := make(map[string]int, len(columns))
	for i, col := range columns {
		index[col] = i
	}

	c.file = f
	c.writer = w
	c.columns = append([]string(nil), columns...)
	c.index = index

	return c.flushRow(c.columns)
}

// Write appends one row.
//
// Returns ErrUnknownField if the record carries a field outside the header;
// nothing is written in that case.
func (c *CSV) Write(_ context.Context, rec engine.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.writer == nil {
		return ErrNoColumns
	}

	row := make([]string, len(c.columns))
	for field, v := range rec {
		i, ok := c.index[field]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownField, field)
		}
		row[i] = engine.FormatValue(v)
	}

	return c.flushRow(row)
}

func (c *CSV) flushRow(row []string) error {
	if err := c.writer.Write(row); err != nil {
		return fmt.Errorf("writing csv row: %w", err)
	}
	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		return fmt.Errorf("flushing csv row: %w", err)
	}
	return nil
}

// Close closes the underlying file. Safe to call more than once.
func (c *CSV) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	c.writer = nil
	return err
}
