package output

import "errors"

// Sentinel errors for output operations.
var (
	// ErrInvalidOptions is returned by constructors for unusable options.
	ErrInvalidOptions = errors.New("output: invalid options")

	// ErrNoColumns is returned when a schema-bound output is written
	// before its columns are set.
	ErrNoColumns = errors.New("output: columns not set")

	// ErrUnknownField is returned when a record carries a field outside
	// the declared columns.
	ErrUnknownField = errors.New("output: field not in columns")

	// ErrClosed is returned when writing to a closed output.
	ErrClosed = errors.New("output: closed")
)
