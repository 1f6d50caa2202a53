package source

import "errors"

// Sentinel errors for source operations.
var (
	// ErrInvalidOptions is returned by constructors for unusable options.
	ErrInvalidOptions = errors.New("source: invalid options")

	// ErrHTTPStatus is returned when an endpoint answers with a non-2xx status.
	ErrHTTPStatus = errors.New("source: unexpected HTTP status")

	// ErrInvalidJSON is returned when an endpoint body is not valid JSON.
	ErrInvalidJSON = errors.New("source: response is not valid JSON")
)
