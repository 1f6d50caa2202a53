package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/nerrad567/gray-logic-logger/internal/engine"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxBodySize        = 4 << 20
)

// HTTPJSONOptions configures an HTTPJSON source.
type HTTPJSONOptions struct {
	// URL is fetched with GET on every read.
	URL string

	// Paths maps variable name to gjson path, e.g. "temp": "sensors.0.value".
	Paths map[string]string

	// Headers are added to every request.
	Headers map[string]string

	// Timeout bounds one request. Default 10s.
	Timeout time.Duration

	// Client overrides the HTTP client.
	Client *http.Client
}

// HTTPJSON polls a JSON endpoint and extracts one value per configured path.
//
// Paths that do not resolve are absent from the snapshot. JSON numbers
// become int64 when written without fraction or exponent and float64
// otherwise; objects and arrays are returned as their raw JSON text.
type HTTPJSON struct {
	url     string
	paths   map[string]string
	names   []string
	headers map[string]string
	client  *http.Client
}

// NewHTTPJSON creates an HTTPJSON source.
func NewHTTPJSON(opts HTTPJSONOptions) (*HTTPJSON, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidOptions)
	}
	if len(opts.Paths) == 0 {
		return nil, fmt.Errorf("%w: at least one path is required", ErrInvalidOptions)
	}

	names := make([]string, 0, len(opts.Paths))
	paths := make(map[string]string, len(opts.Paths))
	for name, path := range opts.Paths {
		if path == "" {
			return nil, fmt.Errorf("%w: path for %q is empty", ErrInvalidOptions, name)
		}
		names = append(names, name)
		paths[name] = path
	}
	sort.Strings(names)

	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &HTTPJSON{
		url:     opts.URL,
		paths:   paths,
		names:   names,
		headers: opts.Headers,
		client:  client,
	}, nil
}

// Variables returns the configured variable names, sorted.
func (s *HTTPJSON) Variables() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Read fetches the endpoint once.
func (s *HTTPJSON) Read(ctx context.Context) (engine.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s", ErrHTTPStatus, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidJSON
	}

	snap := make(engine.Snapshot, len(s.names))
	for _, name := range s.names {
		res := gjson.GetBytes(body, s.paths[name])
		if !res.Exists() {
			continue
		}
		snap[name] = jsonValue(res)
	}
	return snap, nil
}

func jsonValue(res gjson.Result) any {
	switch res.Type {
	case gjson.Null:
		return nil
	case gjson.True, gjson.False:
		return res.Bool()
	case gjson.Number:
		if !strings.ContainsAny(res.Raw, ".eE") {
			return res.Int()
		}
		return res.Float()
	case gjson.String:
		return res.Str
	default:
		return res.Raw
	}
}
