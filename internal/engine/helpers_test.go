package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ─── Mock Adapters ──────────────────────────────────────────────────────────

// mockSource returns a fixed snapshot, or an error when failing is set.
type mockSource struct {
	mu       sync.Mutex
	vars     []string
	snap     Snapshot
	err      error
	panicMsg string
	delay    time.Duration
	reads    int
	active   int
	maxSeen  int
}

func newMockSource(snap Snapshot, vars ...string) *mockSource {
	if vars == nil {
		for k := range snap {
			vars = append(vars, k)
		}
		sort.Strings(vars)
	}
	return &mockSource{vars: vars, snap: snap}
}

func (m *mockSource) Variables() []string { return m.vars }

func (m *mockSource) Read(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	m.reads++
	m.active++
	if m.active > m.maxSeen {
		m.maxSeen = m.active
	}
	delay, err, panicMsg := m.delay, m.err, m.panicMsg
	snap := make(Snapshot, len(m.snap))
	for k, v := range m.snap {
		snap[k] = v
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if panicMsg != "" {
		panic(panicMsg)
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (m *mockSource) setError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockSource) readCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// mockOutput captures every record written.
type mockOutput struct {
	mu        sync.Mutex
	timestamp bool
	records   []Record
	columns   []string
	err       error
	panicMsg  string
	delay     time.Duration
	active    int
	maxSeen   int
}

func newMockOutput(timestamp bool) *mockOutput {
	return &mockOutput{timestamp: timestamp}
}

func (m *mockOutput) RequiresTimestamp() bool { return m.timestamp }

func (m *mockOutput) SetColumns(cols []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.columns = cols
	return nil
}

func (m *mockOutput) Write(_ context.Context, rec Record) error {
	m.mu.Lock()
	m.active++
	if m.active > m.maxSeen {
		m.maxSeen = m.active
	}
	delay, err, panicMsg := m.delay, m.err, m.panicMsg
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	if delay > 0 {
		time.Sleep(delay)
	}
	if panicMsg != "" {
		panic(panicMsg)
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := make(Record, len(rec))
	for k, v := range rec {
		cpy[k] = v
	}
	m.records = append(m.records, cpy)
	return nil
}

func (m *mockOutput) getRecords() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := make([]Record, len(m.records))
	copy(cpy, m.records)
	return cpy
}

func (m *mockOutput) maxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxSeen
}

// mockRecorder counts telemetry calls.
type mockRecorder struct {
	mu          sync.Mutex
	cycles      int
	sourceFails map[string]int
	outputFails map[string]int
	convFails   map[string]int
	dropped     int
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{
		sourceFails: map[string]int{},
		outputFails: map[string]int{},
		convFails:   map[string]int{},
	}
}

func (r *mockRecorder) CycleCompleted(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles++
}

func (r *mockRecorder) SourceFailed(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sourceFails[s]++
}

func (r *mockRecorder) OutputFailed(o string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputFails[o]++
}

func (r *mockRecorder) ConversionFailed(o string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.convFails[o]++
}

func (r *mockRecorder) EventDropped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped++
}

func (r *mockRecorder) QueueLength(int) {}

var errDevice = errors.New("device unreachable")

// ─── Helpers ────────────────────────────────────────────────────────────────

func fixedNow() time.Time {
	return time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)
}
