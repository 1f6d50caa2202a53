package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newSchedulerExecutor(t *testing.T, src *mockSource, out *mockOutput, rec Recorder) *Executor {
	t.Helper()
	exec, err := NewExecutor(
		[]SourceBinding{{Name: "S", Source: src}},
		[]OutputBinding{{Name: "O", Output: out}},
		nil, nil, ExecutorOptions{Recorder: rec},
	)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	return exec
}

// ─── Interval Scheduler ─────────────────────────────────────────────────────

func TestIntervalSchedulerDuration(t *testing.T) {
	// interval=1s, duration=5s scaled down by 50.
	src := newMockSource(Snapshot{"a": 1})
	out := newMockOutput(false)
	exec := newSchedulerExecutor(t, src, out, nil)

	s := NewIntervalScheduler(exec, IntervalOptions{
		Interval: 20 * time.Millisecond,
		Duration: 100 * time.Millisecond,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	got := int(exec.Count())
	if got < 4 || got > 6 {
		t.Errorf("completed %d cycles, want 5 (+/- 1)", got)
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %q, want idle", s.State())
	}
}

func TestIntervalSchedulerStop(t *testing.T) {
	src := newMockSource(Snapshot{"a": 1})
	out := newMockOutput(false)
	exec := newSchedulerExecutor(t, src, out, nil)

	s := NewIntervalScheduler(exec, IntervalOptions{Interval: 10 * time.Millisecond})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.State() != StateRunning {
		t.Errorf("State() = %q, want running", s.State())
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	time.Sleep(35 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	stoppedAt := exec.Count()

	time.Sleep(40 * time.Millisecond)
	if exec.Count() != stoppedAt {
		t.Errorf("cycles continued after Stop: %d -> %d", stoppedAt, exec.Count())
	}
	if len(out.getRecords()) != int(stoppedAt) {
		t.Errorf("records = %d, cycles = %d: a cycle was cut short", len(out.getRecords()), stoppedAt)
	}
	if err := s.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Stop() error = %v, want ErrNotRunning", err)
	}
}

func TestIntervalSchedulerCancelCompletesInFlightCycle(t *testing.T) {
	src := newMockSource(Snapshot{"a": 1})
	out := newMockOutput(false)
	out.delay = 50 * time.Millisecond
	exec := newSchedulerExecutor(t, src, out, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s := NewIntervalScheduler(exec, IntervalOptions{Interval: time.Hour})
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(10 * time.Millisecond) // first cycle is writing
	cancel()
	if err := s.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if exec.Count() != 1 || len(out.getRecords()) != 1 {
		t.Errorf("count = %d, records = %d, want 1 completed cycle", exec.Count(), len(out.getRecords()))
	}
}

func TestIntervalSchedulerOverrunSkipsBoundaries(t *testing.T) {
	src := newMockSource(Snapshot{"a": 1})
	out := newMockOutput(false)
	out.delay = 25 * time.Millisecond
	exec := newSchedulerExecutor(t, src, out, nil)

	s := NewIntervalScheduler(exec, IntervalOptions{
		Interval: 10 * time.Millisecond,
		Duration: 100 * time.Millisecond,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	// Each cycle spans three boundaries, so far fewer than 10 cycles run.
	if got := exec.Count(); got > 5 {
		t.Errorf("completed %d cycles, missed boundaries should be skipped", got)
	}
}

func TestIntervalSchedulerSetupFault(t *testing.T) {
	src := newMockSource(Snapshot{"a": 1})
	exec := newSchedulerExecutor(t, src, newMockOutput(false), nil)

	tests := []struct {
		name string
		exec *Executor
		opts IntervalOptions
	}{
		{"nil executor", nil, IntervalOptions{Interval: time.Second}},
		{"zero interval", exec, IntervalOptions{}},
		{"negative duration", exec, IntervalOptions{Interval: time.Second, Duration: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewIntervalScheduler(tt.exec, tt.opts)
			err := s.Start(context.Background())
			var fault *SchedulingFault
			if !errors.As(err, &fault) {
				t.Fatalf("Start() error = %v, want *SchedulingFault", err)
			}
			if s.State() != StateFaulted {
				t.Errorf("State() = %q, want faulted", s.State())
			}
			if !errors.Is(s.Wait(), ErrSchedulingFault) {
				t.Errorf("Wait() = %v, want ErrSchedulingFault", s.Wait())
			}
		})
	}
}

func TestIntervalSchedulerFaultsOnRepeatedTotalFailure(t *testing.T) {
	src := newMockSource(Snapshot{"a": 1})
	src.setError(errDevice)
	out := newMockOutput(false)
	out.err = errors.New("offline")
	exec := newSchedulerExecutor(t, src, out, nil)

	s := NewIntervalScheduler(exec, IntervalOptions{
		Interval:               5 * time.Millisecond,
		MaxConsecutiveFailures: 3,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	err := s.Wait()
	var fault *SchedulingFault
	if !errors.As(err, &fault) {
		t.Fatalf("Wait() error = %v, want *SchedulingFault", err)
	}
	if fault.Failures != 3 {
		t.Errorf("Failures = %d, want 3", fault.Failures)
	}
	if s.State() != StateFaulted {
		t.Errorf("State() = %q, want faulted", s.State())
	}
	if exec.Count() != 3 {
		t.Errorf("Count() = %d, want 3", exec.Count())
	}
}

func TestIntervalSchedulerPartialFailureKeepsRunning(t *testing.T) {
	src := newMockSource(Snapshot{"a": 1})
	src.setError(errDevice)
	out := newMockOutput(false)
	exec := newSchedulerExecutor(t, src, out, nil)

	s := NewIntervalScheduler(exec, IntervalOptions{
		Interval:               5 * time.Millisecond,
		Duration:               30 * time.Millisecond,
		MaxConsecutiveFailures: 2,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Wait(); err != nil {
		t.Errorf("Wait() error = %v, partial failures must not fault", err)
	}
}

// ─── Event Scheduler ────────────────────────────────────────────────────────

// mockEventSource records the handler installed by Bind.
type mockEventSource struct {
	mu      sync.Mutex
	handler func(Event)
}

func (m *mockEventSource) OnEvent(h func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

func (m *mockEventSource) fire(source string) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	h(Event{Source: source, ReceivedAt: time.Now()})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestEventSchedulerOneCyclePerEvent(t *testing.T) {
	src := newMockSource(Snapshot{"a": 1})
	out := newMockOutput(false)
	exec := newSchedulerExecutor(t, src, out, nil)

	s := NewEventScheduler(exec, EventOptions{QueueSize: 16})
	evs := &mockEventSource{}
	s.Bind(evs)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		evs.fire("sensors/temp")
	}
	waitFor(t, func() bool { return exec.Count() == 5 })

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	stats := s.Stats()
	if stats.Received != 5 || stats.Processed != 5 || stats.Dropped != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
	if out.maxConcurrent() != 1 {
		t.Errorf("max concurrent writes = %d, want 1", out.maxConcurrent())
	}
}

func TestEventSchedulerBackpressure(t *testing.T) {
	src := newMockSource(Snapshot{"a": 1})
	out := newMockOutput(false)
	out.delay = 50 * time.Millisecond
	rec := newMockRecorder()
	exec := newSchedulerExecutor(t, src, out, rec)

	s := NewEventScheduler(exec, EventOptions{QueueSize: 2, DrainOnStop: true, Recorder: rec})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// First event occupies the worker, next two fill the queue.
	if err := s.Trigger(Event{Source: "e1"}); err != nil {
		t.Fatalf("Trigger(e1) error = %v", err)
	}
	waitFor(t, func() bool { return s.Stats().Queued == 0 })
	for _, name := range []string{"e2", "e3"} {
		if err := s.Trigger(Event{Source: name}); err != nil {
			t.Fatalf("Trigger(%s) error = %v", name, err)
		}
	}
	err := s.Trigger(Event{Source: "e4"})
	if !errors.Is(err, ErrBackpressure) {
		t.Fatalf("Trigger(e4) error = %v, want ErrBackpressure", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	stats := s.Stats()
	if stats.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", stats.Dropped)
	}
	if stats.Processed != 3 {
		t.Errorf("Processed = %d, want 3 (queue drained on stop)", stats.Processed)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.dropped != 1 {
		t.Errorf("recorder dropped = %d, want 1", rec.dropped)
	}
}

func TestEventSchedulerDiscardOnStop(t *testing.T) {
	src := newMockSource(Snapshot{"a": 1})
	out := newMockOutput(false)
	out.delay = 40 * time.Millisecond
	exec := newSchedulerExecutor(t, src, out, nil)

	s := NewEventScheduler(exec, EventOptions{QueueSize: 8})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Trigger(Event{Source: "first"}); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	waitFor(t, func() bool { return s.Stats().Queued == 0 })
	for i := 0; i < 3; i++ {
		if err := s.Trigger(Event{Source: "queued"}); err != nil {
			t.Fatalf("Trigger() error = %v", err)
		}
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	stats := s.Stats()
	if stats.Processed != 1 || stats.Discarded != 3 {
		t.Errorf("Stats() = %+v, want 1 processed and 3 discarded", stats)
	}
	if err := s.Trigger(Event{Source: "late"}); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Trigger() after Stop error = %v, want ErrNotRunning", err)
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %q, want idle", s.State())
	}
}

func TestEventSchedulerTriggerBeforeStart(t *testing.T) {
	exec := newSchedulerExecutor(t, newMockSource(Snapshot{"a": 1}), newMockOutput(false), nil)
	s := NewEventScheduler(exec, EventOptions{})
	if err := s.Trigger(Event{Source: "x"}); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Trigger() error = %v, want ErrNotRunning", err)
	}
	if err := s.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() error = %v, want ErrNotRunning", err)
	}
}

func TestEventSchedulerFaults(t *testing.T) {
	src := newMockSource(Snapshot{"a": 1})
	src.setError(errDevice)
	out := newMockOutput(false)
	out.err = errors.New("offline")
	exec := newSchedulerExecutor(t, src, out, nil)

	s := NewEventScheduler(exec, EventOptions{QueueSize: 8, MaxConsecutiveFailures: 2})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		_ = s.Trigger(Event{Source: "e"})
	}

	var fault *SchedulingFault
	if err := s.Wait(); !errors.As(err, &fault) {
		t.Fatalf("Wait() error = %v, want *SchedulingFault", err)
	}
	if s.State() != StateFaulted {
		t.Errorf("State() = %q, want faulted", s.State())
	}
	if err := s.Trigger(Event{Source: "e"}); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Trigger() after fault error = %v, want ErrNotRunning", err)
	}
}

func TestEventSchedulerContextCancel(t *testing.T) {
	exec := newSchedulerExecutor(t, newMockSource(Snapshot{"a": 1}), newMockOutput(false), nil)
	s := NewEventScheduler(exec, EventOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()
	if err := s.Wait(); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %q, want idle", s.State())
	}

	// A stopped scheduler can be started again.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	if err := s.Trigger(Event{Source: "again"}); err != nil {
		t.Errorf("Trigger() after restart error = %v", err)
	}
	waitFor(t, func() bool { return exec.Count() == 1 })
	_ = s.Stop()
}

func TestEventSchedulerStopRestartCycles(t *testing.T) {
	exec := newSchedulerExecutor(t, newMockSource(Snapshot{"a": 1}), newMockOutput(false), nil)
	s := NewEventScheduler(exec, EventOptions{QueueSize: 4})

	for i := 0; i < 50; i++ {
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start() #%d error = %v", i, err)
		}
		if err := s.Stop(); err != nil {
			t.Fatalf("Stop() #%d error = %v", i, err)
		}
	}

	// The last run's stop channel must be untouched by earlier Stops.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Trigger(Event{Source: "e"}); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	waitFor(t, func() bool { return s.Stats().Processed == 1 })
	if s.State() != StateRunning {
		t.Errorf("State() = %q, want running", s.State())
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestLifecycleRequestStopSignalsUnderLock(t *testing.T) {
	var l lifecycle
	l.state = StateIdle
	if _, err := l.begin(context.Background(), nil); err != nil {
		t.Fatalf("begin() error = %v", err)
	}

	var seen State
	done, err := l.requestStop(func() { seen = l.state })
	if err != nil {
		t.Fatalf("requestStop() error = %v", err)
	}
	if seen != StateRunning {
		t.Errorf("signal saw state %q, want running", seen)
	}
	if l.State() != StateStopping {
		t.Errorf("State() = %q, want stopping", l.State())
	}

	l.finish()
	<-done
	called := false
	if _, err := l.requestStop(func() { called = true }); !errors.Is(err, ErrNotRunning) {
		t.Errorf("requestStop() after finish error = %v, want ErrNotRunning", err)
	}
	if called {
		t.Error("signal ran for a scheduler that is not running")
	}
}

func TestSchedulerInterface(t *testing.T) {
	var _ Scheduler = (*IntervalScheduler)(nil)
	var _ Scheduler = (*EventScheduler)(nil)
}
