package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// DefaultQueueSize is the event queue capacity when none is configured.
const DefaultQueueSize = 64

// EventOptions configures an EventScheduler.
type EventOptions struct {
	// QueueSize is the capacity of the pending event queue.
	QueueSize int

	// DrainOnStop runs a cycle for every queued event on Stop. Otherwise
	// queued events are discarded and counted.
	DrainOnStop bool

	// MaxConsecutiveFailures faults the scheduler after this many
	// consecutive total-failure cycles. Zero disables the check.
	MaxConsecutiveFailures int

	Logger   Logger
	Recorder Recorder
}

// EventStats are the event scheduler counters.
type EventStats struct {
	Received  uint64 `json:"received"`
	Processed uint64 `json:"processed"`
	Dropped   uint64 `json:"dropped"`
	Discarded uint64 `json:"discarded"`
	Queued    int    `json:"queued"`
}

// EventScheduler runs one cycle per inbound event, in arrival order, on a
// single worker goroutine.
type EventScheduler struct {
	lifecycle

	exec     *Executor
	opts     EventOptions
	logger   Logger
	recorder Recorder

	queue chan Event
	stop  chan struct{}

	received  atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
	discarded atomic.Uint64
}

// NewEventScheduler creates an event-triggered scheduler.
func NewEventScheduler(exec *Executor, opts EventOptions) *EventScheduler {
	if opts.QueueSize == 0 {
		opts.QueueSize = DefaultQueueSize
	}
	s := &EventScheduler{
		lifecycle: lifecycle{state: StateIdle},
		exec:      exec,
		opts:      opts,
		logger:    opts.Logger,
		recorder:  opts.Recorder,
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	if s.recorder == nil {
		s.recorder = noopRecorder{}
	}
	return s
}

// Start starts the worker.
func (s *EventScheduler) Start(ctx context.Context) error {
	switch {
	case s.exec == nil:
		return s.setupFault("no executor")
	case s.opts.QueueSize < 0:
		return s.setupFault("queue size must not be negative")
	case s.opts.MaxConsecutiveFailures < 0:
		return s.setupFault("max consecutive failures must not be negative")
	}

	var queue chan Event
	var stop chan struct{}
	runCtx, err := s.begin(ctx, func() {
		queue = make(chan Event, s.opts.QueueSize)
		stop = make(chan struct{})
		s.queue, s.stop = queue, stop
	})
	if err != nil {
		return err
	}

	s.logger.Info("event scheduler started", "queue_size", s.opts.QueueSize)

	go s.worker(runCtx, queue, stop)
	return nil
}

// Trigger enqueues an event. It returns ErrBackpressure when the queue is
// full and ErrNotRunning when the scheduler is not running.
func (s *EventScheduler) Trigger(ev Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != StateRunning || s.queue == nil {
		return ErrNotRunning
	}

	select {
	case s.queue <- ev:
		s.received.Add(1)
		s.recorder.QueueLength(len(s.queue))
		return nil
	default:
		s.dropped.Add(1)
		s.recorder.EventDropped()
		s.logger.Warn("event dropped, queue full",
			"source", ev.Source,
			"queue_size", s.opts.QueueSize,
			"dropped_total", s.dropped.Load(),
		)
		return fmt.Errorf("%w: event from %q", ErrBackpressure, ev.Source)
	}
}

// Bind makes every event from src trigger a cycle.
func (s *EventScheduler) Bind(src EventSource) {
	src.OnEvent(func(ev Event) {
		if err := s.Trigger(ev); errors.Is(err, ErrNotRunning) {
			s.logger.Debug("event ignored, scheduler not running", "source", ev.Source)
		}
	})
}

// Stop rejects new events, drains or discards the queue and waits for the
// worker to exit.
func (s *EventScheduler) Stop() error {
	done, err := s.requestStop(func() { close(s.stop) })
	if err != nil {
		return err
	}
	<-done
	return nil
}

// Stats returns a snapshot of the event counters.
func (s *EventScheduler) Stats() EventStats {
	s.mu.RLock()
	queued := 0
	if s.queue != nil {
		queued = len(s.queue)
	}
	s.mu.RUnlock()
	return EventStats{
		Received:  s.received.Load(),
		Processed: s.processed.Load(),
		Dropped:   s.dropped.Load(),
		Discarded: s.discarded.Load(),
		Queued:    queued,
	}
}

func (s *EventScheduler) worker(ctx context.Context, queue chan Event, stop chan struct{}) {
	defer s.finish()

	cycleCtx := context.WithoutCancel(ctx)
	failures := 0

	for {
		// A pending stop wins over queued events.
		select {
		case <-stop:
			s.shutdown(cycleCtx, queue)
			return
		case <-ctx.Done():
			s.stopping()
			s.shutdown(cycleCtx, queue)
			return
		default:
		}

		select {
		case <-stop:
			s.shutdown(cycleCtx, queue)
			return
		case <-ctx.Done():
			s.stopping()
			s.shutdown(cycleCtx, queue)
			return
		case ev := <-queue:
			s.recorder.QueueLength(len(queue))
			if fault := s.handle(cycleCtx, ev, &failures); fault != nil {
				s.logger.Error("event scheduler faulted", "error", fault)
				s.fault(fault)
				s.discard(queue)
				return
			}
		}
	}
}

// handle runs one cycle and returns a fault once the failure threshold is
// reached.
func (s *EventScheduler) handle(ctx context.Context, ev Event, failures *int) *SchedulingFault {
	report := s.exec.RunCycle(ctx)
	s.processed.Add(1)
	s.logger.Debug("event cycle completed", "source", ev.Source, "cycle", report.Count)

	if !report.TotalFailure() {
		*failures = 0
		return nil
	}
	*failures++
	if s.opts.MaxConsecutiveFailures > 0 && *failures >= s.opts.MaxConsecutiveFailures {
		return &SchedulingFault{Reason: "every source and output failed", Failures: *failures}
	}
	return nil
}

// shutdown drains or discards the remaining events. Trigger can no
// longer enqueue because the state has left Running.
func (s *EventScheduler) shutdown(ctx context.Context, queue chan Event) {
	if !s.opts.DrainOnStop {
		s.discard(queue)
		s.logger.Info("event scheduler stopped", "processed", s.processed.Load())
		return
	}

	failures := 0
	drained := 0
	for {
		select {
		case ev := <-queue:
			if fault := s.handle(ctx, ev, &failures); fault != nil {
				s.logger.Error("event scheduler faulted while draining", "error", fault)
				s.fault(fault)
				s.discard(queue)
				return
			}
			drained++
		default:
			s.recorder.QueueLength(0)
			s.logger.Info("event scheduler stopped",
				"processed", s.processed.Load(),
				"drained", drained,
			)
			return
		}
	}
}

func (s *EventScheduler) discard(queue chan Event) {
	n := 0
	for {
		select {
		case <-queue:
			n++
		default:
			if n > 0 {
				s.discarded.Add(uint64(n))
				s.logger.Warn("queued events discarded", "count", n)
			}
			s.recorder.QueueLength(0)
			return
		}
	}
}
