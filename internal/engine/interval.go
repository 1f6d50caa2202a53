package engine

import (
	"context"
	"time"
)

// IntervalOptions configures an IntervalScheduler.
type IntervalOptions struct {
	// Interval between cycle starts. Must be positive.
	Interval time.Duration

	// Duration is the total run time. Zero runs until stopped.
	Duration time.Duration

	// MaxConsecutiveFailures faults the scheduler after this many
	// consecutive cycles in which every source and every output failed.
	// Zero disables the check.
	MaxConsecutiveFailures int

	Logger Logger
}

// IntervalScheduler runs a cycle at fixed boundaries measured from the
// start of the previous cycle, so execution time does not cause drift.
type IntervalScheduler struct {
	lifecycle

	exec   *Executor
	opts   IntervalOptions
	logger Logger
}

// NewIntervalScheduler creates a fixed-interval scheduler. Parameters are
// validated by Start.
func NewIntervalScheduler(exec *Executor, opts IntervalOptions) *IntervalScheduler {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &IntervalScheduler{
		lifecycle: lifecycle{state: StateIdle},
		exec:      exec,
		opts:      opts,
		logger:    logger,
	}
}

// Start begins the control loop. The first cycle runs immediately.
func (s *IntervalScheduler) Start(ctx context.Context) error {
	switch {
	case s.exec == nil:
		return s.setupFault("no executor")
	case s.opts.Interval <= 0:
		return s.setupFault("interval must be positive")
	case s.opts.Duration < 0:
		return s.setupFault("duration must not be negative")
	case s.opts.MaxConsecutiveFailures < 0:
		return s.setupFault("max consecutive failures must not be negative")
	}

	runCtx, err := s.begin(ctx, nil)
	if err != nil {
		return err
	}

	s.logger.Info("interval scheduler started",
		"interval", s.opts.Interval,
		"duration", s.opts.Duration,
	)

	go s.loop(runCtx)
	return nil
}

// Stop cancels the loop at the next boundary and waits for the in-flight
// cycle to complete.
func (s *IntervalScheduler) Stop() error {
	done, err := s.requestStop(nil)
	if err != nil {
		return err
	}
	<-done
	return nil
}

func (s *IntervalScheduler) loop(ctx context.Context) {
	defer s.finish()

	// In-flight cycles are never interrupted by Stop or cancellation.
	cycleCtx := context.WithoutCancel(ctx)

	start := time.Now()
	next := start
	failures := 0
	cycles := 0

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		if s.opts.Duration > 0 && next.Sub(start) >= s.opts.Duration {
			s.logger.Info("interval scheduler duration elapsed", "cycles", cycles)
			return
		}

		if wait := time.Until(next); wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				s.stopping()
				s.logger.Info("interval scheduler stopped", "cycles", cycles)
				return
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			s.stopping()
			s.logger.Info("interval scheduler stopped", "cycles", cycles)
			return
		}

		report := s.exec.RunCycle(cycleCtx)
		cycles++

		if report.TotalFailure() {
			failures++
			if s.opts.MaxConsecutiveFailures > 0 && failures >= s.opts.MaxConsecutiveFailures {
				fault := &SchedulingFault{Reason: "every source and output failed", Failures: failures}
				s.logger.Error("interval scheduler faulted", "error", fault)
				s.fault(fault)
				return
			}
		} else {
			failures = 0
		}

		next = next.Add(s.opts.Interval)
		if now := time.Now(); now.After(next) {
			missed := now.Sub(next)/s.opts.Interval + 1
			s.logger.Warn("cycle overran interval",
				"cycle", report.Count,
				"duration", report.Duration,
				"interval", s.opts.Interval,
				"skipped_boundaries", int64(missed),
			)
			next = next.Add(missed * s.opts.Interval)
		}
	}
}
