package engine

import (
	"context"
	"sync"
)

// State is the lifecycle state shared by both scheduling disciplines.
//
//	Idle -> Running -> Stopping -> Idle
//	                -> Faulted
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateFaulted  State = "faulted"
)

// Scheduler drives repeated cycles of an Executor.
type Scheduler interface {
	// Start validates the parameters and starts the scheduling goroutine.
	// Invalid parameters move the scheduler to Faulted and return a
	// *SchedulingFault.
	Start(ctx context.Context) error

	// Stop requests a stop and blocks until the in-flight cycle completes.
	// Returns ErrNotRunning if the scheduler is not running.
	Stop() error

	// Wait blocks until the scheduler leaves Running and returns the
	// *SchedulingFault if it faulted.
	Wait() error

	// State returns the current lifecycle state.
	State() State
}

// lifecycle implements the state machine and Wait for both schedulers.
type lifecycle struct {
	mu     sync.RWMutex
	state  State
	err    error
	done   chan struct{}
	cancel context.CancelFunc
}

// State returns the current lifecycle state.
func (l *lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// begin moves Idle or Faulted to Running and returns the context the
// scheduling goroutine runs under. init, if not nil, runs under the lock
// before the state changes.
func (l *lifecycle) begin(ctx context.Context, init func()) (context.Context, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateRunning || l.state == StateStopping {
		return nil, ErrAlreadyRunning
	}
	if init != nil {
		init()
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.state = StateRunning
	l.err = nil
	l.done = make(chan struct{})
	l.cancel = cancel
	return runCtx, nil
}

// setupFault moves the scheduler straight to Faulted without starting.
func (l *lifecycle) setupFault(reason string) error {
	fault := &SchedulingFault{Reason: reason}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateRunning || l.state == StateStopping {
		return ErrAlreadyRunning
	}
	l.state = StateFaulted
	l.err = fault
	return fault
}

// requestStop moves Running to Stopping and cancels the run context.
// signal, if not nil, runs under the lock first, so it always acts on the
// run being stopped. It returns the done channel to wait on.
func (l *lifecycle) requestStop(signal func()) (<-chan struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateRunning {
		return nil, ErrNotRunning
	}
	if signal != nil {
		signal()
	}
	l.state = StateStopping
	l.cancel()
	return l.done, nil
}

// stopping moves Running to Stopping, used when the parent context ends.
func (l *lifecycle) stopping() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateRunning {
		l.state = StateStopping
	}
}

// fault records a runtime scheduling fault.
func (l *lifecycle) fault(f *SchedulingFault) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateFaulted
	l.err = f
}

// finish is deferred by the scheduling goroutine.
func (l *lifecycle) finish() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateFaulted {
		l.state = StateIdle
	}
	l.cancel()
	close(l.done)
}

// Wait blocks until the scheduling goroutine exits.
func (l *lifecycle) Wait() error {
	l.mu.RLock()
	done := l.done
	l.mu.RUnlock()
	if done != nil {
		<-done
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}
