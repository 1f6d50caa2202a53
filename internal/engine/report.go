package engine

import (
	"time"
)

// SourceResult is the outcome of reading one source in one cycle.
type SourceResult struct {
	Source    string
	Variables int
	Duration  time.Duration
	Err       error
}

// OutputResult is the outcome of writing one output in one cycle.
type OutputResult struct {
	Output   string
	Fields   int
	Duration time.Duration
	Err      error
}

// CycleReport summarises a single read-log cycle.
type CycleReport struct {
	// ID uniquely identifies the cycle (UUID).
	ID string

	// Count is the executor's cycle counter after this cycle completed.
	Count uint64

	StartedAt time.Time
	Duration  time.Duration

	Sources     []SourceResult
	Outputs     []OutputResult
	Conversions []*ConversionError

	// Unmapped lists "source.variable" for variables returned by a source
	// that were not declared when the executor was built.
	Unmapped []string
}

// Failed reports whether any source, output or conversion failed.
func (r *CycleReport) Failed() bool {
	return len(r.FailedSources()) > 0 || len(r.FailedOutputs()) > 0 || len(r.Conversions) > 0
}

// FailedSources returns the names of sources that failed this cycle.
func (r *CycleReport) FailedSources() []string {
	var names []string
	for _, s := range r.Sources {
		if s.Err != nil {
			names = append(names, s.Source)
		}
	}
	return names
}

// FailedOutputs returns the names of outputs that failed this cycle.
func (r *CycleReport) FailedOutputs() []string {
	var names []string
	for _, o := range r.Outputs {
		if o.Err != nil {
			names = append(names, o.Output)
		}
	}
	return names
}

// TotalFailure reports whether every source and every output failed.
// A cycle with no bindings on one side counts that side as failed.
func (r *CycleReport) TotalFailure() bool {
	return len(r.FailedSources()) == len(r.Sources) && len(r.FailedOutputs()) == len(r.Outputs)
}

// Errors returns every error recorded in the report.
func (r *CycleReport) Errors() []error {
	var errs []error
	for _, s := range r.Sources {
		if s.Err != nil {
			errs = append(errs, s.Err)
		}
	}
	for _, c := range r.Conversions {
		errs = append(errs, c)
	}
	for _, o := range r.Outputs {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errs
}
