package engine

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// NullPolicy decides how absent or null values appear in records.
type NullPolicy string

const (
	// NullKeep puts every column of an output in every record, using nil
	// for absent values. Fixed-schema outputs rely on this.
	NullKeep NullPolicy = "keep"

	// NullOmit leaves absent and null values out of the record.
	NullOmit NullPolicy = "omit"
)

// DefaultTimestampFormat is the layout used for the injected timestamp.
const DefaultTimestampFormat = "2006-01-02 15:04:05"

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// Delimiter, PrefixAll and TimestampKey are passed to Resolve.
	Delimiter    string
	PrefixAll    bool
	TimestampKey string

	// TimestampFormat is a time layout. Default DefaultTimestampFormat.
	TimestampFormat string

	// NullPolicy defaults to NullKeep.
	NullPolicy NullPolicy

	// ParallelReads reads sources concurrently, one goroutine per source.
	ParallelReads bool

	// SourceTimeout bounds each source read through its context. Zero
	// means no per-source timeout.
	SourceTimeout time.Duration

	Logger   Logger
	Recorder Recorder

	// Now returns the cycle timestamp. Default time.Now.
	Now func() time.Time
}

// Executor runs read-merge-convert-log cycles over a fixed set of sources
// and outputs.
//
// Thread Safety: RunCycle is serialised by a mutex, so several schedulers
// may share one Executor. ReadAllSources, RouteAndTransform and
// WriteAllOutputs are the unsynchronised building blocks of RunCycle.
type Executor struct {
	sources  []SourceBinding
	outputs  []OutputBinding
	declared map[string][]string
	tables   *Tables

	// readGroups holds source indices; bindings sharing one adapter
	// instance are in the same group and read one after another.
	readGroups [][]int

	opts     ExecutorOptions
	logger   Logger
	recorder Recorder

	mu    sync.Mutex
	count atomic.Uint64

	obsMu     sync.RWMutex
	observers []func(*CycleReport)
}

// NewExecutor binds sources and outputs, resolves the mapping tables and
// hands each ColumnAware output its columns.
//
// Returns a *ConfigurationError for invalid bindings or mappings.
func NewExecutor(sources []SourceBinding, outputs []OutputBinding, rename RenameMapping, conversion ConversionMapping, opts ExecutorOptions) (*Executor, error) {
	if len(sources) == 0 {
		return nil, configErrorf("sources", "no sources bound")
	}
	if len(outputs) == 0 {
		return nil, configErrorf("outputs", "no outputs bound")
	}

	if opts.TimestampFormat == "" {
		opts.TimestampFormat = DefaultTimestampFormat
	}
	if opts.TimestampKey == "" {
		opts.TimestampKey = DefaultTimestampKey
	}
	switch opts.NullPolicy {
	case "":
		opts.NullPolicy = NullKeep
	case NullKeep, NullOmit:
	default:
		return nil, configErrorf("null_policy", "unknown policy %q", opts.NullPolicy)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	e := &Executor{
		sources:  sources,
		outputs:  outputs,
		declared: make(map[string][]string, len(sources)),
		opts:     opts,
		logger:   opts.Logger,
		recorder: opts.Recorder,
	}
	if e.logger == nil {
		e.logger = noopLogger{}
	}
	if e.recorder == nil {
		e.recorder = noopRecorder{}
	}

	srcVars := make([]SourceVariables, len(sources))
	for i, b := range sources {
		if b.Source == nil {
			return nil, configErrorf(joinPath("sources", b.Name), "nil source")
		}
		vars := b.Source.Variables()
		e.declared[b.Name] = vars
		srcVars[i] = SourceVariables{Name: b.Name, Variables: vars}
	}
	outSpecs := make([]OutputSpec, len(outputs))
	for i, b := range outputs {
		if b.Output == nil {
			return nil, configErrorf(joinPath("outputs", b.Name), "nil output")
		}
		outSpecs[i] = OutputSpec{Name: b.Name, RequiresTimestamp: b.Output.RequiresTimestamp()}
	}

	tables, err := Resolve(srcVars, outSpecs, rename, conversion, ResolveOptions{
		Delimiter:    opts.Delimiter,
		PrefixAll:    opts.PrefixAll,
		TimestampKey: opts.TimestampKey,
	})
	if err != nil {
		return nil, err
	}
	e.tables = tables
	e.readGroups = groupByInstance(sources)

	for _, out := range outputs {
		for _, name := range sortedKeys(tables.Collisions[out.Name]) {
			e.logger.Warn("variable name collision resolved by prefixing",
				"output", out.Name,
				"variable", name,
				"sources", tables.Collisions[out.Name][name],
			)
		}
	}

	for _, out := range outputs {
		ca, ok := out.Output.(ColumnAware)
		if !ok {
			continue
		}
		if err := ca.SetColumns(tables.Columns(out.Name)); err != nil {
			return nil, configErrorf(joinPath("outputs", out.Name), "setting columns: %v", err)
		}
	}

	return e, nil
}

// Tables returns the resolved mapping tables.
func (e *Executor) Tables() *Tables {
	return e.tables
}

// Count returns the number of completed cycles.
func (e *Executor) Count() uint64 {
	return e.count.Load()
}

// SourceNames returns the bound source names in binding order.
func (e *Executor) SourceNames() []string {
	names := make([]string, len(e.sources))
	for i, b := range e.sources {
		names[i] = b.Name
	}
	return names
}

// OutputNames returns the bound output names in binding order.
func (e *Executor) OutputNames() []string {
	names := make([]string, len(e.outputs))
	for i, b := range e.outputs {
		names[i] = b.Name
	}
	return names
}

// Observe registers fn to be called with every completed cycle report.
// Observers run synchronously on the cycle goroutine and must not block.
func (e *Executor) Observe(fn func(*CycleReport)) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.observers = append(e.observers, fn)
}

// RunCycle performs one full cycle: read every source, route and convert
// per output, then write every output. Per-source, per-variable and
// per-output failures are isolated and recorded in the report.
func (e *Executor) RunCycle(ctx context.Context) *CycleReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.opts.Now()
	began := time.Now()
	report := &CycleReport{
		ID:        uuid.NewString(),
		StartedAt: start,
	}

	snapshots, sourceResults := e.ReadAllSources(ctx)
	records, conversions, unmapped := e.RouteAndTransform(snapshots)
	outputResults := e.WriteAllOutputs(ctx, records, start)

	report.Sources = sourceResults
	report.Outputs = outputResults
	report.Conversions = conversions
	report.Unmapped = unmapped
	report.Count = e.count.Add(1)
	report.Duration = time.Since(began)

	e.record(report)
	e.notify(report)

	return report
}

// ReadAllSources reads every bound source. A failed source contributes an
// empty snapshot and a SourceResult carrying a *SourceReadError.
func (e *Executor) ReadAllSources(ctx context.Context) (map[string]Snapshot, []SourceResult) {
	snaps := make([]Snapshot, len(e.sources))
	results := make([]SourceResult, len(e.sources))

	read := func(i int) {
		b := e.sources[i]
		began := time.Now()
		snap, err := e.readSource(ctx, b)
		results[i] = SourceResult{Source: b.Name, Duration: time.Since(began)}
		if err != nil {
			results[i].Err = &SourceReadError{Source: b.Name, Err: err}
			snap = Snapshot{}
		}
		if snap == nil {
			snap = Snapshot{}
		}
		results[i].Variables = len(snap)
		snaps[i] = snap
	}

	if e.opts.ParallelReads && len(e.readGroups) > 1 {
		var g errgroup.Group
		for _, group := range e.readGroups {
			g.Go(func() error {
				for _, i := range group {
					read(i)
				}
				return nil
			})
		}
		_ = g.Wait() // read never returns an error; failures are in results
	} else {
		for i := range e.sources {
			read(i)
		}
	}

	out := make(map[string]Snapshot, len(e.sources))
	for i, b := range e.sources {
		out[b.Name] = snaps[i]
	}
	return out, results
}

// groupByInstance partitions binding indices by adapter instance, keeping
// binding order inside each group. Adapters of non-comparable types are
// never shared by value and get a group each.
func groupByInstance(sources []SourceBinding) [][]int {
	groups := make([][]int, 0, len(sources))
	index := make(map[Source]int, len(sources))
	for i, b := range sources {
		if reflect.TypeOf(b.Source).Comparable() {
			if g, ok := index[b.Source]; ok {
				groups[g] = append(groups[g], i)
				continue
			}
			index[b.Source] = len(groups)
		}
		groups = append(groups, []int{i})
	}
	return groups
}

func (e *Executor) readSource(ctx context.Context, b SourceBinding) (snap Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if e.opts.SourceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.SourceTimeout)
		defer cancel()
	}
	return b.Source.Read(ctx)
}

// RouteAndTransform builds one record per output from the snapshots.
//
// Variables are visited in binding order and declared variable order.
// Variables not declared when the executor was built are skipped and
// returned as "source.variable" in unmapped.
func (e *Executor) RouteAndTransform(snapshots map[string]Snapshot) (map[string]Record, []*ConversionError, []string) {
	records := make(map[string]Record, len(e.outputs))
	var conversions []*ConversionError

	for _, out := range e.outputs {
		rec := make(Record, len(e.tables.columns[out.Name]))
		if e.opts.NullPolicy == NullKeep {
			for _, src := range e.sources {
				for _, name := range e.tables.EffectiveNames[src.Name][out.Name] {
					rec[name] = nil
				}
			}
		}

		for _, src := range e.sources {
			snap := snapshots[src.Name]
			for _, v := range e.declared[src.Name] {
				val, ok := snap[v]
				if !ok || val == nil {
					continue
				}
				name, _ := e.tables.EffectiveName(src.Name, out.Name, v)
				tag := e.tables.TargetType(src.Name, out.Name, v)

				converted, err := Convert(val, tag)
				if err != nil {
					rec[name] = ConversionFailure{Value: val, Target: tag}
					conversions = append(conversions, &ConversionError{
						Source:   src.Name,
						Output:   out.Name,
						Variable: v,
						Target:   tag,
						Value:    val,
						Err:      err,
					})
					continue
				}
				rec[name] = converted
			}
		}
		records[out.Name] = rec
	}

	var unmapped []string
	for _, src := range e.sources {
		declared := make(map[string]bool, len(e.declared[src.Name]))
		for _, v := range e.declared[src.Name] {
			declared[v] = true
		}
		var extra []string
		for v := range snapshots[src.Name] {
			if !declared[v] {
				extra = append(extra, src.Name+"."+v)
			}
		}
		sort.Strings(extra)
		unmapped = append(unmapped, extra...)
	}

	return records, conversions, unmapped
}

// WriteAllOutputs writes each record to its output in binding order,
// injecting the formatted timestamp for outputs that require one.
func (e *Executor) WriteAllOutputs(ctx context.Context, records map[string]Record, timestamp time.Time) []OutputResult {
	results := make([]OutputResult, len(e.outputs))
	for i, out := range e.outputs {
		rec := records[out.Name]
		if rec == nil {
			rec = Record{}
		}
		if out.Output.RequiresTimestamp() {
			rec[e.opts.TimestampKey] = timestamp.Format(e.opts.TimestampFormat)
		}

		began := time.Now()
		err := e.writeOutput(ctx, out, rec)
		results[i] = OutputResult{Output: out.Name, Fields: len(rec), Duration: time.Since(began)}
		if err != nil {
			results[i].Err = &OutputWriteError{Output: out.Name, Err: err}
		}
	}
	return results
}

func (e *Executor) writeOutput(ctx context.Context, b OutputBinding, rec Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return b.Output.Write(ctx, rec)
}

func (e *Executor) record(r *CycleReport) {
	e.recorder.CycleCompleted(r.Duration)
	for _, s := range r.Sources {
		if s.Err != nil {
			e.recorder.SourceFailed(s.Source)
			e.logger.Warn("source read failed", "cycle", r.Count, "source", s.Source, "error", s.Err)
		}
	}
	for _, c := range r.Conversions {
		e.recorder.ConversionFailed(c.Output)
		e.logger.Warn("conversion failed",
			"cycle", r.Count,
			"source", c.Source,
			"output", c.Output,
			"variable", c.Variable,
			"target", string(c.Target),
			"error", c.Err,
		)
	}
	for _, o := range r.Outputs {
		if o.Err != nil {
			e.recorder.OutputFailed(o.Output)
			e.logger.Warn("output write failed", "cycle", r.Count, "output", o.Output, "error", o.Err)
		}
	}
	if len(r.Unmapped) > 0 {
		e.logger.Debug("undeclared variables skipped", "cycle", r.Count, "variables", r.Unmapped)
	}
	e.logger.Debug("cycle completed",
		"cycle", r.Count,
		"id", r.ID,
		"duration", r.Duration,
		"failed", r.Failed(),
	)
}

func (e *Executor) notify(r *CycleReport) {
	e.obsMu.RLock()
	observers := make([]func(*CycleReport), len(e.observers))
	copy(observers, e.observers)
	e.obsMu.RUnlock()

	for _, fn := range observers {
		fn(r)
	}
}
