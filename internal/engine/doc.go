// Package engine is the logging engine of Gray Logic Logger.
//
// It merges snapshots from several measurement sources into one record per
// output, resolves variable name collisions between sources, applies the
// configured rename and type-conversion mappings, and drives the read-log
// cycle under two scheduling disciplines.
//
// # Architecture
//
//	Scheduler ──► Executor ──► Source.Read   (one snapshot per source)
//	                      ├──► Tables        (resolved once at construction)
//	                      └──► Output.Write  (one record per output)
//
// The engine only depends on the Source and Output interfaces. Concrete
// adapters live in the source and output packages.
//
// # Name Resolution
//
// When two sources produce the same variable for the same output, every
// contributor without an explicit rename is prefixed with its source name:
//
//	sources: rand1{x}, rand2{x}   delimiter: "_"
//	record:  rand1_x, rand2_x     collisions: x -> [rand1 rand2]
//
// Collisions are reported, never fatal.
//
// # Failure Isolation
//
// A failing source contributes an empty snapshot, a failing conversion
// contributes a ConversionFailure sentinel and a failing output does not
// stop the others. All of it is collected in a CycleReport. Only setup
// errors (ConfigurationError) and scheduler faults (SchedulingFault) are
// returned as errors.
//
// # Scheduling
//
//	sched := engine.NewIntervalScheduler(exec, engine.IntervalOptions{
//	    Interval: time.Second,
//	    Duration: time.Minute,
//	})
//	if err := sched.Start(ctx); err != nil { ... }
//	err := sched.Wait()
//
// EventScheduler runs one cycle per inbound event through a bounded queue
// and a single worker, so cycles never overlap.
package engine
