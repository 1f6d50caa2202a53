package engine

import (
	"errors"
	"fmt"
)

// Domain errors for the engine package.
//
// Structured errors below unwrap to these sentinels, so callers can use
// errors.Is without knowing the concrete type:
//
//	if errors.Is(err, engine.ErrConfiguration) {
//	    // bad mapping or binding, fix config
//	}
var (
	// ErrConfiguration is returned for malformed or unknown mapping keys
	// and invalid bindings. Fatal at setup.
	ErrConfiguration = errors.New("engine: configuration error")

	// ErrSourceRead marks a single source failing for one cycle.
	ErrSourceRead = errors.New("engine: source read failed")

	// ErrConversion marks a single variable failing type conversion.
	ErrConversion = errors.New("engine: conversion failed")

	// ErrOutputWrite marks a single output failing for one cycle.
	ErrOutputWrite = errors.New("engine: output write failed")

	// ErrSchedulingFault is returned when a scheduler enters the Faulted state.
	ErrSchedulingFault = errors.New("engine: scheduling fault")

	// ErrBackpressure is returned when an event is dropped because the
	// event queue is full.
	ErrBackpressure = errors.New("engine: event queue full")

	// ErrNotRunning is returned when triggering or stopping a scheduler
	// that is not running.
	ErrNotRunning = errors.New("engine: scheduler not running")

	// ErrAlreadyRunning is returned when starting a scheduler twice.
	ErrAlreadyRunning = errors.New("engine: scheduler already running")
)

// ConfigurationError describes an invalid mapping or binding.
// Path is the dotted key path of the offending entry, e.g.
// "rename.Sou1.OutA.RandData0".
type ConfigurationError struct {
	Path   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", ErrConfiguration, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrConfiguration, e.Path, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

func configErrorf(path, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// SourceReadError is reported when a source fails during a cycle.
type SourceReadError struct {
	Source string
	Err    error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrSourceRead, e.Source, e.Err)
}

func (e *SourceReadError) Unwrap() []error { return []error{ErrSourceRead, e.Err} }

// ConversionError is reported when a variable cannot be converted to the
// configured target type. The record carries a ConversionFailure instead.
type ConversionError struct {
	Source   string
	Output   string
	Variable string
	Target   TypeTag
	Value    any
	Err      error
}

func (e *ConversionError) Error() string {
	where := e.Variable
	if e.Source != "" {
		where = e.Source + "." + e.Variable
	}
	if e.Output != "" {
		where += " -> " + e.Output
	}
	return fmt.Sprintf("%s: %s: %v to %s: %v", ErrConversion, where, e.Value, e.Target, e.Err)
}

func (e *ConversionError) Unwrap() error { return ErrConversion }

// OutputWriteError is reported when an output fails during a cycle.
type OutputWriteError struct {
	Output string
	Err    error
}

func (e *OutputWriteError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrOutputWrite, e.Output, e.Err)
}

func (e *OutputWriteError) Unwrap() []error { return []error{ErrOutputWrite, e.Err} }

// SchedulingFault is returned by a scheduler that moved to the Faulted state.
type SchedulingFault struct {
	Reason string

	// Failures is the number of consecutive failed cycles that caused the
	// fault, zero for setup faults.
	Failures int
}

func (e *SchedulingFault) Error() string {
	if e.Failures > 0 {
		return fmt.Sprintf("%s: %s (%d consecutive failed cycles)", ErrSchedulingFault, e.Reason, e.Failures)
	}
	return fmt.Sprintf("%s: %s", ErrSchedulingFault, e.Reason)
}

func (e *SchedulingFault) Unwrap() error { return ErrSchedulingFault }
