// Package rendering runs manim and ffmpeg subprocesses for preview frames,
// final videos and merged exports.
package rendering

import "fmt"

// InfrastructureError means the rendering environment is broken: a missing
// binary, a directory that cannot be created, a process that cannot start.
type InfrastructureError struct {
	Message string
	Cause   error
}

func (e *InfrastructureError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%v)", e.Message, e.Cause)
	}
	return e.Message
}

func (e *InfrastructureError) Unwrap() error {
	return e.Cause
}

// TimeoutError is returned when a subprocess exceeds its wall-clock budget.
type TimeoutError struct {
	Message string
	Cause   error
}

func (e *TimeoutError) Error() string {
	return e.Message
}

func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// CanceledError is returned when the run was canceled while a subprocess was
// in flight.
type CanceledError struct {
	Message string
	Cause   error
}

func (e *CanceledError) Error() string {
	return e.Message
}

func (e *CanceledError) Unwrap() error {
	return e.Cause
}

// ExecutionError is a non-zero exit. Message already carries the stderr tail.
type ExecutionError struct {
	Message  string
	ExitCode int
	Stderr   string
}

func (e *ExecutionError) Error() string {
	return e.Message
}

// OutputError is returned when a subprocess exited cleanly but left no usable
// output behind.
type OutputError struct {
	Message string
}

func (e *OutputError) Error() string {
	return e.Message
}
