// Package transform defines the evaluator callback contract (spec.md §6)
// that the scanner invokes at region boundaries, and the per-tag hook
// bundle (§4.H) that decides which callback fires at each pop.
package transform

import (
	"pyp/internal/buffer"
	"pyp/internal/position"
)

// Status is the outcome an evaluator reports for one invocation.
type Status int

const (
	// OK means the transform succeeded; its output replaces the input.
	OK Status = iota
	// ErrMemory is a fatal allocation failure.
	ErrMemory
	// ErrCodeExecution is non-fatal: the evaluator already wrote its own
	// error output into the returned buffer.
	ErrCodeExecution
	// ErrWrite is a fatal failure writing to an output stream.
	ErrWrite
	// Abort covers any other status; the scan unwinds immediately.
	Abort
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case ErrMemory:
		return "ErrMemory"
	case ErrCodeExecution:
		return "ErrCodeExecution"
	case ErrWrite:
		return "ErrWrite"
	default:
		return "Abort"
	}
}

// Func is the evaluator callback contract: input is consumed — the
// callee owns it and the caller must not reuse it afterward.
type Func func(input *buffer.DataBuffer, locations position.Chain, userData any) (output *buffer.DataBuffer, status Status, err error)

// Hooks bundles the four optional callbacks a ProcessingInfo carries
// (spec.md §4.H). Only an opener tag may set these; closers and escapes
// carry a nil *Hooks.
type Hooks struct {
	// Self transforms the region's own payload (e.g. runs the
	// interpreter over the captured code).
	Self Func
	// ChildSuccess is applied by the parent to a successfully
	// transformed child payload.
	ChildSuccess Func
	// ChildFailure is applied by the parent to an error-replacement
	// payload.
	ChildFailure Func
	// Continuation transforms the literal text between a
	// continuation-closer and the following continuation-opener.
	Continuation Func
}
