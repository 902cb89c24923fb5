// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package common

import (
	"errors"
	"fmt"
)

var (
	ErrQueueFull = errors.New("queue is full")
	ErrStopped   = errors.New("stopped")
)

// PrepareErrorKind classifies a preparation failure.
type PrepareErrorKind uint8

const (
	// PrepareTimeout is returned when the CPU or wall clock budget is exceeded.
	PrepareTimeout PrepareErrorKind = iota
	// PrepareCompilerPanic is returned when the compiler panicked.
	PrepareCompilerPanic
	// PrepareOutOfMemory is returned when the worker exceeded its memory limit.
	PrepareOutOfMemory
	// PrepareIoFailure is returned when the artifact could not be written or read.
	PrepareIoFailure
	// PrepareInvalidModule is returned for malformed or unacceptable code.
	PrepareInvalidModule
	// PrepareWorkerDied is returned when the worker exited unexpectedly.
	PrepareWorkerDied
	// PrepareCancelled is returned for jobs dropped at shutdown.
	PrepareCancelled
)

func (k PrepareErrorKind) String() string {
	switch k {
	case PrepareTimeout:
		return "timeout"
	case PrepareCompilerPanic:
		return "compiler_panic"
	case PrepareOutOfMemory:
		return "out_of_memory"
	case PrepareIoFailure:
		return "io_failure"
	case PrepareInvalidModule:
		return "invalid_module"
	case PrepareWorkerDied:
		return "worker_died"
	case PrepareCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// PrepareError is a classified preparation failure.
type PrepareError struct {
	Kind   PrepareErrorKind
	Detail string
}

func (e *PrepareError) Error() string {
	if e.Detail == "" {
		return "preparation failed: " + e.Kind.String()
	}
	return fmt.Sprintf("preparation failed: %s: %s", e.Kind, e.Detail)
}

// IsDeterministic returns true if retrying the preparation of the same
// code cannot change the outcome.
func (e *PrepareError) IsDeterministic() bool {
	switch e.Kind {
	case PrepareInvalidModule, PrepareCompilerPanic, PrepareOutOfMemory:
		return true
	default:
		return false
	}
}

// NewPrepareError returns a *PrepareError with a formatted detail.
func NewPrepareError(kind PrepareErrorKind, format string, args ...any) *PrepareError {
	return &PrepareError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// ExecuteErrorKind classifies an execution failure which is not
// attributable to the candidate.
type ExecuteErrorKind uint8

const (
	// ExecuteTimeout is returned when the hard deadline was hit.
	ExecuteTimeout ExecuteErrorKind = iota
	// ExecuteWorkerDied is returned when the worker crashed or hung.
	ExecuteWorkerDied
	// ExecuteOutOfMemory is returned when the worker exceeded its memory limit.
	ExecuteOutOfMemory
	// ExecuteArtifactMissing is returned when the artifact could not be loaded.
	ExecuteArtifactMissing
	// ExecuteInternal is a host bug. It is never retried.
	ExecuteInternal
	// ExecuteBusy is returned when the host rejects the request.
	ExecuteBusy
	// ExecutePrepareFailed is returned when the code could not be prepared.
	ExecutePrepareFailed
)

func (k ExecuteErrorKind) String() string {
	switch k {
	case ExecuteTimeout:
		return "timeout"
	case ExecuteWorkerDied:
		return "worker_died"
	case ExecuteOutOfMemory:
		return "out_of_memory"
	case ExecuteArtifactMissing:
		return "artifact_missing"
	case ExecuteInternal:
		return "internal"
	case ExecuteBusy:
		return "busy"
	case ExecutePrepareFailed:
		return "prepare_failed"
	default:
		return "unknown"
	}
}

// ExecuteError is an infrastructure failure. It is never evidence of the
// candidate being invalid.
type ExecuteError struct {
	Kind    ExecuteErrorKind
	Detail  string
	Prepare *PrepareError
}

func (e *ExecuteError) Error() string {
	switch {
	case e.Prepare != nil:
		return fmt.Sprintf("unable to validate: %s: %s", e.Kind, e.Prepare)
	case e.Detail != "":
		return fmt.Sprintf("unable to validate: %s: %s", e.Kind, e.Detail)
	default:
		return "unable to validate: " + e.Kind.String()
	}
}

func (e *ExecuteError) Unwrap() error {
	if e.Prepare == nil {
		return nil
	}
	return e.Prepare
}

// IsRetryable returns true if the execution may succeed on a fresh worker.
func (e *ExecuteError) IsRetryable() bool {
	switch e.Kind {
	case ExecuteTimeout, ExecuteWorkerDied, ExecuteOutOfMemory:
		return true
	default:
		return false
	}
}

// NewExecuteError returns an *ExecuteError with a formatted detail.
func NewExecuteError(kind ExecuteErrorKind, format string, args ...any) *ExecuteError {
	return &ExecuteError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// ReasonForInvalidity is a deterministic candidate fault.
type ReasonForInvalidity byte

const (
	// WasmTrap is returned when validate_block trapped.
	WasmTrap ReasonForInvalidity = iota
	// BadReturn is returned when the validation result could not be decoded.
	BadReturn
	// ParamsTooLarge is returned when the PoV exceeds the maximum size.
	ParamsTooLarge
	// PoVDecompressionFailure is returned when the PoV could not be decompressed.
	PoVDecompressionFailure
	// PoVHashMismatch is returned when the PoV does not match the descriptor.
	PoVHashMismatch
	// CodeHashMismatch is returned when the code does not match the descriptor.
	CodeHashMismatch
	// CodeDecompressionFailure is returned when the code could not be decompressed.
	CodeDecompressionFailure
	// ParaHeadHashMismatch is returned when the output head does not match the descriptor.
	ParaHeadHashMismatch
)

func (r ReasonForInvalidity) String() string {
	switch r {
	case WasmTrap:
		return "wasm trap"
	case BadReturn:
		return "bad return"
	case ParamsTooLarge:
		return "params too large"
	case PoVDecompressionFailure:
		return "pov decompression failure"
	case PoVHashMismatch:
		return "pov hash mismatch"
	case CodeHashMismatch:
		return "code hash mismatch"
	case CodeDecompressionFailure:
		return "code decompression failure"
	case ParaHeadHashMismatch:
		return "para head hash mismatch"
	default:
		return "unknown"
	}
}

// InvalidCandidate is an authoritative invalidity verdict.
type InvalidCandidate struct {
	Reason ReasonForInvalidity
	Detail string
}

func (ic *InvalidCandidate) Error() string {
	if ic.Detail == "" {
		return "invalid candidate: " + ic.Reason.String()
	}
	return fmt.Sprintf("invalid candidate: %s: %s", ic.Reason, ic.Detail)
}
