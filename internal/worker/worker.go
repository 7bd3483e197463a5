// Package worker invokes external analysis workers.
//
// One process is started per call. The request is written to the worker's
// stdin as a single JSON document and stdin is closed; the response is read
// from stdout after the process exits. Stderr is diagnostic only.
//
// Invoke never returns an error: every outcome is a Result, and failures
// carry a FailureKind so callers can substitute their own fallback.
package worker

import (
	"context"
	"encoding/json"
	"time"
)

// FailureKind classifies why an invocation did not produce a usable payload.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureTimeout     FailureKind = "timeout"
	FailureNonzeroExit FailureKind = "nonzero-exit"
	FailureParse       FailureKind = "parse-error"
	FailureSpawn       FailureKind = "spawn-error"
)

// Result is the outcome of one invocation.
type Result struct {
	Success  bool
	Payload  json.RawMessage
	Err      *StageError
	Duration time.Duration
}

// Kind returns the failure kind, or FailureNone on success.
func (r Result) Kind() FailureKind {
	if r.Success || r.Err == nil {
		return FailureNone
	}
	return r.Err.Kind
}

// Decode unmarshals the payload into v.
func (r Result) Decode(v any) error {
	return json.Unmarshal(r.Payload, v)
}

// Worker runs one request/response exchange with an analysis worker.
// Implementations must return within roughly timeout plus a kill grace,
// regardless of ctx cancellation.
type Worker interface {
	Invoke(ctx context.Context, payload any, timeout time.Duration) Result
}

// Func adapts a function to the Worker interface.
type Func func(ctx context.Context, payload any, timeout time.Duration) Result

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, payload any, timeout time.Duration) Result {
	return f(ctx, payload, timeout)
}

// Succeeded builds a successful Result from a value that marshals to JSON.
func Succeeded(v any) Result {
	b, err := json.Marshal(v)
	if err != nil {
		return Failed(StageParseError("", err))
	}
	return Result{Success: true, Payload: b}
}

// Failed builds a failed Result.
func Failed(err *StageError) Result {
	return Result{Err: err}
}
