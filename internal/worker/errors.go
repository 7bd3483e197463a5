package worker

import (
	"errors"
	"fmt"
	"time"
)

// StageError describes a failed invocation. It never leaves the pipeline;
// stage wrappers log it and substitute a fallback payload.
type StageError struct {
	Stage    string
	Kind     FailureKind
	ExitCode int
	Stderr   string
	Err      error
}

func (e *StageError) Error() string {
	prefix := "worker"
	if e.Stage != "" {
		prefix = e.Stage + " worker"
	}
	switch e.Kind {
	case FailureNonzeroExit:
		return fmt.Sprintf("%s exited with status %d", prefix, e.ExitCode)
	case FailureTimeout, FailureParse, FailureSpawn:
		if e.Err != nil {
			return fmt.Sprintf("%s %s: %v", prefix, e.Kind, e.Err)
		}
		return fmt.Sprintf("%s %s", prefix, e.Kind)
	default:
		return fmt.Sprintf("%s failed: %v", prefix, e.Err)
	}
}

func (e *StageError) Unwrap() error { return e.Err }

// StageTimeoutError reports a worker killed after exceeding its budget.
func StageTimeoutError(stage string, timeout time.Duration) *StageError {
	return &StageError{
		Stage: stage,
		Kind:  FailureTimeout,
		Err:   fmt.Errorf("no response within %s", timeout),
	}
}

// StageExitError reports a worker that exited with a non-zero status.
func StageExitError(stage string, code int, stderr string) *StageError {
	return &StageError{Stage: stage, Kind: FailureNonzeroExit, ExitCode: code, Stderr: stderr}
}

// StageParseError reports a worker whose output was not a usable result.
func StageParseError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Kind: FailureParse, Err: err}
}

// StageSpawnError reports a worker that could not be started.
func StageSpawnError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Kind: FailureSpawn, Err: err}
}

// KindOf returns the failure kind carried by err, or FailureNone.
func KindOf(err error) FailureKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return FailureNone
}

// IsTimeout reports whether err is a timeout failure.
func IsTimeout(err error) bool { return KindOf(err) == FailureTimeout }
