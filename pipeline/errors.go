package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrCancelled marks work that was cancelled before or during
// execution, by a timeout, a fail-fast sibling or the caller.
var ErrCancelled = errors.New("cancelled")

// ValidationError reports a malformed pipeline. It is always
// detected before any execution begins.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid pipeline: " + e.Reason
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// CommandError is a non-zero exit from the command runner.
type CommandError struct {
	Code   int
	Stderr string
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("command failed with exit code %d", e.Code)
	}
	return fmt.Sprintf("command failed with exit code %d: %s", e.Code, strings.TrimSpace(e.Stderr))
}

// TimeoutError is returned when a timeout step abandons its inner
// step at the deadline.
type TimeoutError struct {
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s", e.Duration)
}

// UnstableError marks a stage unstable instead of failed: the work
// finished but with degraded quality (flaky tests, soft quality
// gates). Plugins and custom steps return it via Unstable.
type UnstableError struct {
	Err error
}

func (e *UnstableError) Error() string {
	return "unstable: " + e.Err.Error()
}

func (e *UnstableError) Unwrap() error { return e.Err }

// Unstable wraps err so the enclosing stage resolves to Unstable
// rather than Failure.
func Unstable(err error) error {
	return &UnstableError{Err: err}
}

// UnknownStashError is an unstash of a name that was never stashed.
type UnknownStashError struct {
	Name string
}

func (e *UnknownStashError) Error() string {
	return fmt.Sprintf("unknown stash %q", e.Name)
}

// WhenError reports a when predicate that cannot be evaluated.
type WhenError struct {
	Reason string
}

func (e *WhenError) Error() string {
	return "invalid when expression: " + e.Reason
}

// StageError wraps a step error with the stage it occurred in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %q: %s", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// PipelineError aggregates the stage errors of one run. The full
// chain of causes is preserved so a caller can render a precise
// failure report without re-running anything.
type PipelineError struct {
	Pipeline string
	Stages   []*StageError
}

func (e *PipelineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pipeline %q failed", e.Pipeline)
	for _, se := range e.Stages {
		b.WriteString("\n  ")
		b.WriteString(se.Error())
	}
	return b.String()
}

func (e *PipelineError) Unwrap() []error {
	errs := make([]error, len(e.Stages))
	for i, se := range e.Stages {
		errs[i] = se
	}
	return errs
}
