package pipeline

import "fmt"

// Status is the terminal state of a stage or of a whole run.
type Status int

const (
	StatusSuccess Status = iota
	StatusUnstable
	StatusFailure
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusUnstable:
		return "unstable"
	case StatusFailure:
		return "failure"
	case StatusSkipped:
		return "skipped"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// StageResult is computed once per run and immutable thereafter.
type StageResult struct {
	Stage  string
	Status Status
	Cause  error
}

// PipelineResult aggregates all stage results of one run.
type PipelineResult struct {
	Pipeline string
	RunID    string
	Status   Status
	Stages   []StageResult
	Cause    error
}

// Aggregate folds stage statuses into a single status: failure wins
// over unstable wins over success. Skipped stages do not count.
func Aggregate(statuses []Status) Status {
	agg := StatusSuccess
	seen := false
	for _, s := range statuses {
		switch s {
		case StatusSkipped:
			continue
		case StatusFailure:
			return StatusFailure
		case StatusUnstable:
			agg = StatusUnstable
		}
		seen = true
	}
	if !seen {
		// all skipped counts as success for the enclosing scope
		return StatusSuccess
	}
	return agg
}
