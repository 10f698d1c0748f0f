package pipeline

import (
	"fmt"
	"time"
)

// StepKind tags the step variant.
type StepKind int

const (
	StepCommand StepKind = iota
	StepLog
	StepRetry
	StepTimeout
	StepParallel
	StepMatrix
	StepConditional
	StepStash
	StepUnstash
	StepDir
	StepComposite
	StepCustom
)

func (k StepKind) String() string {
	switch k {
	case StepCommand:
		return "command"
	case StepLog:
		return "log"
	case StepRetry:
		return "retry"
	case StepTimeout:
		return "timeout"
	case StepParallel:
		return "parallel"
	case StepMatrix:
		return "matrix"
	case StepConditional:
		return "when"
	case StepStash:
		return "stash"
	case StepUnstash:
		return "unstash"
	case StepDir:
		return "dir"
	case StepComposite:
		return "steps"
	case StepCustom:
		return "custom"
	}
	return fmt.Sprintf("step(%d)", int(k))
}

// Step is a tagged variant: one unit of work or one control-flow
// combinator. Steps nest arbitrarily and form a tree owned by
// exactly one stage.
type Step struct {
	Kind StepKind

	// StepCommand / StepLog
	Command string
	Message string

	// StepRetry / StepTimeout / StepConditional
	Count    int
	Duration time.Duration
	Cond     *When
	Inner    *Step

	// StepParallel: each branch is a full stage
	Branches []*Stage

	// StepMatrix
	Matrix *Matrix

	// StepStash / StepUnstash
	StashName string
	Pattern   string

	// StepDir / StepComposite
	Dir   string
	Steps []*Step

	// StepCustom: plugin steps dispatched by name
	Plugin string
	Args   map[string]string
}

func Command(text string) *Step {
	return &Step{Kind: StepCommand, Command: text}
}

func Log(message string) *Step {
	return &Step{Kind: StepLog, Message: message}
}

func Retry(count int, inner *Step) *Step {
	return &Step{Kind: StepRetry, Count: count, Inner: inner}
}

func Timeout(d time.Duration, inner *Step) *Step {
	return &Step{Kind: StepTimeout, Duration: d, Inner: inner}
}

func Parallel(branches ...*Stage) *Step {
	return &Step{Kind: StepParallel, Branches: branches}
}

func MatrixStep(m *Matrix) *Step {
	return &Step{Kind: StepMatrix, Matrix: m}
}

func Conditional(cond *When, inner *Step) *Step {
	return &Step{Kind: StepConditional, Cond: cond, Inner: inner}
}

func Stash(name, pattern string) *Step {
	return &Step{Kind: StepStash, StashName: name, Pattern: pattern}
}

func Unstash(name string) *Step {
	return &Step{Kind: StepUnstash, StashName: name}
}

func Dir(path string, steps ...*Step) *Step {
	return &Step{Kind: StepDir, Dir: path, Steps: steps}
}

func Steps(steps ...*Step) *Step {
	return &Step{Kind: StepComposite, Steps: steps}
}

func Custom(plugin string, args map[string]string) *Step {
	return &Step{Kind: StepCustom, Plugin: plugin, Args: args}
}

func (s *Step) validate() error {
	switch s.Kind {
	case StepCommand:
		if s.Command == "" {
			return validationErrorf("command step cannot be empty")
		}
	case StepLog:
		// empty messages are allowed
	case StepRetry:
		if s.Count < 1 {
			return validationErrorf("retry count must be positive, got %d", s.Count)
		}
		if s.Inner == nil {
			return validationErrorf("retry needs an inner step")
		}
		return s.Inner.validate()
	case StepTimeout:
		if s.Duration <= 0 {
			return validationErrorf("timeout must be positive, got %s", s.Duration)
		}
		if s.Inner == nil {
			return validationErrorf("timeout needs an inner step")
		}
		return s.Inner.validate()
	case StepParallel:
		if len(s.Branches) == 0 {
			return validationErrorf("parallel needs at least one branch")
		}
		names := make(map[string]bool, len(s.Branches))
		for _, b := range s.Branches {
			if names[b.Name] {
				return validationErrorf("duplicate parallel branch %q", b.Name)
			}
			names[b.Name] = true
			if err := b.validate(); err != nil {
				return err
			}
		}
	case StepMatrix:
		if s.Matrix == nil {
			return validationErrorf("matrix step needs a matrix")
		}
		return s.Matrix.validate()
	case StepConditional:
		if s.Cond == nil {
			return validationErrorf("conditional needs a when predicate")
		}
		if s.Inner == nil {
			return validationErrorf("conditional needs an inner step")
		}
		if err := s.Cond.validate(); err != nil {
			return err
		}
		return s.Inner.validate()
	case StepStash:
		if s.StashName == "" {
			return validationErrorf("stash needs a name")
		}
		if s.Pattern == "" {
			return validationErrorf("stash %q needs a file pattern", s.StashName)
		}
	case StepUnstash:
		if s.StashName == "" {
			return validationErrorf("unstash needs a name")
		}
	case StepDir:
		if s.Dir == "" {
			return validationErrorf("dir step needs a path")
		}
		return validateSteps(s.Steps)
	case StepComposite:
		if len(s.Steps) == 0 {
			return validationErrorf("composite step cannot be empty")
		}
		return validateSteps(s.Steps)
	case StepCustom:
		if s.Plugin == "" {
			return validationErrorf("custom step needs a plugin name")
		}
	default:
		return validationErrorf("unknown step kind %d", s.Kind)
	}
	return nil
}

func validateSteps(steps []*Step) error {
	for _, st := range steps {
		if err := st.validate(); err != nil {
			return err
		}
	}
	return nil
}
