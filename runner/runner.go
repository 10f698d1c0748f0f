// Package runner executes shell commands on behalf of the engine.
// The engine never inspects agent internals; it forwards the agent
// value and the runner decides where the process actually runs.
package runner

import (
	"context"

	"github.com/shuttle-ci/shuttle/pipeline"
)

// Command is one fully resolved shell command: variable expansion
// already happened in the engine.
type Command struct {
	Text  string
	Env   []string // KEY=value
	Dir   string
	Agent *pipeline.Agent
}

// Result is what the process produced. A non-zero ExitCode is not an
// error at this layer; the engine decides what to do with it.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner is the command execution collaborator. Run returns an error
// only for infrastructure failures (spawn, container setup) or
// cancellation; command failures surface through Result.ExitCode.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}
