package engine

import (
	"fmt"
	"sync"

	"github.com/shuttle-ci/shuttle/pipeline"
	"github.com/shuttle-ci/shuttle/stash"
)

// ExecContext is the per-run mutable state threaded through
// execution. Branch-local fields (environment overlay, workspace,
// stage name, agent) are copied on fork; the result map, stash store
// and plugin registry are shared by reference across all branches.
type ExecContext struct {
	RunID    string
	Pipeline string
	Branch   string
	Tag      string

	Workspace string
	StageName string
	Agent     *pipeline.Agent

	env []pipeline.EnvVar

	// scope is the fully qualified result key of the enclosing stage
	// or branch; nested branches and retry re-executions extend it so
	// every execution writes a distinct result entry
	scope string

	shared *sharedState
}

type sharedState struct {
	mu      sync.Mutex
	results map[string]pipeline.StageResult
	stash   *stash.Store
	plugins map[string]Plugin
}

func newExecContext(runID string, p *pipeline.Pipeline, opts pipeline.Options, workspace string, st *stash.Store, plugins map[string]Plugin) *ExecContext {
	return &ExecContext{
		RunID:     runID,
		Pipeline:  p.Name,
		Branch:    opts.Branch,
		Tag:       opts.Tag,
		Workspace: workspace,
		Agent:     p.Agent,
		shared: &sharedState{
			results: make(map[string]pipeline.StageResult),
			stash:   st,
			plugins: plugins,
		},
	}
}

// fork gives a branch its own copy of the branch-local state while
// keeping the shared maps.
func (ec *ExecContext) fork() *ExecContext {
	clone := *ec
	clone.env = make([]pipeline.EnvVar, len(ec.env))
	copy(clone.env, ec.env)
	return &clone
}

// PushEnv appends to the ordered overlay; the last write to a key
// wins at resolution time.
func (ec *ExecContext) PushEnv(key, value string) {
	ec.env = append(ec.env, pipeline.EnvVar{Key: key, Value: value})
}

// Resolved flattens the overlay plus the built-in run variables into
// a plain map.
func (ec *ExecContext) Resolved() map[string]string {
	env := make(map[string]string, len(ec.env)+8)
	for _, e := range ec.env {
		env[e.Key] = e.Value
	}
	env["WORKSPACE"] = ec.Workspace
	env["RUN_ID"] = ec.RunID
	env["PIPELINE_NAME"] = ec.Pipeline
	if ec.StageName != "" {
		env["STAGE_NAME"] = ec.StageName
	}
	if ec.Branch != "" {
		env["BRANCH_NAME"] = ec.Branch
	}
	if ec.Tag != "" {
		env["TAG_NAME"] = ec.Tag
	}
	return env
}

// SetResult records a completed stage. Writes are linearized; two
// writes to the same key indicate a broken ownership invariant and
// fail loudly.
func (ec *ExecContext) SetResult(key string, res pipeline.StageResult) error {
	ec.shared.mu.Lock()
	defer ec.shared.mu.Unlock()
	if _, dup := ec.shared.results[key]; dup {
		return fmt.Errorf("stage result %q written twice", key)
	}
	ec.shared.results[key] = res
	return nil
}

// Result returns the recorded result for a completed stage or
// branch. This is the read side of cross-stage state transfer:
// plugin steps running in later stages (or in sibling branches, once
// the entry exists) inspect earlier outcomes through it. An entry is
// written exactly once when its stage reaches a terminal state and
// never mutated afterwards, so a successful lookup always observes a
// settled value. Branch entries are keyed "stage/branch"; retry
// re-executions append "#<attempt>" to the stage component.
func (ec *ExecContext) Result(key string) (pipeline.StageResult, bool) {
	ec.shared.mu.Lock()
	defer ec.shared.mu.Unlock()
	res, ok := ec.shared.results[key]
	return res, ok
}

// Stash exposes the run's stash store.
func (ec *ExecContext) Stash() *stash.Store {
	return ec.shared.stash
}

func (ec *ExecContext) plugin(name string) (Plugin, bool) {
	p, ok := ec.shared.plugins[name]
	return p, ok
}
