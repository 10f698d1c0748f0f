// Package engine executes validated pipelines: it drives stages
// through their state machine, interprets step trees, bounds
// concurrency through the worker pool and appends every transition
// to the event log.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/shuttle-ci/shuttle/event"
	"github.com/shuttle-ci/shuttle/log"
	"github.com/shuttle-ci/shuttle/pipeline"
	"github.com/shuttle-ci/shuttle/queue"
	"github.com/shuttle-ci/shuttle/runner"
	"github.com/shuttle-ci/shuttle/stash"
)

const defaultConcurrency = 4

// Config tunes engine-wide defaults; per-run Options may override
// concurrency.
type Config struct {
	// MaxConcurrency bounds concurrent branches per run.
	MaxConcurrency int
	// Workdir is where run workspaces are created.
	Workdir string
	// StashPersister, when set, lets stashes survive restarts.
	StashPersister stash.Persister
}

type Engine struct {
	runner  runner.Runner
	events  *event.Log
	pool    *queue.Pool
	history *history
	plugins map[string]Plugin
	cfg     Config
	l       *slog.Logger
}

func New(ctx context.Context, r runner.Runner, events *event.Log, cfg Config) *Engine {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = defaultConcurrency
	}
	if cfg.Workdir == "" {
		cfg.Workdir = filepath.Join(os.TempDir(), "shuttle")
	}
	return &Engine{
		runner:  r,
		events:  events,
		pool:    queue.NewPool(cfg.MaxConcurrency),
		history: newHistory(),
		plugins: make(map[string]Plugin),
		cfg:     cfg,
		l:       log.SubLogger(log.FromContext(ctx), "engine"),
	}
}

// run carries the per-run state so the interpreter does not thread
// options and pool through every call.
type run struct {
	e    *Engine
	pool *queue.Pool
	opts pipeline.Options
	l    *slog.Logger
}

// Execute runs a pipeline to completion, synchronously from the
// caller's point of view. Validation errors return before any
// execution begins and before any event is appended; execution
// failures are reported through the result, not the error.
func (e *Engine) Execute(ctx context.Context, p *pipeline.Pipeline, opts pipeline.Options) (*pipeline.PipelineResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	params, err := pipeline.ResolveParams(p.Parameters, opts.Params)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	workspace := filepath.Join(e.cfg.Workdir, runID)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, err
	}

	pool := e.pool
	if opts.MaxConcurrency > 0 {
		pool = queue.NewPool(opts.MaxConcurrency)
	}

	st := stash.NewStore(ctx)
	if e.cfg.StashPersister != nil {
		st.WithPersister(e.cfg.StashPersister)
	}

	ec := newExecContext(runID, p, opts, workspace, st, e.plugins)
	for _, ev := range p.Environment {
		ec.PushEnv(ev.Key, ev.Value)
	}
	for _, name := range sortedKeys(params) {
		ec.PushEnv("PARAM_"+name, params[name])
	}

	r := &run{e: e, pool: pool, opts: opts, l: e.l.With("run", runID, "pipeline", p.Name)}

	r.emit(ec, event.KindPipelineStarted, map[string]string{"pipeline": p.Name})
	r.l.Info("pipeline started", "stages", len(p.Stages))

	rctx := ctx
	if opts.DefaultTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, opts.DefaultTimeout)
		defer cancel()
	}

	var (
		results   []pipeline.StageResult
		stageErrs []*pipeline.StageError
		failed    bool
	)
	for _, stage := range p.Stages {
		if opts.FailFast && failed {
			r.emit(ec, event.KindStageSkipped, map[string]string{"stage": stage.Name, "reason": "fail-fast"})
			res := pipeline.StageResult{Stage: stage.Name, Status: pipeline.StatusSkipped}
			results = append(results, res)
			if err := ec.SetResult(stage.Name, res); err != nil {
				r.l.Error("recording stage result", "stage", stage.Name, "error", err)
			}
			continue
		}

		res := r.runStage(rctx, ec, stage, "")
		results = append(results, res)
		if res.Status == pipeline.StatusFailure {
			failed = true
			stageErrs = append(stageErrs, asStageError(stage.Name, res.Cause))
		}
	}

	statuses := make([]pipeline.Status, len(results))
	for i, res := range results {
		statuses[i] = res.Status
	}
	status := pipeline.Aggregate(statuses)

	var cause error
	if len(stageErrs) > 0 {
		cause = &pipeline.PipelineError{Pipeline: p.Name, Stages: stageErrs}
	}
	if errors.Is(rctx.Err(), context.DeadlineExceeded) {
		status = pipeline.StatusFailure
		cause = &pipeline.TimeoutError{Duration: opts.DefaultTimeout}
	}

	key := historyKey(p.Name, "")
	r.runHooks(ctx, ec, p.Post, status, e.history.previous(key), "pipeline")
	e.history.record(key, status)

	r.emit(ec, event.KindPipelineCompleted, map[string]string{
		"pipeline": p.Name,
		"status":   status.String(),
	})
	if status == pipeline.StatusFailure {
		r.l.Error("pipeline failed", "status", status.String())
	} else {
		r.l.Info("pipeline completed", "status", status.String())
	}

	return &pipeline.PipelineResult{
		Pipeline: p.Name,
		RunID:    runID,
		Status:   status,
		Stages:   results,
		Cause:    cause,
	}, nil
}

// runStage drives one stage through Pending -> Skipped or
// Pending -> Running -> terminal, fires its post hooks and records
// the result under key (prefixed for parallel branches).
func (r *run) runStage(ctx context.Context, parent *ExecContext, stage *pipeline.Stage, keyPrefix string) pipeline.StageResult {
	key := stage.Name
	if keyPrefix != "" {
		key = keyPrefix + "/" + stage.Name
	}

	ec := parent.fork()
	ec.StageName = stage.Name
	ec.scope = key
	if stage.Agent != nil {
		ec.Agent = stage.Agent
	}
	for _, ev := range stage.Environment {
		ec.PushEnv(ev.Key, ev.Value)
	}

	var res pipeline.StageResult
	if stage.When != nil {
		ok, err := evalWhen(ec, stage.When)
		if err != nil {
			// a broken predicate still walks the full lifecycle so
			// observers see started/completed pairs
			r.emit(ec, event.KindStageStarted, map[string]string{"stage": stage.Name})
			res = pipeline.StageResult{Stage: stage.Name, Status: pipeline.StatusFailure, Cause: &pipeline.StageError{Stage: stage.Name, Err: err}}
			r.emit(ec, event.KindStageCompleted, map[string]string{"stage": stage.Name, "status": res.Status.String(), "error": err.Error()})
			r.finishStage(ctx, ec, stage, key, res)
			return res
		}
		if !ok {
			r.emit(ec, event.KindStageSkipped, map[string]string{"stage": stage.Name, "reason": "when"})
			res = pipeline.StageResult{Stage: stage.Name, Status: pipeline.StatusSkipped}
			r.finishStage(ctx, ec, stage, key, res)
			return res
		}
	}

	r.emit(ec, event.KindStageStarted, map[string]string{"stage": stage.Name})
	r.l.Info("stage started", "stage", stage.Name)

	err := r.evalSteps(ctx, ec, stage.Steps)

	status := pipeline.StatusSuccess
	var cause error
	if err != nil {
		status = pipeline.StatusFailure
		// only a top-level unstable marker downgrades the failure;
		// an unstable branch buried under a real failure does not
		if _, ok := err.(*pipeline.UnstableError); ok {
			status = pipeline.StatusUnstable
		}
		cause = &pipeline.StageError{Stage: stage.Name, Err: err}
		r.l.Error("stage failed", "stage", stage.Name, "status", status.String(), "error", err)
	} else {
		r.l.Info("stage completed", "stage", stage.Name)
	}

	payload := map[string]string{"stage": stage.Name, "status": status.String()}
	if cause != nil {
		payload["error"] = cause.Error()
	}
	r.emit(ec, event.KindStageCompleted, payload)

	res = pipeline.StageResult{Stage: stage.Name, Status: status, Cause: cause}
	r.finishStage(ctx, ec, stage, key, res)
	return res
}

// finishStage records the result and fires the stage's own post
// hooks; hooks run for every terminal state, skipped included.
func (r *run) finishStage(ctx context.Context, ec *ExecContext, stage *pipeline.Stage, key string, res pipeline.StageResult) {
	if err := ec.SetResult(key, res); err != nil {
		r.l.Error("recording stage result", "stage", key, "error", err)
	}

	hkey := historyKey(ec.Pipeline, key)
	r.runHooks(ctx, ec, stage.Post, res.Status, r.e.history.previous(hkey), "stage:"+stage.Name)
	r.e.history.record(hkey, res.Status)
}

// runHooks evaluates every matching post-condition hook. All
// matching hooks fire independently; a hook's own failure is
// recorded as an event but never escalates into the computed result.
func (r *run) runHooks(ctx context.Context, ec *ExecContext, hooks []pipeline.Hook, status pipeline.Status, prev *pipeline.Status, scope string) {
	for _, h := range hooks {
		if !h.Matches(status, prev) {
			continue
		}

		hec := ec.fork()
		err := r.evalSteps(context.WithoutCancel(ctx), hec, h.Steps)

		payload := map[string]string{"scope": scope, "condition": h.On.String()}
		if err != nil {
			payload["error"] = err.Error()
			r.l.Warn("post hook failed", "scope", scope, "condition", h.On.String(), "error", err)
		}
		r.emit(ec, event.KindPostHookFired, payload)
	}
}

func (r *run) emit(ec *ExecContext, kind event.Kind, payload map[string]string) {
	_, err := r.e.events.Append(event.Event{
		RunID:   ec.RunID,
		Kind:    kind,
		Payload: payload,
	})
	if err != nil {
		// the log is a side channel; execution never depends on it
		r.l.Error("appending event", "kind", string(kind), "error", err)
	}
}

func asStageError(stage string, cause error) *pipeline.StageError {
	var se *pipeline.StageError
	if errors.As(cause, &se) {
		return se
	}
	if cause == nil {
		cause = errors.New("stage failed")
	}
	return &pipeline.StageError{Stage: stage, Err: cause}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func itoa(n int) string { return strconv.Itoa(n) }
