package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/shuttle-ci/shuttle/event"
	"github.com/shuttle-ci/shuttle/pipeline"
	"github.com/shuttle-ci/shuttle/queue"
	"github.com/shuttle-ci/shuttle/runner"
	"github.com/shuttle-ci/shuttle/stash"
)

// evalSteps executes steps strictly in order, aborting the remaining
// siblings on the first error. Steps are not implicitly fault
// tolerant; Retry and Conditional opt into resilience explicitly.
func (r *run) evalSteps(ctx context.Context, ec *ExecContext, steps []*pipeline.Step) error {
	for _, st := range steps {
		if err := r.evalStep(ctx, ec, st); err != nil {
			return err
		}
	}
	return nil
}

// evalStep gives semantics to one step. Evaluation is synchronous
// from the caller's point of view; parallel and matrix fan out
// through the worker pool internally.
func (r *run) evalStep(ctx context.Context, ec *ExecContext, st *pipeline.Step) error {
	if err := ctx.Err(); err != nil {
		return mapCancel(err)
	}

	switch st.Kind {
	case pipeline.StepCommand:
		return r.evalCommand(ctx, ec, st)

	case pipeline.StepLog:
		r.emit(ec, event.KindStepStarted, map[string]string{"stage": ec.StageName, "step": "log"})
		r.l.Info(st.Message, "stage", ec.StageName)
		return nil

	case pipeline.StepRetry:
		return r.evalRetry(ctx, ec, st)

	case pipeline.StepTimeout:
		return r.evalTimeout(ctx, ec, st)

	case pipeline.StepParallel:
		r.emit(ec, event.KindStepStarted, map[string]string{"stage": ec.StageName, "step": "parallel", "branches": itoa(len(st.Branches))})
		return r.runParallel(ctx, ec, st.Branches, ec.scope)

	case pipeline.StepMatrix:
		return r.evalMatrix(ctx, ec, st)

	case pipeline.StepConditional:
		ok, err := evalWhen(ec, st.Cond)
		if err != nil {
			return err
		}
		if !ok {
			// skip marker only; the sub-tree has no side effects
			r.emit(ec, event.KindStepStarted, map[string]string{"stage": ec.StageName, "step": "when", "skipped": "true"})
			return nil
		}
		return r.evalStep(ctx, ec, st.Inner)

	case pipeline.StepStash:
		r.emit(ec, event.KindStepStarted, map[string]string{"stage": ec.StageName, "step": "stash", "name": st.StashName})
		n, err := ec.Stash().Stash(ctx, st.StashName, ec.Workspace, st.Pattern)
		if err != nil {
			return err
		}
		if n == 0 {
			r.l.Warn("stash matched no files", "name", st.StashName, "pattern", st.Pattern)
		}
		return nil

	case pipeline.StepUnstash:
		r.emit(ec, event.KindStepStarted, map[string]string{"stage": ec.StageName, "step": "unstash", "name": st.StashName})
		err := ec.Stash().Unstash(ctx, st.StashName, ec.Workspace)
		if errors.Is(err, stash.ErrUnknown) {
			return &pipeline.UnknownStashError{Name: st.StashName}
		}
		return err

	case pipeline.StepDir:
		// rebase the workspace for the sub-tree only; the fork
		// restores the previous root on every path, error included
		dec := ec.fork()
		if filepath.IsAbs(st.Dir) {
			dec.Workspace = st.Dir
		} else {
			dec.Workspace = filepath.Join(ec.Workspace, st.Dir)
		}
		r.emit(ec, event.KindStepStarted, map[string]string{"stage": ec.StageName, "step": "dir", "path": st.Dir})
		return r.evalSteps(ctx, dec, st.Steps)

	case pipeline.StepComposite:
		return r.evalSteps(ctx, ec, st.Steps)

	case pipeline.StepCustom:
		p, ok := ec.plugin(st.Plugin)
		if !ok {
			return fmt.Errorf("unknown plugin step %q", st.Plugin)
		}
		r.emit(ec, event.KindStepStarted, map[string]string{"stage": ec.StageName, "step": "custom", "plugin": st.Plugin})
		return p.Execute(ctx, ec, st.Args)
	}

	return fmt.Errorf("unknown step kind %d", st.Kind)
}

func (r *run) evalCommand(ctx context.Context, ec *ExecContext, st *pipeline.Step) error {
	env := ec.Resolved()
	expanded := expandVars(st.Command, env)

	r.emit(ec, event.KindStepStarted, map[string]string{"stage": ec.StageName, "step": "command", "command": expanded})

	res, err := r.e.runner.Run(ctx, runner.Command{
		Text:  expanded,
		Env:   envSlice(env),
		Dir:   ec.Workspace,
		Agent: ec.Agent,
	})
	if err != nil {
		return mapCancel(err)
	}
	if res.ExitCode != 0 {
		return &pipeline.CommandError{Code: res.ExitCode, Stderr: res.Stderr}
	}
	return nil
}

// evalRetry evaluates the inner step up to Count times, stopping at
// the first success and returning the last error otherwise. Each
// failed attempt that will be retried emits a StepRetried event
// before the next attempt begins.
func (r *run) evalRetry(ctx context.Context, ec *ExecContext, st *pipeline.Step) error {
	attempt := 0
	return retry.Do(
		func() error {
			attempt++
			aec := ec
			if attempt > 1 {
				// re-executions get their own result namespace so a
				// retried parallel sub-tree never collides with the
				// branch keys its first attempt already recorded
				aec = ec.fork()
				aec.scope = ec.scope + "#" + itoa(attempt)
			}
			return r.evalStep(ctx, aec, st.Inner)
		},
		retry.Attempts(uint(st.Count)),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, pipeline.ErrCancelled)
		}),
		retry.OnRetry(func(attempt uint, err error) {
			if int(attempt)+1 >= st.Count {
				return
			}
			r.emit(ec, event.KindStepRetried, map[string]string{
				"stage":   ec.StageName,
				"attempt": itoa(int(attempt) + 1),
				"error":   err.Error(),
			})
			r.l.Warn("step failed, retrying", "stage", ec.StageName, "attempt", int(attempt)+1, "of", st.Count, "error", err)
		}),
	)
}

// evalTimeout runs the inner step under a deadline measured on the
// monotonic clock. Completing exactly at the boundary counts as
// success; a late inner step is cancelled and awaited, never
// adopted.
func (r *run) evalTimeout(ctx context.Context, ec *ExecContext, st *pipeline.Step) error {
	tctx, cancel := context.WithCancel(ctx)
	defer cancel()

	timer := time.NewTimer(st.Duration)
	defer timer.Stop()

	done := make(chan error, 1)
	go func() {
		done <- r.evalStep(tctx, ec, st.Inner)
	}()

	select {
	case err := <-done:
		return err

	case <-timer.C:
		// the inner step may have completed in the same instant
		select {
		case err := <-done:
			return err
		default:
		}
		cancel()
		<-done // wait for the cancelled sub-tree to unwind
		r.emit(ec, event.KindStepTimedOut, map[string]string{
			"stage":    ec.StageName,
			"duration": st.Duration.String(),
		})
		return &pipeline.TimeoutError{Duration: st.Duration}

	case <-ctx.Done():
		cancel()
		<-done
		return mapCancel(ctx.Err())
	}
}

// runParallel submits every branch to the worker pool and joins on
// all of them. Wait-for-all is the default; fail-fast cancels
// outstanding branches as soon as one fails.
func (r *run) runParallel(ctx context.Context, ec *ExecContext, branches []*pipeline.Stage, keyPrefix string) error {
	pctx := ctx
	var cancelAll context.CancelFunc
	if r.opts.FailFast {
		pctx, cancelAll = context.WithCancel(ctx)
		defer cancelAll()
	}

	results := make([]pipeline.StageResult, len(branches))
	tasks := make([]*queue.Task, len(branches))
	for i, branch := range branches {
		bec := ec.fork()
		tasks[i] = r.pool.Submit(pctx, func(tctx context.Context) error {
			res := r.runStage(tctx, bec, branch, keyPrefix)
			results[i] = res
			if cancelAll != nil && res.Status == pipeline.StatusFailure {
				cancelAll()
			}
			return nil
		})
	}

	// joining from inside a branch must not pin the slot this branch
	// occupies, or a nested fan-out under a small pool starves its
	// own children
	var joined []error
	r.pool.Park(ctx, func() { joined = queue.Join(tasks) })

	for i, err := range joined {
		if err != nil {
			// cancelled before the branch ever started
			results[i] = pipeline.StageResult{
				Stage:  branches[i].Name,
				Status: pipeline.StatusFailure,
				Cause:  &pipeline.StageError{Stage: branches[i].Name, Err: mapCancel(err)},
			}
		}
	}

	statuses := make([]pipeline.Status, len(results))
	var causes []error
	for i, res := range results {
		statuses[i] = res.Status
		if res.Cause != nil {
			causes = append(causes, res.Cause)
		}
	}

	switch pipeline.Aggregate(statuses) {
	case pipeline.StatusFailure:
		return errors.Join(causes...)
	case pipeline.StatusUnstable:
		return pipeline.Unstable(errors.Join(causes...))
	}
	return nil
}

// evalMatrix expands the cartesian product into synthetic branches,
// each with the cell's combination bound into its environment, and
// runs them exactly as a parallel step.
func (r *run) evalMatrix(ctx context.Context, ec *ExecContext, st *pipeline.Step) error {
	cells := st.Matrix.Cells()
	if len(cells) == 0 {
		return errors.New("matrix produced no combinations after exclusion")
	}

	r.emit(ec, event.KindStepStarted, map[string]string{"stage": ec.StageName, "step": "matrix", "cells": itoa(len(cells))})

	branches := make([]*pipeline.Stage, len(cells))
	for i, cell := range cells {
		env := make([]pipeline.EnvVar, 0, len(cell.Values))
		for _, axis := range sortedKeys(cell.Values) {
			env = append(env, pipeline.EnvVar{Key: axis, Value: cell.Values[axis]})
		}
		branches[i] = &pipeline.Stage{
			Name:        cell.Name,
			Environment: env,
			Steps:       []*pipeline.Step{st.Matrix.Body},
		}
	}

	return r.runParallel(ctx, ec, branches, ec.scope)
}

func mapCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return pipeline.ErrCancelled
	}
	return err
}
