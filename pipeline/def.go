package pipeline

// Structural representation of a pipeline definition file. Files are
// plain YAML; Load compiles them through the builder API so file
// definitions and programmatic definitions pass the same validation.

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type defFile struct {
	Name        string               `yaml:"name"`
	Agent       *defAgent            `yaml:"agent"`
	Environment []string             `yaml:"environment"`
	Parameters  []defParam           `yaml:"parameters"`
	Stages      []defStage           `yaml:"stages"`
	Post        map[string][]defStep `yaml:"post"`
}

type defAgent struct {
	Any     bool   `yaml:"any"`
	Label   string `yaml:"label"`
	Image   string `yaml:"image"`
	WorkDir string `yaml:"workdir"`
}

type defParam struct {
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"`
	Default string   `yaml:"default"`
	Choices []string `yaml:"choices"`
}

type defStage struct {
	Name        string               `yaml:"name"`
	Agent       *defAgent            `yaml:"agent"`
	When        *defWhen             `yaml:"when"`
	Environment []string             `yaml:"environment"`
	Steps       []defStep            `yaml:"steps"`
	Post        map[string][]defStep `yaml:"post"`
}

type defWhen struct {
	Branch string    `yaml:"branch"`
	Tag    string    `yaml:"tag"`
	Env    *defEnvEq `yaml:"env"`
	Not    *defWhen  `yaml:"not"`
	All    []defWhen `yaml:"all"`
	Any    []defWhen `yaml:"any"`
}

type defEnvEq struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

type defStep struct {
	Run      string          `yaml:"run"`
	Log      *string         `yaml:"log"`
	Retry    *defRetry       `yaml:"retry"`
	Timeout  *defTimeout     `yaml:"timeout"`
	Dir      *defDir         `yaml:"dir"`
	Stash    *defStash       `yaml:"stash"`
	Unstash  string          `yaml:"unstash"`
	When     *defConditional `yaml:"when"`
	Parallel []defStage      `yaml:"parallel"`
	Matrix   *defMatrix      `yaml:"matrix"`
	Steps    []defStep       `yaml:"steps"`
	Plugin   *defPlugin      `yaml:"plugin"`
}

type defRetry struct {
	Count int     `yaml:"count"`
	Step  defStep `yaml:"step"`
}

type defTimeout struct {
	Duration string  `yaml:"duration"`
	Step     defStep `yaml:"step"`
}

type defDir struct {
	Path  string    `yaml:"path"`
	Steps []defStep `yaml:"steps"`
}

type defStash struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

type defConditional struct {
	Cond defWhen `yaml:"cond"`
	Step defStep `yaml:"step"`
}

type defMatrix struct {
	Axes    []defAxis           `yaml:"axes"`
	Exclude []map[string]string `yaml:"exclude"`
	Step    defStep             `yaml:"step"`
}

type defAxis struct {
	Name   string   `yaml:"name"`
	Values []string `yaml:"values"`
}

type defPlugin struct {
	Name string            `yaml:"name"`
	Args map[string]string `yaml:"args"`
}

// Load parses a YAML pipeline definition and compiles it into a
// validated Pipeline.
func Load(contents []byte) (*Pipeline, error) {
	var def defFile
	if err := yaml.Unmarshal(contents, &def); err != nil {
		return nil, fmt.Errorf("parsing pipeline definition: %w", err)
	}
	return def.compile()
}

func (d *defFile) compile() (*Pipeline, error) {
	b := New(d.Name)
	if d.Agent != nil {
		agent, err := d.Agent.compile()
		if err != nil {
			return nil, err
		}
		b.Agent(agent)
	}
	for _, e := range d.Environment {
		key, value, err := splitEnv(e)
		if err != nil {
			return nil, err
		}
		b.Env(key, value)
	}
	for _, p := range d.Parameters {
		param, err := p.compile()
		if err != nil {
			return nil, err
		}
		b.Param(param)
	}
	for _, ds := range d.Stages {
		stage, err := ds.compile()
		if err != nil {
			return nil, fmt.Errorf("stage %q: %w", ds.Name, err)
		}
		b.Stage(stage)
	}
	hooks, err := compileHooks(d.Post)
	if err != nil {
		return nil, err
	}
	b.Post(hooks...)
	return b.Build()
}

func (d *defAgent) compile() (*Agent, error) {
	switch {
	case d.Image != "":
		a := ContainerAgent(d.Image)
		if d.WorkDir != "" {
			a.WithWorkDir(d.WorkDir)
		}
		return a, nil
	case d.Label != "":
		return LabelAgent(d.Label), nil
	case d.Any:
		return AnyAgent(), nil
	}
	return nil, validationErrorf("agent needs any, label or image")
}

func (d defParam) compile() (Parameter, error) {
	switch d.Type {
	case "", "string":
		return StringParam(d.Name, d.Default), nil
	case "bool":
		p := Parameter{Name: d.Name, Kind: ParamBool, Default: d.Default}
		if p.Default == "" {
			p.Default = "false"
		}
		return p, nil
	case "choice":
		p := ChoiceParam(d.Name, d.Choices)
		if d.Default != "" {
			p.Default = d.Default
		}
		return p, nil
	}
	return Parameter{}, validationErrorf("parameter %q has unknown type %q", d.Name, d.Type)
}

func (d defStage) compile() (*Stage, error) {
	b := NewStage(d.Name)
	if d.Agent != nil {
		agent, err := d.Agent.compile()
		if err != nil {
			return nil, err
		}
		b.Agent(agent)
	}
	if d.When != nil {
		b.When(d.When.compile())
	}
	for _, e := range d.Environment {
		key, value, err := splitEnv(e)
		if err != nil {
			return nil, err
		}
		b.Env(key, value)
	}
	for _, ds := range d.Steps {
		step, err := ds.compile()
		if err != nil {
			return nil, err
		}
		b.Step(step)
	}
	hooks, err := compileHooks(d.Post)
	if err != nil {
		return nil, err
	}
	b.Post(hooks...)
	return b.Build()
}

func (d *defWhen) compile() *When {
	switch {
	case d.Branch != "":
		return OnBranch(d.Branch)
	case d.Tag != "":
		return OnTag(d.Tag)
	case d.Env != nil:
		return EnvEquals(d.Env.Name, d.Env.Value)
	case d.Not != nil:
		return Not(d.Not.compile())
	case len(d.All) > 0:
		return AllOf(compileWhens(d.All)...)
	case len(d.Any) > 0:
		return AnyOf(compileWhens(d.Any)...)
	}
	// builder validation rejects this shape later
	return &When{Kind: WhenKind(-1)}
}

func compileWhens(defs []defWhen) []*When {
	conds := make([]*When, len(defs))
	for i := range defs {
		conds[i] = defs[i].compile()
	}
	return conds
}

func (d defStep) compile() (*Step, error) {
	switch {
	case d.Run != "":
		return Command(d.Run), nil
	case d.Log != nil:
		return Log(*d.Log), nil
	case d.Retry != nil:
		inner, err := d.Retry.Step.compile()
		if err != nil {
			return nil, err
		}
		return Retry(d.Retry.Count, inner), nil
	case d.Timeout != nil:
		dur, err := time.ParseDuration(d.Timeout.Duration)
		if err != nil {
			return nil, validationErrorf("bad timeout duration %q", d.Timeout.Duration)
		}
		inner, err := d.Timeout.Step.compile()
		if err != nil {
			return nil, err
		}
		return Timeout(dur, inner), nil
	case d.Dir != nil:
		steps, err := compileSteps(d.Dir.Steps)
		if err != nil {
			return nil, err
		}
		return Dir(d.Dir.Path, steps...), nil
	case d.Stash != nil:
		return Stash(d.Stash.Name, d.Stash.Pattern), nil
	case d.Unstash != "":
		return Unstash(d.Unstash), nil
	case d.When != nil:
		inner, err := d.When.Step.compile()
		if err != nil {
			return nil, err
		}
		return Conditional(d.When.Cond.compile(), inner), nil
	case len(d.Parallel) > 0:
		branches := make([]*Stage, 0, len(d.Parallel))
		for _, ds := range d.Parallel {
			branch, err := ds.compile()
			if err != nil {
				return nil, fmt.Errorf("branch %q: %w", ds.Name, err)
			}
			branches = append(branches, branch)
		}
		return Parallel(branches...), nil
	case d.Matrix != nil:
		return d.Matrix.compile()
	case len(d.Steps) > 0:
		steps, err := compileSteps(d.Steps)
		if err != nil {
			return nil, err
		}
		return Steps(steps...), nil
	case d.Plugin != nil:
		return Custom(d.Plugin.Name, d.Plugin.Args), nil
	}
	return nil, validationErrorf("step has no recognized kind")
}

func (d *defMatrix) compile() (*Step, error) {
	body, err := d.Step.compile()
	if err != nil {
		return nil, err
	}
	m := &Matrix{Body: body}
	for _, ax := range d.Axes {
		m.Axes = append(m.Axes, Axis{Name: ax.Name, Values: ax.Values})
	}
	for _, ex := range d.Exclude {
		m.Exclude = append(m.Exclude, Exclude(ex))
	}
	return MatrixStep(m), nil
}

func compileSteps(defs []defStep) ([]*Step, error) {
	steps := make([]*Step, 0, len(defs))
	for _, ds := range defs {
		st, err := ds.compile()
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, nil
}

func compileHooks(post map[string][]defStep) ([]Hook, error) {
	conds := map[string]HookCondition{
		"always":   HookAlways,
		"success":  HookOnSuccess,
		"failure":  HookOnFailure,
		"unstable": HookOnUnstable,
		"changed":  HookOnChanged,
	}
	// fixed iteration order so hook order is stable across loads
	var hooks []Hook
	for _, name := range []string{"always", "success", "failure", "unstable", "changed"} {
		defs, ok := post[name]
		if !ok {
			continue
		}
		steps, err := compileSteps(defs)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, Hook{On: conds[name], Steps: steps})
	}
	for name := range post {
		if _, ok := conds[name]; !ok {
			return nil, validationErrorf("unknown post condition %q", name)
		}
	}
	return hooks, nil
}

func splitEnv(entry string) (string, string, error) {
	key, value, found := strings.Cut(entry, "=")
	if !found || key == "" {
		return "", "", validationErrorf("environment entry %q is not KEY=value", entry)
	}
	return key, value, nil
}
