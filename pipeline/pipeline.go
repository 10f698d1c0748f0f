// Package pipeline is the immutable description of a CI pipeline:
// stages containing step trees, agents, environment overlays, typed
// parameters and post-condition hooks. Validation happens at
// construction time; nothing in this package executes anything.
package pipeline

import "time"

type Pipeline struct {
	Name        string
	Agent       *Agent
	Environment []EnvVar
	Parameters  []Parameter
	Stages      []*Stage
	Post        []Hook
}

// Options tune one run of a pipeline.
type Options struct {
	// FailFast skips remaining stages after the first failure and
	// cancels outstanding parallel branches as soon as one fails.
	// The default is wait-for-all: later stages and branches still
	// run so their post hooks can fire.
	FailFast bool

	// DefaultTimeout, when non-zero, bounds the whole run as an
	// outer timeout.
	DefaultTimeout time.Duration

	// MaxConcurrency caps truly concurrent branches. Zero means
	// the engine default.
	MaxConcurrency int

	// Params override parameter defaults for this run.
	Params map[string]string

	// Branch and Tag describe what triggered the run; when
	// predicates compare against them.
	Branch string
	Tag    string
}

// Validate checks the whole pipeline tree. It is called by Build and
// again by the engine before any execution begins.
func (p *Pipeline) Validate() error {
	if p.Name == "" {
		return validationErrorf("pipeline name cannot be empty")
	}
	if len(p.Stages) == 0 {
		return validationErrorf("pipeline %q needs at least one stage", p.Name)
	}
	names := make(map[string]bool, len(p.Stages))
	for _, st := range p.Stages {
		if names[st.Name] {
			return validationErrorf("duplicate stage name %q", st.Name)
		}
		names[st.Name] = true
		if err := st.validate(); err != nil {
			return err
		}
	}
	if p.Agent != nil {
		if err := p.Agent.validate(); err != nil {
			return err
		}
	}
	for _, param := range p.Parameters {
		if err := param.validate(); err != nil {
			return err
		}
	}
	for _, h := range p.Post {
		if err := h.validate(); err != nil {
			return err
		}
	}
	return nil
}

// Builder assembles a pipeline; Build validates the result.
type Builder struct {
	p Pipeline
}

func New(name string) *Builder {
	return &Builder{p: Pipeline{Name: name}}
}

func (b *Builder) Agent(a *Agent) *Builder {
	b.p.Agent = a
	return b
}

func (b *Builder) Env(key, value string) *Builder {
	b.p.Environment = append(b.p.Environment, EnvVar{Key: key, Value: value})
	return b
}

func (b *Builder) Param(params ...Parameter) *Builder {
	b.p.Parameters = append(b.p.Parameters, params...)
	return b
}

func (b *Builder) Stage(stages ...*Stage) *Builder {
	b.p.Stages = append(b.p.Stages, stages...)
	return b
}

func (b *Builder) Post(hooks ...Hook) *Builder {
	b.p.Post = append(b.p.Post, hooks...)
	return b
}

func (b *Builder) Build() (*Pipeline, error) {
	p := b.p
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (b *Builder) MustBuild() *Pipeline {
	p, err := b.Build()
	if err != nil {
		panic(err)
	}
	return p
}
