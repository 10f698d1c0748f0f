package pipeline

// EnvVar is one entry of an ordered environment overlay; later
// entries win over earlier ones on the same key.
type EnvVar struct {
	Key   string
	Value string
}

const maxStageNameLen = 100

// Stage is a named, sequential phase of a pipeline. Constructed once
// during pipeline assembly and read-only during execution.
type Stage struct {
	Name        string
	Agent       *Agent
	When        *When
	Environment []EnvVar
	Steps       []*Step
	Post        []Hook
}

func (s *Stage) validate() error {
	if s.Name == "" {
		return validationErrorf("stage name cannot be empty")
	}
	if len(s.Name) > maxStageNameLen {
		return validationErrorf("stage name %q exceeds %d characters", s.Name[:maxStageNameLen], maxStageNameLen)
	}
	if len(s.Steps) == 0 {
		return validationErrorf("stage %q needs at least one step", s.Name)
	}
	if s.Agent != nil {
		if err := s.Agent.validate(); err != nil {
			return err
		}
	}
	if s.When != nil {
		if err := s.When.validate(); err != nil {
			return err
		}
	}
	if err := validateSteps(s.Steps); err != nil {
		return err
	}
	for _, h := range s.Post {
		if err := h.validate(); err != nil {
			return err
		}
	}
	return nil
}

// StageBuilder assembles a stage; Build validates the result.
type StageBuilder struct {
	stage Stage
}

func NewStage(name string) *StageBuilder {
	return &StageBuilder{stage: Stage{Name: name}}
}

func (b *StageBuilder) Agent(a *Agent) *StageBuilder {
	b.stage.Agent = a
	return b
}

func (b *StageBuilder) When(w *When) *StageBuilder {
	b.stage.When = w
	return b
}

func (b *StageBuilder) Env(key, value string) *StageBuilder {
	b.stage.Environment = append(b.stage.Environment, EnvVar{Key: key, Value: value})
	return b
}

func (b *StageBuilder) Step(steps ...*Step) *StageBuilder {
	b.stage.Steps = append(b.stage.Steps, steps...)
	return b
}

func (b *StageBuilder) Post(hooks ...Hook) *StageBuilder {
	b.stage.Post = append(b.stage.Post, hooks...)
	return b
}

func (b *StageBuilder) Build() (*Stage, error) {
	st := b.stage
	if err := st.validate(); err != nil {
		return nil, err
	}
	return &st, nil
}

// MustBuild panics on validation errors; for static definitions in
// tests and examples.
func (b *StageBuilder) MustBuild() *Stage {
	st, err := b.Build()
	if err != nil {
		panic(err)
	}
	return st
}
