package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Full(t *testing.T) {
	def := `
name: release
agent:
  image: golang:1.24
environment:
  - CGO_ENABLED=0
  - GOFLAGS=-trimpath
parameters:
  - name: VERSION
    default: dev
  - name: NOTIFY
    type: bool
  - name: TARGET
    type: choice
    choices: [staging, production]
stages:
  - name: build
    steps:
      - run: go build ./...
      - stash:
          name: binaries
          pattern: "bin/*"
  - name: test
    environment:
      - GOMAXPROCS=2
    steps:
      - retry:
          count: 3
          step:
            run: go test ./...
      - timeout:
          duration: 10m
          step:
            run: go vet ./...
  - name: deploy
    when:
      branch: main
    steps:
      - unstash: binaries
      - run: ./deploy.sh
    post:
      failure:
        - log: deploy failed
post:
  always:
    - log: done
`
	p, err := Load([]byte(def))
	require.NoError(t, err)

	assert.Equal(t, "release", p.Name)
	require.NotNil(t, p.Agent)
	assert.Equal(t, AgentContainer, p.Agent.Kind)
	assert.Equal(t, "golang:1.24", p.Agent.Image)

	assert.Equal(t, []EnvVar{
		{Key: "CGO_ENABLED", Value: "0"},
		{Key: "GOFLAGS", Value: "-trimpath"},
	}, p.Environment)

	require.Len(t, p.Parameters, 3)
	assert.Equal(t, ParamString, p.Parameters[0].Kind)
	assert.Equal(t, ParamBool, p.Parameters[1].Kind)
	assert.Equal(t, "false", p.Parameters[1].Default)
	assert.Equal(t, ParamChoice, p.Parameters[2].Kind)
	assert.Equal(t, "staging", p.Parameters[2].Default)

	require.Len(t, p.Stages, 3)

	build := p.Stages[0]
	require.Len(t, build.Steps, 2)
	assert.Equal(t, StepCommand, build.Steps[0].Kind)
	assert.Equal(t, StepStash, build.Steps[1].Kind)
	assert.Equal(t, "binaries", build.Steps[1].StashName)

	test := p.Stages[1]
	assert.Equal(t, []EnvVar{{Key: "GOMAXPROCS", Value: "2"}}, test.Environment)
	require.Len(t, test.Steps, 2)
	assert.Equal(t, StepRetry, test.Steps[0].Kind)
	assert.Equal(t, 3, test.Steps[0].Count)
	assert.Equal(t, StepTimeout, test.Steps[1].Kind)
	assert.Equal(t, 10*time.Minute, test.Steps[1].Duration)

	deploy := p.Stages[2]
	require.NotNil(t, deploy.When)
	assert.Equal(t, WhenBranch, deploy.When.Kind)
	assert.Equal(t, StepUnstash, deploy.Steps[0].Kind)
	require.Len(t, deploy.Post, 1)
	assert.Equal(t, HookOnFailure, deploy.Post[0].On)

	require.Len(t, p.Post, 1)
	assert.Equal(t, HookAlways, p.Post[0].On)
}

func TestLoad_ParallelAndMatrix(t *testing.T) {
	def := `
name: ci
stages:
  - name: checks
    steps:
      - parallel:
          - name: lint
            steps:
              - run: golangci-lint run
          - name: units
            steps:
              - run: go test ./...
  - name: cross
    steps:
      - matrix:
          axes:
            - name: os
              values: [linux, darwin]
            - name: arch
              values: [amd64, arm64]
          exclude:
            - os: darwin
              arch: amd64
          step:
            run: go build
`
	p, err := Load([]byte(def))
	require.NoError(t, err)

	par := p.Stages[0].Steps[0]
	require.Equal(t, StepParallel, par.Kind)
	require.Len(t, par.Branches, 2)
	assert.Equal(t, "lint", par.Branches[0].Name)

	mx := p.Stages[1].Steps[0]
	require.Equal(t, StepMatrix, mx.Kind)
	assert.Len(t, mx.Matrix.Cells(), 3)
}

func TestLoad_NestedWhen(t *testing.T) {
	def := `
name: gated
stages:
  - name: deploy
    when:
      all:
        - branch: main
        - not:
            env:
              name: SKIP_DEPLOY
              value: "1"
    steps:
      - run: ./deploy.sh
`
	p, err := Load([]byte(def))
	require.NoError(t, err)

	w := p.Stages[0].When
	require.Equal(t, WhenAllOf, w.Kind)
	require.Len(t, w.Conds, 2)
	assert.Equal(t, WhenBranch, w.Conds[0].Kind)
	assert.Equal(t, WhenNot, w.Conds[1].Kind)
	assert.Equal(t, WhenEnv, w.Conds[1].Conds[0].Kind)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		def  string
	}{
		{
			name: "not yaml",
			def:  "::: nope",
		},
		{
			name: "no stages",
			def:  "name: empty",
		},
		{
			name: "bad environment entry",
			def: `
name: p
environment: [NOEQUALS]
stages:
  - name: a
    steps: [{run: "true"}]
`,
		},
		{
			name: "bad timeout duration",
			def: `
name: p
stages:
  - name: a
    steps:
      - timeout:
          duration: tomorrow
          step: {run: "true"}
`,
		},
		{
			name: "unknown post condition",
			def: `
name: p
stages:
  - name: a
    steps: [{run: "true"}]
post:
  sometimes:
    - log: hm
`,
		},
		{
			name: "unknown param type",
			def: `
name: p
parameters:
  - name: X
    type: float
stages:
  - name: a
    steps: [{run: "true"}]
`,
		},
		{
			name: "agent without shape",
			def: `
name: p
agent: {}
stages:
  - name: a
    steps: [{run: "true"}]
`,
		},
		{
			name: "step without kind",
			def: `
name: p
stages:
  - name: a
    steps: [{}]
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.def))
			assert.Error(t, err)
		})
	}
}
