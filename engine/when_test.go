package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuttle-ci/shuttle/pipeline"
)

func testContext(branch, tag string, env map[string]string) *ExecContext {
	ec := &ExecContext{
		RunID:    "run-1",
		Pipeline: "demo",
		Branch:   branch,
		Tag:      tag,
		shared:   &sharedState{results: make(map[string]pipeline.StageResult)},
	}
	for _, k := range sortedKeys(env) {
		ec.PushEnv(k, env[k])
	}
	return ec
}

func TestEvalWhen(t *testing.T) {
	ec := testContext("main", "v1.2.0", map[string]string{"DEPLOY": "yes"})

	tests := []struct {
		name string
		when *pipeline.When
		want bool
	}{
		{name: "branch match", when: pipeline.OnBranch("main"), want: true},
		{name: "branch mismatch", when: pipeline.OnBranch("develop"), want: false},
		{name: "tag match", when: pipeline.OnTag("v1.2.0"), want: true},
		{name: "tag mismatch", when: pipeline.OnTag("v2.0.0"), want: false},
		{name: "env match", when: pipeline.EnvEquals("DEPLOY", "yes"), want: true},
		{name: "env mismatch", when: pipeline.EnvEquals("DEPLOY", "no"), want: false},
		{name: "env absent", when: pipeline.EnvEquals("MISSING", "x"), want: false},
		{name: "builtin visible to env predicate", when: pipeline.EnvEquals("BRANCH_NAME", "main"), want: true},
		{name: "not", when: pipeline.Not(pipeline.OnBranch("develop")), want: true},
		{
			name: "all of true",
			when: pipeline.AllOf(pipeline.OnBranch("main"), pipeline.EnvEquals("DEPLOY", "yes")),
			want: true,
		},
		{
			name: "all of short circuit",
			when: pipeline.AllOf(pipeline.OnBranch("develop"), pipeline.EnvEquals("DEPLOY", "yes")),
			want: false,
		},
		{
			name: "any of",
			when: pipeline.AnyOf(pipeline.OnBranch("develop"), pipeline.OnTag("v1.2.0")),
			want: true,
		},
		{
			name: "any of all false",
			when: pipeline.AnyOf(pipeline.OnBranch("develop"), pipeline.OnTag("v9")),
			want: false,
		},
		{
			name: "nested composition",
			when: pipeline.AllOf(
				pipeline.OnBranch("main"),
				pipeline.Not(pipeline.EnvEquals("SKIP", "1")),
			),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evalWhen(ec, tt.when)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalWhen_Errors(t *testing.T) {
	ec := testContext("main", "", nil)

	tests := []struct {
		name string
		when *pipeline.When
	}{
		{name: "unknown kind", when: &pipeline.When{Kind: pipeline.WhenKind(42)}},
		{name: "malformed not", when: &pipeline.When{Kind: pipeline.WhenNot}},
		{
			name: "error propagates through all of",
			when: pipeline.AllOf(pipeline.OnBranch("main"), &pipeline.When{Kind: pipeline.WhenKind(42)}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := evalWhen(ec, tt.when)
			require.Error(t, err)
			var werr *pipeline.WhenError
			assert.ErrorAs(t, err, &werr)
		})
	}
}
