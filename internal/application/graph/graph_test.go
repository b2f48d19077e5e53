package graph

import (
	"testing"

	"github.com/forksnd/convey/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertTopological(t *testing.T, g *Graph, needs map[string][]string) {
	t.Helper()

	order := g.Order()
	require.Len(t, order, len(needs))

	pos := make(map[string]int, len(order))
	for i, stage := range order {
		pos[stage] = i
	}
	for stage, deps := range needs {
		for _, dep := range deps {
			assert.Less(t, pos[dep], pos[stage],
				"dependency %s must come before %s", dep, stage)
		}
	}
}

func TestOrderIsTopological(t *testing.T) {
	cases := []struct {
		name  string
		needs map[string][]string
	}{
		{
			name:  "single stage",
			needs: map[string][]string{"build": nil},
		},
		{
			name: "chain",
			needs: map[string][]string{
				"build":   nil,
				"test":    {"build"},
				"release": {"test"},
			},
		},
		{
			name: "diamond",
			needs: map[string][]string{
				"build":   nil,
				"unit":    {"build"},
				"smoke":   {"build"},
				"publish": {"unit", "smoke"},
			},
		},
		{
			name: "two independent branches",
			needs: map[string][]string{
				"build-image": nil,
				"push-image":  {"build-image"},
				"docs":        nil,
				"docs-deploy": {"docs"},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, err := New(tc.needs)
			require.NoError(t, err)
			assertTopological(t, g, tc.needs)
		})
	}
}

func TestCycleAlwaysRejected(t *testing.T) {
	cases := []struct {
		name  string
		needs map[string][]string
	}{
		{
			name:  "self loop",
			needs: map[string][]string{"build": {"build"}},
		},
		{
			name: "two stage cycle",
			needs: map[string][]string{
				"a": {"b"},
				"b": {"a"},
			},
		},
		{
			name: "cycle behind valid prefix",
			needs: map[string][]string{
				"build":   nil,
				"test":    {"build", "release"},
				"release": {"test"},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, err := New(tc.needs)
			require.Error(t, err)
			assert.Nil(t, g, "a cyclic graph must never yield a partial order")

			var cycleErr *domain.CycleError
			require.ErrorAs(t, err, &cycleErr)
			assert.NotEmpty(t, cycleErr.Stages)
		})
	}
}

func TestUnknownDependency(t *testing.T) {
	_, err := New(map[string][]string{
		"test": {"build"},
	})
	require.Error(t, err)

	var unknownErr *domain.UnknownDependencyError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "test", unknownErr.Stage)
	assert.Equal(t, "build", unknownErr.Dependency)
}

func TestNextReady(t *testing.T) {
	needs := map[string][]string{
		"build":   nil,
		"unit":    {"build"},
		"smoke":   {"build"},
		"publish": {"unit", "smoke"},
	}
	g, err := New(needs)
	require.NoError(t, err)

	run := &domain.RunState{Stages: map[string]*domain.StageState{}}
	for stage, deps := range needs {
		run.Stages[stage] = &domain.StageState{Name: stage, Needs: deps, Status: domain.StatusPending}
	}

	assert.Equal(t, []string{"build"}, g.NextReady(run))

	run.Stages["build"].Status = domain.StatusRunning
	assert.Empty(t, g.NextReady(run))

	run.Stages["build"].Status = domain.StatusSucceeded
	assert.Equal(t, []string{"smoke", "unit"}, g.NextReady(run))

	run.Stages["unit"].Status = domain.StatusSucceeded
	run.Stages["smoke"].Status = domain.StatusRunning
	assert.Empty(t, g.NextReady(run))

	run.Stages["smoke"].Status = domain.StatusSucceeded
	assert.Equal(t, []string{"publish"}, g.NextReady(run))
}

func TestTransitiveDependents(t *testing.T) {
	g, err := New(map[string][]string{
		"build":   nil,
		"unit":    {"build"},
		"smoke":   {"build"},
		"publish": {"unit", "smoke"},
		"docs":    nil,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"publish", "smoke", "unit"}, g.TransitiveDependents("build"))
	assert.Equal(t, []string{"publish"}, g.TransitiveDependents("unit"))
	assert.Empty(t, g.TransitiveDependents("docs"))
}
