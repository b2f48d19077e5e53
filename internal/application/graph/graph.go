package graph

import (
	"sort"

	"github.com/forksnd/convey/internal/domain"
)

// Graph is a validated stage-dependency graph. Construction fails on unknown
// dependencies and cycles, so a Graph in hand is always executable.
type Graph struct {
	needs      map[string][]string
	dependents map[string][]string
	order      []string
}

// New builds a Graph from a stage -> dependencies declaration.
// Returns *domain.UnknownDependencyError if a stage needs an undeclared stage
// and *domain.CycleError if the declaration contains a dependency cycle.
func New(needs map[string][]string) (*Graph, error) {
	g := &Graph{
		needs:      make(map[string][]string, len(needs)),
		dependents: make(map[string][]string, len(needs)),
	}

	for stage, deps := range needs {
		for _, dep := range deps {
			if _, ok := needs[dep]; !ok {
				return nil, &domain.UnknownDependencyError{Stage: stage, Dependency: dep}
			}
		}
		g.needs[stage] = append([]string(nil), deps...)
	}

	for stage, deps := range g.needs {
		for _, dep := range deps {
			g.dependents[dep] = append(g.dependents[dep], stage)
		}
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.order = order

	return g, nil
}

// topoSort runs Kahn's algorithm. Ties are broken alphabetically so the order
// is deterministic.
func (g *Graph) topoSort() ([]string, error) {
	indegree := make(map[string]int, len(g.needs))
	for stage, deps := range g.needs {
		indegree[stage] = len(deps)
	}

	var ready []string
	for stage, n := range indegree {
		if n == 0 {
			ready = append(ready, stage)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.needs))
	for len(ready) > 0 {
		stage := ready[0]
		ready = ready[1:]
		order = append(order, stage)

		var unlocked []string
		for _, dep := range g.dependents[stage] {
			indegree[dep]--
			if indegree[dep] == 0 {
				unlocked = append(unlocked, dep)
			}
		}
		sort.Strings(unlocked)
		ready = append(ready, unlocked...)
		sort.Strings(ready)
	}

	if len(order) != len(g.needs) {
		var cycle []string
		for stage, n := range indegree {
			if n > 0 {
				cycle = append(cycle, stage)
			}
		}
		sort.Strings(cycle)
		return nil, &domain.CycleError{Stages: cycle}
	}

	return order, nil
}

// Order returns a valid topological execution order.
func (g *Graph) Order() []string {
	return append([]string(nil), g.order...)
}

// Needs returns the declared dependencies of a stage.
func (g *Graph) Needs(stage string) []string {
	return append([]string(nil), g.needs[stage]...)
}

// TransitiveDependents returns every stage that directly or indirectly
// depends on the given stage. Used to skip downstream stages when one fails.
func (g *Graph) TransitiveDependents(stage string) []string {
	seen := make(map[string]bool)
	var walk func(s string)
	walk = func(s string) {
		for _, dep := range g.dependents[s] {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(stage)

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// NextReady returns the stages of a run whose dependencies have all succeeded
// and which have not started yet, sorted by name.
func (g *Graph) NextReady(run *domain.RunState) []string {
	var ready []string
	for _, stage := range g.order {
		st, ok := run.Stages[stage]
		if !ok || st.Status != domain.StatusPending {
			continue
		}
		satisfied := true
		for _, dep := range g.needs[stage] {
			depState, ok := run.Stages[dep]
			if !ok || depState.Status != domain.StatusSucceeded {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, stage)
		}
	}
	sort.Strings(ready)
	return ready
}
