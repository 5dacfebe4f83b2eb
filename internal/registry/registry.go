// Package registry implements the Stage Registry: stage definitions plus
// Build, which produces a total execution order for a requested subset
// via Kahn's algorithm. Ordering over the in-memory dependency graph
// follows a DepGraph convention (forward/reverse adjacency maps built
// once, copied rather than aliased); unlike a SQL-backed DAG, this graph
// never touches a database, since the stage set is a small,
// statically-declared default.
package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/antigravity-dev/videoloom/internal/pipelineerr"
	"github.com/antigravity-dev/videoloom/internal/progress"
)

// Stage is the contract every pipeline stage implements
type Stage interface {
	Name() string
	DependsOn() []string
	Optional() bool
	Status() progress.Status
	ShouldSkip(ctx Context) bool
	EstimateTime(inputSize float64) float64
	Execute(ctx context.Context, pctx Context) (any, error)

	// ModelName returns the effective model identifier this stage's last
	// Execute call used, for the cache manifest's replay record. Stages
	// with no LLM call return "".
	ModelName() string

	// PromptOverrides returns the non-default prompt variant selected per
	// component (e.g. {"system": "system_v2"}), for the same manifest
	// record. Stages with no prompt resolution, or that resolved every
	// component to its default variant, return nil.
	PromptOverrides() map[string]string
}

// Registry holds the known stage definitions in declaration order.
type Registry struct {
	order  []string
	stages map[string]Stage
}

// New builds a Registry from stages, preserving their given order as the
// declaration order used for stable tie-breaks in Build.
func New(stages ...Stage) *Registry {
	r := &Registry{stages: make(map[string]Stage, len(stages))}
	for _, s := range stages {
		if _, exists := r.stages[s.Name()]; exists {
			continue
		}
		r.order = append(r.order, s.Name())
		r.stages[s.Name()] = s
	}
	return r
}

// Stage looks up a registered stage by name.
func (r *Registry) Stage(name string) (Stage, bool) {
	s, ok := r.stages[name]
	return s, ok
}

// Build returns a total order over the transitive closure of
// requestedNames' dependencies via Kahn's algorithm, with ties between
// equal-rank nodes broken by declaration order. Cycles and unknown stage
// names raise ConfigurationError.
func (r *Registry) Build(requestedNames []string) ([]Stage, error) {
	closure, err := r.transitiveClosure(requestedNames)
	if err != nil {
		return nil, err
	}

	inDegree := make(map[string]int, len(closure))
	dependents := make(map[string][]string, len(closure))
	for name := range closure {
		inDegree[name] = 0
	}
	for name := range closure {
		for _, dep := range r.stages[name].DependsOn() {
			if _, inClosure := closure[dep]; !inClosure {
				continue
			}
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	rank := make(map[string]int, len(r.order))
	for i, name := range r.order {
		rank[name] = i
	}

	var ready []string
	for name := range closure {
		if inDegree[name] == 0 {
			ready = append(ready, name)
		}
	}
	sortByDeclarationOrder(ready, rank)

	var result []Stage
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		result = append(result, r.stages[next])

		unlocked := dependents[next]
		sort.SliceStable(unlocked, func(i, j int) bool { return rank[unlocked[i]] < rank[unlocked[j]] })
		for _, dep := range unlocked {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
				sortByDeclarationOrder(ready, rank)
			}
		}
	}

	if len(result) != len(closure) {
		return nil, pipelineerr.ConfigurationError("stage graph contains a cycle", nil)
	}
	return result, nil
}

// transitiveClosure walks requestedNames' dependency edges, collecting
// every stage reachable via depends_on. Unknown stage names are rejected
// immediately so Build never silently drops a typo'd request.
func (r *Registry) transitiveClosure(requestedNames []string) (map[string]struct{}, error) {
	closure := map[string]struct{}{}
	var visit func(name string) error
	visit = func(name string) error {
		if _, ok := closure[name]; ok {
			return nil
		}
		stage, ok := r.stages[name]
		if !ok {
			return pipelineerr.ConfigurationError(fmt.Sprintf("unknown stage %q", name), nil)
		}
		closure[name] = struct{}{}
		for _, dep := range stage.DependsOn() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		return nil
	}
	for _, name := range requestedNames {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return closure, nil
}

func sortByDeclarationOrder(names []string, rank map[string]int) {
	sort.SliceStable(names, func(i, j int) bool { return rank[names[i]] < rank[names[j]] })
}
