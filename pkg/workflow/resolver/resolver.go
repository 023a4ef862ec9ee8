// Package resolver topologically orders a workflow's step definitions into
// concurrently-runnable phases and detects dependency cycles.
package resolver

import (
	"sort"

	"github.com/yukkuri-studio/workflow-core/pkg/taxonomy"
	"github.com/yukkuri-studio/workflow-core/pkg/workflow"
)

// Resolver is the default dependency resolver: Kahn-like phase layering
// with a DFS-based cycle finder for diagnostics.
type Resolver struct{}

// New returns the default resolver.
func New() *Resolver {
	return &Resolver{}
}

// ResolveExecutionOrder computes phases: phase 0 is every step with no
// unsatisfied prerequisite in the remaining set, phase 1 is every step
// whose prerequisites are now all in phase 0, and so on. Ties within a
// phase are broken by ascending StepID for reproducibility. Returns a
// CircularDependencyError if any steps remain unresolved after the graph
// is exhausted.
func (r *Resolver) ResolveExecutionOrder(defs []workflow.StepDefinition) ([][]string, error) {
	byName := make(map[string]workflow.StepDefinition, len(defs))
	remaining := make(map[string]bool, len(defs))
	for _, d := range defs {
		byName[d.StepName] = d
		remaining[d.StepName] = true
	}

	var phases [][]string
	for len(remaining) > 0 {
		var ready []string
		for name := range remaining {
			satisfied := true
			for _, dep := range byName[name].Dependencies {
				if remaining[dep] {
					satisfied = false
					break
				}
			}
			if satisfied {
				ready = append(ready, name)
			}
		}
		if len(ready) == 0 {
			residual := make([]string, 0, len(remaining))
			for name := range remaining {
				residual = append(residual, name)
			}
			sort.Strings(residual)
			return nil, taxonomy.NewCircularDependencyError(residual)
		}

		sort.Slice(ready, func(i, j int) bool {
			return byName[ready[i]].StepID < byName[ready[j]].StepID
		})
		phases = append(phases, ready)
		for _, name := range ready {
			delete(remaining, name)
		}
	}
	return phases, nil
}

// CheckDependenciesSatisfied reports whether every dependency of def is
// present in the completed set.
func (r *Resolver) CheckDependenciesSatisfied(def workflow.StepDefinition, completed map[string]bool) bool {
	for _, dep := range def.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// FindCircularDependencies runs DFS with a recursion stack over the
// definitions' dependency graph and returns every cycle found, each
// reported as the path slice starting from the first re-visited node.
func (r *Resolver) FindCircularDependencies(defs []workflow.StepDefinition) [][]string {
	deps := make(map[string][]string, len(defs))
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		deps[d.StepName] = d.Dependencies
		names = append(names, d.StepName)
	}
	sort.Strings(names)
	return findCyclesDFS(deps, names)
}

// findCyclesDFS uses the same algorithm as the deadlock detector's own copy
// for its dependency-cycle path: depth-first search tracking a
// recursion stack and a path slice; whenever a node already on the stack is
// re-encountered, the cycle is the path slice from that node onward.
func findCyclesDFS(deps map[string][]string, names []string) [][]string {
	visited := make(map[string]bool, len(names))
	onStack := make(map[string]bool, len(names))
	var path []string
	var cycles [][]string

	var visit func(name string)
	visit = func(name string) {
		visited[name] = true
		onStack[name] = true
		path = append(path, name)

		for _, dep := range deps[name] {
			if onStack[dep] {
				idx := indexOf(path, dep)
				if idx >= 0 {
					cycle := append([]string{}, path[idx:]...)
					cycle = append(cycle, dep)
					cycles = append(cycles, cycle)
				}
				continue
			}
			if !visited[dep] {
				visit(dep)
			}
		}

		path = path[:len(path)-1]
		onStack[name] = false
	}

	for _, name := range names {
		if !visited[name] {
			visit(name)
		}
	}
	return cycles
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
