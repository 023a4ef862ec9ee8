// Package deadlock detects dependency cycles among step definitions and
// wait-for cycles among in-flight resource requests.
package deadlock

import "sort"

// Detector runs DFS-based cycle detection over dependency graphs and
// resource wait-for graphs.
type Detector struct{}

// New returns the default detector.
func New() *Detector {
	return &Detector{}
}

// DetectDeadlock reports whether deps (step name -> prerequisite names)
// contains any cycle.
func (d *Detector) DetectDeadlock(deps map[string][]string) bool {
	return len(d.FindDependencyCycles(deps)) > 0
}

// FindDependencyCycles runs DFS with a recursion stack over deps and
// returns every cycle found, each as the path slice from the re-entered
// node onward.
func (d *Detector) FindDependencyCycles(deps map[string][]string) [][]string {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

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

// ResourceWait describes one step's resource state at a point in time:
// Primary is what it currently holds, Secondary is what it is waiting to
// acquire next.
type ResourceWait struct {
	Primary   []string
	Secondary []string
}

// DetectResourceDeadlock builds the wait-for graph implied by requests — an
// edge step A -> step B exists when B holds (in Primary) a resource that A
// is waiting for (in Secondary) — and reports whether that graph has a
// cycle.
func (d *Detector) DetectResourceDeadlock(requests map[string]ResourceWait) bool {
	return len(d.FindResourceWaitCycles(requests)) > 0
}

// FindResourceWaitCycles returns the cycles present in the wait-for graph
// built from requests.
func (d *Detector) FindResourceWaitCycles(requests map[string]ResourceWait) [][]string {
	holders := make(map[string]string) // resource name -> holding step
	for step, w := range requests {
		for _, res := range w.Primary {
			holders[res] = step
		}
	}

	waitFor := make(map[string][]string, len(requests))
	for step, w := range requests {
		for _, res := range w.Secondary {
			if holder, ok := holders[res]; ok && holder != step {
				waitFor[step] = append(waitFor[step], holder)
			}
		}
	}

	return d.FindDependencyCycles(waitFor)
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
