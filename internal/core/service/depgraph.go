package service

// dependencyGraph tracks, per predecessor task id, the set of task ids that
// declared a dependency on it. Edges are immutable once added; the scheduler
// consults the task records themselves for the required statuses.
type dependencyGraph struct {
	dependents map[string]map[string]struct{}
}

func newDependencyGraph() *dependencyGraph {
	return &dependencyGraph{dependents: make(map[string]map[string]struct{})}
}

// Add registers that dependentID is blocked on predecessorID.
func (g *dependencyGraph) Add(predecessorID, dependentID string) {
	set, ok := g.dependents[predecessorID]
	if !ok {
		set = make(map[string]struct{})
		g.dependents[predecessorID] = set
	}
	set[dependentID] = struct{}{}
}

// Dependents returns the ids of tasks that declared a dependency on id.
func (g *dependencyGraph) Dependents(id string) []string {
	set := g.dependents[id]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for dep := range set {
		out = append(out, dep)
	}
	return out
}
