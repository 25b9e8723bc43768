package engine

import "sort"

// Group is one parallel group of an ExecutionPlan: a set of node ids
// that are mutually independent and therefore dispatched concurrently.
type Group struct {
	Index int
	Nodes []string // sorted ascending, per spec.md §4.1 tie-breaking
}

// ExecutionPlan is the immutable output of Plan. It is owned by exactly
// one run; the Executor never mutates it.
type ExecutionPlan struct {
	Groups []Group

	// Deps maps node id to its direct dependency ids, sorted ascending.
	Deps map[string][]string

	// nodes indexes the originating graph's node records by id so the
	// Executor can resolve configs without holding onto the Graph.
	nodes map[string]Node

	TotalSteps       int
	MaxParallelism   int
	EstimatedRounds  int
}

// Node resolves a plan-level node id back to its full definition.
func (p *ExecutionPlan) Node(id string) (Node, bool) {
	n, ok := p.nodes[id]
	return n, ok
}

// Plan validates the graph and extracts an ASAP parallel-group schedule
// using Kahn's algorithm, per spec.md §4.1. It is a pure function: no
// side effects, deterministic for identical input (ascending node-id
// tie-breaking throughout).
func Plan(g Graph, cap int) (*ExecutionPlan, error) {
	if cap <= 0 {
		cap = NodeCap
	}
	if len(g.Nodes) == 0 {
		return nil, &PlanningError{Code: CodeEmptyWorkflow, Message: "graph has no nodes", Cause: ErrEmptyWorkflow}
	}
	if len(g.Nodes) > cap {
		return nil, &PlanningError{Code: CodeTooLarge, Message: "graph exceeds node cap", Cause: ErrTooLarge}
	}

	byID := g.nodeByID()
	for _, e := range g.Edges {
		if _, ok := byID[e.Source]; !ok {
			return nil, &PlanningError{Code: CodeInvalidEdge, Message: "edge source " + e.Source + " not found", Cause: ErrInvalidEdge}
		}
		if _, ok := byID[e.Target]; !ok {
			return nil, &PlanningError{Code: CodeInvalidEdge, Message: "edge target " + e.Target + " not found", Cause: ErrInvalidEdge}
		}
	}

	ids := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)

	inDeg := make(map[string]int, len(ids))
	deps := make(map[string][]string, len(ids))
	outAdj := make(map[string][]string, len(ids))
	outEdges := make(map[string][]Edge, len(ids))
	for _, id := range ids {
		inDeg[id] = 0
	}
	for _, e := range g.Edges {
		inDeg[e.Target]++
		deps[e.Target] = append(deps[e.Target], e.Source)
		outAdj[e.Source] = append(outAdj[e.Source], e.Target)
		outEdges[e.Source] = append(outEdges[e.Source], e)
	}
	for id := range deps {
		sort.Strings(deps[id])
	}

	// A conditional node's Branches map is never trusted from the
	// caller: it is rebuilt here from the node's canonical outgoing
	// Edge.Conditions so the documented data model (edges carry the
	// condition) is what runConditional actually evaluates, per
	// spec.md §3's edge shape and §4.2's branch semantics. This copies
	// the node rather than mutating g.Nodes, keeping Plan pure.
	for _, id := range ids {
		n := byID[id]
		if n.Variant != VariantConditional {
			continue
		}
		branches := make(map[string]string, len(outEdges[id]))
		for _, e := range outEdges[id] {
			if e.Condition == "" {
				continue
			}
			branches[e.Condition] = e.Target
		}
		expr := ""
		if n.Conditional != nil {
			expr = n.Conditional.Expression
		}
		n.Conditional = &ConditionalConfig{Expression: expr, Branches: branches}
		byID[id] = n
	}

	for _, n := range g.Nodes {
		fb := n.FallbackID()
		if fb == "" {
			continue
		}
		if fb == n.ID {
			return nil, &PlanningError{Code: CodeInvalidFallback, Message: "node " + n.ID + " cannot fall back to itself", Cause: ErrInvalidFallback}
		}
		if _, ok := byID[fb]; !ok {
			return nil, &PlanningError{Code: CodeInvalidFallback, Message: "node " + n.ID + " fallback " + fb + " not found", Cause: ErrInvalidFallback}
		}
		if isAncestor(n.ID, fb, deps) {
			return nil, &PlanningError{Code: CodeInvalidFallback, Message: "node " + n.ID + " fallback " + fb + " is a predecessor", Cause: ErrInvalidFallback}
		}
	}

	// Kahn's algorithm: repeatedly pop zero-in-degree nodes in ascending
	// id order so the topological order (and therefore everything
	// downstream of it) is deterministic.
	queue := make([]string, 0, len(ids))
	for _, id := range ids {
		if inDeg[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	remaining := make(map[string]int, len(inDeg))
	for k, v := range inDeg {
		remaining[k] = v
	}

	visited := make(map[string]bool, len(ids))
	group := make(map[string]int, len(ids))

	for len(queue) > 0 {
		sort.Strings(queue)
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		g := 0
		for _, d := range deps[id] {
			if group[d]+1 > g {
				g = group[d] + 1
			}
		}
		group[id] = g

		for _, next := range outAdj[id] {
			remaining[next]--
			if remaining[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(visited) < len(ids) {
		var cycle []string
		for _, id := range ids {
			if !visited[id] {
				cycle = append(cycle, id)
			}
		}
		sort.Strings(cycle)
		return nil, &PlanningError{Code: CodeCircularDependency, Message: "cycle detected", Nodes: cycle, Cause: ErrCircularDependency}
	}

	maxGroup := 0
	for _, gi := range group {
		if gi > maxGroup {
			maxGroup = gi
		}
	}
	groups := make([]Group, maxGroup+1)
	for i := range groups {
		groups[i] = Group{Index: i}
	}
	for _, id := range ids {
		gi := group[id]
		groups[gi].Nodes = append(groups[gi].Nodes, id)
	}
	for i := range groups {
		sort.Strings(groups[i].Nodes)
	}

	maxParallel := 0
	for _, grp := range groups {
		if len(grp.Nodes) > maxParallel {
			maxParallel = len(grp.Nodes)
		}
	}

	return &ExecutionPlan{
		Groups:          groups,
		Deps:            deps,
		nodes:           byID,
		TotalSteps:      len(ids),
		MaxParallelism:  maxParallel,
		EstimatedRounds: len(groups),
	}, nil
}

// isAncestor reports whether candidate appears anywhere in id's
// transitive dependency chain — i.e., candidate is a predecessor of id.
// Used to reject a fallback reference that isn't predecessor-independent
// (spec.md §3). deps is keyed by node id to its direct dependency ids.
func isAncestor(id, candidate string, deps map[string][]string) bool {
	visited := make(map[string]bool)
	var walk func(string) bool
	walk = func(cur string) bool {
		if visited[cur] {
			return false
		}
		visited[cur] = true
		for _, d := range deps[cur] {
			if d == candidate || walk(d) {
				return true
			}
		}
		return false
	}
	return walk(id)
}
