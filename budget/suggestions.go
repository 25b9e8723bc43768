package budget

import (
	"sort"

	"github.com/flowforge/orchestra/engine"
	"github.com/flowforge/orchestra/pricing"
)

// Action names what a Suggestion proposes.
type Action string

const (
	ActionDowngrade Action = "downgrade"
	ActionSkip      Action = "skip_agent"
)

// Suggestion is one ranked, cost-reducing transformation, per spec.md
// §4.4.2. No suggestion is applied automatically.
type Suggestion struct {
	NodeID           string
	Action           Action
	FromModel        string
	ToModel          string
	Savings          float64
	CumulativeSavings float64
	WouldFitBudget   bool
}

// Suggest enumerates ranked cost-reduction candidates when estimate's
// total exceeds maxCost, per spec.md §4.4.2: a downgrade candidate per
// step (using the provider's downgrade ladder) plus a skip_agent
// candidate for every optional step, sorted by savings descending, with
// a running would_fit_budget flag.
func Suggest(plan *engine.ExecutionPlan, estimate CostEstimate, prices *pricing.Table, maxCost float64) []Suggestion {
	if estimate.Total <= maxCost {
		return nil
	}

	costByNode := make(map[string]float64, len(estimate.Steps))
	for _, s := range estimate.Steps {
		costByNode[s.NodeID] = s.Cost
	}

	optional := optionalNodes(plan)

	var candidates []Suggestion
	for _, s := range estimate.Steps {
		node, ok := plan.Node(s.NodeID)
		if !ok {
			continue
		}
		cfg := resolveConfig(node)

		if next := pricing.NextDowngrade(cfg.provider, cfg.model); next != "" {
			if price, err := prices.Lookup(cfg.provider, next); err == nil {
				downgradedCost := float64(s.PromptTokens)/1000*price.InputPer1K + float64(s.CompletionTokens)/1000*price.OutputPer1K
				savings := s.Cost - downgradedCost
				if savings > 0 {
					candidates = append(candidates, Suggestion{
						NodeID: s.NodeID, Action: ActionDowngrade,
						FromModel: cfg.model, ToModel: next, Savings: savings,
					})
				}
			}
		}

		if optional[s.NodeID] {
			candidates = append(candidates, Suggestion{
				NodeID: s.NodeID, Action: ActionSkip, FromModel: cfg.model, Savings: s.Cost,
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Savings != candidates[j].Savings {
			return candidates[i].Savings > candidates[j].Savings
		}
		return candidates[i].NodeID < candidates[j].NodeID
	})

	cumulative := 0.0
	for i := range candidates {
		cumulative += candidates[i].Savings
		candidates[i].CumulativeSavings = cumulative
		candidates[i].WouldFitBudget = (estimate.Total - cumulative) <= maxCost
	}

	return candidates
}

// optionalNodes implements spec.md §9's pinned "optional" definition: a
// node is optional iff every leaf reachable from it has at least one
// alternative, completed-dependency-only ancestor path that does not
// pass through the node.
func optionalNodes(plan *engine.ExecutionPlan) map[string]bool {
	allIDs := make([]string, 0)
	for _, grp := range plan.Groups {
		allIDs = append(allIDs, grp.Nodes...)
	}

	dependents := make(map[string][]string) // id -> nodes that depend on it
	for id, deps := range plan.Deps {
		for _, d := range deps {
			dependents[d] = append(dependents[d], id)
		}
	}

	roots := make([]string, 0)
	for _, id := range allIDs {
		if len(plan.Deps[id]) == 0 {
			roots = append(roots, id)
		}
	}

	leaves := make([]string, 0)
	for _, id := range allIDs {
		if len(dependents[id]) == 0 {
			leaves = append(leaves, id)
		}
	}

	result := make(map[string]bool, len(allIDs))
	for _, id := range allIDs {
		result[id] = isOptional(id, allIDs, roots, leaves, plan.Deps, dependents)
	}
	return result
}

func isOptional(id string, allIDs, roots, leaves []string, deps, dependents map[string][]string) bool {
	downstreamLeaves := reachableLeaves(id, dependents, leaves)
	if len(downstreamLeaves) == 0 {
		return true
	}
	for _, leaf := range downstreamLeaves {
		if !hasAlternatePath(leaf, id, roots, deps) {
			return false
		}
	}
	return true
}

// reachableLeaves returns every leaf reachable from id by following
// dependents edges (forward, toward consumers).
func reachableLeaves(id string, dependents map[string][]string, leaves []string) []string {
	leafSet := make(map[string]bool, len(leaves))
	for _, l := range leaves {
		leafSet[l] = true
	}
	visited := map[string]bool{id: true}
	queue := []string{id}
	var found []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if leafSet[cur] {
			found = append(found, cur)
		}
		for _, next := range dependents[cur] {
			if visited[next] {
				continue
			}
			visited[next] = true
			queue = append(queue, next)
		}
	}
	return found
}

// hasAlternatePath reports whether some root can reach target via
// dependency edges without passing through avoid.
func hasAlternatePath(target, avoid string, roots []string, deps map[string][]string) bool {
	if target == avoid {
		return false
	}
	for _, root := range roots {
		if root == avoid {
			continue
		}
		if root == target || dependencyChainContains(target, root, avoid, deps, map[string]bool{}) {
			return true
		}
	}
	return false
}

// dependencyChainContains reports whether ancestor appears anywhere in
// target's transitive dependency chain, without the chain passing
// through avoid (other than ancestor or target themselves).
func dependencyChainContains(target, ancestor, avoid string, deps map[string][]string, seen map[string]bool) bool {
	if seen[target] {
		return false
	}
	seen[target] = true

	for _, d := range deps[target] {
		if d == avoid {
			continue
		}
		if d == ancestor {
			return true
		}
		if dependencyChainContains(d, ancestor, avoid, deps, seen) {
			return true
		}
	}
	return false
}
