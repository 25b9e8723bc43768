package engine

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/flowforge/orchestra/model"
	"github.com/flowforge/orchestra/publish"
)

// Budget is the caller-supplied ceiling pair threaded through Run purely
// for event reporting (consumed/budget/percentage); the accounting
// itself lives behind the BudgetEnforcer interface so the Executor never
// needs to know whether tokens or cost (or both) are capped.
type Budget struct {
	MaxTokens *int
	MaxCost   *float64
}

func (b Budget) consumedAndCeiling(usedTokens int, usedCost float64) (consumed, ceiling float64) {
	if b.MaxCost != nil {
		return usedCost, *b.MaxCost
	}
	if b.MaxTokens != nil {
		return float64(usedTokens), float64(*b.MaxTokens)
	}
	return 0, 0
}

// RunOutcome is the Executor's terminal result, per spec.md §4.2 "Public
// contract" and §7 "Run-level outcomes."
type RunOutcome struct {
	Status        string
	State         *RunState
	DurationMS    int64
	InternalError string
}

// Run-level terminal statuses.
const (
	StatusRunCompleted         = "completed"
	StatusRunCompletedWithSkips = "completed-with-skips"
	StatusRunFailed            = "failed"
	StatusRunBudgetExceeded    = "budget_exceeded"
	StatusRunCancelled         = "cancelled"
)

// Executor drives one run of an ExecutionPlan to completion. Grounded on
// the teacher's runConcurrent driver loop (graph/engine.go): a single
// writer goroutine applies step results returned by worker goroutines,
// so RunState itself never needs a lock held across an LLM call.
type Executor struct {
	Backtracker *Backtracker
	Metrics     *Metrics
	Opts        Options
}

// NewExecutor builds an Executor from functional options.
func NewExecutor(opts ...Option) *Executor {
	resolved := resolveOptions(nil, opts...)
	return &Executor{
		Backtracker: &Backtracker{},
		Opts:        resolved,
	}
}

// SetMetrics wires m into both the Executor and its Backtracker so
// step-level and run-level instrumentation share one registry.
func (ex *Executor) SetMetrics(m *Metrics) {
	ex.Metrics = m
	ex.Backtracker.Metrics = m
}

// stepResult is what a worker goroutine returns to the driver; the
// driver applies it to RunState. The one write a worker makes itself is
// runConditional marking its rejected branch targets skipped.
type stepResult struct {
	nodeID  string
	outcome StepOutcome
}

// Run executes plan against rootInput, coordinating with enforcer
// (budget) and pub (events), per spec.md §4.2's run loop.
func (ex *Executor) Run(
	ctx context.Context,
	plan *ExecutionPlan,
	rootInput string,
	budget Budget,
	enforcer BudgetEnforcer,
	registry *model.Registry,
	pub publish.Publisher,
	runID string,
) *RunOutcome {
	start := time.Now()
	state := NewRunState(plan)
	dependents := buildDependents(plan)
	fallbackTargets := collectFallbackTargets(plan)
	leaves := computeLeaves(plan, dependents, fallbackTargets)

	pub.Publish(ctx, runID, publish.NewEvent(publish.TypeExecutionStarted, time.Now(), publish.PayloadExecutionStarted{
		TotalSteps:      plan.TotalSteps,
		MaxParallelism:  plan.MaxParallelism,
		EstimatedRounds: plan.EstimatedRounds,
	}))

	haltedMidRun := false
	cancelledMidRun := false

groupLoop:
	for _, grp := range plan.Groups {
		if ctx.Err() != nil {
			cancelledMidRun = true
			break groupLoop
		}
		if enforcer.IsHalted() {
			haltedMidRun = true
			break groupLoop
		}

		eligible := make([]string, 0, len(grp.Nodes))
		for _, id := range grp.Nodes {
			ns := state.Get(id)
			if ns.Status != StatusPending {
				continue
			}
			if fallbackTargets[id] {
				// Dispatched only through the Backtracker's fallback
				// path (if and when its primary node fails), never as
				// a normal group member — avoids running it twice.
				continue
			}

			if propagateSkip(plan, state, id) {
				reason := "dependency_failed"
				state.Set(id, NodeState{Status: StatusSkipped, SkipReason: reason})
				pub.Publish(ctx, runID, publish.NewEvent(publish.TypeAgentSkipped, time.Now(), publish.PayloadAgentSkipped{
					AgentID: id, Reason: reason,
				}))
				continue
			}
			eligible = append(eligible, id)
		}
		sort.Strings(eligible)

		if len(eligible) == 0 {
			continue
		}

		if ex.Metrics != nil {
			ex.Metrics.UpdateGroupQueueDepth(len(eligible))
		}

		results := ex.dispatchGroup(ctx, runID, grp.Index, eligible, plan, state, rootInput, registry, enforcer, pub)

		for _, r := range results {
			ex.applyResult(ctx, runID, state, r, budget, enforcer, pub)
		}

		if enforcer.IsHalted() {
			haltedMidRun = true
			if ex.Metrics != nil {
				ex.Metrics.IncrementBudgetHalts(runID)
			}
			break groupLoop
		}
	}

	var notRun []string
	if haltedMidRun {
		for id, ns := range snapshotPending(state, plan) {
			_ = ns
			notRun = append(notRun, id)
		}
		sort.Strings(notRun)
		for _, id := range notRun {
			state.Set(id, NodeState{Status: StatusNotRun})
		}
		usedTokens, usedCost, _, _ := enforcer.Snapshot()
		consumed, ceiling := budget.consumedAndCeiling(usedTokens, usedCost)
		pub.Publish(ctx, runID, publish.NewEvent(publish.TypeBudgetExceeded, time.Now(), publish.PayloadBudgetExceeded{
			Consumed:     consumed,
			Budget:       ceiling,
			AgentsNotRun: notRun,
		}))
	} else if cancelledMidRun {
		for id, ns := range snapshotPending(state, plan) {
			_ = ns
			state.Set(id, NodeState{Status: StatusNotRun})
		}
	} else {
		// Fallback targets that were never invoked (their primary
		// node succeeded) are left pending forever by the dispatch
		// loop above; finalize them now.
		for id := range fallbackTargets {
			if state.Get(id).Status == StatusPending {
				state.Set(id, NodeState{Status: StatusNotRun})
			}
		}
	}

	status := classifyRun(state, leaves, haltedMidRun, cancelledMidRun)

	promptTokens, completionTokens, cost := state.Totals()
	counts := state.CountByStatus()
	dropped := 0
	if dc, ok := pub.(publish.DroppedCounter); ok {
		dropped = dc.DroppedCount(runID)
	}

	duration := time.Since(start)
	pub.Publish(ctx, runID, publish.NewEvent(publish.TypeExecutionCompleted, time.Now(), publish.PayloadExecutionCompleted{
		Status: status,
		Totals: publish.Totals{
			TokensPrompt:     promptTokens,
			TokensCompletion: completionTokens,
			Cost:             cost,
			DurationMS:       duration.Milliseconds(),
			AgentsCompleted:  counts[StatusCompleted],
			AgentsFailed:     counts[StatusFailed],
			AgentsSkipped:    counts[StatusSkipped],
			DroppedEvents:    dropped,
		},
	}))
	pub.Flush(ctx)

	return &RunOutcome{Status: status, State: state, DurationMS: duration.Milliseconds()}
}

// dispatchGroup runs every eligible node concurrently and collects
// their results for the driver to apply. Workers only read RunState,
// except conditional nodes, whose runConditional marks rejected branch
// targets skipped directly.
func (ex *Executor) dispatchGroup(
	ctx context.Context,
	runID string,
	groupIndex int,
	eligible []string,
	plan *ExecutionPlan,
	state *RunState,
	rootInput string,
	registry *model.Registry,
	enforcer BudgetEnforcer,
	pub publish.Publisher,
) []stepResult {
	results := make([]stepResult, len(eligible))
	var wg sync.WaitGroup

	sem := make(chan struct{}, concurrencyLimit(ex.Opts.MaxConcurrent, len(eligible)))

	for i, id := range eligible {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			node, _ := plan.Node(id)
			results[i] = ex.runStep(ctx, runID, groupIndex, node, plan, state, rootInput, registry, enforcer, pub)
		}(i, id)
	}
	wg.Wait()
	return results
}

func concurrencyLimit(configured, groupSize int) int {
	if configured <= 0 || configured > groupSize {
		return groupSize
	}
	return configured
}

// runStep executes a single node: conditional nodes evaluate their
// branch locally (no Adapter call); agent/tool nodes go through the
// Backtracker.
func (ex *Executor) runStep(
	ctx context.Context,
	runID string,
	groupIndex int,
	node Node,
	plan *ExecutionPlan,
	state *RunState,
	rootInput string,
	registry *model.Registry,
	enforcer BudgetEnforcer,
	pub publish.Publisher,
) stepResult {
	if node.Variant == VariantConditional {
		return ex.runConditional(ctx, runID, groupIndex, node, plan, state, pub)
	}

	input := gatherStepInput(plan, state, node.ID, rootInput)

	pub.Publish(ctx, runID, publish.NewEvent(publish.TypeAgentStarted, time.Now(), publish.PayloadAgentStarted{
		AgentID:       node.ID,
		AgentName:     node.ID,
		ParallelGroup: groupIndex,
	}))

	var fallback *Node
	if fbID := node.FallbackID(); fbID != "" {
		if fb, ok := plan.Node(fbID); ok {
			fallback = &fb
		}
	}

	outcome := ex.Backtracker.Execute(ctx, runID, groupIndex, node, fallback, input, registry, enforcer, pub, ex.Opts, false)
	return stepResult{nodeID: node.ID, outcome: outcome}
}

// runConditional evaluates a conditional node's single dependency output
// against its branch map (Plan() rebuilds this map from the node's
// canonical outgoing Edge.Conditions, never from a caller-supplied
// Branches value) and marks non-matching direct targets skipped
// immediately, per spec.md §4.2 and §9's pinned precedence rule
// (ascending target id, first match wins, default last).
func (ex *Executor) runConditional(
	ctx context.Context,
	runID string,
	groupIndex int,
	node Node,
	plan *ExecutionPlan,
	state *RunState,
	pub publish.Publisher,
) stepResult {
	pub.Publish(ctx, runID, publish.NewEvent(publish.TypeAgentStarted, time.Now(), publish.PayloadAgentStarted{
		AgentID:       node.ID,
		AgentName:     node.ID,
		ParallelGroup: groupIndex,
	}))

	var text string
	for _, dep := range plan.Deps[node.ID] {
		ns := state.Get(dep)
		if ns.Status == StatusCompleted && ns.Output != nil {
			text = ns.Output.Text
			break
		}
	}

	var chosen string
	var matched bool
	if node.Conditional != nil {
		chosen, matched = evaluateConditional(node.Conditional.Branches, text)
	}

	if node.Conditional != nil {
		for cond, target := range node.Conditional.Branches {
			_ = cond
			if matched && target == chosen {
				continue
			}
			if state.Get(target).Status == StatusPending {
				state.Set(target, NodeState{Status: StatusSkipped, SkipReason: "condition_not_met"})
				pub.Publish(ctx, runID, publish.NewEvent(publish.TypeAgentSkipped, time.Now(), publish.PayloadAgentSkipped{
					AgentID: target, Reason: "condition_not_met",
				}))
			}
		}
	}

	return stepResult{
		nodeID: node.ID,
		outcome: StepOutcome{
			Kind:   OutcomeCompleted,
			Output: StepOutput{AgentName: node.ID, Text: text},
		},
	}
}

func evaluateConditional(branches map[string]string, text string) (target string, matched bool) {
	type entry struct{ cond, target string }
	var nonDefault []entry
	var defaultTarget string
	hasDefault := false
	for cond, t := range branches {
		if cond == "default" {
			defaultTarget = t
			hasDefault = true
			continue
		}
		nonDefault = append(nonDefault, entry{cond, t})
	}
	sort.Slice(nonDefault, func(i, j int) bool { return nonDefault[i].target < nonDefault[j].target })

	for _, e := range nonDefault {
		if conditionMatches(e.cond, text) {
			return e.target, true
		}
	}
	if hasDefault {
		return defaultTarget, true
	}
	return "", false
}

func conditionMatches(cond, text string) bool {
	switch {
	case cond == "default":
		return true
	case strings.HasPrefix(cond, "equals:"):
		return text == strings.TrimPrefix(cond, "equals:")
	case strings.HasPrefix(cond, "contains:"):
		return strings.Contains(text, strings.TrimPrefix(cond, "contains:"))
	}
	return false
}

// applyResult is the driver's single-writer application of one worker's
// outcome onto RunState, then (on completion) the budget_warning event
// if the step's own check crossed the warning threshold.
func (ex *Executor) applyResult(ctx context.Context, runID string, state *RunState, r stepResult, budget Budget, enforcer BudgetEnforcer, pub publish.Publisher) {
	switch r.outcome.Kind {
	case OutcomeCompleted:
		ns := NodeState{
			Status:           StatusCompleted,
			Output:           &r.outcome.Output,
			Attempts:         r.outcome.Attempts,
			TokensPrompt:     r.outcome.TokensPrompt,
			TokensCompletion: r.outcome.TokensCompletion,
			Cost:             r.outcome.Cost,
		}
		if r.outcome.FallbackRan {
			ns.IsFallback = true
			ns.FallbackFor = r.nodeID
			state.Set(r.outcome.FallbackNodeID, ns)
			state.Set(r.nodeID, NodeState{Status: StatusFailed, Attempts: r.outcome.Attempts})
		} else {
			state.Set(r.nodeID, ns)
		}
		switch r.outcome.BudgetCheck {
		case CheckWarning:
			if ex.Metrics != nil {
				ex.Metrics.IncrementBudgetWarnings(runID)
			}
			usedTokens, usedCost, _, _ := enforcer.Snapshot()
			consumed, ceiling := budget.consumedAndCeiling(usedTokens, usedCost)
			percentage := 0.0
			if ceiling > 0 {
				percentage = consumed / ceiling * 100
			}
			pub.Publish(ctx, runID, publish.NewEvent(publish.TypeBudgetWarning, time.Now(), publish.PayloadBudgetWarning{
				Consumed:   consumed,
				Budget:     ceiling,
				Percentage: percentage,
			}))
		case CheckExceeded:
			// Steps already dispatched in the current group still finish
			// and have their output recorded (spec.md §4.4.3 "Semantics
			// of halt"); only subsequent groups are stopped from
			// dispatching, via the Run loop's IsHalted check.
			enforcer.Halt()
		}

	case OutcomeFailed:
		if r.outcome.FallbackRan {
			state.Set(r.outcome.FallbackNodeID, NodeState{
				Status:      StatusFailed,
				Attempts:    r.outcome.Attempts,
				IsFallback:  true,
				FallbackFor: r.nodeID,
			})
		}
		state.Set(r.nodeID, NodeState{Status: StatusFailed, Attempts: r.outcome.Attempts})

	case OutcomeCancelled:
		state.Set(r.nodeID, NodeState{Status: StatusNotRun})
	}
}

// gatherStepInput builds the input map for node from its completed
// dependencies only (spec.md §4.2 "Data passing and partial inputs");
// skipped or failed dependencies are simply absent from the map. A
// node with no dependencies instead receives rootInput.
func gatherStepInput(plan *ExecutionPlan, state *RunState, nodeID string, rootInput string) StepInput {
	deps := plan.Deps[nodeID]
	if len(deps) == 0 {
		return StepInput{RootInput: rootInput}
	}
	in := StepInput{Deps: make(map[string]StepOutput, len(deps))}
	for _, dep := range deps {
		ns := state.Get(dep)
		if ns.Status == StatusCompleted && ns.Output != nil {
			in.Deps[dep] = *ns.Output
		}
	}
	return in
}

// propagateSkip reports whether id should be marked skipped (reason
// dependency_failed) rather than dispatched: true when id has at least
// one dependency and none of them completed. By the time id's group is
// reached every dependency is already terminal, so this single check
// implements the recursive propagation spec.md §4.3 describes — a
// skipped dependency is itself non-completed, so the rule cascades
// group by group without an explicit graph walk.
func propagateSkip(plan *ExecutionPlan, state *RunState, id string) bool {
	deps := plan.Deps[id]
	if len(deps) == 0 {
		return false
	}
	for _, d := range deps {
		if state.Get(d).Status == StatusCompleted {
			return false
		}
	}
	return true
}

func buildDependents(plan *ExecutionPlan) map[string][]string {
	out := make(map[string][]string)
	for id, deps := range plan.Deps {
		for _, d := range deps {
			out[d] = append(out[d], id)
		}
	}
	return out
}

// computeLeaves returns nodes with no dependents, excluding fallback
// targets: a fallback is a conditional substitution, not a required
// part of the run's critical path, so its absence (when its primary
// succeeds) must not make an otherwise-complete run look unfinished.
func computeLeaves(plan *ExecutionPlan, dependents map[string][]string, fallbackTargets map[string]bool) []string {
	var leaves []string
	for _, grp := range plan.Groups {
		for _, id := range grp.Nodes {
			if fallbackTargets[id] {
				continue
			}
			if len(dependents[id]) == 0 {
				leaves = append(leaves, id)
			}
		}
	}
	sort.Strings(leaves)
	return leaves
}

// collectFallbackTargets returns the set of node ids designated as
// some other node's fallback.
func collectFallbackTargets(plan *ExecutionPlan) map[string]bool {
	out := make(map[string]bool)
	for _, grp := range plan.Groups {
		for _, id := range grp.Nodes {
			node, ok := plan.Node(id)
			if !ok {
				continue
			}
			if fb := node.FallbackID(); fb != "" {
				out[fb] = true
			}
		}
	}
	return out
}

func snapshotPending(state *RunState, plan *ExecutionPlan) map[string]NodeState {
	out := make(map[string]NodeState)
	for _, grp := range plan.Groups {
		for _, id := range grp.Nodes {
			ns := state.Get(id)
			if ns.Status == StatusPending {
				out[id] = ns
			}
		}
	}
	return out
}

// classifyRun implements spec.md §4.2 "Terminal classification."
func classifyRun(state *RunState, leaves []string, halted, cancelled bool) string {
	if cancelled {
		return StatusRunCancelled
	}
	if halted {
		return StatusRunBudgetExceeded
	}

	allLeavesCompleted := true
	for _, leaf := range leaves {
		if state.Get(leaf).Status != StatusCompleted {
			allLeavesCompleted = false
			break
		}
	}

	counts := state.CountByStatus()
	if !allLeavesCompleted {
		return StatusRunFailed
	}
	if counts[StatusSkipped] > 0 {
		return StatusRunCompletedWithSkips
	}
	return StatusRunCompleted
}
