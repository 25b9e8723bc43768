package engine

import "sync"

// Status is a node's per-run lifecycle state, per spec.md §3.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusRetrying Status = "retrying"
	StatusCompleted Status = "completed"
	StatusFailed   Status = "failed"
	StatusSkipped  Status = "skipped"
	StatusNotRun   Status = "not_run"
)

// StepOutput is a node's accumulated result, passed downstream as the
// dependency payload for nodes that depend on it.
type StepOutput struct {
	AgentName  string
	Text       string
	Structured map[string]any
}

// NodeState is the per-node record inside RunState.
type NodeState struct {
	Status       Status
	Output       *StepOutput
	Attempts     int
	IsFallback   bool
	FallbackFor  string
	TokensPrompt int
	TokensCompletion int
	Cost         float64
	SkipReason   string // "condition_not_met" | "dependency_failed"
}

// RunState is the ephemeral per-execution record. Step tasks return
// outcomes that the Executor's driver goroutine applies, mirroring the
// teacher's single-writer discipline in graph/engine.go's runConcurrent
// driver loop. The exception is a conditional step, which marks its
// rejected branch targets skipped from its worker goroutine; mu guards
// every access.
type RunState struct {
	mu    sync.Mutex
	nodes map[string]*NodeState
}

// NewRunState seeds a RunState with every plan node pending.
func NewRunState(plan *ExecutionPlan) *RunState {
	rs := &RunState{nodes: make(map[string]*NodeState, plan.TotalSteps)}
	for _, grp := range plan.Groups {
		for _, id := range grp.Nodes {
			rs.nodes[id] = &NodeState{Status: StatusPending}
		}
	}
	return rs
}

// Get returns a copy of a node's current state.
func (rs *RunState) Get(id string) NodeState {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if n, ok := rs.nodes[id]; ok {
		return *n
	}
	return NodeState{Status: StatusNotRun}
}

// Set replaces a node's state wholesale. Called only by the driver.
func (rs *RunState) Set(id string, s NodeState) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.nodes[id] = &s
}

// Totals sums tokens and cost across every node, for the
// execution_completed event's totals payload.
func (rs *RunState) Totals() (promptTokens, completionTokens int, cost float64) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, n := range rs.nodes {
		promptTokens += n.TokensPrompt
		completionTokens += n.TokensCompletion
		cost += n.Cost
	}
	return
}

// CountByStatus tallies node states, used for terminal classification
// and for the agents_completed/failed/skipped totals.
func (rs *RunState) CountByStatus() map[Status]int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make(map[Status]int)
	for _, n := range rs.nodes {
		out[n.Status]++
	}
	return out
}

// Budget enforcement (accumulation and the Estimator/Suggestions) lives
// in the budget package, per SPEC_FULL.md's module map — the Executor
// depends on a BudgetEnforcer interface rather than owning the
// accounting itself. CheckResult is declared here, not in budget,
// so engine.Executor can reference it without importing budget (budget
// imports engine for plan/node types, so the dependency only runs one
// way).

// CheckResult is the outcome of a single record+check critical section
// against a budget ceiling, per spec.md §4.4.3.
type CheckResult string

const (
	CheckOK       CheckResult = "ok"
	CheckWarning  CheckResult = "warning"
	CheckExceeded CheckResult = "exceeded"
)

// BudgetEnforcer is the Executor's view of the Budget Planner's runtime
// half. budget.Enforcer implements this interface.
type BudgetEnforcer interface {
	RecordAndCheck(tokens int, cost float64) CheckResult
	Halt()
	IsHalted() bool
	Snapshot() (usedTokens int, usedCost float64, warned, halted bool)
}
