// Package budget implements the Budget Planner (spec.md §4.4): a
// pre-run Estimator that produces per-step cost estimates, a confidence
// tier and ranked cut Suggestions, and a runtime Enforcer that
// accumulates consumption and signals warning/halt thresholds.
//
// Adapted from the teacher's CostTracker (graph/cost.go): thread-safe
// accumulation and reporting, restructured around spec.md's distinct
// estimate/enforce split and per-1K pricing units.
package budget

import (
	"sync"

	"github.com/flowforge/orchestra/engine"
)

// CheckResult aliases engine.CheckResult so callers of this package
// don't need a second import to name the value engine.Executor expects
// back from RecordAndCheck. Declared in engine (not here) because
// budget already imports engine for plan/node types, and a dependency
// can only run one way.
type CheckResult = engine.CheckResult

const (
	CheckOK       = engine.CheckOK
	CheckWarning  = engine.CheckWarning
	CheckExceeded = engine.CheckExceeded
)

// Enforcer tracks consumption against an optional token/cost ceiling.
// Invariants (spec.md §3/§4.4.3): used_* are monotonically
// non-decreasing; Warned and Halted each flip false→true at most once.
// When both ceilings are nil the Enforcer runs in no-op mode: record
// still accumulates for reporting, check always returns ok.
type Enforcer struct {
	mu sync.Mutex

	maxTokens *int
	maxCost   *float64

	usedTokens int
	usedCost   float64
	warned     bool
	halted     bool
}

// NewEnforcer constructs an Enforcer from optional ceilings.
func NewEnforcer(maxTokens *int, maxCost *float64) *Enforcer {
	return &Enforcer{maxTokens: maxTokens, maxCost: maxCost}
}

// RecordAndCheck atomically accumulates consumption and evaluates
// state, per spec.md §4.4.3. A single critical section over record and
// check prevents two concurrent steps from both observing "ok" just
// before a ceiling is crossed.
func (e *Enforcer) RecordAndCheck(tokens int, cost float64) CheckResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.usedTokens += tokens
	e.usedCost += cost

	if e.maxTokens == nil && e.maxCost == nil {
		return CheckOK
	}

	if e.maxTokens != nil && e.usedTokens >= *e.maxTokens {
		return CheckExceeded
	}
	if e.maxCost != nil && e.usedCost >= *e.maxCost {
		return CheckExceeded
	}

	warningNow := e.maxTokens != nil && float64(e.usedTokens) >= 0.8*float64(*e.maxTokens)
	warningNow = warningNow || (e.maxCost != nil && e.usedCost >= 0.8*(*e.maxCost))

	if warningNow && !e.warned {
		e.warned = true
		return CheckWarning
	}
	return CheckOK
}

// Halt sets the halted flag, idempotently.
func (e *Enforcer) Halt() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.halted = true
}

// IsHalted reports whether the run has been halted.
func (e *Enforcer) IsHalted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted
}

// Snapshot returns the current numeric state for reporting.
func (e *Enforcer) Snapshot() (usedTokens int, usedCost float64, warned, halted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.usedTokens, e.usedCost, e.warned, e.halted
}

// Budget is the caller-supplied ceiling pair, per spec.md's GLOSSARY.
type Budget struct {
	MaxTokens *int
	MaxCost   *float64
}
