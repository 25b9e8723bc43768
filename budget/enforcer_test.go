package budget_test

import (
	"testing"

	"github.com/flowforge/orchestra/budget"
)

func TestEnforcerNoOpModeWhenNoCeilings(t *testing.T) {
	e := budget.NewEnforcer(nil, nil)
	for i := 0; i < 5; i++ {
		if got := e.RecordAndCheck(1000, 10.0); got != budget.CheckOK {
			t.Fatalf("expected ok with no ceilings, got %v", got)
		}
	}
	tokens, cost, warned, halted := e.Snapshot()
	if tokens != 5000 || cost != 50.0 {
		t.Errorf("expected usage to still accumulate for reporting, got tokens=%d cost=%f", tokens, cost)
	}
	if warned || halted {
		t.Error("no-op mode must never warn or halt")
	}
}

func TestEnforcerWarnsExactlyOnceAtEightyPercent(t *testing.T) {
	maxTokens := 1000
	e := budget.NewEnforcer(&maxTokens, nil)

	if got := e.RecordAndCheck(700, 0); got != budget.CheckOK {
		t.Fatalf("expected ok at 70%%, got %v", got)
	}
	if got := e.RecordAndCheck(100, 0); got != budget.CheckWarning {
		t.Fatalf("expected warning at 80%%, got %v", got)
	}
	if got := e.RecordAndCheck(10, 0); got != budget.CheckOK {
		t.Fatalf("expected warned flag to suppress a second warning, got %v", got)
	}

	_, _, warned, _ := e.Snapshot()
	if !warned {
		t.Error("expected warned=true after crossing 80%")
	}
}

func TestEnforcerExceededAtCeiling(t *testing.T) {
	maxCost := 10.0
	e := budget.NewEnforcer(nil, &maxCost)

	if got := e.RecordAndCheck(0, 9.0); got != budget.CheckWarning {
		t.Fatalf("expected warning at 90%%, got %v", got)
	}
	if got := e.RecordAndCheck(0, 2.0); got != budget.CheckExceeded {
		t.Fatalf("expected exceeded once ceiling is crossed, got %v", got)
	}
}

func TestEnforcerHaltIsIdempotent(t *testing.T) {
	e := budget.NewEnforcer(nil, nil)
	if e.IsHalted() {
		t.Fatal("expected not halted initially")
	}
	e.Halt()
	e.Halt()
	if !e.IsHalted() {
		t.Error("expected halted after Halt()")
	}
}

func TestEnforcerUsageMonotonicallyIncreases(t *testing.T) {
	e := budget.NewEnforcer(nil, nil)
	var lastTokens int
	var lastCost float64
	for i := 0; i < 10; i++ {
		e.RecordAndCheck(100, 1.5)
		tokens, cost, _, _ := e.Snapshot()
		if tokens < lastTokens || cost < lastCost {
			t.Fatalf("usage must never decrease: tokens %d->%d cost %f->%f", lastTokens, tokens, lastCost, cost)
		}
		lastTokens, lastCost = tokens, cost
	}
}
