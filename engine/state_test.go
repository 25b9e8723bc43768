package engine_test

import (
	"sync"
	"testing"

	"github.com/flowforge/orchestra/engine"
)

func TestRunStateTotalsSumAcrossNodes(t *testing.T) {
	plan, err := engine.Plan(engine.Graph{Nodes: []engine.Node{agentNode("a"), agentNode("b")}}, 0)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	state := engine.NewRunState(plan)
	state.Set("a", engine.NodeState{Status: engine.StatusCompleted, TokensPrompt: 10, TokensCompletion: 5, Cost: 0.01})
	state.Set("b", engine.NodeState{Status: engine.StatusCompleted, TokensPrompt: 20, TokensCompletion: 15, Cost: 0.02})

	prompt, completion, cost := state.Totals()
	if prompt != 30 || completion != 20 {
		t.Errorf("expected totals (30,20), got (%d,%d)", prompt, completion)
	}
	if cost < 0.0299 || cost > 0.0301 {
		t.Errorf("expected cost ~0.03, got %f", cost)
	}
}

func TestRunStateCountByStatus(t *testing.T) {
	plan, err := engine.Plan(engine.Graph{Nodes: []engine.Node{agentNode("a"), agentNode("b"), agentNode("c")}}, 0)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	state := engine.NewRunState(plan)
	state.Set("a", engine.NodeState{Status: engine.StatusCompleted})
	state.Set("b", engine.NodeState{Status: engine.StatusSkipped})

	counts := state.CountByStatus()
	if counts[engine.StatusCompleted] != 1 {
		t.Errorf("expected 1 completed, got %d", counts[engine.StatusCompleted])
	}
	if counts[engine.StatusSkipped] != 1 {
		t.Errorf("expected 1 skipped, got %d", counts[engine.StatusSkipped])
	}
	if counts[engine.StatusPending] != 1 {
		t.Errorf("expected 1 still pending, got %d", counts[engine.StatusPending])
	}
}

// TestRunStateConcurrentAccess verifies Get/Set are safe under concurrent
// use from multiple goroutines, matching the single-writer driver
// discipline the Executor relies on but without assuming it here.
func TestRunStateConcurrentAccess(t *testing.T) {
	plan, err := engine.Plan(engine.Graph{Nodes: []engine.Node{agentNode("a")}}, 0)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	state := engine.NewRunState(plan)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			state.Set("a", engine.NodeState{Status: engine.StatusRunning, Attempts: i})
			_ = state.Get("a")
		}(i)
	}
	wg.Wait()
}
