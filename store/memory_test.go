package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/flowforge/orchestra/engine"
	"github.com/flowforge/orchestra/store"
)

func TestMemStoreWorkflowRoundTrip(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	wf := store.Workflow{ID: "wf-1", Name: "demo", Graph: engine.Graph{Nodes: []engine.Node{{ID: "a", Variant: engine.VariantAgent, Agent: &engine.AgentConfig{Provider: "mock", Model: "mock-1"}}}}}

	if err := s.SaveWorkflow(ctx, wf); err != nil {
		t.Fatalf("SaveWorkflow: %v", err)
	}
	got, err := s.LoadWorkflow(ctx, "wf-1")
	if err != nil {
		t.Fatalf("LoadWorkflow: %v", err)
	}
	if got.Name != "demo" || len(got.Graph.Nodes) != 1 {
		t.Errorf("unexpected workflow round-trip: %+v", got)
	}

	list, err := s.ListWorkflows(ctx)
	if err != nil {
		t.Fatalf("ListWorkflows: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 workflow, got %d", len(list))
	}
}

func TestMemStoreLoadWorkflowNotFound(t *testing.T) {
	s := store.NewMemStore()
	if _, err := s.LoadWorkflow(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemStoreExecutionLifecycle(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	ex := store.Execution{ID: "ex-1", WorkflowID: "wf-1", Status: "running"}

	if err := s.CreateExecution(ctx, ex); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	ex.Status = "completed"
	ex.Cost = 0.42
	if err := s.UpdateExecution(ctx, ex); err != nil {
		t.Fatalf("UpdateExecution: %v", err)
	}

	got, err := s.LoadExecution(ctx, "ex-1")
	if err != nil {
		t.Fatalf("LoadExecution: %v", err)
	}
	if got.Status != "completed" || got.Cost != 0.42 {
		t.Errorf("expected updated execution, got %+v", got)
	}

	byWorkflow, err := s.ListExecutionsByWorkflow(ctx, "wf-1")
	if err != nil {
		t.Fatalf("ListExecutionsByWorkflow: %v", err)
	}
	if len(byWorkflow) != 1 {
		t.Errorf("expected 1 execution for wf-1, got %d", len(byWorkflow))
	}
}

func TestMemStoreUpdateExecutionNotFound(t *testing.T) {
	s := store.NewMemStore()
	err := s.UpdateExecution(context.Background(), store.Execution{ID: "never-created"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound updating an execution that was never created, got %v", err)
	}
}

func TestMemStoreStepExecutionsPreserveOrder(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()

	for i, nodeID := range []string{"a", "b", "c"} {
		step := store.StepExecution{ID: nodeID, ExecutionID: "ex-1", NodeID: nodeID, ExecutionOrder: i}
		if err := s.SaveStepExecution(ctx, step); err != nil {
			t.Fatalf("SaveStepExecution: %v", err)
		}
	}

	steps, err := s.ListStepExecutions(ctx, "ex-1")
	if err != nil {
		t.Fatalf("ListStepExecutions: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	for i, step := range steps {
		if step.NodeID != []string{"a", "b", "c"}[i] {
			t.Errorf("expected steps preserved in save order, got %+v", steps)
		}
	}
}

func TestMemStoreListStepExecutionsIsACopy(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	s.SaveStepExecution(ctx, store.StepExecution{ID: "a", ExecutionID: "ex-1", NodeID: "a"})

	steps, _ := s.ListStepExecutions(ctx, "ex-1")
	steps[0].NodeID = "mutated"

	fresh, _ := s.ListStepExecutions(ctx, "ex-1")
	if fresh[0].NodeID != "a" {
		t.Error("mutating a returned slice must not affect stored state")
	}
}
