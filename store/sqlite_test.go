package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/flowforge/orchestra/engine"
	"github.com/flowforge/orchestra/store"
)

func newTestSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreWorkflowRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now()
	wf := store.Workflow{
		ID: "wf-1", Name: "demo", Description: "a demo workflow",
		Graph:     engine.Graph{Nodes: []engine.Node{{ID: "a", Variant: engine.VariantAgent, Agent: &engine.AgentConfig{Provider: "mock", Model: "mock-1"}}}},
		CreatedAt: now, UpdatedAt: now,
	}

	if err := s.SaveWorkflow(ctx, wf); err != nil {
		t.Fatalf("SaveWorkflow: %v", err)
	}
	got, err := s.LoadWorkflow(ctx, "wf-1")
	if err != nil {
		t.Fatalf("LoadWorkflow: %v", err)
	}
	if got.Name != "demo" || len(got.Graph.Nodes) != 1 || got.Graph.Nodes[0].ID != "a" {
		t.Errorf("unexpected round-trip: %+v", got)
	}
}

func TestSQLiteStoreSaveWorkflowUpserts(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now()
	wf := store.Workflow{ID: "wf-1", Name: "v1", CreatedAt: now, UpdatedAt: now}
	if err := s.SaveWorkflow(ctx, wf); err != nil {
		t.Fatalf("SaveWorkflow: %v", err)
	}

	wf.Name = "v2"
	wf.UpdatedAt = now.Add(time.Minute)
	if err := s.SaveWorkflow(ctx, wf); err != nil {
		t.Fatalf("SaveWorkflow (update): %v", err)
	}

	got, err := s.LoadWorkflow(ctx, "wf-1")
	if err != nil {
		t.Fatalf("LoadWorkflow: %v", err)
	}
	if got.Name != "v2" {
		t.Errorf("expected upsert to overwrite name, got %q", got.Name)
	}

	list, err := s.ListWorkflows(ctx)
	if err != nil {
		t.Fatalf("ListWorkflows: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected exactly 1 workflow after upsert, got %d", len(list))
	}
}

func TestSQLiteStoreLoadWorkflowNotFound(t *testing.T) {
	s := newTestSQLiteStore(t)
	if _, err := s.LoadWorkflow(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStoreExecutionLifecycle(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	maxCost := 5.0
	ex := store.Execution{
		ID: "ex-1", WorkflowID: "wf-1", Status: "running", MaxCost: &maxCost,
		CreatedAt: time.Now(),
	}
	if err := s.CreateExecution(ctx, ex); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	ex.Status = "completed"
	ex.Cost = 1.23
	ex.PromptTokens = 100
	ex.CompletionTokens = 50
	if err := s.UpdateExecution(ctx, ex); err != nil {
		t.Fatalf("UpdateExecution: %v", err)
	}

	got, err := s.LoadExecution(ctx, "ex-1")
	if err != nil {
		t.Fatalf("LoadExecution: %v", err)
	}
	if got.Status != "completed" || got.Cost != 1.23 || got.PromptTokens != 100 {
		t.Errorf("unexpected execution after update: %+v", got)
	}
	if got.MaxCost == nil || *got.MaxCost != 5.0 {
		t.Errorf("expected MaxCost preserved at 5.0, got %+v", got.MaxCost)
	}

	byWorkflow, err := s.ListExecutionsByWorkflow(ctx, "wf-1")
	if err != nil {
		t.Fatalf("ListExecutionsByWorkflow: %v", err)
	}
	if len(byWorkflow) != 1 {
		t.Errorf("expected 1 execution for wf-1, got %d", len(byWorkflow))
	}
}

func TestSQLiteStoreUpdateExecutionNotFound(t *testing.T) {
	s := newTestSQLiteStore(t)
	err := s.UpdateExecution(context.Background(), store.Execution{ID: "never-created"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStoreStepExecutionsOrderedByExecutionOrder(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	for i, nodeID := range []string{"c", "a", "b"} {
		order := map[string]int{"a": 0, "b": 1, "c": 2}[nodeID]
		_ = i
		step := store.StepExecution{ID: nodeID, ExecutionID: "ex-1", NodeID: nodeID, ExecutionOrder: order}
		if err := s.SaveStepExecution(ctx, step); err != nil {
			t.Fatalf("SaveStepExecution: %v", err)
		}
	}

	steps, err := s.ListStepExecutions(ctx, "ex-1")
	if err != nil {
		t.Fatalf("ListStepExecutions: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(steps) != len(want) {
		t.Fatalf("expected %d steps, got %d", len(want), len(steps))
	}
	for i, step := range steps {
		if step.NodeID != want[i] {
			t.Errorf("expected execution_order-sorted steps %v, got %+v", want, steps)
		}
	}
}

// TestSQLiteStorePersistsAcrossReopen verifies data survives Close and a
// fresh NewSQLiteStore against the same file path.
func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "orchestra.db")

	s1, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	now := time.Now()
	if err := s1.SaveWorkflow(ctx, store.Workflow{ID: "wf-1", Name: "persisted", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("SaveWorkflow: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore (reopen): %v", err)
	}
	defer s2.Close()

	got, err := s2.LoadWorkflow(ctx, "wf-1")
	if err != nil {
		t.Fatalf("LoadWorkflow after reopen: %v", err)
	}
	if got.Name != "persisted" {
		t.Errorf("expected data to survive reopen, got %+v", got)
	}
}
