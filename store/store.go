// Package store provides persistence for workflow definitions, their
// executions, and each execution's per-node step records, per spec.md
// §6 "Persisted state layout." Adapted from the teacher's generic
// Store[S] (graph/store/store.go): the schemas here are fixed records
// rather than a type parameter, since the engine's domain model is not
// open-ended the way the teacher's reducer state is.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/flowforge/orchestra/engine"
)

// ErrNotFound is returned when a requested id does not exist.
var ErrNotFound = errors.New("not found")

// Workflow is a stored graph definition, per spec.md §6.
type Workflow struct {
	ID          string
	Name        string
	Description string
	Graph       engine.Graph
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Execution is one run of a Workflow, per spec.md §6.
type Execution struct {
	ID            string
	WorkflowID    string
	Status        string
	GraphSnapshot engine.Graph
	MaxTokens     *int
	MaxCost       *float64
	PromptTokens  int
	CompletionTokens int
	Cost          float64
	EstimatedCost *float64
	ExecutionPlan *engine.ExecutionPlan
	Error         string
	StartedAt     *time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
}

// StepExecution is one node's record within an Execution, per spec.md §6.
type StepExecution struct {
	ID               string
	ExecutionID      string
	NodeID           string
	Name             string
	Status           string
	Input            string
	Output           string
	Provider         string
	Model            string
	TokensPrompt     int
	TokensCompletion int
	Cost             float64
	LatencyMS        int64
	Retries          int
	IsFallback       bool
	FallbackFor      string
	ExecutionOrder   int
	ParallelGroup    int
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// Store persists workflows, executions, and their step records.
// Implementations must be safe for concurrent use.
type Store interface {
	SaveWorkflow(ctx context.Context, wf Workflow) error
	LoadWorkflow(ctx context.Context, id string) (Workflow, error)
	ListWorkflows(ctx context.Context) ([]Workflow, error)

	CreateExecution(ctx context.Context, ex Execution) error
	UpdateExecution(ctx context.Context, ex Execution) error
	LoadExecution(ctx context.Context, id string) (Execution, error)
	ListExecutionsByWorkflow(ctx context.Context, workflowID string) ([]Execution, error)

	SaveStepExecution(ctx context.Context, step StepExecution) error
	ListStepExecutions(ctx context.Context, executionID string) ([]StepExecution, error)
}
