package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL-backed Store, grounded on the teacher's
// MySQLStore (graph/store/mysql.go). dsn must include parseTime=true so
// TIMESTAMP columns scan directly into time.Time.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens (and migrates) a MySQL-backed Store.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	s := &MySQLStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT,
			graph_json JSON NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS executions (
			id VARCHAR(64) PRIMARY KEY,
			workflow_id VARCHAR(64) NOT NULL,
			status VARCHAR(32) NOT NULL,
			graph_snapshot_json JSON NOT NULL,
			max_tokens INT NULL,
			max_cost DOUBLE NULL,
			prompt_tokens INT NOT NULL,
			completion_tokens INT NOT NULL,
			cost DOUBLE NOT NULL,
			estimated_cost DOUBLE NULL,
			execution_plan_json JSON NULL,
			error TEXT NULL,
			started_at TIMESTAMP NULL,
			completed_at TIMESTAMP NULL,
			created_at TIMESTAMP NOT NULL,
			INDEX idx_executions_workflow (workflow_id)
		)`,
		`CREATE TABLE IF NOT EXISTS step_executions (
			id VARCHAR(64) PRIMARY KEY,
			execution_id VARCHAR(64) NOT NULL,
			node_id VARCHAR(128) NOT NULL,
			name VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			input MEDIUMTEXT NULL,
			output MEDIUMTEXT NULL,
			provider VARCHAR(64) NULL,
			model VARCHAR(128) NULL,
			tokens_prompt INT NOT NULL,
			tokens_completion INT NOT NULL,
			cost DOUBLE NOT NULL,
			latency_ms BIGINT NULL,
			retries INT NOT NULL,
			is_fallback TINYINT(1) NOT NULL,
			fallback_for VARCHAR(128) NULL,
			execution_order INT NOT NULL,
			parallel_group INT NOT NULL,
			started_at TIMESTAMP NULL,
			completed_at TIMESTAMP NULL,
			INDEX idx_steps_execution (execution_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *MySQLStore) Close() error { return s.db.Close() }

func (s *MySQLStore) SaveWorkflow(ctx context.Context, wf Workflow) error {
	graphJSON, err := json.Marshal(wf.Graph)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, description, graph_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE name=VALUES(name), description=VALUES(description),
			graph_json=VALUES(graph_json), updated_at=VALUES(updated_at)`,
		wf.ID, wf.Name, wf.Description, graphJSON, wf.CreatedAt.UTC(), wf.UpdatedAt.UTC())
	return err
}

func (s *MySQLStore) LoadWorkflow(ctx context.Context, id string) (Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, description, graph_json, created_at, updated_at FROM workflows WHERE id = ?`, id)
	var wf Workflow
	var graphJSON string
	if err := row.Scan(&wf.ID, &wf.Name, &wf.Description, &graphJSON, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Workflow{}, ErrNotFound
		}
		return Workflow{}, err
	}
	if err := json.Unmarshal([]byte(graphJSON), &wf.Graph); err != nil {
		return Workflow{}, err
	}
	return wf, nil
}

func (s *MySQLStore) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description, graph_json, created_at, updated_at FROM workflows`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Workflow
	for rows.Next() {
		var wf Workflow
		var graphJSON string
		if err := rows.Scan(&wf.ID, &wf.Name, &wf.Description, &graphJSON, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(graphJSON), &wf.Graph); err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *MySQLStore) CreateExecution(ctx context.Context, ex Execution) error {
	graphJSON, err := json.Marshal(ex.GraphSnapshot)
	if err != nil {
		return err
	}
	var planJSON []byte
	if ex.ExecutionPlan != nil {
		planJSON, err = json.Marshal(ex.ExecutionPlan)
		if err != nil {
			return err
		}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (id, workflow_id, status, graph_snapshot_json, max_tokens, max_cost,
			prompt_tokens, completion_tokens, cost, estimated_cost, execution_plan_json, error,
			started_at, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.WorkflowID, ex.Status, graphJSON, ex.MaxTokens, ex.MaxCost,
		ex.PromptTokens, ex.CompletionTokens, ex.Cost, ex.EstimatedCost, nullableBytes(planJSON), ex.Error,
		nullableTime(ex.StartedAt), nullableTime(ex.CompletedAt), ex.CreatedAt.UTC())
	return err
}

func (s *MySQLStore) UpdateExecution(ctx context.Context, ex Execution) error {
	var planJSON []byte
	var err error
	if ex.ExecutionPlan != nil {
		planJSON, err = json.Marshal(ex.ExecutionPlan)
		if err != nil {
			return err
		}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE executions SET status=?, prompt_tokens=?, completion_tokens=?, cost=?, execution_plan_json=?,
			error=?, started_at=?, completed_at=?
		WHERE id=?`,
		ex.Status, ex.PromptTokens, ex.CompletionTokens, ex.Cost, nullableBytes(planJSON),
		ex.Error, nullableTime(ex.StartedAt), nullableTime(ex.CompletedAt), ex.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MySQLStore) LoadExecution(ctx context.Context, id string) (Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, status, graph_snapshot_json, max_tokens, max_cost,
			prompt_tokens, completion_tokens, cost, estimated_cost, execution_plan_json, error,
			started_at, completed_at, created_at
		FROM executions WHERE id = ?`, id)
	return scanExecution(row)
}

func (s *MySQLStore) ListExecutionsByWorkflow(ctx context.Context, workflowID string) ([]Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, status, graph_snapshot_json, max_tokens, max_cost,
			prompt_tokens, completion_tokens, cost, estimated_cost, execution_plan_json, error,
			started_at, completed_at, created_at
		FROM executions WHERE workflow_id = ?`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		ex, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

func (s *MySQLStore) SaveStepExecution(ctx context.Context, step StepExecution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO step_executions (id, execution_id, node_id, name, status, input, output,
			provider, model, tokens_prompt, tokens_completion, cost, latency_ms, retries,
			is_fallback, fallback_for, execution_order, parallel_group, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.ExecutionID, step.NodeID, step.Name, step.Status, step.Input, step.Output,
		step.Provider, step.Model, step.TokensPrompt, step.TokensCompletion, step.Cost, step.LatencyMS, step.Retries,
		step.IsFallback, step.FallbackFor, step.ExecutionOrder, step.ParallelGroup,
		nullableTime(step.StartedAt), nullableTime(step.CompletedAt))
	return err
}

func (s *MySQLStore) ListStepExecutions(ctx context.Context, executionID string) ([]StepExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, node_id, name, status, input, output, provider, model,
			tokens_prompt, tokens_completion, cost, latency_ms, retries, is_fallback, fallback_for,
			execution_order, parallel_group, started_at, completed_at
		FROM step_executions WHERE execution_id = ? ORDER BY execution_order ASC`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StepExecution
	for rows.Next() {
		var st StepExecution
		var startedAt, completedAt sql.NullTime
		var latency sql.NullInt64
		if err := rows.Scan(&st.ID, &st.ExecutionID, &st.NodeID, &st.Name, &st.Status, &st.Input, &st.Output,
			&st.Provider, &st.Model, &st.TokensPrompt, &st.TokensCompletion, &st.Cost, &latency, &st.Retries,
			&st.IsFallback, &st.FallbackFor, &st.ExecutionOrder, &st.ParallelGroup, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		if latency.Valid {
			st.LatencyMS = latency.Int64
		}
		if startedAt.Valid {
			t := startedAt.Time
			st.StartedAt = &t
		}
		if completedAt.Valid {
			t := completedAt.Time
			st.CompletedAt = &t
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
