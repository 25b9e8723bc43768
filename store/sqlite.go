package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed Store, grounded on the teacher's
// SQLiteStore (graph/store/sqlite.go): WAL mode, a single-writer
// connection pool, auto-migration on first open.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) a SQLite-backed Store at path.
// ":memory:" is valid for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			graph_json TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			graph_snapshot_json TEXT NOT NULL,
			max_tokens INTEGER,
			max_cost REAL,
			prompt_tokens INTEGER NOT NULL,
			completion_tokens INTEGER NOT NULL,
			cost REAL NOT NULL,
			estimated_cost REAL,
			execution_plan_json TEXT,
			error TEXT,
			started_at TEXT,
			completed_at TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id)`,
		`CREATE TABLE IF NOT EXISTS step_executions (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			input TEXT,
			output TEXT,
			provider TEXT,
			model TEXT,
			tokens_prompt INTEGER NOT NULL,
			tokens_completion INTEGER NOT NULL,
			cost REAL NOT NULL,
			latency_ms INTEGER,
			retries INTEGER NOT NULL,
			is_fallback INTEGER NOT NULL,
			fallback_for TEXT,
			execution_order INTEGER NOT NULL,
			parallel_group INTEGER NOT NULL,
			started_at TEXT,
			completed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_execution ON step_executions(execution_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) SaveWorkflow(ctx context.Context, wf Workflow) error {
	graphJSON, err := json.Marshal(wf.Graph)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, description, graph_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description,
			graph_json=excluded.graph_json, updated_at=excluded.updated_at`,
		wf.ID, wf.Name, wf.Description, graphJSON, wf.CreatedAt.UTC(), wf.UpdatedAt.UTC())
	return err
}

func (s *SQLiteStore) LoadWorkflow(ctx context.Context, id string) (Workflow, error) {
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

func (s *SQLiteStore) ListWorkflows(ctx context.Context) ([]Workflow, error) {
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

func (s *SQLiteStore) CreateExecution(ctx context.Context, ex Execution) error {
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

func (s *SQLiteStore) UpdateExecution(ctx context.Context, ex Execution) error {
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

func (s *SQLiteStore) LoadExecution(ctx context.Context, id string) (Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, status, graph_snapshot_json, max_tokens, max_cost,
			prompt_tokens, completion_tokens, cost, estimated_cost, execution_plan_json, error,
			started_at, completed_at, created_at
		FROM executions WHERE id = ?`, id)
	return scanExecution(row)
}

func (s *SQLiteStore) ListExecutionsByWorkflow(ctx context.Context, workflowID string) ([]Execution, error) {
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

func (s *SQLiteStore) SaveStepExecution(ctx context.Context, step StepExecution) error {
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

func (s *SQLiteStore) ListStepExecutions(ctx context.Context, executionID string) ([]StepExecution, error) {
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

// rowScanner abstracts *sql.Row and *sql.Rows for scanExecution.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (Execution, error) {
	var ex Execution
	var graphJSON string
	var planJSON sql.NullString
	var maxTokens sql.NullInt64
	var maxCost, estimatedCost sql.NullFloat64
	var errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	if err := row.Scan(&ex.ID, &ex.WorkflowID, &ex.Status, &graphJSON, &maxTokens, &maxCost,
		&ex.PromptTokens, &ex.CompletionTokens, &ex.Cost, &estimatedCost, &planJSON, &errMsg,
		&startedAt, &completedAt, &ex.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Execution{}, ErrNotFound
		}
		return Execution{}, err
	}
	if err := json.Unmarshal([]byte(graphJSON), &ex.GraphSnapshot); err != nil {
		return Execution{}, err
	}
	if maxTokens.Valid {
		v := int(maxTokens.Int64)
		ex.MaxTokens = &v
	}
	if maxCost.Valid {
		v := maxCost.Float64
		ex.MaxCost = &v
	}
	if estimatedCost.Valid {
		v := estimatedCost.Float64
		ex.EstimatedCost = &v
	}
	if errMsg.Valid {
		ex.Error = errMsg.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		ex.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		ex.CompletedAt = &t
	}
	return ex, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
