// Package publish implements the per-run event pub/sub channel described
// in spec.md §4.5, adapted from the teacher's emit.Emitter (Emit/
// EmitBatch/Flush) shape in graph/emit/emitter.go and graph/emit/event.go.
package publish

import "time"

// Type names one of the ten event kinds spec.md §4.5 defines.
type Type string

const (
	TypeExecutionStarted   Type = "execution_started"
	TypeAgentStarted       Type = "agent_started"
	TypeAgentCompleted     Type = "agent_completed"
	TypeAgentFailed        Type = "agent_failed"
	TypeAgentRetrying      Type = "agent_retrying"
	TypeAgentFallback      Type = "agent_fallback"
	TypeAgentSkipped       Type = "agent_skipped"
	TypeBudgetWarning      Type = "budget_warning"
	TypeBudgetExceeded     Type = "budget_exceeded"
	TypeExecutionCompleted Type = "execution_completed"
)

// Event is the envelope published on a run's channel: { type, timestamp,
// <payload> }. Timestamp is UTC with millisecond precision, per
// spec.md §4.5. Payload holds one of the Payload* structs below.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// NewEvent stamps an event at the given instant, truncated to
// millisecond precision as spec.md requires.
func NewEvent(typ Type, at time.Time, payload any) Event {
	return Event{Type: typ, Timestamp: at.UTC().Truncate(time.Millisecond), Payload: payload}
}

// PayloadExecutionStarted summarizes the plan at run start.
type PayloadExecutionStarted struct {
	TotalSteps      int `json:"total_steps"`
	MaxParallelism  int `json:"max_parallelism"`
	EstimatedRounds int `json:"estimated_rounds"`
}

type PayloadAgentStarted struct {
	AgentID       string `json:"agent_id"`
	AgentName     string `json:"agent_name"`
	ParallelGroup int    `json:"parallel_group"`
}

type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
}

type PayloadAgentCompleted struct {
	AgentID   string     `json:"agent_id"`
	Tokens    TokenUsage `json:"tokens"`
	Cost      float64    `json:"cost"`
	LatencyMS int64      `json:"latency_ms"`
}

type PayloadAgentFailed struct {
	AgentID          string `json:"agent_id"`
	Error            string `json:"error"`
	WillRetry        bool   `json:"will_retry"`
	RetriesRemaining int    `json:"retries_remaining"`
}

type PayloadAgentRetrying struct {
	AgentID     string `json:"agent_id"`
	RetryNumber int    `json:"retry_number"`
}

type PayloadAgentFallback struct {
	OriginalAgentID string `json:"original_agent_id"`
	FallbackAgentID string `json:"fallback_agent_id"`
	Reason          string `json:"reason"`
}

type PayloadAgentSkipped struct {
	AgentID string `json:"agent_id"`
	Reason  string `json:"reason"`
}

type PayloadBudgetWarning struct {
	Consumed   float64 `json:"consumed"`
	Budget     float64 `json:"budget"`
	Percentage float64 `json:"percentage"`
}

type PayloadBudgetExceeded struct {
	Consumed      float64  `json:"consumed"`
	Budget        float64  `json:"budget"`
	AgentsNotRun  []string `json:"agents_not_run"`
}

type Totals struct {
	TokensPrompt     int     `json:"tokens_prompt"`
	TokensCompletion int     `json:"tokens_completion"`
	Cost             float64 `json:"cost"`
	DurationMS       int64   `json:"duration_ms"`
	AgentsCompleted  int     `json:"agents_completed"`
	AgentsFailed     int     `json:"agents_failed"`
	AgentsSkipped    int     `json:"agents_skipped"`
	DroppedEvents    int     `json:"dropped_events,omitempty"`
}

type PayloadExecutionCompleted struct {
	Status       string `json:"status"`
	Totals       Totals `json:"totals"`
	InternalError string `json:"internal_error,omitempty"`
}
