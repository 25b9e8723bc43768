package engine

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/flowforge/orchestra/model"
	"github.com/flowforge/orchestra/publish"
)

// StepInput is what a node runs with: the gathered outputs of its
// (possibly partial) dependency set, plus the root user input when the
// node has no dependencies, per spec.md §4.2 "Data passing and partial
// inputs."
type StepInput struct {
	Deps      map[string]StepOutput
	RootInput string
}

// buildUserMessage renders a StepInput into the single user message an
// Adapter call expects. The system prompt is expected to handle missing
// dependencies; this never invents placeholders for them, per spec.md
// §4.2.
func buildUserMessage(input StepInput) string {
	if len(input.Deps) == 0 {
		return input.RootInput
	}
	var b strings.Builder
	ids := make([]string, 0, len(input.Deps))
	for id := range input.Deps {
		ids = append(ids, id)
	}
	sortStrings(ids)
	for _, id := range ids {
		out := input.Deps[id]
		b.WriteString("[" + out.AgentName + "] " + out.Text + "\n")
	}
	return b.String()
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// OutcomeKind classifies a Backtracker's final result for a step.
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeFailed     OutcomeKind = "failed"
	OutcomeCancelled  OutcomeKind = "cancelled"
)

// StepOutcome is the Backtracker's public result, per spec.md §4.3.
// A fallback run is represented as the outer outcome (for the original
// node) wrapping FallbackOutcome (the fallback node's own result).
type StepOutcome struct {
	Kind             OutcomeKind
	Output           StepOutput
	TokensPrompt     int
	TokensCompletion int
	Cost             float64
	Attempts         int
	ErrorKind        ErrorKind
	BudgetCheck      CheckResult

	FallbackRan     bool
	FallbackNodeID  string
	FallbackOutcome *StepOutcome
}

// Backtracker implements the per-step retry/fallback/skip policy
// machine of spec.md §4.3, grounded on the teacher's computeBackoff
// (graph/policy.go) generalized to the richer LLM-call failure
// taxonomy spec.md defines.
type Backtracker struct {
	Metrics *Metrics
}

// Execute runs node (with its configured retry policy) against input,
// retrying with exponential backoff, then substituting fallbackNode on
// terminal failure if one is configured. fallbackNode is nil when the
// node (or the fallback itself — fallbacks never chain) has none.
func (bt *Backtracker) Execute(
	ctx context.Context,
	runID string,
	groupIndex int,
	node Node,
	fallbackNode *Node,
	input StepInput,
	registry *model.Registry,
	enforcer BudgetEnforcer,
	pub publish.Publisher,
	opts Options,
	isFallbackRun bool,
) StepOutcome {
	cfg := node.baseAgentConfig()
	if cfg == nil {
		return StepOutcome{Kind: OutcomeFailed, ErrorKind: ErrConfiguration}
	}

	policy := DefaultRetryPolicy(cfg.MaxRetries)
	if opts.Jitter {
		policy.Jitter = true
	}
	var rng *rand.Rand
	if policy.Jitter && opts.Rand != nil {
		rng = rand.New(rand.NewSource(opts.Rand.Seed))
	}

	adapter, resolveErr := registry.Resolve(cfg.Provider)

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = opts.DefaultNodeTimeout
	}

	invalidResponseRetriesUsed := 0
	attempts := 0
	var lastKind ErrorKind

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return StepOutcome{Kind: OutcomeCancelled, Attempts: attempts}
		}
		attempts++

		var resp model.Response
		var callErr error
		if resolveErr != nil {
			callErr = resolveErr
		} else {
			stepCtx, cancel := context.WithTimeout(ctx, timeout)
			resp, callErr = adapter.Call(stepCtx, model.Request{
				Provider:     cfg.Provider,
				Model:        cfg.Model,
				SystemPrompt: cfg.SystemPrompt,
				UserMessage:  buildUserMessage(input),
				Params: model.Params{
					Temperature: cfg.Temperature,
					MaxTokens:   cfg.MaxTokens,
					Timeout:     timeout,
				},
			})
			cancel()
		}

		if callErr == nil {
			check := enforcer.RecordAndCheck(resp.TokensPrompt+resp.TokensCompletion, resp.Cost)
			pub.Publish(ctx, runID, publish.NewEvent(publish.TypeAgentCompleted, time.Now(), publish.PayloadAgentCompleted{
				AgentID:   node.ID,
				Tokens:    publish.TokenUsage{Prompt: resp.TokensPrompt, Completion: resp.TokensCompletion},
				Cost:      resp.Cost,
				LatencyMS: resp.LatencyMS,
			}))
			if bt.Metrics != nil {
				bt.Metrics.RecordStepLatency(runID, node.ID, time.Duration(resp.LatencyMS)*time.Millisecond, "success")
			}
			return StepOutcome{
				Kind:             OutcomeCompleted,
				Output:           StepOutput{AgentName: node.ID, Text: resp.Text},
				TokensPrompt:     resp.TokensPrompt,
				TokensCompletion: resp.TokensCompletion,
				Cost:             resp.Cost,
				Attempts:         attempts,
				BudgetCheck:      check,
			}
		}

		kind := classifyError(callErr)
		lastKind = kind
		retryable := kind.Retryable()
		if kind == ErrInvalidResponse {
			retryable = invalidResponseRetriesUsed < 1
		}
		willRetry := retryable && attempt+1 < policy.MaxAttempts && ctx.Err() == nil

		retriesRemaining := policy.MaxAttempts - attempts
		if retriesRemaining < 0 {
			retriesRemaining = 0
		}
		pub.Publish(ctx, runID, publish.NewEvent(publish.TypeAgentFailed, time.Now(), publish.PayloadAgentFailed{
			AgentID:          node.ID,
			Error:            callErr.Error(),
			WillRetry:        willRetry,
			RetriesRemaining: retriesRemaining,
		}))

		if !willRetry {
			break
		}
		if bt.Metrics != nil {
			bt.Metrics.IncrementRetries(runID, node.ID, kind)
		}
		if kind == ErrInvalidResponse {
			invalidResponseRetriesUsed++
		}

		delay := computeBackoff(attempt, policy.BaseDelay, policy.MaxDelay, policy.Jitter, rng)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return StepOutcome{Kind: OutcomeCancelled, Attempts: attempts}
		}
		pub.Publish(ctx, runID, publish.NewEvent(publish.TypeAgentRetrying, time.Now(), publish.PayloadAgentRetrying{
			AgentID:     node.ID,
			RetryNumber: attempt + 1,
		}))
	}

	// Terminal failure. Fallbacks never chain: a fallback run never
	// receives its own fallbackNode, enforced by the caller.
	if fallbackNode != nil && !isFallbackRun {
		pub.Publish(ctx, runID, publish.NewEvent(publish.TypeAgentFallback, time.Now(), publish.PayloadAgentFallback{
			OriginalAgentID: node.ID,
			FallbackAgentID: fallbackNode.ID,
			Reason:          "max_retries_exhausted",
		}))
		if bt.Metrics != nil {
			bt.Metrics.IncrementFallbacks(runID, node.ID)
		}
		// agent_started must precede every other event for the
		// fallback's own step (spec.md §5 "intra-step event order");
		// scenario S3 names this event explicitly between
		// agent_fallback and the fallback's own agent_completed.
		pub.Publish(ctx, runID, publish.NewEvent(publish.TypeAgentStarted, time.Now(), publish.PayloadAgentStarted{
			AgentID:       fallbackNode.ID,
			AgentName:     fallbackNode.ID,
			ParallelGroup: groupIndex,
		}))
		fallbackOutcome := bt.Execute(ctx, runID, groupIndex, *fallbackNode, nil, input, registry, enforcer, pub, opts, true)
		return StepOutcome{
			Kind:             fallbackOutcome.Kind,
			Output:           fallbackOutcome.Output,
			TokensPrompt:     fallbackOutcome.TokensPrompt,
			TokensCompletion: fallbackOutcome.TokensCompletion,
			Cost:             fallbackOutcome.Cost,
			Attempts:         attempts,
			ErrorKind:        fallbackOutcome.ErrorKind,
			BudgetCheck:      fallbackOutcome.BudgetCheck,
			FallbackRan:      true,
			FallbackNodeID:   fallbackNode.ID,
			FallbackOutcome:  &fallbackOutcome,
		}
	}

	return StepOutcome{Kind: OutcomeFailed, Attempts: attempts, ErrorKind: lastKind}
}

func classifyError(err error) ErrorKind {
	var merr *model.Error
	if e, ok := err.(*model.Error); ok {
		merr = e
	}
	if merr != nil {
		switch merr.Kind {
		case model.KindTransient:
			return ErrTransient
		case model.KindConfiguration:
			return ErrConfiguration
		case model.KindRateLimited:
			return ErrRateLimited
		case model.KindInvalidResponse:
			return ErrInvalidResponse
		}
	}
	return ErrTransient
}
