package budget

import (
	"math"
	"sort"

	"github.com/flowforge/orchestra/engine"
	"github.com/flowforge/orchestra/pricing"
)

// StepEstimate is one step's static cost projection, per spec.md §4.4.1.
type StepEstimate struct {
	NodeID           string
	PromptTokens     int
	CompletionTokens int
	Cost             float64
}

// Confidence tiers the estimate's reliability, per spec.md §4.4.1.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// CostEstimate is the Estimator's full output for a plan.
type CostEstimate struct {
	Steps      []StepEstimate
	Total      float64
	Confidence Confidence
}

// configInfo is the subset of a node's config the estimator needs,
// resolved once per node regardless of variant.
type configInfo struct {
	provider     string
	model        string
	systemPrompt string
	maxTokens    int
	isConditional bool
}

func resolveConfig(n engine.Node) configInfo {
	switch n.Variant {
	case engine.VariantAgent:
		if n.Agent == nil {
			return configInfo{}
		}
		return configInfo{provider: n.Agent.Provider, model: n.Agent.Model, systemPrompt: n.Agent.SystemPrompt, maxTokens: n.Agent.MaxTokens}
	case engine.VariantTool:
		if n.Tool == nil {
			return configInfo{}
		}
		return configInfo{provider: n.Tool.Provider, model: n.Tool.Model, systemPrompt: n.Tool.SystemPrompt, maxTokens: n.Tool.MaxTokens}
	case engine.VariantConditional:
		return configInfo{isConditional: true}
	default:
		return configInfo{}
	}
}

// Estimate computes a CostEstimate for plan, using prices to convert
// token counts to cost. Implements spec.md §4.4.1's "60% rule":
// prompt_tokens for a step sums, over each dependency, 60% of that
// dependency's own max_tokens, plus 50 tokens of framing overhead per
// dependency, plus ceil(len(system_prompt)/4); steps with no
// dependencies add a base 200 tokens standing in for user input.
func Estimate(plan *engine.ExecutionPlan, prices *pricing.Table) CostEstimate {
	var steps []StepEstimate
	var total float64

	allNodeIDs := make([]string, 0)
	for _, grp := range plan.Groups {
		allNodeIDs = append(allNodeIDs, grp.Nodes...)
	}
	sort.Strings(allNodeIDs)

	anyConditional := false
	allSmallTokens := true
	allShortPrompts := true
	anyLargeTokens := false

	for _, id := range allNodeIDs {
		node, ok := plan.Node(id)
		if !ok {
			continue
		}
		cfg := resolveConfig(node)
		if cfg.isConditional {
			anyConditional = true
			continue
		}

		promptTokens := int(math.Ceil(float64(len(cfg.systemPrompt)) / 4.0))
		deps := plan.Deps[id]
		if len(deps) == 0 {
			promptTokens += 200
		} else {
			promptTokens += 50 * len(deps)
			for _, dep := range deps {
				depNode, ok := plan.Node(dep)
				if !ok {
					continue
				}
				depCfg := resolveConfig(depNode)
				promptTokens += int(float64(depCfg.maxTokens) * 0.6)
			}
		}

		completionTokens := cfg.maxTokens

		cost := 0.0
		if price, err := prices.Lookup(cfg.provider, cfg.model); err == nil {
			cost = float64(promptTokens)/1000*price.InputPer1K + float64(completionTokens)/1000*price.OutputPer1K
		}

		steps = append(steps, StepEstimate{NodeID: id, PromptTokens: promptTokens, CompletionTokens: completionTokens, Cost: cost})
		total += cost

		if completionTokens > 1024 {
			allSmallTokens = false
		}
		if completionTokens > 4096 {
			anyLargeTokens = true
		}
		if len(cfg.systemPrompt) > 512 {
			allShortPrompts = false
		}
	}

	confidence := ConfidenceMedium
	switch {
	case anyConditional || anyLargeTokens:
		confidence = ConfidenceLow
	case allSmallTokens && allShortPrompts:
		confidence = ConfidenceHigh
	}

	return CostEstimate{Steps: steps, Total: total, Confidence: confidence}
}
