package budget_test

import (
	"testing"

	"github.com/flowforge/orchestra/budget"
	"github.com/flowforge/orchestra/engine"
	"github.com/flowforge/orchestra/pricing"
)

// TestSuggestNoSuggestionsWithinBudget verifies Suggest returns nothing
// when the estimate already fits the budget.
func TestSuggestNoSuggestionsWithinBudget(t *testing.T) {
	g := engine.Graph{Nodes: []engine.Node{agentNode("a", "p", 100)}}
	plan, _ := engine.Plan(g, 0)
	prices := pricing.Default()
	est := budget.Estimate(plan, prices)

	suggestions := budget.Suggest(plan, est, prices, est.Total+1)
	if suggestions != nil {
		t.Errorf("expected no suggestions when under budget, got %+v", suggestions)
	}
}

// TestSuggestRankedBySavingsDescending verifies candidates are sorted by
// savings descending with a monotonically increasing cumulative savings
// and a would_fit_budget flag that flips true once the running total
// drops the remaining cost at or below budget.
func TestSuggestRankedBySavingsDescending(t *testing.T) {
	g := engine.Graph{
		Nodes: []engine.Node{
			agentNode("cheap", "p", 100),
			{ID: "expensive", Variant: engine.VariantAgent, Agent: &engine.AgentConfig{
				Provider: "openai", Model: "gpt-4-turbo", SystemPrompt: "p", MaxTokens: 2000,
			}},
		},
	}
	plan, err := engine.Plan(g, 0)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	prices := pricing.Default()
	est := budget.Estimate(plan, prices)

	suggestions := budget.Suggest(plan, est, prices, est.Total/4)
	if len(suggestions) == 0 {
		t.Fatal("expected suggestions when well over budget")
	}

	for i := 1; i < len(suggestions); i++ {
		if suggestions[i].Savings > suggestions[i-1].Savings {
			t.Errorf("position %d has greater savings than position %d: %f > %f",
				i, i-1, suggestions[i].Savings, suggestions[i-1].Savings)
		}
		if suggestions[i].CumulativeSavings < suggestions[i-1].CumulativeSavings {
			t.Errorf("cumulative savings must be non-decreasing, got %f then %f",
				suggestions[i-1].CumulativeSavings, suggestions[i].CumulativeSavings)
		}
	}

	var crossed bool
	for _, s := range suggestions {
		if s.WouldFitBudget {
			crossed = true
		}
		if crossed && !s.WouldFitBudget {
			t.Errorf("would_fit_budget should stay true once the cumulative savings clears the budget: %+v", s)
		}
	}
}

// TestSuggestOnlyOfferedForAvailableDowngrades verifies a node already at
// the cheapest rung of its provider's ladder produces no downgrade
// candidate.
func TestSuggestOnlyOfferedForAvailableDowngrades(t *testing.T) {
	g := engine.Graph{Nodes: []engine.Node{
		{ID: "cheapest", Variant: engine.VariantAgent, Agent: &engine.AgentConfig{
			Provider: "google", Model: "gemini-1.5-flash", SystemPrompt: "p", MaxTokens: 4096,
		}},
	}}
	plan, _ := engine.Plan(g, 0)
	prices := pricing.Default()
	est := budget.Estimate(plan, prices)

	suggestions := budget.Suggest(plan, est, prices, est.Total/10)
	for _, s := range suggestions {
		if s.Action == budget.ActionDowngrade && s.NodeID == "cheapest" {
			t.Error("cheapest-rung model should have no downgrade candidate")
		}
	}
}

// TestSuggestOptionalDiamondSiblingsAreSkippable verifies that in a
// diamond A->{B,C}->D, both B and C (each with an alternate path to the
// leaf through the other) are offered as skip_agent candidates, while A
// and D (no alternate path) are not.
func TestSuggestOptionalDiamondSiblingsAreSkippable(t *testing.T) {
	g := engine.Graph{
		Nodes: []engine.Node{agentNode("A", "p", 2000), agentNode("B", "p", 2000), agentNode("C", "p", 2000), agentNode("D", "p", 2000)},
		Edges: []engine.Edge{
			{Source: "A", Target: "B"}, {Source: "A", Target: "C"},
			{Source: "B", Target: "D"}, {Source: "C", Target: "D"},
		},
	}
	plan, err := engine.Plan(g, 0)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	prices := pricing.Default()
	est := budget.Estimate(plan, prices)

	suggestions := budget.Suggest(plan, est, prices, est.Total/10)

	skippable := make(map[string]bool)
	for _, s := range suggestions {
		if s.Action == budget.ActionSkip {
			skippable[s.NodeID] = true
		}
	}
	if !skippable["B"] || !skippable["C"] {
		t.Errorf("expected B and C to be skippable, got %+v", skippable)
	}
	if skippable["A"] || skippable["D"] {
		t.Errorf("A and D must never be skippable (no alternate path), got %+v", skippable)
	}
}
