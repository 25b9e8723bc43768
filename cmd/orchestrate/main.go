// Command orchestrate is a minimal demo harness: it loads a workflow
// definition, prints a static cost estimate, runs it against the
// deterministic mock adapter, and streams the resulting events to
// stdout. It exists to exercise the engine end to end, not as a
// deployable surface.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/flowforge/orchestra/budget"
	"github.com/flowforge/orchestra/engine"
	"github.com/flowforge/orchestra/model"
	"github.com/flowforge/orchestra/model/mock"
	"github.com/flowforge/orchestra/pricing"
	"github.com/flowforge/orchestra/publish"
)

func main() {
	workflowPath := flag.String("workflow", "", "path to a workflow JSON file (defaults to a built-in sample diamond graph)")
	rootInput := flag.String("input", "orchestrate: demo run", "root input text fed to dependency-free nodes")
	maxCost := flag.Float64("max-cost", 0, "abort and print cut suggestions instead of running if the estimate exceeds this (0 disables)")
	runID := flag.String("run-id", "cli-run", "identifier used to tag emitted events")
	flag.Parse()

	graph, err := loadGraph(*workflowPath)
	if err != nil {
		log.Fatalf("load workflow: %v", err)
	}

	plan, err := engine.Plan(graph, 0)
	if err != nil {
		log.Fatalf("plan workflow: %v", err)
	}

	prices := pricing.Default()
	estimate := budget.Estimate(plan, prices)
	printEstimate(estimate)

	var maxCostPtr *float64
	if *maxCost > 0 {
		maxCostPtr = maxCost
		if suggestions := budget.Suggest(plan, estimate, prices, *maxCost); suggestions != nil {
			fmt.Printf("\nestimate $%.4f exceeds max-cost $%.4f; suggested cuts:\n", estimate.Total, *maxCost)
			for _, s := range suggestions {
				printSuggestion(s)
			}
			fmt.Println("\nrun aborted: apply a cut and re-run, or raise -max-cost")
			return
		}
	}

	registry := model.NewRegistry(registryFor(graph))
	enforcer := budget.NewEnforcer(nil, maxCostPtr)
	pub := publish.NewLogPublisher(log.New(os.Stdout, "", 0))

	executor := engine.NewExecutor(engine.WithDefaultNodeTimeout(30 * time.Second))

	outcome := executor.Run(context.Background(), plan, *rootInput,
		engine.Budget{MaxCost: maxCostPtr}, enforcer, registry, pub, *runID)

	fmt.Printf("\nrun %s: status=%s duration=%dms\n", *runID, outcome.Status, outcome.DurationMS)
	if outcome.InternalError != "" {
		fmt.Printf("internal error: %s\n", outcome.InternalError)
	}
}

// loadGraph reads a workflow definition from path, or falls back to a
// small built-in diamond graph (A -> {B, C} -> D) when path is empty.
func loadGraph(path string) (engine.Graph, error) {
	if path == "" {
		return sampleGraph(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return engine.Graph{}, fmt.Errorf("read %s: %w", path, err)
	}
	var g engine.Graph
	if err := json.Unmarshal(b, &g); err != nil {
		return engine.Graph{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return g, nil
}

func sampleGraph() engine.Graph {
	agent := func(id string) engine.Node {
		return engine.Node{
			ID: id, Variant: engine.VariantAgent,
			Agent: &engine.AgentConfig{
				Provider: "mock", Model: "mock-1",
				SystemPrompt: "you are step " + id,
				MaxTokens:    256,
			},
		}
	}
	return engine.Graph{
		Nodes: []engine.Node{agent("A"), agent("B"), agent("C"), agent("D")},
		Edges: []engine.Edge{
			{Source: "A", Target: "B"}, {Source: "A", Target: "C"},
			{Source: "B", Target: "D"}, {Source: "C", Target: "D"},
		},
	}
}

// registryFor builds a model.Registry that answers every provider the
// graph references with the same deterministic mock adapter, so the
// demo runs without any real API key configured.
func registryFor(g engine.Graph) map[string]model.Adapter {
	adapter := mock.NewAdapter(model.Response{Text: "ok", TokensPrompt: 120, TokensCompletion: 80})
	providers := map[string]model.Adapter{}
	for _, n := range g.Nodes {
		switch n.Variant {
		case engine.VariantAgent:
			if n.Agent != nil {
				providers[n.Agent.Provider] = adapter
			}
		case engine.VariantTool:
			if n.Tool != nil {
				providers[n.Tool.Provider] = adapter
			}
		}
	}
	if len(providers) == 0 {
		providers["mock"] = adapter
	}
	return providers
}

func printEstimate(est budget.CostEstimate) {
	fmt.Printf("cost estimate: total=$%.4f confidence=%s\n", est.Total, est.Confidence)
	for _, s := range est.Steps {
		fmt.Printf("  %-12s prompt=%-6d completion=%-6d cost=$%.4f\n", s.NodeID, s.PromptTokens, s.CompletionTokens, s.Cost)
	}
}

func printSuggestion(s budget.Suggestion) {
	switch s.Action {
	case budget.ActionDowngrade:
		fmt.Printf("  downgrade %s: %s -> %s, saves $%.4f (cumulative $%.4f, fits=%v)\n",
			s.NodeID, s.FromModel, s.ToModel, s.Savings, s.CumulativeSavings, s.WouldFitBudget)
	case budget.ActionSkip:
		fmt.Printf("  skip %s, saves $%.4f (cumulative $%.4f, fits=%v)\n",
			s.NodeID, s.Savings, s.CumulativeSavings, s.WouldFitBudget)
	}
}
