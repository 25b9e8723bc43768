package pricing_test

import (
	"errors"
	"testing"

	"github.com/flowforge/orchestra/pricing"
)

func TestLoadOnlySucceedsOnce(t *testing.T) {
	tbl := pricing.NewTable()
	if err := tbl.Load(map[string]map[string]pricing.Price{
		"openai": {"gpt-4o": {InputPer1K: 0.0025, OutputPer1K: 0.01}},
	}); err != nil {
		t.Fatalf("first Load: %v", err)
	}
	if err := tbl.Load(map[string]map[string]pricing.Price{}); err == nil {
		t.Error("expected second Load to fail, table is immutable after first load")
	}
}

func TestLookupUnknownModel(t *testing.T) {
	tbl := pricing.Default()
	if _, err := tbl.Lookup("openai", "gpt-7-ultra"); !errors.Is(err, pricing.ErrUnknownModel) {
		t.Errorf("expected ErrUnknownModel, got %v", err)
	}
	if _, err := tbl.Lookup("cohere", "command-r"); !errors.Is(err, pricing.ErrUnknownModel) {
		t.Errorf("expected ErrUnknownModel for unregistered provider, got %v", err)
	}
}

func TestDefaultPopulatesDocumentedProviders(t *testing.T) {
	tbl := pricing.Default()
	for _, tc := range []struct {
		provider, model string
	}{
		{"openai", "gpt-4o"},
		{"openai", "gpt-4o-mini"},
		{"anthropic", "claude-3-5-sonnet-20241022"},
		{"anthropic", "claude-3-haiku-20240307"},
		{"google", "gemini-1.5-pro"},
		{"google", "gemini-1.5-flash"},
	} {
		price, err := tbl.Lookup(tc.provider, tc.model)
		if err != nil {
			t.Errorf("expected %s/%s to be registered: %v", tc.provider, tc.model, err)
		}
		if price.InputPer1K <= 0 || price.OutputPer1K <= 0 {
			t.Errorf("expected positive prices for %s/%s, got %+v", tc.provider, tc.model, price)
		}
	}
}

func TestNextDowngradeWalksLadder(t *testing.T) {
	if got := pricing.NextDowngrade("openai", "gpt-4-turbo"); got != "gpt-4o" {
		t.Errorf("expected gpt-4o, got %s", got)
	}
	if got := pricing.NextDowngrade("openai", "gpt-4o"); got != "gpt-4o-mini" {
		t.Errorf("expected gpt-4o-mini, got %s", got)
	}
	if got := pricing.NextDowngrade("openai", "gpt-3.5-turbo"); got != "" {
		t.Errorf("expected no further downgrade from the last rung, got %s", got)
	}
	if got := pricing.NextDowngrade("unknown-provider", "whatever"); got != "" {
		t.Errorf("expected empty string for unrecognized provider, got %s", got)
	}
}
