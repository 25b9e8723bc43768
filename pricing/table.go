// Package pricing implements the Pricing Table: a provider → model →
// per-1K-token price mapping loaded once at startup and cached for the
// process lifetime, per spec.md §2 item 1 and §6 "Pricing configuration."
//
// Adapted from the teacher's graph/cost.go defaultModelPricing map and
// ModelPricing struct, converted from per-1M-token units to the per-1K
// units spec.md's cost formulas use.
package pricing

import (
	"errors"
	"fmt"
	"sync"
)

// Price is the per-1K-token input/output price for one model, in USD.
type Price struct {
	InputPer1K  float64
	OutputPer1K float64
}

// ErrUnknownModel is returned by Table.Lookup for an unregistered
// provider/model pair.
var ErrUnknownModel = errors.New("pricing: unknown provider/model")

// Table is an immutable provider→model→Price mapping. The zero value is
// not usable; construct with NewTable or Default.
type Table struct {
	mu     sync.RWMutex
	prices map[string]map[string]Price
	loaded bool
}

// NewTable constructs an empty Table. Callers load it once via Load and
// treat it as read-only thereafter — hot-reload is explicitly out of
// scope per spec.md §6.
func NewTable() *Table {
	return &Table{prices: make(map[string]map[string]Price)}
}

// Load installs a full provider→model→Price mapping. Load may only be
// called once; subsequent calls return an error, enforcing the
// "cached and immutable thereafter" invariant.
func (t *Table) Load(prices map[string]map[string]Price) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.loaded {
		return errors.New("pricing: table already loaded")
	}
	cp := make(map[string]map[string]Price, len(prices))
	for provider, models := range prices {
		inner := make(map[string]Price, len(models))
		for model, price := range models {
			inner[model] = price
		}
		cp[provider] = inner
	}
	t.prices = cp
	t.loaded = true
	return nil
}

// Lookup returns the price for provider/model, or ErrUnknownModel.
func (t *Table) Lookup(provider, model string) (Price, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	models, ok := t.prices[provider]
	if !ok {
		return Price{}, fmt.Errorf("%w: provider=%s", ErrUnknownModel, provider)
	}
	price, ok := models[model]
	if !ok {
		return Price{}, fmt.Errorf("%w: provider=%s model=%s", ErrUnknownModel, provider, model)
	}
	return price, nil
}

// Default returns a Table pre-loaded with the well-known provider
// prices current as of this engine's release, mirroring the teacher's
// defaultModelPricing map (graph/cost.go) but in per-1K units.
func Default() *Table {
	t := NewTable()
	_ = t.Load(map[string]map[string]Price{
		"openai": {
			"gpt-4o":       {InputPer1K: 0.0025, OutputPer1K: 0.01},
			"gpt-4o-mini":  {InputPer1K: 0.00015, OutputPer1K: 0.0006},
			"gpt-4-turbo":  {InputPer1K: 0.01, OutputPer1K: 0.03},
			"gpt-3.5-turbo": {InputPer1K: 0.0005, OutputPer1K: 0.0015},
		},
		"anthropic": {
			"claude-3-opus-20240229":     {InputPer1K: 0.015, OutputPer1K: 0.075},
			"claude-3-sonnet-20240229":   {InputPer1K: 0.003, OutputPer1K: 0.015},
			"claude-3-5-sonnet-20241022": {InputPer1K: 0.003, OutputPer1K: 0.015},
			"claude-3-haiku-20240307":    {InputPer1K: 0.00025, OutputPer1K: 0.00125},
		},
		"google": {
			"gemini-1.5-pro":   {InputPer1K: 0.00125, OutputPer1K: 0.005},
			"gemini-1.5-flash": {InputPer1K: 0.000075, OutputPer1K: 0.0003},
		},
	})
	return t
}

// DowngradeLadder names, per provider, the ordered sequence of models
// the budget Suggestions stage walks when looking for a cheaper
// substitute for a step's current model. The order is not strictly by
// price: gpt-3.5-turbo costs more than gpt-4o-mini, and the two sonnet
// models cost the same.
var DowngradeLadder = map[string][]string{
	"openai":    {"gpt-4-turbo", "gpt-4o", "gpt-4o-mini", "gpt-3.5-turbo"},
	"anthropic": {"claude-3-opus-20240229", "claude-3-5-sonnet-20241022", "claude-3-sonnet-20240229", "claude-3-haiku-20240307"},
	"google":    {"gemini-1.5-pro", "gemini-1.5-flash"},
}

// NextDowngrade returns the model after current in provider's ladder, or
// "" if current is the last rung or unrecognized. The returned model is
// not always cheaper than current.
func NextDowngrade(provider, current string) string {
	ladder := DowngradeLadder[provider]
	for i, m := range ladder {
		if m == current && i+1 < len(ladder) {
			return ladder[i+1]
		}
	}
	return ""
}
