// Package anthropic implements model.Adapter for Anthropic's Claude
// API, adapted from the teacher's graph/model/anthropic/anthropic.go:
// an interface-wrapped SDK client for mockability, error translation to
// the engine's typed Kind taxonomy, and cost computed from the Pricing
// Table per spec.md §6 ("the engine never queries pricing directly").
package anthropic

import (
	"context"
	"errors"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/flowforge/orchestra/model"
	"github.com/flowforge/orchestra/pricing"
)

// Adapter implements model.Adapter for Claude models.
type Adapter struct {
	apiKey string
	prices *pricing.Table
	client anthropicClient
}

// anthropicClient is the narrow seam the real SDK and test fakes both
// satisfy, mirroring the teacher's anthropicClient interface.
type anthropicClient interface {
	createMessage(ctx context.Context, systemPrompt, userMessage, model string, params model.Params) (text string, tokensIn, tokensOut int, err error)
}

// New constructs an Adapter. prices must already be loaded (see
// pricing.Default or Table.Load).
func New(apiKey string, prices *pricing.Table) *Adapter {
	return &Adapter{apiKey: apiKey, prices: prices, client: &sdkClient{apiKey: apiKey}}
}

func (a *Adapter) Call(ctx context.Context, req model.Request) (model.Response, error) {
	if err := ctx.Err(); err != nil {
		return model.Response{}, err
	}

	start := time.Now()
	text, tokensIn, tokensOut, err := a.client.createMessage(ctx, req.SystemPrompt, req.UserMessage, req.Model, req.Params)
	latency := time.Since(start)
	if err != nil {
		return model.Response{}, translateError(err)
	}

	cost, priceErr := computeCost(a.prices, "anthropic", req.Model, tokensIn, tokensOut)
	if priceErr != nil {
		return model.Response{}, &model.Error{Kind: model.KindConfiguration, Message: priceErr.Error(), Cause: priceErr}
	}

	return model.Response{
		Text:             text,
		TokensPrompt:     tokensIn,
		TokensCompletion: tokensOut,
		ModelUsed:        req.Model,
		LatencyMS:        latency.Milliseconds(),
		Cost:             cost,
	}, nil
}

func computeCost(prices *pricing.Table, provider, modelName string, tokensIn, tokensOut int) (float64, error) {
	price, err := prices.Lookup(provider, modelName)
	if err != nil {
		return 0, err
	}
	return float64(tokensIn)/1000*price.InputPer1K + float64(tokensOut)/1000*price.OutputPer1K, nil
}

// translateError maps the SDK's error shapes onto the engine's typed
// Kind taxonomy, per spec.md §6/§7.
func translateError(err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return &model.Error{Kind: model.KindConfiguration, Message: "anthropic authentication failed", Cause: err}
		case 429:
			return &model.Error{Kind: model.KindRateLimited, Message: "anthropic rate limited", Cause: err}
		case 500, 502, 503, 504:
			return &model.Error{Kind: model.KindTransient, Message: "anthropic server error", Cause: err}
		}
	}
	return &model.Error{Kind: model.KindTransient, Message: "anthropic call failed", Cause: err}
}

// sdkClient wraps the real Anthropic SDK client.
type sdkClient struct {
	apiKey string
}

func (c *sdkClient) createMessage(ctx context.Context, systemPrompt, userMessage, modelName string, params model.Params) (string, int, int, error) {
	if c.apiKey == "" {
		return "", 0, 0, &model.Error{Kind: model.KindConfiguration, Message: "anthropic API key is required"}
	}

	client := anthropicsdk.NewClient(option.WithAPIKey(c.apiKey))

	maxTokens := int64(params.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	msgParams := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(modelName),
		Messages:  []anthropicsdk.MessageParam{anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(userMessage))},
		MaxTokens: maxTokens,
	}
	if systemPrompt != "" {
		msgParams.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
	}

	resp, err := client.Messages.New(ctx, msgParams)
	if err != nil {
		return "", 0, 0, err
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return text, int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens), nil
}
