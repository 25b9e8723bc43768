// Package google implements model.Adapter for Google's Gemini API,
// adapted from the teacher's graph/model/google/google.go: an
// interface-wrapped SDK client, safety-filter-aware error translation,
// a single attempt per Call (retries belong to the Backtracker, per
// spec.md §4.3).
package google

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/flowforge/orchestra/model"
	"github.com/flowforge/orchestra/pricing"
)

// Adapter implements model.Adapter for Gemini models.
type Adapter struct {
	apiKey string
	prices *pricing.Table
	client googleClient
}

type googleClient interface {
	generateContent(ctx context.Context, systemPrompt, userMessage, model string, params model.Params) (text string, tokensIn, tokensOut int, err error)
}

// SafetyFilterError indicates the prompt or response was blocked by a
// Gemini safety filter; classified as invalid_response, which the
// Backtracker retries at most once.
type SafetyFilterError struct {
	Category string
}

func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.Category
}

// New constructs an Adapter. prices must already be loaded.
func New(apiKey string, prices *pricing.Table) *Adapter {
	return &Adapter{apiKey: apiKey, prices: prices, client: &sdkClient{apiKey: apiKey}}
}

func (a *Adapter) Call(ctx context.Context, req model.Request) (model.Response, error) {
	if err := ctx.Err(); err != nil {
		return model.Response{}, err
	}

	start := time.Now()
	text, tokensIn, tokensOut, err := a.client.generateContent(ctx, req.SystemPrompt, req.UserMessage, req.Model, req.Params)
	latency := time.Since(start)
	if err != nil {
		return model.Response{}, translateError(err)
	}

	price, priceErr := a.prices.Lookup("google", req.Model)
	if priceErr != nil {
		return model.Response{}, &model.Error{Kind: model.KindConfiguration, Message: priceErr.Error(), Cause: priceErr}
	}
	cost := float64(tokensIn)/1000*price.InputPer1K + float64(tokensOut)/1000*price.OutputPer1K

	return model.Response{
		Text:             text,
		TokensPrompt:     tokensIn,
		TokensCompletion: tokensOut,
		ModelUsed:        req.Model,
		LatencyMS:        latency.Milliseconds(),
		Cost:             cost,
	}, nil
}

func translateError(err error) error {
	var safetyErr *SafetyFilterError
	if errors.As(err, &safetyErr) {
		return &model.Error{Kind: model.KindInvalidResponse, Message: safetyErr.Error(), Cause: err}
	}
	return &model.Error{Kind: model.KindTransient, Message: "google call failed", Cause: err}
}

type sdkClient struct {
	apiKey string
}

func (c *sdkClient) generateContent(ctx context.Context, systemPrompt, userMessage, modelName string, params model.Params) (string, int, int, error) {
	if c.apiKey == "" {
		return "", 0, 0, &model.Error{Kind: model.KindConfiguration, Message: "google API key is required"}
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return "", 0, 0, fmt.Errorf("failed to create google client: %w", err)
	}
	defer client.Close()

	genModel := client.GenerativeModel(modelName)
	if systemPrompt != "" {
		genModel.SystemInstruction = genai.NewUserContent(genai.Text(systemPrompt))
	}
	if params.MaxTokens > 0 {
		maxTokens := int32(params.MaxTokens)
		genModel.MaxOutputTokens = &maxTokens
	}
	if params.Temperature > 0 {
		temp := float32(params.Temperature)
		genModel.Temperature = &temp
	}

	resp, err := genModel.GenerateContent(ctx, genai.Text(userMessage))
	if err != nil {
		return "", 0, 0, err
	}
	if len(resp.Candidates) == 0 {
		return "", 0, 0, &SafetyFilterError{Category: "no_candidates"}
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}

	tokensIn, tokensOut := 0, 0
	if resp.UsageMetadata != nil {
		tokensIn = int(resp.UsageMetadata.PromptTokenCount)
		tokensOut = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return text, tokensIn, tokensOut, nil
}
