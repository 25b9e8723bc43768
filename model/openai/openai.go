// Package openai implements model.Adapter for OpenAI's chat completion
// API, adapted from the teacher's graph/model/openai/openai.go. Unlike
// the teacher, this adapter makes exactly one attempt per Call: spec.md
// §4.3 designates the Backtracker as the sole retry authority, so
// stacking a second retry loop inside the adapter would double-apply
// backoff and desynchronize the emitted agent_retrying events.
package openai

import (
	"context"
	"errors"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/flowforge/orchestra/model"
	"github.com/flowforge/orchestra/pricing"
)

// Adapter implements model.Adapter for OpenAI chat models.
type Adapter struct {
	apiKey string
	prices *pricing.Table
	client openaiClient
}

type openaiClient interface {
	createChatCompletion(ctx context.Context, systemPrompt, userMessage, model string, params model.Params) (text string, tokensIn, tokensOut int, err error)
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
	text, tokensIn, tokensOut, err := a.client.createChatCompletion(ctx, req.SystemPrompt, req.UserMessage, req.Model, req.Params)
	latency := time.Since(start)
	if err != nil {
		return model.Response{}, translateError(err)
	}

	price, priceErr := a.prices.Lookup("openai", req.Model)
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
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return &model.Error{Kind: model.KindConfiguration, Message: "openai authentication failed", Cause: err}
		case 429:
			return &model.Error{Kind: model.KindRateLimited, Message: "openai rate limited", Cause: err}
		case 500, 502, 503, 504:
			return &model.Error{Kind: model.KindTransient, Message: "openai server error", Cause: err}
		}
	}
	if isTransientMessage(err) {
		return &model.Error{Kind: model.KindTransient, Message: "openai call failed", Cause: err}
	}
	return &model.Error{Kind: model.KindInvalidResponse, Message: "openai call failed", Cause: err}
}

func isTransientMessage(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "network", "connection", "temporary", "503", "502", "500"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

type sdkClient struct {
	apiKey string
}

func (c *sdkClient) createChatCompletion(ctx context.Context, systemPrompt, userMessage, modelName string, params model.Params) (string, int, int, error) {
	if c.apiKey == "" {
		return "", 0, 0, &model.Error{Kind: model.KindConfiguration, Message: "openai API key is required"}
	}

	client := openaisdk.NewClient(option.WithAPIKey(c.apiKey))

	messages := []openaisdk.ChatCompletionMessageParamUnion{}
	if systemPrompt != "" {
		messages = append(messages, openaisdk.SystemMessage(systemPrompt))
	}
	messages = append(messages, openaisdk.UserMessage(userMessage))

	chatParams := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(modelName),
		Messages: messages,
	}
	if params.MaxTokens > 0 {
		chatParams.MaxTokens = openaisdk.Int(int64(params.MaxTokens))
	}
	if params.Temperature > 0 {
		chatParams.Temperature = openaisdk.Float(params.Temperature)
	}

	resp, err := client.Chat.Completions.New(ctx, chatParams)
	if err != nil {
		return "", 0, 0, err
	}

	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}

	return text, int(resp.Usage.PromptTokens), int(resp.Usage.CompletionTokens), nil
}
