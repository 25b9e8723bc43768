package openai

import (
	"context"
	"errors"
	"testing"

	openaisdk "github.com/openai/openai-go"

	"github.com/flowforge/orchestra/model"
	"github.com/flowforge/orchestra/pricing"
)

type fakeOpenAIClient struct {
	text      string
	tokensIn  int
	tokensOut int
	err       error
}

func (f *fakeOpenAIClient) createChatCompletion(ctx context.Context, systemPrompt, userMessage, modelName string, params model.Params) (string, int, int, error) {
	return f.text, f.tokensIn, f.tokensOut, f.err
}

func TestCallComputesCostFromPricingTable(t *testing.T) {
	a := &Adapter{prices: pricing.Default(), client: &fakeOpenAIClient{text: "hi", tokensIn: 1000, tokensOut: 1000}}

	resp, err := a.Call(context.Background(), model.Request{Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	wantCost := 0.00015 + 0.0006
	if resp.Cost < wantCost-1e-9 || resp.Cost > wantCost+1e-9 {
		t.Errorf("expected cost %f, got %f", wantCost, resp.Cost)
	}
}

func TestCallUnknownModelIsConfigurationError(t *testing.T) {
	a := &Adapter{prices: pricing.Default(), client: &fakeOpenAIClient{text: "hi"}}

	_, err := a.Call(context.Background(), model.Request{Model: "gpt-99"})
	var modelErr *model.Error
	if !errors.As(err, &modelErr) || modelErr.Kind != model.KindConfiguration {
		t.Fatalf("expected a configuration error, got %v", err)
	}
}

func TestCallRespectsContextCancellation(t *testing.T) {
	a := &Adapter{prices: pricing.Default(), client: &fakeOpenAIClient{text: "hi"}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Call(ctx, model.Request{Model: "gpt-4o-mini"})
	if err == nil {
		t.Error("expected an error from an already-cancelled context")
	}
}

func TestTranslateErrorMapsStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		want   model.Kind
	}{
		{401, model.KindConfiguration},
		{429, model.KindRateLimited},
		{502, model.KindTransient},
	}
	for _, tc := range cases {
		apiErr := &openaisdk.Error{StatusCode: tc.status}
		got := translateError(apiErr)
		var modelErr *model.Error
		if !errors.As(got, &modelErr) || modelErr.Kind != tc.want {
			t.Errorf("status %d: expected kind %s, got %v", tc.status, tc.want, got)
		}
	}
}

func TestTranslateErrorClassifiesByMessage(t *testing.T) {
	transient := translateError(errors.New("request timeout contacting upstream"))
	var transientErr *model.Error
	if !errors.As(transient, &transientErr) || transientErr.Kind != model.KindTransient {
		t.Errorf("expected a timeout message to translate to transient, got %v", transient)
	}

	invalid := translateError(errors.New("unexpected schema in response body"))
	var invalidErr *model.Error
	if !errors.As(invalid, &invalidErr) || invalidErr.Kind != model.KindInvalidResponse {
		t.Errorf("expected a non-transient message to translate to invalid_response, got %v", invalid)
	}
}
