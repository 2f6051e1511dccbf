package llmgateway

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/relay-labs/llm-gateway/internal/guardrails"
	"github.com/relay-labs/llm-gateway/internal/routing"
	"github.com/relay-labs/llm-gateway/providers"
)

type stubProvider struct {
	name   string
	prefix string
	errs   map[string]error
	calls  []string
}

func (s *stubProvider) Name() string                  { return s.name }
func (s *stubProvider) SupportedModels() []string     { return nil }
func (s *stubProvider) Models() []providers.ModelInfo { return nil }
func (s *stubProvider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, s.prefix)
}
func (s *stubProvider) Complete(_ context.Context, req providers.Request) (*providers.Response, error) {
	s.calls = append(s.calls, req.Model)
	if err, ok := s.errs[req.Model]; ok {
		return nil, err
	}
	return &providers.Response{ID: "resp", Model: req.Model, Choices: []providers.Choice{{
		Message: providers.Message{Role: providers.RoleAssistant, Content: "hi there"},
	}}}, nil
}

func (s *stubProvider) Embed(_ context.Context, req providers.EmbeddingRequest) (*providers.EmbeddingResponse, error) {
	return &providers.EmbeddingResponse{Model: req.Model, Data: []providers.Embedding{{Embedding: []float64{1, 0}}}}, nil
}

func chatRequest(model string, router *routing.Router) providers.Request {
	return providers.Request{
		Model:    model,
		Router:   router,
		Messages: []providers.Message{{Role: providers.RoleUser, Content: "hello"}},
	}
}

func TestGateway_ExecuteDirect(t *testing.T) {
	gw, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}
	stub := &stubProvider{name: "openai", prefix: "gpt-"}
	gw.RegisterProvider(stub)

	result, err := gw.Execute(context.Background(), chatRequest("openai/gpt-4o", nil))
	if err != nil {
		t.Fatal(err)
	}
	if result.Completion == nil || result.Completion.Provider != "openai" {
		t.Errorf("completion = %+v", result.Completion)
	}
	if result.Completion.Object != "chat.completion" {
		t.Errorf("object = %q", result.Completion.Object)
	}
}

func TestGateway_ExecuteFallbackRouter(t *testing.T) {
	gw, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}
	stub := &stubProvider{
		name:   "openai",
		prefix: "gpt-",
		errs:   map[string]error{"gpt-4o-mini": errors.New("down")},
	}
	gw.RegisterProvider(stub)
	gw.WithRand(rand.New(rand.NewSource(1)))

	router := &routing.Router{
		Name: "fb",
		Type: routing.StrategyFallback,
		Targets: []routing.Target{
			{"model": "openai/gpt-4o-mini"},
			{"model": "openai/gpt-4o"},
		},
	}

	result, err := gw.Execute(context.Background(), chatRequest("router/fb", router))
	if err != nil {
		t.Fatal(err)
	}
	if result.ModelName != "openai/gpt-4o" {
		t.Errorf("served by %q", result.ModelName)
	}
	if len(stub.calls) != 2 {
		t.Errorf("calls = %v", stub.calls)
	}
}

func TestGateway_RecorderFeedsOptimized(t *testing.T) {
	gw, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}
	stub := &stubProvider{name: "openai", prefix: "gpt-"}
	gw.RegisterProvider(stub)

	// Prime the recorder with one execution, then verify the snapshot view.
	if _, err := gw.Execute(context.Background(), chatRequest("openai/gpt-4o", nil)); err != nil {
		t.Fatal(err)
	}
	snap, err := gw.Metrics().GetMetrics(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	mm, ok := snap.Model("openai", "gpt-4o")
	if !ok {
		t.Fatal("executed model missing from usage snapshot")
	}
	if mm.Metrics.Total.Requests == nil || *mm.Metrics.Total.Requests != 1 {
		t.Errorf("requests = %v", mm.Metrics.Total.Requests)
	}
}

func TestGateway_GuardsFromConfig(t *testing.T) {
	gw, err := New(Config{Guards: []guardrails.Guard{{
		ID: "g1", Name: "no-ssn", Type: guardrails.TypeRegex,
		Stage: guardrails.StageInput, Action: guardrails.ActionValidate,
		Pattern: `\d{3}-\d{2}-\d{4}`, Negate: true,
	}}})
	if err != nil {
		t.Fatal(err)
	}
	stub := &stubProvider{name: "openai", prefix: "gpt-"}
	gw.RegisterProvider(stub)

	req := chatRequest("openai/gpt-4o", nil)
	req.Messages[0].Content = "ssn 123-45-6789"

	_, err = gw.Execute(context.Background(), req)
	var stopped *guardrails.StoppedError
	if !errors.As(err, &stopped) {
		t.Fatalf("got %v, want StoppedError", err)
	}
	if len(stub.calls) != 0 {
		t.Errorf("provider invoked despite guard: %v", stub.calls)
	}
}

func TestGateway_Embed(t *testing.T) {
	gw, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}
	gw.RegisterProvider(&stubProvider{name: "openai", prefix: "text-embedding-"})

	resp, err := gw.Embed(context.Background(), providers.EmbeddingRequest{
		Model: "openai/text-embedding-3-small",
		Input: "hello",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 1 {
		t.Errorf("embeddings = %+v", resp)
	}
}

func TestGateway_InvalidConfigRejected(t *testing.T) {
	_, err := New(Config{Providers: []ProviderConfig{{Name: "mystery"}}})
	if err == nil {
		t.Fatal("expected invalid config error")
	}
}
