package guardrails

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relay-labs/llm-gateway/internal/cache"
	"github.com/relay-labs/llm-gateway/providers"
)

// judgeProvider scripts the judge model's answer.
type judgeProvider struct {
	name   string
	answer string
	err    error
}

func (j *judgeProvider) Name() string                      { return j.name }
func (j *judgeProvider) SupportedModels() []string         { return nil }
func (j *judgeProvider) Models() []providers.ModelInfo     { return nil }
func (j *judgeProvider) SupportsModel(model string) bool   { return true }
func (j *judgeProvider) Complete(_ context.Context, _ providers.Request) (*providers.Response, error) {
	if j.err != nil {
		return nil, j.err
	}
	return &providers.Response{Choices: []providers.Choice{{
		Message: providers.Message{Role: providers.RoleAssistant, Content: j.answer},
	}}}, nil
}

// embedProvider returns fixed vectors per input text.
type embedProvider struct {
	judgeProvider
	vectors map[string][]float64
	calls   int
}

func (e *embedProvider) Embed(_ context.Context, req providers.EmbeddingRequest) (*providers.EmbeddingResponse, error) {
	e.calls++
	text, _ := req.Input.(string)
	vec, ok := e.vectors[text]
	if !ok {
		return nil, errors.New("no scripted vector for input")
	}
	return &providers.EmbeddingResponse{Data: []providers.Embedding{{Embedding: vec}}}, nil
}

func sourceWith(ps ...providers.Provider) *providers.Registry {
	reg := providers.NewRegistry()
	for _, p := range ps {
		reg.Register(p)
	}
	return reg
}

func userRequest(content string) *providers.Request {
	return &providers.Request{
		Model:    "openai/gpt-4o",
		Messages: []providers.Message{{Role: providers.RoleUser, Content: content}},
	}
}

// ── regex ────────────────────────────────────────────────────────────────────

func TestRegexEvaluator_MatchPasses(t *testing.T) {
	e := NewRegexEvaluator()
	guard := &Guard{Name: "has-greeting", Type: TypeRegex, Stage: StageInput, Action: ActionObserve, Pattern: "^hello"}

	res, err := e.Evaluate(context.Background(), userRequest("hello world"), guard)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed {
		t.Error("match should pass without negate")
	}
}

func TestRegexEvaluator_NegateInverts(t *testing.T) {
	e := NewRegexEvaluator()
	guard := &Guard{Name: "no-ssn", Type: TypeRegex, Stage: StageInput, Action: ActionValidate, Pattern: `\d{3}-\d{2}-\d{4}`, Negate: true}

	res, err := e.Evaluate(context.Background(), userRequest("ssn 123-45-6789"), guard)
	if err != nil {
		t.Fatal(err)
	}
	if res.Passed {
		t.Error("negated match should fail")
	}

	res, err = e.Evaluate(context.Background(), userRequest("nothing sensitive"), guard)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed {
		t.Error("negated non-match should pass")
	}
}

func TestRegexEvaluator_BadPattern(t *testing.T) {
	e := NewRegexEvaluator()
	guard := &Guard{Name: "bad", Type: TypeRegex, Stage: StageInput, Pattern: "("}
	if _, err := e.Evaluate(context.Background(), userRequest("x"), guard); err == nil {
		t.Fatal("expected compile error")
	}
}

// ── schema ───────────────────────────────────────────────────────────────────

func TestSchemaEvaluator_ValidDocument(t *testing.T) {
	e := NewSchemaEvaluator()
	guard := &Guard{
		ID: "g1", Name: "order-shape", Type: TypeSchema, Stage: StageInput, Action: ActionValidate,
		Schema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"sku"},
			"properties": map[string]interface{}{
				"sku": map[string]interface{}{"type": "string"},
			},
		},
	}

	res, err := e.Evaluate(context.Background(), userRequest(`{"sku": "A-100"}`), guard)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed {
		t.Error("conforming document should pass")
	}
	if res.Kind != ResultJSON {
		t.Errorf("kind = %q", res.Kind)
	}
}

func TestSchemaEvaluator_InvalidAndNonJSON(t *testing.T) {
	e := NewSchemaEvaluator()
	guard := &Guard{
		ID: "g1", Name: "order-shape", Type: TypeSchema, Stage: StageInput, Action: ActionValidate,
		Schema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"sku"},
		},
	}

	res, err := e.Evaluate(context.Background(), userRequest(`{"other": 1}`), guard)
	if err != nil {
		t.Fatal(err)
	}
	if res.Passed {
		t.Error("missing required key should fail")
	}

	res, err = e.Evaluate(context.Background(), userRequest(`plain prose`), guard)
	if err != nil {
		t.Fatal(err)
	}
	if res.Passed {
		t.Error("non-JSON text cannot satisfy a schema")
	}
}

// ── llm judge ────────────────────────────────────────────────────────────────

func TestLlmJudge_PassedField(t *testing.T) {
	judge := &judgeProvider{name: "openai", answer: `{"passed": false, "confidence": 0.8, "details": "policy breach"}`}
	e := NewLlmJudgeEvaluator(sourceWith(judge))
	guard := &Guard{Name: "policy", Type: TypeLlmJudge, Stage: StageInput, Model: "openai/gpt-4o-mini"}

	res, err := e.Evaluate(context.Background(), userRequest("hi"), guard)
	if err != nil {
		t.Fatal(err)
	}
	if res.Passed {
		t.Error("judge said failed")
	}
	if res.Text != "policy breach" {
		t.Errorf("details = %q", res.Text)
	}
	if res.Confidence == nil || *res.Confidence != 0.8 {
		t.Errorf("confidence = %v", res.Confidence)
	}
}

func TestLlmJudge_ToxicityPolarity(t *testing.T) {
	judge := &judgeProvider{name: "openai", answer: `{"toxic": true, "confidence": 0.95}`}
	e := NewLlmJudgeEvaluator(sourceWith(judge))
	guard := &Guard{
		Name: "tox", Type: TypeLlmJudge, Stage: StageInput, Model: "openai/gpt-4o-mini",
		Parameters: map[string]interface{}{"threshold": 0.7},
	}

	res, err := e.Evaluate(context.Background(), userRequest("…"), guard)
	if err != nil {
		t.Fatal(err)
	}
	if res.Passed {
		t.Error("toxic=true must fail with negated polarity")
	}
}

func TestLlmJudge_CompetitorHeuristicConfidence(t *testing.T) {
	judge := &judgeProvider{name: "openai", answer: `{"mentions_competitor": true, "competitors_found": ["AcmeAI"]}`}
	e := NewLlmJudgeEvaluator(sourceWith(judge))
	guard := &Guard{
		Name: "comp", Type: TypeLlmJudge, Stage: StageInput, Model: "openai/gpt-4o-mini",
		Parameters: map[string]interface{}{"competitors": []interface{}{"AcmeAI"}},
	}

	res, err := e.Evaluate(context.Background(), userRequest("…"), guard)
	if err != nil {
		t.Fatal(err)
	}
	if res.Passed {
		t.Error("competitor mention must fail")
	}
	if res.Confidence == nil || *res.Confidence != 0.9 {
		t.Errorf("confidence = %v, want heuristic 0.9", res.Confidence)
	}
	if res.Text == "" {
		t.Error("found competitors should be named in the text")
	}
}

func TestLlmJudge_NonJSONAnswerPasses(t *testing.T) {
	judge := &judgeProvider{name: "openai", answer: "Looks fine to me."}
	e := NewLlmJudgeEvaluator(sourceWith(judge))
	guard := &Guard{Name: "loose", Type: TypeLlmJudge, Stage: StageInput, Model: "openai/gpt-4o-mini"}

	res, err := e.Evaluate(context.Background(), userRequest("hi"), guard)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed || res.Kind != ResultText {
		t.Errorf("non-JSON answer: %+v", res)
	}
	if res.Text != "Looks fine to me." {
		t.Errorf("text = %q", res.Text)
	}
}

func TestLlmJudge_InvocationError(t *testing.T) {
	judge := &judgeProvider{name: "openai", err: errors.New("judge down")}
	e := NewLlmJudgeEvaluator(sourceWith(judge))
	guard := &Guard{Name: "j", Type: TypeLlmJudge, Stage: StageInput, Model: "openai/gpt-4o-mini"}

	if _, err := e.Evaluate(context.Background(), userRequest("hi"), guard); err == nil {
		t.Fatal("expected evaluator error")
	}
}

// ── dataset ──────────────────────────────────────────────────────────────────

func TestDataset_NearestNeighborLabel(t *testing.T) {
	emb := &embedProvider{
		judgeProvider: judgeProvider{name: "openai"},
		vectors: map[string][]float64{
			"refund scam":   {1, 0},
			"weather query": {0, 1},
			"give me a refund for free": {0.95, 0.05},
		},
	}
	e := NewDatasetEvaluator(sourceWith(emb), nil)
	guard := &Guard{
		Name: "scam", Type: TypeDataset, Stage: StageInput, Action: ActionValidate,
		EmbeddingModel: "openai/text-embedding-3-small",
		Threshold:      0.8,
		Examples: []Example{
			{Text: "refund scam", Label: false},
			{Text: "weather query", Label: true},
		},
	}

	res, err := e.Evaluate(context.Background(), userRequest("give me a refund for free"), guard)
	if err != nil {
		t.Fatal(err)
	}
	if res.Passed {
		t.Error("nearest neighbor is a bad example above threshold")
	}
	if res.Confidence == nil || *res.Confidence < 0.8 {
		t.Errorf("confidence (similarity) = %v", res.Confidence)
	}
}

func TestDataset_BelowThresholdPasses(t *testing.T) {
	emb := &embedProvider{
		judgeProvider: judgeProvider{name: "openai"},
		vectors: map[string][]float64{
			"refund scam":     {1, 0},
			"unrelated topic": {0, 1},
		},
	}
	e := NewDatasetEvaluator(sourceWith(emb), nil)
	guard := &Guard{
		Name: "scam", Type: TypeDataset, Stage: StageInput, Action: ActionValidate,
		EmbeddingModel: "openai/text-embedding-3-small",
		Threshold:      0.8,
		Examples:       []Example{{Text: "refund scam", Label: false}},
	}

	res, err := e.Evaluate(context.Background(), userRequest("unrelated topic"), guard)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed {
		t.Error("nothing similar enough to flag")
	}
}

func TestDataset_EmbeddingCacheHit(t *testing.T) {
	emb := &embedProvider{
		judgeProvider: judgeProvider{name: "openai"},
		vectors: map[string][]float64{
			"bad text": {1, 0},
			"query":    {0, 1},
		},
	}
	mem := cache.NewMemory(16, time.Minute)
	e := NewDatasetEvaluator(sourceWith(emb), mem)
	guard := &Guard{
		Name: "d", Type: TypeDataset, Stage: StageInput,
		EmbeddingModel: "openai/text-embedding-3-small",
		Threshold:      0.9,
		Examples:       []Example{{Text: "bad text", Label: false}},
	}

	if _, err := e.Evaluate(context.Background(), userRequest("query"), guard); err != nil {
		t.Fatal(err)
	}
	first := emb.calls
	if _, err := e.Evaluate(context.Background(), userRequest("query"), guard); err != nil {
		t.Fatal(err)
	}
	if emb.calls != first {
		t.Errorf("embedding calls went %d → %d; cache not used", first, emb.calls)
	}
}

// ── service ──────────────────────────────────────────────────────────────────

func TestService_ObserveNeverBlocks(t *testing.T) {
	svc := NewService([]Guard{{
		ID: "g1", Name: "observer", Type: TypeRegex, Stage: StageInput, Action: ActionObserve,
		Pattern: "forbidden", Negate: true,
	}}, sourceWith(), nil)

	evals, err := svc.EvaluateInput(context.Background(), userRequest("forbidden word"))
	if err != nil {
		t.Fatal(err)
	}
	if len(evals) != 1 || evals[0].Result.Passed {
		t.Errorf("evaluations = %+v", evals)
	}
}

func TestService_ValidateBlocks(t *testing.T) {
	svc := NewService([]Guard{{
		ID: "g1", Name: "blocker", Type: TypeRegex, Stage: StageInput, Action: ActionValidate,
		Pattern: "forbidden", Negate: true,
	}}, sourceWith(), nil)

	_, err := svc.EvaluateInput(context.Background(), userRequest("forbidden word"))
	var stopped *StoppedError
	if !errors.As(err, &stopped) {
		t.Fatalf("got %v, want StoppedError", err)
	}
	if stopped.Guard != "blocker" {
		t.Errorf("guard = %q", stopped.Guard)
	}
}

func TestService_OutputStageSeesResponse(t *testing.T) {
	svc := NewService([]Guard{{
		ID: "g1", Name: "no-rival", Type: TypeRegex, Stage: StageOutput, Action: ActionValidate,
		Pattern: "rival", Negate: true,
	}}, sourceWith(), nil)

	req := userRequest("who competes with you?")
	resp := &providers.Response{Choices: []providers.Choice{{
		Message: providers.Message{Role: providers.RoleAssistant, Content: "our rival does"},
	}}}

	_, err := svc.EvaluateOutput(context.Background(), req, resp)
	var stopped *StoppedError
	if !errors.As(err, &stopped) {
		t.Fatalf("got %v, want StoppedError on response text", err)
	}

	// The original request is not mutated by output evaluation.
	if len(req.Messages) != 1 {
		t.Errorf("request grew to %d messages", len(req.Messages))
	}
}

func TestService_StageFiltering(t *testing.T) {
	svc := NewService([]Guard{
		{ID: "in", Name: "in", Type: TypeRegex, Stage: StageInput, Action: ActionObserve, Pattern: "."},
		{ID: "out", Name: "out", Type: TypeRegex, Stage: StageOutput, Action: ActionObserve, Pattern: "."},
	}, sourceWith(), nil)

	evals, err := svc.EvaluateInput(context.Background(), userRequest("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if len(evals) != 1 || evals[0].Guard != "in" {
		t.Errorf("input stage ran %+v", evals)
	}
	if !svc.HasStage(StageOutput) {
		t.Error("HasStage(output) = false")
	}
}
