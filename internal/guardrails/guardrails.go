// Package guardrails implements the staged guard evaluation pipeline that
// screens requests before model invocation and responses after it.
//
// A Guard binds an evaluator kind (schema, regex, dataset, llm_judge) to a
// stage (input, output) and an action policy: observe guards record their
// result and never block; validate guards terminate the request when the
// evaluation does not pass.
package guardrails

import (
	"errors"
	"fmt"

	"github.com/relay-labs/llm-gateway/providers"
)

// Stage says when a guard is applied.
type Stage string

// Guard stages.
const (
	// StageInput guards run on the last user message before the LLM call.
	StageInput Stage = "input"
	// StageOutput guards run on the assistant response before it is returned.
	StageOutput Stage = "output"
)

// Action says what a guard does with its result.
type Action string

// Guard actions.
const (
	// ActionObserve records the result without ever blocking.
	ActionObserve Action = "observe"
	// ActionValidate blocks the request when the evaluation fails.
	ActionValidate Action = "validate"
)

// GuardType selects the evaluator implementation.
type GuardType string

// Evaluator kinds.
const (
	TypeSchema   GuardType = "schema"
	TypeRegex    GuardType = "regex"
	TypeDataset  GuardType = "dataset"
	TypeLlmJudge GuardType = "llm_judge"
)

// Example is one labelled entry of a dataset guard. Label true marks
// acceptable text; false marks text the guard should flag. The embedding is
// optional and computed (and cached) on first use when absent.
type Example struct {
	Text      string    `json:"text"`
	Label     bool      `json:"label"`
	Embedding []float64 `json:"embedding,omitempty"`
}

// Guard is a configured guard instance. Exactly one variant field group is
// meaningful, selected by Type.
type Guard struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Type        GuardType `json:"type" yaml:"type"`
	Stage       Stage     `json:"stage" yaml:"stage"`
	Action      Action    `json:"action" yaml:"action"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`

	// Schema variant: a JSON Schema the staged text must satisfy.
	Schema map[string]interface{} `json:"schema,omitempty" yaml:"schema,omitempty"`

	// Regex variant.
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Negate  bool   `json:"negate,omitempty" yaml:"negate,omitempty"`

	// LlmJudge variant.
	Model              string                 `json:"model,omitempty" yaml:"model,omitempty"`
	SystemPrompt       string                 `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	UserPromptTemplate string                 `json:"user_prompt_template,omitempty" yaml:"user_prompt_template,omitempty"`
	Parameters         map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// Dataset variant.
	EmbeddingModel string    `json:"embedding_model,omitempty" yaml:"embedding_model,omitempty"`
	Threshold      float64   `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Examples       []Example `json:"examples,omitempty" yaml:"examples,omitempty"`
	Dataset        string    `json:"dataset,omitempty" yaml:"dataset,omitempty"`
}

// Validate checks structural requirements of the guard definition.
func (g *Guard) Validate() error {
	if g.Name == "" {
		return errors.New("guard name is required")
	}
	switch g.Stage {
	case StageInput, StageOutput:
	default:
		return fmt.Errorf("guard %s: unknown stage %q", g.Name, g.Stage)
	}
	switch g.Action {
	case ActionObserve, ActionValidate:
	default:
		return fmt.Errorf("guard %s: unknown action %q", g.Name, g.Action)
	}
	switch g.Type {
	case TypeSchema:
		if g.Schema == nil {
			return fmt.Errorf("guard %s: schema is required", g.Name)
		}
	case TypeRegex:
		if g.Pattern == "" {
			return fmt.Errorf("guard %s: pattern is required", g.Name)
		}
	case TypeLlmJudge:
		if g.Model == "" {
			return fmt.Errorf("guard %s: judge model is required", g.Name)
		}
	case TypeDataset:
		if g.EmbeddingModel == "" {
			return fmt.Errorf("guard %s: embedding model is required", g.Name)
		}
		if len(g.Examples) == 0 && g.Dataset == "" {
			return fmt.Errorf("guard %s: examples or dataset source is required", g.Name)
		}
	default:
		return fmt.Errorf("guard %s: unknown type %q", g.Name, g.Type)
	}
	return nil
}

// StageText picks the text a guard evaluates: the last user message for
// input guards, the last assistant message for output guards (the service
// appends the model response to the request clone before output evaluation).
func (g *Guard) StageText(req *providers.Request) (string, bool) {
	switch g.Stage {
	case StageOutput:
		for i := len(req.Messages) - 1; i >= 0; i-- {
			if req.Messages[i].Role == providers.RoleAssistant {
				return req.Messages[i].Content, true
			}
		}
		return "", false
	default:
		return req.LastUserMessage()
	}
}

// ResultKind discriminates evaluation results.
type ResultKind string

// Result kinds.
const (
	ResultBoolean ResultKind = "boolean"
	ResultText    ResultKind = "text"
	ResultJSON    ResultKind = "json"
)

// Result is the outcome of one guard evaluation.
type Result struct {
	Kind       ResultKind  `json:"type"`
	Passed     bool        `json:"passed"`
	Confidence *float64    `json:"confidence,omitempty"`
	Text       string      `json:"text,omitempty"`
	Schema     interface{} `json:"schema,omitempty"`
}

// BoolResult builds a boolean result; confidence may be nil.
func BoolResult(passed bool, confidence *float64) Result {
	return Result{Kind: ResultBoolean, Passed: passed, Confidence: confidence}
}

// TextResult builds a text result for observation.
func TextResult(text string, passed bool, confidence *float64) Result {
	return Result{Kind: ResultText, Passed: passed, Text: text, Confidence: confidence}
}

// ErrOutputGuardrailsStreaming rejects the combination of output-stage
// guards with a streaming response: there is no buffered assistant message
// to evaluate before frames reach the client.
var ErrOutputGuardrailsStreaming = errors.New("output guardrails not supported in streaming")

// StoppedError is the terminal failure of a validate guard.
type StoppedError struct {
	Guard string
}

func (e *StoppedError) Error() string {
	return fmt.Sprintf("request stopped after guard evaluation: %s", e.Guard)
}

// EvaluationError reports an evaluator that could not produce a result.
type EvaluationError struct {
	Guard  string
	Reason string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("guard evaluation error: %s: %s", e.Guard, e.Reason)
}
