package guardrails

import (
	"context"

	"github.com/relay-labs/llm-gateway/internal/cache"
	"github.com/relay-labs/llm-gateway/internal/logging"
	"github.com/relay-labs/llm-gateway/internal/metrics"
	"github.com/relay-labs/llm-gateway/providers"
)

// Evaluator produces a Result for one guard against one request.
type Evaluator interface {
	Evaluate(ctx context.Context, req *providers.Request, guard *Guard) (Result, error)
}

// Evaluation pairs a guard with its recorded result.
type Evaluation struct {
	Guard  string `json:"guard"`
	Stage  Stage  `json:"stage"`
	Result Result `json:"result"`
}

// Service runs the configured guards for a stage, enforcing the action
// policy: an observe guard only records; a validate guard that does not pass
// terminates the request with a StoppedError.
type Service struct {
	guards     []Guard
	evaluators map[GuardType]Evaluator
}

// NewService builds a service with the default evaluator set. The provider
// source backs the llm_judge and dataset evaluators; the embedding cache is
// shared across dataset guards.
func NewService(guards []Guard, source providers.ProviderSource, embeddings *cache.Memory) *Service {
	return &Service{
		guards: guards,
		evaluators: map[GuardType]Evaluator{
			TypeSchema:   NewSchemaEvaluator(),
			TypeRegex:    NewRegexEvaluator(),
			TypeDataset:  NewDatasetEvaluator(source, embeddings),
			TypeLlmJudge: NewLlmJudgeEvaluator(source),
		},
	}
}

// WithEvaluator overrides the evaluator for a guard type. Used by tests and
// by callers that plug custom evaluator implementations.
func (s *Service) WithEvaluator(t GuardType, e Evaluator) *Service {
	s.evaluators[t] = e
	return s
}

// HasStage reports whether any guard is configured at the given stage.
func (s *Service) HasStage(stage Stage) bool {
	for i := range s.guards {
		if s.guards[i].Stage == stage {
			return true
		}
	}
	return false
}

// EvaluateInput runs the input-stage guards against the request.
func (s *Service) EvaluateInput(ctx context.Context, req *providers.Request) ([]Evaluation, error) {
	return s.evaluate(ctx, req, StageInput)
}

// EvaluateOutput runs the output-stage guards against the assistant
// response. The response text is appended to a clone of the request so
// evaluators see it as the last assistant message.
func (s *Service) EvaluateOutput(ctx context.Context, req *providers.Request, resp *providers.Response) ([]Evaluation, error) {
	if !s.HasStage(StageOutput) {
		return nil, nil
	}
	clone, err := req.Clone()
	if err != nil {
		return nil, err
	}
	clone.Messages = append(clone.Messages, providers.Message{
		Role:    providers.RoleAssistant,
		Content: resp.AssistantContent(),
	})
	return s.evaluate(ctx, &clone, StageOutput)
}

func (s *Service) evaluate(ctx context.Context, req *providers.Request, stage Stage) ([]Evaluation, error) {
	log := logging.FromContext(ctx)

	var evaluations []Evaluation
	for i := range s.guards {
		guard := &s.guards[i]
		if guard.Stage != stage {
			continue
		}
		evaluator, ok := s.evaluators[guard.Type]
		if !ok {
			return evaluations, &EvaluationError{Guard: guard.Name, Reason: "no evaluator for type " + string(guard.Type)}
		}

		result, err := evaluator.Evaluate(ctx, req, guard)
		if err != nil {
			metrics.GuardEvaluations.WithLabelValues(guard.Name, string(stage), "error").Inc()
			if guard.Action == ActionValidate {
				return evaluations, &EvaluationError{Guard: guard.Name, Reason: err.Error()}
			}
			log.Warn("guard evaluation failed", "guard", guard.Name, "stage", stage, "error", err.Error())
			continue
		}

		evaluations = append(evaluations, Evaluation{Guard: guard.Name, Stage: stage, Result: result})
		outcome := "passed"
		if !result.Passed {
			outcome = "failed"
		}
		metrics.GuardEvaluations.WithLabelValues(guard.Name, string(stage), outcome).Inc()
		log.Debug("guard evaluated", "guard", guard.Name, "stage", stage, "passed", result.Passed)

		if !result.Passed && guard.Action == ActionValidate {
			return evaluations, &StoppedError{Guard: guard.Name}
		}
	}
	return evaluations, nil
}
