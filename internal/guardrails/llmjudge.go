package guardrails

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relay-labs/llm-gateway/providers"
)

// LlmJudgeEvaluator asks another model to judge the staged text. The judge's
// answer is parsed as JSON and interpreted through well-known fields; a
// non-JSON answer is recorded as passing observation text.
type LlmJudgeEvaluator struct {
	source providers.ProviderSource
}

// NewLlmJudgeEvaluator creates a judge evaluator resolving judge models
// through the provider source.
func NewLlmJudgeEvaluator(source providers.ProviderSource) *LlmJudgeEvaluator {
	return &LlmJudgeEvaluator{source: source}
}

// Evaluate implements Evaluator.
func (e *LlmJudgeEvaluator) Evaluate(ctx context.Context, req *providers.Request, guard *Guard) (Result, error) {
	providerName, bare := providers.SplitModel(guard.Model)
	var p providers.Provider
	if providerName != "" {
		p, _ = e.source.Get(providerName)
	} else {
		p, _ = e.source.FindByModel(bare)
	}
	if p == nil {
		return Result{}, fmt.Errorf("no provider for judge model %s", guard.Model)
	}

	text, _ := guard.StageText(req)

	var messages []providers.Message
	if guard.SystemPrompt != "" {
		messages = append(messages, providers.Message{Role: providers.RoleSystem, Content: guard.SystemPrompt})
	}
	if guard.UserPromptTemplate != "" {
		messages = append(messages, providers.Message{
			Role:    providers.RoleUser,
			Content: strings.ReplaceAll(guard.UserPromptTemplate, "{{input}}", text),
		})
	}
	// The last conversation message rides along so templates that only frame
	// the question still judge the actual content.
	if n := len(req.Messages); n > 0 {
		messages = append(messages, req.Messages[n-1])
	}

	resp, err := p.Complete(ctx, providers.Request{Model: bare, Messages: messages})
	if err != nil {
		return Result{}, fmt.Errorf("LLM evaluation failed: %w", err)
	}

	content := resp.AssistantContent()
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		// Not JSON: record the raw answer without blocking.
		return TextResult(content, true, nil), nil
	}
	return interpretJudgeResponse(parsed, guard.Parameters), nil
}

// interpretJudgeResponse maps a judge's JSON answer to a guard result.
// Priority order: an explicit "passed" field wins; otherwise guard-specific
// fields selected by the configured parameters (toxicity, competitor, PII)
// are read with negated polarity; anything else is returned as passing text.
func interpretJudgeResponse(answer map[string]interface{}, params map[string]interface{}) Result {
	if passed, ok := boolField(answer, "passed"); ok {
		confidence := floatField(answer, "confidence")
		if details, ok := answer["details"].(string); ok && details != "" {
			return TextResult(details, passed, confidence)
		}
		return BoolResult(passed, confidence)
	}

	if _, ok := params["threshold"]; ok {
		if toxic, ok := boolField(answer, "toxic"); ok {
			return BoolResult(!toxic, heuristicConfidence(toxic))
		}
	}

	if _, ok := params["competitors"]; ok {
		if mentions, ok := boolField(answer, "mentions_competitor"); ok {
			confidence := heuristicConfidence(mentions)
			if mentions {
				if found := stringList(answer, "competitors_found"); len(found) > 0 {
					return TextResult("Found competitor mentions: "+strings.Join(found, ", "), false, confidence)
				}
			}
			return BoolResult(!mentions, confidence)
		}
	}

	if _, ok := params["pii_types"]; ok {
		if containsPII, ok := boolField(answer, "contains_pii"); ok {
			confidence := heuristicConfidence(containsPII)
			if containsPII {
				if types := stringList(answer, "pii_types"); len(types) > 0 {
					return TextResult("Found PII: "+strings.Join(types, ", "), false, confidence)
				}
			}
			return BoolResult(!containsPII, confidence)
		}
	}

	raw, _ := json.Marshal(answer)
	return TextResult(string(raw), true, nil)
}

func heuristicConfidence(flagged bool) *float64 {
	c := 0.1
	if flagged {
		c = 0.9
	}
	return &c
}

func boolField(m map[string]interface{}, key string) (bool, bool) {
	v, ok := m[key].(bool)
	return v, ok
}

func floatField(m map[string]interface{}, key string) *float64 {
	if v, ok := m[key].(float64); ok {
		return &v
	}
	return nil
}

func stringList(m map[string]interface{}, key string) []string {
	arr, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
