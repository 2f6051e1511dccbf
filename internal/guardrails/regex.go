package guardrails

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/relay-labs/llm-gateway/providers"
)

// RegexEvaluator matches a compiled pattern against the staged text.
// passed = match XOR negate: a plain guard passes when the pattern matches;
// a negated guard passes when it does not (the usual blocklist form).
type RegexEvaluator struct {
	mu       sync.Mutex
	compiled map[string]*regexp.Regexp
}

// NewRegexEvaluator creates a regex evaluator with an empty compile cache.
func NewRegexEvaluator() *RegexEvaluator {
	return &RegexEvaluator{compiled: make(map[string]*regexp.Regexp)}
}

func (e *RegexEvaluator) patternFor(guard *Guard) (*regexp.Regexp, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if re, ok := e.compiled[guard.Pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(guard.Pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern: %w", err)
	}
	e.compiled[guard.Pattern] = re
	return re, nil
}

// Evaluate implements Evaluator.
func (e *RegexEvaluator) Evaluate(_ context.Context, req *providers.Request, guard *Guard) (Result, error) {
	re, err := e.patternFor(guard)
	if err != nil {
		return Result{}, err
	}

	text, ok := guard.StageText(req)
	if !ok {
		return Result{}, fmt.Errorf("no %s message to evaluate", guard.Stage)
	}

	matched := re.MatchString(text)
	return BoolResult(matched != guard.Negate, nil), nil
}
