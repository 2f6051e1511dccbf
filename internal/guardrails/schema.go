package guardrails

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/relay-labs/llm-gateway/providers"
)

// SchemaEvaluator validates the staged text, parsed as JSON, against the
// guard's JSON Schema. Compiled schemas are cached per guard.
type SchemaEvaluator struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

// NewSchemaEvaluator creates a schema evaluator with an empty compile cache.
func NewSchemaEvaluator() *SchemaEvaluator {
	return &SchemaEvaluator{compiled: make(map[string]*jsonschema.Schema)}
}

func (e *SchemaEvaluator) schemaFor(guard *Guard) (*jsonschema.Schema, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.compiled[guard.ID+"/"+guard.Name]; ok {
		return s, nil
	}
	raw, err := json.Marshal(guard.Schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	s, err := jsonschema.CompileString(guard.Name+".json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	e.compiled[guard.ID+"/"+guard.Name] = s
	return s, nil
}

// Evaluate implements Evaluator.
func (e *SchemaEvaluator) Evaluate(_ context.Context, req *providers.Request, guard *Guard) (Result, error) {
	schema, err := e.schemaFor(guard)
	if err != nil {
		return Result{}, err
	}

	text, ok := guard.StageText(req)
	if !ok {
		return Result{}, fmt.Errorf("no %s message to evaluate", guard.Stage)
	}

	var doc interface{}
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		// Not JSON at all: cannot satisfy a schema.
		return Result{Kind: ResultJSON, Passed: false, Schema: guard.Schema}, nil
	}

	passed := schema.Validate(doc) == nil
	return Result{Kind: ResultJSON, Passed: passed, Schema: guard.Schema}, nil
}
