package executor

import (
	"errors"
	"testing"

	"github.com/relay-labs/llm-gateway/internal/routing"
	"github.com/relay-labs/llm-gateway/providers"
)

func baseRequest() providers.Request {
	temp := 0.7
	return providers.Request{
		Model:       "openai/gpt-4o",
		Messages:    []providers.Message{{Role: providers.RoleUser, Content: "hi"}},
		Temperature: &temp,
	}
}

func TestMerge_OverrideReplacesKeys(t *testing.T) {
	req := baseRequest()
	merged, err := MergeRequestWithTarget(&req, routing.Target{
		"model":       "anthropic/claude-3-haiku-20240307",
		"temperature": 0.1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if merged.Model != "anthropic/claude-3-haiku-20240307" {
		t.Errorf("model = %q", merged.Model)
	}
	if merged.Temperature == nil || *merged.Temperature != 0.1 {
		t.Errorf("temperature = %v, want 0.1", merged.Temperature)
	}
}

func TestMerge_KeysNotInOverrideAreKept(t *testing.T) {
	req := baseRequest()
	merged, err := MergeRequestWithTarget(&req, routing.Target{"model": "x/y"})
	if err != nil {
		t.Fatal(err)
	}
	if merged.Temperature == nil || *merged.Temperature != 0.7 {
		t.Errorf("temperature = %v, want untouched 0.7", merged.Temperature)
	}
	if len(merged.Messages) != 1 || merged.Messages[0].Content != "hi" {
		t.Errorf("messages changed: %+v", merged.Messages)
	}
}

func TestMerge_NullValuesAreIgnored(t *testing.T) {
	req := baseRequest()
	merged, err := MergeRequestWithTarget(&req, routing.Target{
		"model":       "x/y",
		"temperature": nil,
	})
	if err != nil {
		t.Fatal(err)
	}
	if merged.Temperature == nil || *merged.Temperature != 0.7 {
		t.Errorf("null override changed temperature: %v", merged.Temperature)
	}
}

func TestMerge_TargetReinstallsNestedRouter(t *testing.T) {
	req := baseRequest()
	merged, err := MergeRequestWithTarget(&req, routing.Target{
		"router": map[string]interface{}{
			"name":    "inner",
			"type":    "fallback",
			"targets": []interface{}{map[string]interface{}{"model": "x/a"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if merged.Router == nil {
		t.Fatal("nested router not installed")
	}
	if merged.Router.Type != routing.StrategyFallback || merged.Router.Name != "inner" {
		t.Errorf("router = %+v", merged.Router)
	}
}

func TestMerge_MalformedOverrideFails(t *testing.T) {
	req := baseRequest()
	// messages must be an array of message objects.
	_, err := MergeRequestWithTarget(&req, routing.Target{"messages": "nope"})
	var mergeErr *MergeError
	if !errors.As(err, &mergeErr) {
		t.Fatalf("got %v, want MergeError", err)
	}
}
