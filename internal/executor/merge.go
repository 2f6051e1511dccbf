package executor

import (
	"encoding/json"

	"github.com/relay-labs/llm-gateway/internal/routing"
	"github.com/relay-labs/llm-gateway/providers"
)

// MergeRequestWithTarget applies a target override to a request by shallow
// key-level merge on its serialized form: each non-null key in the target
// replaces the same key of the request's JSON object view; null values are
// ignored. The merged object is deserialized back into a request, so keys
// the envelope does not know are dropped. A failed round-trip is a
// MergeError.
func MergeRequestWithTarget(req *providers.Request, target routing.Target) (*providers.Request, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, &MergeError{Err: err}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, &MergeError{Err: err}
	}

	for key, value := range target {
		if value == nil {
			continue
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, &MergeError{Err: err}
		}
		obj[key] = encoded
	}

	merged, err := json.Marshal(obj)
	if err != nil {
		return nil, &MergeError{Err: err}
	}

	var out providers.Request
	if err := json.Unmarshal(merged, &out); err != nil {
		return nil, &MergeError{Err: err}
	}
	return &out, nil
}
