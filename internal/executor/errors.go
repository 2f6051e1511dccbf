package executor

import (
	"errors"
	"fmt"
)

// ErrMaxDepthExceeded is the fatal failure of a router tree deeper than
// MaxDepth frames.
var ErrMaxDepthExceeded = fmt.Errorf("router recursion exceeded max depth of %d", MaxDepth)

// ErrEmptyResponse reports an upstream stream that closed before producing a
// single event.
var ErrEmptyResponse = errors.New("Empty response from model")

// ErrNoRouteResolved reports a resolution loop that drained without ever
// reaching a leaf (every router expansion errored and was skipped).
var ErrNoRouteResolved = errors.New("no route resolved to an executable target")

// MergeError reports a request/target merge that could not round-trip
// through its JSON object form. Caller-supplied overrides are malformed;
// the failure is not retriable.
type MergeError struct {
	Err error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("failed to serialize merged request result: %v", e.Err)
}

func (e *MergeError) Unwrap() error { return e.Err }

// ModelNotFoundError reports a leaf model no registered provider serves.
type ModelNotFoundError struct {
	Model string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("no provider supports model: %s", e.Model)
}

// StreamingUnsupportedError reports a stream request against a provider
// without streaming support.
type StreamingUnsupportedError struct {
	Provider string
}

func (e *StreamingUnsupportedError) Error() string {
	return fmt.Sprintf("provider %s does not support streaming", e.Provider)
}
