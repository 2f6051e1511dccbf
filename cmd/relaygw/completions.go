// HTTP handlers for the chat completions and embeddings endpoints.
package main

import (
	"encoding/json"
	"errors"
	"net/http"

	llmgateway "github.com/relay-labs/llm-gateway"
	"github.com/relay-labs/llm-gateway/internal/executor"
	"github.com/relay-labs/llm-gateway/internal/guardrails"
	"github.com/relay-labs/llm-gateway/internal/tracing"
	"github.com/relay-labs/llm-gateway/providers"
)

// completionsHandler handles POST /v1/chat/completions. The request body is
// an OpenAI chat completion extended with an optional "router" field; the
// response is either a buffered JSON completion or an SSE stream, selected
// by the request's stream flag.
func completionsHandler(gw *llmgateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req providers.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		ctx, span := tracing.Start(r.Context(), tracing.SpanAPIInvoke)
		defer span.End()

		result, err := gw.Execute(ctx, req)
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}

		w.Header().Set("X-Trace-Id", result.TraceID)
		w.Header().Set("X-Model-Name", result.ModelName)
		w.Header().Set("X-Provider-Name", result.ProviderName)

		if result.IsStream() {
			writeSSE(w, result.Stream)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result.Completion)
	}
}

// embeddingsHandler handles POST /v1/embeddings.
func embeddingsHandler(gw *llmgateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req providers.EmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Model == "" {
			writeError(w, http.StatusBadRequest, "model is required")
			return
		}

		resp, err := gw.Embed(r.Context(), req)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// statusForError maps the error taxonomy to HTTP statuses: malformed merges,
// exhausted recursion depth, guard/stream conflicts and unknown models are
// client errors;
// validate-guard verdicts are 422; everything else surfaced here is an
// upstream failure.
func statusForError(err error) int {
	var mergeErr *executor.MergeError
	var stopped *guardrails.StoppedError
	var notFound *executor.ModelNotFoundError
	switch {
	case errors.As(err, &mergeErr),
		errors.Is(err, executor.ErrMaxDepthExceeded),
		errors.Is(err, guardrails.ErrOutputGuardrailsStreaming),
		errors.As(err, &notFound):
		return http.StatusBadRequest
	case errors.As(err, &stopped):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

// writeError writes a JSON error body of the form {"error": "<message>"}.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeSSE copies pre-framed SSE bytes from the executor to the response
// writer, flushing per frame. The channel already carries the terminal
// [DONE] sentinel.
func writeSSE(w http.ResponseWriter, frames <-chan []byte) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)
	for frame := range frames {
		if _, err := w.Write(frame); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// modelsHandler handles GET /v1/models.
func modelsHandler(gw *llmgateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   gw.AllModels(),
		})
	}
}
