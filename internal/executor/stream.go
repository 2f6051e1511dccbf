package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/relay-labs/llm-gateway/internal/metrics"
	"github.com/relay-labs/llm-gateway/internal/tracing"
	"github.com/relay-labs/llm-gateway/providers"
)

// streamBufferCapacity bounds the outer frame channel consumed by the HTTP
// response writer; when full the forwarder suspends, which in turn fills the
// provider's event channel and suspends the upstream driver.
const streamBufferCapacity = 100

// ChatCompletionChunk is one SSE payload of a streaming response.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *ChunkUsage   `json:"usage,omitempty"`
}

// ChunkChoice is a single choice in a streaming chunk.
type ChunkChoice struct {
	Index        int         `json:"index"`
	Delta        ChunkDelta  `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
	LogProbs     interface{} `json:"logprobs"`
}

// ChunkDelta carries incremental content in a streaming response.
type ChunkDelta struct {
	Role      string               `json:"role,omitempty"`
	Content   string               `json:"content,omitempty"`
	ToolCalls []providers.ToolCall `json:"tool_calls,omitempty"`
}

// ChunkUsage carries token consumption on the terminal chunk. Cost is always
// zero at this layer; it is attributed downstream.
type ChunkUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

// peelFirst awaits the first model event so early upstream failures surface
// as HTTP errors instead of stream errors. The event is prepended back onto
// the returned channel; an empty stream is ErrEmptyResponse.
func peelFirst(events <-chan providers.ModelEvent) (<-chan providers.ModelEvent, error) {
	first, ok := <-events
	if !ok {
		return nil, ErrEmptyResponse
	}
	if first.Err != nil {
		return nil, first.Err
	}

	out := make(chan providers.ModelEvent, 1)
	go func() {
		defer close(out)
		out <- first
		for ev := range events {
			out <- ev
		}
	}()
	return out, nil
}

// streamFrames is the forwarder task: it pulls model events, lifts them into
// chat-completion deltas, serializes each as an SSE data frame, and appends
// exactly one [DONE] sentinel after the upstream stream ends. Event order is
// preserved end-to-end; a mid-stream upstream failure degrades to a single
// in-band error frame because response headers are already on the wire.
// onStop, if non-nil, fires once with the terminal usage before [DONE].
func streamFrames(ctx context.Context, modelName string, span trace.Span, events <-chan providers.ModelEvent, onStop func(usage *providers.Usage, failed bool)) <-chan []byte {
	out := make(chan []byte, streamBufferCapacity)

	send := func(frame []byte) bool {
		select {
		case out <- frame:
			metrics.StreamFrames.WithLabelValues(modelName).Inc()
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(out)

		var assistant strings.Builder
		var terminalUsage *providers.Usage
		stopFired := false
		finish := func(failed bool) {
			if onStop != nil && !stopFired {
				stopFired = true
				onStop(terminalUsage, failed)
			}
		}

		for ev := range events {
			if ev.Err != nil {
				payload, err := json.Marshal(map[string]string{"error": ev.Err.Error()})
				if err != nil {
					payload = []byte(fmt.Sprintf("{\"error\": \"Failed to serialize chunk: %s\"}", err))
				}
				send(sseFrame(payload))
				finish(true)
				return
			}

			var chunk *ChatCompletionChunk
			switch ev.Type {
			case providers.EventContent:
				assistant.WriteString(ev.Content)
				chunk = newChunk(modelName, ChunkDelta{Role: providers.RoleAssistant, Content: ev.Content}, nil)
			case providers.EventToolStart:
				if ev.ToolCall != nil {
					chunk = newChunk(modelName, ChunkDelta{Role: providers.RoleAssistant, ToolCalls: []providers.ToolCall{*ev.ToolCall}}, nil)
				}
			case providers.EventStop:
				terminalUsage = ev.Usage
				if ev.FinishReason == providers.FinishToolCalls {
					chunk = newChunk(modelName, ChunkDelta{Role: providers.RoleAssistant, ToolCalls: ev.ToolCalls}, ev.Usage)
				} else if ev.Usage != nil {
					chunk = &ChatCompletionChunk{
						ID:      uuid.NewString(),
						Object:  "chat.completion.chunk",
						Created: time.Now().Unix(),
						Model:   modelName,
						Choices: []ChunkChoice{},
						Usage:   chunkUsage(ev.Usage),
					}
				}
			default:
				// Unrelated event kinds never reach the wire.
				continue
			}

			if chunk == nil {
				continue
			}
			payload, err := json.Marshal(chunk)
			if err != nil {
				payload = []byte(fmt.Sprintf("{\"error\": \"Failed to serialize chunk: %s\"}", err))
			}
			if !send(sseFrame(payload)) {
				finish(true)
				return
			}
		}

		span.SetAttributes(tracing.String(tracing.AttrResponse, assistant.String()))
		finish(false)
		send([]byte("data: " + providers.SSEDone + "\n\n"))
	}()

	return out
}

func newChunk(modelName string, delta ChunkDelta, usage *providers.Usage) *ChatCompletionChunk {
	return &ChatCompletionChunk{
		ID:      uuid.NewString(),
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   modelName,
		Choices: []ChunkChoice{{Index: 0, Delta: delta}},
		Usage:   chunkUsage(usage),
	}
}

func chunkUsage(u *providers.Usage) *ChunkUsage {
	if u == nil {
		return nil
	}
	return &ChunkUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		Cost:             0,
	}
}

func sseFrame(payload []byte) []byte {
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, "\n\n"...)
	return frame
}
