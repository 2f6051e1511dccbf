package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/relay-labs/llm-gateway/providers"
)

func eventChannel(events ...providers.ModelEvent) <-chan providers.ModelEvent {
	ch := make(chan providers.ModelEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func collectFrames(t *testing.T, frames <-chan []byte) [][]byte {
	t.Helper()
	var out [][]byte
	timeout := time.After(5 * time.Second)
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return out
			}
			out = append(out, frame)
		case <-timeout:
			t.Fatal("timed out collecting frames")
		}
	}
}

func noopSpan() trace.Span {
	return trace.SpanFromContext(context.Background())
}

func TestStreamFrames_ContentDeltasPlusDone(t *testing.T) {
	const k = 3
	events := make([]providers.ModelEvent, 0, k+1)
	for i := 0; i < k; i++ {
		events = append(events, providers.ModelEvent{Type: providers.EventContent, Content: fmt.Sprintf("tok%d", i)})
	}
	events = append(events, providers.ModelEvent{Type: providers.EventStop, FinishReason: providers.FinishStop})

	frames := collectFrames(t, streamFrames(context.Background(), "openai/gpt-4o", noopSpan(), eventChannel(events...), nil))

	// k deltas + [DONE]; a stop without usage emits no frame.
	if len(frames) != k+1 {
		t.Fatalf("got %d frames, want %d", len(frames), k+1)
	}
	if !bytes.Equal(frames[len(frames)-1], []byte("data: [DONE]\n\n")) {
		t.Errorf("final frame = %q", frames[len(frames)-1])
	}

	for i, frame := range frames[:k] {
		if !bytes.HasPrefix(frame, []byte("data: ")) || !bytes.HasSuffix(frame, []byte("\n\n")) {
			t.Fatalf("frame %d not SSE framed: %q", i, frame)
		}
		var chunk ChatCompletionChunk
		if err := json.Unmarshal(bytes.TrimSuffix(bytes.TrimPrefix(frame, []byte("data: ")), []byte("\n\n")), &chunk); err != nil {
			t.Fatal(err)
		}
		if chunk.Object != "chat.completion.chunk" {
			t.Errorf("object = %q", chunk.Object)
		}
		if chunk.ID == "" {
			t.Error("chunk id missing")
		}
		if len(chunk.Choices) != 1 || chunk.Choices[0].Delta.Content != fmt.Sprintf("tok%d", i) {
			t.Errorf("frame %d delta = %+v", i, chunk.Choices)
		}
		if chunk.Choices[0].Delta.Role != providers.RoleAssistant {
			t.Errorf("delta role = %q", chunk.Choices[0].Delta.Role)
		}
	}
}

func TestStreamFrames_UsageOnTerminalChunk(t *testing.T) {
	frames := collectFrames(t, streamFrames(context.Background(), "m", noopSpan(), eventChannel(
		providers.ModelEvent{Type: providers.EventContent, Content: "hello"},
		providers.ModelEvent{Type: providers.EventStop, FinishReason: providers.FinishStop, Usage: &providers.Usage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8}},
	), nil))

	if len(frames) != 3 { // content + usage chunk + DONE
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	var chunk ChatCompletionChunk
	if err := json.Unmarshal(bytes.TrimSuffix(bytes.TrimPrefix(frames[1], []byte("data: ")), []byte("\n\n")), &chunk); err != nil {
		t.Fatal(err)
	}
	if chunk.Usage == nil || chunk.Usage.TotalTokens != 8 {
		t.Errorf("usage = %+v", chunk.Usage)
	}
	if chunk.Usage.Cost != 0 {
		t.Errorf("cost = %v, want 0 at this layer", chunk.Usage.Cost)
	}
	if len(chunk.Choices) != 0 {
		t.Errorf("usage chunk carries choices: %+v", chunk.Choices)
	}
}

func TestStreamFrames_ToolCallStop(t *testing.T) {
	call := providers.ToolCall{
		ID:   "call_1",
		Type: "function",
		Function: providers.FunctionCall{
			Name:      "get_weather",
			Arguments: `{"city":"Oslo"}`,
		},
	}
	frames := collectFrames(t, streamFrames(context.Background(), "m", noopSpan(), eventChannel(
		providers.ModelEvent{Type: providers.EventToolStart, ToolCall: &call},
		providers.ModelEvent{Type: providers.EventStop, FinishReason: providers.FinishToolCalls, ToolCalls: []providers.ToolCall{call}},
	), nil))

	if len(frames) != 3 { // tool start + tool-calls stop + DONE
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	var chunk ChatCompletionChunk
	if err := json.Unmarshal(bytes.TrimSuffix(bytes.TrimPrefix(frames[1], []byte("data: ")), []byte("\n\n")), &chunk); err != nil {
		t.Fatal(err)
	}
	if len(chunk.Choices) != 1 || len(chunk.Choices[0].Delta.ToolCalls) != 1 {
		t.Fatalf("stop chunk = %+v", chunk)
	}
	// Arguments flow through verbatim.
	if got := chunk.Choices[0].Delta.ToolCalls[0].Function.Arguments; got != `{"city":"Oslo"}` {
		t.Errorf("arguments = %q", got)
	}
}

func TestStreamFrames_MidStreamErrorInBand(t *testing.T) {
	frames := collectFrames(t, streamFrames(context.Background(), "m", noopSpan(), eventChannel(
		providers.ModelEvent{Type: providers.EventContent, Content: "partial"},
		providers.ModelEvent{Err: errors.New("upstream reset")},
	), nil))

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if !strings.Contains(string(frames[1]), `"error"`) || !strings.Contains(string(frames[1]), "upstream reset") {
		t.Errorf("error frame = %q", frames[1])
	}
	for _, frame := range frames {
		if bytes.Contains(frame, []byte("[DONE]")) {
			t.Error("[DONE] must not follow a terminal error frame")
		}
	}
}

func TestStreamFrames_FiltersUnrelatedEvents(t *testing.T) {
	frames := collectFrames(t, streamFrames(context.Background(), "m", noopSpan(), eventChannel(
		providers.ModelEvent{Type: "llm_start"},
		providers.ModelEvent{Type: providers.EventContent, Content: "x"},
	), nil))
	if len(frames) != 2 { // content + DONE
		t.Fatalf("got %d frames, want 2", len(frames))
	}
}

func TestPeelFirst_EmptyStream(t *testing.T) {
	_, err := peelFirst(eventChannel())
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("got %v, want ErrEmptyResponse", err)
	}
}

func TestPeelFirst_ErrorFirstFrame(t *testing.T) {
	upstream := errors.New("401 invalid key")
	_, err := peelFirst(eventChannel(providers.ModelEvent{Err: upstream}))
	if !errors.Is(err, upstream) {
		t.Fatalf("got %v, want upstream error", err)
	}
}

func TestPeelFirst_PrependsFirstEvent(t *testing.T) {
	peeled, err := peelFirst(eventChannel(
		providers.ModelEvent{Type: providers.EventContent, Content: "first"},
		providers.ModelEvent{Type: providers.EventContent, Content: "second"},
	))
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for ev := range peeled {
		got = append(got, ev.Content)
	}
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("events = %v, order not preserved", got)
	}
}

func TestStreamFrames_CancellationStopsForwarder(t *testing.T) {
	// More events than the outer buffer holds, so the forwarder must block
	// and then observe cancellation instead of leaking.
	ch := make(chan providers.ModelEvent, streamBufferCapacity+20)
	go func() {
		defer close(ch)
		for i := 0; i < streamBufferCapacity+20; i++ {
			ch <- providers.ModelEvent{Type: providers.EventContent, Content: "x"}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	frames := streamFrames(ctx, "m", noopSpan(), ch, nil)

	for i := 0; i < 5; i++ {
		<-frames
	}
	cancel()

	done := make(chan struct{})
	go func() {
		for range frames { //nolint:revive // draining
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("forwarder did not terminate after cancellation")
	}
}
