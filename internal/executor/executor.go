// Package executor contains the chat execution pipeline: the leaf executor
// that bridges a provider's fallible event stream to an HTTP-ready response,
// and the routed executor that resolves embedded routers into concrete
// targets with fallback semantics.
package executor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/relay-labs/llm-gateway/internal/circuitbreaker"
	"github.com/relay-labs/llm-gateway/internal/guardrails"
	"github.com/relay-labs/llm-gateway/internal/logging"
	"github.com/relay-labs/llm-gateway/internal/metrics"
	"github.com/relay-labs/llm-gateway/internal/requestlog"
	"github.com/relay-labs/llm-gateway/internal/tracing"
	"github.com/relay-labs/llm-gateway/internal/usage"
	"github.com/relay-labs/llm-gateway/providers"
)

// Result is the two-variant outcome of a chat execution: a buffered
// completion or an SSE frame stream. Exactly one of Completion and Stream is
// set. Header values are carried alongside so the HTTP layer can stamp
// X-Trace-Id, X-Model-Name and X-Provider-Name before writing either form.
type Result struct {
	Completion *providers.Response
	Stream     <-chan []byte

	ModelName    string
	ProviderName string
	TraceID      string
}

// IsStream reports whether the result is the event-stream variant.
func (r *Result) IsStream() bool { return r.Stream != nil }

// ChatExecutor invokes a leaf request against its upstream provider.
type ChatExecutor struct {
	source   providers.ProviderSource
	guards   *guardrails.Service
	recorder *usage.Recorder
	logs     requestlog.Writer

	mu       sync.Mutex
	breakers map[string]*circuitbreaker.CircuitBreaker
}

// NewChatExecutor wires a chat executor. guards, recorder and logs may be
// nil; the corresponding step is skipped.
func NewChatExecutor(source providers.ProviderSource, guards *guardrails.Service, recorder *usage.Recorder, logs requestlog.Writer) *ChatExecutor {
	if logs == nil {
		logs = requestlog.NoopWriter{}
	}
	return &ChatExecutor{
		source:   source,
		guards:   guards,
		recorder: recorder,
		logs:     logs,
		breakers: make(map[string]*circuitbreaker.CircuitBreaker),
	}
}

func (e *ChatExecutor) breakerFor(provider string) *circuitbreaker.CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	cb, ok := e.breakers[provider]
	if !ok {
		cb = circuitbreaker.New(0, 0, 0)
		e.breakers[provider] = cb
	}
	return cb
}

func (e *ChatExecutor) resolve(model string) (providers.Provider, string, bool) {
	providerName, bare := providers.SplitModel(model)
	if providerName != "" {
		p, ok := e.source.Get(providerName)
		if !ok {
			return nil, "", false
		}
		return p, bare, true
	}
	p, ok := e.source.FindByModel(bare)
	if !ok {
		return nil, "", false
	}
	return p, bare, true
}

// Execute runs a leaf request against its provider and returns either a
// buffered completion or a frame stream, per the request's stream flag.
func (e *ChatExecutor) Execute(ctx context.Context, req providers.Request) (*Result, error) {
	log := logging.FromContext(ctx)
	span := trace.SpanFromContext(ctx)
	if reqJSON, err := json.Marshal(req); err == nil {
		span.SetAttributes(tracing.String(tracing.AttrRequest, string(reqJSON)))
	}

	// Output guards cannot run on a stream: there is no buffered response to
	// evaluate before frames reach the client.
	if req.Stream && e.guards != nil && e.guards.HasStage(guardrails.StageOutput) {
		return nil, guardrails.ErrOutputGuardrailsStreaming
	}

	p, bareModel, ok := e.resolve(req.Model)
	if !ok {
		return nil, &ModelNotFoundError{Model: req.Model}
	}

	if e.guards != nil {
		if _, err := e.guards.EvaluateInput(ctx, &req); err != nil {
			metrics.RequestsTotal.WithLabelValues(p.Name(), bareModel, "rejected").Inc()
			return nil, err
		}
	}

	breaker := e.breakerFor(p.Name())
	if !breaker.Allow() {
		metrics.CircuitBreakerState.WithLabelValues(p.Name()).Set(float64(circuitbreaker.StateOpen))
		return nil, circuitbreaker.ErrCircuitOpen
	}

	upstream := req
	upstream.Model = bareModel
	upstream.Router = nil

	result := &Result{
		ModelName:    req.Model,
		ProviderName: p.Name(),
		TraceID:      tracing.TraceIDUUID(ctx),
	}

	if req.Stream {
		return e.executeStream(ctx, p, upstream, result)
	}

	start := time.Now()
	resp, err := p.Complete(ctx, upstream)
	latency := time.Since(start)

	if err != nil {
		breaker.RecordFailure()
		metrics.CircuitBreakerState.WithLabelValues(p.Name()).Set(float64(breaker.State()))
		e.recordAttempt(ctx, result, usage.Sample{Latency: latency, Failed: true}, err, false)
		log.Error("upstream call failed", "model", req.Model, "provider", p.Name(), "error", err.Error())
		return nil, err
	}
	breaker.RecordSuccess()
	metrics.CircuitBreakerState.WithLabelValues(p.Name()).Set(float64(circuitbreaker.StateClosed))

	if resp.Object == "" {
		resp.Object = "chat.completion"
	}
	if resp.Created == 0 {
		resp.Created = time.Now().Unix()
	}
	resp.Provider = p.Name()

	if e.guards != nil {
		if _, err := e.guards.EvaluateOutput(ctx, &req, resp); err != nil {
			metrics.RequestsTotal.WithLabelValues(p.Name(), bareModel, "rejected").Inc()
			return nil, err
		}
	}

	if respJSON, err := json.Marshal(resp); err == nil {
		span.SetAttributes(tracing.String(tracing.AttrResponse, string(respJSON)))
	}

	e.recordAttempt(ctx, result, usage.Sample{
		Latency:      latency,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil, false)

	log.Info("request completed",
		"model", resp.Model,
		"provider", p.Name(),
		"latency_ms", latency.Milliseconds(),
		"tokens_in", resp.Usage.PromptTokens,
		"tokens_out", resp.Usage.CompletionTokens,
	)

	result.Completion = resp
	return result, nil
}

func (e *ChatExecutor) executeStream(ctx context.Context, p providers.Provider, upstream providers.Request, result *Result) (*Result, error) {
	log := logging.FromContext(ctx)
	span := trace.SpanFromContext(ctx)
	breaker := e.breakerFor(p.Name())

	sp, ok := p.(providers.StreamProvider)
	if !ok {
		return nil, &StreamingUnsupportedError{Provider: p.Name()}
	}

	start := time.Now()
	events, err := sp.Stream(ctx, upstream)
	if err != nil {
		breaker.RecordFailure()
		e.recordAttempt(ctx, result, usage.Sample{Latency: time.Since(start), Failed: true}, err, true)
		return nil, err
	}

	// Peel the first event: an error here becomes the HTTP response instead
	// of a 200 with an error frame.
	peeled, err := peelFirst(events)
	if err != nil {
		breaker.RecordFailure()
		e.recordAttempt(ctx, result, usage.Sample{Latency: time.Since(start), Failed: true}, err, true)
		return nil, err
	}
	ttft := time.Since(start)
	breaker.RecordSuccess()
	metrics.CircuitBreakerState.WithLabelValues(p.Name()).Set(float64(circuitbreaker.StateClosed))

	onStop := func(u *providers.Usage, failed bool) {
		sample := usage.Sample{Latency: time.Since(start), TTFT: ttft, Failed: failed}
		if u != nil {
			sample.InputTokens = u.PromptTokens
			sample.OutputTokens = u.CompletionTokens
		}
		e.recordAttempt(ctx, result, sample, nil, true)
		log.Info("stream completed",
			"model", result.ModelName,
			"provider", result.ProviderName,
			"latency_ms", sample.Latency.Milliseconds(),
			"failed", failed,
		)
	}

	result.Stream = streamFrames(ctx, result.ModelName, span, peeled, onStop)
	return result, nil
}

func (e *ChatExecutor) recordAttempt(ctx context.Context, result *Result, sample usage.Sample, attemptErr error, streamed bool) {
	_, bareModel := providers.SplitModel(result.ModelName)

	status := "success"
	errMsg := ""
	if attemptErr != nil || sample.Failed {
		status = "error"
	}
	if attemptErr != nil {
		errMsg = attemptErr.Error()
	}

	metrics.RequestsTotal.WithLabelValues(result.ProviderName, bareModel, status).Inc()
	metrics.RequestDuration.WithLabelValues(result.ProviderName, bareModel).Observe(sample.Latency.Seconds())
	if sample.InputTokens > 0 {
		metrics.TokensInput.WithLabelValues(result.ProviderName, bareModel).Add(float64(sample.InputTokens))
	}
	if sample.OutputTokens > 0 {
		metrics.TokensOutput.WithLabelValues(result.ProviderName, bareModel).Add(float64(sample.OutputTokens))
	}

	if e.recorder != nil {
		e.recorder.Record(result.ProviderName, bareModel, sample)
	}

	entry := requestlog.Entry{
		TraceID:          result.TraceID,
		Model:            result.ModelName,
		Provider:         result.ProviderName,
		Status:           status,
		Streamed:         streamed,
		PromptTokens:     sample.InputTokens,
		CompletionTokens: sample.OutputTokens,
		TotalTokens:      sample.InputTokens + sample.OutputTokens,
		LatencyMs:        sample.Latency.Milliseconds(),
		ErrorMessage:     errMsg,
	}
	if err := e.logs.Write(ctx, entry); err != nil {
		logging.FromContext(ctx).Warn("request log write failed", "error", err.Error())
	}
}
