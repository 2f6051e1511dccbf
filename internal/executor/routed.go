package executor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"

	"go.opentelemetry.io/otel/trace"

	"github.com/relay-labs/llm-gateway/internal/guardrails"
	"github.com/relay-labs/llm-gateway/internal/logging"
	"github.com/relay-labs/llm-gateway/internal/metrics"
	"github.com/relay-labs/llm-gateway/internal/routing"
	"github.com/relay-labs/llm-gateway/internal/tracing"
	"github.com/relay-labs/llm-gateway/internal/usage"
	"github.com/relay-labs/llm-gateway/providers"
)

// MaxDepth bounds the number of frames the resolver consumes for a single
// request. A tree that legitimately needs more than this is misconfigured.
const MaxDepth = 10

// frame is one pending resolution step: a request plus the target override
// to merge into it. A frame is created when a router yields targets,
// consumed exactly once when popped, and discarded afterwards.
type frame struct {
	req    providers.Request
	target routing.Target
}

// RoutedExecutor resolves a request carrying zero or more nested routers
// into a single successful execution, honouring fallback order.
type RoutedExecutor struct {
	chat    *ChatExecutor
	metrics usage.Repository
	rng     *rand.Rand
}

// NewRoutedExecutor wires a resolver over the given leaf executor and
// metrics repository. rng may be nil for the shared default source; tests
// inject a seeded one.
func NewRoutedExecutor(chat *ChatExecutor, repo usage.Repository, rng *rand.Rand) *RoutedExecutor {
	return &RoutedExecutor{chat: chat, metrics: repo, rng: rng}
}

// Execute drains the frame stack depth-first, first-target-first.
//
// Per frame: merge the override (the embedded router is cleared first; the
// override may install a new one),
// then either expand an embedded router into child frames — pushed in
// reverse so the first target pops first — or execute the leaf. Router and
// snapshot errors are advisory: the frame is dropped and the loop proceeds.
// Upstream errors retry on the next frame and surface only when no frames
// remain. Merge failures and guard verdicts are terminal regardless of
// remaining frames.
func (re *RoutedExecutor) Execute(ctx context.Context, req providers.Request) (*Result, error) {
	log := logging.FromContext(ctx)

	stack := []frame{{req: req}}
	depth := 0
	var lastErr error

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		depth++
		if depth > MaxDepth {
			return nil, ErrMaxDepthExceeded
		}

		current := f.req
		if f.target != nil {
			current.Router = nil
			merged, err := MergeRequestWithTarget(&current, f.target)
			if err != nil {
				return nil, err
			}
			current = *merged
			if afterJSON, err := json.Marshal(current); err == nil {
				trace.SpanFromContext(ctx).SetAttributes(tracing.String(tracing.AttrAfter, string(afterJSON)))
			}
		}

		if current.Router != nil {
			re.expand(ctx, &current, &stack, log)
			continue
		}

		result, err := re.chat.Execute(ctx, current)
		if err == nil {
			metrics.ResolutionDepth.Observe(float64(depth))
			return result, nil
		}
		if isTerminal(err) {
			return nil, err
		}
		lastErr = err
		if len(stack) == 0 {
			return nil, err
		}
		log.Warn("error executing request, moving to next target", "model", current.Model, "error", err.Error())
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNoRouteResolved
}

// expand runs the router strategy for the current frame and pushes the
// resulting targets. Expansion failures are logged and skipped: the router
// is a hint, not a contract.
func (re *RoutedExecutor) expand(ctx context.Context, current *providers.Request, stack *[]frame, log *slog.Logger) {
	router := current.Router
	routerName := router.Name
	if name, ok := current.RouterName(); ok {
		routerName = name
	}

	spanCtx, span := tracing.Start(ctx, tracing.SpanRequestRouting, tracing.String(tracing.AttrRouterName, routerName))
	defer span.End()
	if beforeJSON, err := json.Marshal(current); err == nil {
		span.SetAttributes(tracing.String(tracing.AttrBefore, string(beforeJSON)))
	}

	snapshot, err := re.metrics.GetMetrics(spanCtx)
	if err != nil {
		metrics.RouterResolutions.WithLabelValues(routerName, string(router.Type), "error").Inc()
		log.Error("metrics snapshot failed, route ignored", "router", routerName, "error", err.Error())
		return
	}

	targets, err := router.Route(snapshot, re.rng)
	if err != nil {
		metrics.RouterResolutions.WithLabelValues(routerName, string(router.Type), "error").Inc()
		log.Error("router error, route ignored", "router", routerName, "error", err.Error())
		return
	}
	metrics.RouterResolutions.WithLabelValues(routerName, string(router.Type), "resolved").Inc()

	if resolutionJSON, err := json.Marshal(targets); err == nil {
		span.SetAttributes(tracing.String(tracing.AttrRouterResolution, string(resolutionJSON)))
	}

	// Push in reverse so the first target is popped first.
	for i := len(targets) - 1; i >= 0; i-- {
		clone, err := current.Clone()
		if err != nil {
			log.Error("request clone failed, target skipped", "router", routerName, "error", err.Error())
			continue
		}
		*stack = append(*stack, frame{req: clone, target: targets[i]})
	}
}

// isTerminal reports errors that must not be retried on a later frame:
// malformed overrides and guardrail verdicts.
func isTerminal(err error) bool {
	var mergeErr *MergeError
	var stopped *guardrails.StoppedError
	var evalErr *guardrails.EvaluationError
	return errors.As(err, &mergeErr) ||
		errors.As(err, &stopped) ||
		errors.As(err, &evalErr) ||
		errors.Is(err, guardrails.ErrOutputGuardrailsStreaming)
}
