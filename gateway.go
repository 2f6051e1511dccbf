// Package llmgateway provides an AI model gateway: it accepts
// OpenAI-compatible chat-completion requests, resolves any embedded router
// tree into concrete model targets with fallback semantics, screens inputs
// and outputs through configurable guardrails, and executes the chosen
// target against an upstream provider as either a buffered completion or a
// server-sent-event stream.
//
// The Gateway type is the main entry point: create one with New, register
// providers with RegisterProvider, and execute requests with Execute.
// Routers are embedded per-request via the "router" field; guardrails come
// from [Config], which can be loaded from a YAML or JSON file using
// [LoadConfig].
package llmgateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/relay-labs/llm-gateway/internal/cache"
	"github.com/relay-labs/llm-gateway/internal/executor"
	"github.com/relay-labs/llm-gateway/internal/guardrails"
	"github.com/relay-labs/llm-gateway/internal/logging"
	"github.com/relay-labs/llm-gateway/internal/requestlog"
	"github.com/relay-labs/llm-gateway/internal/usage"
	"github.com/relay-labs/llm-gateway/providers"
)

// embeddingCacheSize bounds the dataset-guard embedding cache.
const (
	embeddingCacheSize = 4096
	embeddingCacheTTL  = time.Hour
)

// Gateway is the main entry point for routing LLM requests.
type Gateway struct {
	mu        sync.RWMutex
	config    Config
	providers map[string]providers.Provider

	recorder *usage.Recorder
	guards   *guardrails.Service
	logs     requestlog.Writer
	routed   *executor.RoutedExecutor
}

// New creates a new Gateway instance with the given configuration.
func New(cfg Config) (*Gateway, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	g := &Gateway{
		config:    cfg,
		providers: make(map[string]providers.Provider),
		recorder:  usage.NewRecorder(),
	}

	var logs requestlog.Writer = requestlog.NoopWriter{}
	switch cfg.RequestLog.Driver {
	case RequestLogSQLite:
		w, err := requestlog.NewSQLiteWriter(cfg.RequestLog.DSN)
		if err != nil {
			return nil, err
		}
		logs = w
	case RequestLogPostgres:
		w, err := requestlog.NewPostgresWriter(cfg.RequestLog.DSN)
		if err != nil {
			return nil, err
		}
		logs = w
	}
	g.logs = logs

	g.guards = guardrails.NewService(cfg.Guards, g, cache.NewMemory(embeddingCacheSize, embeddingCacheTTL))

	chat := executor.NewChatExecutor(g, g.guards, g.recorder, logs)
	g.routed = executor.NewRoutedExecutor(chat, g.recorder, nil)
	return g, nil
}

// RegisterProvider registers a provider with the gateway.
func (g *Gateway) RegisterProvider(p providers.Provider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.providers[p.Name()] = p
}

// Execute resolves and runs a chat completion request, following any
// embedded router tree until one target succeeds or all are exhausted.
func (g *Gateway) Execute(ctx context.Context, req providers.Request) (*executor.Result, error) {
	return g.routed.Execute(ctx, req)
}

// WithRand injects a deterministic random source into the routing layer.
// Intended for tests; production gateways use the shared default source.
func (g *Gateway) WithRand(rng *rand.Rand) *Gateway {
	chat := executor.NewChatExecutor(g, g.guards, g.recorder, g.logs)
	g.routed = executor.NewRoutedExecutor(chat, g.recorder, rng)
	return g
}

// Metrics exposes the live usage repository feeding the Optimized strategy.
func (g *Gateway) Metrics() usage.Repository {
	return g.recorder
}

// GetConfig returns a copy of the current configuration.
func (g *Gateway) GetConfig() Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.config
}

// Embed routes an embedding request to a registered EmbeddingProvider that
// supports the requested model. When several match, which one is used is not
// defined.
func (g *Gateway) Embed(ctx context.Context, req providers.EmbeddingRequest) (*providers.EmbeddingResponse, error) {
	log := logging.FromContext(ctx)

	providerName, bare := providers.SplitModel(req.Model)

	g.mu.RLock()
	var ep providers.EmbeddingProvider
	for name, p := range g.providers {
		if providerName != "" && name != providerName {
			continue
		}
		if ep2, ok := p.(providers.EmbeddingProvider); ok && p.SupportsModel(bare) {
			ep = ep2
			break
		}
	}
	g.mu.RUnlock()

	if ep == nil {
		return nil, fmt.Errorf("no embedding provider found for model: %s", req.Model)
	}

	upstream := req
	upstream.Model = bare
	resp, err := ep.Embed(ctx, upstream)
	if err != nil {
		log.Error("embedding request failed", "model", req.Model, "error", err.Error())
		return nil, err
	}

	log.Info("embedding request completed", "model", resp.Model, "tokens", resp.Usage.TotalTokens)
	return resp, nil
}

// ── ProviderSource ───────────────────────────────────────────────────────────

// Get returns a registered provider by name.
func (g *Gateway) Get(name string) (providers.Provider, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.providers[name]
	return p, ok
}

// List returns the names of all registered providers.
func (g *Gateway) List() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.providers))
	for name := range g.providers {
		names = append(names, name)
	}
	return names
}

// AllModels returns ModelInfo from all registered providers.
func (g *Gateway) AllModels() []providers.ModelInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var models []providers.ModelInfo
	for _, p := range g.providers {
		models = append(models, p.Models()...)
	}
	return models
}

// FindByModel returns a registered provider that supports the given model.
// When several do, which one is returned is not defined.
func (g *Gateway) FindByModel(model string) (providers.Provider, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, p := range g.providers {
		if p.SupportsModel(model) {
			return p, true
		}
	}
	return nil, false
}

// Close cleans up resources.
func (g *Gateway) Close() error {
	if w, ok := g.logs.(*requestlog.SQLWriter); ok {
		return w.Close()
	}
	return nil
}
