package guardrails

import (
	"context"
	"fmt"
	"math"

	"github.com/relay-labs/llm-gateway/internal/cache"
	"github.com/relay-labs/llm-gateway/providers"
)

// DatasetEvaluator scores the staged text by embedding similarity against a
// set of labelled examples. The nearest example decides the outcome: when
// its cosine similarity reaches the guard threshold the result takes the
// example's label; below the threshold nothing in the dataset is close
// enough to flag and the guard passes.
type DatasetEvaluator struct {
	source     providers.ProviderSource
	embeddings *cache.Memory
}

// NewDatasetEvaluator creates a dataset evaluator backed by the provider
// source for embedding calls. The cache may be nil to disable memoisation.
func NewDatasetEvaluator(source providers.ProviderSource, embeddings *cache.Memory) *DatasetEvaluator {
	return &DatasetEvaluator{source: source, embeddings: embeddings}
}

// Evaluate implements Evaluator.
func (e *DatasetEvaluator) Evaluate(ctx context.Context, req *providers.Request, guard *Guard) (Result, error) {
	if len(guard.Examples) == 0 {
		return Result{}, fmt.Errorf("dataset guard %s has no examples", guard.Name)
	}

	text, ok := guard.StageText(req)
	if !ok {
		return Result{}, fmt.Errorf("no %s message to evaluate", guard.Stage)
	}

	target, err := e.embed(ctx, guard.EmbeddingModel, text)
	if err != nil {
		return Result{}, err
	}

	var (
		bestSim   float64
		bestLabel bool
		found     bool
	)
	for i := range guard.Examples {
		ex := &guard.Examples[i]
		vec := ex.Embedding
		if vec == nil {
			vec, err = e.embed(ctx, guard.EmbeddingModel, ex.Text)
			if err != nil {
				return Result{}, err
			}
		}
		sim, err := cosineSimilarity(target, vec)
		if err != nil {
			return Result{}, err
		}
		if !found || sim > bestSim {
			bestSim, bestLabel, found = sim, ex.Label, true
		}
	}

	passed := true
	if bestSim >= guard.Threshold {
		passed = bestLabel
	}
	return BoolResult(passed, &bestSim), nil
}

func (e *DatasetEvaluator) embed(ctx context.Context, model, text string) ([]float64, error) {
	key := model + "\x00" + text
	if e.embeddings != nil {
		if vec, ok := e.embeddings.Get(key); ok {
			return vec, nil
		}
	}

	providerName, bare := providers.SplitModel(model)
	var p providers.Provider
	if providerName != "" {
		p, _ = e.source.Get(providerName)
	} else {
		p, _ = e.source.FindByModel(bare)
	}
	ep, ok := p.(providers.EmbeddingProvider)
	if !ok || p == nil {
		return nil, fmt.Errorf("no embedding provider for model %s", model)
	}

	resp, err := ep.Embed(ctx, providers.EmbeddingRequest{Model: bare, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embedding call failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response for model %s is empty", model)
	}
	vec := resp.Data[0].Embedding

	if e.embeddings != nil {
		e.embeddings.Set(key, vec)
	}
	return vec, nil
}

func cosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
