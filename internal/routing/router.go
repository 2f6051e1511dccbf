// Package routing implements the router model embedded in chat completion
// requests and the strategies that expand a router node into an ordered
// target list.
//
// Available strategies:
//   - Fallback:   returns the configured targets verbatim, in order.
//   - Percentage: weighted random selection of a single target.
//   - Random:     uniform random selection of a single target.
//   - Optimized:  metric-driven selection via the usage snapshot.
package routing

import (
	"encoding/json"
	"math/rand"

	"github.com/relay-labs/llm-gateway/internal/usage"
)

// StrategyType identifies a routing strategy variant.
type StrategyType string

// Strategy type tags as they appear on the wire.
const (
	StrategyFallback   StrategyType = "fallback"
	StrategyPercentage StrategyType = "percentage"
	StrategyRandom     StrategyType = "random"
	StrategyOptimized  StrategyType = "optimized"

	// strategyABTesting is the accepted alias of percentage.
	strategyABTesting StrategyType = "a_b_testing"
)

// Target is a JSON object whose keys override the request when merged. The
// only semantically required key is "model"; a target may itself carry a
// nested "router", enabling routers of routers.
type Target map[string]interface{}

// Model returns the target's "model" key as a string, if present.
func (t Target) Model() (string, bool) {
	v, ok := t["model"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Router is one routing node: a named strategy over an ordered target list.
type Router struct {
	Name               string            `json:"name"`
	Type               StrategyType      `json:"type"`
	Targets            []Target          `json:"targets,omitempty"`
	TargetsPercentages []float64         `json:"targets_percentages,omitempty"`
	Metric             MetricSelector    `json:"metric,omitempty"`
	MetricsDuration    MetricsDuration   `json:"metrics_duration,omitempty"`
}

// UnmarshalJSON decodes a router, folding the a_b_testing alias into
// percentage and defaulting an absent name to "dynamic".
func (r *Router) UnmarshalJSON(b []byte) error {
	type alias Router
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	if a.Type == strategyABTesting {
		a.Type = StrategyPercentage
	}
	if a.Name == "" {
		a.Name = "dynamic"
	}
	*r = Router(a)
	return nil
}

// Validate checks the structural invariants of the router node.
func (r *Router) Validate() error {
	switch r.Type {
	// A weights/targets length mismatch on percentage routers is not a
	// structural error: the strategy engine reports it per-draw as a
	// TargetIndexError, which the resolver logs and skips.
	case StrategyFallback, StrategyRandom, StrategyOptimized, StrategyPercentage:
	default:
		return &UnknownStrategyError{Type: string(r.Type)}
	}
	if r.MetricsDuration != "" {
		if _, err := r.MetricsDuration.bucket(); err != nil {
			return err
		}
	}
	return nil
}

// Route evaluates the strategy against the snapshot and returns the ordered
// target list to try. Fallback returns all targets; the other strategies
// return exactly one. Route is a pure function of (router, snapshot, rng);
// pass a seeded rng for deterministic selection, or nil for the shared
// default source.
func (r *Router) Route(snapshot usage.Snapshot, rng *rand.Rand) ([]Target, error) {
	switch r.Type {
	case StrategyFallback:
		out := make([]Target, len(r.Targets))
		copy(out, r.Targets)
		return out, nil

	case StrategyRandom:
		if len(r.Targets) == 0 {
			return nil, &TargetIndexError{Index: 0}
		}
		idx := intn(rng, len(r.Targets))
		return []Target{r.Targets[idx]}, nil

	case StrategyPercentage:
		idx := weightedIndex(r.TargetsPercentages, rng)
		if idx < 0 || idx >= len(r.Targets) {
			if idx < 0 {
				idx = 0
			}
			return nil, &TargetIndexError{Index: idx}
		}
		return []Target{r.Targets[idx]}, nil

	case StrategyOptimized:
		models := make([]string, 0, len(r.Targets))
		for _, t := range r.Targets {
			if m, ok := t.Model(); ok {
				models = append(models, m)
			}
		}
		metric := r.Metric
		if metric == "" {
			metric = MetricLatency
		}
		best, err := Rank(models, snapshot, metric, r.MetricsDuration)
		if err != nil {
			return nil, err
		}
		return []Target{{"model": best}}, nil

	default:
		return nil, &UnknownStrategyError{Type: string(r.Type)}
	}
}

// weightedIndex draws u over [0, Σw) and walks prefix sums, returning the
// first index with prevSum ≤ u < sum. When no interval matches (u lands
// exactly on Σw on a floating-point boundary) the result clamps to the last
// index. An empty weight vector yields -1.
func weightedIndex(weights []float64, rng *rand.Rand) int {
	if len(weights) == 0 {
		return -1
	}
	var total float64
	for _, w := range weights {
		total += w
	}
	u := float64Rand(rng) * total

	var sum float64
	for i, w := range weights {
		prev := sum
		sum += w
		if u >= prev && u < sum {
			return i
		}
	}
	return len(weights) - 1
}

func intn(rng *rand.Rand, n int) int {
	if rng != nil {
		return rng.Intn(n)
	}
	return rand.Intn(n)
}

func float64Rand(rng *rand.Rand) float64 {
	if rng != nil {
		return rng.Float64()
	}
	return rand.Float64()
}
