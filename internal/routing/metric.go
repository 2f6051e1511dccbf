package routing

import (
	"strings"

	"github.com/relay-labs/llm-gateway/internal/usage"
)

// MetricSelector names the metric the Optimized strategy ranks by.
type MetricSelector string

// Supported selectors. Polarity is fixed per selector: latency, ttft and
// error_rate are minimized; requests and tps are maximized.
const (
	MetricRequests  MetricSelector = "requests"
	MetricLatency   MetricSelector = "latency"
	MetricTTFT      MetricSelector = "ttft"
	MetricTPS       MetricSelector = "tps"
	MetricErrorRate MetricSelector = "error_rate"
)

// Minimize reports the polarity of the selector.
func (s MetricSelector) Minimize() (bool, error) {
	switch s {
	case MetricLatency, MetricTTFT, MetricErrorRate:
		return true, nil
	case MetricRequests, MetricTPS:
		return false, nil
	default:
		return false, &UnknownMetricError{Metric: string(s)}
	}
}

func (s MetricSelector) value(m usage.Metrics) *float64 {
	switch s {
	case MetricRequests:
		return m.Requests
	case MetricLatency:
		return m.Latency
	case MetricTTFT:
		return m.TTFT
	case MetricTPS:
		return m.TPS
	case MetricErrorRate:
		return m.ErrorRate
	default:
		return nil
	}
}

// MetricsDuration selects the snapshot bucket the ranker reads.
type MetricsDuration string

// Bucket names as they appear on the wire. An empty duration means total.
const (
	DurationTotal         MetricsDuration = "total"
	DurationLast15Minutes MetricsDuration = "last_15_minutes"
	DurationLastHour      MetricsDuration = "last_hour"
)

func (d MetricsDuration) bucket() (func(usage.TimeMetrics) usage.Metrics, error) {
	switch d {
	case DurationTotal, "":
		return func(tm usage.TimeMetrics) usage.Metrics { return tm.Total }, nil
	case DurationLast15Minutes:
		return func(tm usage.TimeMetrics) usage.Metrics { return tm.Last15Minutes }, nil
	case DurationLastHour:
		return func(tm usage.TimeMetrics) usage.Metrics { return tm.LastHour }, nil
	default:
		return nil, &UnknownMetricError{Metric: string(d)}
	}
}

// Rank picks the best candidate under the selector's polarity.
//
// Each candidate is either "model" or "provider/model". Qualified candidates
// are looked up only in their provider; bare candidates are resolved against
// every provider that knows the model name, qualified as provider/model, and
// reduced to their single best value before the cross-candidate comparison.
// Candidates with no value in the selected bucket are dropped. Ties keep the
// earliest candidate in input order. When nothing has a value the ranker
// fails with ErrNoValidModel.
func Rank(candidates []string, snapshot usage.Snapshot, selector MetricSelector, duration MetricsDuration) (string, error) {
	minimize, err := selector.Minimize()
	if err != nil {
		return "", err
	}
	bucket, err := duration.bucket()
	if err != nil {
		return "", err
	}

	better := func(a, b float64) bool {
		if minimize {
			return a < b
		}
		return a > b
	}

	var (
		bestModel string
		bestValue float64
		found     bool
	)
	for _, candidate := range candidates {
		qualified, value, ok := lookup(candidate, snapshot, selector, bucket, better)
		if !ok {
			continue
		}
		if !found || better(value, bestValue) {
			bestModel, bestValue, found = qualified, value, true
		}
	}

	if !found {
		return "", ErrNoValidModel
	}
	return bestModel, nil
}

func lookup(candidate string, snapshot usage.Snapshot, selector MetricSelector, bucket func(usage.TimeMetrics) usage.Metrics, better func(a, b float64) bool) (string, float64, bool) {
	if provider, model, ok := strings.Cut(candidate, "/"); ok {
		mm, ok := snapshot.Model(provider, model)
		if !ok {
			return "", 0, false
		}
		v := selector.value(bucket(mm.Metrics))
		if v == nil {
			return "", 0, false
		}
		return candidate, *v, true
	}

	// No provider given: scan all providers that know this model and keep the
	// best single value under the selector's polarity.
	var (
		bestQualified string
		bestValue     float64
		found         bool
	)
	for _, provider := range snapshot.Providers() {
		mm, ok := snapshot.Model(provider, candidate)
		if !ok {
			continue
		}
		v := selector.value(bucket(mm.Metrics))
		if v == nil {
			continue
		}
		if !found || better(*v, bestValue) {
			bestQualified = provider + "/" + candidate
			bestValue = *v
			found = true
		}
	}
	return bestQualified, bestValue, found
}
