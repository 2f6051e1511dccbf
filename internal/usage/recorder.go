package usage

import (
	"context"
	"sync"
	"time"
)

// Sample is one completed (or failed) leaf execution.
type Sample struct {
	Latency      time.Duration
	TTFT         time.Duration
	InputTokens  int
	OutputTokens int
	Failed       bool
}

type timedSample struct {
	at time.Time
	s  Sample
}

type aggregate struct {
	count     float64
	errors    float64
	latencyMs float64
	ttftMs    float64
	ttftN     float64
	tps       float64
	tpsN      float64
	inTokens  float64
	outTokens float64
}

func (a *aggregate) add(s Sample) {
	a.count++
	if s.Failed {
		a.errors++
	}
	a.latencyMs += float64(s.Latency.Milliseconds())
	if s.TTFT > 0 {
		a.ttftMs += float64(s.TTFT.Milliseconds())
		a.ttftN++
	}
	if s.OutputTokens > 0 && s.Latency > 0 {
		a.tps += float64(s.OutputTokens) / s.Latency.Seconds()
		a.tpsN++
	}
	a.inTokens += float64(s.InputTokens)
	a.outTokens += float64(s.OutputTokens)
}

func (a *aggregate) metrics() Metrics {
	if a.count == 0 {
		return Metrics{}
	}
	m := Metrics{
		Requests:     F(a.count),
		Latency:      F(a.latencyMs / a.count),
		ErrorRate:    F(a.errors / a.count),
		InputTokens:  F(a.inTokens),
		OutputTokens: F(a.outTokens),
		TotalTokens:  F(a.inTokens + a.outTokens),
	}
	if a.ttftN > 0 {
		m.TTFT = F(a.ttftMs / a.ttftN)
	}
	if a.tpsN > 0 {
		m.TPS = F(a.tps / a.tpsN)
	}
	return m
}

type modelSeries struct {
	total  aggregate
	window []timedSample // samples younger than one hour, oldest first
}

// Recorder accumulates execution samples per provider/model and serves them
// back as snapshots, making it the live Repository behind the Optimized
// strategy. The total bucket is a running aggregate; the windowed buckets
// are recomputed from retained samples on each snapshot.
type Recorder struct {
	mu     sync.Mutex
	series map[string]map[string]*modelSeries
	now    func() time.Time
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		series: make(map[string]map[string]*modelSeries),
		now:    time.Now,
	}
}

// Record folds one sample into the provider/model series.
func (r *Recorder) Record(provider, model string, s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	models, ok := r.series[provider]
	if !ok {
		models = make(map[string]*modelSeries)
		r.series[provider] = models
	}
	ms, ok := models[model]
	if !ok {
		ms = &modelSeries{}
		models[model] = ms
	}

	now := r.now()
	ms.total.add(s)
	ms.window = append(ms.window, timedSample{at: now, s: s})
	ms.prune(now)
}

func (ms *modelSeries) prune(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(ms.window) && ms.window[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		ms.window = append(ms.window[:0], ms.window[i:]...)
	}
}

// GetMetrics implements Repository. The returned snapshot is built fresh
// under the lock and never aliased, so callers may treat it as immutable.
func (r *Recorder) GetMetrics(_ context.Context) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	snap := make(Snapshot, len(r.series))
	for provider, models := range r.series {
		pm := ProviderMetrics{Models: make(map[string]ModelMetrics, len(models))}
		for model, ms := range models {
			ms.prune(now)
			var last15, lastHour aggregate
			cutoff15 := now.Add(-15 * time.Minute)
			for _, ts := range ms.window {
				lastHour.add(ts.s)
				if !ts.at.Before(cutoff15) {
					last15.add(ts.s)
				}
			}
			pm.Models[model] = ModelMetrics{Metrics: TimeMetrics{
				Total:         ms.total.metrics(),
				Last15Minutes: last15.metrics(),
				LastHour:      lastHour.metrics(),
			}}
		}
		snap[provider] = pm
	}
	return snap, nil
}
