package routing

import (
	"errors"
	"fmt"
)

// ErrNoValidModel is returned by the ranker when no candidate has a metric
// value in the selected bucket.
var ErrNoValidModel = errors.New("metric router error: No valid model found")

// TargetIndexError reports a selected index with no corresponding target,
// including selection over an empty target list.
type TargetIndexError struct {
	Index int
}

func (e *TargetIndexError) Error() string {
	return fmt.Sprintf("target by index not found: %d", e.Index)
}

// UnknownMetricError reports an unrecognized metric selector or duration.
type UnknownMetricError struct {
	Metric string
}

func (e *UnknownMetricError) Error() string {
	return fmt.Sprintf("unknown metric for routing: %s", e.Metric)
}

// UnknownStrategyError reports an unrecognized strategy type tag.
type UnknownStrategyError struct {
	Type string
}

func (e *UnknownStrategyError) Error() string {
	return fmt.Sprintf("unknown routing strategy: %s", e.Type)
}
