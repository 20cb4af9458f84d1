// Package observability exposes RED-style metrics for the gateway:
// evaluation rate, denials, and evaluation duration.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the gateway instruments. A nil *Metrics is valid and
// records nothing, so instrumentation stays optional.
type Metrics struct {
	evaluations metric.Int64Counter
	denials     metric.Int64Counter
	duration    metric.Float64Histogram
}

// NewMetrics registers the gateway instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	evaluations, err := meter.Int64Counter("keel.gateway.evaluations",
		metric.WithDescription("Total policy evaluations"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: evaluations counter: %w", err)
	}
	denials, err := meter.Int64Counter("keel.gateway.denials",
		metric.WithDescription("Evaluations that ended denied"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: denials counter: %w", err)
	}
	duration, err := meter.Float64Histogram("keel.gateway.evaluation.duration",
		metric.WithDescription("Evaluation wall time"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: duration histogram: %w", err)
	}
	return &Metrics{evaluations: evaluations, denials: denials, duration: duration}, nil
}

// RecordEvaluation records one completed evaluation.
func (m *Metrics) RecordEvaluation(ctx context.Context, tier string, allowed bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("classification", tier),
		attribute.Bool("allowed", allowed),
	)
	m.evaluations.Add(ctx, 1, attrs)
	if !allowed {
		m.denials.Add(ctx, 1, attrs)
	}
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}
