package monitor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the monitor instruments. A nil *Metrics disables recording.
type Metrics struct {
	dispatches metric.Int64Counter
	fallbacks  metric.Int64Counter
	active     metric.Int64UpDownCounter
	latency    metric.Float64Histogram
}

// NewMetrics registers the monitor instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("github.com/guardline-ai/guardline-core/monitor")
	dispatches, err := meter.Int64Counter("guardline.monitor.dispatches",
		metric.WithDescription("Analysis dispatches by scoring path"))
	if err != nil {
		return nil, err
	}
	fallbacks, err := meter.Int64Counter("guardline.monitor.fallbacks",
		metric.WithDescription("Classifier failures served by the rule engine"))
	if err != nil {
		return nil, err
	}
	active, err := meter.Int64UpDownCounter("guardline.monitor.active_sessions",
		metric.WithDescription("Sessions currently being monitored"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("guardline.monitor.dispatch_seconds",
		metric.WithDescription("Analysis dispatch latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &Metrics{dispatches: dispatches, fallbacks: fallbacks, active: active, latency: latency}, nil
}

func (m *Metrics) dispatch(ctx context.Context, path string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("path", path))
	m.dispatches.Add(ctx, 1, attrs)
	m.latency.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *Metrics) fallback(ctx context.Context) {
	m.fallbacks.Add(ctx, 1)
}

func (m *Metrics) sessionStarted(ctx context.Context) {
	m.active.Add(ctx, 1)
}

func (m *Metrics) sessionStopped(ctx context.Context) {
	m.active.Add(ctx, -1)
}
