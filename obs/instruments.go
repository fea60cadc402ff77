// Package obs wraps the OpenTelemetry metrics and tracing APIs with the
// cached-instrument pattern used throughout the teacher framework
// (resilience.OTelMetricsCollector, telemetry.MetricInstruments), trimmed to
// the API surface only: this module never configures an SDK or exporter, it
// only records into whatever MeterProvider/TracerProvider the embedding
// process has installed globally.
package obs

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Instruments caches metric instruments by name so components can call
// Counter/Histogram/Gauge repeatedly without re-creating instruments.
type Instruments struct {
	meter      metric.Meter
	tracer     trace.Tracer
	mu         sync.RWMutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

// New creates an Instruments bound to the named meter/tracer, e.g.
// "coordination-core/queue".
func New(name string) *Instruments {
	return &Instruments{
		meter:      otel.Meter(name),
		tracer:     otel.Tracer(name),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

// Attr builds an attribute.KeyValue for Counter/Histogram calls, so callers
// don't need to import go.opentelemetry.io/otel/attribute directly.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Counter increments the named counter by delta, creating it on first use.
func (i *Instruments) Counter(ctx context.Context, name string, delta int64, attrs ...attribute.KeyValue) {
	c := i.counter(name)
	if c == nil {
		return
	}
	c.Add(ctx, delta, metric.WithAttributes(attrs...))
}

func (i *Instruments) counter(name string) metric.Int64Counter {
	i.mu.RLock()
	c, ok := i.counters[name]
	i.mu.RUnlock()
	if ok {
		return c
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if c, ok = i.counters[name]; ok {
		return c
	}
	c, err := i.meter.Int64Counter(name)
	if err != nil {
		fmt.Printf("obs: failed to create counter %s: %v\n", name, err)
		return nil
	}
	i.counters[name] = c
	return c
}

// Histogram records value against the named histogram, creating it on
// first use. Used for wait-time / processing-duration observations.
func (i *Instruments) Histogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	i.mu.RLock()
	h, ok := i.histograms[name]
	i.mu.RUnlock()

	if !ok {
		i.mu.Lock()
		if h, ok = i.histograms[name]; !ok {
			var err error
			h, err = i.meter.Float64Histogram(name)
			if err != nil {
				i.mu.Unlock()
				fmt.Printf("obs: failed to create histogram %s: %v\n", name, err)
				return
			}
			i.histograms[name] = h
		}
		i.mu.Unlock()
	}

	h.Record(ctx, value, metric.WithAttributes(attrs...))
}

// Gauge registers an observable gauge backed by fn, called by the provider
// on each collection. Errors from registration are logged, not returned,
// matching the best-effort nature of metrics throughout this package.
func (i *Instruments) Gauge(name string, fn func() float64, attrs ...attribute.KeyValue) {
	_, err := i.meter.Float64ObservableGauge(name,
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			o.Observe(fn(), metric.WithAttributes(attrs...))
			return nil
		}),
	)
	if err != nil {
		fmt.Printf("obs: failed to register gauge %s: %v\n", name, err)
	}
}

// StartSpan starts a span named name using the cached tracer, returning a
// context carrying it and the span itself. Safe to call even when no
// TracerProvider has been configured: the global API falls back to a
// no-op tracer.
func (i *Instruments) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return i.tracer.Start(ctx, name)
}
