// Package observe provides application-wide observability primitives for
// inkmemory: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware for the operations endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported for
// Prometheus by the providers [Init] builds. [DefaultMetrics] returns a
// package-level instance bound to the global provider; tests should build
// their own with [NewMetrics] and a [sdkmetric.ManualReader] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all inkmemory metrics.
const meterName = "github.com/MrWong99/inkmemory"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Persistence ---

	// SaveDuration tracks remote and local save latency. Use with attribute:
	//   attribute.String("mode", ...)
	SaveDuration metric.Float64Histogram

	// Saves counts save attempts. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("status", ...)
	Saves metric.Int64Counter

	// StaleSaveCompletions counts saves that finished after the user had
	// moved to another session and were therefore not bound.
	StaleSaveCompletions metric.Int64Counter

	// BlankResets counts blank documents loaded. Use with attribute:
	//   attribute.String("reason", ...)
	BlankResets metric.Int64Counter

	// --- Voices ---

	// AnalysisDuration tracks text-analysis latency.
	AnalysisDuration metric.Float64Histogram

	// Comments counts analysis candidates by outcome. Use with attribute:
	//   attribute.String("outcome", "applied"|"staged"|"duplicate"|"overlapped"|"not_found")
	Comments metric.Int64Counter

	// ProviderRequests counts LLM calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts LLM failures. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks operations endpoint latency. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...), attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) spanning
// fast local writes up to slow LLM completions.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SaveDuration, err = m.Float64Histogram("inkmemory.save.duration",
		metric.WithDescription("Latency of session saves."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnalysisDuration, err = m.Float64Histogram("inkmemory.analysis.duration",
		metric.WithDescription("Latency of text analysis by the voices."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Saves, err = m.Int64Counter("inkmemory.saves",
		metric.WithDescription("Total session saves by mode and status."),
	); err != nil {
		return nil, err
	}
	if met.StaleSaveCompletions, err = m.Int64Counter("inkmemory.saves.stale",
		metric.WithDescription("Saves that completed after a session switch and were discarded."),
	); err != nil {
		return nil, err
	}
	if met.BlankResets, err = m.Int64Counter("inkmemory.blank_resets",
		metric.WithDescription("Blank documents loaded by reason."),
	); err != nil {
		return nil, err
	}
	if met.Comments, err = m.Int64Counter("inkmemory.comments",
		metric.WithDescription("Analysis candidates by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("inkmemory.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("inkmemory.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("inkmemory.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSave records one save attempt and its latency in seconds.
func (m *Metrics) RecordSave(ctx context.Context, mode, status string, seconds float64) {
	m.Saves.Add(ctx, 1, metric.WithAttributes(Attr("mode", mode), Attr("status", status)))
	m.SaveDuration.Record(ctx, seconds, metric.WithAttributes(Attr("mode", mode)))
}

// RecordStaleSave records a save completion that was discarded.
func (m *Metrics) RecordStaleSave(ctx context.Context) {
	m.StaleSaveCompletions.Add(ctx, 1)
}

// RecordBlankReset records a blank document being loaded.
func (m *Metrics) RecordBlankReset(ctx context.Context, reason string) {
	m.BlankResets.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordComments adds n candidates with the given outcome. n <= 0 is ignored.
func (m *Metrics) RecordComments(ctx context.Context, outcome string, n int) {
	if n <= 0 {
		return
	}
	m.Comments.Add(ctx, int64(n), metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
