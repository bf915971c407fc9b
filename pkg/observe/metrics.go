// Package observe provides the OpenTelemetry metric instruments for the
// pipeline: queue depth, job outcomes, provider call latency, and stitch
// throughput. Metrics are exported through a Prometheus bridge and scraped
// via the standard /metrics endpoint.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all pipeline metrics.
const meterName = "github.com/skylark-media/atelier"

// Metrics holds all metric instruments. Fields are safe for concurrent use.
type Metrics struct {
	// DueJobs samples the number of claimable jobs per studio, emitted by
	// the worker heartbeat. Attribute: studio.
	DueJobs metric.Int64Gauge

	// JobsProcessed counts jobs reaching a terminal state or requeue.
	// Attributes: studio, status.
	JobsProcessed metric.Int64Counter

	// ProviderRequests counts provider round trips.
	// Attributes: provider, outcome.
	ProviderRequests metric.Int64Counter

	// ProviderDuration tracks provider round-trip latency.
	// Attributes: provider, outcome.
	ProviderDuration metric.Float64Histogram

	// SegmentsStitched counts segments joined into final long-form outputs.
	SegmentsStitched metric.Int64Counter

	// HTTPRequestDuration tracks API request processing time.
	// Attributes: method, path, status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets covers provider calls that range from sub-second JSON
// round trips to multi-minute compose operations.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates all instruments on the given provider. Tests pass a
// private MeterProvider to avoid cross-test pollution.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.DueJobs, err = m.Int64Gauge("atelier.queue.due_jobs",
		metric.WithDescription("Number of claimable jobs per studio."),
	); err != nil {
		return nil, err
	}
	if met.JobsProcessed, err = m.Int64Counter("atelier.jobs.processed",
		metric.WithDescription("Jobs processed by studio and resulting status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("atelier.provider.requests",
		metric.WithDescription("Provider API round trips by provider and outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProviderDuration, err = m.Float64Histogram("atelier.provider.duration",
		metric.WithDescription("Provider round-trip latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentsStitched, err = m.Int64Counter("atelier.longform.segments_stitched",
		metric.WithDescription("Segments joined into final long-form outputs."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("atelier.http.request.duration",
		metric.WithDescription("HTTP request latency by method, path, and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level Metrics instance, created on
// first call from the global MeterProvider.
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

// RecordDueJobs samples the claimable backlog for one studio.
func (m *Metrics) RecordDueJobs(ctx context.Context, studio string, n int) {
	m.DueJobs.Record(ctx, int64(n),
		metric.WithAttributes(attribute.String("studio", studio)))
}

// RecordJobProcessed counts one job outcome.
func (m *Metrics) RecordJobProcessed(ctx context.Context, studio, status string) {
	m.JobsProcessed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("studio", studio),
			attribute.String("status", status),
		))
}

// ObserveProviderRequest records one provider round trip. Satisfies the
// observer seam of the provider clients.
func (m *Metrics) ObserveProviderRequest(ctx context.Context, provider, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	)
	m.ProviderRequests.Add(ctx, 1, attrs)
	m.ProviderDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordSegmentsStitched counts segments joined by one stitch.
func (m *Metrics) RecordSegmentsStitched(ctx context.Context, n int) {
	m.SegmentsStitched.Add(ctx, int64(n))
}

// RecordHTTPRequest records one API request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path, status string, elapsed time.Duration) {
	m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
			attribute.String("status", status),
		))
}
