// Package metrics provides the OpenTelemetry instrumentation for the VAD
// handler (SPEC_FULL.md §4.1's expansion): counters for frames processed
// and terminal iterator events, and a histogram of per-frame inference
// latency.
package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "silerovad"

// Metrics holds every OpenTelemetry instrument the Handler records against.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronization.
type Metrics struct {
	FramesProcessed  metric.Int64Counter
	SpeechStarts     metric.Int64Counter
	RealSpeechStarts metric.Int64Counter
	SpeechEnds       metric.Int64Counter
	Misfires         metric.Int64Counter
	Chunks           metric.Int64Counter
	Errors           metric.Int64Counter

	InferenceDuration metric.Float64Histogram
}

var inferenceLatencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
}

// New creates a fully initialized Metrics struct using mp. Returns an error
// if any instrument creation fails.
func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesProcessed, err = m.Int64Counter("silerovad.frames_processed",
		metric.WithDescription("Total audio frames run through the model."),
	); err != nil {
		return nil, err
	}
	if met.SpeechStarts, err = m.Int64Counter("silerovad.speech_starts",
		metric.WithDescription("Total speechStart events emitted."),
	); err != nil {
		return nil, err
	}
	if met.RealSpeechStarts, err = m.Int64Counter("silerovad.real_speech_starts",
		metric.WithDescription("Total realSpeechStart events emitted."),
	); err != nil {
		return nil, err
	}
	if met.SpeechEnds, err = m.Int64Counter("silerovad.speech_ends",
		metric.WithDescription("Total speechEnd events emitted."),
	); err != nil {
		return nil, err
	}
	if met.Misfires, err = m.Int64Counter("silerovad.misfires",
		metric.WithDescription("Total misfire events emitted."),
	); err != nil {
		return nil, err
	}
	if met.Chunks, err = m.Int64Counter("silerovad.chunks",
		metric.WithDescription("Total chunk events emitted, by isFinal."),
	); err != nil {
		return nil, err
	}
	if met.Errors, err = m.Int64Counter("silerovad.errors",
		metric.WithDescription("Total error events emitted, by kind."),
	); err != nil {
		return nil, err
	}
	if met.InferenceDuration, err = m.Float64Histogram("silerovad.inference.duration",
		metric.WithDescription("Per-frame model inference latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(inferenceLatencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// Default returns the package-level Metrics instance, creating it on first
// call against otel.GetMeterProvider(). Subsequent calls return the same
// pointer.
func Default() (*Metrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = New(otel.GetMeterProvider())
	})
	return defaultMetrics, defaultMetricsErr
}

// RecordChunk records a chunk event, tagged by whether it was final.
func (m *Metrics) RecordChunk(ctx context.Context, isFinal bool) {
	m.Chunks.Add(ctx, 1, metric.WithAttributes(attribute.Bool("is_final", isFinal)))
}

// RecordError records an error event, tagged by its Kind string.
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
