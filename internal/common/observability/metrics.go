// internal/common/observability/metrics.go
package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Observability owns the meter and tracer providers of one binary. Its
// recorders are safe on a nil or zero value.
type Observability struct {
	meterProvider  *metric.MeterProvider
	tracerShutdown func(context.Context) error
	tracer         trace.Tracer

	jobs    otelmetric.Int64Counter
	jobTime otelmetric.Float64Histogram
	signals otelmetric.Int64Counter
}

// New exports meters through prometheus. Tracing stays a no-op until EnableTracing.
func New(serviceName string) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("prometheus exporter unavailable: %v", err)
		return &Observability{tracer: noop.NewTracerProvider().Tracer(serviceName)}
	}
	o := newWithReader(serviceName, exporter)
	otel.SetMeterProvider(o.meterProvider)
	return o
}

func newWithReader(serviceName string, reader metric.Reader) *Observability {
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	meter := provider.Meter(serviceName)
	o := &Observability{
		meterProvider: provider,
		tracer:        noop.NewTracerProvider().Tracer(serviceName),
	}
	o.jobs, _ = meter.Int64Counter("jobs.processed",
		otelmetric.WithDescription("Jobs handled by task type and outcome"))
	o.jobTime, _ = meter.Float64Histogram("jobs.duration",
		otelmetric.WithDescription("Job handling time"),
		otelmetric.WithUnit("s"))
	o.signals, _ = meter.Int64Counter("signals.published",
		otelmetric.WithDescription("Stage and journey completion messages sent to the broker"))
	return o
}

// StartSpan opens a span named name under ctx.
func (o *Observability) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	var tracer trace.Tracer
	if o != nil {
		tracer = o.tracer
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordJob counts one handled job and its duration. status is "completed"
// or the failure outcome reported to the broker.
func (o *Observability) RecordJob(ctx context.Context, taskType, status string, elapsed time.Duration) {
	if o == nil || o.jobs == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("task_type", taskType),
		attribute.String("status", status),
	)
	o.jobs.Add(ctx, 1, attrs)
	o.jobTime.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordSignal counts a completion message publish attempt.
func (o *Observability) RecordSignal(ctx context.Context, kind string, err error) {
	if o == nil || o.signals == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	o.signals.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("result", result),
	))
}

func (o *Observability) Shutdown() {
	if o == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if o.meterProvider != nil {
		_ = o.meterProvider.Shutdown(ctx)
	}
	if o.tracerShutdown != nil {
		_ = o.tracerShutdown(ctx)
	}
}
