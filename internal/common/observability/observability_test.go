package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *metric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestStartSpanWithoutTracing(t *testing.T) {
	o := New("companion-test")
	defer o.Shutdown()

	ctx, span := o.StartSpan(context.Background(), "advance-stage", attribute.String("relationshipId", "r-1"))
	defer span.End()

	assert.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsSampled())
}

func TestRecordJob(t *testing.T) {
	reader := metric.NewManualReader()
	o := newWithReader("companion-test", reader)
	defer o.Shutdown()

	ctx := context.Background()
	o.RecordJob(ctx, "express-interest", "completed", 20*time.Millisecond)
	o.RecordJob(ctx, "express-interest", "completed", 40*time.Millisecond)
	o.RecordJob(ctx, "express-interest", "bpmn_error", time.Millisecond)

	data := collect(t, reader)
	sum, ok := data["jobs.processed"].(metricdata.Sum[int64])
	require.True(t, ok)
	byStatus := map[string]int64{}
	for _, dp := range sum.DataPoints {
		status, _ := dp.Attributes.Value("status")
		byStatus[status.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"completed": 2, "bpmn_error": 1}, byStatus)

	hist, ok := data["jobs.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.Len(t, hist.DataPoints, 2)
}

func TestRecordSignal(t *testing.T) {
	reader := metric.NewManualReader()
	o := newWithReader("companion-test", reader)
	defer o.Shutdown()

	o.RecordSignal(context.Background(), "stage_completed", nil)
	o.RecordSignal(context.Background(), "stage_completed", errors.New("unavailable"))

	sum, ok := collect(t, reader)["signals.published"].(metricdata.Sum[int64])
	require.True(t, ok)
	results := map[string]int64{}
	for _, dp := range sum.DataPoints {
		r, _ := dp.Attributes.Value("result")
		results[r.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"ok": 1, "error": 1}, results)
}

func TestRecordersTolerateZeroAndNil(t *testing.T) {
	var nilObs *Observability
	for _, o := range []*Observability{{}, nilObs} {
		assert.NotPanics(t, func() {
			o.RecordJob(context.Background(), "express-interest", "completed", time.Millisecond)
			o.RecordSignal(context.Background(), "journey_completed", nil)
			_, span := o.StartSpan(context.Background(), "noop")
			span.End()
			o.Shutdown()
		})
	}
}
