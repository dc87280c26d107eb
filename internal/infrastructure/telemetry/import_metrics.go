package telemetry

import (
	"context"
	"fmt"
	"time"

	importapp "github.com/marketplace/backend/internal/application/import"
	"github.com/marketplace/backend/internal/domain/bulk"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const importMeterName = "github.com/marketplace/backend/import"

// Counter is a helper for creating and recording counter metrics.
type Counter struct {
	counter metric.Int64Counter
}

// NewCounter creates a new Counter metric.
func NewCounter(meter metric.Meter, name, description, unit string) (*Counter, error) {
	c, err := meter.Int64Counter(
		name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return &Counter{counter: c}, nil
}

// Inc increments the counter by 1 with optional attributes.
func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Histogram is a helper for creating and recording histogram metrics.
type Histogram struct {
	histogram metric.Float64Histogram
}

// HistogramOpts provides options for creating a histogram.
type HistogramOpts struct {
	Name        string
	Description string
	Unit        string
	Boundaries  []float64
}

// NewHistogram creates a new Histogram metric.
func NewHistogram(meter metric.Meter, opts HistogramOpts) (*Histogram, error) {
	histogramOpts := []metric.Float64HistogramOption{
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	}
	if len(opts.Boundaries) > 0 {
		histogramOpts = append(histogramOpts,
			metric.WithExplicitBucketBoundaries(opts.Boundaries...),
		)
	}

	h, err := meter.Float64Histogram(opts.Name, histogramOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", opts.Name, err)
	}
	return &Histogram{histogram: h}, nil
}

// Record records a raw value.
func (h *Histogram) Record(ctx context.Context, v float64, attrs ...attribute.KeyValue) {
	h.histogram.Record(ctx, v, metric.WithAttributes(attrs...))
}

// RecordDuration records a duration in seconds.
func (h *Histogram) RecordDuration(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	h.histogram.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

// ImportMetrics records import throughput: rows by outcome, finished jobs by
// terminal status and wall-clock job duration.
type ImportMetrics struct {
	meter        metric.Meter
	rows         *Counter
	jobsFinished *Counter
	jobDuration  *Histogram
}

var _ importapp.Metrics = (*ImportMetrics)(nil)

// NewImportMetrics registers the import instruments on the meter.
func NewImportMetrics(meter metric.Meter) (*ImportMetrics, error) {
	rows, err := NewCounter(meter, "import.rows.processed", "Rows resolved by import jobs", "{row}")
	if err != nil {
		return nil, err
	}
	jobs, err := NewCounter(meter, "import.jobs.finished", "Import jobs that reached a terminal status", "{job}")
	if err != nil {
		return nil, err
	}
	duration, err := NewHistogram(meter, HistogramOpts{
		Name:        "import.job.duration",
		Description: "Time from start to terminal status",
		Unit:        "s",
		Boundaries:  []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})
	if err != nil {
		return nil, err
	}
	return &ImportMetrics{
		meter:        meter,
		rows:         rows,
		jobsFinished: jobs,
		jobDuration:  duration,
	}, nil
}

// NewImportMetricsFromProvider uses the provider's import meter.
func NewImportMetricsFromProvider(mp *MeterProvider) (*ImportMetrics, error) {
	return NewImportMetrics(mp.Meter(importMeterName))
}

// RowProcessed counts one resolved row.
func (m *ImportMetrics) RowProcessed(ctx context.Context, outcome string) {
	m.rows.Inc(ctx, attribute.String("outcome", outcome))
}

// JobFinished counts a job that left processing for good.
func (m *ImportMetrics) JobFinished(ctx context.Context, status bulk.JobStatus, duration time.Duration) {
	attrs := attribute.String("status", string(status))
	m.jobsFinished.Inc(ctx, attrs)
	if duration > 0 {
		m.jobDuration.RecordDuration(ctx, duration, attrs)
	}
}

// ObserveQueue reports how many job IDs are waiting for a worker.
func (m *ImportMetrics) ObserveQueue(waiting func() int) error {
	_, err := m.meter.Int64ObservableGauge(
		"import.queue.waiting",
		metric.WithDescription("Job IDs enqueued but not yet taken by a worker"),
		metric.WithUnit("{job}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(waiting()))
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create queue gauge: %w", err)
	}
	return nil
}
