// Package metrics exposes agent dispatch counters as Prometheus metrics
// through an OpenTelemetry meter.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the agent's instruments. It satisfies dispatch.Recorder.
type Metrics struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider

	EventsRecorded    metric.Int64Counter
	BatchesDelivered  metric.Int64Counter
	BatchesAbandoned  metric.Int64Counter
	EventsDelivered   metric.Int64Counter
	EventsAbandoned   metric.Int64Counter
	Retries           metric.Int64Counter
	DeliveryDuration  metric.Float64Histogram
	DeliveryAttempts  metric.Int64Histogram
	BatchSize         metric.Int64Gauge
	HTTPRequestsTotal metric.Int64Counter
}

// New creates the instruments on a private registry and returns the
// handler that serves it in the Prometheus text format.
func New(device string) (*Metrics, http.Handler, error) {
	reg := promclient.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, nil, fmt.Errorf("metrics: exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m := &Metrics{
		meter:    provider.Meter("eventhub-agent", metric.WithInstrumentationAttributes(attribute.String("device", device))),
		provider: provider,
	}
	if err := m.init(); err != nil {
		return nil, nil, fmt.Errorf("metrics: %w", err)
	}
	return m, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

func (m *Metrics) init() error {
	var err error
	if m.EventsRecorded, err = m.meter.Int64Counter("eventhub_events_recorded",
		metric.WithDescription("Events accepted into the buffer")); err != nil {
		return err
	}
	if m.BatchesDelivered, err = m.meter.Int64Counter("eventhub_batches_delivered",
		metric.WithDescription("Batches accepted by the endpoint")); err != nil {
		return err
	}
	if m.BatchesAbandoned, err = m.meter.Int64Counter("eventhub_batches_abandoned",
		metric.WithDescription("Batches dropped after exhausting retries")); err != nil {
		return err
	}
	if m.EventsDelivered, err = m.meter.Int64Counter("eventhub_events_delivered",
		metric.WithDescription("Events contained in delivered batches")); err != nil {
		return err
	}
	if m.EventsAbandoned, err = m.meter.Int64Counter("eventhub_events_abandoned",
		metric.WithDescription("Events contained in abandoned batches")); err != nil {
		return err
	}
	if m.Retries, err = m.meter.Int64Counter("eventhub_send_retries",
		metric.WithDescription("Failed attempts followed by a backoff sleep")); err != nil {
		return err
	}
	if m.DeliveryDuration, err = m.meter.Float64Histogram("eventhub_delivery_duration_seconds",
		metric.WithDescription("Time from first attempt to acceptance"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120)); err != nil {
		return err
	}
	if m.DeliveryAttempts, err = m.meter.Int64Histogram("eventhub_delivery_attempts",
		metric.WithDescription("Attempts needed to deliver a batch"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5, 6, 8, 10)); err != nil {
		return err
	}
	if m.BatchSize, err = m.meter.Int64Gauge("eventhub_last_batch_size",
		metric.WithDescription("Events in the most recently dispatched batch")); err != nil {
		return err
	}
	if m.HTTPRequestsTotal, err = m.meter.Int64Counter("eventhub_intake_requests",
		metric.WithDescription("Requests served by the local intake API")); err != nil {
		return err
	}
	return nil
}

// ObserveInFlight registers fn as the source of the in-flight batch gauge.
func (m *Metrics) ObserveInFlight(fn func() int64) error {
	return m.observe("eventhub_batches_in_flight",
		"Batches currently being delivered or waiting to retry", fn)
}

// ObserveBuffered registers fn as the source of the buffer depth gauge.
func (m *Metrics) ObserveBuffered(fn func() int64) error {
	return m.observe("eventhub_buffer_depth",
		"Events recorded and waiting for the next dispatch cycle", fn)
}

func (m *Metrics) observe(name, desc string, fn func() int64) error {
	g, err := m.meter.Int64ObservableGauge(name, metric.WithDescription(desc))
	if err != nil {
		return fmt.Errorf("metrics: %s gauge: %w", name, err)
	}
	_, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(g, fn())
		return nil
	}, g)
	if err != nil {
		return fmt.Errorf("metrics: %s callback: %w", name, err)
	}
	return nil
}

// Shutdown flushes and releases the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

func (m *Metrics) RecordEvent(ctx context.Context) {
	m.EventsRecorded.Add(ctx, 1)
}

func (m *Metrics) RecordBatchDelivered(ctx context.Context, events, attempts int, durationSeconds float64) {
	m.BatchesDelivered.Add(ctx, 1)
	m.EventsDelivered.Add(ctx, int64(events))
	m.DeliveryAttempts.Record(ctx, int64(attempts))
	m.DeliveryDuration.Record(ctx, durationSeconds)
}

func (m *Metrics) RecordBatchAbandoned(ctx context.Context, events int) {
	m.BatchesAbandoned.Add(ctx, 1)
	m.EventsAbandoned.Add(ctx, int64(events))
}

func (m *Metrics) RecordRetry(ctx context.Context) {
	m.Retries.Add(ctx, 1)
}

// RecordBatchSize records the event count of a dispatched batch.
func (m *Metrics) RecordBatchSize(ctx context.Context, size int64) {
	m.BatchSize.Record(ctx, size)
}

// RecordHTTPRequest counts one intake request by route and status class.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, route string, status int) {
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("status", fmt.Sprintf("%dxx", status/100)),
	))
}
