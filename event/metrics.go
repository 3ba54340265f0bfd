package event

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EventMetricsConfig holds configuration for Event metrics
type EventMetricsConfig struct {
	Enabled bool

	// RecordPipelineGauge exports the number of active pipelines
	RecordPipelineGauge bool
}

// EventMetrics implements component.MetricsProvider for bus instrumentation.
// A nil *EventMetrics records nothing.
type EventMetrics struct {
	config     EventMetricsConfig
	meter      metric.Meter
	registered atomic.Bool // read on every publish
	mu         sync.RWMutex

	published        metric.Int64Counter       // publications that reached a pipeline
	publishDuration  metric.Float64Histogram   // time spent in both pipelines
	listenerFailures metric.Int64Counter       // failed listener calls, by safety mode
	compiles         metric.Int64Counter       // pipeline builds, by result
	pipelinesActive  metric.Int64ObservableGauge

	pipelineCountCallback func() int64
}

// NewEventMetrics creates a new Event metrics provider
func NewEventMetrics(cfg EventMetricsConfig) *EventMetrics {
	return &EventMetrics{
		config: cfg,
	}
}

// MetricsName returns the metrics group name
func (m *EventMetrics) MetricsName() string {
	return "event"
}

// IsMetricsEnabled returns whether metrics collection is enabled
func (m *EventMetrics) IsMetricsEnabled() bool {
	return m.config.Enabled
}

// RegisterMetrics registers all Event metrics with the provided Meter
func (m *EventMetrics) RegisterMetrics(meter metric.Meter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered.Load() {
		return nil
	}

	m.meter = meter
	var err error

	m.published, err = meter.Int64Counter(
		"event_published_total",
		metric.WithDescription("Total number of events published to at least one pipeline"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	m.publishDuration, err = meter.Float64Histogram(
		"event_publish_duration_seconds",
		metric.WithDescription("Event publish duration distribution"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	m.listenerFailures, err = meter.Int64Counter(
		"event_listener_failures_total",
		metric.WithDescription("Total number of failed listener calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return err
	}

	m.compiles, err = meter.Int64Counter(
		"event_pipeline_compiles_total",
		metric.WithDescription("Total number of pipeline builds"),
		metric.WithUnit("{pipeline}"),
	)
	if err != nil {
		return err
	}

	if m.config.RecordPipelineGauge {
		m.pipelinesActive, err = meter.Int64ObservableGauge(
			"event_pipelines_active",
			metric.WithDescription("Current number of event types with a pipeline"),
			metric.WithUnit("{pipeline}"),
			metric.WithInt64Callback(m.collectPipelineCount),
		)
		if err != nil {
			return err
		}
	}

	m.registered.Store(true)
	return nil
}

func (m *EventMetrics) collectPipelineCount(_ context.Context, observer metric.Int64Observer) error {
	m.mu.RLock()
	callback := m.pipelineCountCallback
	m.mu.RUnlock()

	if callback != nil {
		observer.Observe(callback())
	}
	return nil
}

// SetPipelineCountCallback sets the source of the active pipeline gauge
func (m *EventMetrics) SetPipelineCountCallback(callback func() int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipelineCountCallback = callback
}

// RecordPublished records one publication
func (m *EventMetrics) RecordPublished(ctx context.Context, eventType string, duration time.Duration) {
	if !m.IsRegistered() {
		return
	}

	attrs := metric.WithAttributes(attribute.String("event_type", eventType))
	m.published.Add(ctx, 1, attrs)
	m.publishDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordListenerFailure records a failed listener call
func (m *EventMetrics) RecordListenerFailure(ctx context.Context, eventType string, mode SafetyMode) {
	if !m.IsRegistered() {
		return
	}

	m.listenerFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("safety", mode.String()),
	))
}

// RecordCompile records a pipeline build
func (m *EventMetrics) RecordCompile(eventType string, ok bool) {
	if !m.IsRegistered() {
		return
	}

	result := "success"
	if !ok {
		result = "failure"
	}
	m.compiles.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("result", result),
	))
}

// IsRegistered returns whether metrics have been registered
func (m *EventMetrics) IsRegistered() bool {
	return m != nil && m.registered.Load()
}
