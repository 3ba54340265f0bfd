package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/KOMKZ/go-yogan-pipebus/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Manager owns the tracer and meter providers and the metrics registry
type Manager struct {
	config Config
	logger *logger.CtxZapLogger
	output io.Writer

	spanExporter sdktrace.SpanExporter // overrides the configured exporter
	metricReader sdkmetric.Reader      // overrides the periodic reader

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	registry       *MetricsRegistry
	mu             sync.RWMutex
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithOutput sets the writer of the stdout exporters
func WithOutput(w io.Writer) ManagerOption {
	return func(m *Manager) {
		m.output = w
	}
}

// WithSpanExporter replaces the configured span exporter
func WithSpanExporter(exp sdktrace.SpanExporter) ManagerOption {
	return func(m *Manager) {
		m.spanExporter = exp
	}
}

// WithMetricReader replaces the periodic reader, e.g. with a manual reader in tests
func WithMetricReader(r sdkmetric.Reader) ManagerOption {
	return func(m *Manager) {
		m.metricReader = r
	}
}

// NewManager creates a telemetry manager; nothing is built before Start
func NewManager(cfg Config, log *logger.CtxZapLogger, opts ...ManagerOption) *Manager {
	if log == nil {
		log = logger.GetLogger("yogan")
	}
	m := &Manager{
		config: cfg,
		logger: log,
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start builds the providers and installs them globally
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.config.Enabled {
		m.registry = NewMetricsRegistry(noop.NewMeterProvider(),
			WithNamespace(m.config.Metrics.Namespace), WithLogger(m.logger))
		m.registry.SetEnabled(false)
		m.logger.InfoCtx(ctx, "telemetry disabled")
		return nil
	}
	if m.tracerProvider != nil {
		return nil
	}

	res, err := m.createResource(ctx)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	tp, err := m.createTracerProvider(res)
	if err != nil {
		return err
	}
	m.tracerProvider = tp
	otel.SetTracerProvider(tp)

	var mp metric.MeterProvider = noop.NewMeterProvider()
	if m.config.Metrics.Enabled {
		sdkmp, err := m.createMeterProvider(res)
		if err != nil {
			_ = tp.Shutdown(ctx)
			m.tracerProvider = nil
			return err
		}
		m.meterProvider = sdkmp
		otel.SetMeterProvider(sdkmp)
		mp = sdkmp
	}

	m.registry = NewMetricsRegistry(mp,
		WithNamespace(m.config.Metrics.Namespace),
		WithBaseLabels(labels(m.config.Metrics.Labels)),
		WithLogger(m.logger))
	m.registry.SetEnabled(m.config.Metrics.Enabled)

	m.logger.InfoCtx(ctx, "telemetry started",
		zap.String("service_name", m.config.ServiceName),
		zap.String("exporter", m.config.Exporter),
		zap.Bool("metrics", m.config.Metrics.Enabled))
	return nil
}

func (m *Manager) createResource(ctx context.Context) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", m.config.ServiceName),
	}
	if m.config.ServiceVersion != "" {
		attrs = append(attrs, attribute.String("service.version", m.config.ServiceVersion))
	}
	for k, v := range m.config.ResourceAttrs {
		attrs = append(attrs, attribute.String(k, os.ExpandEnv(v)))
	}
	return resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithTelemetrySDK(),
	)
}

func (m *Manager) createTracerProvider(res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exporter := m.spanExporter
	if exporter == nil {
		var err error
		switch m.config.Exporter {
		case "stdout":
			exporter, err = stdouttrace.New(stdouttrace.WithWriter(m.output), stdouttrace.WithPrettyPrint())
		case "noop":
			exporter = noopExporter{}
		default:
			err = fmt.Errorf("unsupported exporter type: %s", m.config.Exporter)
		}
		if err != nil {
			return nil, fmt.Errorf("create span exporter: %w", err)
		}
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(m.config.SampleRatio))),
		sdktrace.WithSyncer(exporter),
	), nil
}

func (m *Manager) createMeterProvider(res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	reader := m.metricReader
	if reader == nil {
		var exporter sdkmetric.Exporter
		var err error
		switch m.config.Exporter {
		case "stdout":
			exporter, err = stdoutmetric.New(stdoutmetric.WithWriter(m.output))
		case "noop":
			return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil
		default:
			err = fmt.Errorf("unsupported exporter type: %s", m.config.Exporter)
		}
		if err != nil {
			return nil, fmt.Errorf("create metrics exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(m.config.Metrics.ExportInterval))
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	), nil
}

// Shutdown flushes and stops both providers
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if m.meterProvider != nil {
		errs = append(errs, m.meterProvider.Shutdown(ctx))
		m.meterProvider = nil
	}
	if m.tracerProvider != nil {
		errs = append(errs, m.tracerProvider.Shutdown(ctx))
		m.tracerProvider = nil
	}
	return errors.Join(errs...)
}

// Tracer returns a tracer, a no-op one when telemetry is disabled
func (m *Manager) Tracer(name string) trace.Tracer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.tracerProvider == nil {
		return tracenoop.NewTracerProvider().Tracer(name)
	}
	return m.tracerProvider.Tracer(name)
}

// Registry returns the metrics registry, nil before Start
func (m *Manager) Registry() *MetricsRegistry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registry
}

// IsEnabled whether enabled
func (m *Manager) IsEnabled() bool {
	return m.config.Enabled
}

// GetConfig returns the configuration
func (m *Manager) GetConfig() Config {
	return m.config
}

func labels(m map[string]string) []attribute.KeyValue {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, attribute.String(k, m[k]))
	}
	return out
}

type noopExporter struct{}

func (noopExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error {
	return nil
}

func (noopExporter) Shutdown(context.Context) error {
	return nil
}
