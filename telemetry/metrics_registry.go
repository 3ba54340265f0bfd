package telemetry

import (
	"fmt"
	"sync"

	"github.com/KOMKZ/go-yogan-pipebus/component"
	"github.com/KOMKZ/go-yogan-pipebus/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// MetricsRegistry hands each MetricsProvider its own Meter
type MetricsRegistry struct {
	meterProvider metric.MeterProvider
	meters        map[string]metric.Meter
	providers     []component.MetricsProvider
	baseLabels    []attribute.KeyValue
	namespace     string
	enabled       bool
	logger        *logger.CtxZapLogger
	mu            sync.RWMutex
}

// MetricsRegistryOption configures the MetricsRegistry
type MetricsRegistryOption func(*MetricsRegistry)

// WithNamespace sets the meter name prefix
func WithNamespace(namespace string) MetricsRegistryOption {
	return func(r *MetricsRegistry) {
		r.namespace = namespace
	}
}

// WithBaseLabels sets the global labels
func WithBaseLabels(labels []attribute.KeyValue) MetricsRegistryOption {
	return func(r *MetricsRegistry) {
		r.baseLabels = labels
	}
}

// WithLogger sets the registry logger
func WithLogger(l *logger.CtxZapLogger) MetricsRegistryOption {
	return func(r *MetricsRegistry) {
		r.logger = l
	}
}

// NewMetricsRegistry creates a registry; a nil mp means the global MeterProvider
func NewMetricsRegistry(mp metric.MeterProvider, opts ...MetricsRegistryOption) *MetricsRegistry {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	r := &MetricsRegistry{
		meterProvider: mp,
		meters:        make(map[string]metric.Meter),
		namespace:     "pipebus",
		enabled:       true,
		logger:        logger.GetLogger("yogan"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates the provider's Meter and calls RegisterMetrics on it.
// Disabled providers and a disabled registry are skipped silently.
func (r *MetricsRegistry) Register(provider component.MetricsProvider) error {
	if provider == nil {
		return fmt.Errorf("metrics provider is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return nil
	}

	name := provider.MetricsName()
	if !provider.IsMetricsEnabled() {
		r.logger.Debug("metrics disabled for provider", zap.String("provider", name))
		return nil
	}
	if name == "" {
		return fmt.Errorf("metrics provider name is empty")
	}

	for _, p := range r.providers {
		if p.MetricsName() == name {
			return fmt.Errorf("metrics provider %q already registered", name)
		}
	}

	if err := provider.RegisterMetrics(r.getMeterLocked(name)); err != nil {
		return fmt.Errorf("register metrics for %q failed: %w", name, err)
	}

	r.providers = append(r.providers, provider)
	r.logger.Info("metrics provider registered", zap.String("provider", name))
	return nil
}

// GetMeter returns the Meter named {namespace}_{name}
func (r *MetricsRegistry) GetMeter(name string) metric.Meter {
	r.mu.RLock()
	if meter, ok := r.meters[name]; ok {
		r.mu.RUnlock()
		return meter
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getMeterLocked(name)
}

func (r *MetricsRegistry) getMeterLocked(name string) metric.Meter {
	if meter, ok := r.meters[name]; ok {
		return meter
	}

	meterName := name
	if r.namespace != "" {
		meterName = r.namespace + "_" + name
	}
	meter := r.meterProvider.Meter(meterName,
		metric.WithInstrumentationAttributes(r.baseLabels...))
	r.meters[name] = meter
	return meter
}

// GetBaseLabels returns a copy of the global labels
func (r *MetricsRegistry) GetBaseLabels() []attribute.KeyValue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]attribute.KeyValue{}, r.baseLabels...)
}

// IsEnabled reports whether Register does anything
func (r *MetricsRegistry) IsEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// SetEnabled enables or disables registration
func (r *MetricsRegistry) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// GetProviderCount returns the number of registered providers
func (r *MetricsRegistry) GetProviderCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
