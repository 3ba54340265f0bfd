package component

import (
	"go.opentelemetry.io/otel/metric"
)

// MetricsProvider is implemented by components that expose metrics.
//
//	func (m *Metrics) MetricsName() string { return "event" }
//
//	func (m *Metrics) RegisterMetrics(meter metric.Meter) error {
//	    counter, err := meter.Int64Counter("event_published_total")
//	    ...
//	}
type MetricsProvider interface {
	// MetricsName is a short lowercase group name such as "event"
	MetricsName() string

	// RegisterMetrics creates instruments on meter
	RegisterMetrics(meter metric.Meter) error

	// IsMetricsEnabled reports whether collection is on
	IsMetricsEnabled() bool
}
