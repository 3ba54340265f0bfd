package telemetry

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config OpenTelemetry settings, read from the "telemetry" key
type Config struct {
	Enabled        bool              `mapstructure:"enabled" json:"enabled"`
	ServiceName    string            `mapstructure:"service_name" json:"service_name"`
	ServiceVersion string            `mapstructure:"service_version" json:"service_version"`
	Exporter       string            `mapstructure:"exporter" json:"exporter"` // stdout, noop
	SampleRatio    float64           `mapstructure:"sample_ratio" json:"sample_ratio"`
	ResourceAttrs  map[string]string `mapstructure:"resource_attributes" json:"resource_attributes"`
	Metrics        MetricsConfig     `mapstructure:"metrics" json:"metrics"`
}

// MetricsConfig metrics pipeline settings
type MetricsConfig struct {
	Enabled        bool              `mapstructure:"enabled" json:"enabled"`
	ExportInterval time.Duration     `mapstructure:"export_interval" json:"export_interval"`
	Namespace      string            `mapstructure:"namespace" json:"namespace"` // meter name prefix
	Labels         map[string]string `mapstructure:"labels" json:"labels"`       // env, region, etc.
}

// DefaultConfig returns a disabled configuration with usable defaults
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		ServiceName: "pipebus",
		Exporter:    "stdout",
		SampleRatio: 1,
		Metrics: MetricsConfig{
			Enabled:        true,
			ExportInterval: 10 * time.Second,
			Namespace:      "pipebus",
		},
	}
}

// Validate implements validator.Validatable
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.ServiceName, validation.Required),
		validation.Field(&c.Exporter, validation.Required, validation.In("stdout", "noop")),
		validation.Field(&c.SampleRatio, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.Metrics),
	)
}

// Validate implements validator.Validatable
func (c MetricsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.ExportInterval, validation.Min(time.Millisecond)),
	)
}
