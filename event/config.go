package event

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/KOMKZ/go-yogan-pipebus/validator"
)

// Config event component settings, read from the "event" key
//
//	event:
//	  enabled: true
//	  pool_size: 100
//	  compile_parallelism: 4
//	  metrics: true
//	  tracing: false
//	  safety:
//	    - type: "*orders.OrderPlaced"
//	      mode: ignore
type Config struct {
	Enabled            bool         `mapstructure:"enabled" json:"enabled"`
	PoolSize           int          `mapstructure:"pool_size" json:"pool_size"`
	CompileParallelism int          `mapstructure:"compile_parallelism" json:"compile_parallelism"`
	Metrics            bool         `mapstructure:"metrics" json:"metrics"`
	Tracing            bool         `mapstructure:"tracing" json:"tracing"` // one span per publication when telemetry is on
	Safety             []SafetyRule `mapstructure:"safety" json:"safety"`
}

// SafetyRule sets the safety mode of one event type by its type name
type SafetyRule struct {
	Type string `mapstructure:"type" json:"type"`
	Mode string `mapstructure:"mode" json:"mode"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		PoolSize:           100,
		CompileParallelism: 4,
	}
}

// Validate implements validator.Validatable
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.PoolSize, validation.Min(1)),
		validation.Field(&c.CompileParallelism, validation.Min(0)),
		validation.Field(&c.Safety),
	)
}

// Validate implements validator.Validatable
func (r SafetyRule) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Type, validation.Required),
		validation.Field(&r.Mode, validation.Required, validation.By(func(value any) error {
			_, err := ParseSafetyMode(value.(string))
			return err
		})),
	)
}

// Options converts the config into bus options
func (c Config) Options() []Option {
	return []Option{
		WithPoolSize(c.PoolSize),
		WithCompileParallelism(c.CompileParallelism),
		WithSafetyRules(c.Safety),
	}
}

// validate runs Validate and converts rule errors into a LayeredError
func (c Config) validate() error {
	return validator.Validate(c)
}
