package di

import (
	"context"

	"github.com/KOMKZ/go-yogan-pipebus/config"
	"github.com/KOMKZ/go-yogan-pipebus/event"
	"github.com/KOMKZ/go-yogan-pipebus/logger"
	"github.com/KOMKZ/go-yogan-pipebus/telemetry"
	"github.com/KOMKZ/go-yogan-pipebus/validator"
	"github.com/samber/do/v2"
	"go.uber.org/zap"
)

// ConfigOptions config loader options
type ConfigOptions struct {
	ConfigPath   string // configuration directory
	ConfigPrefix string // environment variable prefix
	Flags        any    // struct with `config` tags, applied over every other layer
}

// ProvideConfigLoader creates the *config.Loader provider; it has no dependencies
func ProvideConfigLoader(opts ConfigOptions) func(do.Injector) (*config.Loader, error) {
	return func(i do.Injector) (*config.Loader, error) {
		if opts.ConfigPath == "" {
			opts.ConfigPath = "./configs"
		}
		return config.NewLoaderBuilder().
			WithConfigPath(opts.ConfigPath).
			WithEnvPrefix(opts.ConfigPrefix).
			WithFlags(opts.Flags).
			Build()
	}
}

// ProvideLoggerManager reads the "logger" key, falling back to defaults
func ProvideLoggerManager(i do.Injector) (*logger.Manager, error) {
	loader, err := do.Invoke[*config.Loader](i)
	if err != nil || !loader.IsSet("logger") {
		return logger.NewManager(logger.DefaultManagerConfig()), nil
	}

	var cfg logger.ManagerConfig
	if err := loader.Unmarshal("logger", &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return logger.NewManager(cfg), nil
}

// ProvideCtxLogger returns a provider of the named module logger
func ProvideCtxLogger(moduleName string) func(do.Injector) (*logger.CtxZapLogger, error) {
	return func(i do.Injector) (*logger.CtxZapLogger, error) {
		mgr, err := do.Invoke[*logger.Manager](i)
		if err != nil {
			return logger.GetLogger(moduleName), nil
		}
		return mgr.GetLogger(moduleName), nil
	}
}

// ProvideTelemetryManager reads the "telemetry" key and starts the providers.
// The injector calls Shutdown on the manager when it shuts down.
func ProvideTelemetryManager(i do.Injector) (*telemetry.Manager, error) {
	cfg := telemetry.DefaultConfig()
	if loader, err := do.Invoke[*config.Loader](i); err == nil && loader.IsSet("telemetry") {
		if err := loader.Unmarshal("telemetry", &cfg); err != nil {
			return nil, err
		}
	}
	if err := validator.Validate(cfg); err != nil {
		return nil, err
	}

	mgr := telemetry.NewManager(cfg, invokeLogger(i))
	if err := mgr.Start(context.Background()); err != nil {
		return nil, err
	}
	return mgr, nil
}

// ProvideEventComponent initializes the event component from the "event" key.
// When telemetry is available the metrics are registered with its registry,
// and the bus gets its tracer if event.tracing is set.
func ProvideEventComponent(i do.Injector) (*event.Component, error) {
	loader, err := do.Invoke[*config.Loader](i)
	if err != nil {
		return nil, err
	}
	log := invokeLogger(i)

	var opts []event.Option
	tm, tmErr := do.Invoke[*telemetry.Manager](i)
	if tmErr == nil && tm.IsEnabled() && loader.GetBool("event.tracing") {
		opts = append(opts, event.WithTracer(tm.Tracer("event")))
	} else if tmErr != nil {
		log.Debug("event bus runs without telemetry", zap.Error(tmErr))
	}

	comp := event.NewComponent(opts...)
	if err := comp.Init(context.Background(), loader); err != nil {
		return nil, err
	}

	if m := comp.GetMetrics(); m != nil && tmErr == nil {
		if err := tm.Registry().Register(m); err != nil {
			_ = comp.Stop(context.Background())
			return nil, err
		}
	}
	return comp, nil
}

// ProvideBus exposes the bus of the event component
func ProvideBus(i do.Injector) (*event.Bus, error) {
	comp, err := do.Invoke[*event.Component](i)
	if err != nil {
		return nil, err
	}
	if !comp.IsEnabled() {
		return nil, ErrComponentNotFound("event bus")
	}
	return comp.GetBus(), nil
}

func invokeLogger(i do.Injector) *logger.CtxZapLogger {
	if log, err := do.Invoke[*logger.CtxZapLogger](i); err == nil && log != nil {
		return log
	}
	return logger.GetLogger("yogan")
}

// ErrComponentNotFound returns a ComponentNotFoundError
func ErrComponentNotFound(name string) error {
	return &ComponentNotFoundError{Name: name}
}

// ComponentNotFoundError is returned when a component is absent or disabled
type ComponentNotFoundError struct {
	Name string
}

func (e *ComponentNotFoundError) Error() string {
	return "component not found: " + e.Name
}
