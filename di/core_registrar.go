package di

import (
	"github.com/samber/do/v2"
)

// RegisterCoreProviders registers every core provider, lowest layer first.
// All of them are lazy; StartCoreComponents forces the ones with side effects.
func RegisterCoreProviders(injector *do.RootScope, opts ConfigOptions) {
	// Layer 0: config
	do.Provide(injector, ProvideConfigLoader(opts))

	// Layer 1: logging
	do.Provide(injector, ProvideLoggerManager)
	do.Provide(injector, ProvideCtxLogger("yogan"))

	// Layer 2: telemetry
	do.Provide(injector, ProvideTelemetryManager)

	// Layer 3: event bus
	do.Provide(injector, ProvideEventComponent)
	do.Provide(injector, ProvideBus)
}
