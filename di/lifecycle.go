package di

import (
	"context"

	"github.com/KOMKZ/go-yogan-pipebus/event"
	"github.com/KOMKZ/go-yogan-pipebus/logger"
	"github.com/KOMKZ/go-yogan-pipebus/telemetry"
	"github.com/samber/do/v2"
	"go.uber.org/zap"
)

// StartCoreComponents forces the lazy providers that have side effects,
// telemetry first so the bus picks up its tracer and meter
func StartCoreComponents(ctx context.Context, injector *do.RootScope, log *logger.CtxZapLogger) error {
	if _, err := do.Invoke[*telemetry.Manager](injector); err != nil {
		return err
	}
	log.DebugCtx(ctx, "telemetry ready")

	comp, err := do.Invoke[*event.Component](injector)
	if err != nil {
		return err
	}
	if err := comp.Start(ctx); err != nil {
		return err
	}
	log.DebugCtx(ctx, "event component ready", zap.Bool("enabled", comp.IsEnabled()))
	return nil
}

// StopCoreComponents stops the event component, then shuts the injector
// down, which flushes telemetry
func StopCoreComponents(ctx context.Context, injector *do.RootScope, log *logger.CtxZapLogger) {
	if comp, err := do.Invoke[*event.Component](injector); err == nil {
		if err := comp.Stop(ctx); err != nil {
			log.ErrorCtx(ctx, "stop event component failed", zap.Error(err))
		}
	}

	injector.ShutdownWithContext(ctx)
	log.DebugCtx(ctx, "core components stopped")
}
