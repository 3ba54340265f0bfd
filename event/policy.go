package event

import (
	"reflect"

	"github.com/KOMKZ/go-yogan-pipebus/logger"
	"go.uber.org/zap"
)

// ErrorHandler receives failures no pipeline-local policy handled:
// compile failures, errors escaping a pipeline, and Delegate-mode listener
// failures. A panic raised by the handler reaches the caller of Publish or
// Register unchanged.
type ErrorHandler func(err error)

// PanicHandler is the default fallback handler: it escalates by panicking
func PanicHandler(err error) {
	panic(err)
}

// LogHandler returns a handler that logs at error level and carries on
func LogHandler(log *logger.CtxZapLogger) ErrorHandler {
	return func(err error) {
		log.Error("event failure", zap.Error(err))
	}
}

// SetFallbackErrorHandler replaces the process-wide handler of this bus.
// Delegate-mode pipelines resolve the handler on every failure, so the
// replacement applies to them without recompiling. nil restores PanicHandler.
func (b *Bus) SetFallbackErrorHandler(h ErrorHandler) {
	if h == nil {
		h = PanicHandler
	}
	b.handler.Store(&h)
}

func (b *Bus) fallback() ErrorHandler {
	return *b.handler.Load()
}

// fail reports err to the fallback handler
func (b *Bus) fail(err error) {
	b.fallback()(err)
}

// delegate runs the fallback handler from inside a pipeline; a panic it
// raises is tagged so the publish boundary re-raises it instead of
// reporting it again
func (b *Bus) delegate(err error) {
	defer func() {
		if r := recover(); r != nil {
			panic(&handlerPanic{value: r})
		}
	}()
	b.fail(err)
}

// SetSafety overrides the safety mode for the type of sample and
// recompiles its pipeline
func (b *Bus) SetSafety(sample Event, mode SafetyMode) {
	b.SetSafetyFor(reflect.TypeOf(sample), mode)
}

// SetSafetyFor overrides the safety mode for eventType and recompiles its pipeline
func (b *Bus) SetSafetyFor(eventType reflect.Type, mode SafetyMode) {
	if eventType == nil {
		return
	}
	b.safetyMu.Lock()
	b.safetyOverrides[eventType] = mode
	b.safetyMu.Unlock()

	if err := b.recompile(eventType); err != nil {
		b.fail(err)
	}
}

// ClearSafety drops an override set with SetSafety or SetSafetyFor
func (b *Bus) ClearSafety(eventType reflect.Type) {
	b.safetyMu.Lock()
	_, ok := b.safetyOverrides[eventType]
	delete(b.safetyOverrides, eventType)
	b.safetyMu.Unlock()

	if !ok {
		return
	}
	if err := b.recompile(eventType); err != nil {
		b.fail(err)
	}
}

// SafetyOf reports the mode a pipeline for eventType is compiled with
func (b *Bus) SafetyOf(eventType reflect.Type) SafetyMode {
	return b.safetyFor(eventType)
}
