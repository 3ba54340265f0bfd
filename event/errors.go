package event

import (
	"errors"
	"fmt"

	"github.com/KOMKZ/go-yogan-pipebus/errcode"
)

// ModuleCode is the errcode module number of this package
const ModuleCode = 20

// ErrStopPropagation stops event propagation (not considered an error).
// When a listener returns it, the remaining listeners of that pipeline do
// not run and nothing is reported.
var ErrStopPropagation = errors.New("stop propagation")

var (
	// ErrInvalidListener an owner declares a listener with an unusable signature
	ErrInvalidListener = errcode.Register(errcode.New(ModuleCode, 1, "event", "error.event.invalid_listener", "invalid listener"))

	// ErrCompileFailed a pipeline could not be rebuilt; the previous one stays active
	ErrCompileFailed = errcode.Register(errcode.New(ModuleCode, 2, "event", "error.event.compile_failed", "pipeline compile failed"))

	// ErrListenerFailed a listener returned an error
	ErrListenerFailed = errcode.Register(errcode.New(ModuleCode, 3, "event", "error.event.listener_failed", "listener failed"))

	// ErrListenerPanic a listener panicked inside an isolated pipeline
	ErrListenerPanic = errcode.Register(errcode.New(ModuleCode, 4, "event", "error.event.listener_panic", "listener panicked"))

	// ErrPipelinePanic a panic escaped a pipeline during publish
	ErrPipelinePanic = errcode.Register(errcode.New(ModuleCode, 5, "event", "error.event.pipeline_panic", "pipeline panicked"))

	// ErrBusClosed the bus no longer accepts async publications
	ErrBusClosed = errcode.Register(errcode.New(ModuleCode, 6, "event", "error.event.bus_closed", "event bus closed"))
)

// listenerError wraps a listener's own error, passing ErrStopPropagation through
func listenerError(key string, err error) error {
	if err == nil || errors.Is(err, ErrStopPropagation) {
		return err
	}
	return ErrListenerFailed.WithMsgf("listener %s failed", key).WithData("listener", key).Wrap(err)
}

// panicError converts a recovered value into an error carrying it
func panicError(base *errcode.LayeredError, where string, r any) error {
	var cause error
	switch v := r.(type) {
	case error:
		cause = v
	default:
		cause = &panicValue{value: v}
	}
	return base.WithMsgf("%s: %s", base.Message(), where).WithData("panic", r).Wrap(cause)
}

// panicValue carries a non-error panic value
type panicValue struct {
	value any
}

func (p *panicValue) Error() string {
	return fmt.Sprint(p.value)
}

// handlerPanic marks a panic raised by the fallback handler itself.
// It is re-raised unchanged at the publish boundary instead of being
// reported back to the same handler.
type handlerPanic struct {
	value any
}
