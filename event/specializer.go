package event

import (
	"context"
	"errors"
	"reflect"
)

// Caller invokes one listener with its receiver and arguments pre-bound
type Caller func(ctx context.Context, e Event) error

// Pipeline is the compiled call sequence of one event type.
// It is immutable once built.
type Pipeline interface {
	Invoke(ctx context.Context, e Event) error
}

// Step is one guarded call of a Plan
type Step struct {
	Descriptor Descriptor

	// StopIfCancelled ends the whole pipeline when the event is cancelled
	StopIfCancelled bool

	// SkipIfCancelled skips only this call when the event is cancelled
	SkipIfCancelled bool

	// Filter skips this call when a typed event reports another sub-type;
	// SubTypeAll disables the check
	Filter SubType

	Caller Caller
}

// Plan is the ordered, guarded call list handed to a Specializer
type Plan struct {
	EventType reflect.Type

	// Dynamic means EventType is an interface, so guards are resolved
	// against each published value instead of once at compile time
	Dynamic bool

	Safety SafetyMode

	// OnFailure handles an isolated call failure; unused under SafetyPropagate
	OnFailure func(ctx context.Context, e Event, err error)

	Steps []Step
}

// Specializer builds callers and pipelines
type Specializer interface {
	// Wrap pre-binds d's callable for the pipeline of eventType
	Wrap(eventType reflect.Type, d Descriptor) (Caller, error)

	// Compile folds a plan into one pipeline
	Compile(plan Plan) (Pipeline, error)
}

// ClosureSpecializer compiles plans into a chain of closures. The shape of
// every link is chosen once at compile time from its guard flags, so a
// publication runs straight-line calls without consulting the registry.
type ClosureSpecializer struct{}

// Wrap implements Specializer
func (ClosureSpecializer) Wrap(eventType reflect.Type, d Descriptor) (Caller, error) {
	c := d.Callable
	key := c.key
	sources := c.argSources(eventType)

	if c.native != nil {
		native := c.native
		if sources[len(sources)-1] != argEvent {
			return func(ctx context.Context, _ Event) error {
				return listenerError(key, native(ctx, nil))
			}, nil
		}
		return func(ctx context.Context, e Event) error {
			return listenerError(key, native(ctx, e))
		}, nil
	}

	if !c.fn.IsValid() {
		return nil, errors.New("listener " + key + " has no callable")
	}

	fn := c.fn
	returnsError := fn.Type().NumOut() == 1
	base := make([]reflect.Value, len(sources))
	for i, src := range sources {
		if src == argZero {
			base[i] = reflect.Zero(c.params[i])
		}
	}

	call := func(args []reflect.Value) error {
		out := fn.Call(args)
		if !returnsError {
			return nil
		}
		err, _ := out[0].Interface().(error)
		return listenerError(key, err)
	}

	switch {
	case len(sources) == 0:
		return func(context.Context, Event) error {
			return call(nil)
		}, nil
	case len(sources) == 1 && sources[0] == argEvent:
		return func(_ context.Context, e Event) error {
			return call([]reflect.Value{reflect.ValueOf(e)})
		}, nil
	}

	return func(ctx context.Context, e Event) error {
		args := make([]reflect.Value, len(base))
		copy(args, base)
		for i, src := range sources {
			switch src {
			case argContext:
				args[i] = reflect.ValueOf(ctx)
			case argEvent:
				args[i] = reflect.ValueOf(e)
			}
		}
		return call(args)
	}, nil
}

// Compile implements Specializer
func (ClosureSpecializer) Compile(plan Plan) (Pipeline, error) {
	if plan.EventType == nil {
		return nil, errors.New("plan has no event type")
	}

	var chain Caller = func(context.Context, Event) error { return nil }
	for i := len(plan.Steps) - 1; i >= 0; i-- {
		step := plan.Steps[i]
		if step.Caller == nil {
			return nil, errors.New("step " + step.Descriptor.Callable.key + " has no caller")
		}
		chain = link(plan, step, chain)
	}

	return &closurePipeline{eventType: plan.EventType, size: len(plan.Steps), run: chain}, nil
}

type closurePipeline struct {
	eventType reflect.Type
	size      int
	run       Caller
}

func (p *closurePipeline) Invoke(ctx context.Context, e Event) error {
	return p.run(ctx, e)
}

func (p *closurePipeline) Len() int {
	return p.size
}

// link prepends one step to the chain
func link(plan Plan, step Step, next Caller) Caller {
	call := step.Caller
	if plan.Safety.isolated() {
		call = isolate(step.Descriptor.Callable.key, call, plan.OnFailure)
	}

	body := func(ctx context.Context, e Event) error {
		if err := call(ctx, e); err != nil {
			if errors.Is(err, ErrStopPropagation) {
				return nil
			}
			return err
		}
		return next(ctx, e)
	}

	if plan.Dynamic {
		return dynamicGuard(step, body, next)
	}
	return staticGuard(step, body, next)
}

// isolate confines a call's error or panic to onFailure
func isolate(key string, call Caller, onFailure func(context.Context, Event, error)) Caller {
	return func(ctx context.Context, e Event) error {
		err := protect(key, call, ctx, e)
		if err == nil || errors.Is(err, ErrStopPropagation) {
			return err
		}
		if onFailure != nil {
			onFailure(ctx, e, err)
		}
		return nil
	}
}

func protect(key string, call Caller, ctx context.Context, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(ErrListenerPanic, "listener "+key, r)
		}
	}()
	return call(ctx, e)
}

// staticGuard picks the link shape for a concrete event type; the type
// assertions cannot fail because the compiler only sets flags the type supports
func staticGuard(step Step, body, next Caller) Caller {
	filter := step.Filter

	switch {
	case step.StopIfCancelled && filter != SubTypeAll:
		return func(ctx context.Context, e Event) error {
			if e.(Cancellable).IsCancelled() {
				return nil
			}
			if e.(Typed).SubType() != filter {
				return next(ctx, e)
			}
			return body(ctx, e)
		}
	case step.StopIfCancelled:
		return func(ctx context.Context, e Event) error {
			if e.(Cancellable).IsCancelled() {
				return nil
			}
			return body(ctx, e)
		}
	case step.SkipIfCancelled && filter != SubTypeAll:
		return func(ctx context.Context, e Event) error {
			if e.(Cancellable).IsCancelled() || e.(Typed).SubType() != filter {
				return next(ctx, e)
			}
			return body(ctx, e)
		}
	case step.SkipIfCancelled:
		return func(ctx context.Context, e Event) error {
			if e.(Cancellable).IsCancelled() {
				return next(ctx, e)
			}
			return body(ctx, e)
		}
	case filter != SubTypeAll:
		return func(ctx context.Context, e Event) error {
			if e.(Typed).SubType() != filter {
				return next(ctx, e)
			}
			return body(ctx, e)
		}
	default:
		return body
	}
}

// dynamicGuard resolves capabilities per published value
func dynamicGuard(step Step, body, next Caller) Caller {
	stop, skip, filter := step.StopIfCancelled, step.SkipIfCancelled, step.Filter

	return func(ctx context.Context, e Event) error {
		if c, ok := e.(Cancellable); ok && c.IsCancelled() {
			if _, stoppable := e.(Stoppable); stoppable && stop {
				return nil
			}
			if skip {
				return next(ctx, e)
			}
		}
		if filter != SubTypeAll {
			if t, ok := e.(Typed); ok && t.SubType() != filter {
				return next(ctx, e)
			}
		}
		return body(ctx, e)
	}
}
