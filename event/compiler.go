package event

import (
	"cmp"
	"context"
	"reflect"
	"slices"

	"go.uber.org/zap"
)

var safetyDeclarerType = reflect.TypeFor[SafetyDeclarer]()

// orderDescriptors flattens an owner map into call order: priority
// descending, then registration sequence ascending
func orderDescriptors(owners map[any][]Descriptor) []Descriptor {
	var n int
	for _, ds := range owners {
		n += len(ds)
	}
	ordered := make([]Descriptor, 0, n)
	for _, ds := range owners {
		ordered = append(ordered, ds...)
	}
	slices.SortFunc(ordered, func(a, b Descriptor) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	return ordered
}

// compile builds a pipeline for eventType. Panics raised by the specializer
// are reported as compile failures.
func (b *Bus) compile(eventType reflect.Type, owners map[any][]Descriptor) (p Pipeline, err error) {
	defer func() {
		if r := recover(); r != nil {
			p = nil
			err = panicError(ErrCompileFailed, eventType.String(), r)
		}
	}()

	plan, err := b.plan(eventType, orderDescriptors(owners))
	if err != nil {
		return nil, ErrCompileFailed.WithMsgf("pipeline compile failed: %s", eventType).Wrap(err)
	}
	p, err = b.specializer.Compile(plan)
	if err != nil {
		return nil, ErrCompileFailed.WithMsgf("pipeline compile failed: %s", eventType).Wrap(err)
	}
	if p == nil {
		return nil, ErrCompileFailed.WithMsgf("pipeline compile failed: %s: specializer returned nothing", eventType)
	}

	b.logger.Debug("pipeline compiled",
		zap.String("event_type", eventType.String()),
		zap.Int("listeners", len(plan.Steps)),
		zap.String("safety", plan.Safety.String()))
	return p, nil
}

// plan derives the guards of every call from the event type's capabilities
func (b *Bus) plan(eventType reflect.Type, ordered []Descriptor) (Plan, error) {
	dynamic := eventType.Kind() == reflect.Interface
	stoppable := dynamic || eventType.Implements(stoppableType)
	cancellable := dynamic || eventType.Implements(cancellableType)
	typed := dynamic || eventType.Implements(typedType)

	mode := b.safetyFor(eventType)
	plan := Plan{
		EventType: eventType,
		Dynamic:   dynamic,
		Safety:    mode,
		OnFailure: b.failureHandler(eventType, mode),
		Steps:     make([]Step, 0, len(ordered)),
	}

	for _, d := range ordered {
		caller, err := b.specializer.Wrap(eventType, d)
		if err != nil {
			return Plan{}, err
		}

		step := Step{Descriptor: d, Caller: caller}
		switch {
		case dynamic:
			step.StopIfCancelled = true
			step.SkipIfCancelled = d.SkipIfCancelled
		case stoppable:
			step.StopIfCancelled = true
		case cancellable:
			step.SkipIfCancelled = d.SkipIfCancelled
		}
		if typed {
			step.Filter = d.TypeFilter
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan, nil
}

// safetyFor resolves the safety mode of eventType: explicit override, then
// the type's own declaration, then configured rules
func (b *Bus) safetyFor(eventType reflect.Type) SafetyMode {
	b.safetyMu.RLock()
	override, overridden := b.safetyOverrides[eventType]
	rule, ruled := b.safetyRules[eventType.String()]
	b.safetyMu.RUnlock()

	if overridden {
		return override
	}
	if declared, ok := declaredSafety(eventType); ok {
		return declared
	}
	if ruled {
		return rule
	}
	return SafetyPropagate
}

// declaredSafety asks a fresh zero value of eventType for its mode
func declaredSafety(eventType reflect.Type) (SafetyMode, bool) {
	if eventType.Kind() == reflect.Interface || !eventType.Implements(safetyDeclarerType) {
		return SafetyPropagate, false
	}
	var v reflect.Value
	if eventType.Kind() == reflect.Pointer {
		v = reflect.New(eventType.Elem())
	} else {
		v = reflect.Zero(eventType)
	}
	return v.Interface().(SafetyDeclarer).PipelineSafety(), true
}

// failureHandler returns the per-call failure sink baked into isolated pipelines
func (b *Bus) failureHandler(eventType reflect.Type, mode SafetyMode) func(context.Context, Event, error) {
	name := eventType.String()

	switch mode {
	case SafetyPrint:
		return func(ctx context.Context, e Event, err error) {
			b.metrics.RecordListenerFailure(ctx, name, mode)
			b.logger.ErrorCtx(ctx, "event listener failed",
				zap.String("event_type", name),
				zap.String("event", e.Name()),
				zap.Error(err))
		}
	case SafetyDelegate:
		return func(ctx context.Context, _ Event, err error) {
			b.metrics.RecordListenerFailure(ctx, name, mode)
			b.delegate(err)
		}
	case SafetyIgnore:
		return func(ctx context.Context, _ Event, _ error) {
			b.metrics.RecordListenerFailure(ctx, name, mode)
		}
	default:
		return nil
	}
}
