package event

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderDescriptors(t *testing.T) {
	owners := map[any][]Descriptor{
		"a": {{Priority: PriorityLow, seq: 1}, {Priority: PriorityHigh, seq: 5}},
		"b": {{Priority: PriorityHigh, seq: 2}, {Priority: PriorityNormal, seq: 3}},
		"c": {{Priority: PriorityLow, seq: 4}},
	}

	for range 5 {
		ordered := orderDescriptors(owners)
		var seqs []uint64
		for _, d := range ordered {
			seqs = append(seqs, d.Seq())
		}
		assert.Equal(t, []uint64{2, 5, 3, 1, 4}, seqs)
	}
}

func TestCompiler_Guards(t *testing.T) {
	bus, _ := newTestBus(t)

	tests := []struct {
		name      string
		eventType reflect.Type
		desc      Descriptor
		want      Step
	}{
		{
			name:      "plain event ignores cancel options",
			eventType: TypeOf[*FooEvent](),
			desc:      Descriptor{SkipIfCancelled: true, TypeFilter: SubTypePre},
			want:      Step{},
		},
		{
			name:      "cancellable honours skip",
			eventType: TypeOf[*CancelEvent](),
			desc:      Descriptor{SkipIfCancelled: true},
			want:      Step{SkipIfCancelled: true},
		},
		{
			name:      "stoppable always stops",
			eventType: TypeOf[*StopEvent](),
			desc:      Descriptor{SkipIfCancelled: true},
			want:      Step{StopIfCancelled: true},
		},
		{
			name:      "typed keeps filter",
			eventType: TypeOf[*PhaseEvent](),
			desc:      Descriptor{TypeFilter: SubTypePost},
			want:      Step{Filter: SubTypePost},
		},
		{
			name:      "any-event is resolved per value",
			eventType: AnyType,
			desc:      Descriptor{SkipIfCancelled: true, TypeFilter: SubTypePre},
			want:      Step{StopIfCancelled: true, SkipIfCancelled: true, Filter: SubTypePre},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCallable("fn", func() {})
			require.NoError(t, err)
			tt.desc.Callable = c

			plan, err := bus.plan(tt.eventType, []Descriptor{tt.desc})
			require.NoError(t, err)
			require.Len(t, plan.Steps, 1)

			step := plan.Steps[0]
			assert.Equal(t, tt.want.StopIfCancelled, step.StopIfCancelled)
			assert.Equal(t, tt.want.SkipIfCancelled, step.SkipIfCancelled)
			assert.Equal(t, tt.want.Filter, step.Filter)
			assert.NotNil(t, step.Caller)
			assert.Equal(t, tt.eventType == AnyType, plan.Dynamic)
		})
	}
}

func TestPipeline_StoppableHaltsRemaining(t *testing.T) {
	bus, _ := newTestBus(t)
	rec := &recorder{}

	funcs := NewFuncs("stop").
		Add(func(*StopEvent) { rec.add("1") }, WithPriority(PriorityHighest)).
		Add(func(e *StopEvent) { rec.add("2"); e.SetCancelled(true) }, WithPriority(PriorityHigh)).
		Add(func(*StopEvent) { rec.add("3") }).
		Add(func(*StopEvent) { rec.add("4") }, WithPriority(PriorityLowest))
	bus.Register(funcs)

	e := Call(bus, context.Background(), newStop())
	assert.True(t, e.IsCancelled())
	assert.Equal(t, []string{"1", "2"}, rec.list())

	// already cancelled: nothing runs
	rec.reset()
	pre := newStop()
	pre.SetCancelled(true)
	bus.Publish(context.Background(), pre)
	assert.Empty(t, rec.list())
}

func TestPipeline_StoppableHaltsAnyPipeline(t *testing.T) {
	bus, _ := newTestBus(t)
	rec := &recorder{}

	bus.Register(NewFuncs("specific").Add(func(e *StopEvent) { e.SetCancelled(true) }))
	bus.Register(NewFuncs("wildcard").Add(func(Event) { rec.add("any") }))

	bus.Publish(context.Background(), newStop())
	assert.Empty(t, rec.list())

	// a cancelled cancellable event still reaches the wildcard pipeline
	bus.Register(NewFuncs("cancel").Add(func(e *CancelEvent) { e.SetCancelled(true) }))
	bus.Publish(context.Background(), newCancel())
	assert.Equal(t, []string{"any"}, rec.list())
}

func TestPipeline_CancellableSkipsOnlyOptedIn(t *testing.T) {
	bus, _ := newTestBus(t)
	rec := &recorder{}

	funcs := NewFuncs("cancel").
		Add(func(e *CancelEvent) { rec.add("k"); e.SetCancelled(true) }, WithPriority(PriorityHighest)).
		Add(func(*CancelEvent) { rec.add("k+1") }, WithPriority(PriorityHigh), SkipCancelled()).
		Add(func(*CancelEvent) { rec.add("k+2") })
	bus.Register(funcs)

	e := bus.Publish(context.Background(), newCancel())
	assert.True(t, e.(*CancelEvent).IsCancelled())
	assert.Equal(t, []string{"k", "k+2"}, rec.list())
}

func TestPipeline_AnySkipCancelled(t *testing.T) {
	bus, _ := newTestBus(t)
	rec := &recorder{}

	bus.Register(NewFuncs("any").
		Add(func(Event) { rec.add("skip") }, SkipCancelled()).
		Add(func(Event) { rec.add("all") }))

	e := newCancel()
	e.SetCancelled(true)
	bus.Publish(context.Background(), e)
	bus.Publish(context.Background(), newFoo())

	assert.Equal(t, []string{"all", "skip", "all"}, rec.list())
}

func TestPipeline_SubTypeFilter(t *testing.T) {
	bus, _ := newTestBus(t)
	rec := &recorder{}

	bus.Register(NewFuncs("phase").
		Add(func(e *PhaseEvent) { rec.add("pre") }, WithFilter(SubTypePre)).
		Add(func(e *PhaseEvent) { rec.add("post") }, WithFilter(SubTypePost)).
		Add(func(e *PhaseEvent) { rec.add("all") }))
	bus.Register(NewFuncs("wild").Add(func(Event) { rec.add("any-post") }, WithFilter(SubTypePost)))

	bus.Publish(context.Background(), newPhase(SubTypePre))
	assert.Equal(t, []string{"pre", "all"}, rec.list())

	rec.reset()
	bus.Publish(context.Background(), newPhase(SubTypePost))
	assert.Equal(t, []string{"post", "all", "any-post"}, rec.list())

	// non-typed events are not filtered
	rec.reset()
	bus.Publish(context.Background(), newFoo())
	assert.Equal(t, []string{"any-post"}, rec.list())
}

func TestPipeline_StopWithFilter(t *testing.T) {
	bus, _ := newTestBus(t)
	rec := &recorder{}

	bus.Register(NewFuncs("g").
		Add(func(e *typedStopEvent) { rec.add("pre") }, WithFilter(SubTypePre), WithPriority(PriorityHigh)).
		Add(func(e *typedStopEvent) { rec.add("post"); e.SetCancelled(true) }, WithFilter(SubTypePost)).
		Add(func(e *typedStopEvent) { rec.add("late") }, WithPriority(PriorityLow)))

	bus.Publish(context.Background(), &typedStopEvent{StoppableEvent: NewStoppableEvent("x"), sub: SubTypePost})
	assert.Equal(t, []string{"post"}, rec.list())

	rec.reset()
	bus.Publish(context.Background(), &typedStopEvent{StoppableEvent: NewStoppableEvent("x"), sub: SubTypePre})
	assert.Equal(t, []string{"pre", "late"}, rec.list())
}

type typedStopEvent struct {
	StoppableEvent
	sub SubType
}

func (e *typedStopEvent) SubType() SubType {
	return e.sub
}

func TestPipeline_Placeholders(t *testing.T) {
	bus, _ := newTestBus(t)

	var gotFoo *FooEvent
	var gotBar *BarEvent
	var gotAny Event
	var gotCtx context.Context
	calls := 0

	multi := func(ctx context.Context, f *FooEvent, b *BarEvent, e Event) {
		calls++
		gotCtx, gotFoo, gotBar, gotAny = ctx, f, b, e
	}
	bus.Register(NewFuncs("multi").Add(multi, Named("multi")))

	foo := newFoo()
	ctx := context.WithValue(context.Background(), ctxKey{}, "v")
	bus.Publish(ctx, foo)

	// called twice: once by the FooEvent pipeline, once by the any-event pipeline
	require.Equal(t, 2, calls)
	assert.Nil(t, gotFoo, "any-event pipeline passes a zero value for *FooEvent")
	assert.Nil(t, gotBar)
	assert.Same(t, foo, gotAny)
	assert.Equal(t, "v", gotCtx.Value(ctxKey{}))

	calls = 0
	bus.Publish(context.Background(), newBar())
	require.Equal(t, 2, calls)
}

type ctxKey struct{}

func TestPipeline_ParameterlessInterest(t *testing.T) {
	bus, _ := newTestBus(t)
	rec := &recorder{}

	bus.Register(NewFuncs("ping").
		Add(func() { rec.add("ping") }, Also(TypeOf[*FooEvent]())).
		Add(func(b *BarEvent) {
			if b == nil {
				rec.add("bar-placeholder")
			}
		}, Also(TypeOf[*FooEvent]())))

	bus.Publish(context.Background(), newFoo())
	assert.Equal(t, []string{"ping", "bar-placeholder"}, rec.list())
}

func TestPipeline_NativeCaller(t *testing.T) {
	bus, f := newTestBus(t)
	var got []*FooEvent

	funcs := NewFuncs("native")
	On(funcs, func(ctx context.Context, e *FooEvent) error {
		got = append(got, e)
		return nil
	}, Also(TypeOf[*BarEvent]()))
	bus.Register(funcs)

	foo := newFoo()
	bus.Publish(context.Background(), foo)
	bus.Publish(context.Background(), newBar())

	require.Len(t, got, 2)
	assert.Same(t, foo, got[0])
	assert.Nil(t, got[1])
	assert.Empty(t, f.list())
}

func TestPipeline_NativeAnyEvent(t *testing.T) {
	bus, _ := newTestBus(t)
	var names []string

	bus.Register(On(NewFuncs("any"), func(ctx context.Context, e Event) error {
		names = append(names, e.Name())
		return nil
	}))

	bus.Publish(context.Background(), newFoo())
	bus.Publish(context.Background(), newBar())
	assert.Equal(t, []string{"test.foo", "test.bar"}, names)
}

func TestPipeline_PropagateAborts(t *testing.T) {
	bus, f := newTestBus(t)
	rec := &recorder{}
	boom := errors.New("boom")

	bus.Register(NewFuncs("g").
		Add(func(*FooEvent) { rec.add("1") }, WithPriority(PriorityHigh)).
		Add(func(*FooEvent) error { rec.add("2"); return boom }, Named("failing")).
		Add(func(*FooEvent) { rec.add("3") }, WithPriority(PriorityLow)))

	bus.Publish(context.Background(), newFoo())
	assert.Equal(t, []string{"1", "2"}, rec.list())

	errs := f.list()
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], ErrListenerFailed))
	assert.True(t, errors.Is(errs[0], boom))
	assert.Contains(t, errs[0].Error(), "failing")
}

func TestPipeline_IgnoreContinues(t *testing.T) {
	bus, f := newTestBus(t)
	rec := &recorder{}
	bus.SetSafety(newFoo(), SafetyIgnore)

	bus.Register(NewFuncs("g").
		Add(func(*FooEvent) error { rec.add("1"); return errors.New("boom") }, WithPriority(PriorityHigh)).
		Add(func(*FooEvent) { rec.add("2"); panic("kaboom") }).
		Add(func(*FooEvent) { rec.add("3") }, WithPriority(PriorityLow)))

	bus.Publish(context.Background(), newFoo())
	assert.Equal(t, []string{"1", "2", "3"}, rec.list())
	assert.Empty(t, f.list())
}

func TestPipeline_PrintContinues(t *testing.T) {
	bus, f := newTestBus(t, WithSafetyRules([]SafetyRule{{Type: "*event.FooEvent", Mode: "print"}}))
	rec := &recorder{}

	bus.Register(NewFuncs("g").
		Add(func(*FooEvent) error { return errors.New("boom") }, WithPriority(PriorityHigh)).
		Add(func(*FooEvent) { rec.add("after") }))

	assert.Equal(t, SafetyPrint, bus.SafetyOf(TypeOf[*FooEvent]()))
	bus.Publish(context.Background(), newFoo())
	assert.Equal(t, []string{"after"}, rec.list())
	assert.Empty(t, f.list())
}

func TestPipeline_DelegateUsesCurrentHandler(t *testing.T) {
	bus, first := newTestBus(t)
	rec := &recorder{}
	bus.SetSafety(newFoo(), SafetyDelegate)

	bus.Register(NewFuncs("g").
		Add(func(*FooEvent) error { return errors.New("boom") }, WithPriority(PriorityHigh)).
		Add(func(*FooEvent) { rec.add("after") }))

	bus.Publish(context.Background(), newFoo())
	assert.Len(t, first.list(), 1)
	assert.Equal(t, []string{"after"}, rec.list())

	second := &failures{}
	bus.SetFallbackErrorHandler(second.handle)
	bus.Publish(context.Background(), newFoo())

	assert.Len(t, first.list(), 1)
	require.Len(t, second.list(), 1)
	assert.True(t, errors.Is(second.list()[0], ErrListenerFailed))
}

func TestPipeline_DelegateHandlerPanicReachesCaller(t *testing.T) {
	bus := New(WithLogger(nopLogger()))
	t.Cleanup(bus.Close)
	bus.SetSafety(newFoo(), SafetyDelegate)

	bus.Register(NewFuncs("g").Add(func(*FooEvent) error { return errors.New("boom") }))

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok, "the handler's own panic value is re-raised")
		assert.True(t, errors.Is(err, ErrListenerFailed))
	}()
	bus.Publish(context.Background(), newFoo())
}

func TestPipeline_DeclaredSafety(t *testing.T) {
	bus, f := newTestBus(t)
	rec := &recorder{}

	bus.Register(NewFuncs("quiet").
		Add(func(*QuietEvent) error { return errors.New("boom") }, WithPriority(PriorityHigh)).
		Add(func(*QuietEvent) { rec.add("after") }))

	assert.Equal(t, SafetyIgnore, bus.SafetyOf(TypeOf[*QuietEvent]()))
	bus.Publish(context.Background(), &QuietEvent{BaseEvent: NewEvent("quiet")})
	assert.Equal(t, []string{"after"}, rec.list())
	assert.Empty(t, f.list())

	// an explicit override wins over the declaration
	bus.SetSafetyFor(TypeOf[*QuietEvent](), SafetyPropagate)
	rec.reset()
	bus.Publish(context.Background(), &QuietEvent{BaseEvent: NewEvent("quiet")})
	assert.Empty(t, rec.list())
	assert.Len(t, f.list(), 1)

	bus.ClearSafety(TypeOf[*QuietEvent]())
	assert.Equal(t, SafetyIgnore, bus.SafetyOf(TypeOf[*QuietEvent]()))
}

func TestPipeline_SetSafetyRecompiles(t *testing.T) {
	spec := &countingSpecializer{}
	bus, _ := newTestBus(t, WithSpecializer(spec))

	bus.Register(NewFuncs("g").Add(func(*FooEvent) {}))
	require.Equal(t, int64(1), spec.compiles.Load())

	bus.SetSafety(newFoo(), SafetyIgnore)
	assert.Equal(t, int64(2), spec.compiles.Load())
	assert.Equal(t, 1, bus.ListenerCount(TypeOf[*FooEvent]()))

	// no pipeline, nothing to rebuild
	bus.SetSafety(newBar(), SafetyIgnore)
	assert.Equal(t, int64(2), spec.compiles.Load())
	bus.SetSafetyFor(nil, SafetyIgnore)
}

func TestPipeline_StopPropagation(t *testing.T) {
	for _, mode := range []SafetyMode{SafetyPropagate, SafetyIgnore} {
		t.Run(mode.String(), func(t *testing.T) {
			bus, f := newTestBus(t)
			bus.SetSafety(newFoo(), mode)
			rec := &recorder{}

			bus.Register(NewFuncs("g").
				Add(func(*FooEvent) error { rec.add("1"); return ErrStopPropagation }, WithPriority(PriorityHigh)).
				Add(func(*FooEvent) { rec.add("2") }))
			bus.Register(NewFuncs("any").Add(func(Event) { rec.add("any") }))

			bus.Publish(context.Background(), newFoo())
			assert.Equal(t, []string{"1", "any"}, rec.list())
			assert.Empty(t, f.list())
		})
	}
}

func TestClosureSpecializer_Rejects(t *testing.T) {
	s := ClosureSpecializer{}

	_, err := s.Compile(Plan{})
	assert.Error(t, err)

	_, err = s.Compile(Plan{EventType: TypeOf[*FooEvent](), Steps: []Step{{}}})
	assert.Error(t, err)

	_, err = s.Wrap(TypeOf[*FooEvent](), Descriptor{})
	assert.Error(t, err)

	p, err := s.Compile(Plan{EventType: TypeOf[*FooEvent]()})
	require.NoError(t, err)
	assert.NoError(t, p.Invoke(context.Background(), newFoo()))
	assert.Equal(t, 0, p.(*closurePipeline).Len())
}
