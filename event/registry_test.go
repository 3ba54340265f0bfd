package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// priorityOwner has onFoo at HIGH and onFoo2 at LOW
type priorityOwner struct {
	rec *recorder
}

func (o *priorityOwner) EventTargets() []Target {
	return []Target{
		{Method: "OnFoo2", Priority: PriorityLow},
		{Method: "OnFoo", Priority: PriorityHigh},
	}
}

func (o *priorityOwner) OnFoo(e *FooEvent) {
	o.rec.add("onFoo")
}

func (o *priorityOwner) OnFoo2(e *FooEvent) {
	o.rec.add("onFoo2")
}

// fooBarOwner listens to both FooEvent and BarEvent
type fooBarOwner struct {
	name string
	rec  *recorder
}

func (o *fooBarOwner) EventTargets() []Target {
	return []Target{{Method: "OnFoo"}, {Method: "OnBar"}}
}

func (o *fooBarOwner) OnFoo(e *FooEvent) {
	o.rec.add(o.name + ".foo")
}

func (o *fooBarOwner) OnBar(e *BarEvent) {
	o.rec.add(o.name + ".bar")
}

func TestBus_PriorityOrder(t *testing.T) {
	bus, _ := newTestBus(t)
	rec := &recorder{}

	bus.Register(&priorityOwner{rec: rec})
	bus.Publish(context.Background(), newFoo())

	assert.Equal(t, []string{"onFoo", "onFoo2"}, rec.list())
}

func TestBus_AllPriorities(t *testing.T) {
	bus, _ := newTestBus(t)
	rec := &recorder{}

	funcs := NewFuncs("levels")
	for _, p := range []Priority{PriorityLow, PriorityHighest, PriorityNormal, PriorityLowest, PriorityHigh} {
		funcs.Add(func(*FooEvent) { rec.add(p.String()) }, WithPriority(p))
	}
	bus.Register(funcs)

	for range 3 {
		rec.reset()
		bus.Publish(context.Background(), newFoo())
		assert.Equal(t, []string{"highest", "high", "normal", "low", "lowest"}, rec.list())
	}
}

func TestBus_TieBreakByRegistrationOrder(t *testing.T) {
	bus, _ := newTestBus(t)
	rec := &recorder{}

	owners := make([]*Funcs, 5)
	for i := range owners {
		owners[i] = NewFuncs(fmt.Sprintf("o%d", i)).Add(func(*FooEvent) { rec.add(fmt.Sprintf("o%d", i)) })
		bus.Register(owners[i])
	}

	bus.Publish(context.Background(), newFoo())
	assert.Equal(t, []string{"o0", "o1", "o2", "o3", "o4"}, rec.list())

	// re-registering keeps the original position
	bus.Register(owners[1])
	rec.reset()
	bus.Publish(context.Background(), newFoo())
	assert.Equal(t, []string{"o0", "o1", "o2", "o3", "o4"}, rec.list())

	// removing and adding back moves it to the end
	bus.Unregister(owners[1])
	bus.Register(owners[1])
	rec.reset()
	bus.Publish(context.Background(), newFoo())
	assert.Equal(t, []string{"o0", "o2", "o3", "o4", "o1"}, rec.list())
}

func TestBus_RegisterTwiceIsNoop(t *testing.T) {
	bus, _ := newTestBus(t)
	rec := &recorder{}
	owner := &priorityOwner{rec: rec}

	bus.Register(owner)
	bus.Register(owner)
	bus.RegisterFor(TypeOf[*FooEvent](), owner)

	assert.Equal(t, 2, bus.ListenerCount(TypeOf[*FooEvent]()))
	bus.Publish(context.Background(), newFoo())
	assert.Equal(t, []string{"onFoo", "onFoo2"}, rec.list())
}

func TestBus_RegisterUpdatesMetadata(t *testing.T) {
	bus, _ := newTestBus(t)
	rec := &recorder{}

	first := func(*FooEvent) { rec.add("first") }
	second := func(*FooEvent) { rec.add("second") }
	funcs := NewFuncs("g").Add(first, Named("a")).Add(second, Named("b"))
	bus.Register(funcs)

	bus.Publish(context.Background(), newFoo())
	assert.Equal(t, []string{"first", "second"}, rec.list())

	// same keys, new priority for "b"
	funcs.entries[1].target.Priority = PriorityHighest
	bus.Register(funcs)

	rec.reset()
	bus.Publish(context.Background(), newFoo())
	assert.Equal(t, []string{"second", "first"}, rec.list())
	assert.Equal(t, 2, bus.ListenerCount(TypeOf[*FooEvent]()))
}

func TestBus_RegisterForFiltersTypes(t *testing.T) {
	bus, _ := newTestBus(t)
	rec := &recorder{}
	owner := &fooBarOwner{name: "b", rec: rec}

	bus.RegisterFor(TypeOf[*FooEvent](), owner)

	bus.Publish(context.Background(), newBar())
	assert.Empty(t, rec.list())
	assert.False(t, bus.HasPipeline(TypeOf[*BarEvent]()))

	bus.Publish(context.Background(), newFoo())
	assert.Equal(t, []string{"b.foo"}, rec.list())

	RegisterType[*BarEvent](bus, owner)
	rec.reset()
	bus.Publish(context.Background(), newBar())
	assert.Equal(t, []string{"b.bar"}, rec.list())
}

func TestBus_RegisterForNil(t *testing.T) {
	bus, _ := newTestBus(t)
	bus.RegisterFor(nil, &fooBarOwner{rec: &recorder{}})
	assert.Equal(t, 0, bus.PipelineCount())
}

func TestBus_UnregisterOwner(t *testing.T) {
	bus, _ := newTestBus(t)
	rec := &recorder{}
	a := &fooBarOwner{name: "a", rec: rec}
	b := &fooBarOwner{name: "b", rec: rec}

	bus.Register(a)
	bus.Register(b)
	require.Equal(t, 2, bus.PipelineCount())

	bus.Unregister(b)

	bus.Publish(context.Background(), newFoo())
	bus.Publish(context.Background(), newBar())
	assert.Equal(t, []string{"a.foo", "a.bar"}, rec.list())
	assert.Equal(t, 1, bus.ListenerCount(TypeOf[*FooEvent]()))
	assert.Equal(t, 1, bus.ListenerCount(TypeOf[*BarEvent]()))
}

func TestBus_UnregisterPreservesOrder(t *testing.T) {
	bus, _ := newTestBus(t)
	rec := &recorder{}

	keep1 := NewFuncs("k1").Add(func(*FooEvent) { rec.add("k1") }, WithPriority(PriorityHigh))
	drop := NewFuncs("d").Add(func(*FooEvent) { rec.add("d") })
	keep2 := NewFuncs("k2").Add(func(*FooEvent) { rec.add("k2") })
	keep3 := NewFuncs("k3").Add(func(*FooEvent) { rec.add("k3") }, WithPriority(PriorityLow))
	for _, f := range []*Funcs{keep3, keep1, drop, keep2} {
		bus.Register(f)
	}

	bus.Publish(context.Background(), newFoo())
	assert.Equal(t, []string{"k1", "d", "k2", "k3"}, rec.list())

	UnregisterType[*FooEvent](bus, drop)
	rec.reset()
	bus.Publish(context.Background(), newFoo())
	assert.Equal(t, []string{"k1", "k2", "k3"}, rec.list())
}

func TestBus_UnregisterLastRemovesPipeline(t *testing.T) {
	bus, f := newTestBus(t)
	rec := &recorder{}
	owner := &fooBarOwner{name: "b", rec: rec}

	bus.Register(owner)
	require.True(t, bus.HasPipeline(TypeOf[*FooEvent]()))

	bus.UnregisterFor(TypeOf[*FooEvent](), owner)
	assert.False(t, bus.HasPipeline(TypeOf[*FooEvent]()))
	assert.True(t, bus.HasPipeline(TypeOf[*BarEvent]()))
	_, ok := bus.entries.Load(TypeOf[*FooEvent]())
	assert.False(t, ok, "entry must be deleted, not emptied")

	bus.Publish(context.Background(), newFoo())
	assert.Empty(t, rec.list())
	assert.Empty(t, f.list())

	// a later identical registration starts from a clean slate
	bus.Register(owner)
	bus.Publish(context.Background(), newFoo())
	assert.Equal(t, []string{"b.foo"}, rec.list())
}

func TestBus_UnregisterFromAllTypes(t *testing.T) {
	bus, _ := newTestBus(t)
	rec := &recorder{}
	owner := &fooBarOwner{name: "b", rec: rec}

	bus.Register(owner)
	bus.Unregister(owner)

	bus.Publish(context.Background(), newFoo())
	bus.Publish(context.Background(), newBar())
	assert.Empty(t, rec.list())
	assert.Equal(t, 0, bus.PipelineCount())
	assert.Empty(t, bus.EventTypes())
}

func TestBus_UnregisterRecompilesOncePerType(t *testing.T) {
	spec := &countingSpecializer{}
	bus, _ := newTestBus(t, WithSpecializer(spec))

	a := &fooBarOwner{name: "a", rec: &recorder{}}
	b := &fooBarOwner{name: "b", rec: &recorder{}}
	bus.Register(a)
	bus.Register(b)

	spec.compiles.Store(0)
	bus.Unregister(b)
	assert.Equal(t, int64(2), spec.compiles.Load(), "one rebuild per affected type")

	spec.compiles.Store(0)
	bus.Unregister(a)
	assert.Equal(t, int64(0), spec.compiles.Load(), "teardown needs no rebuild")
}

func TestBus_RegisterCompilesOncePerType(t *testing.T) {
	spec := &countingSpecializer{}
	bus, _ := newTestBus(t, WithSpecializer(spec))

	funcs := NewFuncs("many")
	for range 10 {
		funcs.Add(func(*FooEvent) {})
	}
	funcs.Add(func(*BarEvent) {})
	bus.Register(funcs)

	assert.Equal(t, int64(2), spec.compiles.Load())
	assert.Equal(t, 10, bus.ListenerCount(TypeOf[*FooEvent]()))
}

func TestBus_UnregisterUnknown(t *testing.T) {
	bus, f := newTestBus(t)
	rec := &recorder{}
	bus.Register(&fooBarOwner{name: "a", rec: rec})

	bus.Unregister(&fooBarOwner{name: "stranger"})
	bus.Unregister(nil)
	bus.Unregister([]int{1})
	bus.UnregisterFor(TypeOf[*PhaseEvent](), &fooBarOwner{})

	bus.Publish(context.Background(), newFoo())
	assert.Equal(t, []string{"a.foo"}, rec.list())
	assert.Empty(t, f.list())
}

func TestBus_InvalidOwnerRegistersNothing(t *testing.T) {
	bus, f := newTestBus(t)
	rec := &recorder{}

	funcs := NewFuncs("mixed").
		Add(func(*FooEvent) { rec.add("valid") }).
		Add(func(e *FooEvent, n int) { rec.add("invalid") })
	bus.Register(funcs)
	bus.Register(badParamOwner{})

	assert.Equal(t, 0, bus.PipelineCount())
	bus.Publish(context.Background(), newFoo())
	assert.Empty(t, rec.list())
	assert.Empty(t, f.list(), "validation failures are not reported")
}

// boxedOwner has a comparable type, but a value it holds in data may not be
type boxedOwner struct {
	data any
	rec  *recorder
}

func (o boxedOwner) EventTargets() []Target {
	return []Target{{Method: "OnFoo"}, {Method: "OnBar"}}
}

func (o boxedOwner) OnFoo(*FooEvent) {
	if o.rec != nil {
		o.rec.add("boxed.foo")
	}
}

func (o boxedOwner) OnBar(*BarEvent) {}

func TestBus_UnhashableOwnerRejected(t *testing.T) {
	var extracted atomic.Int64
	bus, f := newTestBus(t, WithExtractor(ExtractorFunc(func(owner any) ([]Binding, error) {
		extracted.Add(1)
		return TargetExtractor{}.Extract(owner)
	})))
	rec := &recorder{}
	bad := boxedOwner{data: []int{1}, rec: rec}

	assert.NotPanics(t, func() {
		bus.Register(bad)
		bus.RegisterFor(TypeOf[*FooEvent](), bad)
		bus.Unregister(bad)
		bus.UnregisterFor(TypeOf[*FooEvent](), bad)
	})
	assert.Equal(t, int64(0), extracted.Load(), "rejected before extraction")
	assert.Equal(t, 0, bus.PipelineCount())
	assert.Empty(t, f.list())

	// the type stays usable for other owners
	done := make(chan struct{})
	go func() {
		defer close(done)
		bus.Register(&fooBarOwner{name: "a", rec: rec})
		bus.Register(boxedOwner{data: 7, rec: rec})
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("register blocked after an unhashable owner")
	}

	bus.Publish(context.Background(), newFoo())
	assert.Equal(t, []string{"a.foo", "boxed.foo"}, rec.list())
	assert.Equal(t, 2, bus.ListenerCount(TypeOf[*BarEvent]()))

	bus.Unregister(boxedOwner{data: 7, rec: rec})
	assert.Equal(t, 1, bus.ListenerCount(TypeOf[*FooEvent]()))
}

func TestHashable(t *testing.T) {
	assert.True(t, hashable(&fooBarOwner{}))
	assert.True(t, hashable(boxedOwner{data: "x"}))
	assert.False(t, hashable(nil))
	assert.False(t, hashable([]int{1}))
	assert.False(t, hashable(boxedOwner{data: map[string]int{}}))
}

// movingOwner binds OnFoo to the extra types in also
type movingOwner struct {
	also []reflect.Type
	rec  *recorder
}

func (o *movingOwner) EventTargets() []Target {
	return []Target{{Method: "OnFoo", Also: o.also}}
}

func (o *movingOwner) OnFoo(*FooEvent) {
	o.rec.add("moving")
}

func TestBus_RegisterAgainDropsMovedBindings(t *testing.T) {
	bus, f := newTestBus(t)
	rec := &recorder{}
	owner := &movingOwner{also: []reflect.Type{TypeOf[*BarEvent]()}, rec: rec}
	other := &fooBarOwner{name: "other", rec: rec}

	bus.Register(owner)
	bus.Register(other)
	require.Equal(t, 2, bus.ListenerCount(TypeOf[*BarEvent]()))

	owner.also = nil
	bus.Register(owner)

	assert.Equal(t, 1, bus.ListenerCount(TypeOf[*BarEvent]()))
	assert.Equal(t, 2, bus.ListenerCount(TypeOf[*FooEvent]()))

	bus.Publish(context.Background(), newBar())
	assert.Equal(t, []string{"other.bar"}, rec.list())

	// the last listener of a type leaving tears the type down
	owner.also = []reflect.Type{TypeOf[*PhaseEvent]()}
	bus.Register(owner)
	require.True(t, bus.HasPipeline(TypeOf[*PhaseEvent]()))
	owner.also = nil
	bus.Register(owner)
	assert.False(t, bus.HasPipeline(TypeOf[*PhaseEvent]()))
	assert.Empty(t, f.list())
}

func TestBus_RegisterForKeepsOtherBindings(t *testing.T) {
	bus, _ := newTestBus(t)
	rec := &recorder{}
	owner := &movingOwner{also: []reflect.Type{TypeOf[*BarEvent]()}, rec: rec}

	bus.Register(owner)
	owner.also = nil
	bus.RegisterFor(TypeOf[*FooEvent](), owner)

	assert.Equal(t, 1, bus.ListenerCount(TypeOf[*BarEvent]()))
}

func TestBus_Independent(t *testing.T) {
	b1, _ := newTestBus(t)
	b2, _ := newTestBus(t)
	rec := &recorder{}

	b1.Register(NewFuncs("only-b1").Add(func(*FooEvent) { rec.add("b1") }))
	b2.Publish(context.Background(), newFoo())
	assert.Empty(t, rec.list())
	assert.NotEqual(t, b1.ID(), b2.ID())
}

func TestBus_CompileFailureKeepsPrevious(t *testing.T) {
	spec := &failingSpecializer{}
	bus, f := newTestBus(t, WithSpecializer(spec))
	rec := &recorder{}

	first := NewFuncs("first").Add(func(*FooEvent) { rec.add("first") })
	bus.Register(first)
	require.True(t, bus.HasPipeline(TypeOf[*FooEvent]()))

	spec.fail.Store(true)
	second := NewFuncs("second").Add(func(*FooEvent) { rec.add("second") })
	bus.Register(second)

	errs := f.list()
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], ErrCompileFailed))

	bus.Publish(context.Background(), newFoo())
	assert.Equal(t, []string{"first"}, rec.list())
	assert.Equal(t, 1, bus.ListenerCount(TypeOf[*FooEvent]()))

	// the rejected owner was rolled back, so a later rebuild does not resurrect it
	spec.fail.Store(false)
	bus.Register(NewFuncs("third").Add(func(*FooEvent) { rec.add("third") }))
	rec.reset()
	bus.Publish(context.Background(), newFoo())
	assert.Equal(t, []string{"first", "third"}, rec.list())
}

func TestBus_FirstCompileFailureLeavesNoPipeline(t *testing.T) {
	spec := &failingSpecializer{}
	spec.fail.Store(true)
	bus, f := newTestBus(t, WithSpecializer(spec))

	bus.Register(NewFuncs("x").Add(func(*FooEvent) {}))

	assert.Len(t, f.list(), 1)
	assert.False(t, bus.HasPipeline(TypeOf[*FooEvent]()))
	_, ok := bus.entries.Load(TypeOf[*FooEvent]())
	assert.False(t, ok)
}

func TestBus_SpecializerPanicIsCompileFailure(t *testing.T) {
	bus, f := newTestBus(t, WithSpecializer(panickingSpecializer{}))

	bus.Register(NewFuncs("x").Add(func(*FooEvent) {}))

	errs := f.list()
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], ErrCompileFailed))
	assert.Contains(t, errs[0].Error(), "specializer exploded")
}

func TestBus_CompileFailureDefaultHandlerPanics(t *testing.T) {
	spec := &failingSpecializer{}
	spec.fail.Store(true)
	bus := New(WithLogger(nopLogger()), WithSpecializer(spec))

	assert.Panics(t, func() {
		bus.Register(NewFuncs("x").Add(func(*FooEvent) {}))
	})
}

func TestBus_ParallelCompile(t *testing.T) {
	spec := &countingSpecializer{}
	bus, f := newTestBus(t, WithSpecializer(spec), WithCompileParallelism(0))
	rec := &recorder{}

	funcs := NewFuncs("wide").
		Add(func(*FooEvent) { rec.add("foo") }).
		Add(func(*BarEvent) { rec.add("bar") }).
		Add(func(*CancelEvent) { rec.add("cancel") }).
		Add(func(*StopEvent) { rec.add("stop") }).
		Add(func(*PhaseEvent) { rec.add("phase") })
	bus.Register(funcs)

	assert.Equal(t, int64(5), spec.compiles.Load())
	assert.Equal(t, 5, bus.PipelineCount())
	assert.Empty(t, f.list())

	bus.Publish(context.Background(), newStop())
	assert.Equal(t, []string{"stop"}, rec.list())
}

func TestBus_ConcurrentRegisterPublish(t *testing.T) {
	bus, f := newTestBus(t)
	var calls atomic.Int64

	const workers = 16
	owners := make([]*Funcs, workers)
	for i := range owners {
		owners[i] = NewFuncs(fmt.Sprintf("w%d", i)).
			Add(func(*FooEvent) { calls.Add(1) }).
			Add(func(*BarEvent) { calls.Add(1) })
	}

	var g errgroup.Group
	for i := range workers {
		g.Go(func() error {
			for range 20 {
				bus.Register(owners[i])
				bus.Publish(context.Background(), newFoo())
				bus.Unregister(owners[i])
				bus.Publish(context.Background(), newBar())
			}
			bus.Register(owners[i])
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Empty(t, f.list())
	assert.Equal(t, workers, bus.ListenerCount(TypeOf[*FooEvent]()))
	assert.Equal(t, workers, bus.ListenerCount(TypeOf[*BarEvent]()))

	calls.Store(0)
	bus.Publish(context.Background(), newFoo())
	assert.Equal(t, int64(workers), calls.Load())
}

func TestBus_ConcurrentSameTypeKeepsAll(t *testing.T) {
	bus, _ := newTestBus(t)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Register(NewFuncs(fmt.Sprintf("g%d", i)).Add(func(*FooEvent) {}))
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, bus.ListenerCount(TypeOf[*FooEvent]()))
}

// ===== test specializers =====

type countingSpecializer struct {
	ClosureSpecializer
	compiles atomic.Int64
}

func (s *countingSpecializer) Compile(plan Plan) (Pipeline, error) {
	s.compiles.Add(1)
	return s.ClosureSpecializer.Compile(plan)
}

type failingSpecializer struct {
	ClosureSpecializer
	fail atomic.Bool
}

func (s *failingSpecializer) Compile(plan Plan) (Pipeline, error) {
	if s.fail.Load() {
		return nil, errors.New("plan rejected")
	}
	return s.ClosureSpecializer.Compile(plan)
}

type panickingSpecializer struct {
	ClosureSpecializer
}

func (panickingSpecializer) Compile(Plan) (Pipeline, error) {
	panic("specializer exploded")
}
