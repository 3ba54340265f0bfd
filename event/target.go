package event

import (
	"context"
	"fmt"
	"reflect"
)

// Target declares one listener method of an owner.
//
//	func (s *Scoreboard) EventTargets() []event.Target {
//	    return []event.Target{
//	        {Method: "OnJoin", Priority: event.PriorityHigh},
//	        {Method: "OnQuit", SkipCancelled: true},
//	    }
//	}
type Target struct {
	// Method is the exported method name; for Funcs entries it is the entry key
	Method string

	Priority Priority

	// SkipCancelled skips the call once a cancellable event is cancelled
	SkipCancelled bool

	// Filter restricts typed events to one sub-type; SubTypeAll matches all
	Filter SubType

	// Also binds the listener to more event types. Types the callable has no
	// parameter for receive zero values.
	Also []reflect.Type
}

// TargetProvider is implemented by owners that declare listener methods
type TargetProvider interface {
	EventTargets() []Target
}

// TargetOption adjusts a Target
type TargetOption func(*Target)

// WithPriority sets the priority
func WithPriority(p Priority) TargetOption {
	return func(t *Target) {
		t.Priority = p
	}
}

// SkipCancelled marks the listener to be skipped once the event is cancelled
func SkipCancelled() TargetOption {
	return func(t *Target) {
		t.SkipCancelled = true
	}
}

// WithFilter restricts the listener to one sub-type of typed events
func WithFilter(s SubType) TargetOption {
	return func(t *Target) {
		t.Filter = s
	}
}

// Also binds the listener to additional event types
func Also(types ...reflect.Type) TargetOption {
	return func(t *Target) {
		t.Also = append(t.Also, types...)
	}
}

// Named sets the entry key; re-adding under the same key replaces the entry
// on the next registration instead of adding a second one
func Named(key string) TargetOption {
	return func(t *Target) {
		t.Method = key
	}
}

type funcEntry struct {
	target Target
	fn     any
	native *Callable
}

// Funcs groups plain funcs into one ownerless registration unit.
// The group pointer is the owner key for Unregister.
//
//	funcs := event.NewFuncs("audit").
//	    Add(func(e *OrderPlaced) { ... }, event.WithPriority(event.PriorityLow))
//	event.On(funcs, func(ctx context.Context, e *OrderPaid) error { ... })
//	bus.Register(funcs)
type Funcs struct {
	name    string
	entries []funcEntry
}

// NewFuncs creates an empty group
func NewFuncs(name string) *Funcs {
	return &Funcs{name: name}
}

// Name returns the group name
func (f *Funcs) Name() string {
	return f.name
}

// Len returns the number of entries
func (f *Funcs) Len() int {
	return len(f.entries)
}

// Add appends a func listener; it is validated when the group is registered
func (f *Funcs) Add(fn any, opts ...TargetOption) *Funcs {
	f.entries = append(f.entries, funcEntry{target: f.newTarget(opts), fn: fn})
	return f
}

// On appends a typed listener that is invoked without reflection
func On[E Event](f *Funcs, fn func(context.Context, E) error, opts ...TargetOption) *Funcs {
	t := f.newTarget(opts)
	native := Callable{
		key:    t.Method,
		params: []reflect.Type{contextType, TypeOf[E]()},
	}
	if fn != nil {
		native.native = nativeCaller(fn)
	}
	f.entries = append(f.entries, funcEntry{target: t, native: &native})
	return f
}

func (f *Funcs) newTarget(opts []TargetOption) Target {
	t := Target{Method: fmt.Sprintf("%s#%d", f.name, len(f.entries))}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}
