package event

import (
	"context"
	"fmt"
	"reflect"
	"slices"
)

// OwnerKind tags an Owner
type OwnerKind uint8

const (
	// OwnerNone marks an ownerless binding: the callable needs no receiver
	OwnerNone OwnerKind = iota
	// OwnerInstance marks a method bound to a specific instance
	OwnerInstance
)

// Owner is the receiver side of a binding: either nothing, or an instance
type Owner struct {
	kind     OwnerKind
	instance any
}

// NoOwner returns the ownerless variant
func NoOwner() Owner {
	return Owner{kind: OwnerNone}
}

// InstanceOwner binds to v
func InstanceOwner(v any) Owner {
	return Owner{kind: OwnerInstance, instance: v}
}

// Kind returns the variant tag
func (o Owner) Kind() OwnerKind {
	return o.kind
}

// Instance returns the bound instance; ok is false for ownerless bindings
func (o Owner) Instance() (v any, ok bool) {
	return o.instance, o.kind == OwnerInstance
}

func (o Owner) String() string {
	if o.kind == OwnerNone {
		return "static"
	}
	return fmt.Sprintf("%T", o.instance)
}

type argSource uint8

const (
	argZero argSource = iota
	argContext
	argEvent
)

// Callable is something a pipeline can invoke: a bound method value or a
// plain func, described by its parameter list, or a native typed caller
// created by On.
type Callable struct {
	key    string
	fn     reflect.Value
	params []reflect.Type
	native Caller
}

// NewCallable validates fn for use as a listener.
// Accepted parameters: an optional leading context.Context, then event types
// (concrete types implementing Event, or Event itself for the any-event
// pipeline), each at most once. Accepted results: none or a single error.
func NewCallable(key string, fn any) (Callable, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return Callable{}, ErrInvalidListener.WithMsgf("listener %s is not a func", key)
	}
	return newReflectCallable(key, v)
}

func newReflectCallable(key string, v reflect.Value) (Callable, error) {
	ft := v.Type()
	if ft.IsVariadic() {
		return Callable{}, ErrInvalidListener.WithMsgf("listener %s is variadic", key)
	}

	params := make([]reflect.Type, ft.NumIn())
	for i := range params {
		p := ft.In(i)
		switch {
		case i == 0 && p == contextType:
		case isEventType(p):
			if slices.Contains(params[:i], p) {
				return Callable{}, ErrInvalidListener.WithMsgf("listener %s declares %s twice", key, p)
			}
		default:
			return Callable{}, ErrInvalidListener.WithMsgf("listener %s parameter %d (%s) is not an event type", key, i, p)
		}
		params[i] = p
	}

	switch {
	case ft.NumOut() == 0:
	case ft.NumOut() == 1 && ft.Out(0) == errorType:
	default:
		return Callable{}, ErrInvalidListener.WithMsgf("listener %s must return nothing or error", key)
	}

	return Callable{key: key, fn: v, params: params}, nil
}

// isEventType accepts Event itself and concrete types implementing it.
// Other interfaces are rejected: a pipeline is only ever looked up by a
// concrete type or by AnyType, so such a binding would never fire.
func isEventType(t reflect.Type) bool {
	if t == AnyType {
		return true
	}
	return t.Kind() != reflect.Interface && t.Implements(AnyType)
}

// Key identifies the callable within its owner
func (c Callable) Key() string {
	return c.key
}

// EventParams lists the event types the callable declares as parameters
func (c Callable) EventParams() []reflect.Type {
	out := make([]reflect.Type, 0, len(c.params))
	for _, p := range c.params {
		if p != contextType {
			out = append(out, p)
		}
	}
	return out
}

// argSources decides, per parameter, what the pipeline for eventType passes:
// the context, the event, or a zero placeholder
func (c Callable) argSources(eventType reflect.Type) []argSource {
	sources := make([]argSource, len(c.params))
	for i, p := range c.params {
		switch p {
		case contextType:
			sources[i] = argContext
		case eventType:
			sources[i] = argEvent
		default:
			sources[i] = argZero
		}
	}
	return sources
}

// nativeCaller adapts a typed func so it runs without reflection.
// Any event that is not an E yields E's zero value, matching the placeholder
// rule for reflective callables.
func nativeCaller[E Event](fn func(context.Context, E) error) Caller {
	return func(ctx context.Context, e Event) error {
		typed, _ := e.(E)
		return fn(ctx, typed)
	}
}

// Descriptor is one normalized listener binding
type Descriptor struct {
	Owner           Owner
	Callable        Callable
	Priority        Priority
	SkipIfCancelled bool
	TypeFilter      SubType
	ExtraTargets    []reflect.Type

	seq uint64
}

// Seq is the registration sequence number used to break priority ties
func (d Descriptor) Seq() uint64 {
	return d.seq
}

// Binding pairs an event type with a descriptor, as produced by an Extractor
type Binding struct {
	EventType  reflect.Type
	Descriptor Descriptor
}
