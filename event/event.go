package event

import (
	"context"
	"reflect"
	"time"
)

// Event event interface
type Event interface {
	// Name event name (such as "player.join"), used in logs and metrics
	Name() string
}

// Cancellable events carry a flag listeners may set.
// Listeners registered with SkipCancelled are not called once it is set.
type Cancellable interface {
	IsCancelled() bool
	SetCancelled(cancelled bool)
}

// Stoppable events are cancellable events whose pipeline halts as soon as
// the flag is set: no further listener runs for that publication.
type Stoppable interface {
	Cancellable
	StopsPipeline()
}

// Typed events report a sub-type, typically to fire the same event before
// and after an action. Listeners can filter on it.
type Typed interface {
	SubType() SubType
}

// SubType discriminates typed events
type SubType uint8

const (
	// SubTypeAll as a listener filter matches every sub-type
	SubTypeAll SubType = iota
	SubTypePre
	SubTypePost
)

func (s SubType) String() string {
	switch s {
	case SubTypeAll:
		return "all"
	case SubTypePre:
		return "pre"
	case SubTypePost:
		return "post"
	default:
		return "unknown"
	}
}

var (
	// AnyType is the key of the pipeline that receives every event.
	// A listener parameter declared as Event binds to it.
	AnyType = reflect.TypeFor[Event]()

	contextType     = reflect.TypeFor[context.Context]()
	errorType       = reflect.TypeFor[error]()
	cancellableType = reflect.TypeFor[Cancellable]()
	stoppableType   = reflect.TypeFor[Stoppable]()
	typedType       = reflect.TypeFor[Typed]()
)

// TypeOf returns the event type key for E
func TypeOf[E Event]() reflect.Type {
	return reflect.TypeFor[E]()
}

// BaseEvent base for events, embed it into concrete event structs
type BaseEvent struct {
	name       string
	occurredAt time.Time
}

// NewEvent creates a base event
func NewEvent(name string) BaseEvent {
	return BaseEvent{
		name:       name,
		occurredAt: time.Now(),
	}
}

// Name returns the event name
func (e BaseEvent) Name() string {
	return e.name
}

// OccurredAt returns the creation time
func (e BaseEvent) OccurredAt() time.Time {
	return e.occurredAt
}

// CancellableEvent embeddable Cancellable implementation
type CancellableEvent struct {
	BaseEvent
	cancelled bool
}

// NewCancellableEvent creates a cancellable base event
func NewCancellableEvent(name string) CancellableEvent {
	return CancellableEvent{BaseEvent: NewEvent(name)}
}

func (e *CancellableEvent) IsCancelled() bool {
	return e.cancelled
}

func (e *CancellableEvent) SetCancelled(cancelled bool) {
	e.cancelled = cancelled
}

// StoppableEvent embeddable Stoppable implementation
type StoppableEvent struct {
	CancellableEvent
}

// NewStoppableEvent creates a stoppable base event
func NewStoppableEvent(name string) StoppableEvent {
	return StoppableEvent{CancellableEvent: NewCancellableEvent(name)}
}

// StopsPipeline marks the event as stoppable
func (e *StoppableEvent) StopsPipeline() {}

// TypedEvent embeddable Typed implementation
type TypedEvent struct {
	BaseEvent
	subType SubType
}

// NewTypedEvent creates a typed base event
func NewTypedEvent(name string, subType SubType) TypedEvent {
	return TypedEvent{BaseEvent: NewEvent(name), subType: subType}
}

func (e TypedEvent) SubType() SubType {
	return e.subType
}
