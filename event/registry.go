package event

import (
	"fmt"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/KOMKZ/go-yogan-pipebus/logger"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Bus is an event registry with one compiled pipeline per event type.
//
// Publishing never locks: it loads the current pipeline of the event's type
// and of AnyType. Registration serializes per event type and rebuilds the
// whole pipeline of every type it touches, so it is meant to be rare
// compared to publishing.
type Bus struct {
	id      string
	entries sync.Map // reflect.Type -> *typeEntry
	seq     atomic.Uint64
	handler atomic.Pointer[ErrorHandler]

	initialHandler ErrorHandler

	extractor          Extractor
	specializer        Specializer
	logger             *logger.CtxZapLogger
	metrics            *EventMetrics
	tracer             trace.Tracer
	compileParallelism int

	safetyMu        sync.RWMutex
	safetyOverrides map[reflect.Type]SafetyMode
	safetyRules     map[string]SafetyMode

	poolSize int
	poolMu   sync.Mutex
	pool     *ants.Pool
	closed   atomic.Bool
}

// typeEntry holds the listeners and the active pipeline of one event type
type typeEntry struct {
	mu        sync.Mutex
	eventType reflect.Type
	owners    map[any][]Descriptor
	pipeline  atomic.Pointer[activePipeline]
	dead      bool // torn down; writers must start over with a fresh entry
}

type activePipeline struct {
	Pipeline
	listeners int
}

// New creates an independent bus
func New(opts ...Option) *Bus {
	b := &Bus{
		id:                 uuid.NewString(),
		extractor:          TargetExtractor{},
		specializer:        ClosureSpecializer{},
		compileParallelism: 4,
		poolSize:           100,
		safetyOverrides:    make(map[reflect.Type]SafetyMode),
		safetyRules:        make(map[string]SafetyMode),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logger.GetLogger("yogan")
	}
	b.logger = b.logger.With(zap.String("bus_id", b.id))
	b.SetFallbackErrorHandler(b.initialHandler)
	if b.metrics != nil {
		b.metrics.SetPipelineCountCallback(func() int64 { return int64(b.PipelineCount()) })
	}
	return b
}

// ID returns the bus instance id
func (b *Bus) ID() string {
	return b.id
}

// Register registers every listener owner declares.
// An owner with any invalid listener is rejected as a whole: nothing is
// registered and a warning is logged. Registering an owner again updates
// its listeners in place and drops a listener from the types it is no
// longer bound to; listeners it stopped declaring stay until Unregister.
func (b *Bus) Register(owner any) {
	b.register(nil, owner)
}

// RegisterFor registers only the listeners of owner bound to eventType
func (b *Bus) RegisterFor(eventType reflect.Type, owner any) {
	if eventType == nil {
		return
	}
	b.register(eventType, owner)
}

// RegisterType registers only the listeners of owner bound to E
func RegisterType[E Event](b *Bus, owner any) {
	b.RegisterFor(TypeOf[E](), owner)
}

func (b *Bus) register(only reflect.Type, owner any) {
	if !hashable(owner) {
		b.logger.Warn("event listener registration rejected",
			zap.String("owner", fmt.Sprintf("%T", owner)),
			zap.Error(ErrInvalidListener.WithMsgf("owner %T cannot be used as a map key", owner)))
		return
	}
	bindings, err := b.extractor.Extract(owner)
	if err != nil {
		b.logger.Warn("event listener registration rejected",
			zap.String("owner", fmt.Sprintf("%T", owner)),
			zap.Error(err))
		return
	}

	var types []reflect.Type
	byType := make(map[reflect.Type][]Descriptor)
	keys := make(map[string]bool)
	for _, bd := range bindings {
		keys[bd.Descriptor.Callable.key] = true
		if only != nil && bd.EventType != only {
			continue
		}
		if _, ok := byType[bd.EventType]; !ok {
			types = append(types, bd.EventType)
		}
		byType[bd.EventType] = append(byType[bd.EventType], bd.Descriptor)
	}
	if only == nil {
		// types the owner is still registered under but no binding names
		for _, t := range b.typesOf(owner) {
			if _, ok := byType[t]; !ok {
				types = append(types, t)
			}
		}
	} else {
		keys = nil
	}
	if len(types) == 0 {
		return
	}

	insert := func(t reflect.Type) error {
		return b.mutate(t, owner, true, func(prev []Descriptor) []Descriptor {
			return b.merge(prune(prev, keys, byType[t]), byType[t])
		})
	}

	errs := make([]error, len(types))
	if len(types) == 1 || b.compileParallelism == 1 {
		for i, t := range types {
			errs[i] = insert(t)
		}
	} else {
		var g errgroup.Group
		if b.compileParallelism > 0 {
			g.SetLimit(b.compileParallelism)
		}
		for i, t := range types {
			g.Go(func() error {
				errs[i] = insert(t)
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, err := range errs {
		if err != nil {
			b.fail(err)
		}
	}
}

// merge inserts or updates descriptors by callable key. An updated
// descriptor keeps its original sequence number.
func (b *Bus) merge(prev, next []Descriptor) []Descriptor {
	out := make([]Descriptor, len(prev), len(prev)+len(next))
	copy(out, prev)

	for _, d := range next {
		found := false
		for i := range out {
			if out[i].Callable.key == d.Callable.key {
				d.seq = out[i].seq
				out[i] = d
				found = true
				break
			}
		}
		if !found {
			d.seq = b.seq.Add(1)
			out = append(out, d)
		}
	}
	return out
}

// prune drops the descriptors of prev whose callable is among keys but not
// in next, i.e. listeners the owner now binds to other types only
func prune(prev []Descriptor, keys map[string]bool, next []Descriptor) []Descriptor {
	if len(keys) == 0 {
		return prev
	}
	out := make([]Descriptor, 0, len(prev))
	for _, d := range prev {
		moved := keys[d.Callable.key] && !slices.ContainsFunc(next, func(n Descriptor) bool {
			return n.Callable.key == d.Callable.key
		})
		if !moved {
			out = append(out, d)
		}
	}
	return out
}

// Unregister removes owner from every event type it is registered under.
// Each affected pipeline is rebuilt or torn down once.
func (b *Bus) Unregister(owner any) {
	if !hashable(owner) {
		return
	}
	for _, t := range b.typesOf(owner) {
		b.UnregisterFor(t, owner)
	}
}

// typesOf lists the event types owner has listeners under; owner must be hashable
func (b *Bus) typesOf(owner any) []reflect.Type {
	var types []reflect.Type
	b.entries.Range(func(key, value any) bool {
		if value.(*typeEntry).has(owner) {
			types = append(types, key.(reflect.Type))
		}
		return true
	})
	return types
}

func (e *typeEntry) has(owner any) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.owners[owner]
	return ok
}

// hashable reports whether owner can key the owners map. A comparable type
// may still hold an incomparable value in an interface field, which only
// fails when hashed.
func hashable(owner any) (ok bool) {
	if owner == nil || !reflect.TypeOf(owner).Comparable() {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	keys := make(map[any]struct{}, 1)
	keys[owner] = struct{}{}
	return len(keys) == 1
}

// UnregisterFor removes owner from eventType only. When no listener is
// left the type's entry and pipeline are deleted.
func (b *Bus) UnregisterFor(eventType reflect.Type, owner any) {
	if eventType == nil || !hashable(owner) {
		return
	}
	if err := b.mutate(eventType, owner, false, func([]Descriptor) []Descriptor { return nil }); err != nil {
		b.fail(err)
	}
}

// UnregisterType removes owner from E only
func UnregisterType[E Event](b *Bus, owner any) {
	b.UnregisterFor(TypeOf[E](), owner)
}

// mutate replaces owner's descriptors for eventType and publishes the
// rebuilt pipeline while holding the type's lock. On a compile failure the
// previous descriptors and pipeline are kept.
func (b *Bus) mutate(eventType reflect.Type, owner any, create bool, update func(prev []Descriptor) []Descriptor) error {
	for {
		e, ok := b.entry(eventType, create)
		if !ok {
			return nil
		}

		if retry, err := b.applyLocked(e, owner, update); !retry {
			return err
		}
	}
}

// applyLocked runs apply under e.mu; retry is true when e was torn down
// before the lock was taken
func (b *Bus) applyLocked(e *typeEntry, owner any, update func(prev []Descriptor) []Descriptor) (retry bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return true, nil
	}
	return false, b.apply(e, owner, update)
}

func (b *Bus) entry(eventType reflect.Type, create bool) (*typeEntry, bool) {
	if v, ok := b.entries.Load(eventType); ok {
		return v.(*typeEntry), true
	}
	if !create {
		return nil, false
	}
	v, _ := b.entries.LoadOrStore(eventType, &typeEntry{
		eventType: eventType,
		owners:    make(map[any][]Descriptor),
	})
	return v.(*typeEntry), true
}

// apply must be called with e.mu held
func (b *Bus) apply(e *typeEntry, owner any, update func(prev []Descriptor) []Descriptor) error {
	prev, existed := e.owners[owner]
	next := update(prev)
	if len(next) == 0 {
		if !existed {
			b.teardownIfEmpty(e)
			return nil
		}
		delete(e.owners, owner)
	} else {
		e.owners[owner] = next
	}

	if b.teardownIfEmpty(e) {
		return nil
	}

	p, err := b.compile(e.eventType, e.owners)
	if err != nil {
		if existed {
			e.owners[owner] = prev
		} else {
			delete(e.owners, owner)
		}
		b.teardownIfEmpty(e)
		b.metrics.RecordCompile(e.eventType.String(), false)
		b.logger.Error("event pipeline compile failed, keeping previous pipeline",
			zap.String("event_type", e.eventType.String()),
			zap.Error(err))
		return err
	}

	e.pipeline.Store(&activePipeline{Pipeline: p, listeners: countListeners(e.owners)})
	b.metrics.RecordCompile(e.eventType.String(), true)
	return nil
}

func countListeners(owners map[any][]Descriptor) int {
	var n int
	for _, ds := range owners {
		n += len(ds)
	}
	return n
}

// teardownIfEmpty deletes an entry without listeners; e.mu must be held
func (b *Bus) teardownIfEmpty(e *typeEntry) bool {
	if len(e.owners) > 0 {
		return false
	}
	e.dead = true
	e.pipeline.Store(nil)
	b.entries.CompareAndDelete(e.eventType, e)
	b.logger.Debug("event pipeline removed", zap.String("event_type", e.eventType.String()))
	return true
}

// recompile rebuilds the pipeline of eventType without changing listeners
func (b *Bus) recompile(eventType reflect.Type) error {
	e, ok := b.entry(eventType, false)
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead || len(e.owners) == 0 {
		return nil
	}

	p, err := b.compile(e.eventType, e.owners)
	if err != nil {
		b.metrics.RecordCompile(eventType.String(), false)
		b.logger.Error("event pipeline compile failed, keeping previous pipeline",
			zap.String("event_type", eventType.String()),
			zap.Error(err))
		return err
	}
	e.pipeline.Store(&activePipeline{Pipeline: p, listeners: countListeners(e.owners)})
	b.metrics.RecordCompile(eventType.String(), true)
	return nil
}

// pipeline returns the active pipeline of eventType, or nil
func (b *Bus) pipeline(eventType reflect.Type) Pipeline {
	v, ok := b.entries.Load(eventType)
	if !ok {
		return nil
	}
	if p := v.(*typeEntry).pipeline.Load(); p != nil {
		return p.Pipeline
	}
	return nil
}

// HasPipeline reports whether eventType has an active pipeline
func (b *Bus) HasPipeline(eventType reflect.Type) bool {
	return b.pipeline(eventType) != nil
}

// ListenerCount returns how many listeners the active pipeline of eventType calls
func (b *Bus) ListenerCount(eventType reflect.Type) int {
	v, ok := b.entries.Load(eventType)
	if !ok {
		return 0
	}
	if p := v.(*typeEntry).pipeline.Load(); p != nil {
		return p.listeners
	}
	return 0
}

// PipelineCount returns the number of event types with an active pipeline
func (b *Bus) PipelineCount() int {
	var n int
	b.entries.Range(func(_, value any) bool {
		if value.(*typeEntry).pipeline.Load() != nil {
			n++
		}
		return true
	})
	return n
}

// EventTypes lists the event types with an active pipeline
func (b *Bus) EventTypes() []reflect.Type {
	var types []reflect.Type
	b.entries.Range(func(key, value any) bool {
		if value.(*typeEntry).pipeline.Load() != nil {
			types = append(types, key.(reflect.Type))
		}
		return true
	})
	return types
}
