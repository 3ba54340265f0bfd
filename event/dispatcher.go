package event

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Publish runs the pipeline of e's type, then the AnyType pipeline, and
// returns e. A failure escaping one pipeline is reported to the fallback
// handler and does not keep the other from running.
func (b *Bus) Publish(ctx context.Context, e Event) Event {
	if e == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	eventType := reflect.TypeOf(e)
	specific := b.pipeline(eventType)
	wildcard := b.pipeline(AnyType)
	if specific == nil && wildcard == nil {
		return e
	}

	start := time.Now()
	var span trace.Span
	if b.tracer != nil {
		ctx, span = b.tracer.Start(ctx, "event.publish",
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				attribute.String("event.type", eventType.String()),
				attribute.String("event.name", e.Name()),
			))
		defer span.End()
	}

	if specific != nil {
		b.run(ctx, span, specific, e, eventType)
	}
	if wildcard != nil {
		b.run(ctx, span, wildcard, e, eventType)
	}

	b.metrics.RecordPublished(ctx, eventType.String(), time.Since(start))
	return e
}

// Call publishes e and returns it with its static type
func Call[E Event](b *Bus, ctx context.Context, e E) E {
	b.Publish(ctx, e)
	return e
}

func (b *Bus) run(ctx context.Context, span trace.Span, p Pipeline, e Event, eventType reflect.Type) {
	err := safeInvoke(ctx, p, e, eventType)
	if err == nil {
		return
	}

	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	b.metrics.RecordListenerFailure(ctx, eventType.String(), SafetyPropagate)
	b.fail(err)
}

// safeInvoke turns a panic escaping the pipeline into an error, except a
// panic of the fallback handler itself, which is re-raised unchanged
func safeInvoke(ctx context.Context, p Pipeline, e Event, eventType reflect.Type) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if hp, ok := r.(*handlerPanic); ok {
				panic(hp.value)
			}
			err = panicError(ErrPipelinePanic, eventType.String(), r)
		}
	}()
	return p.Invoke(ctx, e)
}

// PublishAsync submits the publication to the bus worker pool.
// The context keeps its values but not its cancellation.
func (b *Bus) PublishAsync(ctx context.Context, e Event) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if e == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	pool, err := b.asyncPool()
	if err != nil {
		return err
	}

	asyncCtx := context.WithoutCancel(ctx)
	if err := pool.Submit(func() { b.Publish(asyncCtx, e) }); err != nil {
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrBusClosed.Wrap(err)
		}
		b.logger.ErrorCtx(ctx, "submit async publication failed",
			zap.String("event", e.Name()),
			zap.Error(err))
		return err
	}
	return nil
}

// asyncPool creates the worker pool on first use
func (b *Bus) asyncPool() (*ants.Pool, error) {
	b.poolMu.Lock()
	defer b.poolMu.Unlock()

	if b.closed.Load() {
		return nil, ErrBusClosed
	}
	if b.pool != nil {
		return b.pool, nil
	}

	pool, err := ants.NewPool(b.poolSize, ants.WithPanicHandler(func(r any) {
		b.logger.Error("async publication panicked", zap.Any("panic", r))
	}))
	if err != nil {
		return nil, err
	}
	b.pool = pool
	return pool, nil
}

// Close stops accepting async publications and releases the worker pool.
// Synchronous Publish keeps working.
func (b *Bus) Close() {
	b.poolMu.Lock()
	defer b.poolMu.Unlock()

	if b.closed.Swap(true) {
		return
	}
	if b.pool != nil {
		b.pool.Release()
	}
}

// Running returns the number of busy async workers
func (b *Bus) Running() int {
	b.poolMu.Lock()
	defer b.poolMu.Unlock()
	if b.pool == nil {
		return 0
	}
	return b.pool.Running()
}
