package event

import (
	"github.com/KOMKZ/go-yogan-pipebus/logger"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Bus
type Option func(*Bus)

// WithLogger sets the logger (default: logger.GetLogger("yogan"))
func WithLogger(l *logger.CtxZapLogger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithExtractor replaces the metadata extractor
func WithExtractor(x Extractor) Option {
	return func(b *Bus) {
		if x != nil {
			b.extractor = x
		}
	}
}

// WithSpecializer replaces the pipeline specializer
func WithSpecializer(s Specializer) Option {
	return func(b *Bus) {
		if s != nil {
			b.specializer = s
		}
	}
}

// WithMetrics records bus activity on m
func WithMetrics(m *EventMetrics) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

// WithTracer opens an "event.publish" span per publication
func WithTracer(t trace.Tracer) Option {
	return func(b *Bus) {
		b.tracer = t
	}
}

// WithPoolSize sets the size of the PublishAsync goroutine pool
func WithPoolSize(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.poolSize = size
		}
	}
}

// WithCompileParallelism bounds how many event types one Register call
// compiles at once; 1 compiles sequentially, 0 removes the bound
func WithCompileParallelism(n int) Option {
	return func(b *Bus) {
		if n >= 0 {
			b.compileParallelism = n
		}
	}
}

// WithSafetyRules sets safety modes by event type name (reflect.Type.String,
// e.g. "*app.OrderPlaced"). Unknown mode names are skipped; Config.Validate
// rejects them first.
func WithSafetyRules(rules []SafetyRule) Option {
	return func(b *Bus) {
		for _, r := range rules {
			if mode, err := ParseSafetyMode(r.Mode); err == nil {
				b.safetyRules[r.Type] = mode
			}
		}
	}
}

// WithErrorHandler sets the initial fallback handler
func WithErrorHandler(h ErrorHandler) Option {
	return func(b *Bus) {
		b.initialHandler = h
	}
}
