package analysis

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aaaa47080/stock-agent-sub000/runtime/session"
	"github.com/aaaa47080/stock-agent-sub000/runtime/stream"
	"github.com/aaaa47080/stock-agent-sub000/runtime/telemetry"
)

type (
	// Option configures a Controller.
	Option func(*options)

	options struct {
		hooks    Hooks
		logger   telemetry.Logger
		metrics  telemetry.Metrics
		tracer   telemetry.Tracer
		now      func() time.Time
		store    session.Store
		sink     stream.Sink
		decoder  *stream.Decoder
		provider SessionProvider
		newRunID func() string
	}
)

// WithHooks registers optional callbacks.
func WithHooks(h Hooks) Option {
	return func(o *options) { o.hooks = h }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l telemetry.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder. Defaults to a no-op recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer sets the tracer. Defaults to a no-op tracer.
func WithTracer(t telemetry.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithClock overrides the wall clock used for elapsed time.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSessionStore records sessions and runs in s. Store failures are
// logged and never interrupt an operation.
func WithSessionStore(s session.Store) Option {
	return func(o *options) { o.store = s }
}

// WithSink mirrors every decoded event to s.
func WithSink(s stream.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithDecoder sets the record decoder. Defaults to stream.NewDecoder().
func WithDecoder(d *stream.Decoder) Option {
	return func(o *options) {
		if d != nil {
			o.decoder = d
		}
	}
}

// WithSessionProvider sets the function creating session ids. Defaults to
// random UUIDs.
func WithSessionProvider(p SessionProvider) Option {
	return func(o *options) {
		if p != nil {
			o.provider = p
		}
	}
}

func defaultOptions() options {
	return options{
		logger:  telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
		tracer:  telemetry.NewNoopTracer(),
		now:     time.Now,
		provider: func(context.Context) (string, error) {
			return uuid.NewString(), nil
		},
		newRunID: uuid.NewString,
	}
}
