package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides a unified telemetry interface combining logging,
// tracing, metrics, and progress events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// NewNopTelemetry returns a telemetry instance that discards everything.
// Used by tests and by the dispatch fast path, where any telemetry setup
// cost would be paid on every interposed language command.
func NewNopTelemetry() *Telemetry {
	cfg := DefaultConfig()
	cfg.Logging.Level = "fatal"
	cfg.Logging.Output = "stderr"
	cfg.Logging.Format = "json"
	cfg.Tracing.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Events.Enabled = false
	tel, err := NewTelemetry(cfg)
	if err != nil {
		// DefaultConfig with everything disabled always validates
		panic(err)
	}
	return tel
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// RecordBackendCall wraps a backend invocation with a span, a timer, and
// invocation metrics. The outcome label is supplied by the callback so
// the classification happens exactly once.
func RecordBackendCall(ctx context.Context, backend, operation string, fn func(ctx context.Context) (string, error)) error {
	tel := FromTelemetryContext(ctx)

	var span trace.Span
	if tel != nil {
		ctx, span = tel.Tracer.StartBackendSpan(ctx, backend, operation)
		defer span.End()
	}

	timer := NewTimer()
	outcome, err := fn(ctx)

	if tel != nil {
		tel.Metrics.RecordBackendInvocation(backend, outcome, timer.Duration())
		if span != nil {
			span.SetAttributes(AttrOutcome.String(outcome))
		}
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
	}

	return err
}
