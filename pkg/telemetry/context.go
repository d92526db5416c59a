package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing, metrics, and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

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

// NewNopTelemetry returns telemetry that logs nothing, exports no spans and
// keeps metrics on a throwaway registry. Events are delivered synchronously.
func NewNopTelemetry() *Telemetry {
	cfg := TestConfig()
	tracer, _ := NewTracer(TracingConfig{}, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	metrics, _ := NewMetrics(cfg.Metrics)
	events, _ := NewEventPublisher(cfg.Events)
	return &Telemetry{
		Logger:  NewNopLogger(),
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context,
// or nil if none is attached.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	// Reverse order of initialization.
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// Flush forces all pending spans to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// Operation is an instrumented unit of work: a span, a scoped logger and a
// timer feeding the operation duration histogram.
type Operation struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger

	name    string
	timer   *Timer
	metrics *Metrics
}

// StartOperation begins an instrumented operation.
func (t *Telemetry) StartOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) *Operation {
	spanCtx, span := t.Tracer.StartSpan(ctx, name, attrs...)
	return t.newOperation(spanCtx, span, name)
}

// StartTreeOperation begins an instrumented operation on a tree, or on one
// of its tasks when taskID is set.
func (t *Telemetry) StartTreeOperation(ctx context.Context, name, treeID, taskID string) *Operation {
	if taskID != "" {
		spanCtx, span := t.Tracer.StartTaskSpan(ctx, name, treeID, taskID)
		return t.newOperation(spanCtx, span, name)
	}
	spanCtx, span := t.Tracer.StartTreeSpan(ctx, name, treeID)
	return t.newOperation(spanCtx, span, name)
}

func (t *Telemetry) newOperation(spanCtx context.Context, span trace.Span, name string) *Operation {
	logger := t.Logger.WithField("operation", name)
	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}

	return &Operation{
		Ctx:     spanCtx,
		Span:    span,
		Logger:  logger,
		name:    name,
		timer:   NewTimer(),
		metrics: t.Metrics,
	}
}

// StartOperation begins an instrumented operation using the telemetry
// attached to ctx. Without one, the operation only carries a logger.
func StartOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) *Operation {
	if tel := FromTelemetryContext(ctx); tel != nil {
		return tel.StartOperation(ctx, name, attrs...)
	}
	return &Operation{
		Ctx:    ctx,
		Logger: FromContext(ctx),
		name:   name,
		timer:  NewTimer(),
	}
}

// End finishes the operation, recording success or failure on the span.
func (op *Operation) End(err error) {
	op.metrics.ObserveOperation(op.name, op.timer.Duration())
	if op.Span == nil {
		return
	}
	if err != nil {
		RecordError(op.Span, err)
	} else {
		RecordSuccess(op.Span)
	}
	op.Span.End()
}
