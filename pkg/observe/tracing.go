package observe

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/recompose/pkg/compose"
)

const defaultTracerName = "recompose"

// TracerConfig configures pass tracing.
type TracerConfig struct {
	// TracerName is the name of the tracer (default: "recompose").
	TracerName string

	// Provider supplies the tracer. Default: the global provider.
	Provider trace.TracerProvider
}

// TracerOption configures Tracer.
type TracerOption func(*TracerConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) TracerOption {
	return func(c *TracerConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(p trace.TracerProvider) TracerOption {
	return func(c *TracerConfig) {
		c.Provider = p
	}
}

// Tracer wraps every pass in an OpenTelemetry span. It implements
// compose.PassObserver. Configure an exporter on the provider, e.g.:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
type Tracer struct {
	config TracerConfig
	tracer trace.Tracer
}

// NewTracer creates a Tracer.
func NewTracer(opts ...TracerOption) *Tracer {
	config := TracerConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Provider == nil {
		config.Provider = otel.GetTracerProvider()
	}
	return &Tracer{
		config: config,
		tracer: config.Provider.Tracer(config.TracerName),
	}
}

// PassStarted implements compose.PassObserver.
func (t *Tracer) PassStarted(ctx context.Context, info compose.PassInfo) context.Context {
	ctx, _ = t.tracer.Start(ctx, "recompose.pass",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int64("recompose.pass_id", int64(info.ID)),
			attribute.Int("recompose.pending", info.Pending),
		),
	)
	return ctx
}

// PassFinished implements compose.PassObserver.
func (t *Tracer) PassFinished(ctx context.Context, rep compose.PassReport, err error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()
	if !span.IsRecording() {
		return
	}

	span.SetAttributes(
		attribute.String("recompose.kind", string(rep.Kind)),
		attribute.Int("recompose.dirty", rep.Dirty),
		attribute.Int("recompose.recomposed", rep.Recomposed),
		attribute.Int("recompose.skipped", rep.Skipped),
		attribute.Int("recompose.created", rep.Created),
		attribute.Int("recompose.removed", rep.Removed),
		attribute.Int("recompose.table_size", rep.TableSize),
	)
	for _, m := range rep.Mismatches {
		span.AddEvent("structural mismatch", trace.WithAttributes(attribute.String("error", m.Error())))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
}
