package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config holds configuration parameters for OpenTelemetry tracing setup.
type Config struct {
	Enabled        bool          `env:"ENABLED" envDefault:"false"`
	ServiceName    string        `env:"SERVICE_NAME" envDefault:"pubsub-dispatch"`
	ServiceVersion string        `env:"SERVICE_VERSION" envDefault:"1.0.0"`
	Endpoint       string        `env:"ENDPOINT" envDefault:"localhost:4318"`
	SampleRate     float64       `env:"SAMPLE_RATE" envDefault:"1.0"`
	BatchTimeout   time.Duration `env:"BATCH_TIMEOUT" envDefault:"1s"`
	ExportTimeout  time.Duration `env:"EXPORT_TIMEOUT" envDefault:"30s"`
	MaxExportBatch int           `env:"MAX_EXPORT_BATCH" envDefault:"512"`
	MaxQueueSize   int           `env:"MAX_QUEUE_SIZE" envDefault:"2048"`
}

// Tracer wraps the OpenTelemetry tracer with helpers for dispatch and publish spans.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer configures an OTLP/HTTP exporting tracer provider, installs it
// globally and returns the tracer with a flush-and-shutdown cleanup func.
func NewTracer(config Config) (*Tracer, func(context.Context) error, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlptracehttp.New(
		context.Background(),
		otlptracehttp.WithEndpoint(config.Endpoint),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithTimeout(config.ExportTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	processor := sdktrace.NewBatchSpanProcessor(
		exporter,
		sdktrace.WithBatchTimeout(config.BatchTimeout),
		sdktrace.WithExportTimeout(config.ExportTimeout),
		sdktrace.WithMaxExportBatchSize(config.MaxExportBatch),
		sdktrace.WithMaxQueueSize(config.MaxQueueSize),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SampleRate))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	cleanup := func(ctx context.Context) error {
		if err := tp.ForceFlush(ctx); err != nil {
			return fmt.Errorf("failed to flush traces: %w", err)
		}
		return tp.Shutdown(ctx)
	}

	return NewTracerWithProvider(tp, config.ServiceName), cleanup, nil
}

// NewTracerWithProvider builds a Tracer on an existing provider.
func NewTracerWithProvider(tp trace.TracerProvider, name string) *Tracer {
	return &Tracer{tracer: tp.Tracer(name)}
}

// NewNoopTracer returns a Tracer that records nothing.
func NewNoopTracer(name string) *Tracer {
	return NewTracerWithProvider(noop.NewTracerProvider(), name)
}

// StartSpan creates a new span and returns the context carrying it.
func (t *Tracer) StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName, opts...)
}

// RecordError records err on the active span and marks it failed.
func (t *Tracer) RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SubscriptionAttributes describe the binding a message is dispatched through.
func (t *Tracer) SubscriptionAttributes(subscription, kind, ackMode string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.system", "pubsub"),
		attribute.String("messaging.destination.subscription.name", subscription),
		attribute.String("pubsub.handler.kind", kind),
		attribute.String("pubsub.ack_mode", ackMode),
	}
}

// MessageAttributes describe a delivered message.
func (t *Tracer) MessageAttributes(id string, size, deliveryAttempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.message.id", id),
		attribute.Int("messaging.message.body.size", size),
		attribute.Int("pubsub.delivery_attempt", deliveryAttempt),
	}
}

// PublisherAttributes describe a publish to topic.
func (t *Tracer) PublisherAttributes(topic string, batchSize int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.system", "pubsub"),
		attribute.String("messaging.destination.name", topic),
		attribute.Int("messaging.batch.message_count", batchSize),
	}
}

// ErrorAttributes creates attributes based on error state.
func (t *Tracer) ErrorAttributes(err error) []attribute.KeyValue {
	if err == nil {
		return []attribute.KeyValue{
			attribute.Bool("error", false),
		}
	}
	return []attribute.KeyValue{
		attribute.Bool("error", true),
		attribute.String("error.type", fmt.Sprintf("%T", err)),
		attribute.String("error.message", err.Error()),
	}
}
