package publisher

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pubsub/internal/pubsub"
	"pubsub/internal/pubsub/tracing"
)

// TracedPublisher wraps a pubsub.Publisher with distributed tracing
// Layer order: TracedPublisher -> MetricsPublisher -> Publisher (real thing)
type TracedPublisher struct {
	publisher pubsub.Publisher
	tracer    *tracing.Tracer
}

// NewTracedPublisher creates a new traced publisher that wraps a metrics publisher
func NewTracedPublisher(publisher pubsub.Publisher, tracer *tracing.Tracer) pubsub.Publisher {
	return &TracedPublisher{
		publisher: publisher,
		tracer:    tracer,
	}
}

// Publish implements pubsub.Publisher.Publish with distributed tracing
func (p *TracedPublisher) Publish(ctx context.Context, topic string, data any, attrs map[string]string) (string, error) {
	ctx, span := p.tracer.StartSpan(ctx, "publisher.publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	span.SetAttributes(p.tracer.PublisherAttributes(topic, 1)...)

	id, err := p.publisher.Publish(ctx, topic, data, attrs)

	if err != nil {
		p.tracer.RecordError(ctx, err)
	} else {
		span.SetAttributes(attribute.String("messaging.message.id", id))
		span.SetStatus(codes.Ok, "")
	}

	span.SetAttributes(p.tracer.ErrorAttributes(err)...)
	return id, err
}

// PublishBatch implements pubsub.Publisher.PublishBatch with distributed tracing
func (p *TracedPublisher) PublishBatch(ctx context.Context, topic string, data []any, attrs map[string]string) []pubsub.PublishResult {
	ctx, span := p.tracer.StartSpan(ctx, "publisher.publish_batch", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	span.SetAttributes(p.tracer.PublisherAttributes(topic, len(data))...)

	results := p.publisher.PublishBatch(ctx, topic, data, attrs)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("pubsub.batch.failed", failed))

	if failed > 0 {
		span.SetStatus(codes.Error, "batch publish had failures")
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return results
}
