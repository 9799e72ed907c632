package supervisor

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pubsub/internal/pubsub"
	"pubsub/internal/pubsub/tracing"
)

// TracedSubscriber wraps a pubsub.Subscriber with distributed tracing. Each
// delivery gets a span that ends with its acknowledgment decision.
// Layer order: TracedSubscriber -> MetricsSubscriber -> Subscriber (real thing)
type TracedSubscriber struct {
	subscriber pubsub.Subscriber
	tracer     *tracing.Tracer
}

// NewTracedSubscriber creates a new traced subscriber that wraps a metrics subscriber
func NewTracedSubscriber(subscriber pubsub.Subscriber, tracer *tracing.Tracer) pubsub.Subscriber {
	return &TracedSubscriber{
		subscriber: subscriber,
		tracer:     tracer,
	}
}

// Subscribe implements pubsub.Subscriber.Subscribe with distributed tracing
func (s *TracedSubscriber) Subscribe(ctx context.Context, path string, onMessage func(pubsub.Delivery)) (pubsub.Stream, error) {
	ctx, span := s.tracer.StartSpan(ctx, "subscriber.subscribe")
	defer span.End()

	span.SetAttributes(attribute.String("messaging.destination.subscription.name", path))

	stream, err := s.subscriber.Subscribe(ctx, path, func(d pubsub.Delivery) {
		msg := d.Message()
		_, span := s.tracer.StartSpan(context.Background(), "subscriber.deliver", trace.WithSpanKind(trace.SpanKindConsumer))
		span.SetAttributes(attribute.String("messaging.destination.subscription.name", path))
		span.SetAttributes(s.tracer.MessageAttributes(msg.ID, len(msg.Data), msg.DeliveryAttempt)...)
		onMessage(&tracedDelivery{Delivery: d, span: span})
	})

	if err != nil {
		s.tracer.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.SetAttributes(s.tracer.ErrorAttributes(err)...)
	return stream, err
}

type tracedDelivery struct {
	pubsub.Delivery
	span trace.Span
}

// Context implements pubsub.ContextDelivery, so handling spans join the
// delivery's trace.
func (d *tracedDelivery) Context(parent context.Context) context.Context {
	return trace.ContextWithSpan(parent, d.span)
}

func (d *tracedDelivery) Ack() {
	d.Delivery.Ack()
	d.end("ack", nil)
}

func (d *tracedDelivery) Nack() {
	d.Delivery.Nack()
	d.end("nack", nil)
}

func (d *tracedDelivery) AckWithResponse() pubsub.Commitment {
	d.span.AddEvent("ack commitment requested")
	return &tracedCommitment{Commitment: d.Delivery.AckWithResponse(), delivery: d}
}

func (d *tracedDelivery) end(decision string, err error) {
	d.span.SetAttributes(attribute.String("pubsub.ack_decision", decision))
	switch {
	case err != nil:
		d.span.RecordError(err)
		d.span.SetStatus(codes.Error, err.Error())
	case decision == "nack":
		d.span.SetStatus(codes.Error, "message nacked")
	default:
		d.span.SetStatus(codes.Ok, "")
	}
	d.span.End()
}

type tracedCommitment struct {
	pubsub.Commitment
	delivery *tracedDelivery
}

func (c *tracedCommitment) Ack(ctx context.Context) error {
	err := c.Commitment.Ack(ctx)
	c.delivery.end("ack", err)
	return err
}

func (c *tracedCommitment) Nack(ctx context.Context) error {
	err := c.Commitment.Nack(ctx)
	c.delivery.end("nack", err)
	return err
}
