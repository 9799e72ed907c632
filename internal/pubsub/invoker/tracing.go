package invoker

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pubsub/internal/pubsub"
	"pubsub/internal/pubsub/tracing"
)

// TracedInvoker wraps a pubsub.Invoker with distributed tracing
// Layer order: TracedInvoker -> MetricsInvoker -> Invoker (real thing)
type TracedInvoker struct {
	invoker pubsub.Invoker
	tracer  *tracing.Tracer
}

// NewTracedInvoker creates a new traced invoker that wraps a metrics invoker
func NewTracedInvoker(invoker pubsub.Invoker, tracer *tracing.Tracer) pubsub.Invoker {
	return &TracedInvoker{
		invoker: invoker,
		tracer:  tracer,
	}
}

// Invoke implements pubsub.Invoker.Invoke with distributed tracing
func (i *TracedInvoker) Invoke(ctx context.Context, b pubsub.Binding, msg *pubsub.Message) error {
	ctx, span := i.tracer.StartSpan(ctx, "dispatch.invoke", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	span.SetAttributes(i.tracer.SubscriptionAttributes(b.Name, b.Handler.Kind().String(), b.AckMode.String())...)
	span.SetAttributes(i.tracer.MessageAttributes(msg.ID, len(msg.Data), msg.DeliveryAttempt)...)

	err := i.invoker.Invoke(ctx, b, msg)

	if err != nil {
		i.tracer.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.SetAttributes(i.tracer.ErrorAttributes(err)...)
	return err
}
