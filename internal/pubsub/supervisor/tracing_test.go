package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"pubsub/internal/pubsub"
	"pubsub/internal/pubsub/invoker"
	"pubsub/internal/pubsub/tracing"
)

func TestDeliveryAndInvokeShareATrace(t *testing.T) {
	f := newFixture()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tracer := tracing.NewTracerWithProvider(tp, "test")

	pool, err := invoker.NewPool(1)
	require.NoError(t, err)
	inv, err := invoker.NewInvoker(nil, pool, f.logger)
	require.NoError(t, err)

	s, err := New(f.binding(t, "orders", func(*pubsub.Message) error { return nil }, pubsub.AtLeastOnce), Deps{
		Subscriber: NewTracedSubscriber(f.sub, tracer),
		Resolver:   pubsub.PlainPaths{},
		Invoker:    invoker.NewTracedInvoker(inv, tracer),
		Logger:     f.logger,
	}, Config{})
	require.NoError(t, err)
	errCh := f.start(t, context.Background(), s)

	d := f.deliver(t, "orders", "A")
	require.True(t, d.Wait(wait))
	stopAndWait(t, s, errCh)

	spans := map[string]sdktrace.ReadOnlySpan{}
	require.Eventually(t, func() bool {
		for _, span := range sr.Ended() {
			spans[span.Name()] = span
		}
		return spans["subscriber.deliver"] != nil && spans["dispatch.invoke"] != nil
	}, wait, time.Millisecond)

	deliver := spans["subscriber.deliver"].SpanContext()
	invoke := spans["dispatch.invoke"]
	assert.Equal(t, deliver.TraceID(), invoke.SpanContext().TraceID())
	assert.Equal(t, deliver.SpanID(), invoke.Parent().SpanID())
}
