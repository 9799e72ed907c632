package invoker

import (
	"context"
	"time"

	"pubsub/internal/pubsub"
	"pubsub/internal/pubsub/metrics"
)

// MetricsInvoker wraps a pubsub.Invoker with metrics collection
type MetricsInvoker struct {
	invoker  pubsub.Invoker
	registry *metrics.Registry
}

// NewMetricsInvoker creates a new instrumented invoker
func NewMetricsInvoker(invoker pubsub.Invoker, registry *metrics.Registry) pubsub.Invoker {
	return &MetricsInvoker{
		invoker:  invoker,
		registry: registry,
	}
}

// Invoke implements pubsub.Invoker.Invoke with metrics collection
func (i *MetricsInvoker) Invoke(ctx context.Context, b pubsub.Binding, msg *pubsub.Message) error {
	name := pubsub.ShortName(b.Name)
	kind := b.Handler.Kind().String()
	i.registry.HandlerStarted(name)
	start := time.Now()

	err := i.invoker.Invoke(ctx, b, msg)

	outcome := metrics.OutcomeSuccess
	switch {
	case pubsub.IsConfigurationError(err):
		outcome = metrics.OutcomeConfigError
	case err != nil:
		outcome = metrics.OutcomeFailure
	}
	i.registry.RecordHandler(name, kind, outcome, time.Since(start))

	return err
}
