package publisher

import (
	"context"
	"time"

	"pubsub/internal/pubsub"
	"pubsub/internal/pubsub/metrics"
)

// MetricsPublisher wraps a pubsub.Publisher with metrics collection
type MetricsPublisher struct {
	publisher pubsub.Publisher
	registry  *metrics.Registry
}

// NewMetricsPublisher creates a new instrumented publisher
func NewMetricsPublisher(publisher pubsub.Publisher, registry *metrics.Registry) pubsub.Publisher {
	return &MetricsPublisher{
		publisher: publisher,
		registry:  registry,
	}
}

// Publish implements pubsub.Publisher.Publish with metrics collection
func (p *MetricsPublisher) Publish(ctx context.Context, topic string, data any, attrs map[string]string) (string, error) {
	start := time.Now()

	id, err := p.publisher.Publish(ctx, topic, data, attrs)
	p.registry.RecordPublish(pubsub.ShortName(topic), time.Since(start), err)

	return id, err
}

// PublishBatch implements pubsub.Publisher.PublishBatch with metrics collection
func (p *MetricsPublisher) PublishBatch(ctx context.Context, topic string, data []any, attrs map[string]string) []pubsub.PublishResult {
	name := pubsub.ShortName(topic)
	start := time.Now()

	results := p.publisher.PublishBatch(ctx, topic, data, attrs)
	duration := time.Since(start)

	p.registry.RecordPublishBatch(name, len(data))
	for _, r := range results {
		p.registry.RecordPublish(name, duration, r.Err)
	}

	return results
}
