package supervisor

import (
	"context"
	"errors"

	"pubsub/internal/pubsub"
	"pubsub/internal/pubsub/metrics"
)

// MetricsSubscriber wraps a pubsub.Subscriber with metrics collection
type MetricsSubscriber struct {
	subscriber pubsub.Subscriber
	registry   *metrics.Registry
}

// NewMetricsSubscriber creates a new instrumented subscriber
func NewMetricsSubscriber(subscriber pubsub.Subscriber, registry *metrics.Registry) pubsub.Subscriber {
	return &MetricsSubscriber{
		subscriber: subscriber,
		registry:   registry,
	}
}

// Subscribe implements pubsub.Subscriber.Subscribe with metrics collection
func (s *MetricsSubscriber) Subscribe(ctx context.Context, path string, onMessage func(pubsub.Delivery)) (pubsub.Stream, error) {
	name := pubsub.ShortName(path)

	stream, err := s.subscriber.Subscribe(ctx, path, func(d pubsub.Delivery) {
		s.registry.RecordMessageReceived(name)
		onMessage(&metricsDelivery{Delivery: d, name: name, registry: s.registry})
	})
	if err != nil {
		s.registry.RecordStreamStop(name, "startup_error")
		return nil, err
	}

	s.registry.SetStreamActive(name, true)
	go func() {
		<-stream.Done()
		s.registry.SetStreamActive(name, false)
		reason := "cancelled"
		if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
			reason = "error"
		}
		s.registry.RecordStreamStop(name, reason)
	}()

	return stream, nil
}

type metricsDelivery struct {
	pubsub.Delivery
	name     string
	registry *metrics.Registry
}

// Context forwards to the wrapped delivery when it carries a context.
func (d *metricsDelivery) Context(parent context.Context) context.Context {
	if cd, ok := d.Delivery.(pubsub.ContextDelivery); ok {
		return cd.Context(parent)
	}
	return parent
}

func (d *metricsDelivery) Ack() {
	d.Delivery.Ack()
	d.registry.RecordAck(d.name, pubsub.AtLeastOnce.String(), "ack", nil)
}

func (d *metricsDelivery) Nack() {
	d.Delivery.Nack()
	d.registry.RecordAck(d.name, pubsub.AtLeastOnce.String(), "nack", nil)
}

func (d *metricsDelivery) AckWithResponse() pubsub.Commitment {
	return &metricsCommitment{Commitment: d.Delivery.AckWithResponse(), name: d.name, registry: d.registry}
}

type metricsCommitment struct {
	pubsub.Commitment
	name     string
	registry *metrics.Registry
}

func (c *metricsCommitment) Ack(ctx context.Context) error {
	err := c.Commitment.Ack(ctx)
	c.registry.RecordAck(c.name, pubsub.ExactlyOnce.String(), "ack", err)
	return err
}

func (c *metricsCommitment) Nack(ctx context.Context) error {
	err := c.Commitment.Nack(ctx)
	c.registry.RecordAck(c.name, pubsub.ExactlyOnce.String(), "nack", err)
	return err
}
