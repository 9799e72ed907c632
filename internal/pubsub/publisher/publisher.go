// Package publisher encodes payloads and sends them to topics through a broker transport.
package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pubsub/internal/pubsub"
	"pubsub/internal/validator"
)

type Publisher struct {
	transport pubsub.Transport
	resolver  pubsub.PathResolver
	timeout   time.Duration
	logger    *zap.Logger
}

// NewPublisher creates a publisher. timeout bounds every single publish; zero disables it.
func NewPublisher(transport pubsub.Transport, resolver pubsub.PathResolver, timeout time.Duration, logger *zap.Logger) (*Publisher, error) {
	p := Publisher{
		transport: transport,
		resolver:  resolver,
		timeout:   timeout,
		logger:    logger,
	}

	if err := validator.Validate("publisher", p.transport, p.resolver, p.logger); err != nil {
		return nil, fmt.Errorf("failed to validate publisher deps: %w", err)
	}
	p.logger = p.logger.Named("publisher")

	return &p, nil
}

// Publish implements pubsub.Publisher.Publish.
func (p *Publisher) Publish(ctx context.Context, topic string, data any, attrs map[string]string) (string, error) {
	path, err := p.resolver.TopicPath(topic)
	if err != nil {
		return "", fmt.Errorf("failed to resolve topic path: %w", err)
	}

	payload := Encode(data)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	id, err := p.transport.Send(ctx, path, &pubsub.Message{
		Data:       payload,
		Attributes: copyAttrs(attrs),
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish to %s: %w", path, err)
	}

	p.logger.Debug("published message", zap.String("topic", path), zap.String("messageId", id), zap.Int("size", len(payload)))

	return id, nil
}

// PublishBatch implements pubsub.Publisher.PublishBatch. Items are published
// concurrently and independently; one failure does not affect the others.
func (p *Publisher) PublishBatch(ctx context.Context, topic string, data []any, attrs map[string]string) []pubsub.PublishResult {
	results := make([]pubsub.PublishResult, len(data))
	if len(data) == 0 {
		return results
	}

	var g errgroup.Group
	for i, item := range data {
		g.Go(func() error {
			id, err := p.Publish(ctx, topic, item, attrs)
			results[i] = pubsub.PublishResult{Data: item, ID: id, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		p.logger.Warn("batch publish had failures", zap.String("topic", topic), zap.Int("failed", failed), zap.Int("total", len(results)))
	}

	return results
}

// PublishReturn runs fn and publishes its result to topic. The result is
// returned even when publishing fails.
func PublishReturn[T any](ctx context.Context, p pubsub.Publisher, topic string, attrs map[string]string, fn func(context.Context) (T, error)) (T, string, error) {
	v, err := fn(ctx)
	if err != nil {
		return v, "", err
	}

	id, err := p.Publish(ctx, topic, v, attrs)
	return v, id, err
}

// Encode turns data into a payload: bytes and strings are sent as-is,
// anything else as JSON, falling back to its default formatting.
func Encode(data any) []byte {
	switch v := data.(type) {
	case nil:
		return nil
	case []byte:
		return v
	case string:
		return []byte(v)
	}

	b, err := sonic.Marshal(data)
	if err != nil {
		return []byte(fmt.Sprint(data))
	}
	return b
}

func copyAttrs(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
