package pubsub

import "context"

// Publisher defines the interface for publishing data to topics.
type Publisher interface {
	// Publish publishes data to a topic and returns the broker message ID.
	Publish(ctx context.Context, topic string, data any, attrs map[string]string) (string, error)

	// PublishBatch publishes every item independently and returns one result per item, in order.
	PublishBatch(ctx context.Context, topic string, data []any, attrs map[string]string) []PublishResult
}

// PublishResult is the outcome of one publish within a batch.
type PublishResult struct {
	Data any
	ID   string
	Err  error
}

// Transport sends one encoded message to a topic path.
type Transport interface {
	Send(ctx context.Context, topicPath string, msg *Message) (string, error)
}
