package pubsub

import "context"

// Subscriber opens push-style streams against a broker subscription.
type Subscriber interface {
	// Subscribe starts delivering messages of the subscription at path to onMessage.
	// onMessage is invoked once per delivery and must return quickly. The returned
	// stream runs until it is cancelled or fails.
	Subscribe(ctx context.Context, path string, onMessage func(Delivery)) (Stream, error)
}

// Stream is a live subscription stream.
type Stream interface {
	// Cancel stops intake. Safe to call more than once.
	Cancel()
	// Done is closed once the stream has fully stopped.
	Done() <-chan struct{}
	// Err returns the error that ended the stream; nil when it ended through Cancel.
	Err() error
}

// Delivery is one inbound message together with its acknowledgment handle.
type Delivery interface {
	Message() *Message
	// Ack acknowledges the message.
	Ack()
	// Nack negatively acknowledges the message, requesting prompt redelivery.
	Nack()
	// AckWithResponse requests an exactly-once acknowledgment commitment. The
	// commitment must later be confirmed with Ack or cancelled with Nack.
	AckWithResponse() Commitment
}

// ContextDelivery is a Delivery that contributes values, such as its trace
// span, to the context the message is handled with.
type ContextDelivery interface {
	Delivery
	Context(parent context.Context) context.Context
}

// Commitment is an exactly-once acknowledgment in progress.
type Commitment interface {
	// Ack confirms the commitment and waits for the broker response.
	Ack(ctx context.Context) error
	// Nack cancels the commitment so the broker redelivers the message.
	Nack(ctx context.Context) error
}

// PathResolver turns short names into broker paths.
type PathResolver interface {
	TopicPath(name string) (string, error)
	SubscriptionPath(name string) (string, error)
}

// Admin manages broker resources.
type Admin interface {
	// CreateTopic creates the topic at path. Returns an error matching ErrAlreadyExists
	// when it exists already.
	CreateTopic(ctx context.Context, path string) error

	// CreateSubscription creates the subscription at path bound to topicPath. Returns an
	// error matching ErrAlreadyExists when it exists already.
	CreateSubscription(ctx context.Context, path, topicPath string, exactlyOnce bool) error
}
