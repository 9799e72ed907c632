package pubsub

import "context"

// Invoker runs exactly one handler invocation for a delivered message. A nil
// result is a successful outcome; anything else is a failure that must be
// nacked. Implementations never let a handler panic escape.
type Invoker interface {
	Invoke(ctx context.Context, b Binding, msg *Message) error
}
