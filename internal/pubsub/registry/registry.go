// Package registry holds the subscription bindings the dispatch engine serves.
package registry

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"pubsub/internal/pubsub"
)

// Option customises a binding at registration.
type Option func(*pubsub.Binding)

// WithExactlyOnce selects exactly-once acknowledgment.
func WithExactlyOnce() Option {
	return WithAckMode(pubsub.ExactlyOnce)
}

// WithAckMode sets the acknowledgment mode.
func WithAckMode(mode pubsub.AckMode) Option {
	return func(b *pubsub.Binding) { b.AckMode = mode }
}

// WithTopic creates the subscription against topic before the stream opens.
func WithTopic(topic string) Option {
	return func(b *pubsub.Binding) { b.Topic = topic }
}

// Registry maps subscription names to bindings. Registering a name again
// replaces the whole binding.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]pubsub.Binding
	logger   *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		bindings: make(map[string]pubsub.Binding),
		logger:   logger.Named("registry"),
	}
}

// Register classifies handler and stores the binding under name.
func (r *Registry) Register(name string, handler any, opts ...Option) error {
	h, err := pubsub.NewHandler(handler)
	if err != nil {
		return err
	}

	b := pubsub.Binding{Name: name, Handler: h, AckMode: pubsub.AtLeastOnce}
	for _, opt := range opts {
		opt(&b)
	}
	if err := b.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	_, replaced := r.bindings[name]
	r.bindings[name] = b
	r.mu.Unlock()

	r.logger.Debug("registered subscription handler",
		zap.String("subscription", name),
		zap.Stringer("kind", h.Kind()),
		zap.Stringer("ackMode", b.AckMode),
		zap.Bool("replaced", replaced),
	)

	return nil
}

// Snapshot returns a copy of all bindings ordered by name.
func (r *Registry) Snapshot() []pubsub.Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]pubsub.Binding, 0, len(r.bindings))
	for _, b := range r.bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// Len returns the number of bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}
