// Package app is the host-facing facade: register handlers, run dispatch until
// interrupted, manage topics and subscriptions, and publish.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"pubsub/internal/pubsub"
	"pubsub/internal/pubsub/coordinator"
	"pubsub/internal/pubsub/publisher"
	"pubsub/internal/pubsub/registry"
	"pubsub/internal/pubsub/supervisor"
	"pubsub/internal/validator"
)

var (
	errNoAdmin     = errors.New("no admin client configured")
	errNoPublisher = errors.New("no publisher configured")
)

// Deps are the collaborators the facade wires together. Admin and Publisher
// are optional; operations that need them fail without them.
type Deps struct {
	Subscriber pubsub.Subscriber
	Resolver   pubsub.PathResolver
	Invoker    pubsub.Invoker
	Admin      pubsub.Admin
	Publisher  pubsub.Publisher
	Logger     *zap.Logger
}

type App struct {
	registry    *registry.Registry
	coordinator *coordinator.Coordinator
	resolver    pubsub.PathResolver
	admin       pubsub.Admin
	publisher   pubsub.Publisher
	logger      *zap.Logger
}

func New(deps Deps, config supervisor.Config) (*App, error) {
	if err := validator.Validate("app", deps.Subscriber, deps.Resolver, deps.Invoker, deps.Logger); err != nil {
		return nil, fmt.Errorf("failed to validate app deps: %w", err)
	}

	c, err := coordinator.NewCoordinator(supervisor.Deps{
		Subscriber: deps.Subscriber,
		Resolver:   deps.Resolver,
		Admin:      deps.Admin,
		Invoker:    deps.Invoker,
		Logger:     deps.Logger,
	}, config)
	if err != nil {
		return nil, err
	}

	return &App{
		registry:    registry.New(deps.Logger),
		coordinator: c,
		resolver:    deps.Resolver,
		admin:       deps.Admin,
		publisher:   deps.Publisher,
		logger:      deps.Logger.Named("app"),
	}, nil
}

// Subscribe registers handler for the subscription name. Handlers registered
// after Run started are picked up by the next Run.
func (a *App) Subscribe(name string, handler any, opts ...registry.Option) error {
	if err := a.registry.Register(name, handler, opts...); err != nil {
		return fmt.Errorf("failed to register handler for %q: %w", name, err)
	}
	if a.coordinator.Running() {
		a.logger.Warn("handler registered while dispatch is running", zap.String("subscription", name))
	}
	return nil
}

// Run dispatches every registered subscription until ctx is cancelled,
// SIGINT or SIGTERM arrives, or Shutdown is called.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return a.coordinator.Run(ctx, a.registry.Snapshot())
}

// Running reports whether dispatch is in progress.
func (a *App) Running() bool { return a.coordinator.Running() }

// Shutdown stops every subscription stream. Run returns once in-flight
// handlers drained.
func (a *App) Shutdown() { a.coordinator.Stop() }

// StopSubscription stops one subscription stream.
func (a *App) StopSubscription(name string) bool { return a.coordinator.StopSubscription(name) }

// State reports the lifecycle state of a subscription in the current Run.
func (a *App) State(name string) (supervisor.State, bool) { return a.coordinator.State(name) }

// CreateTopic creates the topic name. An existing topic is not an error.
func (a *App) CreateTopic(ctx context.Context, name string) error {
	if a.admin == nil {
		return errNoAdmin
	}

	path, err := a.resolver.TopicPath(name)
	if err != nil {
		return err
	}

	if err := a.admin.CreateTopic(ctx, path); err != nil {
		if errors.Is(err, pubsub.ErrAlreadyExists) {
			a.logger.Warn("topic already exists", zap.String("topic", path))
			return nil
		}
		return fmt.Errorf("failed to create topic %s: %w", path, err)
	}

	a.logger.Info("topic created", zap.String("topic", path))
	return nil
}

// SubscriptionOptions tune CreateSubscription.
type SubscriptionOptions struct {
	// CreateTopic creates the topic before the subscription.
	CreateTopic bool
	ExactlyOnce bool
}

// CreateSubscription creates subscription name on topic. An existing
// subscription is not an error; any other failure is a StartupError.
func (a *App) CreateSubscription(ctx context.Context, name, topic string, opts SubscriptionOptions) error {
	if a.admin == nil {
		return &pubsub.StartupError{Subscription: name, Cause: errNoAdmin}
	}

	if opts.CreateTopic {
		if err := a.CreateTopic(ctx, topic); err != nil {
			return &pubsub.StartupError{Subscription: name, Cause: err}
		}
	}

	topicPath, err := a.resolver.TopicPath(topic)
	if err != nil {
		return &pubsub.StartupError{Subscription: name, Cause: err}
	}
	path, err := a.resolver.SubscriptionPath(name)
	if err != nil {
		return &pubsub.StartupError{Subscription: name, Cause: err}
	}

	if err := a.admin.CreateSubscription(ctx, path, topicPath, opts.ExactlyOnce); err != nil {
		if errors.Is(err, pubsub.ErrAlreadyExists) {
			a.logger.Warn("subscription already exists", zap.String("subscription", path))
			return nil
		}
		return &pubsub.StartupError{Subscription: name, Cause: err}
	}

	a.logger.Info("subscription created",
		zap.String("subscription", path),
		zap.String("topic", topicPath),
		zap.Bool("exactlyOnce", opts.ExactlyOnce),
	)
	return nil
}

// Publish sends data to topic and returns the broker message ID.
func (a *App) Publish(ctx context.Context, topic string, data any, attrs map[string]string) (string, error) {
	if a.publisher == nil {
		return "", errNoPublisher
	}
	return a.publisher.Publish(ctx, topic, data, attrs)
}

// PublishBatch publishes each item independently.
func (a *App) PublishBatch(ctx context.Context, topic string, data []any, attrs map[string]string) []pubsub.PublishResult {
	if a.publisher == nil {
		out := make([]pubsub.PublishResult, len(data))
		for i, d := range data {
			out[i] = pubsub.PublishResult{Data: d, Err: errNoPublisher}
		}
		return out
	}
	return a.publisher.PublishBatch(ctx, topic, data, attrs)
}

// PublishReturn runs fn and publishes its result to topic.
func PublishReturn[T any](ctx context.Context, a *App, topic string, attrs map[string]string, fn func(context.Context) (T, error)) (T, string, error) {
	if a.publisher == nil {
		var zero T
		return zero, "", errNoPublisher
	}
	return publisher.PublishReturn(ctx, a.publisher, topic, attrs, fn)
}
