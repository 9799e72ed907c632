// Package supervisor owns the live stream of a single subscription and turns
// handler outcomes into acknowledgment decisions.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pubsub/internal/pubsub"
	"pubsub/internal/validator"
)

// State is the lifecycle position of a Supervisor.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateListening
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

var errStoppedBeforeListening = errors.New("stopped before listening")

// Config tunes the stopping phase and commitment round trips.
type Config struct {
	// DrainTimeout bounds how long Run waits for in-flight handlers after the
	// stream closed. Zero waits indefinitely.
	DrainTimeout time.Duration
	// AckTimeout bounds each exactly-once commitment confirmation. Zero means no bound.
	AckTimeout time.Duration
}

// Deps are the collaborators a Supervisor needs.
type Deps struct {
	Subscriber pubsub.Subscriber
	Resolver   pubsub.PathResolver
	// Admin is only required for bindings that carry a Topic.
	Admin   pubsub.Admin
	Invoker pubsub.Invoker
	Logger  *zap.Logger
}

// Supervisor runs one subscription stream: STARTING -> LISTENING -> STOPPING -> STOPPED.
type Supervisor struct {
	binding    pubsub.Binding
	subscriber pubsub.Subscriber
	resolver   pubsub.PathResolver
	admin      pubsub.Admin
	invoker    pubsub.Invoker
	logger     *zap.Logger
	config     Config

	state    atomic.Int32
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu       sync.Mutex
	stopping bool
	inflight sync.WaitGroup
}

// New creates a supervisor for b.
func New(b pubsub.Binding, deps Deps, config Config) (*Supervisor, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	s := Supervisor{
		binding:    b,
		subscriber: deps.Subscriber,
		resolver:   deps.Resolver,
		admin:      deps.Admin,
		invoker:    deps.Invoker,
		logger:     deps.Logger,
		config:     config,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}

	if err := validator.Validate("supervisor", s.subscriber, s.resolver, s.invoker, s.logger); err != nil {
		return nil, fmt.Errorf("failed to validate supervisor deps: %w", err)
	}
	s.logger = s.logger.Named("supervisor").With(
		zap.String("subscription", b.Name),
		zap.Stringer("ackMode", b.AckMode),
	)

	return &s, nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Done is closed once the supervisor reached StateStopped.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Stop requests shutdown. It does not wait; use Done for that. Calling Stop
// on a stopped supervisor is a no-op.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Run opens the stream and blocks until it stopped, either through ctx, Stop,
// or a stream failure. Only startup failures are returned, as *pubsub.StartupError;
// a stream that ended is logged and reported as a nil return.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		return fmt.Errorf("supervisor for %s already ran", s.binding.Name)
	}

	stream, err := s.start(ctx)
	if errors.Is(err, errStoppedBeforeListening) {
		s.logger.Info("stopped before listening")
		s.finish()
		return nil
	}
	if err != nil {
		s.logger.Error("failed to start subscription", zap.Error(err))
		s.finish()
		return &pubsub.StartupError{Subscription: s.binding.Name, Cause: err}
	}

	s.state.Store(int32(StateListening))
	s.logger.Info("listening for messages")

	select {
	case <-ctx.Done():
	case <-s.stopCh:
	case <-stream.Done():
	}

	s.shutdown(stream)
	return nil
}

func (s *Supervisor) start(ctx context.Context) (pubsub.Stream, error) {
	if s.stopRequested(ctx) {
		return nil, errStoppedBeforeListening
	}

	path, err := s.resolver.SubscriptionPath(s.binding.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve subscription path: %w", err)
	}

	if s.binding.Topic != "" {
		if err := s.ensureSubscription(ctx, path); err != nil {
			return nil, err
		}
	}

	if s.stopRequested(ctx) {
		return nil, errStoppedBeforeListening
	}

	// Message handling outlives stream cancellation so in-flight handlers finish.
	handleCtx := context.WithoutCancel(ctx)
	stream, err := s.subscriber.Subscribe(ctx, path, func(d pubsub.Delivery) {
		s.receive(handleCtx, d)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", path, err)
	}

	return stream, nil
}

func (s *Supervisor) stopRequested(ctx context.Context) bool {
	select {
	case <-s.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (s *Supervisor) ensureSubscription(ctx context.Context, path string) error {
	if s.admin == nil {
		return pubsub.NewConfigurationError(pubsub.ErrConfiguration, "subscription "+s.binding.Name+" has a topic but no admin client")
	}

	topicPath, err := s.resolver.TopicPath(s.binding.Topic)
	if err != nil {
		return fmt.Errorf("failed to resolve topic path: %w", err)
	}

	err = s.admin.CreateSubscription(ctx, path, topicPath, s.binding.AckMode == pubsub.ExactlyOnce)
	switch {
	case err == nil:
		s.logger.Info("subscription created", zap.String("topic", topicPath))
	case errors.Is(err, pubsub.ErrAlreadyExists):
		s.logger.Debug("subscription already exists", zap.String("topic", topicPath))
	default:
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	return nil
}

func (s *Supervisor) receive(ctx context.Context, d pubsub.Delivery) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		d.Nack()
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.inflight.Done()
		s.handle(ctx, d)
	}()
}

func (s *Supervisor) handle(ctx context.Context, d pubsub.Delivery) {
	msg := d.Message()
	logger := s.logger.With(zap.String("messageId", msg.ID))
	if cd, ok := d.(pubsub.ContextDelivery); ok {
		ctx = cd.Context(ctx)
	}

	if s.binding.AckMode == pubsub.ExactlyOnce {
		commitment := d.AckWithResponse()
		err := s.invoker.Invoke(ctx, s.binding, msg)
		if err != nil {
			logger.Error("failed to handle message", zap.Error(err))
		}
		s.settle(ctx, logger, commitment, err)
		return
	}

	if err := s.invoker.Invoke(ctx, s.binding, msg); err != nil {
		logger.Error("failed to handle message", zap.Error(err))
		d.Nack()
		return
	}

	d.Ack()
	logger.Debug("message acknowledged")
}

// settle confirms or cancels an exactly-once commitment. Commitment failures
// are logged and never end the stream.
func (s *Supervisor) settle(ctx context.Context, logger *zap.Logger, c pubsub.Commitment, outcome error) {
	if s.config.AckTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.AckTimeout)
		defer cancel()
	}

	if outcome == nil {
		if err := c.Ack(ctx); err != nil {
			logger.Error("failed to confirm ack commitment", zap.Error(err))
			return
		}
		logger.Debug("ack commitment confirmed")
		return
	}

	if err := c.Nack(ctx); err != nil {
		logger.Error("failed to cancel ack commitment", zap.Error(err))
		return
	}
	logger.Debug("ack commitment cancelled")
}

func (s *Supervisor) shutdown(stream pubsub.Stream) {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	s.state.Store(int32(StateStopping))

	stream.Cancel()
	<-stream.Done()

	if !s.drain() {
		s.logger.Warn("in-flight handlers still running after drain timeout", zap.Duration("timeout", s.config.DrainTimeout))
	}

	if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("stream stopped with error", zap.Error(&pubsub.TransportError{Subscription: s.binding.Name, Cause: err}))
	} else {
		s.logger.Info("stopped listening")
	}

	s.finish()
}

func (s *Supervisor) drain() bool {
	drained := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(drained)
	}()

	if s.config.DrainTimeout <= 0 {
		<-drained
		return true
	}

	timer := time.NewTimer(s.config.DrainTimeout)
	defer timer.Stop()

	select {
	case <-drained:
		return true
	case <-timer.C:
		return false
	}
}

func (s *Supervisor) finish() {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	s.state.Store(int32(StateStopped))
	close(s.done)
}
