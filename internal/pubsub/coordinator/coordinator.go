// Package coordinator fans a registry snapshot out into one stream supervisor
// per subscription and waits for all of them to stop.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pubsub/internal/pubsub"
	"pubsub/internal/pubsub/supervisor"
	"pubsub/internal/validator"
)

type Coordinator struct {
	deps   supervisor.Deps
	config supervisor.Config
	logger *zap.Logger

	running atomic.Bool

	mu            sync.Mutex
	cancel        context.CancelFunc
	supervisors   map[string]*supervisor.Supervisor
	stopRequested bool
}

func NewCoordinator(deps supervisor.Deps, config supervisor.Config) (*Coordinator, error) {
	c := Coordinator{
		deps:   deps,
		config: config,
		logger: deps.Logger,
	}

	if err := validator.Validate("coordinator", c.deps.Subscriber, c.deps.Resolver, c.deps.Invoker, c.logger); err != nil {
		return nil, fmt.Errorf("failed to validate coordinator deps: %w", err)
	}
	c.logger = c.logger.Named("coordinator")

	return &c, nil
}

// Running reports whether Run is in progress.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// Run starts one supervisor per binding and blocks until every one of them
// stopped. A call while another Run is in progress returns nil immediately.
// Cancelling ctx is the normal shutdown path and is not an error. Only a
// malformed binding fails Run, before any stream opens.
func (c *Coordinator) Run(ctx context.Context, bindings []pubsub.Binding) error {
	if !c.running.CompareAndSwap(false, true) {
		c.logger.Warn("dispatch already running, ignoring second start")
		return nil
	}
	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.supervisors = nil
		c.stopRequested = false
		c.running.Store(false)
		c.mu.Unlock()
	}()

	if len(bindings) == 0 {
		c.logger.Info("no subscriptions registered")
		return nil
	}

	sups := make(map[string]*supervisor.Supervisor, len(bindings))
	for _, b := range bindings {
		if _, dup := sups[b.Name]; dup {
			return fmt.Errorf("failed to create supervisor for %q: %w", b.Name,
				pubsub.NewConfigurationError(pubsub.ErrConfiguration, "duplicate binding "+b.Name))
		}
		sup, err := supervisor.New(b, c.deps, c.config)
		if err != nil {
			return fmt.Errorf("failed to create supervisor for %q: %w", b.Name, err)
		}
		sups[b.Name] = sup
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.cancel = cancel
	c.supervisors = sups
	if c.stopRequested {
		// Stop arrived while the supervisors were being built.
		cancel()
	}
	c.mu.Unlock()

	c.logger.Info("starting dispatch", zap.Int("subscriptions", len(sups)))

	var g errgroup.Group
	for name, sup := range sups {
		g.Go(func() error {
			// Startup failures stay with their subscription.
			if err := sup.Run(ctx); err != nil {
				c.logger.Error("subscription failed to start", zap.String("subscription", name), zap.Error(err))
			}
			return nil
		})
	}

	_ = g.Wait()

	if ctx.Err() != nil {
		c.logger.Info("interrupted, stopping listening to subscriptions")
	}
	c.logger.Info("dispatch stopped")

	return nil
}

// Stop cancels every supervisor of the current Run. It does not wait. A Stop
// that lands while Run is still starting up takes effect once startup is done.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running.Load() {
		return
	}
	c.stopRequested = true
	if c.cancel != nil {
		c.cancel()
	}
}

// StopSubscription stops a single subscription stream and leaves the others
// running. It reports whether the subscription was found.
func (c *Coordinator) StopSubscription(name string) bool {
	c.mu.Lock()
	sup, ok := c.supervisors[name]
	c.mu.Unlock()
	if !ok {
		return false
	}
	sup.Stop()
	return true
}

// State returns the lifecycle state of a subscription in the current Run.
func (c *Coordinator) State(name string) (supervisor.State, bool) {
	c.mu.Lock()
	sup, ok := c.supervisors[name]
	c.mu.Unlock()
	if !ok {
		return supervisor.StateStopped, false
	}
	return sup.State(), true
}
