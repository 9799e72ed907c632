// Package invoker executes handlers for delivered messages and owns the
// per-message session lifecycle.
package invoker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"pubsub/internal/pubsub"
	"pubsub/internal/validator"
)

// Invoker is the concrete pubsub.Invoker. Sync handlers run under the shared
// Pool; async handlers run on the caller's goroutine.
type Invoker struct {
	sessions pubsub.SessionProvider
	pool     *Pool
	logger   *zap.Logger
}

// NewInvoker creates an invoker. sessions may be nil when no handler needs a session.
func NewInvoker(sessions pubsub.SessionProvider, pool *Pool, logger *zap.Logger) (*Invoker, error) {
	i := Invoker{
		sessions: sessions,
		pool:     pool,
		logger:   logger,
	}

	if err := validator.Validate("invoker", i.pool, i.logger); err != nil {
		return nil, fmt.Errorf("failed to validate invoker deps: %w", err)
	}
	i.logger = i.logger.Named("invoker")

	return &i, nil
}

// Invoke implements pubsub.Invoker.
func (i *Invoker) Invoke(ctx context.Context, b pubsub.Binding, msg *pubsub.Message) error {
	logger := i.logger.With(zap.String("subscription", b.Name), zap.String("messageId", msg.ID))
	h := b.Handler

	if h.NeedsSession() {
		if err := i.checkSessions(h); err != nil {
			logger.Error("handler cannot run with the configured session provider", zap.Error(err))
			return err
		}
	}

	var err error
	if h.Async() {
		err = i.invokeAsync(context.WithoutCancel(ctx), logger, b, msg)
	} else {
		err = i.pool.Do(ctx, func() error {
			return i.invokeSync(logger, b, msg)
		})
	}

	if err != nil {
		logger.Debug("handler failed", zap.Error(err))
		return err
	}

	logger.Debug("handler succeeded")
	return nil
}

func (i *Invoker) checkSessions(h pubsub.Handler) error {
	if i.sessions == nil || !i.sessions.Configured() {
		return pubsub.NewConfigurationError(pubsub.ErrNoSessionProvider, "")
	}
	if h.Async() && !i.sessions.Async() {
		return pubsub.NewConfigurationError(pubsub.ErrAsyncSessionUnsupported, "")
	}
	return nil
}

func (i *Invoker) invokeSync(logger *zap.Logger, b pubsub.Binding, msg *pubsub.Message) error {
	h := b.Handler
	if !h.NeedsSession() {
		return call(b.Name, func() error { return h.CallSync(msg, nil) })
	}

	scope, err := i.sessions.NewSession()
	if err != nil {
		return fmt.Errorf("failed to acquire session: %w", err)
	}
	defer func() {
		if cerr := guard(scope.Close); cerr != nil {
			logger.Error("failed to close session", zap.Error(cerr))
		}
	}()

	if err := call(b.Name, func() error { return h.CallSync(msg, scope) }); err != nil {
		if rerr := guard(scope.Rollback); rerr != nil {
			logger.Error("failed to roll back session", zap.Error(rerr))
		}
		return err
	}

	if err := guard(scope.Commit); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}

	return nil
}

func (i *Invoker) invokeAsync(ctx context.Context, logger *zap.Logger, b pubsub.Binding, msg *pubsub.Message) error {
	h := b.Handler
	if !h.NeedsSession() {
		return call(b.Name, func() error { return h.CallAsync(ctx, msg, nil) })
	}

	scope, err := i.sessions.NewAsyncSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire async session: %w", err)
	}
	defer func() {
		if cerr := guard(func() error { return scope.Close(ctx) }); cerr != nil {
			logger.Error("failed to close async session", zap.Error(cerr))
		}
	}()

	if err := call(b.Name, func() error { return h.CallAsync(ctx, msg, scope) }); err != nil {
		if rerr := guard(func() error { return scope.Rollback(ctx) }); rerr != nil {
			logger.Error("failed to roll back async session", zap.Error(rerr))
		}
		return err
	}

	if err := guard(func() error { return scope.Commit(ctx) }); err != nil {
		return fmt.Errorf("failed to commit async session: %w", err)
	}

	return nil
}

// call runs user code and converts errors, false results and panics into a HandlerError.
func call(subscription string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &pubsub.HandlerError{Subscription: subscription, Panic: r}
		}
	}()

	if err := fn(); err != nil {
		return &pubsub.HandlerError{Subscription: subscription, Cause: err}
	}
	return nil
}

// guard turns a panic in session code into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session panicked: %v", r)
		}
	}()

	return fn()
}
