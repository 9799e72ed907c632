package pubsub

import "context"

// SessionProvider hands out transactional sessions scoped to a single message.
// One provider is constructed per process and injected into the dispatch engine;
// it typically owns the connection pool.
type SessionProvider interface {
	// Configured reports whether the provider has a usable backing store.
	Configured() bool

	// Async reports whether the provider can create AsyncScope sessions.
	Async() bool

	// NewSession begins a synchronous transactional session.
	NewSession() (Scope, error)

	// NewAsyncSession begins a context-aware transactional session.
	NewAsyncSession(ctx context.Context) (AsyncScope, error)
}

// Scope is a synchronous transactional session. The dispatch engine calls either
// Commit or Rollback once and then Close exactly once.
type Scope interface {
	Commit() error
	Rollback() error
	Close() error
}

// AsyncScope is the context-aware counterpart of Scope.
type AsyncScope interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close(ctx context.Context) error
}
