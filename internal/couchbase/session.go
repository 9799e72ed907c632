package couchbase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/couchbase/gocb/v2"

	"pubsub/internal/pubsub"
)

var (
	errRollback     = errors.New("session rolled back")
	errRetryAttempt = errors.New("transaction attempt retried after the handler ran")
	errSessionEnded = errors.New("session already ended")
)

type runFunc func(fn gocb.AttemptFunc, opts *gocb.TransactionOptions) (*gocb.TransactionResult, error)

// SessionProvider hands out one Couchbase transaction per message. The
// transaction lambda is held open on its own goroutine while the handler runs
// and completes once the engine commits or rolls back.
type SessionProvider struct {
	run     runFunc
	timeout time.Duration
}

// NewSessionProvider creates a provider on cluster's transactions.
func NewSessionProvider(cluster *gocb.Cluster, timeout time.Duration) (*SessionProvider, error) {
	if cluster == nil {
		return nil, fmt.Errorf("couchbase cluster cannot be nil")
	}

	return newSessionProvider(cluster.Transactions().Run, timeout), nil
}

func newSessionProvider(run runFunc, timeout time.Duration) *SessionProvider {
	return &SessionProvider{run: run, timeout: timeout}
}

// Configured implements pubsub.SessionProvider.
func (p *SessionProvider) Configured() bool { return p != nil && p.run != nil }

// Async implements pubsub.SessionProvider.
func (p *SessionProvider) Async() bool { return true }

// NewSession implements pubsub.SessionProvider.
func (p *SessionProvider) NewSession() (pubsub.Scope, error) {
	s, err := p.begin(context.Background())
	if err != nil {
		return nil, err
	}
	return &Session{txn: s}, nil
}

// NewAsyncSession implements pubsub.SessionProvider.
func (p *SessionProvider) NewAsyncSession(ctx context.Context) (pubsub.AsyncScope, error) {
	s, err := p.begin(ctx)
	if err != nil {
		return nil, err
	}
	return &AsyncSession{txn: s}, nil
}

func (p *SessionProvider) begin(ctx context.Context) (*txn, error) {
	t := &txn{
		ready:    make(chan TransactionRunner, 1),
		decision: make(chan error, 1),
		result:   make(chan error, 1),
	}

	opts := gocb.TransactionOptions{
		DurabilityLevel: gocb.DurabilityLevelNone,
		Timeout:         p.timeout,
	}

	go func() {
		attempts := 0
		_, err := p.run(func(actx *gocb.TransactionAttemptContext) error {
			attempts++
			if attempts > 1 {
				// The handler cannot be replayed inside a retried attempt.
				return errRetryAttempt
			}
			t.ready <- newTransactionRunner(actx)
			return <-t.decision
		}, &opts)
		t.result <- err
	}()

	select {
	case r := <-t.ready:
		t.runner = r
		return t, nil
	case err := <-t.result:
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	case <-ctx.Done():
		t.mu.Lock()
		t.ended = true
		t.mu.Unlock()
		t.decision <- errRollback
		return nil, ctx.Err()
	}
}

// txn bridges the engine's commit/rollback calls onto a running transaction lambda.
type txn struct {
	runner   TransactionRunner
	ready    chan TransactionRunner
	decision chan error
	result   chan error

	mu    sync.Mutex
	ended bool
}

// end delivers the decision once and returns the transaction outcome.
func (t *txn) end(decision error) error {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return errSessionEnded
	}
	t.ended = true
	t.mu.Unlock()

	t.decision <- decision
	return <-t.result
}

func (t *txn) commit() error {
	if err := t.end(nil); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *txn) rollback() error {
	err := t.end(errRollback)
	if err == nil || errors.Is(err, errRollback) {
		return nil
	}
	return fmt.Errorf("failed to roll back transaction: %w", err)
}

func (t *txn) close() error {
	t.mu.Lock()
	ended := t.ended
	t.mu.Unlock()
	if ended {
		return nil
	}
	return t.rollback()
}

func (t *txn) endCtx(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Session is the synchronous scope handed to session handlers.
type Session struct {
	txn *txn
}

// Runner exposes document operations inside the transaction.
func (s *Session) Runner() TransactionRunner { return s.txn.runner }

func (s *Session) Commit() error   { return s.txn.commit() }
func (s *Session) Rollback() error { return s.txn.rollback() }

// Close rolls back when neither Commit nor Rollback ran. Safe to call repeatedly.
func (s *Session) Close() error { return s.txn.close() }

// AsyncSession is the context-aware scope handed to async session handlers.
type AsyncSession struct {
	txn *txn
}

// Runner exposes document operations inside the transaction.
func (s *AsyncSession) Runner() TransactionRunner { return s.txn.runner }

func (s *AsyncSession) Commit(ctx context.Context) error {
	return s.txn.endCtx(ctx, s.txn.commit)
}

func (s *AsyncSession) Rollback(ctx context.Context) error {
	return s.txn.endCtx(ctx, s.txn.rollback)
}

func (s *AsyncSession) Close(ctx context.Context) error {
	return s.txn.endCtx(ctx, s.txn.close)
}

// RunnerFrom extracts the transaction runner from a scope handed to a handler.
func RunnerFrom(scope any) (TransactionRunner, bool) {
	switch s := scope.(type) {
	case *Session:
		return s.Runner(), true
	case *AsyncSession:
		return s.Runner(), true
	default:
		return nil, false
	}
}
