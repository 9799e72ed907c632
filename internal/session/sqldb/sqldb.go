// Package sqldb provides per-message transactional sessions over database/sql.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"pubsub/internal/pubsub"
)

// Provider implements pubsub.SessionProvider. It owns the process-wide
// connection pool; every session is one *sql.Tx on it.
type Provider struct {
	db    *sql.DB
	async bool
}

// Open opens and pings a pool for driver and dsn.
func Open(ctx context.Context, driver, dsn string, maxOpenConns int, async bool) (*Provider, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}

	return NewProvider(db, async), nil
}

// NewProvider wraps an existing pool. async enables context-aware sessions.
func NewProvider(db *sql.DB, async bool) *Provider {
	return &Provider{db: db, async: async}
}

// DB returns the underlying pool.
func (p *Provider) DB() *sql.DB { return p.db }

// Close closes the pool.
func (p *Provider) Close() error { return p.db.Close() }

func (p *Provider) Configured() bool { return p != nil && p.db != nil }

func (p *Provider) Async() bool { return p.async }

func (p *Provider) NewSession() (pubsub.Scope, error) {
	tx, err := p.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Session{tx: tx}, nil
}

func (p *Provider) NewAsyncSession(ctx context.Context) (pubsub.AsyncScope, error) {
	if !p.async {
		return nil, pubsub.NewConfigurationError(pubsub.ErrAsyncSessionUnsupported, "")
	}
	// The transaction must not die with the request context; cancellation is
	// the session owner's call through Rollback.
	tx, err := p.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &AsyncSession{tx: tx}, nil
}

// Session is the synchronous scope handed to session handlers.
type Session struct {
	tx   *sql.Tx
	once sync.Once
}

// Tx returns the transaction handlers run their statements on.
func (s *Session) Tx() *sql.Tx { return s.tx }

func (s *Session) Commit() error {
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Session) Rollback() error {
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	return nil
}

// Close rolls back an unfinished transaction. Safe to call repeatedly.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() { err = s.Rollback() })
	return err
}

// AsyncSession is the context-aware scope handed to async session handlers.
type AsyncSession struct {
	tx   *sql.Tx
	once sync.Once
}

// Tx returns the transaction handlers run their statements on.
func (s *AsyncSession) Tx() *sql.Tx { return s.tx }

func (s *AsyncSession) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *AsyncSession) Rollback(context.Context) error {
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	return nil
}

func (s *AsyncSession) Close(ctx context.Context) error {
	var err error
	s.once.Do(func() { err = s.Rollback(ctx) })
	return err
}

// TxFrom extracts the transaction from a scope handed to a handler.
func TxFrom(scope any) (*sql.Tx, bool) {
	switch s := scope.(type) {
	case *Session:
		return s.Tx(), true
	case *AsyncSession:
		return s.Tx(), true
	default:
		return nil, false
	}
}
