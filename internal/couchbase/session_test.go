package couchbase

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/couchbase/gocb/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransactions struct {
	commits   atomic.Int32
	rollbacks atomic.Int32
	retry     bool
	beginErr  error
}

func (f *fakeTransactions) run(fn gocb.AttemptFunc, _ *gocb.TransactionOptions) (*gocb.TransactionResult, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	if err := fn(nil); err != nil {
		f.rollbacks.Add(1)
		return nil, fmt.Errorf("transaction failed: %w", err)
	}
	if f.retry {
		if err := fn(nil); err != nil {
			f.rollbacks.Add(1)
			return nil, fmt.Errorf("transaction failed: %w", err)
		}
	}
	f.commits.Add(1)
	return &gocb.TransactionResult{TransactionID: "txn-1"}, nil
}

func TestSessionCommit(t *testing.T) {
	f := &fakeTransactions{}
	p := newSessionProvider(f.run, 0)
	require.True(t, p.Configured())
	require.True(t, p.Async())

	scope, err := p.NewSession()
	require.NoError(t, err)

	require.NoError(t, scope.Commit())
	require.NoError(t, scope.Close())
	require.NoError(t, scope.Close())

	assert.Equal(t, int32(1), f.commits.Load())
	assert.Zero(t, f.rollbacks.Load())
	assert.ErrorIs(t, scope.Commit(), errSessionEnded)
}

func TestSessionRollback(t *testing.T) {
	f := &fakeTransactions{}
	p := newSessionProvider(f.run, 0)

	scope, err := p.NewSession()
	require.NoError(t, err)

	require.NoError(t, scope.Rollback())
	require.NoError(t, scope.Close())

	assert.Zero(t, f.commits.Load())
	assert.Equal(t, int32(1), f.rollbacks.Load())
}

func TestSessionCloseWithoutDecisionRollsBack(t *testing.T) {
	f := &fakeTransactions{}
	p := newSessionProvider(f.run, 0)

	scope, err := p.NewSession()
	require.NoError(t, err)
	require.NoError(t, scope.Close())

	assert.Equal(t, int32(1), f.rollbacks.Load())
}

func TestSessionRetriedAttemptFailsCommit(t *testing.T) {
	f := &fakeTransactions{retry: true}
	p := newSessionProvider(f.run, 0)

	scope, err := p.NewSession()
	require.NoError(t, err)

	err = scope.Commit()
	require.Error(t, err)
	assert.ErrorIs(t, err, errRetryAttempt)
	assert.Zero(t, f.commits.Load())
}

func TestSessionBeginFailure(t *testing.T) {
	f := &fakeTransactions{beginErr: errors.New("cluster unavailable")}
	p := newSessionProvider(f.run, 0)

	_, err := p.NewSession()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to begin transaction")
}

func TestAsyncSession(t *testing.T) {
	f := &fakeTransactions{}
	p := newSessionProvider(f.run, 0)
	ctx := context.Background()

	scope, err := p.NewAsyncSession(ctx)
	require.NoError(t, err)

	_, ok := RunnerFrom(scope)
	assert.True(t, ok)

	require.NoError(t, scope.Commit(ctx))
	require.NoError(t, scope.Close(ctx))
	assert.Equal(t, int32(1), f.commits.Load())

	scope, err = p.NewAsyncSession(ctx)
	require.NoError(t, err)
	require.NoError(t, scope.Rollback(ctx))
	assert.Equal(t, int32(1), f.rollbacks.Load())
}

func TestProviderWithoutCluster(t *testing.T) {
	_, err := NewSessionProvider(nil, 0)
	assert.Error(t, err)

	var p *SessionProvider
	assert.False(t, p.Configured())

	_, ok := RunnerFrom("not a session")
	assert.False(t, ok)
}

func TestConfigEnabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{ConnectionString: "couchbase://localhost"}.Enabled())
}
