package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pubsub/internal/pubsub"
)

func newProvider(t *testing.T, async bool) *Provider {
	t.Helper()
	// shared cache keeps one in-memory database across pool connections
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	p, err := Open(context.Background(), "sqlite3", dsn, 1, async)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	_, err = p.DB().Exec(`CREATE TABLE orders (id TEXT PRIMARY KEY)`)
	require.NoError(t, err)
	return p
}

func count(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&n))
	return n
}

func insert(t *testing.T, scope any, id string) {
	t.Helper()
	tx, ok := TxFrom(scope)
	require.True(t, ok)
	_, err := tx.Exec(`INSERT INTO orders (id) VALUES (?)`, id)
	require.NoError(t, err)
}

func TestSessionCommitPersists(t *testing.T) {
	p := newProvider(t, false)
	require.True(t, p.Configured())

	s, err := p.NewSession()
	require.NoError(t, err)
	insert(t, s, "a")
	require.NoError(t, s.Commit())
	require.NoError(t, s.Close())

	assert.Equal(t, 1, count(t, p.DB()))
}

func TestSessionRollbackDiscards(t *testing.T) {
	p := newProvider(t, false)

	s, err := p.NewSession()
	require.NoError(t, err)
	insert(t, s, "a")
	require.NoError(t, s.Rollback())
	require.NoError(t, s.Close())

	assert.Equal(t, 0, count(t, p.DB()))
}

func TestSessionCloseWithoutDecisionRollsBack(t *testing.T) {
	p := newProvider(t, false)

	s, err := p.NewSession()
	require.NoError(t, err)
	insert(t, s, "a")
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Equal(t, 0, count(t, p.DB()))
}

func TestAsyncSession(t *testing.T) {
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		p := newProvider(t, true)
		require.True(t, p.Async())

		s, err := p.NewAsyncSession(ctx)
		require.NoError(t, err)
		insert(t, s, "a")
		require.NoError(t, s.Commit(ctx))
		require.NoError(t, s.Close(ctx))
		assert.Equal(t, 1, count(t, p.DB()))
	})

	t.Run("rollback", func(t *testing.T) {
		p := newProvider(t, true)

		s, err := p.NewAsyncSession(ctx)
		require.NoError(t, err)
		insert(t, s, "a")
		require.NoError(t, s.Rollback(ctx))
		require.NoError(t, s.Close(ctx))
		assert.Equal(t, 0, count(t, p.DB()))
	})

	t.Run("sync only provider", func(t *testing.T) {
		p := newProvider(t, false)

		_, err := p.NewAsyncSession(ctx)
		require.Error(t, err)
		assert.True(t, pubsub.IsConfigurationError(err))
	})
}

func TestTxFromRejectsOtherScopes(t *testing.T) {
	_, ok := TxFrom(struct{}{})
	assert.False(t, ok)
}

func TestNilProviderIsNotConfigured(t *testing.T) {
	var p *Provider
	assert.False(t, p.Configured())
}
