package watermill

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	core "pubsub/internal/pubsub"
	"pubsub/internal/pubsub/coordinator"
	"pubsub/internal/pubsub/invoker"
	"pubsub/internal/pubsub/publisher"
	"pubsub/internal/pubsub/registry"
	"pubsub/internal/pubsub/supervisor"
)

func newBroker(t *testing.T) *Broker {
	t.Helper()
	b, err := NewChannelBroker(zaptest.NewLogger(t), 16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestSendAndSubscribe(t *testing.T) {
	b := newBroker(t)
	ctx := context.Background()

	id, err := b.Send(ctx, "orders", &core.Message{Data: []byte("A"), Attributes: map[string]string{"k": "v"}})
	require.NoError(t, err)
	assert.Len(t, id, 26)

	got := make(chan *core.Message, 1)
	stream, err := b.Subscribe(ctx, "orders", func(d core.Delivery) {
		got <- d.Message()
		d.Ack()
	})
	require.NoError(t, err)

	select {
	case m := <-got:
		assert.Equal(t, id, m.ID)
		assert.Equal(t, "A", m.String())
		assert.Equal(t, "v", m.Attribute("k"))
		assert.Empty(t, m.Attribute(publishedAtKey))
		assert.False(t, m.PublishTime.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
	}

	stream.Cancel()
	<-stream.Done()
	assert.NoError(t, stream.Err())
}

func TestAdminRoutesSubscriptions(t *testing.T) {
	b := newBroker(t)
	ctx := context.Background()

	require.NoError(t, b.CreateTopic(ctx, "orders"))
	assert.ErrorIs(t, b.CreateTopic(ctx, "orders"), core.ErrAlreadyExists)

	require.NoError(t, b.CreateSubscription(ctx, "orders-audit", "orders", false))
	assert.ErrorIs(t, b.CreateSubscription(ctx, "orders-audit", "orders", false), core.ErrAlreadyExists)
	assert.Equal(t, "orders", b.topicFor("orders-audit"))
	assert.Equal(t, "payments", b.topicFor("payments"))
}

func TestStreamReportsClosedSubscriber(t *testing.T) {
	b := newBroker(t)

	stream, err := b.Subscribe(context.Background(), "orders", func(core.Delivery) {})
	require.NoError(t, err)
	require.NoError(t, b.Close())

	select {
	case <-stream.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end")
	}
	assert.ErrorIs(t, stream.Err(), errSubscriberClosed)
}

func TestCommitmentSettlesOnce(t *testing.T) {
	b := newBroker(t)
	ctx := context.Background()

	_, err := b.Send(ctx, "orders", &core.Message{Data: []byte("A")})
	require.NoError(t, err)

	done := make(chan error, 2)
	stream, err := b.Subscribe(ctx, "orders", func(d core.Delivery) {
		c := d.AckWithResponse()
		done <- c.Ack(ctx)
		done <- c.Nack(ctx)
	})
	require.NoError(t, err)
	defer stream.Cancel()

	assert.NoError(t, <-done)
	assert.Error(t, <-done)
}

func TestLoggerAdapter(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	l := NewLogger(zap.New(obs)).With(watermill.LogFields{"topic": "orders"})

	l.Info("info", watermill.LogFields{"n": 1})
	l.Trace("trace", nil)
	l.Error("error", errors.New("boom"), nil)

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, "orders", entries[0].ContextMap()["topic"])
	assert.Equal(t, "boom", entries[2].ContextMap()["error"])
}

// Full path: publish through the publisher, dispatch through coordinator and
// supervisors, acknowledge back to gochannel.
func TestDispatchEndToEnd(t *testing.T) {
	logger := zaptest.NewLogger(t)
	b := newBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	received := map[string][]string{}
	record := func(sub string) func(*core.Message) error {
		return func(m *core.Message) error {
			mu.Lock()
			defer mu.Unlock()
			received[sub] = append(received[sub], m.String())
			return nil
		}
	}

	reg := registry.New(logger)
	require.NoError(t, reg.Register("orders-billing", record("billing"), registry.WithTopic("orders")))
	require.NoError(t, reg.Register("orders-shipping", record("shipping"), registry.WithTopic("orders"), registry.WithExactlyOnce()))

	pool, err := invoker.NewPool(4)
	require.NoError(t, err)
	inv, err := invoker.NewInvoker(nil, pool, logger)
	require.NoError(t, err)

	coord, err := coordinator.NewCoordinator(supervisor.Deps{
		Subscriber: b,
		Resolver:   core.PlainPaths{},
		Admin:      b,
		Invoker:    inv,
		Logger:     logger,
	}, supervisor.Config{DrainTimeout: time.Second, AckTimeout: time.Second})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- coord.Run(ctx, reg.Snapshot()) }()

	require.Eventually(t, func() bool {
		a, okA := coord.State("orders-billing")
		s, okS := coord.State("orders-shipping")
		return okA && okS && a == supervisor.StateListening && s == supervisor.StateListening
	}, 2*time.Second, time.Millisecond)

	pub, err := publisher.NewPublisher(b, core.PlainPaths{}, time.Second, logger)
	require.NoError(t, err)
	results := pub.PublishBatch(ctx, "orders", []any{"A", "B", "C"}, nil)
	for _, r := range results {
		require.NoError(t, r.Err)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received["billing"]) == 3 && len(received["shipping"]) == 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"A", "B", "C"}, received["billing"])
	assert.ElementsMatch(t, []string{"A", "B", "C"}, received["shipping"])
}
