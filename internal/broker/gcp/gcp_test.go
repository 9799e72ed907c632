package gcp

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	core "pubsub/internal/pubsub"
)

const project = "test-project"

func newTestClient(t *testing.T) (*Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	c, err := NewClient(context.Background(), Config{ProjectID: project, MaxOutstandingMessages: 10}, zaptest.NewLogger(t), option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c, srv
}

func TestAdminTreatsDuplicatesAsAlreadyExists(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	topic := core.TopicPath(project, "orders")
	sub := core.SubscriptionPath(project, "orders-sub")

	require.NoError(t, c.CreateTopic(ctx, topic))
	err := c.CreateTopic(ctx, topic)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrAlreadyExists)

	require.NoError(t, c.CreateSubscription(ctx, sub, topic, false))
	err = c.CreateSubscription(ctx, sub, topic, false)
	assert.ErrorIs(t, err, core.ErrAlreadyExists)
}

func TestPublishAndReceive(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()
	topic := core.TopicPath(project, "orders")
	sub := core.SubscriptionPath(project, "orders-sub")

	require.NoError(t, c.CreateTopic(ctx, topic))
	require.NoError(t, c.CreateSubscription(ctx, sub, topic, false))

	id, err := c.Send(ctx, topic, &core.Message{Data: []byte("A"), Attributes: map[string]string{"k": "v"}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got := make(chan *core.Message, 1)
	stream, err := c.Subscribe(ctx, sub, func(d core.Delivery) {
		d.Ack()
		got <- d.Message()
	})
	require.NoError(t, err)

	select {
	case m := <-got:
		assert.Equal(t, id, m.ID)
		assert.Equal(t, "A", m.String())
		assert.Equal(t, "v", m.Attribute("k"))
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}

	stream.Cancel()
	select {
	case <-stream.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop")
	}
	assert.NoError(t, stream.Err())

	require.Eventually(t, func() bool {
		m := srv.Message(id)
		return m != nil && m.Acks == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPathValidation(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Subscribe(context.Background(), "orders", func(core.Delivery) {})
	require.Error(t, err)
	assert.True(t, core.IsConfigurationError(err))

	err = c.CreateSubscription(context.Background(), core.SubscriptionPath(project, "s"), "projects/p/subscriptions/x", false)
	assert.True(t, core.IsConfigurationError(err))

	_, err = c.Send(context.Background(), "not/a/path", &core.Message{})
	assert.Error(t, err)
}
