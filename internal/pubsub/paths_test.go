package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathBuilders(t *testing.T) {
	assert.Equal(t, "projects/demo/topics/orders", TopicPath("demo", "orders"))
	assert.Equal(t, "projects/demo/subscriptions/orders-sub", SubscriptionPath("demo", "orders-sub"))

	// full paths pass through, even for another project
	assert.Equal(t, "projects/other/topics/orders", TopicPath("demo", "projects/other/topics/orders"))
	assert.Equal(t, "projects/other/subscriptions/s", SubscriptionPath("demo", "projects/other/subscriptions/s"))

	assert.True(t, IsTopicPath("projects/demo/topics/orders"))
	assert.False(t, IsTopicPath("projects/demo/subscriptions/orders"))
	assert.False(t, IsSubscriptionPath("orders"))
}

func TestShortName(t *testing.T) {
	assert.Equal(t, "orders", ShortName("projects/demo/topics/orders"))
	assert.Equal(t, "orders", ShortName("orders"))
}

func TestProjectPaths(t *testing.T) {
	p := NewProjectPaths("demo")

	topic, err := p.TopicPath("orders")
	require.NoError(t, err)
	assert.Equal(t, "projects/demo/topics/orders", topic)

	sub, err := p.SubscriptionPath("orders-sub")
	require.NoError(t, err)
	assert.Equal(t, "projects/demo/subscriptions/orders-sub", sub)

	_, err = p.TopicPath("")
	assert.ErrorIs(t, err, ErrEmptyName)
	assert.True(t, IsConfigurationError(err))

	unbound := ProjectPaths{}
	_, err = unbound.SubscriptionPath("orders-sub")
	assert.True(t, IsConfigurationError(err))

	full, err := unbound.SubscriptionPath("projects/demo/subscriptions/orders-sub")
	require.NoError(t, err)
	assert.Equal(t, "projects/demo/subscriptions/orders-sub", full)
}

func TestPlainPaths(t *testing.T) {
	var p PlainPaths

	topic, err := p.TopicPath("orders")
	require.NoError(t, err)
	assert.Equal(t, "orders", topic)

	_, err = p.SubscriptionPath("")
	assert.ErrorIs(t, err, ErrEmptyName)
}
