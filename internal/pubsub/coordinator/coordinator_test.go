package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"pubsub/internal/pubsub"
	"pubsub/internal/pubsub/invoker"
	"pubsub/internal/pubsub/pubsubtest"
	"pubsub/internal/pubsub/registry"
	"pubsub/internal/pubsub/supervisor"
)

const wait = 2 * time.Second

func newCoordinator(t *testing.T, sub *pubsubtest.Subscriber) (*Coordinator, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	pool, err := invoker.NewPool(8)
	require.NoError(t, err)
	inv, err := invoker.NewInvoker(nil, pool, logger)
	require.NoError(t, err)

	c, err := NewCoordinator(supervisor.Deps{
		Subscriber: sub,
		Resolver:   pubsub.PlainPaths{},
		Admin:      pubsubtest.NewAdmin(),
		Invoker:    inv,
		Logger:     logger,
	}, supervisor.Config{DrainTimeout: wait})
	require.NoError(t, err)
	return c, logs
}

func runAsync(c *Coordinator, ctx context.Context, bindings []pubsub.Binding) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx, bindings) }()
	return errCh
}

func waitListening(t *testing.T, sub *pubsubtest.Subscriber, names ...string) {
	t.Helper()
	for _, name := range names {
		require.Eventually(t, func() bool { return sub.Subscribed(name) }, wait, time.Millisecond, name)
	}
}

func TestRunFansOutAndStopsOnCancel(t *testing.T) {
	sub := pubsubtest.NewSubscriber()
	c, logs := newCoordinator(t, sub)

	reg := registry.New(nil)
	var mu sync.Mutex
	seen := map[string]int{}
	for _, name := range []string{"orders", "payments", "shipments"} {
		require.NoError(t, reg.Register(name, func(m *pubsub.Message) error {
			mu.Lock()
			defer mu.Unlock()
			seen[m.Attribute("sub")]++
			if m.String() == "fail" {
				return errors.New("rejected")
			}
			return nil
		}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runAsync(c, ctx, reg.Snapshot())
	waitListening(t, sub, "orders", "payments", "shipments")

	// N messages across M subscriptions
	var deliveries []*pubsubtest.Delivery
	var wantFail []bool
	for i := range 30 {
		name := []string{"orders", "payments", "shipments"}[i%3]
		data := "ok"
		if i%4 == 0 {
			data = "fail"
		}
		d, err := sub.Deliver(name, &pubsub.Message{ID: fmt.Sprint(i), Data: []byte(data), Attributes: map[string]string{"sub": name}})
		require.NoError(t, err)
		deliveries = append(deliveries, d)
		wantFail = append(wantFail, data == "fail")
	}

	for i, d := range deliveries {
		require.True(t, d.Wait(wait))
		if wantFail[i] {
			assert.Equal(t, 1, d.Nacks(), i)
			assert.Equal(t, 0, d.Acks(), i)
		} else {
			assert.Equal(t, 1, d.Acks(), i)
			assert.Equal(t, 0, d.Nacks(), i)
		}
	}

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(wait):
		t.Fatal("coordinator did not stop")
	}

	assert.False(t, c.Running())
	assert.Equal(t, map[string]int{"orders": 10, "payments": 10, "shipments": 10}, seen)
	entries := logs.FilterMessage("interrupted, stopping listening to subscriptions").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).FilterMessage("stream stopped with error").Len())
}

func TestSecondRunIsNoOp(t *testing.T) {
	sub := pubsubtest.NewSubscriber()
	c, logs := newCoordinator(t, sub)

	reg := registry.New(nil)
	require.NoError(t, reg.Register("orders", func(*pubsub.Message) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := runAsync(c, ctx, reg.Snapshot())
	waitListening(t, sub, "orders")
	require.True(t, c.Running())

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), reg.Snapshot()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(wait):
		t.Fatal("second Run blocked")
	}
	assert.Equal(t, 1, logs.FilterMessage("dispatch already running, ignoring second start").Len())

	c.Stop()
	require.NoError(t, <-errCh)
}

func TestStartupFailureIsIsolated(t *testing.T) {
	sub := pubsubtest.NewSubscriber()
	sub.FailSubscribe("broken", errors.New("not found"))
	c, logs := newCoordinator(t, sub)

	reg := registry.New(nil)
	require.NoError(t, reg.Register("broken", func(*pubsub.Message) error { return nil }))
	require.NoError(t, reg.Register("orders", func(*pubsub.Message) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runAsync(c, ctx, reg.Snapshot())
	waitListening(t, sub, "orders")

	require.Eventually(t, func() bool {
		return logs.FilterMessage("subscription failed to start").Len() == 1
	}, wait, time.Millisecond)

	d, err := sub.Deliver("orders", &pubsub.Message{ID: "1"})
	require.NoError(t, err)
	require.True(t, d.Wait(wait))
	assert.Equal(t, 1, d.Acks())

	cancel()
	require.NoError(t, <-errCh)
}

func TestStopSubscriptionLeavesSiblingsRunning(t *testing.T) {
	sub := pubsubtest.NewSubscriber()
	c, _ := newCoordinator(t, sub)

	reg := registry.New(nil)
	require.NoError(t, reg.Register("orders", func(*pubsub.Message) error { return nil }))
	require.NoError(t, reg.Register("payments", func(*pubsub.Message) error { return nil }))

	errCh := runAsync(c, context.Background(), reg.Snapshot())
	waitListening(t, sub, "orders", "payments")

	require.True(t, c.StopSubscription("orders"))
	assert.False(t, c.StopSubscription("unknown"))
	require.Eventually(t, func() bool {
		state, ok := c.State("orders")
		return ok && state == supervisor.StateStopped
	}, wait, time.Millisecond)

	state, ok := c.State("payments")
	require.True(t, ok)
	assert.Equal(t, supervisor.StateListening, state)
	assert.True(t, c.StopSubscription("orders"))

	c.Stop()
	require.NoError(t, <-errCh)
}

func TestRunWithoutBindingsReturns(t *testing.T) {
	c, logs := newCoordinator(t, pubsubtest.NewSubscriber())

	require.NoError(t, c.Run(context.Background(), nil))
	assert.Equal(t, 1, logs.FilterMessage("no subscriptions registered").Len())
	assert.False(t, c.Running())
}

func TestRunRejectsMalformedBinding(t *testing.T) {
	sub := pubsubtest.NewSubscriber()
	c, _ := newCoordinator(t, sub)

	err := c.Run(context.Background(), []pubsub.Binding{{Name: "orders"}})
	require.Error(t, err)
	assert.True(t, pubsub.IsConfigurationError(err))
	assert.False(t, sub.Subscribed("orders"))
}

func TestStopDuringStartupIsNotLost(t *testing.T) {
	reg := registry.New(nil)
	for _, name := range []string{"orders", "payments", "shipments"} {
		require.NoError(t, reg.Register(name, func(*pubsub.Message) error { return nil }))
	}

	for range 50 {
		c, _ := newCoordinator(t, pubsubtest.NewSubscriber())
		errCh := runAsync(c, context.Background(), reg.Snapshot())
		require.Eventually(t, c.Running, wait, time.Microsecond)
		c.Stop()

		select {
		case err := <-errCh:
			require.NoError(t, err)
		case <-time.After(wait):
			t.Fatal("Stop issued during startup was lost")
		}
		assert.False(t, c.Running())
	}
}

func TestStopWhileIdleDoesNotAffectNextRun(t *testing.T) {
	sub := pubsubtest.NewSubscriber()
	c, _ := newCoordinator(t, sub)
	c.Stop()

	reg := registry.New(nil)
	require.NoError(t, reg.Register("orders", func(*pubsub.Message) error { return nil }))

	errCh := runAsync(c, context.Background(), reg.Snapshot())
	waitListening(t, sub, "orders")
	state, ok := c.State("orders")
	require.True(t, ok)
	assert.Equal(t, supervisor.StateListening, state)

	c.Stop()
	require.NoError(t, <-errCh)
}

func TestRunRejectsDuplicateBindings(t *testing.T) {
	sub := pubsubtest.NewSubscriber()
	c, _ := newCoordinator(t, sub)

	h, err := pubsub.NewHandler(func(*pubsub.Message) error { return nil })
	require.NoError(t, err)
	b := pubsub.Binding{Name: "orders", Handler: h}

	err = c.Run(context.Background(), []pubsub.Binding{b, b})
	require.Error(t, err)
	assert.True(t, pubsub.IsConfigurationError(err))
	assert.False(t, sub.Subscribed("orders"))
	assert.False(t, c.Running())
}
