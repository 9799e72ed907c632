// Package pubsubtest provides in-memory broker fakes for exercising the
// dispatch engine without a broker.
package pubsubtest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"pubsub/internal/pubsub"
)

// Stream is a controllable pubsub.Stream.
type Stream struct {
	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	err  error
}

// NewStream returns an open stream.
func NewStream() *Stream {
	return &Stream{done: make(chan struct{})}
}

func (s *Stream) Cancel() { s.close(nil) }

// Fail ends the stream with err, as a broker fault would.
func (s *Stream) Fail(err error) { s.close(err) }

func (s *Stream) Done() <-chan struct{} { return s.done }

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) close(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

type subscription struct {
	stream    *Stream
	onMessage func(pubsub.Delivery)
}

// Subscriber is a fake pubsub.Subscriber. Messages are pushed with Deliver.
type Subscriber struct {
	mu     sync.Mutex
	subs   map[string]*subscription
	failOn map[string]error
}

// NewSubscriber returns a Subscriber with no live streams.
func NewSubscriber() *Subscriber {
	return &Subscriber{
		subs:   make(map[string]*subscription),
		failOn: make(map[string]error),
	}
}

// FailSubscribe makes Subscribe on path return err.
func (f *Subscriber) FailSubscribe(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[path] = err
}

func (f *Subscriber) Subscribe(_ context.Context, path string, onMessage func(pubsub.Delivery)) (pubsub.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failOn[path]; err != nil {
		return nil, err
	}

	stream := NewStream()
	f.subs[path] = &subscription{stream: stream, onMessage: onMessage}
	return stream, nil
}

// Subscribed reports whether path has an open stream.
func (f *Subscriber) Subscribed(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[path]
	if !ok {
		return false
	}
	select {
	case <-s.stream.Done():
		return false
	default:
		return true
	}
}

// Stream returns the stream opened for path, or nil.
func (f *Subscriber) Stream(path string) *Stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.subs[path]; ok {
		return s.stream
	}
	return nil
}

// Deliver pushes msg to the stream of path.
func (f *Subscriber) Deliver(path string, msg *pubsub.Message) (*Delivery, error) {
	d := NewDelivery(msg)
	if err := f.Push(path, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Push hands a prepared delivery to the stream of path.
func (f *Subscriber) Push(path string, d pubsub.Delivery) error {
	f.mu.Lock()
	s, ok := f.subs[path]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("no stream for %s", path)
	}

	s.onMessage(d)
	return nil
}

// Delivery is a fake pubsub.Delivery that counts acknowledgment calls.
type Delivery struct {
	msg        *pubsub.Message
	acks       atomic.Int32
	nacks      atomic.Int32
	commitment *Commitment
	requested  atomic.Int32
	once       sync.Once
	decided    chan struct{}
}

// NewDelivery wraps msg.
func NewDelivery(msg *pubsub.Message) *Delivery {
	d := &Delivery{msg: msg, decided: make(chan struct{})}
	d.commitment = &Commitment{delivery: d}
	return d
}

func (d *Delivery) Message() *pubsub.Message { return d.msg }

func (d *Delivery) Ack() {
	d.acks.Add(1)
	d.decide()
}

func (d *Delivery) Nack() {
	d.nacks.Add(1)
	d.decide()
}

func (d *Delivery) AckWithResponse() pubsub.Commitment {
	d.requested.Add(1)
	return d.commitment
}

// Acks is the number of plain Ack calls.
func (d *Delivery) Acks() int { return int(d.acks.Load()) }

// Nacks is the number of plain Nack calls.
func (d *Delivery) Nacks() int { return int(d.nacks.Load()) }

// CommitmentRequests is the number of AckWithResponse calls.
func (d *Delivery) CommitmentRequests() int { return int(d.requested.Load()) }

// Commitment returns the commitment handed out by AckWithResponse.
func (d *Delivery) Commitment() *Commitment { return d.commitment }

// Wait blocks until the first acknowledgment decision or timeout.
func (d *Delivery) Wait(timeout time.Duration) bool {
	select {
	case <-d.decided:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (d *Delivery) decide() {
	d.once.Do(func() { close(d.decided) })
}

// Commitment is a fake exactly-once commitment.
type Commitment struct {
	delivery *Delivery
	acks     atomic.Int32
	nacks    atomic.Int32
	mu       sync.Mutex
	err      error
}

// FailWith makes Ack and Nack return err.
func (c *Commitment) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *Commitment) Ack(context.Context) error {
	c.acks.Add(1)
	c.delivery.decide()
	return c.failure()
}

func (c *Commitment) Nack(context.Context) error {
	c.nacks.Add(1)
	c.delivery.decide()
	return c.failure()
}

// Acks is the number of confirmed commitments.
func (c *Commitment) Acks() int { return int(c.acks.Load()) }

// Nacks is the number of cancelled commitments.
func (c *Commitment) Nacks() int { return int(c.nacks.Load()) }

func (c *Commitment) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Admin is a fake pubsub.Admin backed by maps.
type Admin struct {
	mu            sync.Mutex
	Topics        map[string]bool
	Subscriptions map[string]string
	ExactlyOnce   map[string]bool
	Err           error
}

// NewAdmin returns an empty Admin.
func NewAdmin() *Admin {
	return &Admin{
		Topics:        make(map[string]bool),
		Subscriptions: make(map[string]string),
		ExactlyOnce:   make(map[string]bool),
	}
}

func (a *Admin) CreateTopic(_ context.Context, path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return a.Err
	}
	if a.Topics[path] {
		return fmt.Errorf("topic %s: %w", path, pubsub.ErrAlreadyExists)
	}
	a.Topics[path] = true
	return nil
}

func (a *Admin) CreateSubscription(_ context.Context, path, topicPath string, exactlyOnce bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return a.Err
	}
	if _, ok := a.Subscriptions[path]; ok {
		return fmt.Errorf("subscription %s: %w", path, pubsub.ErrAlreadyExists)
	}
	a.Subscriptions[path] = topicPath
	a.ExactlyOnce[path] = exactlyOnce
	return nil
}

// Subscription returns the topic path path is bound to.
func (a *Admin) Subscription(path string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.Subscriptions[path]
	return t, ok
}

// Transport is a fake pubsub.Transport that records sent messages.
type Transport struct {
	mu   sync.Mutex
	sent map[string][]*pubsub.Message
	seq  int
	Err  error
}

// NewTransport returns an empty Transport.
func NewTransport() *Transport {
	return &Transport{sent: make(map[string][]*pubsub.Message)}
}

func (t *Transport) Send(_ context.Context, topicPath string, msg *pubsub.Message) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return "", t.Err
	}
	t.seq++
	msg.ID = fmt.Sprint(t.seq)
	t.sent[topicPath] = append(t.sent[topicPath], msg)
	return msg.ID, nil
}

// Sent returns the messages sent to topicPath, in order.
func (t *Transport) Sent(topicPath string) []*pubsub.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*pubsub.Message(nil), t.sent[topicPath]...)
}
