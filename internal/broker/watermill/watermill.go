// Package watermill runs the dispatch engine over any watermill Publisher and
// Subscriber pair, by default the in-process gochannel pub/sub.
package watermill

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	core "pubsub/internal/pubsub"
	"pubsub/internal/validator"
)

const publishedAtKey = "published_at"

var errSubscriberClosed = errors.New("watermill subscriber closed")

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Broker implements core.Subscriber, core.Admin and core.Transport. Subscription
// names are routed to topics through CreateSubscription; an unrouted
// subscription reads the topic of the same name.
type Broker struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *zap.Logger

	mu     sync.Mutex
	topics map[string]struct{}
	routes map[string]string
}

// NewBroker wraps a watermill publisher and subscriber.
func NewBroker(publisher message.Publisher, subscriber message.Subscriber, logger *zap.Logger) (*Broker, error) {
	b := Broker{
		publisher:  publisher,
		subscriber: subscriber,
		logger:     logger,
		topics:     make(map[string]struct{}),
		routes:     make(map[string]string),
	}

	if err := validator.Validate("watermill broker", b.publisher, b.subscriber, b.logger); err != nil {
		return nil, fmt.Errorf("failed to validate watermill broker deps: %w", err)
	}
	b.logger = b.logger.Named("watermill")

	return &b, nil
}

// NewChannelBroker builds a Broker over an in-process gochannel pub/sub.
func NewChannelBroker(logger *zap.Logger, buffer int64) (*Broker, error) {
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: buffer,
		Persistent:          true,
	}, NewLogger(logger.Named("gochannel")))

	return NewBroker(ch, ch, logger)
}

// Close closes the publisher and the subscriber.
func (b *Broker) Close() error {
	return errors.Join(b.publisher.Close(), b.subscriber.Close())
}

// CreateTopic implements core.Admin.
func (b *Broker) CreateTopic(_ context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.topics[path]; ok {
		return fmt.Errorf("topic %s: %w", path, core.ErrAlreadyExists)
	}
	b.topics[path] = struct{}{}

	return nil
}

// CreateSubscription implements core.Admin. exactlyOnce is accepted as-is;
// every watermill message carries its own ack and nack.
func (b *Broker) CreateSubscription(_ context.Context, path, topicPath string, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.routes[path]; ok {
		return fmt.Errorf("subscription %s: %w", path, core.ErrAlreadyExists)
	}
	b.routes[path] = topicPath

	return nil
}

func (b *Broker) topicFor(path string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if topic, ok := b.routes[path]; ok {
		return topic
	}
	return path
}

// Subscribe implements core.Subscriber.
func (b *Broker) Subscribe(ctx context.Context, path string, onMessage func(core.Delivery)) (core.Stream, error) {
	topic := b.topicFor(path)

	ctx, cancel := context.WithCancel(ctx)
	msgs, err := b.subscriber.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	s := &stream{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		for msg := range msgs {
			onMessage(newDelivery(msg))
		}
		if ctx.Err() == nil {
			s.setErr(errSubscriberClosed)
		}
		b.logger.Debug("message channel closed", zap.String("subscription", path), zap.String("topic", topic))
	}()

	return s, nil
}

// Send implements core.Transport.
func (b *Broker) Send(ctx context.Context, topicPath string, msg *core.Message) (string, error) {
	wm := message.NewMessage(newID(), msg.Data)
	for k, v := range msg.Attributes {
		wm.Metadata.Set(k, v)
	}
	wm.Metadata.Set(publishedAtKey, time.Now().UTC().Format(time.RFC3339Nano))
	wm.SetContext(ctx)

	if err := b.publisher.Publish(topicPath, wm); err != nil {
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	return wm.UUID, nil
}

type stream struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (s *stream) Cancel() { s.cancel() }

func (s *stream) Done() <-chan struct{} { return s.done }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type delivery struct {
	raw *message.Message
	msg *core.Message
}

func newDelivery(wm *message.Message) *delivery {
	msg := &core.Message{
		ID:         wm.UUID,
		Data:       wm.Payload,
		Attributes: make(map[string]string, len(wm.Metadata)),
	}
	for k, v := range wm.Metadata {
		if k == publishedAtKey {
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				msg.PublishTime = t
			}
			continue
		}
		msg.Attributes[k] = v
	}
	return &delivery{raw: wm, msg: msg}
}

func (d *delivery) Message() *core.Message { return d.msg }

func (d *delivery) Ack()  { d.raw.Ack() }
func (d *delivery) Nack() { d.raw.Nack() }

func (d *delivery) AckWithResponse() core.Commitment {
	return &commitment{raw: d.raw}
}

type commitment struct {
	raw *message.Message
}

func (c *commitment) Ack(context.Context) error {
	if !c.raw.Ack() {
		return fmt.Errorf("message %s was already nacked", c.raw.UUID)
	}
	return nil
}

func (c *commitment) Nack(context.Context) error {
	if !c.raw.Nack() {
		return fmt.Errorf("message %s was already acked", c.raw.UUID)
	}
	return nil
}
