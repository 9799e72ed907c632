// Package gcp adapts Google Cloud Pub/Sub to the dispatch engine's broker contracts.
package gcp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	core "pubsub/internal/pubsub"
	"pubsub/internal/validator"
)

// Config holds the client settings.
type Config struct {
	ProjectID              string
	MaxOutstandingMessages int
}

// Client implements core.Subscriber, core.Admin and core.Transport on one
// Pub/Sub client. It is safe for concurrent use by many supervisors.
type Client struct {
	client *pubsub.Client
	config Config
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewClient dials Pub/Sub for config.ProjectID.
func NewClient(ctx context.Context, config Config, logger *zap.Logger, opts ...option.ClientOption) (*Client, error) {
	if err := validator.Validate("gcp client", config.ProjectID, logger); err != nil {
		return nil, fmt.Errorf("failed to validate gcp client deps: %w", err)
	}

	client, err := pubsub.NewClient(ctx, config.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	return &Client{
		client: client,
		config: config,
		logger: logger.Named("gcp"),
		topics: make(map[string]*pubsub.Topic),
	}, nil
}

// Close flushes pending publishes and releases the client.
func (c *Client) Close() error {
	c.mu.Lock()
	for _, t := range c.topics {
		t.Stop()
	}
	c.topics = make(map[string]*pubsub.Topic)
	c.mu.Unlock()

	return c.client.Close()
}

// Subscribe implements core.Subscriber.
func (c *Client) Subscribe(ctx context.Context, path string, onMessage func(core.Delivery)) (core.Stream, error) {
	project, id, err := splitPath(path, "subscriptions")
	if err != nil {
		return nil, err
	}

	sub := c.client.SubscriptionInProject(id, project)
	if c.config.MaxOutstandingMessages > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = c.config.MaxOutstandingMessages
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &stream{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(s.done)
		err := sub.Receive(ctx, func(_ context.Context, m *pubsub.Message) {
			onMessage(newDelivery(m))
		})
		s.setErr(err)
		c.logger.Debug("receive returned", zap.String("subscription", path), zap.Error(err))
	}()

	return s, nil
}

// CreateTopic implements core.Admin.
func (c *Client) CreateTopic(ctx context.Context, path string) error {
	_, id, err := splitPath(path, "topics")
	if err != nil {
		return err
	}

	t, err := c.client.CreateTopic(ctx, id)
	if err != nil {
		return wrapAlreadyExists(err)
	}
	t.Stop()

	return nil
}

// CreateSubscription implements core.Admin.
func (c *Client) CreateSubscription(ctx context.Context, path, topicPath string, exactlyOnce bool) error {
	_, id, err := splitPath(path, "subscriptions")
	if err != nil {
		return err
	}
	topicProject, topicID, err := splitPath(topicPath, "topics")
	if err != nil {
		return err
	}

	_, err = c.client.CreateSubscription(ctx, id, pubsub.SubscriptionConfig{
		Topic:                     c.client.TopicInProject(topicID, topicProject),
		EnableExactlyOnceDelivery: exactlyOnce,
	})
	if err != nil {
		return wrapAlreadyExists(err)
	}

	return nil
}

// Send implements core.Transport.
func (c *Client) Send(ctx context.Context, topicPath string, msg *core.Message) (string, error) {
	t, err := c.topic(topicPath)
	if err != nil {
		return "", err
	}

	res := t.Publish(ctx, &pubsub.Message{
		Data:       msg.Data,
		Attributes: msg.Attributes,
	})

	id, err := res.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get publish result: %w", err)
	}

	return id, nil
}

func (c *Client) topic(path string) (*pubsub.Topic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.topics[path]; ok {
		return t, nil
	}

	project, id, err := splitPath(path, "topics")
	if err != nil {
		return nil, err
	}

	t := c.client.TopicInProject(id, project)
	c.topics[path] = t

	return t, nil
}

func wrapAlreadyExists(err error) error {
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("%w: %w", core.ErrAlreadyExists, err)
	}
	return err
}

// splitPath parses projects/<project>/<kind>/<id>.
func splitPath(path, kind string) (string, string, error) {
	parts := strings.Split(path, "/")
	if len(parts) != 4 || parts[0] != "projects" || parts[2] != kind || parts[1] == "" || parts[3] == "" {
		return "", "", core.NewConfigurationError(core.ErrConfiguration, fmt.Sprintf("%q is not a %s path", path, kind))
	}
	return parts[1], parts[3], nil
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
	raw *pubsub.Message
	msg *core.Message
}

func newDelivery(m *pubsub.Message) *delivery {
	msg := &core.Message{
		ID:          m.ID,
		Data:        m.Data,
		Attributes:  m.Attributes,
		PublishTime: m.PublishTime,
	}
	if msg.Attributes == nil {
		msg.Attributes = map[string]string{}
	}
	if m.DeliveryAttempt != nil {
		msg.DeliveryAttempt = *m.DeliveryAttempt
	}
	return &delivery{raw: m, msg: msg}
}

func (d *delivery) Message() *core.Message { return d.msg }

func (d *delivery) Ack()  { d.raw.Ack() }
func (d *delivery) Nack() { d.raw.Nack() }

func (d *delivery) AckWithResponse() core.Commitment {
	return &commitment{msg: d.raw}
}

type commitment struct {
	msg *pubsub.Message
}

func (c *commitment) Ack(ctx context.Context) error {
	return settled(ctx, c.msg.AckWithResult(), "ack")
}

func (c *commitment) Nack(ctx context.Context) error {
	return settled(ctx, c.msg.NackWithResult(), "nack")
}

func settled(ctx context.Context, res *pubsub.AckResult, decision string) error {
	st, err := res.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to %s message: %w", decision, err)
	}
	if st != pubsub.AcknowledgeStatusSuccess {
		return fmt.Errorf("failed to %s message: status %v", decision, st)
	}
	return nil
}
