package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bytedance/sonic"
	"github.com/caarlos0/env/v11"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/api/option"

	"pubsub/internal/app"
	"pubsub/internal/broker/gcp"
	"pubsub/internal/broker/watermill"
	"pubsub/internal/config"
	"pubsub/internal/couchbase"
	"pubsub/internal/pubsub"
	"pubsub/internal/pubsub/invoker"
	"pubsub/internal/pubsub/metrics"
	"pubsub/internal/pubsub/publisher"
	"pubsub/internal/pubsub/registry"
	"pubsub/internal/pubsub/supervisor"
	"pubsub/internal/pubsub/tracing"
	"pubsub/internal/session/sqldb"
)

// demoConfig drives the order handlers registered by this binary.
type demoConfig struct {
	Topic        string `env:"DEMO_TOPIC" envDefault:"orders"`
	SeedMessages int    `env:"DEMO_SEED_MESSAGES" envDefault:"0"`
}

type broker interface {
	pubsub.Subscriber
	pubsub.Admin
	pubsub.Transport
	Close() error
}

type orderEvent struct {
	OrderID    string  `json:"order_id"`
	CustomerID string  `json:"customer_id"`
	Amount     float64 `json:"amount"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	var demo demoConfig
	if err := env.Parse(&demo); err != nil {
		log.Fatalf("failed to parse environment variables: %v", err)
	}

	zapConfig := zap.NewProductionConfig()

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Printf("invalid log level %q, defaulting to info: %v", cfg.LogLevel, err)
		zapLevel = zapcore.InfoLevel
	}
	zapConfig.Level = zap.NewAtomicLevelAt(zapLevel)
	logger, err := zapConfig.Build(zap.AddCaller())
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	metricsRegistry := metrics.NewRegistry()
	metricsRegistry.SetSystemInfo(cfg.Tracing.ServiceVersion, time.Now().Format(time.RFC3339))

	tracer, tracingCleanup, err := newTracer(cfg.Tracing)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingCleanup(shutdownCtx); err != nil {
			logger.Error("failed to cleanup tracing", zap.Error(err))
		}
	}()

	b, resolver, err := newBroker(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to create broker", zap.Error(err))
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Error("failed to close broker", zap.Error(err))
		}
	}()

	sessions, handler, closeSessions, err := newSessions(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to create session provider", zap.Error(err))
	}
	defer closeSessions()

	pool, err := invoker.NewPool(cfg.WorkerPoolSize)
	if err != nil {
		logger.Fatal("failed to create worker pool", zap.Error(err))
	}
	baseInvoker, err := invoker.NewInvoker(sessions, pool, logger)
	if err != nil {
		logger.Fatal("failed to create invoker", zap.Error(err))
	}
	metricsInvoker := invoker.NewMetricsInvoker(baseInvoker, metricsRegistry)
	inv := invoker.NewTracedInvoker(metricsInvoker, tracer)

	metricsSubscriber := supervisor.NewMetricsSubscriber(b, metricsRegistry)
	sub := supervisor.NewTracedSubscriber(metricsSubscriber, tracer)

	basePublisher, err := publisher.NewPublisher(b, resolver, cfg.DefaultTimeout, logger)
	if err != nil {
		logger.Fatal("failed to create publisher", zap.Error(err))
	}
	metricsPublisher := publisher.NewMetricsPublisher(basePublisher, metricsRegistry)
	pub := publisher.NewTracedPublisher(metricsPublisher, tracer)

	a, err := app.New(app.Deps{
		Subscriber: sub,
		Resolver:   resolver,
		Invoker:    inv,
		Admin:      b,
		Publisher:  pub,
		Logger:     logger,
	}, supervisor.Config{
		DrainTimeout: cfg.DrainTimeout,
		AckTimeout:   cfg.AckTimeout,
	})
	if err != nil {
		logger.Fatal("failed to create app", zap.Error(err))
	}

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics, metricsRegistry, a.Running, logger)
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Stop(shutdownCtx); err != nil {
				logger.Error("failed to stop metrics server", zap.Error(err))
			}
		}()

		logger.Info("metrics server started",
			zap.String("endpoint", fmt.Sprintf("http://localhost:%d/metrics", cfg.Metrics.Port)),
			zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port)),
		)
	}

	if err := a.CreateTopic(ctx, demo.Topic); err != nil {
		logger.Fatal("failed to create topic", zap.Error(err))
	}

	if err := register(a, demo.Topic, handler, logger); err != nil {
		logger.Fatal("failed to register handlers", zap.Error(err))
	}

	if demo.SeedMessages > 0 {
		go seed(ctx, a, demo, logger)
	}

	if err := a.Run(ctx); err != nil {
		logger.Error("dispatch failed", zap.Error(err))
	}
}

func newTracer(config tracing.Config) (*tracing.Tracer, func(context.Context) error, error) {
	if !config.Enabled {
		noop := func(context.Context) error { return nil }
		return tracing.NewNoopTracer(config.ServiceName), noop, nil
	}
	return tracing.NewTracer(config)
}

func newBroker(ctx context.Context, cfg config.Config, logger *zap.Logger) (broker, pubsub.PathResolver, error) {
	switch cfg.Broker {
	case config.BrokerChannel:
		b, err := watermill.NewChannelBroker(logger, cfg.ChannelBuffer)
		if err != nil {
			return nil, nil, err
		}
		return b, pubsub.PlainPaths{}, nil
	default:
		c, err := gcp.NewClient(ctx, gcp.Config{
			ProjectID:              cfg.ProjectID,
			MaxOutstandingMessages: cfg.MaxOutstandingMessages,
		}, logger, option.WithUserAgent(cfg.Tracing.ServiceName))
		if err != nil {
			return nil, nil, err
		}
		return c, pubsub.NewProjectPaths(cfg.ProjectID), nil
	}
}

// auditFunc records an order inside the handler's session.
type auditFunc func(scope pubsub.Scope, msg *pubsub.Message) error

func newSessions(ctx context.Context, cfg config.Config, logger *zap.Logger) (pubsub.SessionProvider, auditFunc, func(), error) {
	switch {
	case cfg.Database.Enabled():
		driver, dsn, err := cfg.Database.DSN()
		if err != nil {
			return nil, nil, nil, err
		}
		p, err := sqldb.Open(ctx, driver, dsn, cfg.Database.MaxOpenConns, cfg.Database.Async)
		if err != nil {
			return nil, nil, nil, err
		}
		insert := `INSERT INTO processed_orders (message_id, payload) VALUES (?, ?)`
		if driver == "postgres" {
			insert = `INSERT INTO processed_orders (message_id, payload) VALUES ($1, $2)`
		}
		if _, err := p.DB().ExecContext(ctx, `CREATE TABLE IF NOT EXISTS processed_orders (message_id TEXT PRIMARY KEY, payload TEXT NOT NULL)`); err != nil {
			_ = p.Close()
			return nil, nil, nil, fmt.Errorf("failed to create processed_orders table: %w", err)
		}
		logger.Info("using sql sessions", zap.String("driver", driver))

		audit := func(scope pubsub.Scope, msg *pubsub.Message) error {
			tx, ok := sqldb.TxFrom(scope)
			if !ok {
				return fmt.Errorf("unexpected session %T", scope)
			}
			_, err := tx.Exec(insert, msg.ID, msg.String())
			return err
		}
		return p, audit, func() { _ = p.Close() }, nil

	case cfg.Couchbase.Enabled():
		cluster, bucket, err := couchbase.Connect(cfg.Couchbase)
		if err != nil {
			return nil, nil, nil, err
		}
		p, err := couchbase.NewSessionProvider(cluster, cfg.Couchbase.TxnTimeout)
		if err != nil {
			_ = cluster.Close(nil)
			return nil, nil, nil, err
		}
		collection := bucket.Scope(cfg.Couchbase.ScopeName).Collection("processed_orders")
		logger.Info("using couchbase sessions", zap.String("bucket", cfg.Couchbase.BucketName))

		audit := func(scope pubsub.Scope, msg *pubsub.Message) error {
			runner, ok := couchbase.RunnerFrom(scope)
			if !ok {
				return fmt.Errorf("unexpected session %T", scope)
			}
			_, err := runner.Insert(collection, msg.ID, map[string]any{
				"payload":   msg.String(),
				"processed": time.Now().UTC(),
			})
			return err
		}
		return p, audit, func() { _ = cluster.Close(nil) }, nil

	default:
		logger.Info("no session provider configured, session handlers are disabled")
		return nil, nil, func() {}, nil
	}
}

func register(a *app.App, topic string, audit auditFunc, logger *zap.Logger) error {
	if err := a.Subscribe("orders", func(msg *pubsub.Message) error {
		var e orderEvent
		if err := sonic.Unmarshal(msg.Data, &e); err != nil {
			return fmt.Errorf("failed to decode order: %w", err)
		}
		logger.Info("order received", zap.String("orderId", e.OrderID), zap.Float64("amount", e.Amount))
		return nil
	}, registry.WithTopic(topic)); err != nil {
		return err
	}

	if err := a.Subscribe("order-notifications", func(ctx context.Context, msg *pubsub.Message) bool {
		return ctx.Err() == nil && len(msg.Data) > 0
	}, registry.WithTopic(topic)); err != nil {
		return err
	}

	if audit == nil {
		return nil
	}

	return a.Subscribe("order-audit", func(msg *pubsub.Message, s pubsub.Scope) error {
		return audit(s, msg)
	}, registry.WithTopic(topic), registry.WithExactlyOnce())
}

func seed(ctx context.Context, a *app.App, demo demoConfig, logger *zap.Logger) {
	data := make([]any, 0, demo.SeedMessages)
	for i := range demo.SeedMessages {
		data = append(data, orderEvent{
			OrderID:    fmt.Sprintf("ORD-%04d", i+1),
			CustomerID: string(rune('A' + i%10)),
			Amount:     10 + float64(i),
		})
	}

	failed := 0
	for _, r := range a.PublishBatch(ctx, demo.Topic, data, map[string]string{"source": "seed"}) {
		if r.Err != nil {
			failed++
		}
	}
	logger.Info("seeded orders", zap.Int("published", len(data)-failed), zap.Int("failed", failed))
}
