package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/glimte/jobber-go/health"
	"github.com/glimte/jobber-go/internal/config"
	"github.com/glimte/jobber-go/internal/idempotency"
	"github.com/glimte/jobber-go/internal/metrics"
	"github.com/glimte/jobber-go/internal/rabbitmq"
	"github.com/glimte/jobber-go/messaging"
	"github.com/glimte/jobber-go/topology"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	healthTimeout   = 5 * time.Second
)

// app holds what every service command shares: config, logger, the broker
// connection and the metrics and health endpoints.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	conn    *rabbitmq.ConnectionManager
	metrics *metrics.Collector
	health  *health.Registry
	closers []func(context.Context) error
}

func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// newApp loads the config, connects to the broker and declares the
// dead-letter route that consumer queues point at.
func newApp(ctx context.Context, configPath, service string, w io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Log, w)
	if err != nil {
		return nil, err
	}
	logger = logger.With("service", service)
	slog.SetDefault(logger)

	conn := rabbitmq.NewConnectionManager(cfg.RabbitMQ.URL,
		rabbitmq.WithLogger(logger),
		rabbitmq.WithReconnectDelay(cfg.RabbitMQ.ReconnectDelay),
		rabbitmq.WithMaxRetries(cfg.RabbitMQ.MaxRetries),
		rabbitmq.WithDialTimeout(cfg.RabbitMQ.DialTimeout))
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		conn:    conn,
		metrics: metrics.NewCollector(cfg.Metrics.Namespace),
		health:  health.NewRegistry(health.NewRuntimeChecker(500, 1000)),
	}
	a.health.SetMetadata("service", service)
	a.health.SetMetadata("version", version)

	if cfg.RabbitMQ.DeadLetterExchange != "" {
		if err := a.declareDeadLetter(); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	return a, nil
}

func (a *app) declareDeadLetter() error {
	ch, err := a.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	exchange := a.cfg.RabbitMQ.DeadLetterExchange
	if exchange == topology.DeadLetter.Exchange {
		err = topology.DeclareDeadLetter(ch)
	} else {
		err = rabbitmq.DeclareRoute(ch, rabbitmq.Route{
			Exchange: exchange,
			Kind:     rabbitmq.KindFanout,
			Queue:    exchange + "-queue",
		}, "")
	}
	if err != nil {
		return fmt.Errorf("declare dead-letter route: %w", err)
	}
	return nil
}

// watchQueues registers the broker checker for the queues a command consumes
func (a *app) watchQueues(routes ...rabbitmq.Route) {
	queues := make([]string, 0, len(routes))
	for _, route := range routes {
		queues = append(queues, route.Queue)
	}
	a.health.Register(health.NewRabbitMQChecker(a.conn, queues...))
}

func (a *app) consumerOptions() []messaging.ConsumerOption {
	rc := a.cfg.RabbitMQ
	return []messaging.ConsumerOption{
		messaging.WithChannelProvider(a.conn),
		messaging.WithPrefetch(rc.Prefetch),
		messaging.WithConcurrency(rc.Concurrency),
		messaging.WithHandlerTimeout(rc.HandlerTimeout),
		messaging.WithRedeliveryDelay(rc.RedeliveryDelay),
		messaging.WithDeadLetterExchange(rc.DeadLetterExchange),
		messaging.WithMetrics(a.metrics),
	}
}

func (a *app) newProducer() *messaging.Producer {
	publisher := rabbitmq.NewPublisher(a.conn,
		rabbitmq.WithConfirmTimeout(a.cfg.RabbitMQ.ConfirmTimeout),
		rabbitmq.WithPublishRetries(a.cfg.RabbitMQ.PublishRetries),
		rabbitmq.WithPublisherLogger(a.logger))
	a.onClose(func(context.Context) error { return publisher.Close() })

	return messaging.NewProducer(publisher,
		messaging.WithProducerLogger(a.logger),
		messaging.WithProducerMetrics(a.metrics))
}

// markers returns the Redis marker store, or an in-process one when no Redis
// address is configured.
func (a *app) markers() idempotency.Store {
	rc := a.cfg.Redis
	if rc.Addr == "" {
		a.logger.Info("no redis configured, keeping idempotency markers in memory")
		return idempotency.NewMemoryStore(rc.MarkerTTL)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	a.onClose(func(context.Context) error { return client.Close() })
	a.health.Register(health.NewRedisChecker(client))

	return idempotency.NewRedisStore(client,
		idempotency.WithPrefix(rc.Prefix),
		idempotency.WithTTL(rc.MarkerTTL))
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// serve starts the /metrics and /healthz listener when metrics.addr is set
// and stops it when ctx ends.
func (a *app) serve(ctx context.Context, g *errgroup.Group) {
	if a.cfg.Metrics.Addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.Handle("/healthz", health.NewHandler(a.health, healthTimeout))

	server := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		a.logger.Info("metrics listener started", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
}

// run starts every consumer and the listener and waits for them. The first
// consumer error cancels the others.
func (a *app) run(ctx context.Context, consumers ...func(context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	a.serve(ctx, g)
	for _, consume := range consumers {
		g.Go(func() error { return consume(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// close releases everything newApp and its helpers opened, newest first,
// then the broker connection.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	errs = append(errs, a.conn.Close())

	a.logger.Info("connections closed")
	return errors.Join(errs...)
}
