package users

import (
	"context"
	"log/slog"
	"time"

	"github.com/glimte/jobber-go/internal/idempotency"
	"github.com/glimte/jobber-go/internal/rabbitmq"
	"github.com/glimte/jobber-go/messaging"
	"github.com/glimte/jobber-go/topology"
)

// Publisher sends events to other services. *messaging.Producer implements it.
type Publisher interface {
	PublishJSON(ctx context.Context, route rabbitmq.Route, v any, logMessage string, options ...messaging.PublishOption) error
}

// Consumers runs the users service queues
type Consumers struct {
	buyers    BuyerService
	sellers   SellerService
	publisher Publisher
	markers   idempotency.Store
	options   []messaging.ConsumerOption
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures Consumers
type Option func(*Consumers)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Consumers) {
		c.logger = logger
	}
}

// WithMarkers sets the store that remembers completed relay publishes
func WithMarkers(markers idempotency.Store) Option {
	return func(c *Consumers) {
		c.markers = markers
	}
}

// WithConsumerOptions sets options applied to every queue consumer, such as
// the channel provider, prefetch and dead-letter exchange
func WithConsumerOptions(options ...messaging.ConsumerOption) Option {
	return func(c *Consumers) {
		c.options = append(c.options, options...)
	}
}

// NewConsumers creates the users service consumers
func NewConsumers(buyers BuyerService, sellers SellerService, publisher Publisher, options ...Option) *Consumers {
	c := &Consumers{
		buyers:    buyers,
		sellers:   sellers,
		publisher: publisher,
		markers:   idempotency.NewMemoryStore(idempotency.DefaultTTL),
		logger:    slog.Default(),
		now:       time.Now,
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// ConsumeBuyerDirectMessage consumes user-buyer-queue until ctx is cancelled.
// options apply to this consumer only, e.g. messaging.WithChannel.
func (c *Consumers) ConsumeBuyerDirectMessage(ctx context.Context, options ...messaging.ConsumerOption) error {
	return c.run(ctx, topology.BuyerUpdate, c.buyerRouter(), options)
}

// ConsumeSellerDirectMessage consumes user-seller-queue until ctx is cancelled
func (c *Consumers) ConsumeSellerDirectMessage(ctx context.Context, options ...messaging.ConsumerOption) error {
	return c.run(ctx, topology.SellerUpdate, c.sellerRouter(), options)
}

// ConsumeReviewFanoutMessages consumes seller-review-queue until ctx is
// cancelled
func (c *Consumers) ConsumeReviewFanoutMessages(ctx context.Context, options ...messaging.ConsumerOption) error {
	return c.run(ctx, topology.Review, messaging.HandlerFunc(c.handleReview), options)
}

// ConsumeSeedGigDirectMessages consumes user-gig-queue until ctx is cancelled
func (c *Consumers) ConsumeSeedGigDirectMessages(ctx context.Context, options ...messaging.ConsumerOption) error {
	return c.run(ctx, topology.GigSellers, messaging.HandlerFunc(c.handleGetSellers), options)
}

func (c *Consumers) run(ctx context.Context, route rabbitmq.Route, handler messaging.Handler, options []messaging.ConsumerOption) error {
	all := make([]messaging.ConsumerOption, 0, len(c.options)+len(options)+1)
	all = append(all, messaging.WithLogger(c.logger))
	all = append(all, c.options...)
	all = append(all, options...)

	c.logger.Info("starting consumer", "queue", route.Queue, "exchange", route.Exchange)
	return messaging.NewConsumer(route, handler, all...).Run(ctx)
}
