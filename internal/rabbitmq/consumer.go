package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/jobber-go/internal/reliability"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Outcome tells the consumer how to settle a delivery
type Outcome int

const (
	// OutcomeAck removes the message from the queue
	OutcomeAck Outcome = iota
	// OutcomeRequeue returns the message to the queue for redelivery
	OutcomeRequeue
	// OutcomeReject drops the message, dead-lettering it when the queue has a
	// dead-letter exchange
	OutcomeReject
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeRequeue:
		return "requeue"
	case OutcomeReject:
		return "reject"
	default:
		return "unknown"
	}
}

// DeliveryHandler processes one delivery and decides how it is settled
type DeliveryHandler func(ctx context.Context, delivery amqp.Delivery) Outcome

// Consumer reads one queue with manual acknowledgement
type Consumer struct {
	provider           ChannelProvider
	channel            Channel
	route              Route
	deadLetterExchange string
	prefetchCount      int
	concurrency        int
	consumerTag        string
	resubscribeDelay   time.Duration
	logger             *slog.Logger
}

// ConsumerOption configures the consumer
type ConsumerOption func(*Consumer)

// WithConsumerChannel makes the consumer use an existing channel before
// opening its own. The consumer never closes a channel it was given.
func WithConsumerChannel(ch Channel) ConsumerOption {
	return func(c *Consumer) {
		c.channel = ch
	}
}

// WithPrefetchCount sets the prefetch count
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetchCount = count
	}
}

// WithConcurrency sets how many deliveries are handled at once
func WithConcurrency(workers int) ConsumerOption {
	return func(c *Consumer) {
		c.concurrency = workers
	}
}

// WithConsumerTag sets the consumer tag
func WithConsumerTag(tag string) ConsumerOption {
	return func(c *Consumer) {
		c.consumerTag = tag
	}
}

// WithDeadLetterExchange routes rejected deliveries to exchange
func WithDeadLetterExchange(exchange string) ConsumerOption {
	return func(c *Consumer) {
		c.deadLetterExchange = exchange
	}
}

// WithResubscribeDelay sets the base delay before consuming again after the
// delivery stream ended
func WithResubscribeDelay(delay time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.resubscribeDelay = delay
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a consumer for route. provider may be nil when a
// channel is supplied with WithConsumerChannel.
func NewConsumer(provider ChannelProvider, route Route, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		provider:         provider,
		route:            route,
		prefetchCount:    1,
		concurrency:      1,
		resubscribeDelay: time.Second,
		logger:           slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	if c.concurrency < 1 {
		c.concurrency = 1
	}
	if c.prefetchCount < c.concurrency {
		c.prefetchCount = c.concurrency
	}

	return c
}

// Queue returns the consumed queue name
func (c *Consumer) Queue() string {
	return c.route.Queue
}

// Run consumes until ctx is cancelled. When the delivery stream ends while
// ctx is live the consumer opens a new channel from its provider and
// resubscribes. Run returns nil on cancellation and a *ConsumerError when it
// cannot continue.
func (c *Consumer) Run(ctx context.Context, handler DeliveryHandler) error {
	if c.route.Queue == "" {
		return c.consumerError("run", fmt.Errorf("%w: route %s has no queue", ErrInvalidConfiguration, c.route.Exchange))
	}

	backoff := reliability.NewExponentialBackoff(c.resubscribeDelay, 30*time.Second, 2.0, 0)
	given := c.channel
	attempt := 0

	for {
		ch, owned, err := c.acquire(given)
		given = nil

		if err == nil {
			err = c.consume(ctx, ch, handler)
			if owned {
				ch.Close()
			}
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrDeliveriesClosed) {
				attempt = 0
			}
		}

		if ctx.Err() != nil {
			return nil
		}
		if c.provider == nil {
			return c.consumerError("consume", err)
		}

		delay := backoff.NextDelay(attempt)
		attempt++
		c.logger.Warn("consumer stopped receiving, resubscribing",
			"queue", c.route.Queue,
			"error", err,
			"attempt", attempt,
			"delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (c *Consumer) acquire(given Channel) (Channel, bool, error) {
	if given != nil && !given.IsClosed() {
		return given, false, nil
	}
	if c.provider == nil {
		return nil, false, ErrChannelClosed
	}
	ch, err := c.provider.Channel()
	if err != nil {
		return nil, false, err
	}
	return ch, true, nil
}

// consume subscribes and blocks until ctx is cancelled (nil) or the delivery
// stream is closed by the broker (ErrDeliveriesClosed).
func (c *Consumer) consume(ctx context.Context, ch Channel, handler DeliveryHandler) error {
	if err := DeclareRoute(ch, c.route, c.deadLetterExchange); err != nil {
		return err
	}

	if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
		return &ChannelError{Op: "qos", Err: err, Timestamp: time.Now()}
	}

	tag := c.consumerTag
	if tag == "" {
		tag = fmt.Sprintf("%s-%s", c.route.Queue, uuid.NewString()[:8])
	}

	deliveries, err := ch.Consume(
		c.route.Queue,
		tag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return &ChannelError{Op: "consume", Err: err, Timestamp: time.Now()}
	}

	c.logger.Info("consuming queue",
		"queue", c.route.Queue,
		"exchange", c.route.Exchange,
		"consumerTag", tag,
		"prefetchCount", c.prefetchCount,
		"concurrency", c.concurrency)

	var wg sync.WaitGroup
	for i := 0; i < c.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.work(ctx, deliveries, handler)
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		if !ch.IsClosed() {
			if err := ch.Cancel(tag, false); err != nil {
				c.logger.Debug("consumer cancel failed", "queue", c.route.Queue, "error", err)
			}
		}
		c.logger.Info("consumer stopped", "queue", c.route.Queue)
		return nil
	}

	return ErrDeliveriesClosed
}

func (c *Consumer) work(ctx context.Context, deliveries <-chan amqp.Delivery, handler DeliveryHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}
			c.settle(delivery, handler(ctx, delivery))
		}
	}
}

func (c *Consumer) settle(delivery amqp.Delivery, outcome Outcome) {
	var err error
	switch outcome {
	case OutcomeAck:
		err = delivery.Ack(false)
	case OutcomeRequeue:
		err = delivery.Nack(false, true)
	case OutcomeReject:
		err = delivery.Reject(false)
	default:
		err = fmt.Errorf("unknown outcome %d", outcome)
	}

	if err != nil {
		// the broker redelivers unsettled messages once the channel is gone
		c.logger.Error("failed to settle delivery",
			"queue", c.route.Queue,
			"deliveryTag", delivery.DeliveryTag,
			"outcome", outcome.String(),
			"error", err)
	}
}

func (c *Consumer) consumerError(op string, err error) error {
	return &ConsumerError{
		Queue:       c.route.Queue,
		ConsumerTag: c.consumerTag,
		Op:          op,
		Err:         err,
		Timestamp:   time.Now(),
	}
}
