package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/jobber-go/contracts"
	"github.com/glimte/jobber-go/internal/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

const maxLoggedPayload = 512

// Consumer runs a handler over one queue
type Consumer struct {
	route              rabbitmq.Route
	handler            Handler
	provider           rabbitmq.ChannelProvider
	channel            rabbitmq.Channel
	prefetch           int
	concurrency        int
	handlerTimeout     time.Duration
	redeliveryDelay    time.Duration
	deadLetterExchange string
	logger             *slog.Logger
	metrics            MetricsCollector
}

// ConsumerOption configures the Consumer
type ConsumerOption func(*Consumer)

// WithChannel consumes on an existing channel. It is left open on return.
func WithChannel(ch rabbitmq.Channel) ConsumerOption {
	return func(c *Consumer) {
		c.channel = ch
	}
}

// WithChannelProvider opens channels from provider, initially when no
// channel was given and again after a channel is lost
func WithChannelProvider(provider rabbitmq.ChannelProvider) ConsumerOption {
	return func(c *Consumer) {
		c.provider = provider
	}
}

// WithPrefetch sets how many unacknowledged deliveries the broker may push
func WithPrefetch(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetch = count
	}
}

// WithConcurrency sets how many deliveries are handled at once. With the
// default of 1 a queue is processed in delivery order.
func WithConcurrency(workers int) ConsumerOption {
	return func(c *Consumer) {
		c.concurrency = workers
	}
}

// WithHandlerTimeout bounds a single handler call
func WithHandlerTimeout(timeout time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.handlerTimeout = timeout
	}
}

// WithRedeliveryDelay sets the pause before a failed delivery is requeued
func WithRedeliveryDelay(delay time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.redeliveryDelay = delay
	}
}

// WithDeadLetterExchange sets where rejected deliveries are routed
func WithDeadLetterExchange(exchange string) ConsumerOption {
	return func(c *Consumer) {
		c.deadLetterExchange = exchange
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics MetricsCollector) ConsumerOption {
	return func(c *Consumer) {
		c.metrics = metrics
	}
}

// NewConsumer creates a consumer of route's queue
func NewConsumer(route rabbitmq.Route, handler Handler, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		route:           route,
		handler:         handler,
		prefetch:        1,
		concurrency:     1,
		handlerTimeout:  30 * time.Second,
		redeliveryDelay: time.Second,
		logger:          slog.Default(),
		metrics:         NoOpMetricsCollector{},
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Run declares the route and consumes until ctx is cancelled, returning nil.
// It returns an error when no channel can be used at all.
func (c *Consumer) Run(ctx context.Context) error {
	if c.channel == nil && c.provider == nil {
		return fmt.Errorf("%w: queue %s", ErrNoChannel, c.route.Queue)
	}

	options := []rabbitmq.ConsumerOption{
		rabbitmq.WithPrefetchCount(c.prefetch),
		rabbitmq.WithConcurrency(c.concurrency),
		rabbitmq.WithDeadLetterExchange(c.deadLetterExchange),
		rabbitmq.WithConsumerLogger(c.logger),
	}
	if c.channel != nil {
		options = append(options, rabbitmq.WithConsumerChannel(c.channel))
	}

	err := rabbitmq.NewConsumer(c.provider, c.route, options...).Run(ctx, c.handleDelivery)
	if err != nil {
		c.logger.Error("consumer stopped with error", "queue", c.route.Queue, "error", err)
	}
	return err
}

func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) rabbitmq.Outcome {
	start := time.Now()

	messageType, err := contracts.PeekType(raw.Body)
	if err != nil {
		c.logger.Error("rejecting unparsable message",
			"queue", c.route.Queue,
			"deliveryTag", raw.DeliveryTag,
			"error", err,
			"payload", truncatePayload(raw.Body))
		c.metrics.RecordMessage(c.route.Queue, "", OutcomeRejected, time.Since(start))
		return rabbitmq.OutcomeReject
	}

	d := Delivery{
		Queue:       c.route.Queue,
		Type:        messageType,
		MessageID:   raw.MessageId,
		Redelivered: raw.Redelivered,
		Body:        raw.Body,
	}

	err = c.invoke(ctx, d)
	outcome, label := c.settle(ctx, d, err)
	c.metrics.RecordMessage(d.Queue, d.Type, label, time.Since(start))
	return outcome
}

func (c *Consumer) invoke(ctx context.Context, d Delivery) (err error) {
	hctx := ctx
	if c.handlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, c.handlerTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return c.handler.Handle(hctx, d)
}

func (c *Consumer) settle(ctx context.Context, d Delivery, err error) (rabbitmq.Outcome, string) {
	switch {
	case err == nil:
		c.logger.Debug("message processed",
			"queue", d.Queue,
			"messageType", d.Type,
			"messageId", d.MessageID)
		return rabbitmq.OutcomeAck, OutcomeAcked

	case errors.Is(err, ErrUnknownType):
		c.logger.Warn("dropping message of unknown type",
			"queue", d.Queue,
			"messageType", d.Type,
			"messageId", d.MessageID)
		return rabbitmq.OutcomeAck, OutcomeUnknown

	case IsMalformed(err):
		c.logger.Error("rejecting invalid message",
			"queue", d.Queue,
			"messageType", d.Type,
			"messageId", d.MessageID,
			"error", err,
			"payload", truncatePayload(d.Body))
		return rabbitmq.OutcomeReject, OutcomeRejected
	}

	c.logger.Error("message handler failed, requeueing",
		"queue", d.Queue,
		"messageType", d.Type,
		"messageId", d.MessageID,
		"redelivered", d.Redelivered,
		"error", err)

	if c.redeliveryDelay > 0 {
		timer := time.NewTimer(c.redeliveryDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
	return rabbitmq.OutcomeRequeue, OutcomeRequeued
}

func truncatePayload(body []byte) string {
	if len(body) <= maxLoggedPayload {
		return string(body)
	}
	return string(body[:maxLoggedPayload]) + "...(truncated)"
}
