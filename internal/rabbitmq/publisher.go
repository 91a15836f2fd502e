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

// Publisher publishes persistent messages on a dedicated confirm-mode
// channel and waits for the broker to confirm each one. Publishes are
// serialized; the channel is reopened from the provider after it fails.
type Publisher struct {
	provider       ChannelProvider
	confirmTimeout time.Duration
	maxRetries     int
	retryDelay     time.Duration
	logger         *slog.Logger

	mu       sync.Mutex
	ch       Channel
	confirms chan amqp.Confirmation
	declared map[string]bool
	closed   bool
}

// PublisherOption configures the publisher
type PublisherOption func(*Publisher)

// WithConfirmTimeout sets how long to wait for a broker confirm
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.confirmTimeout = timeout
	}
}

// WithPublishRetries sets how many times a failed publish is retried
func WithPublishRetries(retries int) PublisherOption {
	return func(p *Publisher) {
		p.maxRetries = retries
	}
}

// WithPublishRetryDelay sets the initial delay between publish retries
func WithPublishRetryDelay(delay time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.retryDelay = delay
	}
}

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher creates a new publisher. No channel is opened until the first
// publish.
func NewPublisher(provider ChannelProvider, options ...PublisherOption) *Publisher {
	p := &Publisher{
		provider:       provider,
		confirmTimeout: 5 * time.Second,
		maxRetries:     2,
		retryDelay:     200 * time.Millisecond,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Publish declares exchange if this channel has not declared it yet, then
// publishes msg with routingKey and waits for the confirm. Persistent
// delivery, a JSON content type, a message id and a timestamp are filled in
// when msg does not set them.
func (p *Publisher) Publish(ctx context.Context, exchange ExchangeDeclaration, routingKey string, msg amqp.Publishing) error {
	msg = withDefaults(msg)

	attempts := 0
	policy := reliability.NewExponentialBackoff(p.retryDelay, 5*time.Second, 2.0, p.maxRetries)
	err := reliability.Retry(ctx, "publish", policy, func() error {
		attempts++
		return p.publishOnce(ctx, exchange, routingKey, msg)
	})
	if err == nil {
		return nil
	}

	return &PublishError{
		Exchange:   exchange.Name,
		RoutingKey: routingKey,
		Attempts:   attempts,
		Err:        err,
		Timestamp:  time.Now(),
	}
}

// Close closes the publisher channel. Later publishes fail with
// ErrPublisherClosed.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	return p.resetLocked()
}

func (p *Publisher) publishOnce(ctx context.Context, exchange ExchangeDeclaration, routingKey string, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return reliability.Permanent(ErrPublisherClosed)
	}

	if err := p.ensureChannelLocked(); err != nil {
		return err
	}

	if !p.declared[exchange.Name] {
		if err := declareExchange(p.ch, exchange); err != nil {
			p.resetLocked()
			return err
		}
		p.declared[exchange.Name] = true
	}

	if err := p.ch.PublishWithContext(ctx, exchange.Name, routingKey, false, false, msg); err != nil {
		p.resetLocked()
		return fmt.Errorf("publish: %w", err)
	}

	timer := time.NewTimer(p.confirmTimeout)
	defer timer.Stop()

	select {
	case confirm, ok := <-p.confirms:
		if !ok {
			p.resetLocked()
			return ErrChannelClosed
		}
		if !confirm.Ack {
			return fmt.Errorf("%w: delivery tag %d", ErrPublishNotConfirmed, confirm.DeliveryTag)
		}
		return nil
	case <-timer.C:
		// a late confirm would be matched with the next publish
		p.resetLocked()
		return ErrPublishTimeout
	case <-ctx.Done():
		p.resetLocked()
		return ctx.Err()
	}
}

// ensureChannelLocked must be called with mu held.
func (p *Publisher) ensureChannelLocked() error {
	if p.ch != nil && !p.ch.IsClosed() {
		return nil
	}

	ch, err := p.provider.Channel()
	if err != nil {
		return err
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return &ChannelError{Op: "confirm mode", Err: err, Timestamp: time.Now()}
	}

	p.ch = ch
	p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	p.declared = make(map[string]bool)
	p.logger.Debug("publisher channel opened")
	return nil
}

// resetLocked must be called with mu held.
func (p *Publisher) resetLocked() error {
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	p.confirms = nil
	p.declared = nil
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

func withDefaults(msg amqp.Publishing) amqp.Publishing {
	if msg.DeliveryMode == 0 {
		msg.DeliveryMode = amqp.Persistent
	}
	if msg.ContentType == "" {
		msg.ContentType = "application/json"
	}
	if msg.MessageId == "" {
		msg.MessageId = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return msg
}
