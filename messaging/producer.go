package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/jobber-go/internal/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the broker publish call the Producer depends on.
// *rabbitmq.Publisher implements it.
type Publisher interface {
	Publish(ctx context.Context, exchange rabbitmq.ExchangeDeclaration, routingKey string, msg amqp.Publishing) error
}

// PublishOption adjusts an outgoing message
type PublishOption func(*amqp.Publishing)

// WithMessageID sets the message id, letting consumers recognise a
// republished message
func WithMessageID(id string) PublishOption {
	return func(p *amqp.Publishing) {
		p.MessageId = id
	}
}

// WithCorrelationID sets the correlation id
func WithCorrelationID(id string) PublishOption {
	return func(p *amqp.Publishing) {
		p.CorrelationId = id
	}
}

// Producer publishes JSON payloads and logs the result
type Producer struct {
	publisher Publisher
	logger    *slog.Logger
	metrics   MetricsCollector
}

// ProducerOption configures the Producer
type ProducerOption func(*Producer)

// WithProducerLogger sets the logger
func WithProducerLogger(logger *slog.Logger) ProducerOption {
	return func(p *Producer) {
		p.logger = logger
	}
}

// WithProducerMetrics sets the metrics collector
func WithProducerMetrics(metrics MetricsCollector) ProducerOption {
	return func(p *Producer) {
		p.metrics = metrics
	}
}

// NewProducer creates a producer
func NewProducer(publisher Publisher, options ...ProducerOption) *Producer {
	p := &Producer{
		publisher: publisher,
		logger:    slog.Default(),
		metrics:   NoOpMetricsCollector{},
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// PublishDirectMessage publishes payload to a direct exchange, declaring the
// exchange if needed. logMessage is logged once the broker confirmed the
// message; a failure is logged and returned so the caller can decide whether
// to retry.
func (p *Producer) PublishDirectMessage(ctx context.Context, exchange, routingKey string, payload []byte, logMessage string, options ...PublishOption) error {
	route := rabbitmq.Route{Exchange: exchange, Kind: rabbitmq.KindDirect, RoutingKey: routingKey}
	return p.Publish(ctx, route, payload, logMessage, options...)
}

// Publish publishes payload to route's exchange with route's routing key
func (p *Producer) Publish(ctx context.Context, route rabbitmq.Route, payload []byte, logMessage string, options ...PublishOption) error {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	}
	for _, opt := range options {
		opt(&msg)
	}

	start := time.Now()
	err := p.publisher.Publish(ctx, route.ExchangeDeclaration(), route.RoutingKey, msg)
	p.metrics.RecordPublish(route.Exchange, route.RoutingKey, err == nil, time.Since(start))

	if err != nil {
		p.logger.Error("failed to publish message",
			"exchange", route.Exchange,
			"routingKey", route.RoutingKey,
			"error", err)
		return err
	}

	p.logger.Info(logMessage,
		"exchange", route.Exchange,
		"routingKey", route.RoutingKey)
	return nil
}

// PublishJSON marshals v and publishes it to route
func (p *Producer) PublishJSON(ctx context.Context, route rabbitmq.Route, v any, logMessage string, options ...PublishOption) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %T: %w", v, err)
	}
	return p.Publish(ctx, route, payload, logMessage, options...)
}
