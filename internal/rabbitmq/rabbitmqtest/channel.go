// Package rabbitmqtest provides in-memory stand-ins for broker channels and
// delivery acknowledgement, for tests that must not need a running broker.
package rabbitmqtest

import (
	"context"
	"errors"
	"sync"

	"github.com/glimte/jobber-go/internal/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Published is a message captured by Channel.PublishWithContext
type Published struct {
	Exchange   string
	RoutingKey string
	Msg        amqp.Publishing
}

// Channel is a rabbitmq.Channel that records declarations and publishes.
// Deliveries pushed with Deliver are handed to the consumer; publishes are
// confirmed with Ack unless NackPublishes is set.
type Channel struct {
	mu sync.Mutex

	Exchanges map[string]string
	Queues    map[string]amqp.Table
	Bindings  []rabbitmq.Binding
	Prefetch  int
	Published []Published
	Cancelled []string

	// Ready message counts reported by QueueDeclarePassive.
	Depths map[string]int

	// Errors returned by the matching calls when set.
	DeclareErr error
	ConsumeErr error
	PublishErr error

	NackPublishes bool
	DropConfirms  bool

	confirming  bool
	confirms    []chan amqp.Confirmation
	deliveries  chan amqp.Delivery
	consumeCall chan struct{}
	closed      bool
	deliveryTag uint64
	publishTag  uint64
}

var _ rabbitmq.Channel = (*Channel)(nil)

// NewChannel creates an open fake channel
func NewChannel() *Channel {
	return &Channel{
		Exchanges:   make(map[string]string),
		Queues:      make(map[string]amqp.Table),
		deliveries:  make(chan amqp.Delivery, 64),
		consumeCall: make(chan struct{}, 1),
	}
}

// ExchangeDeclare implements rabbitmq.Channel
func (c *Channel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.DeclareErr != nil {
		return c.DeclareErr
	}
	c.Exchanges[name] = kind
	return nil
}

// QueueDeclare implements rabbitmq.Channel
func (c *Channel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.DeclareErr != nil {
		return amqp.Queue{}, c.DeclareErr
	}
	c.Queues[name] = args
	return amqp.Queue{Name: name}, nil
}

// QueueDeclarePassive reports a declared queue with its Depths entry, or a
// 404 channel error like the broker does for a missing queue.
func (c *Channel) QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.Queues[name]; !ok {
		return amqp.Queue{}, &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no queue '" + name + "'"}
	}
	return amqp.Queue{Name: name, Messages: c.Depths[name]}, nil
}

// QueueBind implements rabbitmq.Channel
func (c *Channel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Bindings = append(c.Bindings, rabbitmq.Binding{Queue: name, Exchange: exchange, RoutingKey: key})
	return nil
}

// Qos implements rabbitmq.Channel
func (c *Channel) Qos(prefetchCount, prefetchSize int, global bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Prefetch = prefetchCount
	return nil
}

// Consume implements rabbitmq.Channel
func (c *Channel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ConsumeErr != nil {
		return nil, c.ConsumeErr
	}
	if c.closed {
		return nil, amqp.ErrClosed
	}
	select {
	case c.consumeCall <- struct{}{}:
	default:
	}
	return c.deliveries, nil
}

// Cancel implements rabbitmq.Channel
func (c *Channel) Cancel(consumer string, noWait bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Cancelled = append(c.Cancelled, consumer)
	return nil
}

// Confirm implements rabbitmq.Channel
func (c *Channel) Confirm(noWait bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirming = true
	return nil
}

// NotifyPublish implements rabbitmq.Channel
func (c *Channel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirms = append(c.confirms, confirm)
	return confirm
}

// PublishWithContext implements rabbitmq.Channel
func (c *Channel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	if c.PublishErr != nil {
		return c.PublishErr
	}
	c.Published = append(c.Published, Published{Exchange: exchange, RoutingKey: key, Msg: msg})

	if c.confirming && !c.DropConfirms {
		c.publishTag++
		for _, ch := range c.confirms {
			ch <- amqp.Confirmation{DeliveryTag: c.publishTag, Ack: !c.NackPublishes}
		}
	}
	return nil
}

// IsClosed implements rabbitmq.Channel
func (c *Channel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close implements rabbitmq.Channel. It ends the delivery stream like a
// broker-side channel close.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.closed = true
	close(c.deliveries)
	return nil
}

// Deliver queues body for the consumer and returns the acknowledger that
// records how it was settled.
func (c *Channel) Deliver(body []byte, opts ...func(*amqp.Delivery)) *Acknowledger {
	c.mu.Lock()
	c.deliveryTag++
	tag := c.deliveryTag
	c.mu.Unlock()

	ack := NewAcknowledger()
	d := amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  tag,
		Body:         body,
		ContentType:  "application/json",
	}
	for _, opt := range opts {
		opt(&d)
	}
	c.deliveries <- d
	return ack
}

// WaitConsuming blocks until Consume has been called or ctx is done
func (c *Channel) WaitConsuming(ctx context.Context) error {
	select {
	case <-c.consumeCall:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishedMessages returns a copy of the captured publishes
func (c *Channel) PublishedMessages() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Published, len(c.Published))
	copy(out, c.Published)
	return out
}

// Provider hands out channels in order. After the list is exhausted it
// returns Err, or ErrNoChannel when Err is nil.
type Provider struct {
	mu       sync.Mutex
	Channels []*Channel
	Err      error
	opened   int
}

// ErrNoChannel is returned by an exhausted Provider
var ErrNoChannel = errors.New("rabbitmqtest: no channel available")

// NewProvider creates a provider over channels
func NewProvider(channels ...*Channel) *Provider {
	return &Provider{Channels: channels}
}

// Channel implements rabbitmq.ChannelProvider
func (p *Provider) Channel() (rabbitmq.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.opened >= len(p.Channels) {
		if p.Err != nil {
			return nil, p.Err
		}
		return nil, ErrNoChannel
	}
	ch := p.Channels[p.opened]
	p.opened++
	return ch, nil
}

// Opened returns how many channels were handed out
func (p *Provider) Opened() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened
}
