package rabbitmq

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange kinds used by jobber services.
const (
	KindDirect = amqp.ExchangeDirect
	KindFanout = amqp.ExchangeFanout
)

// ExchangeDeclaration defines an exchange to be declared
type ExchangeDeclaration struct {
	Name       string
	Kind       string
	Durable    bool
	AutoDelete bool
	Arguments  amqp.Table
}

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// Binding defines a queue-to-exchange binding
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
	Arguments  amqp.Table
}

// Topology is a set of exchanges, queues and bindings declared together.
type Topology struct {
	Exchanges []ExchangeDeclaration
	Queues    []QueueDeclaration
	Bindings  []Binding
}

// Route ties one exchange to the queue a consumer reads from. Queue is empty
// for routes that are only published to from this side.
type Route struct {
	Exchange   string
	Kind       string
	RoutingKey string
	Queue      string
}

// Validate checks that the route can be declared
func (r Route) Validate() error {
	if r.Exchange == "" {
		return fmt.Errorf("%w: exchange name is required", ErrInvalidConfiguration)
	}
	switch r.Kind {
	case KindDirect:
		if r.Queue != "" && r.RoutingKey == "" {
			return fmt.Errorf("%w: direct route %s needs a routing key", ErrInvalidConfiguration, r.Exchange)
		}
	case KindFanout:
		if r.RoutingKey != "" {
			return fmt.Errorf("%w: fanout route %s must not have a routing key", ErrInvalidConfiguration, r.Exchange)
		}
	default:
		return fmt.Errorf("%w: unsupported exchange kind %q", ErrInvalidConfiguration, r.Kind)
	}
	return nil
}

// ExchangeDeclaration returns the durable exchange of the route
func (r Route) ExchangeDeclaration() ExchangeDeclaration {
	return ExchangeDeclaration{
		Name:    r.Exchange,
		Kind:    r.Kind,
		Durable: true,
	}
}

// Topology expands the route into its declarations. Queues are durable and
// never auto-deleted so messages survive consumer restarts. When
// deadLetterExchange is set, rejected messages are routed there.
func (r Route) Topology(deadLetterExchange string) Topology {
	t := Topology{
		Exchanges: []ExchangeDeclaration{r.ExchangeDeclaration()},
	}
	if r.Queue == "" {
		return t
	}

	var args amqp.Table
	if deadLetterExchange != "" && deadLetterExchange != r.Exchange {
		args = amqp.Table{"x-dead-letter-exchange": deadLetterExchange}
	}

	routingKey := r.RoutingKey
	if r.Kind == KindFanout {
		routingKey = ""
	}

	t.Queues = []QueueDeclaration{{
		Name:       r.Queue,
		Durable:    true,
		AutoDelete: false,
		Arguments:  args,
	}}
	t.Bindings = []Binding{{
		Queue:      r.Queue,
		Exchange:   r.Exchange,
		RoutingKey: routingKey,
	}}
	return t
}

// DeclareTopology declares exchanges, then queues, then bindings. Every
// declaration is idempotent on the broker side.
func DeclareTopology(ch Channel, topology Topology) error {
	for _, exchange := range topology.Exchanges {
		if err := declareExchange(ch, exchange); err != nil {
			return err
		}
	}

	for _, queue := range topology.Queues {
		if err := declareQueue(ch, queue); err != nil {
			return err
		}
	}

	for _, binding := range topology.Bindings {
		if err := ch.QueueBind(
			binding.Queue,
			binding.RoutingKey,
			binding.Exchange,
			false, // no-wait
			binding.Arguments,
		); err != nil {
			return &TopologyError{
				Component: "binding",
				Name:      fmt.Sprintf("%s->%s", binding.Exchange, binding.Queue),
				Op:        "bind",
				Err:       err,
				Timestamp: time.Now(),
			}
		}
	}

	return nil
}

// DeclareRoute declares the exchange, queue and binding of a route
func DeclareRoute(ch Channel, route Route, deadLetterExchange string) error {
	if err := route.Validate(); err != nil {
		return err
	}
	return DeclareTopology(ch, route.Topology(deadLetterExchange))
}

func declareExchange(ch Channel, exchange ExchangeDeclaration) error {
	err := ch.ExchangeDeclare(
		exchange.Name,
		exchange.Kind,
		exchange.Durable,
		exchange.AutoDelete,
		false, // internal
		false, // no-wait
		exchange.Arguments,
	)
	if err != nil {
		return &TopologyError{
			Component: "exchange",
			Name:      exchange.Name,
			Op:        "declare",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return nil
}

func declareQueue(ch Channel, queue QueueDeclaration) error {
	_, err := ch.QueueDeclare(
		queue.Name,
		queue.Durable,
		queue.AutoDelete,
		queue.Exclusive,
		false, // no-wait
		queue.Arguments,
	)
	if err != nil {
		return &TopologyError{
			Component: "queue",
			Name:      queue.Name,
			Op:        "declare",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return nil
}
