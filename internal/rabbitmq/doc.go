// Package rabbitmq wraps amqp091-go for the jobber services.
//
// This package includes:
//   - ConnectionManager: one broker connection per process, replaced on loss
//   - Route and DeclareRoute: durable exchange, queue and binding declaration
//   - Publisher: persistent, confirmed publishing over a dedicated channel
//   - Consumer: manual-ack delivery loop with prefetch and resubscription
//
// Callers depend on the Channel interface rather than *amqp.Channel so the
// delivery and publish paths can be exercised without a broker.
package rabbitmq
