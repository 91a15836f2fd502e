package messaging

import "time"

// Outcome labels passed to MetricsCollector.RecordMessage
const (
	OutcomeAcked    = "ack"
	OutcomeUnknown  = "unknown"
	OutcomeRejected = "reject"
	OutcomeRequeued = "requeue"
)

// MetricsCollector collects messaging metrics
type MetricsCollector interface {
	// RecordMessage records how a consumed message was settled
	RecordMessage(queue, messageType, outcome string, duration time.Duration)

	// RecordPublish records a publish attempt
	RecordPublish(exchange, routingKey string, success bool, duration time.Duration)
}

// NoOpMetricsCollector is a no-op implementation of MetricsCollector
type NoOpMetricsCollector struct{}

// RecordMessage does nothing
func (NoOpMetricsCollector) RecordMessage(queue, messageType, outcome string, duration time.Duration) {
}

// RecordPublish does nothing
func (NoOpMetricsCollector) RecordPublish(exchange, routingKey string, success bool, duration time.Duration) {
}
