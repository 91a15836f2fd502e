// Package metrics exports consumer and publisher metrics to Prometheus
package metrics

import (
	"net/http"
	"time"

	"github.com/glimte/jobber-go/messaging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements messaging.MetricsCollector on its own registry
type Collector struct {
	registry *prometheus.Registry

	MessagesTotal   *prometheus.CounterVec
	MessageDuration *prometheus.HistogramVec
	PublishesTotal  *prometheus.CounterVec
	PublishDuration *prometheus.HistogramVec
}

var _ messaging.MetricsCollector = (*Collector)(nil)

// NewCollector registers the jobber metrics under namespace, plus the Go
// runtime and process collectors.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Consumed messages by queue, type and settlement outcome",
		}, []string{"queue", "message_type", "outcome"}),
		MessageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_duration_seconds",
			Help:      "Time from delivery to settlement",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue", "message_type"}),
		PublishesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Publish attempts by exchange, routing key and result",
		}, []string{"exchange", "routing_key", "status"}),
		PublishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Time until the broker confirmed a publish",
			Buckets:   prometheus.DefBuckets,
		}, []string{"exchange"}),
	}

	reg.MustRegister(
		c.MessagesTotal,
		c.MessageDuration,
		c.PublishesTotal,
		c.PublishDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// RecordMessage implements messaging.MetricsCollector
func (c *Collector) RecordMessage(queue, messageType, outcome string, duration time.Duration) {
	c.MessagesTotal.WithLabelValues(queue, messageType, outcome).Inc()
	c.MessageDuration.WithLabelValues(queue, messageType).Observe(duration.Seconds())
}

// RecordPublish implements messaging.MetricsCollector
func (c *Collector) RecordPublish(exchange, routingKey string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	c.PublishesTotal.WithLabelValues(exchange, routingKey, status).Inc()
	c.PublishDuration.WithLabelValues(exchange).Observe(duration.Seconds())
}

// Registry returns the registry the metrics live in
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
