package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/glimte/jobber-go/internal/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DefaultBacklogThreshold is the ready-message count above which a queue
// is reported degraded.
const DefaultBacklogThreshold = 10000

// queueInspector is implemented by *amqp.Channel
type queueInspector interface {
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
}

// RabbitMQChecker opens a channel on the broker connection and inspects the
// consumer queues. A failed channel is unhealthy; a missing queue or a
// backlog above the threshold is degraded.
type RabbitMQChecker struct {
	channels  rabbitmq.ChannelProvider
	queues    []string
	threshold int
}

// NewRabbitMQChecker creates a broker checker over queues
func NewRabbitMQChecker(channels rabbitmq.ChannelProvider, queues ...string) *RabbitMQChecker {
	return &RabbitMQChecker{
		channels:  channels,
		queues:    queues,
		threshold: DefaultBacklogThreshold,
	}
}

// WithBacklogThreshold overrides DefaultBacklogThreshold
func (c *RabbitMQChecker) WithBacklogThreshold(n int) *RabbitMQChecker {
	c.threshold = n
	return c
}

func (c *RabbitMQChecker) Name() string {
	return "rabbitmq"
}

func (c *RabbitMQChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Status:    StatusHealthy,
		Message:   "Broker is reachable",
		Timestamp: start,
		Details:   make(map[string]any),
	}

	ch, err := c.channels.Channel()
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "Failed to create channel"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	if ch.IsClosed() {
		result.Status = StatusUnhealthy
		result.Message = "Channel is closed"
		result.Duration = time.Since(start)
		return result
	}
	_ = ch.Close()

	for _, queue := range c.queues {
		if ctx.Err() != nil {
			break
		}
		// A failed passive declare closes the channel, so each queue gets its own.
		status, detail := c.inspect(queue)
		result.Details[queue] = detail
		if status != StatusHealthy {
			result.Status = worse(result.Status, status)
			result.Message = fmt.Sprintf("Queue %s: %v", queue, detail)
		}
	}

	result.Duration = time.Since(start)
	return result
}

func (c *RabbitMQChecker) inspect(queue string) (Status, any) {
	ch, err := c.channels.Channel()
	if err != nil {
		return StatusUnhealthy, err.Error()
	}
	defer ch.Close()

	inspector, ok := ch.(queueInspector)
	if !ok {
		return StatusHealthy, "not inspected"
	}
	q, err := inspector.QueueDeclarePassive(queue, true, false, false, false, nil)
	if err != nil {
		return StatusDegraded, err.Error()
	}

	detail := map[string]any{"messages": q.Messages, "consumers": q.Consumers}
	if q.Messages > c.threshold {
		return StatusDegraded, detail
	}
	return StatusHealthy, detail
}

// Pinger is implemented by *mongo.Client
type Pinger interface {
	Ping(ctx context.Context, rp *readpref.ReadPref) error
}

// MongoChecker pings the primary of the user database
type MongoChecker struct {
	client Pinger
}

// NewMongoChecker creates a MongoDB checker
func NewMongoChecker(client Pinger) *MongoChecker {
	return &MongoChecker{client: client}
}

func (c *MongoChecker) Name() string {
	return "mongodb"
}

func (c *MongoChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: c.Name(), Timestamp: start}

	if err := c.client.Ping(ctx, readpref.Primary()); err != nil {
		result.Status = StatusUnhealthy
		result.Message = "Ping failed"
		result.Error = err.Error()
	} else {
		result.Status = StatusHealthy
		result.Message = "Primary is reachable"
	}
	result.Duration = time.Since(start)
	return result
}

// RedisChecker pings the idempotency marker store. Markers only suppress
// duplicates, so an unreachable Redis is degraded rather than unhealthy.
type RedisChecker struct {
	client redis.UniversalClient
}

// NewRedisChecker creates a Redis checker
func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string {
	return "redis"
}

func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: c.Name(), Timestamp: start}

	if err := c.client.Ping(ctx).Err(); err != nil {
		result.Status = StatusDegraded
		result.Message = "Ping failed"
		result.Error = err.Error()
	} else {
		result.Status = StatusHealthy
		result.Message = "Marker store is reachable"
	}
	result.Duration = time.Since(start)
	return result
}

// RuntimeChecker reports goroutine and memory figures and flags goroutine
// counts above the thresholds.
type RuntimeChecker struct {
	warnGoroutines     int
	criticalGoroutines int
}

// NewRuntimeChecker creates a runtime checker
func NewRuntimeChecker(warnGoroutines, criticalGoroutines int) *RuntimeChecker {
	return &RuntimeChecker{
		warnGoroutines:     warnGoroutines,
		criticalGoroutines: criticalGoroutines,
	}
}

func (c *RuntimeChecker) Name() string {
	return "runtime"
}

func (c *RuntimeChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	goroutines := runtime.NumGoroutine()

	result.Details["memoryUsedMb"] = float64(m.Sys) / 1024 / 1024
	result.Details["gcRuns"] = m.NumGC
	result.Details["goroutines"] = goroutines

	switch {
	case goroutines > c.criticalGoroutines:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("Too many goroutines: %d", goroutines)
	case goroutines > c.warnGoroutines:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("High goroutine count: %d", goroutines)
	default:
		result.Status = StatusHealthy
		result.Message = "Runtime is normal"
	}

	result.Duration = time.Since(start)
	return result
}

// ComponentChecker allows checking custom components
type ComponentChecker struct {
	name    string
	checker func(ctx context.Context) (Status, string, map[string]any, error)
}

// NewComponentChecker creates a checker for custom components
func NewComponentChecker(name string, checker func(ctx context.Context) (Status, string, map[string]any, error)) *ComponentChecker {
	return &ComponentChecker{
		name:    name,
		checker: checker,
	}
}

func (c *ComponentChecker) Name() string {
	return c.name
}

func (c *ComponentChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}

	status, message, details, err := c.checker(ctx)

	result.Status = status
	result.Message = message
	if details != nil {
		result.Details = details
	}
	if err != nil {
		result.Error = err.Error()
	}
	result.Duration = time.Since(start)

	return result
}
