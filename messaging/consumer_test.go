package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glimte/jobber-go/contracts"
	"github.com/glimte/jobber-go/internal/rabbitmq"
	"github.com/glimte/jobber-go/internal/rabbitmq/rabbitmqtest"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRoute = rabbitmq.Route{
	Exchange:   "jobber-seller-update",
	Kind:       rabbitmq.KindDirect,
	RoutingKey: "user-seller",
	Queue:      "user-seller-queue",
}

type recordingMetrics struct {
	mu        sync.Mutex
	outcomes  []string
	publishes []bool
}

func (m *recordingMetrics) RecordMessage(queue, messageType, outcome string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, messageType+"="+outcome)
}

func (m *recordingMetrics) RecordPublish(exchange, routingKey string, success bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishes = append(m.publishes, success)
}

func (m *recordingMetrics) Outcomes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.outcomes...)
}

// startConsumer runs a consumer on a fake channel and returns the channel
// once the consumer is subscribed.
func startConsumer(t *testing.T, handler Handler, options ...ConsumerOption) (*rabbitmqtest.Channel, context.Context) {
	t.Helper()

	ch := rabbitmqtest.NewChannel()
	options = append([]ConsumerOption{WithChannel(ch), WithRedeliveryDelay(0)}, options...)
	consumer := NewConsumer(testRoute, handler, options...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("consumer did not stop")
		}
	})

	wait, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(waitCancel)
	require.NoError(t, ch.WaitConsuming(wait))
	return ch, wait
}

func TestConsumerSettlement(t *testing.T) {
	router := NewRouter()
	router.HandleFunc("ok", func(ctx context.Context, d Delivery) error { return nil })
	router.HandleFunc("fails", func(ctx context.Context, d Delivery) error { return errors.New("database unavailable") })
	router.HandleFunc("invalid", func(ctx context.Context, d Delivery) error {
		var msg contracts.SellerMessage
		return contracts.Decode(d.Body, &msg)
	})
	router.HandleFunc("malformed", func(ctx context.Context, d Delivery) error {
		return Malformed(errors.New("bad count"))
	})
	router.HandleFunc("panics", func(ctx context.Context, d Delivery) error { panic("boom") })

	tests := []struct {
		name string
		body string
		want rabbitmqtest.Settlement
	}{
		{"handled message is acked", `{"type":"ok"}`, rabbitmqtest.Acked},
		{"unknown type is acked", `{"type":"never-registered"}`, rabbitmqtest.Acked},
		{"missing type is acked as unknown", `{"sellerId":"S1"}`, rabbitmqtest.Acked},
		{"non-string type is acked as unknown", `{"type":2,"sellerId":"S1"}`, rabbitmqtest.Acked},
		{"handler error is requeued", `{"type":"fails"}`, rabbitmqtest.Requeued},
		{"panic is requeued", `{"type":"panics"}`, rabbitmqtest.Requeued},
		{"validation failure is rejected", `{"type":"invalid","sellerId":"S1","ongoingJobs":"lots"}`, rabbitmqtest.Rejected},
		{"malformed error is rejected", `{"type":"malformed"}`, rabbitmqtest.Rejected},
		{"non-object body is rejected", `["ok"]`, rabbitmqtest.Rejected},
		{"invalid json is rejected", `{"type":"ok"`, rabbitmqtest.Rejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, wait := startConsumer(t, router)
			ack := ch.Deliver([]byte(tt.body))
			assert.Equal(t, tt.want, ack.Wait(wait))
			assert.Equal(t, 1, ack.Calls())
		})
	}
}

func TestConsumerDelivery(t *testing.T) {
	t.Run("passes message metadata to the handler", func(t *testing.T) {
		got := make(chan Delivery, 1)
		handler := HandlerFunc(func(ctx context.Context, d Delivery) error {
			got <- d
			return nil
		})

		ch, wait := startConsumer(t, handler)
		ch.Deliver([]byte(`{"type":"create-order","sellerId":"S1"}`), func(d *amqp.Delivery) {
			d.MessageId = "m-42"
			d.Redelivered = true
		}).Wait(wait)

		d := <-got
		assert.Equal(t, "user-seller-queue", d.Queue)
		assert.Equal(t, "create-order", d.Type)
		assert.Equal(t, "m-42", d.MessageID)
		assert.True(t, d.Redelivered)
		assert.JSONEq(t, `{"type":"create-order","sellerId":"S1"}`, string(d.Body))
	})

	t.Run("handler is acked only after it returns", func(t *testing.T) {
		release := make(chan struct{})
		handler := HandlerFunc(func(ctx context.Context, d Delivery) error {
			<-release
			return nil
		})

		ch, wait := startConsumer(t, handler)
		ack := ch.Deliver([]byte(`{"type":"auth"}`))

		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, rabbitmqtest.Unsettled, ack.Result())

		close(release)
		assert.Equal(t, rabbitmqtest.Acked, ack.Wait(wait))
	})

	t.Run("processes a queue in delivery order", func(t *testing.T) {
		var mu sync.Mutex
		var order []string
		handler := HandlerFunc(func(ctx context.Context, d Delivery) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, d.MessageID)
			return nil
		})

		ch, wait := startConsumer(t, handler)
		var acks []*rabbitmqtest.Acknowledger
		for i := 0; i < 5; i++ {
			id := fmt.Sprintf("m-%d", i)
			acks = append(acks, ch.Deliver([]byte(`{"type":"x"}`), func(d *amqp.Delivery) { d.MessageId = id }))
		}
		for _, ack := range acks {
			ack.Wait(wait)
		}

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"m-0", "m-1", "m-2", "m-3", "m-4"}, order)
	})

	t.Run("handler timeout cancels the handler context", func(t *testing.T) {
		handler := HandlerFunc(func(ctx context.Context, d Delivery) error {
			<-ctx.Done()
			return ctx.Err()
		})

		ch, wait := startConsumer(t, handler, WithHandlerTimeout(10*time.Millisecond))
		assert.Equal(t, rabbitmqtest.Requeued, ch.Deliver([]byte(`{"type":"slow"}`)).Wait(wait))
	})

	t.Run("waits the redelivery delay before requeueing", func(t *testing.T) {
		handler := HandlerFunc(func(ctx context.Context, d Delivery) error {
			return errors.New("transient")
		})

		ch, wait := startConsumer(t, handler, WithRedeliveryDelay(50*time.Millisecond))
		start := time.Now()
		assert.Equal(t, rabbitmqtest.Requeued, ch.Deliver([]byte(`{"type":"x"}`)).Wait(wait))
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("records outcomes", func(t *testing.T) {
		metrics := &recordingMetrics{}
		router := NewRouter()
		router.HandleFunc("ok", func(ctx context.Context, d Delivery) error { return nil })

		ch, wait := startConsumer(t, router, WithMetrics(metrics))
		ch.Deliver([]byte(`{"type":"ok"}`)).Wait(wait)
		ch.Deliver([]byte(`{"type":"other"}`)).Wait(wait)
		ch.Deliver([]byte(`nope`)).Wait(wait)

		assert.Equal(t, []string{"ok=ack", "other=unknown", "=reject"}, metrics.Outcomes())
	})

	t.Run("declares the queue with its dead-letter exchange and prefetch", func(t *testing.T) {
		ch, _ := startConsumer(t, NewRouter(),
			WithDeadLetterExchange("jobber-dead-letter"),
			WithPrefetch(4))

		assert.Equal(t, amqp.Table{"x-dead-letter-exchange": "jobber-dead-letter"}, ch.Queues["user-seller-queue"])
		assert.Equal(t, 4, ch.Prefetch)
	})
}

func TestConsumerWithoutChannel(t *testing.T) {
	consumer := NewConsumer(testRoute, NewRouter())
	assert.ErrorIs(t, consumer.Run(context.Background()), ErrNoChannel)
}

func TestTruncatePayload(t *testing.T) {
	short := []byte(`{"type":"auth"}`)
	assert.Equal(t, string(short), truncatePayload(short))

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'a'
	}
	truncated := truncatePayload(long)
	assert.Len(t, truncated, maxLoggedPayload+len("...(truncated)"))
}
