package rabbitmq_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glimte/jobber-go/internal/rabbitmq"
	"github.com/glimte/jobber-go/internal/rabbitmq/rabbitmqtest"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sellerRoute = rabbitmq.Route{
	Exchange:   "jobber-seller-update",
	Kind:       rabbitmq.KindDirect,
	RoutingKey: "user-seller",
	Queue:      "user-seller-queue",
}

func runConsumer(t *testing.T, consumer *rabbitmq.Consumer, handler rabbitmq.DeliveryHandler) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- consumer.Run(ctx, handler)
	}()
	t.Cleanup(cancel)
	return cancel, done
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestConsumer(t *testing.T) {
	t.Run("settles deliveries by outcome", func(t *testing.T) {
		ch := rabbitmqtest.NewChannel()
		consumer := rabbitmq.NewConsumer(nil, sellerRoute, rabbitmq.WithConsumerChannel(ch))

		cancel, done := runConsumer(t, consumer, func(ctx context.Context, d amqp.Delivery) rabbitmq.Outcome {
			switch string(d.Body) {
			case "requeue":
				return rabbitmq.OutcomeRequeue
			case "reject":
				return rabbitmq.OutcomeReject
			default:
				return rabbitmq.OutcomeAck
			}
		})

		ctx := waitCtx(t)
		require.NoError(t, ch.WaitConsuming(ctx))

		assert.Equal(t, rabbitmqtest.Acked, ch.Deliver([]byte("ok")).Wait(ctx))
		assert.Equal(t, rabbitmqtest.Requeued, ch.Deliver([]byte("requeue")).Wait(ctx))
		assert.Equal(t, rabbitmqtest.Rejected, ch.Deliver([]byte("reject")).Wait(ctx))

		cancel()
		assert.NoError(t, <-done)
		assert.False(t, ch.IsClosed(), "a supplied channel stays open")
	})

	t.Run("declares its route and sets prefetch", func(t *testing.T) {
		ch := rabbitmqtest.NewChannel()
		consumer := rabbitmq.NewConsumer(nil, sellerRoute,
			rabbitmq.WithConsumerChannel(ch),
			rabbitmq.WithPrefetchCount(5),
			rabbitmq.WithDeadLetterExchange("jobber-dead-letter"))

		cancel, done := runConsumer(t, consumer, func(context.Context, amqp.Delivery) rabbitmq.Outcome {
			return rabbitmq.OutcomeAck
		})
		require.NoError(t, ch.WaitConsuming(waitCtx(t)))
		cancel()
		require.NoError(t, <-done)

		assert.Equal(t, 5, ch.Prefetch)
		assert.Equal(t, "direct", ch.Exchanges["jobber-seller-update"])
		assert.Equal(t, amqp.Table{"x-dead-letter-exchange": "jobber-dead-letter"}, ch.Queues["user-seller-queue"])
		assert.Len(t, ch.Cancelled, 1)
	})

	t.Run("resubscribes on a new channel after the stream closes", func(t *testing.T) {
		first := rabbitmqtest.NewChannel()
		second := rabbitmqtest.NewChannel()
		provider := rabbitmqtest.NewProvider(first, second)
		consumer := rabbitmq.NewConsumer(provider, sellerRoute, rabbitmq.WithResubscribeDelay(time.Millisecond))

		var handled atomic.Int32
		cancel, done := runConsumer(t, consumer, func(context.Context, amqp.Delivery) rabbitmq.Outcome {
			handled.Add(1)
			return rabbitmq.OutcomeAck
		})

		ctx := waitCtx(t)
		require.NoError(t, first.WaitConsuming(ctx))
		assert.Equal(t, rabbitmqtest.Acked, first.Deliver([]byte(`{}`)).Wait(ctx))

		first.Close()

		require.NoError(t, second.WaitConsuming(ctx))
		assert.Equal(t, rabbitmqtest.Acked, second.Deliver([]byte(`{}`)).Wait(ctx))

		cancel()
		require.NoError(t, <-done)
		assert.Equal(t, int32(2), handled.Load())
		assert.Equal(t, 2, provider.Opened())
	})

	t.Run("returns an error when a supplied channel closes without a provider", func(t *testing.T) {
		ch := rabbitmqtest.NewChannel()
		consumer := rabbitmq.NewConsumer(nil, sellerRoute, rabbitmq.WithConsumerChannel(ch))

		_, done := runConsumer(t, consumer, func(context.Context, amqp.Delivery) rabbitmq.Outcome {
			return rabbitmq.OutcomeAck
		})
		require.NoError(t, ch.WaitConsuming(waitCtx(t)))
		ch.Close()

		select {
		case err := <-done:
			var consumerErr *rabbitmq.ConsumerError
			require.ErrorAs(t, err, &consumerErr)
			assert.Equal(t, "user-seller-queue", consumerErr.Queue)
			assert.ErrorIs(t, err, rabbitmq.ErrDeliveriesClosed)
		case <-time.After(2 * time.Second):
			t.Fatal("consumer did not stop")
		}
	})

	t.Run("handles deliveries concurrently up to the worker count", func(t *testing.T) {
		ch := rabbitmqtest.NewChannel()
		consumer := rabbitmq.NewConsumer(nil, sellerRoute,
			rabbitmq.WithConsumerChannel(ch),
			rabbitmq.WithConcurrency(2))

		release := make(chan struct{})
		var inFlight, peak atomic.Int32
		cancel, done := runConsumer(t, consumer, func(context.Context, amqp.Delivery) rabbitmq.Outcome {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			inFlight.Add(-1)
			return rabbitmq.OutcomeAck
		})

		ctx := waitCtx(t)
		require.NoError(t, ch.WaitConsuming(ctx))
		a := ch.Deliver([]byte("a"))
		b := ch.Deliver([]byte("b"))

		require.Eventually(t, func() bool { return inFlight.Load() == 2 }, time.Second, time.Millisecond)
		close(release)

		assert.Equal(t, rabbitmqtest.Acked, a.Wait(ctx))
		assert.Equal(t, rabbitmqtest.Acked, b.Wait(ctx))
		assert.Equal(t, int32(2), peak.Load())

		cancel()
		require.NoError(t, <-done)
		assert.Equal(t, 2, ch.Prefetch, "prefetch is raised to the worker count")
	})

	t.Run("rejects a route without queue", func(t *testing.T) {
		consumer := rabbitmq.NewConsumer(nil, rabbitmq.Route{Exchange: "jobber-update-gig", Kind: rabbitmq.KindDirect})
		err := consumer.Run(context.Background(), func(context.Context, amqp.Delivery) rabbitmq.Outcome {
			return rabbitmq.OutcomeAck
		})
		assert.ErrorIs(t, err, rabbitmq.ErrInvalidConfiguration)
	})
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "ack", rabbitmq.OutcomeAck.String())
	assert.Equal(t, "requeue", rabbitmq.OutcomeRequeue.String())
	assert.Equal(t, "reject", rabbitmq.OutcomeReject.String())
}
