package rabbitmq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glimte/jobber-go/internal/rabbitmq"
	"github.com/glimte/jobber-go/internal/rabbitmq/rabbitmqtest"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var updateGig = rabbitmq.ExchangeDeclaration{Name: "jobber-update-gig", Kind: rabbitmq.KindDirect, Durable: true}

func TestPublisher(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes persistent confirmed messages", func(t *testing.T) {
		ch := rabbitmqtest.NewChannel()
		publisher := rabbitmq.NewPublisher(rabbitmqtest.NewProvider(ch))

		err := publisher.Publish(ctx, updateGig, "update-gig", amqp.Publishing{Body: []byte(`{"type":"updateGig"}`)})
		require.NoError(t, err)

		published := ch.PublishedMessages()
		require.Len(t, published, 1)
		assert.Equal(t, "jobber-update-gig", published[0].Exchange)
		assert.Equal(t, "update-gig", published[0].RoutingKey)
		assert.Equal(t, amqp.Persistent, published[0].Msg.DeliveryMode)
		assert.Equal(t, "application/json", published[0].Msg.ContentType)
		assert.NotEmpty(t, published[0].Msg.MessageId)
		assert.False(t, published[0].Msg.Timestamp.IsZero())
		assert.Equal(t, "direct", ch.Exchanges["jobber-update-gig"])
	})

	t.Run("keeps caller supplied message id", func(t *testing.T) {
		ch := rabbitmqtest.NewChannel()
		publisher := rabbitmq.NewPublisher(rabbitmqtest.NewProvider(ch))

		require.NoError(t, publisher.Publish(ctx, updateGig, "update-gig", amqp.Publishing{MessageId: "m-1", Body: []byte(`{}`)}))
		assert.Equal(t, "m-1", ch.PublishedMessages()[0].Msg.MessageId)
	})

	t.Run("reuses its channel across publishes", func(t *testing.T) {
		ch := rabbitmqtest.NewChannel()
		provider := rabbitmqtest.NewProvider(ch)
		publisher := rabbitmq.NewPublisher(provider)

		for i := 0; i < 3; i++ {
			require.NoError(t, publisher.Publish(ctx, updateGig, "update-gig", amqp.Publishing{Body: []byte(`{}`)}))
		}

		assert.Equal(t, 1, provider.Opened())
		assert.Len(t, ch.PublishedMessages(), 3)
	})

	t.Run("reopens the channel after a failure", func(t *testing.T) {
		broken := rabbitmqtest.NewChannel()
		broken.PublishErr = amqp.ErrClosed
		healthy := rabbitmqtest.NewChannel()
		provider := rabbitmqtest.NewProvider(broken, healthy)
		publisher := rabbitmq.NewPublisher(provider, rabbitmq.WithPublishRetryDelay(time.Millisecond))

		require.NoError(t, publisher.Publish(ctx, updateGig, "update-gig", amqp.Publishing{Body: []byte(`{}`)}))

		assert.Equal(t, 2, provider.Opened())
		assert.True(t, broken.IsClosed())
		assert.Len(t, healthy.PublishedMessages(), 1)
		assert.Equal(t, "direct", healthy.Exchanges["jobber-update-gig"])
	})

	t.Run("nacked publish fails after retries", func(t *testing.T) {
		ch := rabbitmqtest.NewChannel()
		ch.NackPublishes = true
		publisher := rabbitmq.NewPublisher(rabbitmqtest.NewProvider(ch),
			rabbitmq.WithPublishRetries(1),
			rabbitmq.WithPublishRetryDelay(time.Millisecond))

		err := publisher.Publish(ctx, updateGig, "update-gig", amqp.Publishing{Body: []byte(`{}`)})
		require.Error(t, err)
		assert.ErrorIs(t, err, rabbitmq.ErrPublishNotConfirmed)

		var pubErr *rabbitmq.PublishError
		require.ErrorAs(t, err, &pubErr)
		assert.Equal(t, 2, pubErr.Attempts)
		assert.Equal(t, "jobber-update-gig", pubErr.Exchange)
	})

	t.Run("missing confirm times out", func(t *testing.T) {
		ch := rabbitmqtest.NewChannel()
		ch.DropConfirms = true
		publisher := rabbitmq.NewPublisher(rabbitmqtest.NewProvider(ch),
			rabbitmq.WithPublishRetries(0),
			rabbitmq.WithConfirmTimeout(10*time.Millisecond))

		err := publisher.Publish(ctx, updateGig, "update-gig", amqp.Publishing{Body: []byte(`{}`)})
		assert.ErrorIs(t, err, rabbitmq.ErrPublishTimeout)
	})

	t.Run("fails when no channel can be opened", func(t *testing.T) {
		provider := rabbitmqtest.NewProvider()
		provider.Err = rabbitmq.ErrConnectionNotReady
		publisher := rabbitmq.NewPublisher(provider,
			rabbitmq.WithPublishRetries(1),
			rabbitmq.WithPublishRetryDelay(time.Millisecond))

		err := publisher.Publish(ctx, updateGig, "update-gig", amqp.Publishing{Body: []byte(`{}`)})
		assert.ErrorIs(t, err, rabbitmq.ErrConnectionNotReady)
	})

	t.Run("closed publisher refuses without retrying", func(t *testing.T) {
		ch := rabbitmqtest.NewChannel()
		provider := rabbitmqtest.NewProvider(ch)
		publisher := rabbitmq.NewPublisher(provider)
		require.NoError(t, publisher.Close())

		err := publisher.Publish(ctx, updateGig, "update-gig", amqp.Publishing{Body: []byte(`{}`)})
		assert.True(t, errors.Is(err, rabbitmq.ErrPublisherClosed))
		assert.Equal(t, 0, provider.Opened())
	})
}
