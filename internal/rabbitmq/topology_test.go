package rabbitmq_test

import (
	"errors"
	"testing"

	"github.com/glimte/jobber-go/internal/rabbitmq"
	"github.com/glimte/jobber-go/internal/rabbitmq/rabbitmqtest"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteValidate(t *testing.T) {
	tests := []struct {
		name    string
		route   rabbitmq.Route
		wantErr bool
	}{
		{"direct with key", rabbitmq.Route{Exchange: "jobber-gig", Kind: rabbitmq.KindDirect, RoutingKey: "get-sellers", Queue: "user-gig-queue"}, false},
		{"fanout without key", rabbitmq.Route{Exchange: "jobber-review", Kind: rabbitmq.KindFanout, Queue: "seller-review-queue"}, false},
		{"publish-only direct", rabbitmq.Route{Exchange: "jobber-update-gig", Kind: rabbitmq.KindDirect}, false},
		{"missing exchange", rabbitmq.Route{Kind: rabbitmq.KindDirect, RoutingKey: "k", Queue: "q"}, true},
		{"direct queue without key", rabbitmq.Route{Exchange: "x", Kind: rabbitmq.KindDirect, Queue: "q"}, true},
		{"fanout with key", rabbitmq.Route{Exchange: "x", Kind: rabbitmq.KindFanout, RoutingKey: "k", Queue: "q"}, true},
		{"unsupported kind", rabbitmq.Route{Exchange: "x", Kind: "headers", Queue: "q"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.route.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, rabbitmq.ErrInvalidConfiguration)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDeclareRoute(t *testing.T) {
	t.Run("declares exchange, queue and binding", func(t *testing.T) {
		ch := rabbitmqtest.NewChannel()
		route := rabbitmq.Route{Exchange: "jobber-email-notification", Kind: rabbitmq.KindDirect, RoutingKey: "auth-email", Queue: "auth-email-queue"}

		require.NoError(t, rabbitmq.DeclareRoute(ch, route, "jobber-dead-letter"))

		assert.Equal(t, "direct", ch.Exchanges["jobber-email-notification"])
		require.Contains(t, ch.Queues, "auth-email-queue")
		assert.Equal(t, amqp.Table{"x-dead-letter-exchange": "jobber-dead-letter"}, ch.Queues["auth-email-queue"])
		require.Len(t, ch.Bindings, 1)
		assert.Equal(t, rabbitmq.Binding{Queue: "auth-email-queue", Exchange: "jobber-email-notification", RoutingKey: "auth-email"}, ch.Bindings[0])
	})

	t.Run("fanout binds with empty key", func(t *testing.T) {
		ch := rabbitmqtest.NewChannel()
		route := rabbitmq.Route{Exchange: "jobber-review", Kind: rabbitmq.KindFanout, Queue: "seller-review-queue"}

		require.NoError(t, rabbitmq.DeclareRoute(ch, route, ""))

		assert.Equal(t, "fanout", ch.Exchanges["jobber-review"])
		assert.Nil(t, ch.Queues["seller-review-queue"])
		require.Len(t, ch.Bindings, 1)
		assert.Empty(t, ch.Bindings[0].RoutingKey)
	})

	t.Run("is idempotent", func(t *testing.T) {
		ch := rabbitmqtest.NewChannel()
		route := rabbitmq.Route{Exchange: "jobber-gig", Kind: rabbitmq.KindDirect, RoutingKey: "get-sellers", Queue: "user-gig-queue"}

		require.NoError(t, rabbitmq.DeclareRoute(ch, route, ""))
		require.NoError(t, rabbitmq.DeclareRoute(ch, route, ""))

		assert.Len(t, ch.Exchanges, 1)
		assert.Len(t, ch.Queues, 1)
	})

	t.Run("dead-letter route does not dead-letter to itself", func(t *testing.T) {
		route := rabbitmq.Route{Exchange: "jobber-dead-letter", Kind: rabbitmq.KindFanout, Queue: "jobber-dead-letter-queue"}
		topology := route.Topology("jobber-dead-letter")

		require.Len(t, topology.Queues, 1)
		assert.Nil(t, topology.Queues[0].Arguments)
		assert.True(t, topology.Queues[0].Durable)
		assert.False(t, topology.Queues[0].AutoDelete)
	})

	t.Run("wraps broker failures in a TopologyError", func(t *testing.T) {
		ch := rabbitmqtest.NewChannel()
		ch.DeclareErr = errors.New("access refused")
		route := rabbitmq.Route{Exchange: "jobber-gig", Kind: rabbitmq.KindDirect, RoutingKey: "get-sellers", Queue: "user-gig-queue"}

		err := rabbitmq.DeclareRoute(ch, route, "")

		var topoErr *rabbitmq.TopologyError
		require.ErrorAs(t, err, &topoErr)
		assert.Equal(t, "exchange", topoErr.Component)
		assert.Equal(t, "jobber-gig", topoErr.Name)
	})
}
