package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/glimte/jobber-go/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter(t *testing.T) {
	t.Run("dispatches on type", func(t *testing.T) {
		router := NewRouter()
		var handled []string
		router.HandleFunc("create-order", func(ctx context.Context, d Delivery) error {
			handled = append(handled, "create:"+d.MessageID)
			return nil
		})
		router.HandleFunc("cancel-order", func(ctx context.Context, d Delivery) error {
			handled = append(handled, "cancel:"+d.MessageID)
			return nil
		})

		require.NoError(t, router.Handle(context.Background(), Delivery{Type: "cancel-order", MessageID: "1"}))
		require.NoError(t, router.Handle(context.Background(), Delivery{Type: "create-order", MessageID: "2"}))

		assert.Equal(t, []string{"cancel:1", "create:2"}, handled)
		assert.ElementsMatch(t, []string{"create-order", "cancel-order"}, router.Types())
	})

	t.Run("unknown type", func(t *testing.T) {
		router := NewRouter()
		err := router.Handle(context.Background(), Delivery{Type: "mystery", Queue: "q"})
		assert.ErrorIs(t, err, ErrUnknownType)
	})

	t.Run("handler errors pass through", func(t *testing.T) {
		router := NewRouter()
		boom := errors.New("boom")
		router.Register("x", HandlerFunc(func(ctx context.Context, d Delivery) error { return boom }))

		assert.ErrorIs(t, router.Handle(context.Background(), Delivery{Type: "x"}), boom)
	})
}

func TestIdempotencyKey(t *testing.T) {
	t.Run("prefers the message id", func(t *testing.T) {
		d := Delivery{Type: "create-order", MessageID: "m-1", Body: []byte(`{}`)}
		assert.Equal(t, "create-order:msg:m-1", d.IdempotencyKey("order-9"))
	})

	t.Run("falls back to the natural key", func(t *testing.T) {
		d := Delivery{Type: "create-order", Body: []byte(`{}`)}
		assert.Equal(t, "create-order:order-9", d.IdempotencyKey("order-9"))
	})

	t.Run("hashes the body otherwise", func(t *testing.T) {
		a := Delivery{Type: "cancel-order", Body: []byte(`{"sellerId":"S1"}`)}
		b := Delivery{Type: "cancel-order", Body: []byte(`{"sellerId":"S1"}`)}
		c := Delivery{Type: "cancel-order", Body: []byte(`{"sellerId":"S2"}`)}

		assert.Equal(t, a.IdempotencyKey(""), b.IdempotencyKey(""))
		assert.NotEqual(t, a.IdempotencyKey(""), c.IdempotencyKey(""))
		assert.Contains(t, a.IdempotencyKey(""), "cancel-order:sha256:")
	})

	t.Run("type separates otherwise equal keys", func(t *testing.T) {
		a := Delivery{Type: "create-order"}
		b := Delivery{Type: "cancel-order"}
		assert.NotEqual(t, a.IdempotencyKey("o-1"), b.IdempotencyKey("o-1"))
	})
}

func TestDedupeKey(t *testing.T) {
	body := []byte(`{"sellerId":"S1"}`)

	tests := []struct {
		name      string
		delivery  Delivery
		natural   string
		wantCheck bool
	}{
		{"message id", Delivery{Type: "cancel-order", MessageID: "m-1", Body: body}, "", true},
		{"natural key", Delivery{Type: "create-order", Body: body}, "o-1", true},
		{"fresh body hash", Delivery{Type: "cancel-order", Body: body}, "", false},
		{"redelivered body hash", Delivery{Type: "cancel-order", Redelivered: true, Body: body}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, check := tt.delivery.DedupeKey(tt.natural)
			assert.Equal(t, tt.delivery.IdempotencyKey(tt.natural), key)
			assert.Equal(t, tt.wantCheck, check)
		})
	}
}

func TestMalformed(t *testing.T) {
	assert.Nil(t, Malformed(nil))

	cause := errors.New("bad")
	err := Malformed(cause)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsMalformed(err))
	assert.True(t, IsMalformed(contracts.ErrInvalidMessage))
	assert.False(t, IsMalformed(cause))
}
