package messaging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
)

// Delivery is an inbound message as seen by a handler
type Delivery struct {
	Queue       string
	Type        string
	MessageID   string
	Redelivered bool
	Body        []byte
}

// IdempotencyKey identifies the message for duplicate suppression. The broker
// message id wins; otherwise natural (an order or gig id chosen by the
// handler) is used; otherwise the key is derived from the body. Two
// identical bodies without ids are treated as the same message.
func (d Delivery) IdempotencyKey(natural string) string {
	switch {
	case d.MessageID != "":
		return fmt.Sprintf("%s:msg:%s", d.Type, d.MessageID)
	case natural != "":
		return fmt.Sprintf("%s:%s", d.Type, natural)
	default:
		sum := sha256.Sum256(d.Body)
		return fmt.Sprintf("%s:sha256:%s", d.Type, hex.EncodeToString(sum[:16]))
	}
}

// DedupeKey returns IdempotencyKey(natural) and whether the key may be
// checked against earlier deliveries. A body-derived key only identifies a
// redelivery: producers without message ids publish identical bodies for
// separate events, so a fresh delivery is never a duplicate of another one.
func (d Delivery) DedupeKey(natural string) (key string, check bool) {
	return d.IdempotencyKey(natural), d.MessageID != "" || natural != "" || d.Redelivered
}

// Handler processes one delivery. Returning nil acknowledges it.
type Handler interface {
	Handle(ctx context.Context, d Delivery) error
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc func(ctx context.Context, d Delivery) error

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, d Delivery) error {
	return f(ctx, d)
}

// Router dispatches deliveries on their "type" field
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

// RouterOption configures the Router
type RouterOption func(*Router)

// WithRouterLogger sets the logger
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// NewRouter creates an empty router
func NewRouter(options ...RouterOption) *Router {
	r := &Router{
		handlers: make(map[string]Handler),
		logger:   slog.Default(),
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// Register sets the handler for messageType, replacing any previous one
func (r *Router) Register(messageType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[messageType] = handler
}

// HandleFunc registers a handler function for messageType
func (r *Router) HandleFunc(messageType string, fn func(ctx context.Context, d Delivery) error) {
	r.Register(messageType, HandlerFunc(fn))
}

// Types returns the registered message types
func (r *Router) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// Handle implements Handler. Deliveries with an unregistered type yield
// ErrUnknownType.
func (r *Router) Handle(ctx context.Context, d Delivery) error {
	r.mu.RLock()
	handler, ok := r.handlers[d.Type]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %q on queue %s", ErrUnknownType, d.Type, d.Queue)
	}

	r.logger.Debug("dispatching message",
		"queue", d.Queue,
		"messageType", d.Type,
		"messageId", d.MessageID)

	return handler.Handle(ctx, d)
}
