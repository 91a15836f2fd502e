package notification

import (
	"context"
	"log/slog"

	"github.com/glimte/jobber-go/contracts"
	"github.com/glimte/jobber-go/internal/idempotency"
	"github.com/glimte/jobber-go/internal/rabbitmq"
	"github.com/glimte/jobber-go/messaging"
	"github.com/glimte/jobber-go/topology"
)

// EmailConsumer runs the auth and order email queues
type EmailConsumer struct {
	mailer    Mailer
	markers   idempotency.Store
	clientURL string
	appIcon   string
	options   []messaging.ConsumerOption
	logger    *slog.Logger
}

// Option configures the EmailConsumer
type Option func(*EmailConsumer)

// WithClientURL sets the app link rendered into every email
func WithClientURL(url string) Option {
	return func(c *EmailConsumer) {
		c.clientURL = url
	}
}

// WithAppIcon overrides DefaultAppIcon
func WithAppIcon(url string) Option {
	return func(c *EmailConsumer) {
		c.appIcon = url
	}
}

// WithMarkers sets the store that remembers sent emails. Without one a
// redelivered message is sent again.
func WithMarkers(markers idempotency.Store) Option {
	return func(c *EmailConsumer) {
		c.markers = markers
	}
}

// WithConsumerOptions sets options applied to both queue consumers
func WithConsumerOptions(options ...messaging.ConsumerOption) Option {
	return func(c *EmailConsumer) {
		c.options = append(c.options, options...)
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *EmailConsumer) {
		c.logger = logger
	}
}

// NewEmailConsumer creates the notification consumers
func NewEmailConsumer(mailer Mailer, options ...Option) *EmailConsumer {
	c := &EmailConsumer{
		mailer:  mailer,
		appIcon: DefaultAppIcon,
		logger:  slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// ConsumeAuthEmailMessages consumes auth-email-queue until ctx is cancelled.
// options apply to this consumer only, e.g. messaging.WithChannel.
func (c *EmailConsumer) ConsumeAuthEmailMessages(ctx context.Context, options ...messaging.ConsumerOption) error {
	return c.run(ctx, topology.AuthEmail, c.handleAuthEmail, options)
}

// ConsumeOrderEmailMessages consumes order-email-queue until ctx is cancelled
func (c *EmailConsumer) ConsumeOrderEmailMessages(ctx context.Context, options ...messaging.ConsumerOption) error {
	return c.run(ctx, topology.OrderEmail, c.handleOrderEmail, options)
}

func (c *EmailConsumer) run(ctx context.Context, route rabbitmq.Route, handle messaging.HandlerFunc, options []messaging.ConsumerOption) error {
	all := make([]messaging.ConsumerOption, 0, len(c.options)+len(options)+1)
	all = append(all, messaging.WithLogger(c.logger))
	all = append(all, c.options...)
	all = append(all, options...)

	c.logger.Info("starting consumer", "queue", route.Queue, "exchange", route.Exchange)
	return messaging.NewConsumer(route, handle, all...).Run(ctx)
}

func (c *EmailConsumer) handleAuthEmail(ctx context.Context, d messaging.Delivery) error {
	var msg contracts.AuthEmailMessage
	if err := contracts.Decode(d.Body, &msg); err != nil {
		return err
	}

	locals := EmailLocals{
		AppLink:    c.clientURL,
		AppIcon:    c.appIcon,
		Username:   msg.Username.String(),
		VerifyLink: msg.VerifyLink,
		ResetLink:  msg.ResetLink,
	}

	c.sendOnce(ctx, d, msg.ReceiverEmail, locals, msg.Template)
	return nil
}

func (c *EmailConsumer) handleOrderEmail(ctx context.Context, d messaging.Delivery) error {
	var msg contracts.OrderEmailMessage
	if err := contracts.Decode(d.Body, &msg); err != nil {
		return err
	}

	locals := EmailLocals{
		AppLink:        c.clientURL,
		AppIcon:        c.appIcon,
		Username:       msg.Username.String(),
		Sender:         msg.Sender.String(),
		OfferLink:      msg.OfferLink.String(),
		Amount:         msg.Amount.String(),
		BuyerUsername:  msg.BuyerUsername.String(),
		SellerUsername: msg.SellerUsername.String(),
		Title:          msg.Title.String(),
		Description:    msg.Description.String(),
		DeliveryDays:   msg.DeliveryDays.String(),
		OrderID:        msg.OrderID.String(),
		OrderDue:       msg.OrderDue.String(),
		Requirements:   msg.Requirements.String(),
		OrderURL:       msg.OrderURL.String(),
		OriginalDate:   msg.OriginalDate.String(),
		NewDate:        msg.NewDate.String(),
		Reason:         msg.Reason.String(),
		Subject:        msg.Subject.String(),
		Header:         msg.Header.String(),
		Type:           msg.Type.String(),
		Message:        msg.Message.String(),
		ServiceFee:     msg.ServiceFee.String(),
		Total:          msg.Total.String(),
	}

	if msg.Template == contracts.TemplateOrderPlaced {
		c.sendOnce(ctx, d, msg.ReceiverEmail, locals, contracts.TemplateOrderPlaced, contracts.TemplateOrderReceipt)
		return nil
	}
	c.sendOnce(ctx, d, msg.ReceiverEmail, locals, msg.Template)
	return nil
}

// sendOnce sends each template unless this message was already handled,
// then records it. Without a message id only a redelivery is checked, since
// identical emails are legitimately sent again. Marker errors never block a
// send.
func (c *EmailConsumer) sendOnce(ctx context.Context, d messaging.Delivery, receiverEmail string, locals EmailLocals, templates ...string) {
	dedupe, check := d.DedupeKey("")
	key := "email:" + d.Queue + ":" + dedupe

	if c.markers != nil && check {
		seen, err := c.markers.Seen(ctx, key)
		if err != nil {
			c.logger.Warn("could not read email marker", "key", key, "error", err)
		}
		if seen {
			c.logger.Info("email already sent",
				"queue", d.Queue,
				"template", templates[0],
				"redelivered", d.Redelivered)
			return
		}
	}

	for _, template := range templates {
		c.mailer.SendEmail(ctx, template, receiverEmail, locals)
	}

	if c.markers != nil {
		if err := c.markers.Mark(ctx, key); err != nil {
			c.logger.Warn("could not record email marker", "key", key, "error", err)
		}
	}
}
