package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/glimte/jobber-go/contracts"
	"github.com/glimte/jobber-go/messaging"
	"github.com/glimte/jobber-go/topology"
)

const relayLogMessage = "Message sent to gig service."

// handleReview applies a buyer review to the seller and then forwards it to
// the gig service. The forward only happens once the review is recorded, so
// a review for an unknown seller is dropped. Other review types are for
// other subscribers of the fanout.
func (c *Consumers) handleReview(ctx context.Context, d messaging.Delivery) error {
	if d.Type != contracts.TypeBuyerReview {
		c.logger.Debug("review ignored", "messageType", d.Type)
		return nil
	}

	var msg contracts.ReviewMessage
	if err := contracts.Decode(d.Body, &msg); err != nil {
		return err
	}

	op := OpFor(d, reviewKey(msg))
	applied, err := c.sellers.UpdateSellerReview(ctx, op, ReviewUpdate{
		SellerID: msg.SellerID,
		Rating:   msg.Rating.Int(),
	})
	switch {
	case errors.Is(err, ErrSellerNotFound):
		c.logger.Warn("review for unknown seller dropped", "sellerId", msg.SellerID)
		return nil
	case err != nil:
		return fmt.Errorf("update review of seller %s: %w", msg.SellerID, err)
	case !applied:
		c.logger.Info("review already applied", "sellerId", msg.SellerID, "redelivered", d.Redelivered)
	}

	published := Op{Key: op.Key + ":published", Guarded: op.Guarded}
	return c.publishOnce(ctx, published, func() error {
		return c.publisher.PublishJSON(ctx, topology.UpdateGig,
			contracts.NewUpdateGigMessage(d.Body),
			relayLogMessage,
			messaging.WithMessageID(op.Key))
	})
}

func reviewKey(msg contracts.ReviewMessage) string {
	if msg.OrderID == "" {
		return ""
	}
	return msg.OrderID + ":" + msg.ReviewerID
}

// publishOnce runs publish unless a guarded op shows it already succeeded,
// then records the key. Marker failures are logged; the publish still
// happens, so a marker outage can cause a duplicate but never a lost event.
func (c *Consumers) publishOnce(ctx context.Context, op Op, publish func() error) error {
	if op.Guarded {
		seen, err := c.markers.Seen(ctx, op.Key)
		if err != nil {
			c.logger.Warn("could not read publish marker", "key", op.Key, "error", err)
		}
		if seen {
			c.logger.Info("event already published", "key", op.Key)
			return nil
		}
	}

	if err := publish(); err != nil {
		return err
	}

	if err := c.markers.Mark(ctx, op.Key); err != nil {
		c.logger.Warn("could not record publish marker", "key", op.Key, "error", err)
	}
	return nil
}

// handleGetSellers answers a seed request with a random sample of sellers,
// echoing the requested count.
func (c *Consumers) handleGetSellers(ctx context.Context, d messaging.Delivery) error {
	if d.Type != contracts.TypeGetSellers {
		c.logger.Debug("gig request ignored", "messageType", d.Type)
		return nil
	}

	var msg contracts.GetSellersMessage
	if err := contracts.Decode(d.Body, &msg); err != nil {
		return err
	}
	count, err := msg.N()
	if err != nil {
		return err
	}

	sellers, err := c.sellers.GetRandomSellers(ctx, count)
	if err != nil {
		return fmt.Errorf("get %d random sellers: %w", count, err)
	}
	if sellers == nil {
		sellers = []Seller{}
	}

	return c.publisher.PublishJSON(ctx, topology.SeedGig,
		contracts.NewReceiveSellersMessage(sellers, msg.Count),
		relayLogMessage)
}
