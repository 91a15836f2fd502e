package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/glimte/jobber-go/contracts"
	"github.com/glimte/jobber-go/messaging"
)

func (c *Consumers) buyerRouter() *messaging.Router {
	router := messaging.NewRouter(messaging.WithRouterLogger(c.logger))
	router.HandleFunc(contracts.TypeAuth, c.handleBuyerCreated)
	router.HandleFunc(contracts.TypePurchasedGigs, c.handlePurchasedGigs)
	router.HandleFunc(contracts.TypeCancelledGigs, c.handlePurchasedGigs)
	return router
}

func (c *Consumers) handleBuyerCreated(ctx context.Context, d messaging.Delivery) error {
	var msg contracts.BuyerMessage
	if err := contracts.Decode(d.Body, &msg); err != nil {
		return err
	}

	buyer := Buyer{
		Username:       msg.Username,
		Email:          msg.Email,
		ProfilePicture: msg.ProfilePicture,
		Country:        msg.Country,
		PurchasedGigs:  []string{},
		CreatedAt:      msg.CreatedTime(c.now().UTC()),
	}
	if err := c.buyers.CreateBuyer(ctx, buyer); err != nil {
		return fmt.Errorf("create buyer %s: %w", buyer.Username, err)
	}

	c.logger.Debug("buyer projection stored", "username", buyer.Username)
	return nil
}

func (c *Consumers) handlePurchasedGigs(ctx context.Context, d messaging.Delivery) error {
	var msg contracts.BuyerMessage
	if err := contracts.Decode(d.Body, &msg); err != nil {
		return err
	}

	err := c.buyers.UpdateBuyerPurchasedGigs(ctx, msg.BuyerID, msg.PurchasedGigs, GigsOperation(msg.Type))
	switch {
	case errors.Is(err, ErrBuyerNotFound):
		c.logger.Warn("purchased gigs for unknown buyer dropped",
			"buyerId", msg.BuyerID,
			"messageType", msg.Type)
		return nil
	case err != nil:
		return fmt.Errorf("update purchased gigs of buyer %s: %w", msg.BuyerID, err)
	}
	return nil
}
