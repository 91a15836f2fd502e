package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/glimte/jobber-go/contracts"
	"github.com/glimte/jobber-go/messaging"
)

func (c *Consumers) sellerRouter() *messaging.Router {
	router := messaging.NewRouter(messaging.WithRouterLogger(c.logger))
	router.HandleFunc(contracts.TypeCreateOrder, c.handleSellerUpdate)
	router.HandleFunc(contracts.TypeApproveOrder, c.handleSellerUpdate)
	router.HandleFunc(contracts.TypeUpdateGigCount, c.handleSellerUpdate)
	router.HandleFunc(contracts.TypeCancelOrder, c.handleSellerUpdate)
	return router
}

func (c *Consumers) handleSellerUpdate(ctx context.Context, d messaging.Delivery) error {
	var msg contracts.SellerMessage
	if err := contracts.Decode(d.Body, &msg); err != nil {
		return err
	}

	sellerID := msg.SellerID
	var (
		applied bool
		err     error
	)
	switch msg.Type {
	case contracts.TypeCreateOrder:
		applied, err = c.sellers.UpdateSellerOngoingJobs(ctx, OpFor(d, msg.OrderID), sellerID, msg.OngoingJobs.Int())

	case contracts.TypeApproveOrder:
		applied, err = c.sellers.UpdateSellerCompletedJobs(ctx, OpFor(d, msg.OrderID), CompletedJobsUpdate{
			SellerID:       sellerID,
			OngoingJobs:    msg.OngoingJobs.Int(),
			CompletedJobs:  msg.CompletedJobs.Int(),
			TotalEarnings:  msg.TotalEarnings.Float(),
			RecentDelivery: msg.RecentDeliveryTime(c.now().UTC()),
		})

	case contracts.TypeUpdateGigCount:
		sellerID = msg.GigSellerID
		applied, err = c.sellers.UpdateTotalGigsCount(ctx, OpFor(d, msg.GigID), sellerID, msg.Count.Int())

	case contracts.TypeCancelOrder:
		applied, err = c.sellers.UpdateSellerCancelledJobs(ctx, OpFor(d, msg.OrderID), sellerID)
	}

	switch {
	case errors.Is(err, ErrSellerNotFound):
		c.logger.Warn("update for unknown seller dropped",
			"sellerId", sellerID,
			"messageType", msg.Type)
		return nil
	case err != nil:
		return fmt.Errorf("%s for seller %s: %w", msg.Type, sellerID, err)
	case !applied:
		c.logger.Info("seller update already applied",
			"sellerId", sellerID,
			"messageType", msg.Type,
			"redelivered", d.Redelivered)
	}
	return nil
}
