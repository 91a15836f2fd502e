package users

import (
	"context"

	"github.com/glimte/jobber-go/messaging"
)

// BuyerService mutates buyer projections
type BuyerService interface {
	// CreateBuyer stores buyer unless a buyer with the same username or email
	// exists. Creating an existing buyer is not an error.
	CreateBuyer(ctx context.Context, buyer Buyer) error

	// UpdateBuyerPurchasedGigs adds gigIDs to or removes them from the buyer's
	// purchased gigs. Both directions use set semantics.
	UpdateBuyerPurchasedGigs(ctx context.Context, buyerID string, gigIDs []string, op GigsOperation) error
}

// Op identifies one counter mutation. Key is recorded on the seller in the
// same write. A guarded Op is skipped when its Key is already recorded; an
// unguarded one is always applied.
type Op struct {
	Key     string
	Guarded bool
}

// Once returns a guarded Op for key
func Once(key string) Op {
	return Op{Key: key, Guarded: true}
}

// OpFor derives the Op of a delivery from its natural key
func OpFor(d messaging.Delivery, natural string) Op {
	key, check := d.DedupeKey(natural)
	return Op{Key: key, Guarded: check}
}

// SellerService mutates seller projections. applied is false when a guarded
// Op was skipped because its key was already recorded for the seller.
type SellerService interface {
	UpdateSellerOngoingJobs(ctx context.Context, op Op, sellerID string, delta int) (applied bool, err error)
	UpdateSellerCompletedJobs(ctx context.Context, op Op, update CompletedJobsUpdate) (applied bool, err error)
	UpdateSellerCancelledJobs(ctx context.Context, op Op, sellerID string) (applied bool, err error)
	UpdateTotalGigsCount(ctx context.Context, op Op, sellerID string, delta int) (applied bool, err error)
	UpdateSellerReview(ctx context.Context, op Op, review ReviewUpdate) (applied bool, err error)

	// GetRandomSellers returns at most size sellers in random order
	GetRandomSellers(ctx context.Context, size int) ([]Seller, error)
}
