// Package memory is an in-process projection store with the same
// idempotency rules as the MongoDB store. It backs tests and local runs
// without a database.
package memory

import (
	"context"
	"maps"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/glimte/jobber-go/users"
	"github.com/google/uuid"
)

// Store holds buyers and sellers in memory
type Store struct {
	mu      sync.Mutex
	buyers  map[string]*users.Buyer
	sellers map[string]*users.Seller
}

var (
	_ users.BuyerService  = (*Store)(nil)
	_ users.SellerService = (*Store)(nil)
)

// New creates an empty store
func New() *Store {
	return &Store{
		buyers:  make(map[string]*users.Buyer),
		sellers: make(map[string]*users.Seller),
	}
}

// CreateBuyer implements users.BuyerService
func (s *Store) CreateBuyer(ctx context.Context, buyer users.Buyer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.buyers {
		if b.Username == buyer.Username || (buyer.Email != "" && b.Email == buyer.Email) {
			return nil
		}
	}

	if buyer.ID == "" {
		buyer.ID = uuid.NewString()
	}
	buyer.PurchasedGigs = append([]string{}, buyer.PurchasedGigs...)
	s.buyers[buyer.ID] = &buyer
	return nil
}

// UpdateBuyerPurchasedGigs implements users.BuyerService
func (s *Store) UpdateBuyerPurchasedGigs(ctx context.Context, buyerID string, gigIDs []string, op users.GigsOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buyer, ok := s.buyers[buyerID]
	if !ok {
		return users.ErrBuyerNotFound
	}

	switch op {
	case users.AddPurchasedGigs:
		for _, id := range gigIDs {
			if !slices.Contains(buyer.PurchasedGigs, id) {
				buyer.PurchasedGigs = append(buyer.PurchasedGigs, id)
			}
		}
	case users.RemovePurchasedGigs:
		buyer.PurchasedGigs = slices.DeleteFunc(buyer.PurchasedGigs, func(id string) bool {
			return slices.Contains(gigIDs, id)
		})
	default:
		return users.ErrUnsupportedOperation
	}
	return nil
}

// Buyer returns a copy of the buyer with the given id
func (s *Store) Buyer(id string) (users.Buyer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buyers[id]
	if !ok {
		return users.Buyer{}, false
	}
	return cloneBuyer(b), true
}

// BuyerByUsername returns a copy of the buyer with the given username
func (s *Store) BuyerByUsername(username string) (users.Buyer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.buyers {
		if b.Username == username {
			return cloneBuyer(b), true
		}
	}
	return users.Buyer{}, false
}

// BuyerCount returns how many buyers are stored
func (s *Store) BuyerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buyers)
}

// AddSeller stores seller, assigning an id when it has none, and returns the id
func (s *Store) AddSeller(seller users.Seller) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seller.ID == "" {
		seller.ID = uuid.NewString()
	}
	if seller.RatingCategories == nil {
		seller.RatingCategories = users.NewRatingCategories()
	}
	c := cloneSeller(&seller)
	s.sellers[seller.ID] = &c
	return seller.ID
}

// Seller returns a copy of the seller with the given id
func (s *Store) Seller(id string) (users.Seller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seller, ok := s.sellers[id]
	if !ok {
		return users.Seller{}, false
	}
	return cloneSeller(seller), true
}

// UpdateSellerOngoingJobs implements users.SellerService
func (s *Store) UpdateSellerOngoingJobs(ctx context.Context, op users.Op, sellerID string, delta int) (bool, error) {
	return s.guarded(op, sellerID, func(seller *users.Seller) {
		seller.OngoingJobs = floor(seller.OngoingJobs + delta)
	})
}

// UpdateSellerCompletedJobs implements users.SellerService
func (s *Store) UpdateSellerCompletedJobs(ctx context.Context, op users.Op, update users.CompletedJobsUpdate) (bool, error) {
	return s.guarded(op, update.SellerID, func(seller *users.Seller) {
		seller.OngoingJobs = floor(seller.OngoingJobs + update.OngoingJobs)
		seller.CompletedJobs = floor(seller.CompletedJobs + update.CompletedJobs)
		seller.TotalEarnings += update.TotalEarnings
		seller.RecentDelivery = update.RecentDelivery
	})
}

// UpdateSellerCancelledJobs implements users.SellerService
func (s *Store) UpdateSellerCancelledJobs(ctx context.Context, op users.Op, sellerID string) (bool, error) {
	return s.guarded(op, sellerID, func(seller *users.Seller) {
		seller.CancelledJobs++
		seller.OngoingJobs = floor(seller.OngoingJobs - 1)
	})
}

// UpdateTotalGigsCount implements users.SellerService
func (s *Store) UpdateTotalGigsCount(ctx context.Context, op users.Op, sellerID string, delta int) (bool, error) {
	return s.guarded(op, sellerID, func(seller *users.Seller) {
		seller.TotalGigs = floor(seller.TotalGigs + delta)
	})
}

// UpdateSellerReview implements users.SellerService
func (s *Store) UpdateSellerReview(ctx context.Context, op users.Op, review users.ReviewUpdate) (bool, error) {
	key := users.RatingKey(review.Rating)
	if key == "" {
		return false, users.ErrUnsupportedOperation
	}
	return s.guarded(op, review.SellerID, func(seller *users.Seller) {
		seller.RatingsCount++
		seller.RatingSum += review.Rating
		if seller.RatingCategories == nil {
			seller.RatingCategories = users.NewRatingCategories()
		}
		category := seller.RatingCategories[key]
		category.Value += review.Rating
		category.Count++
		seller.RatingCategories[key] = category
	})
}

// GetRandomSellers implements users.SellerService
func (s *Store) GetRandomSellers(ctx context.Context, size int) ([]users.Seller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]users.Seller, 0, len(s.sellers))
	for _, seller := range s.sellers {
		all = append(all, cloneSeller(seller))
	}
	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })

	if size < 0 {
		size = 0
	}
	if size < len(all) {
		all = all[:size]
	}
	return all, nil
}

// guarded applies mutate unless op is guarded and its key is among the
// seller's applied keys, then records the key, keeping the newest
// users.MaxAppliedOps keys.
func (s *Store) guarded(op users.Op, sellerID string, mutate func(*users.Seller)) (bool, error) {
	if op.Key == "" {
		return false, users.ErrEmptyOpKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seller, ok := s.sellers[sellerID]
	if !ok {
		return false, users.ErrSellerNotFound
	}
	if op.Guarded && slices.Contains(seller.AppliedOps, op.Key) {
		return false, nil
	}

	mutate(seller)
	seller.AppliedOps = append(seller.AppliedOps, op.Key)
	if n := len(seller.AppliedOps); n > users.MaxAppliedOps {
		seller.AppliedOps = slices.Clone(seller.AppliedOps[n-users.MaxAppliedOps:])
	}
	return true, nil
}

func floor(n int) int {
	return max(n, 0)
}

func cloneBuyer(b *users.Buyer) users.Buyer {
	c := *b
	c.PurchasedGigs = slices.Clone(b.PurchasedGigs)
	return c
}

func cloneSeller(s *users.Seller) users.Seller {
	c := *s
	c.RatingCategories = maps.Clone(s.RatingCategories)
	c.AppliedOps = slices.Clone(s.AppliedOps)
	return c
}
