package mongostore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/jobber-go/users"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store implements the users service contracts on MongoDB
type Store struct {
	buyers  *mongo.Collection
	sellers *mongo.Collection
	logger  *slog.Logger
	now     func() time.Time
}

var (
	_ users.BuyerService  = (*Store)(nil)
	_ users.SellerService = (*Store)(nil)
)

// Option configures the Store
type Option func(*Store)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a store on db
func New(db *mongo.Database, options ...Option) *Store {
	s := &Store{
		buyers:  db.Collection(BuyersCollection),
		sellers: db.Collection(SellersCollection),
		logger:  slog.Default(),
		now:     time.Now,
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// EnsureIndexes creates the unique identity indexes buyer upserts rely on
func (s *Store) EnsureIndexes(ctx context.Context) error {
	identity := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	if _, err := s.buyers.Indexes().CreateMany(ctx, identity); err != nil {
		return fmt.Errorf("create buyer indexes: %w", err)
	}
	if _, err := s.sellers.Indexes().CreateMany(ctx, identity); err != nil {
		return fmt.Errorf("create seller indexes: %w", err)
	}
	return nil
}

// CreateBuyer implements users.BuyerService. The buyer is inserted only when
// no buyer has its username; losing an insert race to another delivery
// surfaces as a duplicate key error, which counts as success.
func (s *Store) CreateBuyer(ctx context.Context, buyer users.Buyer) error {
	_, err := s.buyers.UpdateOne(ctx,
		bson.M{"username": buyer.Username},
		bson.M{"$setOnInsert": buyerDocument(buyer, s.now().UTC())},
		options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		s.logger.Debug("buyer already exists", "username", buyer.Username)
		return nil
	}
	return err
}

// UpdateBuyerPurchasedGigs implements users.BuyerService
func (s *Store) UpdateBuyerPurchasedGigs(ctx context.Context, buyerID string, gigIDs []string, op users.GigsOperation) error {
	update, err := purchasedGigsUpdate(gigIDs, op, s.now().UTC())
	if err != nil {
		return err
	}

	res, err := s.buyers.UpdateOne(ctx, idFilter(buyerID), update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return users.ErrBuyerNotFound
	}
	return nil
}

// UpdateSellerOngoingJobs implements users.SellerService
func (s *Store) UpdateSellerOngoingJobs(ctx context.Context, op users.Op, sellerID string, delta int) (bool, error) {
	return s.guarded(ctx, op, sellerID, guardedPipeline(op.Key, bson.E{Key: "ongoingJobs", Value: addFloored("ongoingJobs", delta)}))
}

// UpdateSellerCompletedJobs implements users.SellerService
func (s *Store) UpdateSellerCompletedJobs(ctx context.Context, op users.Op, update users.CompletedJobsUpdate) (bool, error) {
	return s.guarded(ctx, op, update.SellerID, guardedPipeline(op.Key,
		bson.E{Key: "ongoingJobs", Value: addFloored("ongoingJobs", update.OngoingJobs)},
		bson.E{Key: "completedJobs", Value: addFloored("completedJobs", update.CompletedJobs)},
		bson.E{Key: "totalEarnings", Value: bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$totalEarnings", 0}}, update.TotalEarnings}}},
		bson.E{Key: "recentDelivery", Value: bson.M{"$literal": update.RecentDelivery}},
	))
}

// UpdateSellerCancelledJobs implements users.SellerService
func (s *Store) UpdateSellerCancelledJobs(ctx context.Context, op users.Op, sellerID string) (bool, error) {
	return s.guarded(ctx, op, sellerID, guardedPipeline(op.Key,
		bson.E{Key: "cancelledJobs", Value: addFloored("cancelledJobs", 1)},
		bson.E{Key: "ongoingJobs", Value: addFloored("ongoingJobs", -1)},
	))
}

// UpdateTotalGigsCount implements users.SellerService
func (s *Store) UpdateTotalGigsCount(ctx context.Context, op users.Op, sellerID string, delta int) (bool, error) {
	return s.guarded(ctx, op, sellerID, guardedPipeline(op.Key, bson.E{Key: "totalGigs", Value: addFloored("totalGigs", delta)}))
}

// UpdateSellerReview implements users.SellerService
func (s *Store) UpdateSellerReview(ctx context.Context, op users.Op, review users.ReviewUpdate) (bool, error) {
	update, err := reviewUpdate(op.Key, review.Rating)
	if err != nil {
		return false, err
	}
	return s.guarded(ctx, op, review.SellerID, update)
}

// GetRandomSellers implements users.SellerService
func (s *Store) GetRandomSellers(ctx context.Context, size int) ([]users.Seller, error) {
	sellers := []users.Seller{}
	if size <= 0 {
		return sellers, nil
	}

	cursor, err := s.sellers.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$sample", Value: bson.D{{Key: "size", Value: size}}}},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	if err := cursor.All(ctx, &sellers); err != nil {
		return nil, err
	}
	return sellers, nil
}

// guarded runs update against the seller unless op is guarded and its key
// was applied. When nothing matched it tells a missing seller from an
// applied key.
func (s *Store) guarded(ctx context.Context, op users.Op, sellerID string, update any) (bool, error) {
	if op.Key == "" {
		return false, users.ErrEmptyOpKey
	}

	res, err := s.sellers.UpdateOne(ctx, guardFilter(sellerID, op), update)
	if err != nil {
		return false, err
	}
	if res.MatchedCount > 0 {
		return true, nil
	}

	n, err := s.sellers.CountDocuments(ctx, idFilter(sellerID), options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, users.ErrSellerNotFound
	}
	return false, nil
}

// idFilter matches an ObjectID when id is one in hex, else the raw string
func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": oid}
	}
	return bson.M{"_id": id}
}

func guardFilter(sellerID string, op users.Op) bson.M {
	filter := idFilter(sellerID)
	if op.Guarded {
		filter["appliedOps"] = bson.M{"$ne": op.Key}
	}
	return filter
}

// guardedPipeline sets fields and appends opKey to appliedOps in one stage
func guardedPipeline(opKey string, fields ...bson.E) mongo.Pipeline {
	set := make(bson.D, 0, len(fields)+1)
	set = append(set, fields...)
	set = append(set, bson.E{Key: "appliedOps", Value: appendOp(opKey)})
	return mongo.Pipeline{{{Key: "$set", Value: set}}}
}

// appendOp keeps the newest users.MaxAppliedOps keys. The key is wrapped in
// $literal so a value starting with "$" is not read as a field path.
func appendOp(opKey string) bson.M {
	return bson.M{"$slice": bson.A{
		bson.M{"$concatArrays": bson.A{
			bson.M{"$ifNull": bson.A{"$appliedOps", bson.A{}}},
			bson.A{bson.M{"$literal": opKey}},
		}},
		-users.MaxAppliedOps,
	}}
}

// addFloored adds delta to field, treating a missing field as 0 and never
// going below 0
func addFloored(field string, delta int) bson.M {
	return bson.M{"$max": bson.A{
		0,
		bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$" + field, 0}}, delta}},
	}}
}

func reviewUpdate(opKey string, rating int) (bson.M, error) {
	category := users.RatingKey(rating)
	if category == "" {
		return nil, fmt.Errorf("%w: rating %d", users.ErrUnsupportedOperation, rating)
	}

	inc := bson.M{"ratingsCount": 1, "ratingSum": rating}
	inc["ratingCategories."+category+".value"] = rating
	inc["ratingCategories."+category+".count"] = 1

	push := bson.M{
		"appliedOps": bson.M{"$each": bson.A{opKey}, "$slice": -users.MaxAppliedOps},
	}

	return bson.M{"$inc": inc, "$push": push}, nil
}

func purchasedGigsUpdate(gigIDs []string, op users.GigsOperation, now time.Time) (bson.M, error) {
	set := bson.M{"updatedAt": now}
	switch op {
	case users.AddPurchasedGigs:
		return bson.M{
			"$addToSet": bson.M{"purchasedGigs": bson.M{"$each": gigIDs}},
			"$set":      set,
		}, nil
	case users.RemovePurchasedGigs:
		return bson.M{
			"$pull": bson.M{"purchasedGigs": bson.M{"$in": gigIDs}},
			"$set":  set,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", users.ErrUnsupportedOperation, op)
	}
}

func buyerDocument(buyer users.Buyer, now time.Time) bson.M {
	purchased := buyer.PurchasedGigs
	if purchased == nil {
		purchased = []string{}
	}
	createdAt := buyer.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	return bson.M{
		"username":       buyer.Username,
		"email":          buyer.Email,
		"profilePicture": buyer.ProfilePicture,
		"country":        buyer.Country,
		"isSeller":       buyer.IsSeller,
		"purchasedGigs":  purchased,
		"createdAt":      createdAt,
		"updatedAt":      now,
	}
}
