package users

import (
	"errors"
	"time"
)

var (
	// ErrBuyerNotFound is returned when a buyer mutation matches no buyer
	ErrBuyerNotFound = errors.New("users: buyer not found")

	// ErrSellerNotFound is returned when a seller mutation matches no seller
	ErrSellerNotFound = errors.New("users: seller not found")

	// ErrUnsupportedOperation is returned for a purchased-gigs operation other
	// than add or remove
	ErrUnsupportedOperation = errors.New("users: unsupported operation")

	// ErrEmptyOpKey is returned when a guarded mutation has no operation key
	ErrEmptyOpKey = errors.New("users: empty operation key")
)

// Buyer is the users service projection of a buyer account
type Buyer struct {
	ID             string    `bson:"_id,omitempty" json:"_id,omitempty"`
	Username       string    `bson:"username" json:"username"`
	Email          string    `bson:"email" json:"email"`
	ProfilePicture string    `bson:"profilePicture" json:"profilePicture"`
	Country        string    `bson:"country" json:"country"`
	IsSeller       bool      `bson:"isSeller" json:"isSeller"`
	PurchasedGigs  []string  `bson:"purchasedGigs" json:"purchasedGigs"`
	CreatedAt      time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time `bson:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

// RatingCategory accumulates the reviews with one star value
type RatingCategory struct {
	Value int `bson:"value" json:"value"`
	Count int `bson:"count" json:"count"`
}

// RatingCategories holds one bucket per star value, keyed "one" to "five"
type RatingCategories map[string]RatingCategory

// Seller is the users service projection of a seller profile. AppliedOps
// lists the most recent mutation keys and never leaves the service.
type Seller struct {
	ID               string           `bson:"_id,omitempty" json:"_id,omitempty"`
	FullName         string           `bson:"fullName" json:"fullName"`
	Username         string           `bson:"username" json:"username"`
	Email            string           `bson:"email" json:"email"`
	ProfilePicture   string           `bson:"profilePicture" json:"profilePicture"`
	Description      string           `bson:"description" json:"description"`
	Country          string           `bson:"country" json:"country"`
	OneLiner         string           `bson:"oneliner" json:"oneliner"`
	ResponseTime     int              `bson:"responseTime" json:"responseTime"`
	RatingsCount     int              `bson:"ratingsCount" json:"ratingsCount"`
	RatingSum        int              `bson:"ratingSum" json:"ratingSum"`
	RatingCategories RatingCategories `bson:"ratingCategories" json:"ratingCategories"`
	OngoingJobs      int              `bson:"ongoingJobs" json:"ongoingJobs"`
	CompletedJobs    int              `bson:"completedJobs" json:"completedJobs"`
	CancelledJobs    int              `bson:"cancelledJobs" json:"cancelledJobs"`
	TotalEarnings    float64          `bson:"totalEarnings" json:"totalEarnings"`
	TotalGigs        int              `bson:"totalGigs" json:"totalGigs"`
	RecentDelivery   time.Time        `bson:"recentDelivery,omitempty" json:"recentDelivery,omitempty"`
	AppliedOps       []string         `bson:"appliedOps,omitempty" json:"-"`
	CreatedAt        time.Time        `bson:"createdAt" json:"createdAt"`
}

// MaxAppliedOps bounds the mutation keys remembered per seller
const MaxAppliedOps = 100

var ratingKeys = [...]string{1: "one", 2: "two", 3: "three", 4: "four", 5: "five"}

// RatingKey returns the rating category for a star value, or "" when rating
// is outside 1..5.
func RatingKey(rating int) string {
	if rating < 1 || rating > 5 {
		return ""
	}
	return ratingKeys[rating]
}

// NewRatingCategories returns the five empty categories
func NewRatingCategories() RatingCategories {
	categories := make(RatingCategories, 5)
	for rating := 1; rating <= 5; rating++ {
		categories[RatingKey(rating)] = RatingCategory{}
	}
	return categories
}

// GigsOperation is how a purchased-gigs message changes a buyer's gig list
type GigsOperation string

// Purchased-gigs operations, named after the message types that carry them.
const (
	AddPurchasedGigs    GigsOperation = "purchased-gigs"
	RemovePurchasedGigs GigsOperation = "cancelled-gigs"
)

// CompletedJobsUpdate moves jobs from ongoing to completed
type CompletedJobsUpdate struct {
	SellerID       string
	OngoingJobs    int
	CompletedJobs  int
	TotalEarnings  float64
	RecentDelivery time.Time
}

// ReviewUpdate adds one review to a seller's ratings
type ReviewUpdate struct {
	SellerID string
	Rating   int
}
