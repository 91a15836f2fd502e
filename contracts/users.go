package contracts

import (
	"encoding/json"
	"time"
)

// BuyerMessage arrives on the buyer queue. For TypeAuth it carries the new
// account; for the gig types it names the buyer and the gig ids.
type BuyerMessage struct {
	Type           string     `json:"type"`
	BuyerID        string     `json:"buyerId,omitempty"`
	Username       string     `json:"username,omitempty"`
	Email          string     `json:"email,omitempty"`
	ProfilePicture string     `json:"profilePicture,omitempty"`
	Country        string     `json:"country,omitempty"`
	CreatedAt      Text       `json:"createdAt,omitempty"`
	PurchasedGigs  StringList `json:"purchasedGigs,omitempty"`
}

// Validate implements Validator
func (m *BuyerMessage) Validate() error {
	switch m.Type {
	case TypeAuth:
		if m.Username == "" {
			return required(m.Type, "username")
		}
		if m.Email == "" {
			return required(m.Type, "email")
		}
	case TypePurchasedGigs, TypeCancelledGigs:
		if m.BuyerID == "" {
			return required(m.Type, "buyerId")
		}
		if len(m.PurchasedGigs) == 0 {
			return required(m.Type, "purchasedGigs")
		}
	}
	return nil
}

// CreatedTime parses CreatedAt, falling back to fallback when it is missing
// or not a recognised date.
func (m *BuyerMessage) CreatedTime(fallback time.Time) time.Time {
	return parseTime(m.CreatedAt, fallback)
}

// SellerMessage arrives on the seller queue
type SellerMessage struct {
	Type           string `json:"type"`
	SellerID       string `json:"sellerId,omitempty"`
	GigSellerID    string `json:"gigSellerId,omitempty"`
	OrderID        string `json:"orderId,omitempty"`
	GigID          string `json:"gigId,omitempty"`
	OngoingJobs    Number `json:"ongoingJobs,omitempty"`
	CompletedJobs  Number `json:"completedJobs,omitempty"`
	TotalEarnings  Number `json:"totalEarnings,omitempty"`
	RecentDelivery Text   `json:"recentDelivery,omitempty"`
	Count          Number `json:"count,omitempty"`
}

// Validate implements Validator
func (m *SellerMessage) Validate() error {
	switch m.Type {
	case TypeCreateOrder, TypeApproveOrder, TypeCancelOrder:
		if m.SellerID == "" {
			return required(m.Type, "sellerId")
		}
	case TypeUpdateGigCount:
		if m.GigSellerID == "" {
			return required(m.Type, "gigSellerId")
		}
	}
	return nil
}

// RecentDeliveryTime parses RecentDelivery, falling back to fallback
func (m *SellerMessage) RecentDeliveryTime(fallback time.Time) time.Time {
	return parseTime(m.RecentDelivery, fallback)
}

// ReviewMessage is broadcast on the review fanout after a buyer or seller
// leaves a review.
type ReviewMessage struct {
	Type             string `json:"type"`
	GigID            string `json:"gigId,omitempty"`
	ReviewerID       string `json:"reviewerId,omitempty"`
	ReviewerImage    string `json:"reviewerImage,omitempty"`
	ReviewerUsername string `json:"reviewerUsername,omitempty"`
	SellerID         string `json:"sellerId,omitempty"`
	OrderID          string `json:"orderId,omitempty"`
	Country          string `json:"country,omitempty"`
	Review           Text   `json:"review,omitempty"`
	Rating           Number `json:"rating"`
	CreatedAt        Text   `json:"createdAt,omitempty"`
}

// Validate implements Validator
func (m *ReviewMessage) Validate() error {
	if m.Type != TypeBuyerReview {
		return nil
	}
	if m.SellerID == "" {
		return required(m.Type, "sellerId")
	}
	if m.Rating < 1 || m.Rating > 5 || m.Rating != Number(m.Rating.Int()) {
		return invalid(m.Type, "rating", "must be a whole number from 1 to 5")
	}
	return nil
}

// GetSellersMessage asks the users service for a random sample of sellers.
// Count is kept verbatim so the response can echo it.
type GetSellersMessage struct {
	Type  string          `json:"type"`
	Count json.RawMessage `json:"count"`
}

// Validate implements Validator
func (m *GetSellersMessage) Validate() error {
	if m.Type != TypeGetSellers {
		return nil
	}
	_, err := ParseCount(m.Count)
	return err
}

// N returns the parsed count
func (m *GetSellersMessage) N() (int, error) {
	return ParseCount(m.Count)
}

// UpdateGigMessage carries a review on to the gig service
type UpdateGigMessage struct {
	Type      string          `json:"type"`
	GigReview json.RawMessage `json:"gigReview"`
}

// NewUpdateGigMessage wraps the review body as received
func NewUpdateGigMessage(review json.RawMessage) UpdateGigMessage {
	return UpdateGigMessage{Type: TypeUpdateGig, GigReview: review}
}

// ReceiveSellersMessage answers a GetSellersMessage
type ReceiveSellersMessage struct {
	Type    string          `json:"type"`
	Sellers any             `json:"sellers"`
	Count   json.RawMessage `json:"count"`
}

// NewReceiveSellersMessage builds the response. A nil sellers slice is sent
// as an empty array.
func NewReceiveSellersMessage(sellers any, count json.RawMessage) ReceiveSellersMessage {
	if sellers == nil {
		sellers = []any{}
	}
	return ReceiveSellersMessage{Type: TypeReceiveSellers, Sellers: sellers, Count: count}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

func parseTime(value Text, fallback time.Time) time.Time {
	s := string(value)
	if s == "" {
		return fallback
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	// epoch milliseconds
	var ms Number
	if err := json.Unmarshal([]byte(s), &ms); err == nil && ms > 0 {
		return time.UnixMilli(int64(ms)).UTC()
	}
	return fallback
}
