package domain

import (
	"time"

	"kraal-backend/internal/pkg/ids"

	"gorm.io/gorm"
)

// Offer statuses. Terminal: accepted, rejected, withdrawn, expired.
// countered marks an offer superseded by a counter-proposal.
const (
	OfferPending   = "pending"
	OfferAccepted  = "accepted"
	OfferRejected  = "rejected"
	OfferCountered = "countered"
	OfferWithdrawn = "withdrawn"
	OfferExpired   = "expired"
)

// Offer is a buyer's priced proposal against a subset of a listing's subjects.
// A counter-proposal is a new Offer row with CounterOfferOf pointing back at
// the original.
type Offer struct {
	ID             string     `gorm:"column:id;primaryKey" json:"id"`
	ListingID      string     `gorm:"column:listing_id;not null;index" json:"listing_id"`
	BuyerID        string     `gorm:"column:buyer_id;not null;index" json:"buyer_id"`
	ProducerID     string     `gorm:"column:producer_id;not null;index" json:"producer_id"`
	SubjectIDs     StringList `gorm:"column:subject_ids;type:json" json:"subject_ids"`
	ProposedPrice  float64    `gorm:"column:proposed_price;type:decimal(18,2);not null" json:"proposed_price"`
	OriginalPrice  float64    `gorm:"column:original_price;type:decimal(18,2);not null" json:"original_price"`
	FinalPrice     *float64   `gorm:"column:final_price;type:decimal(18,2)" json:"final_price,omitempty"`
	Message        *string    `gorm:"column:message" json:"message,omitempty"`
	Status         string     `gorm:"column:status;type:varchar(20);default:'pending';index" json:"status"`
	CounterOfferOf *string    `gorm:"column:counter_offer_of" json:"counter_offer_of,omitempty"`
	PickupDate     *time.Time `gorm:"column:pickup_date" json:"pickup_date,omitempty"`
	ExpiresAt      time.Time  `gorm:"column:expires_at" json:"expires_at"`
	RespondedAt    *time.Time `gorm:"column:responded_at" json:"responded_at,omitempty"`
	CreatedAt      time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (Offer) TableName() string {
	return "marketplace_offers"
}

func (o *Offer) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = ids.New("offer")
	}
	return nil
}

// ExpiredBy reports whether the offer is past its expiry at t. Expiry is
// evaluated lazily: a pending row past its expiry must be treated as expired,
// not actionable, even before anything stamps the status.
func (o *Offer) ExpiredBy(t time.Time) bool {
	return !o.ExpiresAt.IsZero() && t.After(o.ExpiresAt)
}

// Actionable reports whether the offer can still transition from status want.
func (o *Offer) Actionable(want string, now time.Time) bool {
	return o.Status == want && !o.ExpiredBy(now)
}
