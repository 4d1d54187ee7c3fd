package domain

import (
	"time"

	"kraal-backend/internal/pkg/ids"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Listing types.
const (
	ListingTypeIndividual = "individual"
	ListingTypeBatch      = "batch"
)

// Listing statuses.
const (
	ListingAvailable       = "available"
	ListingReserved        = "reserved"
	ListingPendingDelivery = "pending_delivery"
	ListingSold            = "sold"
	ListingRemoved         = "removed"
)

// Listing is a published sellable unit: one subject or a batch of subjects.
// SubjectIDs holds one id for individual listings, the member set for batch.
type Listing struct {
	ID              string         `gorm:"column:id;primaryKey" json:"id"`
	ListingType     string         `gorm:"column:listing_type;type:varchar(20);not null" json:"listing_type"`
	ProducerID      string         `gorm:"column:producer_id;not null;index" json:"producer_id"`
	FarmID          string         `gorm:"column:farm_id;not null" json:"farm_id"`
	BatchID         *string        `gorm:"column:batch_id" json:"batch_id,omitempty"`
	SubjectIDs      StringList     `gorm:"column:subject_ids;type:json" json:"subject_ids"`
	SubjectCount    int            `gorm:"column:subject_count;not null" json:"subject_count"`
	PricePerKg      float64        `gorm:"column:price_per_kg;type:decimal(18,2);not null" json:"price_per_kg"`
	WeightKg        float64        `gorm:"column:weight_kg;type:decimal(18,2)" json:"weight_kg"`
	CalculatedPrice float64        `gorm:"column:calculated_price;type:decimal(18,2);not null" json:"calculated_price"`
	Status          string         `gorm:"column:status;type:varchar(20);default:'available';index" json:"status"`
	SaleTerms       datatypes.JSON `gorm:"column:sale_terms" json:"sale_terms,omitempty"`
	Views           int            `gorm:"column:views;default:0" json:"views"`
	Inquiries       int            `gorm:"column:inquiries;default:0" json:"inquiries"`
	// Version is bumped on every reserve/release so concurrent accepts on the
	// same listing resolve to exactly one winner (compare-and-set).
	Version   int       `gorm:"column:version;default:0" json:"version"`
	ListedAt  time.Time `gorm:"column:listed_at" json:"listed_at"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Listing) TableName() string {
	return "marketplace_listings"
}

func (l *Listing) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = ids.New("listing")
	}
	if l.ListedAt.IsZero() {
		l.ListedAt = time.Now()
	}
	return nil
}

// Active reports whether the listing can still take offers or be settled.
func (l *Listing) Active() bool {
	return l.Status == ListingAvailable || l.Status == ListingReserved
}
