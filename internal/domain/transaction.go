package domain

import (
	"time"

	"kraal-backend/internal/pkg/ids"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Transaction statuses.
const (
	TransactionConfirmed = "confirmed"
	TransactionDelivered = "delivered"
	TransactionCompleted = "completed"
	TransactionCancelled = "cancelled"
)

// Transaction is the binding agreement created from an accepted offer,
// exactly one per offer. SubjectIDs is copied verbatim from the offer.
// Settlement back-links SaleID/RevenueID once bookkeeping rows exist.
type Transaction struct {
	ID                  string         `gorm:"column:id;primaryKey" json:"id"`
	OfferID             string         `gorm:"column:offer_id;not null;uniqueIndex" json:"offer_id"`
	ListingID           string         `gorm:"column:listing_id;not null;index" json:"listing_id"`
	SubjectIDs          StringList     `gorm:"column:subject_ids;type:json" json:"subject_ids"`
	BuyerID             string         `gorm:"column:buyer_id;not null;index" json:"buyer_id"`
	ProducerID          string         `gorm:"column:producer_id;not null;index" json:"producer_id"`
	FinalPrice          float64        `gorm:"column:final_price;type:decimal(18,2);not null" json:"final_price"`
	Status              string         `gorm:"column:status;type:varchar(20);default:'confirmed'" json:"status"`
	ProducerConfirmed   bool           `gorm:"column:producer_confirmed;default:false" json:"producer_confirmed"`
	ProducerConfirmedAt *time.Time     `gorm:"column:producer_confirmed_at" json:"producer_confirmed_at,omitempty"`
	BuyerConfirmed      bool           `gorm:"column:buyer_confirmed;default:false" json:"buyer_confirmed"`
	BuyerConfirmedAt    *time.Time     `gorm:"column:buyer_confirmed_at" json:"buyer_confirmed_at,omitempty"`
	DeliveryDetails     datatypes.JSON `gorm:"column:delivery_details" json:"delivery_details,omitempty"`
	SaleID              *string        `gorm:"column:sale_id" json:"sale_id,omitempty"`
	RevenueID           *string        `gorm:"column:revenue_id" json:"revenue_id,omitempty"`
	TotalWeightKg       *float64       `gorm:"column:total_weight_kg;type:decimal(18,2)" json:"total_weight_kg,omitempty"`
	SubjectCount        *int           `gorm:"column:subject_count" json:"subject_count,omitempty"`
	SettledAt           *time.Time     `gorm:"column:settled_at" json:"settled_at,omitempty"`
	CreatedAt           time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "marketplace_transactions"
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = ids.New("transaction")
	}
	return nil
}

// Settled reports whether the settlement pipeline already ran for t.
func (t *Transaction) Settled() bool {
	return t.SaleID != nil && *t.SaleID != ""
}
