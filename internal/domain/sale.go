package domain

import (
	"time"

	"kraal-backend/internal/pkg/ids"

	"gorm.io/gorm"
)

// Sale aggregates one settled transaction: subject count, total weight,
// total price. Produced exactly once per settlement.
type Sale struct {
	ID            string     `gorm:"column:id;primaryKey" json:"id"`
	TransactionID string     `gorm:"column:transaction_id;not null;uniqueIndex" json:"transaction_id"`
	FarmID        string     `gorm:"column:farm_id;not null;index" json:"farm_id"`
	ProducerID    string     `gorm:"column:producer_id;not null" json:"producer_id"`
	BuyerID       string     `gorm:"column:buyer_id;not null" json:"buyer_id"`
	TotalPrice    float64    `gorm:"column:total_price;type:decimal(18,2);not null" json:"total_price"`
	SubjectCount  int        `gorm:"column:subject_count;not null" json:"subject_count"`
	TotalWeightKg float64    `gorm:"column:total_weight_kg;type:decimal(18,2)" json:"total_weight_kg"`
	Status        string     `gorm:"column:status;type:varchar(20);default:'confirmed'" json:"status"`
	SaleDate      time.Time  `gorm:"column:sale_date" json:"sale_date"`
	PickupDate    *time.Time `gorm:"column:pickup_date" json:"pickup_date,omitempty"`
	CreatedAt     time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (Sale) TableName() string {
	return "sales"
}

func (s *Sale) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = ids.New("sale")
	}
	return nil
}

// SaleLine is one row per subject sold, carrying its settlement weight and
// unit price (the sale total divided evenly across subjects).
type SaleLine struct {
	ID            string    `gorm:"column:id;primaryKey" json:"id"`
	SaleID        string    `gorm:"column:sale_id;not null;index" json:"sale_id"`
	SubjectID     string    `gorm:"column:subject_id;not null" json:"subject_id"`
	SubjectSource string    `gorm:"column:subject_source;type:varchar(20);not null" json:"subject_source"`
	WeightKg      float64   `gorm:"column:weight_kg;type:decimal(18,2)" json:"weight_kg"`
	UnitPrice     float64   `gorm:"column:unit_price;type:decimal(18,2);not null" json:"unit_price"`
	CreatedAt     time.Time `gorm:"column:created_at" json:"created_at"`
}

func (SaleLine) TableName() string {
	return "sale_lines"
}

func (l *SaleLine) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = ids.New("line")
	}
	return nil
}

// Revenue is the accounting-facing mirror of a Sale, carrying buyer display
// name and subject codes for human-readable bookkeeping.
type Revenue struct {
	ID            string     `gorm:"column:id;primaryKey" json:"id"`
	FarmID        string     `gorm:"column:farm_id;not null;index" json:"farm_id"`
	Amount        float64    `gorm:"column:amount;type:decimal(18,2);not null" json:"amount"`
	Date          time.Time  `gorm:"column:date" json:"date"`
	Category      string     `gorm:"column:category;type:varchar(40)" json:"category"`
	Description   string     `gorm:"column:description" json:"description"`
	BuyerName     string     `gorm:"column:buyer_name" json:"buyer_name"`
	TotalWeightKg float64    `gorm:"column:total_weight_kg;type:decimal(18,2)" json:"total_weight_kg"`
	SubjectCount  int        `gorm:"column:subject_count" json:"subject_count"`
	SaleID        string     `gorm:"column:sale_id;index" json:"sale_id"`
	SubjectIDs    StringList `gorm:"column:subject_ids;type:json" json:"subject_ids"`
	CreatedAt     time.Time  `gorm:"column:created_at" json:"created_at"`
}

func (Revenue) TableName() string {
	return "finance_revenues"
}

func (r *Revenue) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = ids.New("revenue")
	}
	return nil
}
