package domain

import (
	"time"

	"kraal-backend/internal/pkg/ids"

	"gorm.io/gorm"
)

// Animal statuses.
const (
	AnimalActive = "active"
	AnimalSold   = "sold"
)

// Movement reasons.
const (
	MovementRemoval    = "removal"
	RemovalReasonSale  = "sale"
)

// Farm is the producer's project record; TotalAnimals is the aggregate herd
// counter decremented by settlement (floored at zero).
type Farm struct {
	ID           string    `gorm:"column:id;primaryKey" json:"id"`
	OwnerID      string    `gorm:"column:owner_id;not null;index" json:"owner_id"`
	Name         string    `gorm:"column:name;not null" json:"name"`
	TotalAnimals int       `gorm:"column:total_animals;default:0" json:"total_animals"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Farm) TableName() string {
	return "farms"
}

func (f *Farm) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = ids.New("farm")
	}
	return nil
}

// Animal is an individually tracked subject. Settlement weight comes from the
// most recent weighing, falling back to InitialWeightKg.
type Animal struct {
	ID              string    `gorm:"column:id;primaryKey" json:"id"`
	FarmID          string    `gorm:"column:farm_id;not null;index" json:"farm_id"`
	Code            string    `gorm:"column:code" json:"code"`
	InitialWeightKg float64   `gorm:"column:initial_weight_kg;type:decimal(18,2)" json:"initial_weight_kg"`
	Status          string    `gorm:"column:status;type:varchar(20);default:'active'" json:"status"`
	Active          bool      `gorm:"column:active;default:true" json:"active"`
	CreatedAt       time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Animal) TableName() string {
	return "production_animals"
}

func (a *Animal) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = ids.New("animal")
	}
	return nil
}

// Weighing is one weight measurement for an individually tracked animal.
type Weighing struct {
	ID         string    `gorm:"column:id;primaryKey" json:"id"`
	AnimalID   string    `gorm:"column:animal_id;not null;index" json:"animal_id"`
	WeightKg   float64   `gorm:"column:weight_kg;type:decimal(18,2);not null" json:"weight_kg"`
	MeasuredAt time.Time `gorm:"column:measured_at;not null" json:"measured_at"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Weighing) TableName() string {
	return "production_weighings"
}

func (w *Weighing) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = ids.New("weighing")
	}
	return nil
}

// BatchSubject is a subject tracked inside a batch; its membership row is
// deleted on sale, after a removal movement is recorded.
type BatchSubject struct {
	ID              string    `gorm:"column:id;primaryKey" json:"id"`
	BatchID         string    `gorm:"column:batch_id;not null;index" json:"batch_id"`
	Name            string    `gorm:"column:name" json:"name"`
	CurrentWeightKg float64   `gorm:"column:current_weight_kg;type:decimal(18,2)" json:"current_weight_kg"`
	CreatedAt       time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (BatchSubject) TableName() string {
	return "batch_subjects"
}

func (b *BatchSubject) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = ids.New("subject")
	}
	return nil
}

// BatchMovement records a batch subject leaving its batch (here: sold).
type BatchMovement struct {
	ID           string    `gorm:"column:id;primaryKey" json:"id"`
	SubjectID    string    `gorm:"column:subject_id;not null;index" json:"subject_id"`
	MovementType string    `gorm:"column:movement_type;type:varchar(20);not null" json:"movement_type"`
	Reason       string    `gorm:"column:reason;type:varchar(20)" json:"reason"`
	SalePrice    *float64  `gorm:"column:sale_price;type:decimal(18,2)" json:"sale_price,omitempty"`
	SaleWeightKg *float64  `gorm:"column:sale_weight_kg;type:decimal(18,2)" json:"sale_weight_kg,omitempty"`
	BuyerName    *string   `gorm:"column:buyer_name" json:"buyer_name,omitempty"`
	MovementDate time.Time `gorm:"column:movement_date" json:"movement_date"`
	Notes        string    `gorm:"column:notes" json:"notes"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"created_at"`
}

func (BatchMovement) TableName() string {
	return "batch_movements"
}

func (m *BatchMovement) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = ids.New("movement")
	}
	return nil
}
