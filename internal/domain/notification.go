package domain

import (
	"time"

	"kraal-backend/internal/pkg/ids"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Notification types emitted by the marketplace core.
const (
	NotifyOfferReceived         = "offer_received"
	NotifyOfferAccepted         = "offer_accepted"
	NotifyOfferRejected         = "offer_rejected"
	NotifyOfferCountered        = "offer_countered"
	NotifyOfferWithdrawn        = "offer_withdrawn"
	NotifyListingSold           = "listing_sold"
	NotifySaleConfirmedBuyer    = "sale_confirmed_buyer"
	NotifySaleConfirmedProducer = "sale_confirmed_producer"
)

// Related entity types.
const (
	RelatedOffer       = "offer"
	RelatedTransaction = "transaction"
	RelatedDecision    = "pending_decision"
	RelatedSale        = "sale"
	RelatedListing     = "listing"
)

// Notification is a stored fire-and-forget message to a user. ActionURL, when
// set, is a same-origin relative path (validated at dispatch).
type Notification struct {
	ID          string         `gorm:"column:id;primaryKey" json:"id"`
	UserID      string         `gorm:"column:user_id;not null;index" json:"user_id"`
	Type        string         `gorm:"column:type;type:varchar(40);not null" json:"type"`
	Title       string         `gorm:"column:title;not null" json:"title"`
	Message     string         `gorm:"column:message" json:"message"`
	RelatedType *string        `gorm:"column:related_type;type:varchar(40)" json:"related_type,omitempty"`
	RelatedID   *string        `gorm:"column:related_id" json:"related_id,omitempty"`
	ActionURL   *string        `gorm:"column:action_url" json:"action_url,omitempty"`
	Data        datatypes.JSON `gorm:"column:data" json:"data,omitempty"`
	Read        bool           `gorm:"column:read;default:false" json:"read"`
	ReadAt      *time.Time     `gorm:"column:read_at" json:"read_at,omitempty"`
	CreatedAt   time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (Notification) TableName() string {
	return "marketplace_notifications"
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = ids.New("notif")
	}
	return nil
}
