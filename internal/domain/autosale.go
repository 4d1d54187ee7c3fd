package domain

import (
	"time"

	"kraal-backend/internal/pkg/ids"

	"gorm.io/gorm"
)

// Pending decision statuses.
const (
	DecisionPending   = "pending"
	DecisionConfirmed = "confirmed"
	DecisionRejected  = "rejected"
	DecisionExpired   = "expired"
)

// Recommended actions on a pending decision.
const (
	RecommendAccept  = "accept"
	RecommendCounter = "counter"
)

// AutoSaleSettings is the producer's per-listing pricing policy used by the
// automated decision engine. One row per listing, updated via upsert.
type AutoSaleSettings struct {
	ID                     string    `gorm:"column:id;primaryKey" json:"id"`
	ListingID              string    `gorm:"column:listing_id;not null;uniqueIndex" json:"listing_id"`
	OwnerID                string    `gorm:"column:owner_id;not null;index" json:"owner_id"`
	TargetPricePerKg       float64   `gorm:"column:target_price_per_kg;type:decimal(18,2);not null" json:"target_price_per_kg"`
	MinPricePerKg          float64   `gorm:"column:min_price_per_kg;type:decimal(18,2);not null" json:"min_price_per_kg"`
	AutoAcceptThresholdPct float64   `gorm:"column:auto_accept_threshold_pct;default:0" json:"auto_accept_threshold_pct"`
	ConfirmThresholdPct    float64   `gorm:"column:confirm_threshold_pct;default:5" json:"confirm_threshold_pct"`
	AutoRejectThresholdPct float64   `gorm:"column:auto_reject_threshold_pct;default:5" json:"auto_reject_threshold_pct"`
	Enabled                bool      `gorm:"column:enabled;default:true" json:"enabled"`
	OffersAutoAccepted     int       `gorm:"column:offers_auto_accepted;default:0" json:"offers_auto_accepted"`
	OffersAutoRejected     int       `gorm:"column:offers_auto_rejected;default:0" json:"offers_auto_rejected"`
	OffersPendingDecision  int       `gorm:"column:offers_pending_decision;default:0" json:"offers_pending_decision"`
	LastOfferCheckedAt     *time.Time `gorm:"column:last_offer_checked_at" json:"last_offer_checked_at,omitempty"`
	CreatedAt              time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt              time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (AutoSaleSettings) TableName() string {
	return "marketplace_auto_sale_settings"
}

func (s *AutoSaleSettings) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = ids.New("auto_sale")
	}
	return nil
}

// PendingDecision is an escalation produced by the decision engine when an
// offer lands in the seller-confirmation band. Resolved exactly once by the
// settings owner; resolution also resolves the underlying offer.
type PendingDecision struct {
	ID                      string     `gorm:"column:id;primaryKey" json:"id"`
	SettingsID              string     `gorm:"column:settings_id;not null;index" json:"settings_id"`
	OfferID                 string     `gorm:"column:offer_id;not null;index" json:"offer_id"`
	OfferedPrice            float64    `gorm:"column:offered_price;type:decimal(18,2);not null" json:"offered_price"`
	OfferedPricePerKg       float64    `gorm:"column:offered_price_per_kg;type:decimal(18,2);not null" json:"offered_price_per_kg"`
	MinPricePerKg           float64    `gorm:"column:min_price_per_kg;type:decimal(18,2);not null" json:"min_price_per_kg"`
	DeviationPct            float64    `gorm:"column:deviation_pct;type:decimal(18,2)" json:"deviation_pct"`
	RecommendedAction       string     `gorm:"column:recommended_action;type:varchar(20)" json:"recommended_action"`
	RecommendedCounterPrice *float64   `gorm:"column:recommended_counter_price;type:decimal(18,2)" json:"recommended_counter_price,omitempty"`
	Advice                  string     `gorm:"column:advice" json:"advice"`
	Status                  string     `gorm:"column:status;type:varchar(20);default:'pending';index" json:"status"`
	UserResponse            *string    `gorm:"column:user_response" json:"user_response,omitempty"`
	RespondedAt             *time.Time `gorm:"column:responded_at" json:"responded_at,omitempty"`
	CreatedAt               time.Time  `gorm:"column:created_at" json:"created_at"`
	ExpiresAt               time.Time  `gorm:"column:expires_at" json:"expires_at"`
}

func (PendingDecision) TableName() string {
	return "marketplace_pending_decisions"
}

func (d *PendingDecision) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = ids.New("pending")
	}
	return nil
}

// ExpiredBy reports lazy expiry at t (24h window set at creation).
func (d *PendingDecision) ExpiredBy(t time.Time) bool {
	return !d.ExpiresAt.IsZero() && t.After(d.ExpiresAt)
}
