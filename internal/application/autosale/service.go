package autosale

import (
	"context"
	"fmt"
	"time"

	"kraal-backend/internal/application/notifications"
	"kraal-backend/internal/domain"
	"kraal-backend/internal/pkg/apperr"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	// Fallback per-head weight when a listing carries none.
	defaultWeightKg = 80.0
	// Below this deviation the engine recommends taking the offer as-is.
	acceptAdviceCutoffPct = 3.0
	// Escalations stay actionable for this long.
	decisionTTL = 24 * time.Hour
)

// Engine decision actions.
const (
	ActionAutoAccepted = "auto_accepted"
	ActionAutoRejected = "auto_rejected"
	ActionEscalated    = "pending_decision"
	ActionManual       = "manual"
)

// OfferResolver is the slice of the offer lifecycle the engine drives.
type OfferResolver interface {
	Accept(ctx context.Context, offerID, actorID string) (*domain.Transaction, error)
	Reject(ctx context.Context, offerID, actorID, reason string) error
	Rewrite(ctx context.Context, offerID string, newPrice float64) error
}

// Service owns auto-sale policies and the offer decision engine.
type Service struct {
	DB       *gorm.DB
	Notifier notifications.Notifier
	Offers   OfferResolver
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

type UpsertInput struct {
	ListingID              string
	ActorID                string
	TargetPricePerKg       float64
	MinPricePerKg          float64
	AutoAcceptThresholdPct *float64
	ConfirmThresholdPct    *float64
	AutoRejectThresholdPct *float64
	Enabled                *bool
}

// Decision is the engine's verdict on one offer.
type Decision struct {
	Action            string   `json:"action"`
	Message           string   `json:"message"`
	DeviationPct      float64  `json:"deviation_pct,omitempty"`
	PendingDecisionID string   `json:"pending_decision_id,omitempty"`
	CounterPrice      *float64 `json:"counter_price,omitempty"`
}

// UpsertSettings creates or replaces the policy for a listing.
func (s *Service) UpsertSettings(ctx context.Context, in UpsertInput) (*domain.AutoSaleSettings, error) {
	if in.TargetPricePerKg <= 0 || in.MinPricePerKg <= 0 {
		return nil, apperr.Validation("target and minimum price must be positive")
	}
	if in.MinPricePerKg > in.TargetPricePerKg {
		return nil, apperr.Validation("minimum price cannot exceed target price")
	}

	var listing domain.Listing
	if err := s.DB.WithContext(ctx).Where("id = ?", in.ListingID).First(&listing).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("Listing not found")
		}
		return nil, apperr.Internalf("load listing: %w", err)
	}
	if listing.ProducerID != in.ActorID {
		return nil, apperr.Forbidden("You do not own this listing")
	}

	var settings domain.AutoSaleSettings
	err := s.DB.WithContext(ctx).Where("listing_id = ?", in.ListingID).First(&settings).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		settings = domain.AutoSaleSettings{
			ListingID:              in.ListingID,
			OwnerID:                listing.ProducerID,
			TargetPricePerKg:       in.TargetPricePerKg,
			MinPricePerKg:          in.MinPricePerKg,
			AutoAcceptThresholdPct: 0,
			ConfirmThresholdPct:    5,
			AutoRejectThresholdPct: 5,
			Enabled:                true,
		}
		applyOverrides(&settings, in)
		if err := s.DB.WithContext(ctx).Create(&settings).Error; err != nil {
			return nil, apperr.Internalf("create auto-sale settings: %w", err)
		}
		return &settings, nil
	case err != nil:
		return nil, apperr.Internalf("load auto-sale settings: %w", err)
	}

	settings.TargetPricePerKg = in.TargetPricePerKg
	settings.MinPricePerKg = in.MinPricePerKg
	applyOverrides(&settings, in)
	err = s.DB.WithContext(ctx).Model(&domain.AutoSaleSettings{}).Where("id = ?", settings.ID).
		Updates(map[string]interface{}{
			"target_price_per_kg":       settings.TargetPricePerKg,
			"min_price_per_kg":          settings.MinPricePerKg,
			"auto_accept_threshold_pct": settings.AutoAcceptThresholdPct,
			"confirm_threshold_pct":     settings.ConfirmThresholdPct,
			"auto_reject_threshold_pct": settings.AutoRejectThresholdPct,
			"enabled":                   settings.Enabled,
		}).Error
	if err != nil {
		return nil, apperr.Internalf("update auto-sale settings: %w", err)
	}
	return &settings, nil
}

func applyOverrides(settings *domain.AutoSaleSettings, in UpsertInput) {
	if in.AutoAcceptThresholdPct != nil {
		settings.AutoAcceptThresholdPct = *in.AutoAcceptThresholdPct
	}
	if in.ConfirmThresholdPct != nil {
		settings.ConfirmThresholdPct = *in.ConfirmThresholdPct
	}
	if in.AutoRejectThresholdPct != nil {
		settings.AutoRejectThresholdPct = *in.AutoRejectThresholdPct
	}
	if in.Enabled != nil {
		settings.Enabled = *in.Enabled
	}
}

// GetSettings returns the policy for a listing, owner only.
func (s *Service) GetSettings(ctx context.Context, listingID, actorID string) (*domain.AutoSaleSettings, error) {
	var settings domain.AutoSaleSettings
	if err := s.DB.WithContext(ctx).Where("listing_id = ?", listingID).First(&settings).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("No auto-sale settings for this listing")
		}
		return nil, apperr.Internalf("load auto-sale settings: %w", err)
	}
	if settings.OwnerID != actorID {
		return nil, apperr.Forbidden("You do not own these settings")
	}
	return &settings, nil
}

// ProcessOffer evaluates a fresh offer against the listing's policy.
//
// The offered price is normalized per kilogram against the listing's
// reference weight (per-head weight, falling back to 80kg, times the number
// of offered subjects). At or above target it auto-accepts; below minimum
// the deviation decides between auto-reject and escalation; at or above
// minimum it auto-accepts; anything the bands do not cover escalates.
func (s *Service) ProcessOffer(ctx context.Context, offerID string) (*Decision, error) {
	var offer domain.Offer
	if err := s.DB.WithContext(ctx).Where("id = ?", offerID).First(&offer).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("Offer not found")
		}
		return nil, apperr.Internalf("load offer: %w", err)
	}
	if offer.Status != domain.OfferPending {
		return &Decision{Action: ActionManual, Message: "Offer is no longer pending"}, nil
	}

	var settings domain.AutoSaleSettings
	err := s.DB.WithContext(ctx).Where("listing_id = ?", offer.ListingID).First(&settings).Error
	if err == gorm.ErrRecordNotFound {
		return &Decision{Action: ActionManual, Message: "No auto-sale policy for this listing"}, nil
	}
	if err != nil {
		return nil, apperr.Internalf("load auto-sale settings: %w", err)
	}
	if !settings.Enabled {
		return &Decision{Action: ActionManual, Message: "Auto-sale is disabled for this listing"}, nil
	}

	var listing domain.Listing
	if err := s.DB.WithContext(ctx).Where("id = ?", offer.ListingID).First(&listing).Error; err != nil {
		return nil, apperr.Internalf("load listing: %w", err)
	}

	weightPerUnit := listing.WeightKg
	if weightPerUnit <= 0 {
		weightPerUnit = defaultWeightKg
	}
	units := len(offer.SubjectIDs)
	if units == 0 {
		units = listing.SubjectCount
	}
	totalWeight := weightPerUnit * float64(units)
	if totalWeight <= 0 {
		return &Decision{Action: ActionManual, Message: "Listing has no usable reference weight"}, nil
	}
	offeredPerKg := offer.ProposedPrice / totalWeight

	switch {
	case offeredPerKg >= settings.TargetPricePerKg:
		return s.autoAccept(ctx, &offer, &settings, offeredPerKg, "Offer meets the target price")

	case offeredPerKg < settings.MinPricePerKg:
		deviation := (settings.MinPricePerKg - offeredPerKg) / settings.MinPricePerKg * 100
		if deviation > settings.AutoRejectThresholdPct {
			return s.autoReject(ctx, &offer, &settings, deviation)
		}
		// Deviations inside the confirmation band, and the gap between the
		// confirm and reject thresholds, both go to the owner.
		return s.escalate(ctx, &offer, &settings, offeredPerKg, deviation, totalWeight)

	case offeredPerKg >= settings.MinPricePerKg:
		return s.autoAccept(ctx, &offer, &settings, offeredPerKg, "Offer meets the minimum price")
	}

	return s.escalate(ctx, &offer, &settings, offeredPerKg, 0, totalWeight)
}

func (s *Service) autoAccept(ctx context.Context, offer *domain.Offer, settings *domain.AutoSaleSettings, perKg float64, reason string) (*Decision, error) {
	if _, err := s.Offers.Accept(ctx, offer.ID, settings.OwnerID); err != nil {
		return nil, err
	}
	s.bumpCounter(ctx, settings.ID, "offers_auto_accepted")
	log.Info().Str("offer_id", offer.ID).Float64("price_per_kg", perKg).Msg("offer auto-accepted")
	return &Decision{Action: ActionAutoAccepted, Message: reason}, nil
}

func (s *Service) autoReject(ctx context.Context, offer *domain.Offer, settings *domain.AutoSaleSettings, deviation float64) (*Decision, error) {
	reason := fmt.Sprintf("Offer is %.1f%% below the minimum price", deviation)
	if err := s.Offers.Reject(ctx, offer.ID, settings.OwnerID, reason); err != nil {
		return nil, err
	}
	s.bumpCounter(ctx, settings.ID, "offers_auto_rejected")
	log.Info().Str("offer_id", offer.ID).Float64("deviation_pct", deviation).Msg("offer auto-rejected")
	return &Decision{Action: ActionAutoRejected, Message: reason, DeviationPct: deviation}, nil
}

func (s *Service) escalate(ctx context.Context, offer *domain.Offer, settings *domain.AutoSaleSettings, perKg, deviation, totalWeight float64) (*Decision, error) {
	decision := domain.PendingDecision{
		SettingsID:        settings.ID,
		OfferID:           offer.ID,
		OfferedPrice:      offer.ProposedPrice,
		OfferedPricePerKg: perKg,
		MinPricePerKg:     settings.MinPricePerKg,
		DeviationPct:      deviation,
		Status:            domain.DecisionPending,
		ExpiresAt:         s.now().Add(decisionTTL),
	}
	if deviation <= acceptAdviceCutoffPct {
		decision.RecommendedAction = domain.RecommendAccept
		decision.Advice = fmt.Sprintf("Offer is only %.1f%% below minimum; accepting is reasonable", deviation)
	} else {
		counter := settings.MinPricePerKg * totalWeight
		decision.RecommendedAction = domain.RecommendCounter
		decision.RecommendedCounterPrice = &counter
		decision.Advice = fmt.Sprintf("Offer is %.1f%% below minimum; counter at %.2f", deviation, counter)
	}

	if err := s.DB.WithContext(ctx).Create(&decision).Error; err != nil {
		return nil, apperr.Internalf("create pending decision: %w", err)
	}
	s.bumpCounter(ctx, settings.ID, "offers_pending_decision")

	notifications.BestEffort(ctx, s.Notifier, notifications.Input{
		UserID:      settings.OwnerID,
		Type:        domain.NotifyOfferReceived,
		Title:       "Offer needs your decision",
		Message:     decision.Advice,
		RelatedType: domain.RelatedDecision,
		RelatedID:   decision.ID,
		ActionURL:   "/marketplace/decisions/" + decision.ID,
		Data: map[string]interface{}{
			"offer_id":      offer.ID,
			"deviation_pct": deviation,
		},
	})
	return &Decision{
		Action:            ActionEscalated,
		Message:           decision.Advice,
		DeviationPct:      deviation,
		PendingDecisionID: decision.ID,
		CounterPrice:      decision.RecommendedCounterPrice,
	}, nil
}

func (s *Service) bumpCounter(ctx context.Context, settingsID, column string) {
	err := s.DB.WithContext(ctx).Model(&domain.AutoSaleSettings{}).
		Where("id = ?", settingsID).
		Updates(map[string]interface{}{
			column:                  gorm.Expr(column + " + 1"),
			"last_offer_checked_at": s.now(),
		}).Error
	if err != nil {
		log.Warn().Err(err).Str("settings_id", settingsID).Str("counter", column).Msg("counter bump failed")
	}
}

// ListPendingDecisions returns the owner's open escalations, stamping lazy
// expiry on the way out.
func (s *Service) ListPendingDecisions(ctx context.Context, ownerID string) ([]domain.PendingDecision, error) {
	sub := s.DB.Model(&domain.AutoSaleSettings{}).Select("id").Where("owner_id = ?", ownerID)
	var out []domain.PendingDecision
	err := s.DB.WithContext(ctx).
		Where("settings_id IN (?) AND status = ?", sub, domain.DecisionPending).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, apperr.Internalf("list pending decisions: %w", err)
	}

	now := s.now()
	live := out[:0]
	for i := range out {
		if out[i].ExpiredBy(now) {
			s.expireDecision(ctx, &out[i])
			continue
		}
		live = append(live, out[i])
	}
	return live, nil
}

func (s *Service) expireDecision(ctx context.Context, d *domain.PendingDecision) {
	err := s.DB.WithContext(ctx).Model(&domain.PendingDecision{}).
		Where("id = ? AND status = ?", d.ID, domain.DecisionPending).
		UpdateColumn("status", domain.DecisionExpired).Error
	if err != nil {
		log.Warn().Err(err).Str("decision_id", d.ID).Msg("decision expiry stamp failed")
		return
	}
	d.Status = domain.DecisionExpired
	s.decrementPendingCounter(ctx, d.SettingsID)
}

// decrementPendingCounter lowers the open-escalation gauge, floored at zero.
func (s *Service) decrementPendingCounter(ctx context.Context, settingsID string) {
	var settings domain.AutoSaleSettings
	if err := s.DB.WithContext(ctx).Where("id = ?", settingsID).First(&settings).Error; err != nil {
		return
	}
	next := settings.OffersPendingDecision - 1
	if next < 0 {
		next = 0
	}
	s.DB.WithContext(ctx).Model(&domain.AutoSaleSettings{}).
		Where("id = ?", settingsID).
		UpdateColumn("offers_pending_decision", next)
}

// RespondToDecision resolves an escalation exactly once. accept and reject
// drive the offer lifecycle under the owner's identity; counter requires a
// price and rewrites the offer in place as a counter-proposal.
func (s *Service) RespondToDecision(ctx context.Context, decisionID, actorID, response string, counterPrice *float64) error {
	var decision domain.PendingDecision
	if err := s.DB.WithContext(ctx).Where("id = ?", decisionID).First(&decision).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return apperr.NotFound("Pending decision not found")
		}
		return apperr.Internalf("load pending decision: %w", err)
	}

	var settings domain.AutoSaleSettings
	if err := s.DB.WithContext(ctx).Where("id = ?", decision.SettingsID).First(&settings).Error; err != nil {
		return apperr.Internalf("load auto-sale settings: %w", err)
	}
	if settings.OwnerID != actorID {
		return apperr.Forbidden("You do not own this decision")
	}
	if decision.Status != domain.DecisionPending {
		return apperr.InvalidState("Decision is already resolved")
	}
	if decision.ExpiredBy(s.now()) {
		s.expireDecision(ctx, &decision)
		return apperr.InvalidState("Decision has expired")
	}

	switch response {
	case "accept":
		if _, err := s.Offers.Accept(ctx, decision.OfferID, settings.OwnerID); err != nil &&
			!s.offerAlready(ctx, decision.OfferID, domain.OfferAccepted, err) {
			return err
		}
	case "reject":
		if err := s.Offers.Reject(ctx, decision.OfferID, settings.OwnerID, "Declined by the producer"); err != nil &&
			!s.offerAlready(ctx, decision.OfferID, domain.OfferRejected, err) {
			return err
		}
	case "counter":
		if counterPrice == nil || *counterPrice <= 0 {
			return apperr.Validation("counter_price is required for a counter response")
		}
		if err := s.Offers.Rewrite(ctx, decision.OfferID, *counterPrice); err != nil &&
			!s.offerAlready(ctx, decision.OfferID, domain.OfferCountered, err) {
			return err
		}
	default:
		return apperr.Validation("response must be accept, reject or counter")
	}

	now := s.now()
	err := s.DB.WithContext(ctx).Model(&domain.PendingDecision{}).
		Where("id = ?", decision.ID).
		Updates(map[string]interface{}{
			"status":        domain.DecisionConfirmed,
			"user_response": response,
			"responded_at":  now,
		}).Error
	if err != nil {
		return apperr.Internalf("resolve pending decision: %w", err)
	}
	s.decrementPendingCounter(ctx, decision.SettingsID)
	return nil
}

// offerAlready reports whether a refused transition is a retry of one that
// went through before the decision row was marked, so resolution can still
// complete instead of stranding the decision until expiry.
func (s *Service) offerAlready(ctx context.Context, offerID, want string, cause error) bool {
	if apperr.KindOf(cause) != apperr.KindInvalidState {
		return false
	}
	var offer domain.Offer
	if err := s.DB.WithContext(ctx).Where("id = ?", offerID).First(&offer).Error; err != nil {
		return false
	}
	return offer.Status == want
}
