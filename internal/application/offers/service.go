package offers

import (
	"context"
	"fmt"
	"time"

	"kraal-backend/internal/application/notifications"
	"kraal-backend/internal/domain"
	"kraal-backend/internal/pkg/apperr"

	"gorm.io/gorm"
)

// Service runs the offer lifecycle: create, accept, reject, counter,
// withdraw, lazy expiry.
type Service struct {
	DB         *gorm.DB
	Notifier   notifications.Notifier
	ExpiryDays int
	Now        func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) expiryDays() int {
	if s.ExpiryDays > 0 {
		return s.ExpiryDays
	}
	return 7
}

type CreateInput struct {
	ListingID     string
	BuyerID       string
	SubjectIDs    []string
	ProposedPrice float64
	Message       string
	PickupDate    *time.Time
}

type CounterInput struct {
	NewPrice float64
	Message  string
}

type Filter struct {
	ListingID  string
	BuyerID    string
	ProducerID string
	Status     string
}

// Create places a buyer's offer against an available listing. The offered
// subjects must be a subset of the listing's members; a buyer who already
// holds an accepted offer on the listing may not place another.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Offer, error) {
	if in.ProposedPrice <= 0 {
		return nil, apperr.Validation("proposed_price must be positive")
	}
	if len(in.SubjectIDs) == 0 {
		return nil, apperr.Validation("at least one subject is required")
	}

	var listing domain.Listing
	if err := s.DB.WithContext(ctx).Where("id = ?", in.ListingID).First(&listing).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("Listing not found")
		}
		return nil, apperr.Internalf("load listing: %w", err)
	}
	if listing.ProducerID == in.BuyerID {
		return nil, apperr.Forbidden("You cannot make an offer on your own listing")
	}
	if listing.Status != domain.ListingAvailable {
		return nil, apperr.InvalidState("Listing is not available for offers")
	}
	if !listing.SubjectIDs.ContainsAll(in.SubjectIDs) {
		return nil, apperr.Validation("Offered subjects must belong to the listing")
	}

	var accepted int64
	err := s.DB.WithContext(ctx).Model(&domain.Offer{}).
		Where("listing_id = ? AND buyer_id = ? AND status = ?", in.ListingID, in.BuyerID, domain.OfferAccepted).
		Count(&accepted).Error
	if err != nil {
		return nil, apperr.Internalf("check accepted offers: %w", err)
	}
	if accepted > 0 {
		return nil, apperr.InvalidState("You already have an accepted offer on this listing")
	}

	offer := domain.Offer{
		ListingID:     in.ListingID,
		BuyerID:       in.BuyerID,
		ProducerID:    listing.ProducerID,
		SubjectIDs:    domain.StringList(in.SubjectIDs),
		ProposedPrice: in.ProposedPrice,
		OriginalPrice: in.ProposedPrice,
		Status:        domain.OfferPending,
		PickupDate:    in.PickupDate,
		ExpiresAt:     s.now().AddDate(0, 0, s.expiryDays()),
	}
	if in.Message != "" {
		offer.Message = &in.Message
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&offer).Error; err != nil {
			return apperr.Internalf("create offer: %w", err)
		}
		if err := tx.Model(&domain.Listing{}).Where("id = ?", in.ListingID).
			UpdateColumn("inquiries", gorm.Expr("inquiries + 1")).Error; err != nil {
			return apperr.Internalf("bump inquiries: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	notifications.BestEffort(ctx, s.Notifier, notifications.Input{
		UserID:      listing.ProducerID,
		Type:        domain.NotifyOfferReceived,
		Title:       "New offer received",
		Message:     fmt.Sprintf("You received an offer of %.2f for %d subject(s)", in.ProposedPrice, len(in.SubjectIDs)),
		RelatedType: domain.RelatedOffer,
		RelatedID:   offer.ID,
		ActionURL:   "/marketplace/offers/" + offer.ID,
		Data: map[string]interface{}{
			"listing_id":     in.ListingID,
			"proposed_price": in.ProposedPrice,
			"subject_count":  len(in.SubjectIDs),
		},
	})
	return &offer, nil
}

// Get returns an offer to one of its two parties.
func (s *Service) Get(ctx context.Context, id, actorID string) (*domain.Offer, error) {
	offer, err := s.load(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	if offer.BuyerID != actorID && offer.ProducerID != actorID {
		return nil, apperr.Forbidden("You are not a party to this offer")
	}
	s.stampIfExpired(ctx, offer)
	return offer, nil
}

// List returns offers matching the filter, stamping lazy expiry on the way.
func (s *Service) List(ctx context.Context, f Filter) ([]domain.Offer, error) {
	q := s.DB.WithContext(ctx).Model(&domain.Offer{})
	if f.ListingID != "" {
		q = q.Where("listing_id = ?", f.ListingID)
	}
	if f.BuyerID != "" {
		q = q.Where("buyer_id = ?", f.BuyerID)
	}
	if f.ProducerID != "" {
		q = q.Where("producer_id = ?", f.ProducerID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var out []domain.Offer
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, apperr.Internalf("list offers: %w", err)
	}
	now := s.now()
	for i := range out {
		open := out[i].Status == domain.OfferPending || out[i].Status == domain.OfferCountered
		if open && out[i].ExpiredBy(now) {
			s.stampIfExpired(ctx, &out[i])
		}
	}
	return out, nil
}

// Accept closes a pending offer into a transaction. The producer accepts a
// buyer's offer; the buyer accepts a counter-offer made to them. The listing
// moves to reserved under an optimistic version check, and when the offer
// covers the whole listing every competing pending offer is auto-rejected.
func (s *Service) Accept(ctx context.Context, id, actorID string) (*domain.Transaction, error) {
	return s.accept(ctx, id, actorID, false)
}

func (s *Service) accept(ctx context.Context, id, actorID string, buyerCounter bool) (*domain.Transaction, error) {
	var txn *domain.Transaction
	var losers []domain.Offer
	var expired *domain.Offer

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		offer, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if buyerCounter {
			if offer.BuyerID != actorID {
				return apperr.Forbidden("Only the buyer can respond to this counter-offer")
			}
			if offer.Status != domain.OfferCountered {
				return apperr.InvalidState("Offer is not awaiting the buyer's response")
			}
		} else if err := s.authorizeResponse(offer, actorID); err != nil {
			return err
		}
		if offer.ExpiredBy(s.now()) {
			expired = offer
			return apperr.InvalidState("Offer has expired")
		}

		var listing domain.Listing
		if err := tx.Where("id = ?", offer.ListingID).First(&listing).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperr.NotFound("Listing not found")
			}
			return apperr.Internalf("load listing: %w", err)
		}
		if listing.Status != domain.ListingAvailable {
			return apperr.InvalidState("Listing is no longer available")
		}

		res := tx.Model(&domain.Listing{}).
			Where("id = ? AND version = ?", listing.ID, listing.Version).
			Updates(map[string]interface{}{
				"status":  domain.ListingReserved,
				"version": listing.Version + 1,
			})
		if res.Error != nil {
			return apperr.Internalf("reserve listing: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.InvalidState("Listing changed concurrently, retry")
		}

		now := s.now()
		final := offer.ProposedPrice
		updates := map[string]interface{}{
			"status":       domain.OfferAccepted,
			"final_price":  final,
			"responded_at": now,
		}
		if err := tx.Model(&domain.Offer{}).Where("id = ?", offer.ID).Updates(updates).Error; err != nil {
			return apperr.Internalf("accept offer: %w", err)
		}

		txn = &domain.Transaction{
			OfferID:    offer.ID,
			ListingID:  offer.ListingID,
			SubjectIDs: offer.SubjectIDs,
			BuyerID:    offer.BuyerID,
			ProducerID: offer.ProducerID,
			FinalPrice: final,
			Status:     domain.TransactionConfirmed,
		}
		if err := tx.Create(txn).Error; err != nil {
			return apperr.Internalf("create transaction: %w", err)
		}

		// Competing offers only die when the whole listing is taken; a
		// partial sale leaves offers on the remaining subjects alive.
		// Countered competitors count too: their buyers still hold an open
		// proposal on a listing that just sold.
		if len(offer.SubjectIDs) == listing.SubjectCount {
			open := []string{domain.OfferPending, domain.OfferCountered}
			err := tx.Where("listing_id = ? AND id <> ? AND status IN ?",
				listing.ID, offer.ID, open).Find(&losers).Error
			if err != nil {
				return apperr.Internalf("load competing offers: %w", err)
			}
			if len(losers) > 0 {
				err := tx.Model(&domain.Offer{}).
					Where("listing_id = ? AND id <> ? AND status IN ?", listing.ID, offer.ID, open).
					Updates(map[string]interface{}{"status": domain.OfferRejected, "responded_at": now}).Error
				if err != nil {
					return apperr.Internalf("reject competing offers: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		// Stamped outside the transaction so the rollback cannot undo it.
		if expired != nil {
			s.stampIfExpired(ctx, expired)
		}
		return nil, err
	}

	var offer domain.Offer
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&offer).Error; err == nil {
		recipient := offer.BuyerID
		title := "Offer accepted"
		if buyerCounter {
			recipient = offer.ProducerID
			title = "Counter-offer accepted"
		}
		notifications.BestEffort(ctx, s.Notifier, notifications.Input{
			UserID:      recipient,
			Type:        domain.NotifyOfferAccepted,
			Title:       title,
			Message:     fmt.Sprintf("The offer of %.2f was accepted", offer.ProposedPrice),
			RelatedType: domain.RelatedTransaction,
			RelatedID:   txn.ID,
			ActionURL:   "/marketplace/transactions/" + txn.ID,
			Data: map[string]interface{}{
				"final_price":   offer.ProposedPrice,
				"subject_count": len(offer.SubjectIDs),
			},
		})
	}
	for _, l := range losers {
		notifications.BestEffort(ctx, s.Notifier, notifications.Input{
			UserID:      l.BuyerID,
			Type:        domain.NotifyOfferRejected,
			Title:       "Offer not retained",
			Message:     "The listing was sold to another buyer",
			RelatedType: domain.RelatedOffer,
			RelatedID:   l.ID,
		})
	}
	return txn, nil
}

// Reject declines a pending offer.
func (s *Service) Reject(ctx context.Context, id, actorID, reason string) error {
	var buyerID string
	var expired *domain.Offer
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		offer, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.authorizeResponse(offer, actorID); err != nil {
			return err
		}
		if offer.ExpiredBy(s.now()) {
			expired = offer
			return apperr.InvalidState("Offer has expired")
		}
		buyerID = offer.BuyerID
		return tx.Model(&domain.Offer{}).Where("id = ?", offer.ID).
			Updates(map[string]interface{}{"status": domain.OfferRejected, "responded_at": s.now()}).Error
	})
	if err != nil {
		if expired != nil {
			s.stampIfExpired(ctx, expired)
		}
		return err
	}

	msg := "Your offer was declined"
	if reason != "" {
		msg = msg + ": " + reason
	}
	notifications.BestEffort(ctx, s.Notifier, notifications.Input{
		UserID:      buyerID,
		Type:        domain.NotifyOfferRejected,
		Title:       "Offer declined",
		Message:     msg,
		RelatedType: domain.RelatedOffer,
		RelatedID:   id,
	})
	return nil
}

// Counter answers a pending offer with a new price. The original moves to
// countered and a fresh pending offer linked by counter_offer_of is created
// for the buyer to act on.
func (s *Service) Counter(ctx context.Context, id, producerID string, in CounterInput) (*domain.Offer, error) {
	if in.NewPrice <= 0 {
		return nil, apperr.Validation("new_price must be positive")
	}

	var child domain.Offer
	var buyerID string
	var expired *domain.Offer
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		offer, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if offer.ProducerID != producerID {
			return apperr.Forbidden("Only the producer can counter this offer")
		}
		if offer.CounterOfferOf != nil {
			return apperr.InvalidState("Counter-offers cannot be countered again")
		}
		if !offer.Actionable(domain.OfferPending, s.now()) {
			if offer.ExpiredBy(s.now()) {
				expired = offer
				return apperr.InvalidState("Offer has expired")
			}
			return apperr.InvalidState("Only pending offers can be countered")
		}

		now := s.now()
		err = tx.Model(&domain.Offer{}).Where("id = ?", offer.ID).
			Updates(map[string]interface{}{"status": domain.OfferCountered, "responded_at": now}).Error
		if err != nil {
			return apperr.Internalf("mark offer countered: %w", err)
		}

		parent := offer.ID
		child = domain.Offer{
			ListingID:      offer.ListingID,
			BuyerID:        offer.BuyerID,
			ProducerID:     offer.ProducerID,
			SubjectIDs:     offer.SubjectIDs,
			ProposedPrice:  in.NewPrice,
			OriginalPrice:  offer.OriginalPrice,
			Status:         domain.OfferPending,
			CounterOfferOf: &parent,
			PickupDate:     offer.PickupDate,
			ExpiresAt:      now.AddDate(0, 0, s.expiryDays()),
		}
		if in.Message != "" {
			child.Message = &in.Message
		}
		if err := tx.Create(&child).Error; err != nil {
			return apperr.Internalf("create counter-offer: %w", err)
		}
		buyerID = offer.BuyerID
		return nil
	})
	if err != nil {
		if expired != nil {
			s.stampIfExpired(ctx, expired)
		}
		return nil, err
	}

	notifications.BestEffort(ctx, s.Notifier, notifications.Input{
		UserID:      buyerID,
		Type:        domain.NotifyOfferCountered,
		Title:       "Counter-offer received",
		Message:     fmt.Sprintf("The producer counter-offered %.2f", in.NewPrice),
		RelatedType: domain.RelatedOffer,
		RelatedID:   child.ID,
		ActionURL:   "/marketplace/offers/" + child.ID,
		Data:        map[string]interface{}{"new_price": in.NewPrice},
	})
	return &child, nil
}

// Rewrite counters an offer in place with a new price. Used when a pending
// auto-sale decision is resolved with a counter: the offer row itself moves
// to countered carrying the producer's price for the buyer to see.
func (s *Service) Rewrite(ctx context.Context, id string, newPrice float64) error {
	if newPrice <= 0 {
		return apperr.Validation("counter price must be positive")
	}
	var buyerID string
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		offer, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if !offer.Actionable(domain.OfferPending, s.now()) {
			return apperr.InvalidState("Only pending offers can be countered")
		}
		buyerID = offer.BuyerID
		return tx.Model(&domain.Offer{}).Where("id = ?", offer.ID).
			Updates(map[string]interface{}{
				"proposed_price": newPrice,
				"status":         domain.OfferCountered,
				"responded_at":   s.now(),
			}).Error
	})
	if err != nil {
		return err
	}

	notifications.BestEffort(ctx, s.Notifier, notifications.Input{
		UserID:      buyerID,
		Type:        domain.NotifyOfferCountered,
		Title:       "Counter-offer received",
		Message:     fmt.Sprintf("The producer counter-offered %.2f", newPrice),
		RelatedType: domain.RelatedOffer,
		RelatedID:   id,
		ActionURL:   "/marketplace/offers/" + id,
		Data:        map[string]interface{}{"new_price": newPrice},
	})
	return nil
}

// AcceptCounter lets the buyer take a price countered in place on their
// original offer.
func (s *Service) AcceptCounter(ctx context.Context, id, buyerID string) (*domain.Transaction, error) {
	return s.accept(ctx, id, buyerID, true)
}

// RejectCounter lets the buyer decline a counter-offered price.
func (s *Service) RejectCounter(ctx context.Context, id, buyerID string) error {
	var producerID string
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		offer, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if offer.BuyerID != buyerID {
			return apperr.Forbidden("Only the buyer can respond to this counter-offer")
		}
		if offer.Status != domain.OfferCountered {
			return apperr.InvalidState("Offer is not awaiting the buyer's response")
		}
		producerID = offer.ProducerID
		return tx.Model(&domain.Offer{}).Where("id = ?", offer.ID).
			Updates(map[string]interface{}{"status": domain.OfferRejected, "responded_at": s.now()}).Error
	})
	if err != nil {
		return err
	}

	notifications.BestEffort(ctx, s.Notifier, notifications.Input{
		UserID:      producerID,
		Type:        domain.NotifyOfferRejected,
		Title:       "Counter-offer declined",
		Message:     "The buyer declined your counter-offer",
		RelatedType: domain.RelatedOffer,
		RelatedID:   id,
	})
	return nil
}

// Withdraw lets the buyer pull a pending offer.
func (s *Service) Withdraw(ctx context.Context, id, buyerID string) error {
	var producerID string
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		offer, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if offer.BuyerID != buyerID {
			return apperr.Forbidden("Only the buyer can withdraw this offer")
		}
		if offer.Status != domain.OfferPending && offer.Status != domain.OfferCountered {
			return apperr.InvalidState("Only open offers can be withdrawn")
		}
		producerID = offer.ProducerID
		return tx.Model(&domain.Offer{}).Where("id = ?", offer.ID).
			Updates(map[string]interface{}{"status": domain.OfferWithdrawn, "responded_at": s.now()}).Error
	})
	if err != nil {
		return err
	}

	notifications.BestEffort(ctx, s.Notifier, notifications.Input{
		UserID:      producerID,
		Type:        domain.NotifyOfferWithdrawn,
		Title:       "Offer withdrawn",
		Message:     "A buyer withdrew their offer",
		RelatedType: domain.RelatedOffer,
		RelatedID:   id,
	})
	return nil
}

func (s *Service) load(ctx context.Context, tx *gorm.DB, id string) (*domain.Offer, error) {
	var offer domain.Offer
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&offer).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("Offer not found")
		}
		return nil, apperr.Internalf("load offer: %w", err)
	}
	return &offer, nil
}

// authorizeResponse decides who may accept or reject: the producer for a
// buyer-originated offer, the buyer for a counter-offer sent to them.
func (s *Service) authorizeResponse(offer *domain.Offer, actorID string) error {
	if offer.CounterOfferOf != nil {
		if offer.BuyerID != actorID {
			return apperr.Forbidden("Only the buyer can respond to a counter-offer")
		}
	} else if offer.ProducerID != actorID {
		return apperr.Forbidden("Only the producer can respond to this offer")
	}
	if offer.Status != domain.OfferPending {
		return apperr.InvalidState("Offer is not pending")
	}
	return nil
}

func (s *Service) stampIfExpired(ctx context.Context, offer *domain.Offer) {
	if (offer.Status == domain.OfferPending || offer.Status == domain.OfferCountered) && offer.ExpiredBy(s.now()) {
		s.DB.WithContext(ctx).Model(&domain.Offer{}).
			Where("id = ? AND status = ?", offer.ID, offer.Status).
			UpdateColumn("status", domain.OfferExpired)
		offer.Status = domain.OfferExpired
	}
}
