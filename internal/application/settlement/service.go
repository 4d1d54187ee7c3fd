package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"kraal-backend/internal/application/notifications"
	"kraal-backend/internal/domain"
	"kraal-backend/internal/pkg/apperr"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service runs delivery confirmation and the settlement pipeline that turns
// a completed transaction into bookkeeping rows and inventory updates.
type Service struct {
	DB       *gorm.DB
	Notifier notifications.Notifier
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Result summarizes one settlement run.
type Result struct {
	SaleID        string  `json:"sale_id"`
	RevenueID     string  `json:"revenue_id"`
	TotalWeightKg float64 `json:"total_weight_kg"`
	SubjectCount  int     `json:"subject_count"`
	TotalPrice    float64 `json:"total_price"`
}

type DeliveryInput struct {
	Details map[string]interface{}
}

// Get returns a transaction to one of its parties.
func (s *Service) Get(ctx context.Context, id, actorID string) (*domain.Transaction, error) {
	txn, err := s.load(ctx, s.DB.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	if txn.BuyerID != actorID && txn.ProducerID != actorID {
		return nil, apperr.Forbidden("You are not a party to this transaction")
	}
	return txn, nil
}

// List returns the actor's transactions, either side, newest first.
func (s *Service) List(ctx context.Context, actorID string) ([]domain.Transaction, error) {
	var out []domain.Transaction
	err := s.DB.WithContext(ctx).
		Where("buyer_id = ? OR producer_id = ?", actorID, actorID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, apperr.Internalf("list transactions: %w", err)
	}
	return out, nil
}

// ConfirmDelivery records one party's delivery confirmation. The first
// confirmation moves the transaction to delivered, the second to completed.
// Settlement itself is triggered by the caller once both sides confirmed.
func (s *Service) ConfirmDelivery(ctx context.Context, id, actorID string, in DeliveryInput) (*domain.Transaction, error) {
	var txn *domain.Transaction
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		txn, err = s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if txn.BuyerID != actorID && txn.ProducerID != actorID {
			return apperr.Forbidden("You are not a party to this transaction")
		}
		if txn.Status == domain.TransactionCancelled {
			return apperr.InvalidState("Transaction is cancelled")
		}
		if txn.Settled() {
			return apperr.InvalidState("Transaction is already settled")
		}

		now := s.now()
		updates := map[string]interface{}{}
		if actorID == txn.BuyerID {
			if txn.BuyerConfirmed {
				return apperr.InvalidState("You already confirmed delivery")
			}
			txn.BuyerConfirmed = true
			txn.BuyerConfirmedAt = &now
			updates["buyer_confirmed"] = true
			updates["buyer_confirmed_at"] = now
		} else {
			if txn.ProducerConfirmed {
				return apperr.InvalidState("You already confirmed delivery")
			}
			txn.ProducerConfirmed = true
			txn.ProducerConfirmedAt = &now
			updates["producer_confirmed"] = true
			updates["producer_confirmed_at"] = now
		}

		if len(in.Details) > 0 {
			b, err := json.Marshal(in.Details)
			if err != nil {
				return apperr.Internalf("marshal delivery details: %w", err)
			}
			txn.DeliveryDetails = datatypes.JSON(b)
			updates["delivery_details"] = txn.DeliveryDetails
		}

		if txn.BuyerConfirmed && txn.ProducerConfirmed {
			txn.Status = domain.TransactionCompleted
		} else {
			txn.Status = domain.TransactionDelivered
		}
		updates["status"] = txn.Status

		if err := tx.Model(&domain.Transaction{}).Where("id = ?", txn.ID).Updates(updates).Error; err != nil {
			return apperr.Internalf("confirm delivery: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// Process runs the settlement pipeline for a fully confirmed transaction,
// all inside a single database transaction: bookkeeping rows, inventory
// deactivation, herd counter, listing closure and back-links. Notifications
// go out only after the commit.
func (s *Service) Process(ctx context.Context, id string) (*Result, error) {
	var result Result
	var producerID, buyerID, listingID string
	var listingSold bool

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txn, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if txn.Settled() {
			return apperr.InvalidState("Transaction is already settled")
		}
		if !txn.BuyerConfirmed || !txn.ProducerConfirmed {
			return apperr.InvalidState("Both parties must confirm delivery first")
		}
		if len(txn.SubjectIDs) == 0 {
			return apperr.Validation("Transaction has no subjects to settle")
		}

		var offer domain.Offer
		if err := tx.Where("id = ?", txn.OfferID).First(&offer).Error; err != nil {
			return apperr.Internalf("load offer: %w", err)
		}
		var listing domain.Listing
		if err := tx.Where("id = ?", txn.ListingID).First(&listing).Error; err != nil {
			return apperr.Internalf("load listing: %w", err)
		}
		if !listing.Active() {
			return apperr.InvalidState("Listing can no longer be settled")
		}
		var farm domain.Farm
		if err := tx.Where("owner_id = ?", txn.ProducerID).Order("created_at ASC").First(&farm).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperr.NotFound("Producer has no farm to settle against")
			}
			return apperr.Internalf("load farm: %w", err)
		}

		subjects := []string(txn.SubjectIDs)
		weights, names, err := s.resolveSubjects(tx, listing.ListingType, subjects)
		if err != nil {
			return err
		}
		var totalWeight float64
		for _, w := range weights {
			totalWeight += w
		}

		now := s.now()
		sale := domain.Sale{
			TransactionID: txn.ID,
			FarmID:        farm.ID,
			ProducerID:    txn.ProducerID,
			BuyerID:       txn.BuyerID,
			TotalPrice:    txn.FinalPrice,
			SubjectCount:  len(subjects),
			TotalWeightKg: totalWeight,
			Status:        domain.TransactionConfirmed,
			SaleDate:      now,
			PickupDate:    offer.PickupDate,
		}
		if err := tx.Create(&sale).Error; err != nil {
			return apperr.Internalf("create sale: %w", err)
		}

		unitPrice := txn.FinalPrice / float64(len(subjects))
		for _, subjectID := range subjects {
			line := domain.SaleLine{
				SaleID:        sale.ID,
				SubjectID:     subjectID,
				SubjectSource: listing.ListingType,
				WeightKg:      weights[subjectID],
				UnitPrice:     unitPrice,
			}
			if err := tx.Create(&line).Error; err != nil {
				return apperr.Internalf("create sale line: %w", err)
			}
		}

		var buyer domain.User
		buyerName := txn.BuyerID
		if err := tx.Where("id = ?", txn.BuyerID).First(&buyer).Error; err == nil {
			buyerName = buyer.DisplayName(txn.BuyerID)
		}

		if err := s.removeFromInventory(tx, listing.ListingType, subjects, weights, unitPrice, buyerName, now); err != nil {
			return err
		}

		remaining := farm.TotalAnimals - len(subjects)
		if remaining < 0 {
			remaining = 0
		}
		if err := tx.Model(&domain.Farm{}).Where("id = ?", farm.ID).
			UpdateColumn("total_animals", remaining).Error; err != nil {
			return apperr.Internalf("update herd counter: %w", err)
		}

		revenue := domain.Revenue{
			FarmID:        farm.ID,
			Amount:        txn.FinalPrice,
			Date:          now,
			Category:      "livestock_sale",
			Description:   fmt.Sprintf("Sale of %s to %s", joinCodes(subjects, names), buyerName),
			BuyerName:     buyerName,
			TotalWeightKg: totalWeight,
			SubjectCount:  len(subjects),
			SaleID:        sale.ID,
			SubjectIDs:    domain.StringList(subjects),
		}
		if err := tx.Create(&revenue).Error; err != nil {
			return apperr.Internalf("create revenue: %w", err)
		}

		if err := s.closeListing(tx, &listing, subjects); err != nil {
			return err
		}
		listingSold = len(listing.SubjectIDs.Without(subjects)) == 0

		count := len(subjects)
		err = tx.Model(&domain.Transaction{}).Where("id = ?", txn.ID).
			Updates(map[string]interface{}{
				"sale_id":         sale.ID,
				"revenue_id":      revenue.ID,
				"total_weight_kg": totalWeight,
				"subject_count":   count,
				"settled_at":      now,
				"status":          domain.TransactionCompleted,
			}).Error
		if err != nil {
			return apperr.Internalf("back-link transaction: %w", err)
		}

		producerID, buyerID, listingID = txn.ProducerID, txn.BuyerID, listing.ID
		result = Result{
			SaleID:        sale.ID,
			RevenueID:     revenue.ID,
			TotalWeightKg: totalWeight,
			SubjectCount:  count,
			TotalPrice:    txn.FinalPrice,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	notifications.BestEffort(ctx, s.Notifier, notifications.Input{
		UserID:      producerID,
		Type:        domain.NotifySaleConfirmedProducer,
		Title:       "Sale settled",
		Message:     fmt.Sprintf("Sale of %d subject(s) for %.2f is settled", result.SubjectCount, result.TotalPrice),
		RelatedType: domain.RelatedSale,
		RelatedID:   result.SaleID,
		ActionURL:   "/sales/" + result.SaleID,
		Data: map[string]interface{}{
			"listing_id":      listingID,
			"total_weight_kg": result.TotalWeightKg,
		},
	})
	if listingSold {
		notifications.BestEffort(ctx, s.Notifier, notifications.Input{
			UserID:      producerID,
			Type:        domain.NotifyListingSold,
			Title:       "Listing sold out",
			Message:     "All subjects on your listing are sold",
			RelatedType: domain.RelatedListing,
			RelatedID:   listingID,
			ActionURL:   "/marketplace/listings/" + listingID,
		})
	}
	notifications.BestEffort(ctx, s.Notifier, notifications.Input{
		UserID:      buyerID,
		Type:        domain.NotifySaleConfirmedBuyer,
		Title:       "Purchase settled",
		Message:     fmt.Sprintf("Your purchase of %d subject(s) for %.2f is settled", result.SubjectCount, result.TotalPrice),
		RelatedType: domain.RelatedTransaction,
		RelatedID:   id,
		ActionURL:   "/marketplace/transactions/" + id,
	})
	return &result, nil
}

// resolveSubjects returns per-subject settlement weights and display names.
// Individual subjects use their most recent weighing, falling back to the
// intake weight; batch subjects use their tracked current weight. A missing
// subject aborts the whole settlement.
func (s *Service) resolveSubjects(tx *gorm.DB, listingType string, subjects []string) (map[string]float64, map[string]string, error) {
	weights := make(map[string]float64, len(subjects))
	names := make(map[string]string, len(subjects))

	if listingType == domain.ListingTypeIndividual {
		for _, id := range subjects {
			var animal domain.Animal
			if err := tx.Where("id = ?", id).First(&animal).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					return nil, nil, apperr.NotFound("Subject not found: " + id)
				}
				return nil, nil, apperr.Internalf("load animal: %w", err)
			}
			w := animal.InitialWeightKg
			var latest domain.Weighing
			err := tx.Where("animal_id = ?", id).Order("measured_at DESC").First(&latest).Error
			if err == nil {
				w = latest.WeightKg
			} else if err != gorm.ErrRecordNotFound {
				return nil, nil, apperr.Internalf("load weighing: %w", err)
			}
			weights[id] = w
			names[id] = displayCode(animal.Code, id)
		}
		return weights, names, nil
	}

	for _, id := range subjects {
		var subject domain.BatchSubject
		if err := tx.Where("id = ?", id).First(&subject).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, nil, apperr.NotFound("Subject not found: " + id)
			}
			return nil, nil, apperr.Internalf("load batch subject: %w", err)
		}
		weights[id] = subject.CurrentWeightKg
		names[id] = displayCode(subject.Name, id)
	}
	return weights, names, nil
}

// removeFromInventory takes sold subjects out of production tracking.
// Individual animals flip to sold; batch subjects get a removal movement and
// their membership row deleted.
func (s *Service) removeFromInventory(tx *gorm.DB, listingType string, subjects []string, weights map[string]float64, unitPrice float64, buyerName string, now time.Time) error {
	if listingType == domain.ListingTypeIndividual {
		err := tx.Model(&domain.Animal{}).Where("id IN ?", subjects).
			Updates(map[string]interface{}{"status": domain.AnimalSold, "active": false}).Error
		if err != nil {
			return apperr.Internalf("deactivate animals: %w", err)
		}
		return nil
	}

	for _, id := range subjects {
		w := weights[id]
		price := unitPrice
		movement := domain.BatchMovement{
			SubjectID:    id,
			MovementType: domain.MovementRemoval,
			Reason:       domain.RemovalReasonSale,
			SalePrice:    &price,
			SaleWeightKg: &w,
			BuyerName:    &buyerName,
			MovementDate: now,
			Notes:        "Marketplace sale",
		}
		if err := tx.Create(&movement).Error; err != nil {
			return apperr.Internalf("record batch movement: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&domain.BatchSubject{}).Error; err != nil {
			return apperr.Internalf("remove batch subject: %w", err)
		}
	}
	return nil
}

// closeListing marks the listing sold when every member is gone, otherwise
// shrinks the member set and reopens it for the remainder.
func (s *Service) closeListing(tx *gorm.DB, listing *domain.Listing, sold []string) error {
	remaining := listing.SubjectIDs.Without(sold)
	updates := map[string]interface{}{
		"version": listing.Version + 1,
	}
	if len(remaining) == 0 {
		updates["status"] = domain.ListingSold
	} else {
		updates["status"] = domain.ListingAvailable
		updates["subject_ids"] = domain.StringList(remaining)
		updates["subject_count"] = len(remaining)
		updates["calculated_price"] = listing.PricePerKg * listing.WeightKg * float64(len(remaining))
	}
	res := tx.Model(&domain.Listing{}).
		Where("id = ? AND version = ?", listing.ID, listing.Version).
		Updates(updates)
	if res.Error != nil {
		return apperr.Internalf("close listing: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.InvalidState("Listing changed concurrently, retry")
	}
	return nil
}

func (s *Service) load(ctx context.Context, tx *gorm.DB, id string) (*domain.Transaction, error) {
	var txn domain.Transaction
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&txn).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("Transaction not found")
		}
		return nil, apperr.Internalf("load transaction: %w", err)
	}
	return &txn, nil
}

// ProcessIfComplete settles when both confirmations are in, logging instead
// of failing the confirmation flow.
func (s *Service) ProcessIfComplete(ctx context.Context, txn *domain.Transaction) {
	if txn == nil || !txn.BuyerConfirmed || !txn.ProducerConfirmed || txn.Settled() {
		return
	}
	if _, err := s.Process(ctx, txn.ID); err != nil {
		log.Error().Err(err).Str("transaction_id", txn.ID).Msg("settlement failed")
	}
}

func displayCode(code, id string) string {
	if code != "" {
		return code
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func joinCodes(subjects []string, names map[string]string) string {
	out := ""
	for i, id := range subjects {
		if i > 0 {
			out += ", "
		}
		out += names[id]
	}
	return out
}
