package listings

import (
	"context"
	"encoding/json"
	"time"

	"kraal-backend/internal/domain"
	"kraal-backend/internal/pkg/apperr"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service owns the listing registry.
type Service struct {
	DB *gorm.DB
}

// CreateInput covers both individual and batch listings. For individual
// listings SubjectIDs holds exactly one animal id and WeightKg its weight;
// for batch listings SubjectIDs holds the batch members and WeightKg the
// average weight per head.
type CreateInput struct {
	ProducerID  string
	FarmID      string
	ListingType string
	BatchID     string
	SubjectIDs  []string
	PricePerKg  float64
	WeightKg    float64
	SaleTerms   map[string]interface{}
}

type UpdateInput struct {
	PricePerKg *float64
	WeightKg   *float64
	SaleTerms  map[string]interface{}
}

type Filter struct {
	ProducerID string
	Status     string
	FarmID     string
}

// Create registers a listing after verifying farm ownership, subject
// existence and that no subject is already carried by an active listing.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Listing, error) {
	if in.PricePerKg <= 0 {
		return nil, apperr.Validation("price_per_kg must be positive")
	}
	if in.WeightKg <= 0 {
		return nil, apperr.Validation("weight_kg must be positive")
	}
	if len(in.SubjectIDs) == 0 {
		return nil, apperr.Validation("at least one subject is required")
	}
	if in.ListingType != domain.ListingTypeIndividual && in.ListingType != domain.ListingTypeBatch {
		return nil, apperr.Validation("listing_type must be individual or batch")
	}
	if in.ListingType == domain.ListingTypeIndividual && len(in.SubjectIDs) != 1 {
		return nil, apperr.Validation("individual listings carry exactly one subject")
	}
	if in.ListingType == domain.ListingTypeBatch && in.BatchID == "" {
		return nil, apperr.Validation("batch_id is required for batch listings")
	}

	var farm domain.Farm
	if err := s.DB.WithContext(ctx).Where("id = ?", in.FarmID).First(&farm).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("Farm not found")
		}
		return nil, apperr.Internalf("load farm: %w", err)
	}
	if farm.OwnerID != in.ProducerID {
		return nil, apperr.Forbidden("Farm does not belong to you")
	}

	if err := s.verifySubjects(ctx, in); err != nil {
		return nil, err
	}
	if err := s.verifyNotListed(ctx, in.ProducerID, in.SubjectIDs); err != nil {
		return nil, err
	}

	listing := domain.Listing{
		ListingType:  in.ListingType,
		ProducerID:   in.ProducerID,
		FarmID:       in.FarmID,
		SubjectIDs:   domain.StringList(in.SubjectIDs),
		SubjectCount: len(in.SubjectIDs),
		PricePerKg:   in.PricePerKg,
		WeightKg:     in.WeightKg,
		Status:       domain.ListingAvailable,
		ListedAt:     time.Now(),
	}
	listing.CalculatedPrice = in.PricePerKg * in.WeightKg * float64(len(in.SubjectIDs))
	if in.BatchID != "" {
		listing.BatchID = &in.BatchID
	}
	if len(in.SaleTerms) > 0 {
		b, err := json.Marshal(in.SaleTerms)
		if err != nil {
			return nil, apperr.Internalf("marshal sale terms: %w", err)
		}
		listing.SaleTerms = datatypes.JSON(b)
	}

	if err := s.DB.WithContext(ctx).Create(&listing).Error; err != nil {
		return nil, apperr.Internalf("create listing: %w", err)
	}
	return &listing, nil
}

// verifySubjects checks that every subject exists and belongs to the producer.
func (s *Service) verifySubjects(ctx context.Context, in CreateInput) error {
	if in.ListingType == domain.ListingTypeIndividual {
		var count int64
		err := s.DB.WithContext(ctx).Model(&domain.Animal{}).
			Where("id = ? AND farm_id = ? AND status = ?", in.SubjectIDs[0], in.FarmID, domain.AnimalActive).
			Count(&count).Error
		if err != nil {
			return apperr.Internalf("check subject: %w", err)
		}
		if count == 0 {
			return apperr.NotFound("Subject not found on this farm")
		}
		return nil
	}

	var count int64
	err := s.DB.WithContext(ctx).Model(&domain.BatchSubject{}).
		Where("batch_id = ? AND id IN ?", in.BatchID, in.SubjectIDs).
		Count(&count).Error
	if err != nil {
		return apperr.Internalf("check batch subjects: %w", err)
	}
	if int(count) != len(in.SubjectIDs) {
		return apperr.NotFound("One or more subjects not found in this batch")
	}
	return nil
}

// verifyNotListed enforces the one-active-listing-per-subject rule.
// Membership is checked in Go so the JSON column stays portable.
func (s *Service) verifyNotListed(ctx context.Context, producerID string, subjectIDs []string) error {
	var active []domain.Listing
	err := s.DB.WithContext(ctx).
		Where("producer_id = ? AND status IN ?", producerID,
			[]string{domain.ListingAvailable, domain.ListingReserved, domain.ListingPendingDelivery}).
		Find(&active).Error
	if err != nil {
		return apperr.Internalf("check active listings: %w", err)
	}
	for _, l := range active {
		for _, id := range subjectIDs {
			if l.SubjectIDs.Contains(id) {
				return apperr.Validation("Subject " + id + " is already on an active listing")
			}
		}
	}
	return nil
}

// Get loads a listing and counts the view.
func (s *Service) Get(ctx context.Context, id string) (*domain.Listing, error) {
	var listing domain.Listing
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&listing).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("Listing not found")
		}
		return nil, apperr.Internalf("load listing: %w", err)
	}
	// View counts are advisory; a failed bump never fails the read.
	if err := s.DB.WithContext(ctx).Model(&domain.Listing{}).Where("id = ?", id).
		UpdateColumn("views", gorm.Expr("views + 1")).Error; err != nil {
		log.Warn().Err(err).Str("listing_id", id).Msg("view counter bump failed")
	} else {
		listing.Views++
	}
	return &listing, nil
}

// List returns listings matching the filter, newest first. Removed listings
// only show up when asked for explicitly.
func (s *Service) List(ctx context.Context, f Filter) ([]domain.Listing, error) {
	q := s.DB.WithContext(ctx).Model(&domain.Listing{})
	if f.ProducerID != "" {
		q = q.Where("producer_id = ?", f.ProducerID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	} else {
		q = q.Where("status <> ?", domain.ListingRemoved)
	}
	if f.FarmID != "" {
		q = q.Where("farm_id = ?", f.FarmID)
	}
	var out []domain.Listing
	if err := q.Order("listed_at DESC").Find(&out).Error; err != nil {
		return nil, apperr.Internalf("list listings: %w", err)
	}
	return out, nil
}

// Update changes price, weight or terms on a listing the actor owns.
// Only available listings may be edited.
func (s *Service) Update(ctx context.Context, id, actorID string, in UpdateInput) (*domain.Listing, error) {
	var listing domain.Listing
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&listing).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("Listing not found")
		}
		return nil, apperr.Internalf("load listing: %w", err)
	}
	if listing.ProducerID != actorID {
		return nil, apperr.Forbidden("You do not own this listing")
	}
	if listing.Status != domain.ListingAvailable {
		return nil, apperr.InvalidState("Only available listings can be edited")
	}

	updates := map[string]interface{}{}
	if in.PricePerKg != nil {
		if *in.PricePerKg <= 0 {
			return nil, apperr.Validation("price_per_kg must be positive")
		}
		listing.PricePerKg = *in.PricePerKg
		updates["price_per_kg"] = *in.PricePerKg
	}
	if in.WeightKg != nil {
		if *in.WeightKg <= 0 {
			return nil, apperr.Validation("weight_kg must be positive")
		}
		listing.WeightKg = *in.WeightKg
		updates["weight_kg"] = *in.WeightKg
	}
	if in.PricePerKg != nil || in.WeightKg != nil {
		listing.CalculatedPrice = listing.PricePerKg * listing.WeightKg * float64(listing.SubjectCount)
		updates["calculated_price"] = listing.CalculatedPrice
	}
	if len(in.SaleTerms) > 0 {
		b, err := json.Marshal(in.SaleTerms)
		if err != nil {
			return nil, apperr.Internalf("marshal sale terms: %w", err)
		}
		listing.SaleTerms = datatypes.JSON(b)
		updates["sale_terms"] = listing.SaleTerms
	}
	if len(updates) == 0 {
		return &listing, nil
	}
	if err := s.DB.WithContext(ctx).Model(&domain.Listing{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, apperr.Internalf("update listing: %w", err)
	}
	return &listing, nil
}

// MarkRemoved takes a listing off the market. Pending offers must be
// resolved first.
func (s *Service) MarkRemoved(ctx context.Context, id, actorID string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var listing domain.Listing
		if err := tx.Where("id = ?", id).First(&listing).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperr.NotFound("Listing not found")
			}
			return apperr.Internalf("load listing: %w", err)
		}
		if listing.ProducerID != actorID {
			return apperr.Forbidden("You do not own this listing")
		}
		if listing.Status == domain.ListingSold || listing.Status == domain.ListingRemoved {
			return apperr.InvalidState("Listing is already closed")
		}

		var pending int64
		err := tx.Model(&domain.Offer{}).
			Where("listing_id = ? AND status = ?", id, domain.OfferPending).
			Count(&pending).Error
		if err != nil {
			return apperr.Internalf("count pending offers: %w", err)
		}
		if pending > 0 {
			return apperr.InvalidState("Resolve pending offers before removing the listing")
		}

		res := tx.Model(&domain.Listing{}).
			Where("id = ? AND version = ?", id, listing.Version).
			Updates(map[string]interface{}{
				"status":  domain.ListingRemoved,
				"version": listing.Version + 1,
			})
		if res.Error != nil {
			return apperr.Internalf("remove listing: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.InvalidState("Listing changed concurrently, retry")
		}
		return nil
	})
}
