package listings

import (
	"context"
	"testing"
	"time"

	"kraal-backend/internal/domain"
	"kraal-backend/internal/pkg/apperr"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupListingTest(t *testing.T) (*Service, *gorm.DB, *domain.Farm) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.Farm{}, &domain.Animal{}, &domain.BatchSubject{},
		&domain.Listing{}, &domain.Offer{},
	))
	farm := &domain.Farm{OwnerID: "user_producer", Name: "North Paddock", TotalAnimals: 5}
	require.NoError(t, db.Create(farm).Error)
	return &Service{DB: db}, db, farm
}

func seedAnimal(t *testing.T, db *gorm.DB, farmID, id string) {
	require.NoError(t, db.Create(&domain.Animal{
		ID: id, FarmID: farmID, Code: "A-" + id, InitialWeightKg: 75,
		Status: domain.AnimalActive, Active: true,
	}).Error)
}

func TestCreateListing_Individual(t *testing.T) {
	svc, db, farm := setupListingTest(t)
	seedAnimal(t, db, farm.ID, "animal_1")

	listing, err := svc.Create(context.Background(), CreateInput{
		ProducerID:  "user_producer",
		FarmID:      farm.ID,
		ListingType: domain.ListingTypeIndividual,
		SubjectIDs:  []string{"animal_1"},
		PricePerKg:  3.0,
		WeightKg:    75,
		SaleTerms:   map[string]interface{}{"pickup": "buyer"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ListingAvailable, listing.Status)
	assert.Equal(t, 225.0, listing.CalculatedPrice)
	assert.Equal(t, 1, listing.SubjectCount)
	assert.NotEmpty(t, listing.ID)
	assert.NotEmpty(t, listing.SaleTerms)
}

func TestCreateListing_Batch(t *testing.T) {
	svc, db, farm := setupListingTest(t)
	require.NoError(t, db.Create(&domain.BatchSubject{ID: "subject_1", BatchID: "batch_1", CurrentWeightKg: 80}).Error)
	require.NoError(t, db.Create(&domain.BatchSubject{ID: "subject_2", BatchID: "batch_1", CurrentWeightKg: 84}).Error)

	listing, err := svc.Create(context.Background(), CreateInput{
		ProducerID:  "user_producer",
		FarmID:      farm.ID,
		ListingType: domain.ListingTypeBatch,
		BatchID:     "batch_1",
		SubjectIDs:  []string{"subject_1", "subject_2"},
		PricePerKg:  3.0,
		WeightKg:    82,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, listing.SubjectCount)
	// 3.00 x 82 avg x 2 head
	assert.Equal(t, 492.0, listing.CalculatedPrice)
}

func TestCreateListing_Validation(t *testing.T) {
	svc, db, farm := setupListingTest(t)
	seedAnimal(t, db, farm.ID, "animal_1")

	cases := []CreateInput{
		{ProducerID: "user_producer", FarmID: farm.ID, ListingType: domain.ListingTypeIndividual, SubjectIDs: []string{"animal_1"}, PricePerKg: 0, WeightKg: 75},
		{ProducerID: "user_producer", FarmID: farm.ID, ListingType: domain.ListingTypeIndividual, SubjectIDs: []string{"animal_1"}, PricePerKg: 3, WeightKg: 0},
		{ProducerID: "user_producer", FarmID: farm.ID, ListingType: domain.ListingTypeIndividual, SubjectIDs: nil, PricePerKg: 3, WeightKg: 75},
		{ProducerID: "user_producer", FarmID: farm.ID, ListingType: "herd", SubjectIDs: []string{"animal_1"}, PricePerKg: 3, WeightKg: 75},
		{ProducerID: "user_producer", FarmID: farm.ID, ListingType: domain.ListingTypeBatch, SubjectIDs: []string{"animal_1"}, PricePerKg: 3, WeightKg: 75},
	}
	for _, in := range cases {
		_, err := svc.Create(context.Background(), in)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	}

	// Foreign farm
	_, err := svc.Create(context.Background(), CreateInput{
		ProducerID: "user_other", FarmID: farm.ID, ListingType: domain.ListingTypeIndividual,
		SubjectIDs: []string{"animal_1"}, PricePerKg: 3, WeightKg: 75,
	})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	// Unknown subject
	_, err = svc.Create(context.Background(), CreateInput{
		ProducerID: "user_producer", FarmID: farm.ID, ListingType: domain.ListingTypeIndividual,
		SubjectIDs: []string{"animal_ghost"}, PricePerKg: 3, WeightKg: 75,
	})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCreateListing_SubjectAlreadyListed(t *testing.T) {
	svc, db, farm := setupListingTest(t)
	seedAnimal(t, db, farm.ID, "animal_1")

	in := CreateInput{
		ProducerID: "user_producer", FarmID: farm.ID, ListingType: domain.ListingTypeIndividual,
		SubjectIDs: []string{"animal_1"}, PricePerKg: 3, WeightKg: 75,
	}
	_, err := svc.Create(context.Background(), in)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), in)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestGetListing_CountsView(t *testing.T) {
	svc, db, farm := setupListingTest(t)
	seedAnimal(t, db, farm.ID, "animal_1")
	created, err := svc.Create(context.Background(), CreateInput{
		ProducerID: "user_producer", FarmID: farm.ID, ListingType: domain.ListingTypeIndividual,
		SubjectIDs: []string{"animal_1"}, PricePerKg: 3, WeightKg: 75,
	})
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Views)
	got, err = svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Views)

	_, err = svc.Get(context.Background(), "listing_missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestUpdateListing(t *testing.T) {
	svc, db, farm := setupListingTest(t)
	seedAnimal(t, db, farm.ID, "animal_1")
	created, err := svc.Create(context.Background(), CreateInput{
		ProducerID: "user_producer", FarmID: farm.ID, ListingType: domain.ListingTypeIndividual,
		SubjectIDs: []string{"animal_1"}, PricePerKg: 3, WeightKg: 75,
	})
	require.NoError(t, err)

	newPrice := 3.5
	updated, err := svc.Update(context.Background(), created.ID, "user_producer", UpdateInput{PricePerKg: &newPrice})
	require.NoError(t, err)
	assert.Equal(t, 3.5, updated.PricePerKg)
	assert.Equal(t, 262.5, updated.CalculatedPrice)

	_, err = svc.Update(context.Background(), created.ID, "user_other", UpdateInput{PricePerKg: &newPrice})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	// Reserved listings are frozen
	require.NoError(t, db.Model(&domain.Listing{}).Where("id = ?", created.ID).
		UpdateColumn("status", domain.ListingReserved).Error)
	_, err = svc.Update(context.Background(), created.ID, "user_producer", UpdateInput{PricePerKg: &newPrice})
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
}

func TestMarkRemoved(t *testing.T) {
	svc, db, farm := setupListingTest(t)
	seedAnimal(t, db, farm.ID, "animal_1")
	created, err := svc.Create(context.Background(), CreateInput{
		ProducerID: "user_producer", FarmID: farm.ID, ListingType: domain.ListingTypeIndividual,
		SubjectIDs: []string{"animal_1"}, PricePerKg: 3, WeightKg: 75,
	})
	require.NoError(t, err)

	// A pending offer blocks removal
	require.NoError(t, db.Create(&domain.Offer{
		ListingID: created.ID, BuyerID: "user_buyer", ProducerID: "user_producer",
		SubjectIDs: domain.StringList{"animal_1"}, ProposedPrice: 200, OriginalPrice: 200,
		Status: domain.OfferPending, ExpiresAt: time.Now().AddDate(0, 0, 7),
	}).Error)
	err = svc.MarkRemoved(context.Background(), created.ID, "user_producer")
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

	require.NoError(t, db.Model(&domain.Offer{}).Where("listing_id = ?", created.ID).
		UpdateColumn("status", domain.OfferWithdrawn).Error)
	require.NoError(t, svc.MarkRemoved(context.Background(), created.ID, "user_producer"))

	var got domain.Listing
	require.NoError(t, db.First(&got, "id = ?", created.ID).Error)
	assert.Equal(t, domain.ListingRemoved, got.Status)
	assert.Equal(t, 1, got.Version)

	// Already closed
	err = svc.MarkRemoved(context.Background(), created.ID, "user_producer")
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

	// Subject is free to list again once the listing is removed
	_, err = svc.Create(context.Background(), CreateInput{
		ProducerID: "user_producer", FarmID: farm.ID, ListingType: domain.ListingTypeIndividual,
		SubjectIDs: []string{"animal_1"}, PricePerKg: 3, WeightKg: 75,
	})
	require.NoError(t, err)
}

func TestListListings_Filters(t *testing.T) {
	svc, db, farm := setupListingTest(t)
	seedAnimal(t, db, farm.ID, "animal_1")
	seedAnimal(t, db, farm.ID, "animal_2")

	first, err := svc.Create(context.Background(), CreateInput{
		ProducerID: "user_producer", FarmID: farm.ID, ListingType: domain.ListingTypeIndividual,
		SubjectIDs: []string{"animal_1"}, PricePerKg: 3, WeightKg: 75,
	})
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), CreateInput{
		ProducerID: "user_producer", FarmID: farm.ID, ListingType: domain.ListingTypeIndividual,
		SubjectIDs: []string{"animal_2"}, PricePerKg: 3, WeightKg: 75,
	})
	require.NoError(t, err)

	all, err := svc.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, db.Model(&domain.Listing{}).Where("id = ?", first.ID).
		UpdateColumn("status", domain.ListingRemoved).Error)

	// Removed listings drop out of the default view
	all, err = svc.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	removed, err := svc.List(context.Background(), Filter{Status: domain.ListingRemoved})
	require.NoError(t, err)
	assert.Len(t, removed, 1)
}
