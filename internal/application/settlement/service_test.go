package settlement

import (
	"context"
	"testing"
	"time"

	"kraal-backend/internal/application/notifications"
	"kraal-backend/internal/domain"
	"kraal-backend/internal/pkg/apperr"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupSettleTest(t *testing.T) (*Service, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.User{}, &domain.Farm{}, &domain.Animal{}, &domain.Weighing{},
		&domain.BatchSubject{}, &domain.BatchMovement{}, &domain.Listing{},
		&domain.Offer{}, &domain.Transaction{}, &domain.Sale{}, &domain.SaleLine{},
		&domain.Revenue{}, &domain.Notification{},
	))
	svc := &Service{DB: db, Notifier: &notifications.Service{DB: db}}
	return svc, db
}

type fixture struct {
	listing *domain.Listing
	offer   *domain.Offer
	txn     *domain.Transaction
	farm    *domain.Farm
}

// seedConfirmed builds a fully confirmed transaction ready to settle.
func seedConfirmed(t *testing.T, db *gorm.DB, listingType string, subjects []string, finalPrice float64) *fixture {
	buyer := &domain.User{FirstName: "Brenda", LastName: "Boone", Email: "brenda@example.com", PasswordHash: "x"}
	require.NoError(t, db.Create(buyer).Error)

	farm := &domain.Farm{OwnerID: "user_producer", Name: "North Paddock", TotalAnimals: 10}
	require.NoError(t, db.Create(farm).Error)

	listing := &domain.Listing{
		ListingType:  listingType,
		ProducerID:   "user_producer",
		FarmID:       farm.ID,
		SubjectIDs:   domain.StringList(subjects),
		SubjectCount: len(subjects),
		PricePerKg:   3.0,
		WeightKg:     80,
		Status:       domain.ListingReserved,
		Version:      1,
		ListedAt:     time.Now(),
	}
	require.NoError(t, db.Create(listing).Error)

	pickup := time.Now().AddDate(0, 0, 3)
	offer := &domain.Offer{
		ListingID:     listing.ID,
		BuyerID:       buyer.ID,
		ProducerID:    "user_producer",
		SubjectIDs:    domain.StringList(subjects),
		ProposedPrice: finalPrice,
		OriginalPrice: finalPrice,
		Status:        domain.OfferAccepted,
		PickupDate:    &pickup,
		ExpiresAt:     time.Now().AddDate(0, 0, 7),
	}
	require.NoError(t, db.Create(offer).Error)

	now := time.Now()
	txn := &domain.Transaction{
		OfferID:           offer.ID,
		ListingID:         listing.ID,
		SubjectIDs:        domain.StringList(subjects),
		BuyerID:           buyer.ID,
		ProducerID:        "user_producer",
		FinalPrice:        finalPrice,
		Status:            domain.TransactionCompleted,
		ProducerConfirmed: true, ProducerConfirmedAt: &now,
		BuyerConfirmed: true, BuyerConfirmedAt: &now,
	}
	require.NoError(t, db.Create(txn).Error)
	return &fixture{listing: listing, offer: offer, txn: txn, farm: farm}
}

func TestProcess_IndividualListing(t *testing.T) {
	svc, db := setupSettleTest(t)
	fix := seedConfirmed(t, db, domain.ListingTypeIndividual, []string{"animal_pig1"}, 270)

	require.NoError(t, db.Create(&domain.Animal{
		ID: "animal_pig1", FarmID: fix.farm.ID, Code: "PIG-001",
		InitialWeightKg: 70, Status: domain.AnimalActive, Active: true,
	}).Error)
	// Two weighings; the most recent one wins
	require.NoError(t, db.Create(&domain.Weighing{
		AnimalID: "animal_pig1", WeightKg: 85, MeasuredAt: time.Now().AddDate(0, 0, -10),
	}).Error)
	require.NoError(t, db.Create(&domain.Weighing{
		AnimalID: "animal_pig1", WeightKg: 90, MeasuredAt: time.Now().AddDate(0, 0, -1),
	}).Error)

	result, err := svc.Process(context.Background(), fix.txn.ID)
	require.NoError(t, err)
	assert.Equal(t, 90.0, result.TotalWeightKg)
	assert.Equal(t, 1, result.SubjectCount)

	var sale domain.Sale
	require.NoError(t, db.First(&sale, "id = ?", result.SaleID).Error)
	assert.Equal(t, 270.0, sale.TotalPrice)
	assert.Equal(t, fix.farm.ID, sale.FarmID)
	require.NotNil(t, sale.PickupDate)

	var line domain.SaleLine
	require.NoError(t, db.First(&line, "sale_id = ?", sale.ID).Error)
	assert.Equal(t, "animal_pig1", line.SubjectID)
	assert.Equal(t, 90.0, line.WeightKg)
	assert.Equal(t, 270.0, line.UnitPrice)

	var animal domain.Animal
	require.NoError(t, db.First(&animal, "id = ?", "animal_pig1").Error)
	assert.Equal(t, domain.AnimalSold, animal.Status)
	assert.False(t, animal.Active)

	var farm domain.Farm
	require.NoError(t, db.First(&farm, "id = ?", fix.farm.ID).Error)
	assert.Equal(t, 9, farm.TotalAnimals)

	var revenue domain.Revenue
	require.NoError(t, db.First(&revenue, "id = ?", result.RevenueID).Error)
	assert.Equal(t, 270.0, revenue.Amount)
	assert.Equal(t, "Brenda Boone", revenue.BuyerName)
	assert.Contains(t, revenue.Description, "PIG-001")
	assert.Contains(t, revenue.Description, "Brenda Boone")

	var listing domain.Listing
	require.NoError(t, db.First(&listing, "id = ?", fix.listing.ID).Error)
	assert.Equal(t, domain.ListingSold, listing.Status)

	var txn domain.Transaction
	require.NoError(t, db.First(&txn, "id = ?", fix.txn.ID).Error)
	require.NotNil(t, txn.SaleID)
	assert.Equal(t, result.SaleID, *txn.SaleID)
	require.NotNil(t, txn.RevenueID)
	assert.NotNil(t, txn.SettledAt)
	assert.Equal(t, domain.TransactionCompleted, txn.Status)

	// Both parties notified after the commit, plus the sold-out listing notice
	var n int64
	require.NoError(t, db.Model(&domain.Notification{}).Count(&n).Error)
	assert.EqualValues(t, 3, n)
	var soldNotice domain.Notification
	require.NoError(t, db.First(&soldNotice, "type = ?", domain.NotifyListingSold).Error)
	assert.Equal(t, "user_producer", soldNotice.UserID)
}

func TestProcess_BatchListing(t *testing.T) {
	svc, db := setupSettleTest(t)
	fix := seedConfirmed(t, db, domain.ListingTypeBatch, []string{"subject_s1", "subject_s2"}, 500)

	require.NoError(t, db.Create(&domain.BatchSubject{
		ID: "subject_s1", BatchID: "batch_1", Name: "S1", CurrentWeightKg: 82,
	}).Error)
	require.NoError(t, db.Create(&domain.BatchSubject{
		ID: "subject_s2", BatchID: "batch_1", Name: "S2", CurrentWeightKg: 78,
	}).Error)

	result, err := svc.Process(context.Background(), fix.txn.ID)
	require.NoError(t, err)
	assert.Equal(t, 160.0, result.TotalWeightKg)
	assert.Equal(t, 2, result.SubjectCount)

	// Even split: 500 / 2 per head
	var lines []domain.SaleLine
	require.NoError(t, db.Where("sale_id = ?", result.SaleID).Find(&lines).Error)
	require.Len(t, lines, 2)
	for _, l := range lines {
		assert.Equal(t, 250.0, l.UnitPrice)
	}

	// Movement recorded, then membership removed
	var movements []domain.BatchMovement
	require.NoError(t, db.Find(&movements).Error)
	require.Len(t, movements, 2)
	for _, m := range movements {
		assert.Equal(t, domain.MovementRemoval, m.MovementType)
		assert.Equal(t, domain.RemovalReasonSale, m.Reason)
		require.NotNil(t, m.SalePrice)
		assert.Equal(t, 250.0, *m.SalePrice)
		require.NotNil(t, m.BuyerName)
		assert.Equal(t, "Brenda Boone", *m.BuyerName)
	}
	var remaining int64
	require.NoError(t, db.Model(&domain.BatchSubject{}).Count(&remaining).Error)
	assert.EqualValues(t, 0, remaining)
}

func TestProcess_PartialSaleShrinksListing(t *testing.T) {
	svc, db := setupSettleTest(t)
	fix := seedConfirmed(t, db, domain.ListingTypeBatch, []string{"subject_s1"}, 250)

	// Listing actually carries two members; only one was sold
	require.NoError(t, db.Model(&domain.Listing{}).Where("id = ?", fix.listing.ID).
		Updates(map[string]interface{}{
			"subject_ids":   domain.StringList{"subject_s1", "subject_s2"},
			"subject_count": 2,
		}).Error)
	require.NoError(t, db.Create(&domain.BatchSubject{
		ID: "subject_s1", BatchID: "batch_1", Name: "S1", CurrentWeightKg: 82,
	}).Error)

	_, err := svc.Process(context.Background(), fix.txn.ID)
	require.NoError(t, err)

	var listing domain.Listing
	require.NoError(t, db.First(&listing, "id = ?", fix.listing.ID).Error)
	assert.Equal(t, domain.ListingAvailable, listing.Status)
	assert.Equal(t, []string{"subject_s2"}, []string(listing.SubjectIDs))
	assert.Equal(t, 1, listing.SubjectCount)
	assert.Equal(t, 2, listing.Version)
}

func TestProcess_FarmCounterFloorsAtZero(t *testing.T) {
	svc, db := setupSettleTest(t)
	fix := seedConfirmed(t, db, domain.ListingTypeBatch, []string{"subject_s1", "subject_s2"}, 500)
	require.NoError(t, db.Model(&domain.Farm{}).Where("id = ?", fix.farm.ID).
		UpdateColumn("total_animals", 1).Error)
	require.NoError(t, db.Create(&domain.BatchSubject{ID: "subject_s1", BatchID: "batch_1", CurrentWeightKg: 80}).Error)
	require.NoError(t, db.Create(&domain.BatchSubject{ID: "subject_s2", BatchID: "batch_1", CurrentWeightKg: 80}).Error)

	_, err := svc.Process(context.Background(), fix.txn.ID)
	require.NoError(t, err)

	var farm domain.Farm
	require.NoError(t, db.First(&farm, "id = ?", fix.farm.ID).Error)
	assert.Equal(t, 0, farm.TotalAnimals)
}

func TestProcess_Idempotent(t *testing.T) {
	svc, db := setupSettleTest(t)
	fix := seedConfirmed(t, db, domain.ListingTypeBatch, []string{"subject_s1"}, 250)
	require.NoError(t, db.Create(&domain.BatchSubject{ID: "subject_s1", BatchID: "batch_1", CurrentWeightKg: 80}).Error)

	_, err := svc.Process(context.Background(), fix.txn.ID)
	require.NoError(t, err)

	_, err = svc.Process(context.Background(), fix.txn.ID)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

	var sales int64
	require.NoError(t, db.Model(&domain.Sale{}).Count(&sales).Error)
	assert.EqualValues(t, 1, sales)
}

func TestProcess_MissingSubjectRollsBackEverything(t *testing.T) {
	svc, db := setupSettleTest(t)
	fix := seedConfirmed(t, db, domain.ListingTypeBatch, []string{"subject_s1", "subject_ghost"}, 500)
	require.NoError(t, db.Create(&domain.BatchSubject{ID: "subject_s1", BatchID: "batch_1", CurrentWeightKg: 80}).Error)

	_, err := svc.Process(context.Background(), fix.txn.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	// Nothing stuck halfway
	var sales, lines, revenues, movements int64
	require.NoError(t, db.Model(&domain.Sale{}).Count(&sales).Error)
	require.NoError(t, db.Model(&domain.SaleLine{}).Count(&lines).Error)
	require.NoError(t, db.Model(&domain.Revenue{}).Count(&revenues).Error)
	require.NoError(t, db.Model(&domain.BatchMovement{}).Count(&movements).Error)
	assert.EqualValues(t, 0, sales)
	assert.EqualValues(t, 0, lines)
	assert.EqualValues(t, 0, revenues)
	assert.EqualValues(t, 0, movements)

	var farm domain.Farm
	require.NoError(t, db.First(&farm, "id = ?", fix.farm.ID).Error)
	assert.Equal(t, 10, farm.TotalAnimals)

	var txn domain.Transaction
	require.NoError(t, db.First(&txn, "id = ?", fix.txn.ID).Error)
	assert.Nil(t, txn.SaleID)
}

func TestProcess_RequiresBothConfirmations(t *testing.T) {
	svc, db := setupSettleTest(t)
	fix := seedConfirmed(t, db, domain.ListingTypeBatch, []string{"subject_s1"}, 250)
	require.NoError(t, db.Model(&domain.Transaction{}).Where("id = ?", fix.txn.ID).
		Updates(map[string]interface{}{"buyer_confirmed": false, "status": domain.TransactionDelivered}).Error)

	_, err := svc.Process(context.Background(), fix.txn.ID)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
}

func TestProcess_RejectsEmptySubjectSet(t *testing.T) {
	svc, db := setupSettleTest(t)
	fix := seedConfirmed(t, db, domain.ListingTypeBatch, nil, 250)

	_, err := svc.Process(context.Background(), fix.txn.ID)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	var sales int64
	require.NoError(t, db.Model(&domain.Sale{}).Count(&sales).Error)
	assert.EqualValues(t, 0, sales)
}

func TestConfirmDelivery_Flow(t *testing.T) {
	svc, db := setupSettleTest(t)
	fix := seedConfirmed(t, db, domain.ListingTypeBatch, []string{"subject_s1"}, 250)
	// Reset to a fresh confirmed transaction
	require.NoError(t, db.Model(&domain.Transaction{}).Where("id = ?", fix.txn.ID).
		Updates(map[string]interface{}{
			"buyer_confirmed": false, "producer_confirmed": false,
			"status": domain.TransactionConfirmed,
		}).Error)

	// Stranger cannot confirm
	_, err := svc.ConfirmDelivery(context.Background(), fix.txn.ID, "user_stranger", DeliveryInput{})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	txn, err := svc.ConfirmDelivery(context.Background(), fix.txn.ID, "user_producer", DeliveryInput{
		Details: map[string]interface{}{"location": "North gate"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionDelivered, txn.Status)
	assert.True(t, txn.ProducerConfirmed)
	assert.False(t, txn.BuyerConfirmed)

	// Same party cannot confirm twice
	_, err = svc.ConfirmDelivery(context.Background(), fix.txn.ID, "user_producer", DeliveryInput{})
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

	txn, err = svc.ConfirmDelivery(context.Background(), fix.txn.ID, fix.txn.BuyerID, DeliveryInput{})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionCompleted, txn.Status)
	assert.True(t, txn.BuyerConfirmed)
}
