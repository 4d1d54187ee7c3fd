package database

import (
	"kraal-backend/internal/domain"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Open opens a GORM DB from DSN. PreferSimpleProtocol disables prepared
// statement caching to avoid 42P05 ("prepared statement already exists")
// behind connection poolers (PgBouncer, Supabase, Render).
func Open(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{})
}

// AutoMigrate runs migrations for all marketplace, inventory and finance
// models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.Farm{},
		&domain.Animal{},
		&domain.Weighing{},
		&domain.BatchSubject{},
		&domain.BatchMovement{},
		&domain.Listing{},
		&domain.Offer{},
		&domain.Transaction{},
		&domain.AutoSaleSettings{},
		&domain.PendingDecision{},
		&domain.Sale{},
		&domain.SaleLine{},
		&domain.Revenue{},
		&domain.Notification{},
	)
}
