package domain

import (
	"strings"
	"time"

	"kraal-backend/internal/pkg/ids"

	"gorm.io/gorm"
)

// User is a marketplace actor (producer or buyer; the distinction is
// per-entity relationship, not a role matrix).
type User struct {
	ID           string    `gorm:"column:id;primaryKey" json:"id"`
	FirstName    string    `gorm:"column:first_name" json:"first_name"`
	LastName     string    `gorm:"column:last_name" json:"last_name"`
	Email        string    `gorm:"column:email;not null;uniqueIndex" json:"email"`
	Phone        *string   `gorm:"column:phone" json:"phone,omitempty"`
	PasswordHash string    `gorm:"column:password_hash;not null" json:"-"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = ids.New("user")
	}
	return nil
}

// DisplayName returns "First Last", or fallback when both are empty.
func (u *User) DisplayName(fallback string) string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		return fallback
	}
	return name
}
