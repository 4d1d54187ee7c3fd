package auth

import (
	"context"
	"testing"

	"kraal-backend/internal/domain"
	"kraal-backend/internal/pkg/apperr"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupAuthTest(t *testing.T) *Service {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.User{}))
	return &Service{DB: db}
}

func TestRegister(t *testing.T) {
	svc := setupAuthTest(t)

	u, err := svc.Register(context.Background(), RegisterInput{
		FirstName: "Ana", LastName: "Prieto", Email: "Ana@Example.com", Password: "str0ng!pass",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "ana@example.com", u.Email)
	assert.NotEqual(t, "str0ng!pass", u.PasswordHash)

	// Duplicate email
	_, err = svc.Register(context.Background(), RegisterInput{
		FirstName: "Ana", LastName: "Prieto", Email: "ana@example.com", Password: "str0ng!pass",
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestRegister_Validation(t *testing.T) {
	svc := setupAuthTest(t)

	cases := []RegisterInput{
		{FirstName: "", LastName: "Prieto", Email: "a@b.co", Password: "str0ng!pass"},
		{FirstName: "Ana", LastName: "Prieto", Email: "not-an-email", Password: "str0ng!pass"},
		{FirstName: "Ana", LastName: "Prieto", Email: "a@b.co", Password: "weak"},
		{FirstName: "Ana", LastName: "Prieto", Email: "a@b.co", Password: "lettersonly!"},
	}
	for _, in := range cases {
		_, err := svc.Register(context.Background(), in)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	}
}

func TestLogin(t *testing.T) {
	svc := setupAuthTest(t)
	_, err := svc.Register(context.Background(), RegisterInput{
		FirstName: "Ana", LastName: "Prieto", Email: "ana@example.com", Password: "str0ng!pass",
	})
	require.NoError(t, err)

	u, err := svc.Login(context.Background(), "ANA@example.com", "str0ng!pass")
	require.NoError(t, err)
	assert.Equal(t, "Ana Prieto", u.DisplayName(""))

	_, err = svc.Login(context.Background(), "ana@example.com", "wrongpass1!")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	_, err = svc.Login(context.Background(), "nobody@example.com", "str0ng!pass")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}
