package auth

import (
	"context"
	"strings"

	"kraal-backend/internal/domain"
	"kraal-backend/internal/pkg/apperr"
	"kraal-backend/internal/pkg/validation"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Service handles registration and credential checks.
type Service struct {
	DB *gorm.DB
}

type RegisterInput struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Password  string `json:"password"`
}

// Register creates a user account. The caller sanitizes the password hash
// out of the response.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	first := strings.TrimSpace(in.FirstName)
	last := strings.TrimSpace(in.LastName)
	if !validation.IsValidName(first) || !validation.IsValidName(last) {
		return nil, apperr.Validation("First and last name are required and may only contain letters, spaces, hyphens and apostrophes")
	}
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if !validation.IsValidEmail(email) {
		return nil, apperr.Validation("Invalid email format")
	}
	if !validation.IsValidPassword(in.Password) {
		return nil, apperr.Validation("Password must be at least 8 characters with a letter, a number and a special character")
	}

	var existing domain.User
	if err := s.DB.WithContext(ctx).Where("email = ?", email).First(&existing).Error; err == nil {
		return nil, apperr.Validation("Email already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), 10)
	if err != nil {
		return nil, apperr.Internalf("hash password: %w", err)
	}

	u := &domain.User{
		FirstName:    first,
		LastName:     last,
		Email:        email,
		PasswordHash: string(hash),
	}
	if in.Phone != "" {
		phone := strings.TrimSpace(in.Phone)
		u.Phone = &phone
	}
	if err := s.DB.WithContext(ctx).Create(u).Error; err != nil {
		return nil, apperr.Internalf("create user: %w", err)
	}
	return u, nil
}

// Login checks credentials and returns the user.
func (s *Service) Login(ctx context.Context, email, password string) (*domain.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, apperr.Validation("Email and password are required")
	}

	var u domain.User
	if err := s.DB.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.Forbidden("Invalid email or password")
		}
		return nil, apperr.Internalf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.Forbidden("Invalid email or password")
	}
	return &u, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("User not found")
		}
		return nil, apperr.Internalf("load user: %w", err)
	}
	return &u, nil
}
