package notifications

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"kraal-backend/internal/domain"
	"kraal-backend/internal/pkg/apperr"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Input is one notification request.
type Input struct {
	UserID      string
	Type        string
	Title       string
	Message     string
	RelatedType string
	RelatedID   string
	ActionURL   string
	Data        map[string]interface{}
}

// Notifier is the dispatch contract consumed by the marketplace services.
// Delivery is fire-and-forget; callers never fail on a dispatch error.
type Notifier interface {
	Notify(ctx context.Context, in Input) (string, error)
}

// Service stores notifications in the marketplace_notifications table.
type Service struct {
	DB *gorm.DB
}

// Notify validates and persists one notification, returning its id.
func (s *Service) Notify(ctx context.Context, in Input) (string, error) {
	if in.UserID == "" || in.Type == "" || in.Title == "" {
		return "", apperr.Validation("user_id, type and title are required")
	}
	if in.ActionURL != "" {
		if err := validateActionURL(in.ActionURL); err != nil {
			return "", err
		}
	}

	n := domain.Notification{
		UserID:  in.UserID,
		Type:    in.Type,
		Title:   in.Title,
		Message: in.Message,
	}
	if in.RelatedType != "" {
		n.RelatedType = &in.RelatedType
	}
	if in.RelatedID != "" {
		n.RelatedID = &in.RelatedID
	}
	if in.ActionURL != "" {
		n.ActionURL = &in.ActionURL
	}
	if len(in.Data) > 0 {
		b, err := json.Marshal(in.Data)
		if err != nil {
			return "", apperr.Internalf("marshal notification data: %w", err)
		}
		n.Data = datatypes.JSON(b)
	}

	if err := s.DB.WithContext(ctx).Create(&n).Error; err != nil {
		return "", apperr.Internalf("create notification: %w", err)
	}
	return n.ID, nil
}

// BestEffort dispatches and logs failures instead of returning them.
func BestEffort(ctx context.Context, n Notifier, in Input) {
	if n == nil {
		return
	}
	if _, err := n.Notify(ctx, in); err != nil {
		log.Warn().Err(err).Str("user_id", in.UserID).Str("type", in.Type).Msg("notification dispatch failed")
	}
}

// ListForUser returns a user's notifications, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string, unreadOnly bool) ([]domain.Notification, error) {
	q := s.DB.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("read = ?", false)
	}
	var out []domain.Notification
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, apperr.Internalf("list notifications: %w", err)
	}
	return out, nil
}

// MarkRead marks one notification read for its owner.
func (s *Service) MarkRead(ctx context.Context, id, userID string) error {
	var n domain.Notification
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&n).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return apperr.NotFound("Notification not found")
		}
		return apperr.Internalf("load notification: %w", err)
	}
	if n.UserID != userID {
		return apperr.Forbidden("You cannot modify this notification")
	}
	now := time.Now()
	if err := s.DB.WithContext(ctx).Model(&n).Updates(map[string]interface{}{"read": true, "read_at": now}).Error; err != nil {
		return apperr.Internalf("mark notification read: %w", err)
	}
	return nil
}

// validateActionURL enforces the contract: a same-origin relative path with
// no embedded markup or alternate protocol scheme.
func validateActionURL(raw string) error {
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return apperr.Validation("action_url must be a same-origin relative path")
	}
	if strings.ContainsAny(raw, "<>\"'\n\r") {
		return apperr.Validation("action_url must not contain markup")
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" {
		return apperr.Validation("action_url must be a same-origin relative path")
	}
	return nil
}
