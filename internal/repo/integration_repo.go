// Package repo implements the data persistence layer for availability data,
// backed by GORM. This file provides repository functions for calendar
// integrations.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-availability-engine/internal/domain"
)

// ListIntegrations returns all integrations for organizerID. When activeOnly
// is set, deactivated connections are excluded.
func ListIntegrations(ctx context.Context, db *gorm.DB, organizerID string, activeOnly bool) ([]domain.CalendarIntegration, error) {
	var out []domain.CalendarIntegration
	q := db.WithContext(ctx).Where("organizer_id = ?", organizerID)
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	err := q.Order("created_at asc, id asc").Find(&out).Error
	return out, err
}

// CreateIntegration persists a new integration with a fresh UUID.
func CreateIntegration(ctx context.Context, db *gorm.DB, in domain.CalendarIntegration) (*domain.CalendarIntegration, error) {
	now := time.Now().UTC()
	in.ID = uuid.NewString()
	in.CreatedAt, in.UpdatedAt = now, now
	// Select("*") keeps an explicit Active=false from being replaced by the column default.
	if err := db.WithContext(ctx).Select("*").Create(&in).Error; err != nil {
		return nil, err
	}
	return &in, nil
}

// SetIntegrationActive toggles an integration. It returns ErrNotFound when
// the integration does not belong to organizerID.
func SetIntegrationActive(ctx context.Context, db *gorm.DB, organizerID, id string, active bool) error {
	res := db.WithContext(ctx).
		Model(&domain.CalendarIntegration{}).
		Where("id = ? AND organizer_id = ?", id, organizerID).
		Updates(map[string]any{"active": active, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
