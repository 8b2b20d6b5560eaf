// Package repo implements the data persistence layer for availability data,
// backed by GORM. This file provides repository functions for booking
// profiles.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-availability-engine/internal/domain"
)

// GetProfile returns the organizer's profile or ErrNotFound.
func GetProfile(ctx context.Context, db *gorm.DB, organizerID string) (*domain.Profile, error) {
	var p domain.Profile
	if err := db.WithContext(ctx).First(&p, "organizer_id = ?", organizerID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertProfile creates or fully replaces the organizer's profile.
func UpsertProfile(ctx context.Context, db *gorm.DB, p domain.Profile) (*domain.Profile, error) {
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "organizer_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"timezone", "slot_duration_minutes", "buffer_minutes",
				"advance_booking_days", "min_advance_hours", "updated_at",
			}),
		}).
		Select("*").
		Create(&p).Error
	if err != nil {
		return nil, err
	}
	return GetProfile(ctx, db, p.OrganizerID)
}
