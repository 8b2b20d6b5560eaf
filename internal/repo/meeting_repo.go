// Package repo implements the data persistence layer for availability data,
// backed by GORM. This file provides repository functions for meetings booked
// through the engine.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-availability-engine/internal/domain"
)

// ListMeetings returns confirmed meetings of organizerID overlapping
// [start, end), ordered by start.
func ListMeetings(ctx context.Context, db *gorm.DB, organizerID string, start, end time.Time) ([]domain.Meeting, error) {
	var out []domain.Meeting
	err := db.WithContext(ctx).
		Where("organizer_id = ? AND status = ? AND start_at < ? AND end_at > ?",
			organizerID, domain.MeetingConfirmed, end.UTC(), start.UTC()).
		Order("start_at asc").
		Find(&out).Error
	return out, err
}

// GetMeeting fetches one meeting owned by organizerID, or ErrNotFound.
func GetMeeting(ctx context.Context, db *gorm.DB, organizerID, id string) (*domain.Meeting, error) {
	var m domain.Meeting
	err := db.WithContext(ctx).
		Where("id = ? AND organizer_id = ?", id, organizerID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMeeting inserts a confirmed meeting. Instants are stored in UTC.
func CreateMeeting(ctx context.Context, db *gorm.DB, m domain.Meeting) (*domain.Meeting, error) {
	now := time.Now().UTC()
	m.ID = uuid.NewString()
	m.StartAt = m.StartAt.UTC()
	m.EndAt = m.EndAt.UTC()
	if m.Status == "" {
		m.Status = domain.MeetingConfirmed
	}
	m.CreatedAt, m.UpdatedAt = now, now
	if err := db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// CancelMeeting marks a confirmed meeting cancelled. It returns ErrNotFound
// when no confirmed meeting with that id belongs to organizerID.
func CancelMeeting(ctx context.Context, db *gorm.DB, organizerID, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.Meeting{}).
		Where("id = ? AND organizer_id = ? AND status = ?", id, organizerID, domain.MeetingConfirmed).
		Updates(map[string]any{"status": domain.MeetingCancelled, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
