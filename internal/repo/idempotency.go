// Package repo implements the data persistence layer for availability data,
// backed by GORM. This file provides repository helpers for booking keys,
// which give POST /meetings safe-retry semantics.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-availability-engine/internal/domain"
)

// ErrDuplicate indicates that a booking key already exists for the given
// (organizer_id, key) pair.
var ErrDuplicate = errors.New("duplicate")

// GetBookingKey returns a non-expired record or ErrNotFound.
func GetBookingKey(ctx context.Context, db *gorm.DB, organizerID, key string, now time.Time) (*domain.BookingKey, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.BookingKey
	err := db.WithContext(ctx).
		Where("organizer_id = ? AND key = ? AND expires_at > ?", organizerID, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateBookingKey inserts a record and returns ErrDuplicate on unique
// violation. Expired rows for the same pair are purged first so a key can be
// reused after its TTL.
func CreateBookingKey(ctx context.Context, db *gorm.DB, organizerID, key, meetingID string, ttl time.Duration) (*domain.BookingKey, error) {
	now := time.Now().UTC()
	if err := db.WithContext(ctx).
		Where("organizer_id = ? AND key = ? AND expires_at <= ?", organizerID, key, now).
		Delete(&domain.BookingKey{}).Error; err != nil {
		return nil, err
	}
	rec := &domain.BookingKey{
		ID:          uuid.NewString(),
		OrganizerID: organizerID,
		Key:         key,
		MeetingID:   meetingID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}
