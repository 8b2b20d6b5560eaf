// Package repo implements the data persistence layer for availability data,
// backed by GORM. This file provides repository functions for date overrides.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-availability-engine/internal/domain"
)

// GetOverride returns the override for organizerID on date ("YYYY-MM-DD"),
// or ErrNotFound.
func GetOverride(ctx context.Context, db *gorm.DB, organizerID, date string) (*domain.Override, error) {
	var o domain.Override
	err := db.WithContext(ctx).
		Where("organizer_id = ? AND date = ?", organizerID, date).
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOverrides returns overrides with from <= date <= to, ordered by date.
// Dates compare lexically, which matches calendar order for YYYY-MM-DD.
func ListOverrides(ctx context.Context, db *gorm.DB, organizerID, from, to string) ([]domain.Override, error) {
	var out []domain.Override
	err := db.WithContext(ctx).
		Where("organizer_id = ? AND date >= ? AND date <= ?", organizerID, from, to).
		Order("date asc").
		Find(&out).Error
	return out, err
}

// UpsertOverride creates or replaces the override for (organizer, date).
func UpsertOverride(ctx context.Context, db *gorm.DB, organizerID, date, typ string, start, end *string) (*domain.Override, error) {
	if typ == domain.OverrideUnavailable {
		start, end = nil, nil
	}
	now := time.Now().UTC()
	row := &domain.Override{
		ID:          uuid.NewString(),
		OrganizerID: organizerID,
		Date:        date,
		Type:        typ,
		StartTime:   start,
		EndTime:     end,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "organizer_id"}, {Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{"type", "start_time", "end_time", "updated_at"}),
		}).
		Select("*").
		Create(row).Error
	if err != nil {
		return nil, err
	}
	return GetOverride(ctx, db, organizerID, date)
}

// DeleteOverride removes the override for (organizer, date). It returns
// ErrNotFound when none existed.
func DeleteOverride(ctx context.Context, db *gorm.DB, organizerID, date string) error {
	res := db.WithContext(ctx).
		Where("organizer_id = ? AND date = ?", organizerID, date).
		Delete(&domain.Override{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetDaySchedule reads the override for date and the weekly window for day
// in one transaction. Either result may be nil when absent; only DB failures
// are returned as errors.
func GetDaySchedule(ctx context.Context, db *gorm.DB, organizerID, date string, day int) (*domain.Override, *domain.WeeklyWindow, error) {
	var (
		ov  *domain.Override
		win *domain.WeeklyWindow
	)
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var o domain.Override
		err := tx.Where("organizer_id = ? AND date = ?", organizerID, date).First(&o).Error
		switch {
		case err == nil:
			ov = &o
			return nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		var w domain.WeeklyWindow
		err = tx.Preload("Breaks", orderedBreaks).
			Where("organizer_id = ? AND day_of_week = ?", organizerID, day).
			First(&w).Error
		switch {
		case err == nil:
			win = &w
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return ov, win, nil
}
