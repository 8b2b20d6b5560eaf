// Package repo implements the data persistence layer for availability data,
// backed by GORM. This file provides repository functions for weekly windows
// and their breaks.
//
// Error semantics:
//   - A missing window is reported as ErrNotFound.
//   - Other DB errors are propagated unchanged.
//
// Functions:
//
//   - InitializeSchedule(ctx, db, organizerID, windows) -> error
//     Bulk-inserts one row per day of week; existing days are left untouched.
//
//   - ListWeeklyWindows(ctx, db, organizerID) -> []domain.WeeklyWindow, error
//     Returns all seven days (when initialized) with ordered breaks.
//
//   - GetWeeklyWindow(ctx, db, organizerID, day) -> *domain.WeeklyWindow, error
//     Reads one day's window and its breaks in a single transaction.
//
//   - UpsertWeeklyWindow(ctx, db, organizerID, day, available, start, end) -> *domain.WeeklyWindow, error
//     Replaces the day's window in place.
//
//   - ReplaceBreaks(ctx, db, windowID, breaks) -> error
//     Deletes and reinserts the window's breaks inside one transaction.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-availability-engine/internal/domain"
)

func orderedBreaks(db *gorm.DB) *gorm.DB {
	return db.Order("sort_order asc, start_time asc")
}

// InitializeSchedule inserts windows for organizerID. Rows whose
// (organizer_id, day_of_week) already exist are skipped, so calling it twice
// is harmless.
func InitializeSchedule(ctx context.Context, db *gorm.DB, organizerID string, windows []domain.WeeklyWindow) error {
	if len(windows) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]domain.WeeklyWindow, len(windows))
	for i, w := range windows {
		w.ID = uuid.NewString()
		w.OrganizerID = organizerID
		w.Breaks = nil
		w.CreatedAt, w.UpdatedAt = now, now
		rows[i] = w
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "organizer_id"}, {Name: "day_of_week"}},
			DoNothing: true,
		}).
		Select("*").
		Create(&rows).Error
}

// ListWeeklyWindows returns the organizer's windows ordered by day with their
// breaks preloaded.
func ListWeeklyWindows(ctx context.Context, db *gorm.DB, organizerID string) ([]domain.WeeklyWindow, error) {
	var out []domain.WeeklyWindow
	err := db.WithContext(ctx).
		Preload("Breaks", orderedBreaks).
		Where("organizer_id = ?", organizerID).
		Order("day_of_week asc").
		Find(&out).Error
	return out, err
}

// GetWeeklyWindow returns the window for one ISO weekday. The window row and
// its breaks are read in the same transaction so a concurrent ReplaceBreaks
// is never observed half-applied.
func GetWeeklyWindow(ctx context.Context, db *gorm.DB, organizerID string, day int) (*domain.WeeklyWindow, error) {
	var w domain.WeeklyWindow
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Preload("Breaks", orderedBreaks).
			Where("organizer_id = ? AND day_of_week = ?", organizerID, day).
			First(&w).Error
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// UpsertWeeklyWindow sets the day's availability and bounds. When available
// is false the bounds are cleared regardless of start/end.
func UpsertWeeklyWindow(ctx context.Context, db *gorm.DB, organizerID string, day int, available bool, start, end *string) (*domain.WeeklyWindow, error) {
	if !available {
		start, end = nil, nil
	}
	now := time.Now().UTC()
	row := &domain.WeeklyWindow{
		ID:          uuid.NewString(),
		OrganizerID: organizerID,
		DayOfWeek:   day,
		IsAvailable: available,
		StartTime:   start,
		EndTime:     end,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "organizer_id"}, {Name: "day_of_week"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_available", "start_time", "end_time", "updated_at"}),
		}).
		Select("*").
		Omit("Breaks").
		Create(row).Error
	if err != nil {
		return nil, err
	}
	return GetWeeklyWindow(ctx, db, organizerID, day)
}

// ReplaceBreaks swaps the window's breaks for the given list. IDs and the
// window reference are assigned here; SortOrder follows slice order when
// every input leaves it zero.
func ReplaceBreaks(ctx context.Context, db *gorm.DB, windowID string, breaks []domain.Break) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("weekly_window_id = ?", windowID).Delete(&domain.Break{}).Error; err != nil {
			return err
		}
		if len(breaks) == 0 {
			return nil
		}
		explicitOrder := false
		for _, b := range breaks {
			if b.SortOrder != 0 {
				explicitOrder = true
				break
			}
		}
		now := time.Now().UTC()
		rows := make([]domain.Break, len(breaks))
		for i, b := range breaks {
			b.ID = uuid.NewString()
			b.WeeklyWindowID = windowID
			b.CreatedAt = now
			if !explicitOrder {
				b.SortOrder = i
			}
			rows[i] = b
		}
		return tx.Select("*").Create(&rows).Error
	})
}
