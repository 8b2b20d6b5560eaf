// Package services – ScheduleService
//
// This file implements the write side of availability: weekly windows and
// their breaks, date overrides, booking profiles, and calendar integrations.
// Inputs are validated here (HH:MM clocks, start before end, ISO weekdays,
// known providers, known zones) so the read path can trust stored data.
//
// Every successful mutation invalidates the organizer's cached availability
// before returning, so a read issued after the write never sees stale data
// from this process.
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-availability-engine/internal/domain"
	"github.com/tbourn/go-availability-engine/internal/timezone"
)

// ScheduleRepo defines the repository contract required by ScheduleService.
type ScheduleRepo interface {
	InitializeSchedule(ctx context.Context, db *gorm.DB, organizerID string, windows []domain.WeeklyWindow) error
	ListWeeklyWindows(ctx context.Context, db *gorm.DB, organizerID string) ([]domain.WeeklyWindow, error)
	GetWeeklyWindow(ctx context.Context, db *gorm.DB, organizerID string, day int) (*domain.WeeklyWindow, error)
	UpsertWeeklyWindow(ctx context.Context, db *gorm.DB, organizerID string, day int, available bool, start, end *string) (*domain.WeeklyWindow, error)
	ReplaceBreaks(ctx context.Context, db *gorm.DB, windowID string, breaks []domain.Break) error

	UpsertOverride(ctx context.Context, db *gorm.DB, organizerID, date, typ string, start, end *string) (*domain.Override, error)
	DeleteOverride(ctx context.Context, db *gorm.DB, organizerID, date string) error
	ListOverrides(ctx context.Context, db *gorm.DB, organizerID, from, to string) ([]domain.Override, error)

	GetProfile(ctx context.Context, db *gorm.DB, organizerID string) (*domain.Profile, error)
	UpsertProfile(ctx context.Context, db *gorm.DB, p domain.Profile) (*domain.Profile, error)

	ListIntegrations(ctx context.Context, db *gorm.DB, organizerID string, activeOnly bool) ([]domain.CalendarIntegration, error)
	CreateIntegration(ctx context.Context, db *gorm.DB, in domain.CalendarIntegration) (*domain.CalendarIntegration, error)
	SetIntegrationActive(ctx context.Context, db *gorm.DB, organizerID, id string, active bool) error
}

// Invalidator drops cached availability for an organizer.
type Invalidator interface {
	InvalidateAvailability(organizerID string)
}

// ScheduleService edits the data availability is computed from.
type ScheduleService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the schedule repository used by this service.
	Repo ScheduleRepo
	// Invalidator is told about every successful mutation.
	Invalidator Invalidator

	Projector *timezone.Projector
	// Providers lists the accepted CalendarIntegration.Provider values.
	Providers []string
}

// NewScheduleService constructs a ScheduleService.
func NewScheduleService(db *gorm.DB, r ScheduleRepo, inv Invalidator, providers []string) *ScheduleService {
	return &ScheduleService{
		DB:          db,
		Repo:        r,
		Invalidator: inv,
		Projector:   timezone.NewProjector(),
		Providers:   providers,
	}
}

// DefaultWeek is the schedule created by InitializeSchedule: Monday to
// Friday 09:00-17:00, weekend unavailable.
func DefaultWeek() []domain.WeeklyWindow {
	out := make([]domain.WeeklyWindow, 0, 7)
	for day := 1; day <= 7; day++ {
		w := domain.WeeklyWindow{DayOfWeek: day}
		if day <= 5 {
			start, end := "09:00", "17:00"
			w.IsAvailable, w.StartTime, w.EndTime = true, &start, &end
		}
		out = append(out, w)
	}
	return out
}

// InitializeSchedule creates the default week for the organizer. Days that
// already exist are left as they are.
func (s *ScheduleService) InitializeSchedule(ctx context.Context, organizerID string) ([]domain.WeeklyWindow, error) {
	if err := s.Repo.InitializeSchedule(ctx, s.DB, organizerID, DefaultWeek()); err != nil {
		return nil, err
	}
	s.invalidate(organizerID, "schedule initialized")
	return s.Repo.ListWeeklyWindows(ctx, s.DB, organizerID)
}

// Schedule returns the organizer's weekly windows with breaks.
func (s *ScheduleService) Schedule(ctx context.Context, organizerID string) ([]domain.WeeklyWindow, error) {
	return s.Repo.ListWeeklyWindows(ctx, s.DB, organizerID)
}

// UpdateWeeklyWindow replaces one day's window. An unavailable day clears
// its bounds; an available day needs start < end.
func (s *ScheduleService) UpdateWeeklyWindow(ctx context.Context, organizerID string, day int, available bool, start, end string) (*domain.WeeklyWindow, error) {
	if day < 1 || day > 7 {
		return nil, ErrInvalidDay
	}
	var sp, ep *string
	if available {
		r, err := validRange(start, end)
		if err != nil {
			return nil, err
		}
		sp, ep = &r.Start, &r.End
	}
	w, err := s.Repo.UpsertWeeklyWindow(ctx, s.DB, organizerID, day, available, sp, ep)
	if err != nil {
		return nil, err
	}
	s.invalidate(organizerID, "weekly window updated")
	return w, nil
}

// ReplaceBreaks swaps the breaks of one day's window in a single
// transaction. Breaks keep the given order.
func (s *ScheduleService) ReplaceBreaks(ctx context.Context, organizerID string, day int, breaks []domain.ClockRange) (*domain.WeeklyWindow, error) {
	if day < 1 || day > 7 {
		return nil, ErrInvalidDay
	}
	rows := make([]domain.Break, 0, len(breaks))
	for i, b := range breaks {
		r, err := validRange(b.Start, b.End)
		if err != nil {
			return nil, fmt.Errorf("break %d: %w", i, err)
		}
		rows = append(rows, domain.Break{StartTime: r.Start, EndTime: r.End, SortOrder: i})
	}

	w, err := s.Repo.GetWeeklyWindow(ctx, s.DB, organizerID, day)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}
	if err := s.Repo.ReplaceBreaks(ctx, s.DB, w.ID, rows); err != nil {
		return nil, err
	}
	s.invalidate(organizerID, "breaks replaced")
	return s.Repo.GetWeeklyWindow(ctx, s.DB, organizerID, day)
}

// SetOverride creates or replaces the override for date. Type is
// domain.OverrideUnavailable or domain.OverrideCustom; custom requires a
// valid window.
func (s *ScheduleService) SetOverride(ctx context.Context, organizerID, date, typ, start, end string) (*domain.Override, error) {
	d, err := timezone.ParseDate(date)
	if err != nil {
		return nil, ErrInvalidDate
	}
	var sp, ep *string
	switch typ {
	case domain.OverrideUnavailable:
	case domain.OverrideCustom:
		if strings.TrimSpace(start) == "" || strings.TrimSpace(end) == "" {
			return nil, fmt.Errorf("%w: custom override needs start and end", ErrInvalidOverride)
		}
		r, err := validRange(start, end)
		if err != nil {
			return nil, err
		}
		sp, ep = &r.Start, &r.End
	default:
		return nil, fmt.Errorf("%w: type %q", ErrInvalidOverride, typ)
	}
	o, err := s.Repo.UpsertOverride(ctx, s.DB, organizerID, d.String(), typ, sp, ep)
	if err != nil {
		return nil, err
	}
	s.invalidate(organizerID, "override set")
	return o, nil
}

// DeleteOverride removes the override for date, restoring the weekly window.
func (s *ScheduleService) DeleteOverride(ctx context.Context, organizerID, date string) error {
	d, err := timezone.ParseDate(date)
	if err != nil {
		return ErrInvalidDate
	}
	if err := s.Repo.DeleteOverride(ctx, s.DB, organizerID, d.String()); err != nil {
		if isNotFound(err) {
			return ErrOverrideNotFound
		}
		return err
	}
	s.invalidate(organizerID, "override deleted")
	return nil
}

// Overrides lists overrides between from and to inclusive.
func (s *ScheduleService) Overrides(ctx context.Context, organizerID, from, to string) ([]domain.Override, error) {
	f, err := timezone.ParseDate(from)
	if err != nil {
		return nil, ErrInvalidDate
	}
	t, err := timezone.ParseDate(to)
	if err != nil {
		return nil, ErrInvalidDate
	}
	return s.Repo.ListOverrides(ctx, s.DB, organizerID, f.String(), t.String())
}

// Profile returns the organizer's booking profile.
func (s *ScheduleService) Profile(ctx context.Context, organizerID string) (*domain.Profile, error) {
	p, err := s.Repo.GetProfile(ctx, s.DB, organizerID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrOrganizerNotFound
		}
		return nil, err
	}
	return p, nil
}

// UpdateProfile validates and stores booking settings. Creating a profile
// is what makes an organizer known to the slot listing.
func (s *ScheduleService) UpdateProfile(ctx context.Context, p domain.Profile) (*domain.Profile, error) {
	p.Timezone = strings.TrimSpace(p.Timezone)
	if _, err := s.Projector.Location(p.Timezone); err != nil {
		return nil, err
	}
	switch {
	case p.SlotDurationMinutes < MinSlotMinutes || p.SlotDurationMinutes > MaxSlotMinutes:
		return nil, fmt.Errorf("%w: slot_duration_minutes must be %d..%d", ErrInvalidProfile, MinSlotMinutes, MaxSlotMinutes)
	case p.BufferMinutes < 0 || p.BufferMinutes > MaxBufferMinutes:
		return nil, fmt.Errorf("%w: buffer_minutes must be 0..%d", ErrInvalidProfile, MaxBufferMinutes)
	case p.AdvanceBookingDays < 0:
		return nil, fmt.Errorf("%w: advance_booking_days must be >= 0", ErrInvalidProfile)
	case p.MinAdvanceHours < 0:
		return nil, fmt.Errorf("%w: min_advance_hours must be >= 0", ErrInvalidProfile)
	}
	out, err := s.Repo.UpsertProfile(ctx, s.DB, p)
	if err != nil {
		return nil, err
	}
	s.invalidate(p.OrganizerID, "profile updated")
	return out, nil
}

// Integrations lists the organizer's calendar integrations.
func (s *ScheduleService) Integrations(ctx context.Context, organizerID string) ([]domain.CalendarIntegration, error) {
	return s.Repo.ListIntegrations(ctx, s.DB, organizerID, false)
}

// AddIntegration registers an active calendar connection.
func (s *ScheduleService) AddIntegration(ctx context.Context, in domain.CalendarIntegration) (*domain.CalendarIntegration, error) {
	in.Provider = strings.ToLower(strings.TrimSpace(in.Provider))
	if !s.knownProvider(in.Provider) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, in.Provider)
	}
	in.CalendarID = strings.TrimSpace(in.CalendarID)
	if in.CalendarID == "" && in.Endpoint == "" && in.Provider != "google" {
		return nil, ErrInvalidIntegration
	}
	in.Active = true
	out, err := s.Repo.CreateIntegration(ctx, s.DB, in)
	if err != nil {
		return nil, err
	}
	s.invalidate(in.OrganizerID, "integration added")
	return out, nil
}

// DeactivateIntegration stops querying an integration. Its breaker state is
// left alone; it simply stops being consulted.
func (s *ScheduleService) DeactivateIntegration(ctx context.Context, organizerID, id string) error {
	if err := s.Repo.SetIntegrationActive(ctx, s.DB, organizerID, id, false); err != nil {
		if isNotFound(err) {
			return ErrIntegrationNotFound
		}
		return err
	}
	s.invalidate(organizerID, "integration deactivated")
	return nil
}

func (s *ScheduleService) knownProvider(name string) bool {
	for _, p := range s.Providers {
		if p == name {
			return true
		}
	}
	return false
}

func (s *ScheduleService) invalidate(organizerID, reason string) {
	if s.Invalidator != nil {
		s.Invalidator.InvalidateAvailability(organizerID)
	}
	log.Info().Str("organizer_id", organizerID).Str("change", reason).Msg("schedule changed")
}

// validRange parses both clocks and requires start < end. The returned
// range is in canonical "HH:MM" form.
func validRange(start, end string) (domain.ClockRange, error) {
	s, err := timezone.ParseClock(start)
	if err != nil {
		return domain.ClockRange{}, fmt.Errorf("%w: %v", ErrInvalidTimeRange, err)
	}
	e, err := timezone.ParseClock(end)
	if err != nil {
		return domain.ClockRange{}, fmt.Errorf("%w: %v", ErrInvalidTimeRange, err)
	}
	if e.Minutes() <= s.Minutes() {
		return domain.ClockRange{}, fmt.Errorf("%w: %s must be after %s", ErrInvalidTimeRange, e, s)
	}
	return domain.ClockRange{Start: s.String(), End: e.String()}, nil
}

