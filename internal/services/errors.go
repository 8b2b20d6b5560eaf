// Package services defines the business logic of the availability engine:
// resolving a day's window, computing bookable slots, booking meetings, and
// editing schedules. This file centralizes service-level error values so that
// they can be consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer. Timezone failures are not redeclared here: they surface
// as timezone.ErrInvalidTimezone and timezone.ErrAmbiguousLocalTime.
package services

import (
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-availability-engine/internal/repo"
)

// Lookup errors.
var (
	// ErrOrganizerNotFound indicates that no booking profile exists for the
	// organizer.
	ErrOrganizerNotFound = errors.New("organizer not found")

	// ErrScheduleNotFound is returned when a weekly window is edited before
	// the organizer's schedule was initialized.
	ErrScheduleNotFound = errors.New("weekly schedule not initialized")

	// ErrOverrideNotFound is returned when deleting an override that does not
	// exist.
	ErrOverrideNotFound = errors.New("override not found")

	// ErrMeetingNotFound indicates that the meeting does not exist, belongs to
	// another organizer, or is already cancelled.
	ErrMeetingNotFound = errors.New("meeting not found")

	// ErrIntegrationNotFound indicates that the calendar integration does not
	// exist for the organizer.
	ErrIntegrationNotFound = errors.New("integration not found")
)

// Validation errors.
var (
	// ErrInvalidDate is returned for dates not in YYYY-MM-DD form.
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidDay is returned for a day of week outside 1..7.
	ErrInvalidDay = errors.New("day of week must be 1..7")

	// ErrInvalidTimeRange is returned for malformed HH:MM values or a range
	// whose end is not after its start.
	ErrInvalidTimeRange = errors.New("invalid time range")

	// ErrInvalidOverride is returned for an unknown override type or a custom
	// override missing its window.
	ErrInvalidOverride = errors.New("invalid override")

	// ErrInvalidProfile is returned when booking settings are out of range.
	ErrInvalidProfile = errors.New("invalid booking profile")

	// ErrInvalidDuration is returned for a requested slot length outside
	// MinSlotMinutes..MaxSlotMinutes.
	ErrInvalidDuration = errors.New("invalid slot duration")

	// ErrRangeTooLong is returned when a multi-day listing exceeds the
	// configured maximum number of days.
	ErrRangeTooLong = errors.New("date range too long")

	// ErrInvalidIntegration is returned when an integration lacks the calendar
	// id or endpoint its provider needs.
	ErrInvalidIntegration = errors.New("integration needs calendar_id or endpoint")

	// ErrUnknownProvider is returned when registering an integration for a
	// provider with no client.
	ErrUnknownProvider = errors.New("unknown calendar provider")
)

// Booking errors.
var (
	// ErrSlotUnavailable is returned when the requested start is not a
	// currently bookable slot.
	ErrSlotUnavailable = errors.New("slot is not available")
)

func isNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}
