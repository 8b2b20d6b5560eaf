// Package domain defines the persistence models for organizer availability:
// weekly windows, breaks, date overrides, booking profiles, calendar
// integrations, and internally booked meetings. These types are mapped with
// GORM and shared across the repository and service layers.
//
// Wall-clock times (window and break bounds) are stored as "HH:MM" strings in
// the organizer's own timezone; they carry no date and are projected to UTC
// instants per calendar date by the timezone package.
package domain

import "time"

// Override types.
const (
	OverrideUnavailable = "unavailable"
	OverrideCustom      = "custom"
)

// Meeting statuses.
const (
	MeetingConfirmed = "confirmed"
	MeetingCancelled = "cancelled"
)

// WeeklyWindow is the recurring availability of an organizer on one
// day of the week. There is exactly one row per (organizer, day_of_week);
// rows are created in bulk when a schedule is initialized and replaced in
// place afterwards.
//
// Fields:
//   - DayOfWeek: ISO weekday, 1 (Monday) .. 7 (Sunday).
//   - IsAvailable: when false, StartTime and EndTime are nil.
//   - StartTime / EndTime: local wall-clock bounds ("HH:MM").
//   - Breaks: sub-day blocks removed from the window, ordered by SortOrder.
type WeeklyWindow struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	OrganizerID string    `json:"organizer_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_weekly_org_day,priority:1"`
	DayOfWeek   int       `json:"day_of_week"  gorm:"not null;uniqueIndex:ux_weekly_org_day,priority:2;check:day_of_week BETWEEN 1 AND 7"`
	IsAvailable bool      `json:"is_available" gorm:"not null;default:false"`
	StartTime   *string   `json:"start_time,omitempty" gorm:"type:varchar(5)"`
	EndTime     *string   `json:"end_time,omitempty"   gorm:"type:varchar(5)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Breaks []Break `json:"breaks" gorm:"foreignKey:WeeklyWindowID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for WeeklyWindow.
func (WeeklyWindow) TableName() string { return "weekly_windows" }

// Break is a sub-day interval removed from its parent weekly window. Breaks
// are replaced wholesale whenever the window's breaks are edited.
type Break struct {
	ID             string    `json:"id"               gorm:"type:char(36);primaryKey"`
	WeeklyWindowID string    `json:"weekly_window_id" gorm:"type:char(36);not null;index"`
	StartTime      string    `json:"start_time"       gorm:"type:varchar(5);not null"`
	EndTime        string    `json:"end_time"         gorm:"type:varchar(5);not null"`
	SortOrder      int       `json:"sort_order"       gorm:"not null;default:0"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for Break.
func (Break) TableName() string { return "schedule_breaks" }

// Override is a date-specific exception that supersedes the weekly window for
// exactly one calendar date. A custom override carries its own window and no
// breaks; an unavailable override blocks the whole day.
type Override struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	OrganizerID string    `json:"organizer_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_override_org_date,priority:1"`
	Date        string    `json:"date"         gorm:"type:varchar(10);not null;uniqueIndex:ux_override_org_date,priority:2"`
	Type        string    `json:"type"         gorm:"type:varchar(16);not null;check:type IN ('unavailable','custom')"`
	StartTime   *string   `json:"start_time,omitempty" gorm:"type:varchar(5)"`
	EndTime     *string   `json:"end_time,omitempty"   gorm:"type:varchar(5)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Override.
func (Override) TableName() string { return "schedule_overrides" }

// Profile carries the organizer's booking settings.
type Profile struct {
	OrganizerID         string    `json:"organizer_id"          gorm:"type:varchar(64);primaryKey"`
	Timezone            string    `json:"timezone"              gorm:"type:varchar(64);not null;default:'UTC'"`
	SlotDurationMinutes int       `json:"slot_duration_minutes" gorm:"not null;default:30"`
	BufferMinutes       int       `json:"buffer_minutes"        gorm:"not null;default:0"`
	AdvanceBookingDays  int       `json:"advance_booking_days"  gorm:"not null;default:60"`
	MinAdvanceHours     int       `json:"min_advance_hours"     gorm:"not null;default:0"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// TableName returns the database table name for Profile.
func (Profile) TableName() string { return "booking_profiles" }

// CalendarIntegration is one connection to an external calendar provider.
// Secret is exposed already decrypted by the store (an OAuth token JSON for
// Google, an app password for CalDAV); it is never serialized.
//
// Fields:
//   - Provider: "google", "caldav", "icloud", or "ics".
//   - CalendarID: Google calendar id, CalDAV calendar path, or feed URL.
//   - Endpoint: CalDAV server root (ignored by other providers).
type CalendarIntegration struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	OrganizerID string    `json:"organizer_id" gorm:"type:varchar(64);not null;index:idx_integration_org"`
	Provider    string    `json:"provider"     gorm:"type:varchar(16);not null"`
	Name        string    `json:"name"         gorm:"type:varchar(255)"`
	CalendarID  string    `json:"calendar_id"  gorm:"type:text;not null"`
	Endpoint    string    `json:"endpoint,omitempty" gorm:"type:text"`
	Username    string    `json:"username,omitempty" gorm:"type:varchar(255)"`
	Secret      string    `json:"-"            gorm:"type:text"`
	Active      bool      `json:"active"       gorm:"not null;default:true"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for CalendarIntegration.
func (CalendarIntegration) TableName() string { return "calendar_integrations" }

// Meeting is a booking made through the engine itself. Confirmed meetings
// count as busy time for their organizer.
type Meeting struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	OrganizerID   string    `json:"organizer_id"   gorm:"type:varchar(64);not null;index:idx_meeting_org_start,priority:1"`
	StartAt       time.Time `json:"start_at"       gorm:"not null;index:idx_meeting_org_start,priority:2"`
	EndAt         time.Time `json:"end_at"         gorm:"not null"`
	Status        string    `json:"status"         gorm:"type:varchar(16);not null;default:'confirmed';check:status IN ('confirmed','cancelled')"`
	Title         string    `json:"title"          gorm:"type:varchar(255)"`
	AttendeeEmail string    `json:"attendee_email" gorm:"type:varchar(255)"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for Meeting.
func (Meeting) TableName() string { return "meetings" }

// BookingKey records the meeting created for a client-supplied
// Idempotency-Key so a retried booking request returns the same meeting
// instead of double-booking. Rows expire after ExpiresAt.
type BookingKey struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	OrganizerID string    `json:"organizer_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_booking_key,priority:1"`
	Key         string    `json:"key"          gorm:"type:varchar(200);not null;uniqueIndex:ux_booking_key,priority:2"`
	MeetingID   string    `json:"meeting_id"   gorm:"type:char(36);not null"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"   gorm:"not null;index"`
}

// TableName returns the database table name for BookingKey.
func (BookingKey) TableName() string { return "booking_keys" }
