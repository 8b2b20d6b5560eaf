// Availability HTTP handlers.
//
// This file exposes the read side of the engine:
//   - GET /organizers/{id}/slots        (bookable slots for one or more dates)
//   - GET /organizers/{id}/days/{date}  (resolved open window for a date)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses. Slot labels follow the viewer's
// Accept-Language.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/language"

	"github.com/tbourn/go-availability-engine/internal/breaker"
	"github.com/tbourn/go-availability-engine/internal/busy"
	"github.com/tbourn/go-availability-engine/internal/domain"
	"github.com/tbourn/go-availability-engine/internal/http/middleware"
	"github.com/tbourn/go-availability-engine/internal/services"
	"github.com/tbourn/go-availability-engine/internal/utils"
)

//
// Service contracts (context-aware)
//

// AvailabilityService computes slots and books meetings.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type AvailabilityService interface {
	// ResolveDayWindow returns the open window of one organizer-local date.
	ResolveDayWindow(ctx context.Context, organizerID, date string) (*domain.DayWindow, error)
	// ListAvailableSlots returns the bookable slots of one date.
	ListAvailableSlots(ctx context.Context, q services.SlotQuery) (*services.DaySlots, error)
	// ListAvailableSlotsRange returns days consecutive dates starting at q.Date.
	ListAvailableSlotsRange(ctx context.Context, q services.SlotQuery, days int) ([]services.DaySlots, error)
	// InvalidateAvailability drops cached busy time of the organizer.
	InvalidateAvailability(organizerID string)
	// BookSlot books a currently available slot; the bool reports a replay.
	BookSlot(ctx context.Context, req services.BookingRequest) (*domain.Meeting, bool, error)
	// CancelMeeting cancels a confirmed meeting.
	CancelMeeting(ctx context.Context, organizerID, meetingID string) error
}

// ScheduleService edits weekly windows, breaks, overrides, profiles, and
// calendar integrations.
type ScheduleService interface {
	InitializeSchedule(ctx context.Context, organizerID string) ([]domain.WeeklyWindow, error)
	Schedule(ctx context.Context, organizerID string) ([]domain.WeeklyWindow, error)
	UpdateWeeklyWindow(ctx context.Context, organizerID string, day int, available bool, start, end string) (*domain.WeeklyWindow, error)
	ReplaceBreaks(ctx context.Context, organizerID string, day int, breaks []domain.ClockRange) (*domain.WeeklyWindow, error)
	SetOverride(ctx context.Context, organizerID, date, typ, start, end string) (*domain.Override, error)
	DeleteOverride(ctx context.Context, organizerID, date string) error
	Overrides(ctx context.Context, organizerID, from, to string) ([]domain.Override, error)
	Profile(ctx context.Context, organizerID string) (*domain.Profile, error)
	UpdateProfile(ctx context.Context, p domain.Profile) (*domain.Profile, error)
	Integrations(ctx context.Context, organizerID string) ([]domain.CalendarIntegration, error)
	AddIntegration(ctx context.Context, in domain.CalendarIntegration) (*domain.CalendarIntegration, error)
	DeactivateIntegration(ctx context.Context, organizerID, id string) error
}

// BreakerAdmin exposes provider circuit breakers to operators.
type BreakerAdmin interface {
	Snapshots() []breaker.Snapshot
	Reset(key string) bool
	ResetAll()
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints of the availability API. It depends on
// abstract service interfaces to keep transport concerns separate from
// business logic.
type Handlers struct {
	availSvc AvailabilityService
	schedSvc ScheduleService
	breakers BreakerAdmin
}

// New constructs and returns a Handlers instance bound to the given services.
func New(availSvc AvailabilityService, schedSvc ScheduleService, breakers BreakerAdmin) *Handlers {
	return &Handlers{availSvc: availSvc, schedSvc: schedSvc, breakers: breakers}
}

//
// DTOs
//

// SlotView is one bookable slot as presented to the viewer.
type SlotView struct {
	Start           string `json:"start" example:"2026-03-02T09:00:00+02:00"`
	End             string `json:"end" example:"2026-03-02T09:30:00+02:00"`
	DurationMinutes int    `json:"duration_minutes" example:"30"`
	Label           string `json:"label" example:"9:00 AM"`
}

// DayView is the slot listing of one organizer-local date.
type DayView struct {
	Date      string         `json:"date" example:"2026-03-02"`
	Available bool           `json:"available"`
	Slots     []SlotView     `json:"slots"`
	Degraded  bool           `json:"degraded"`
	Warnings  []busy.Warning `json:"warnings,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// SlotsResponse wraps the listed days.
type SlotsResponse struct {
	OrganizerID string    `json:"organizer_id" example:"org-1"`
	Timezone    string    `json:"timezone" example:"Europe/Athens"`
	Days        []DayView `json:"days"`
}

//
// Helpers
//

const (
	clock12h = "3:04 PM"
	clock24h = "15:04"
)

var englishMatcher = language.NewMatcher([]language.Tag{language.English})

// clockLayout picks the label layout for an Accept-Language header. English
// (or no preference) reads 12-hour clocks, anything else 24-hour.
func clockLayout(acceptLanguage string) string {
	if strings.TrimSpace(acceptLanguage) == "" {
		return clock12h
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return clock12h
	}
	if _, _, conf := englishMatcher.Match(tags[0]); conf == language.No {
		return clock24h
	}
	return clock12h
}

func presentDay(d services.DaySlots, layout string) DayView {
	out := DayView{
		Date:      d.Date,
		Available: d.Available,
		Slots:     make([]SlotView, 0, len(d.Slots)),
		Degraded:  d.Degraded,
		Warnings:  d.Warnings,
		Error:     d.Error,
	}
	for _, s := range d.Slots {
		out.Slots = append(out.Slots, SlotView{
			Start:           s.Start.Format(time.RFC3339),
			End:             s.End().Format(time.RFC3339),
			DurationMinutes: int(s.Duration / time.Minute),
			Label:           s.Start.Format(layout),
		})
	}
	return out
}

//
// Handlers
//

// ListSlots godoc
// @ID          listSlots
// @Summary     List bookable slots
// @Description Returns bookable slots for one date, or for `days` consecutive dates, rendered in the viewer's timezone. When a calendar provider is unreachable the day is marked degraded instead of failing.
// @Tags        Availability
// @Produce     json
//
// @Param       id               path    string  true   "Organizer ID"                   example(org-1)
// @Param       date             query   string  true   "First date (YYYY-MM-DD, organizer zone)" example(2026-03-02)
// @Param       days             query   int     false  "Number of dates"                minimum(1) default(1)
// @Param       tz               query   string  false  "Viewer IANA timezone"           example(Asia/Tokyo)
// @Param       duration         query   int     false  "Slot length override (minutes)" minimum(5) maximum(480)
// @Param       Accept-Language  header  string  false  "Label locale"                   example(en-US)
//
// @Success     200  {object}  handlers.SlotsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Organizer not found"
// @Failure     422  {object}  handlers.ErrorResponse  "Window starts in a DST gap"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /organizers/{id}/slots [get]
func (h *Handlers) ListSlots(c *gin.Context) {
	days := utils.AtoiDefault(c.Query("days"), 1)
	duration := utils.AtoiDefault(c.Query("duration"), 0)
	if days < 1 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "days must be >= 1")
		return
	}
	if duration != 0 && (duration < services.MinSlotMinutes || duration > services.MaxSlotMinutes) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "duration must be 5..480 minutes")
		return
	}
	q := services.SlotQuery{
		OrganizerID:     middleware.OrganizerID(c),
		Date:            strings.TrimSpace(c.Query("date")),
		ViewerTimezone:  strings.TrimSpace(c.Query("tz")),
		DurationMinutes: duration,
	}

	var list []services.DaySlots
	if days == 1 {
		d, err := h.availSvc.ListAvailableSlots(c.Request.Context(), q)
		if err != nil {
			failErr(c, err)
			return
		}
		list = []services.DaySlots{*d}
	} else {
		var err error
		list, err = h.availSvc.ListAvailableSlotsRange(c.Request.Context(), q, days)
		if err != nil {
			failErr(c, err)
			return
		}
	}

	layout := clockLayout(c.GetHeader("Accept-Language"))
	resp := SlotsResponse{OrganizerID: q.OrganizerID, Days: make([]DayView, 0, len(list))}
	for _, d := range list {
		resp.Timezone = d.Timezone
		resp.Days = append(resp.Days, presentDay(d, layout))
	}
	ok(c, http.StatusOK, resp)
}

// GetDay godoc
// @ID          getDay
// @Summary     Resolve a date's window
// @Description Returns the open window and breaks that apply on a date after overrides.
// @Tags        Availability
// @Produce     json
// @Param       id    path  string  true  "Organizer ID"  example(org-1)
// @Param       date  path  string  true  "Date (YYYY-MM-DD)"  example(2026-03-02)
// @Success     200  {object}  domain.DayWindow
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /organizers/{id}/days/{date} [get]
func (h *Handlers) GetDay(c *gin.Context) {
	dw, err := h.availSvc.ResolveDayWindow(c.Request.Context(), middleware.OrganizerID(c), c.Param("date"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, dw)
}
