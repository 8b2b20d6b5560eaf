// Schedule HTTP handlers.
//
// This file exposes the organizer's configuration:
//   - GET/PUT  /organizers/{id}/profile
//   - GET/POST /organizers/{id}/schedule
//   - PUT      /organizers/{id}/schedule/{day}
//   - PUT      /organizers/{id}/schedule/{day}/breaks
//   - GET      /organizers/{id}/overrides
//   - PUT/DELETE /organizers/{id}/overrides/{date}
//   - GET/POST /organizers/{id}/integrations
//   - DELETE   /organizers/{id}/integrations/{integrationID}
//
// Every successful mutation has already invalidated the organizer's cached
// availability when the handler responds.
package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-availability-engine/internal/domain"
	"github.com/tbourn/go-availability-engine/internal/http/middleware"
)

//
// DTOs
//

// ProfileRequest is the JSON payload for updating booking settings.
type ProfileRequest struct {
	Timezone            string `json:"timezone" binding:"required" example:"Europe/Athens"`
	SlotDurationMinutes int    `json:"slot_duration_minutes" example:"30"`
	BufferMinutes       int    `json:"buffer_minutes" example:"10"`
	AdvanceBookingDays  int    `json:"advance_booking_days" example:"60"`
	MinAdvanceHours     int    `json:"min_advance_hours" example:"2"`
}

// WeeklyWindowRequest is the JSON payload for one day of the weekly schedule.
// Times are ignored when IsAvailable is false.
type WeeklyWindowRequest struct {
	IsAvailable *bool  `json:"is_available" binding:"required" example:"true"`
	StartTime   string `json:"start_time" example:"09:00"`
	EndTime     string `json:"end_time" example:"17:00"`
}

// BreaksRequest replaces all breaks of a day.
type BreaksRequest struct {
	Breaks []domain.ClockRange `json:"breaks"`
}

// OverrideRequest is the JSON payload for a date override.
type OverrideRequest struct {
	Type      string `json:"type" binding:"required,oneof=unavailable custom" example:"custom"`
	StartTime string `json:"start_time" example:"10:00"`
	EndTime   string `json:"end_time" example:"14:00"`
}

// IntegrationRequest registers a calendar connection.
type IntegrationRequest struct {
	Provider   string `json:"provider" binding:"required" example:"caldav"`
	Name       string `json:"name" example:"Work calendar"`
	CalendarID string `json:"calendar_id" example:"/calendars/jane/work/"`
	Endpoint   string `json:"endpoint" example:"https://dav.example.com/"`
	Username   string `json:"username" example:"jane"`
	// Secret is an OAuth token JSON (google) or an app password (caldav).
	Secret string `json:"secret"`
}

// dayParam parses the :day path segment (ISO weekday 1..7).
func dayParam(c *gin.Context) (int, bool) {
	day, err := strconv.Atoi(c.Param("day"))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "day must be 1..7")
		return 0, false
	}
	return day, true
}

//
// Handlers
//

// GetProfile godoc
// @ID          getProfile
// @Summary     Get booking settings
// @Tags        Schedule
// @Produce     json
// @Param       id  path  string  true  "Organizer ID"  example(org-1)
// @Success     200  {object}  domain.Profile
// @Failure     404  {object}  handlers.ErrorResponse  "Organizer not found"
// @Router      /organizers/{id}/profile [get]
func (h *Handlers) GetProfile(c *gin.Context) {
	p, err := h.schedSvc.Profile(c.Request.Context(), middleware.OrganizerID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// PutProfile godoc
// @ID          putProfile
// @Summary     Create or update booking settings
// @Tags        Schedule
// @Accept      json
// @Produce     json
// @Param       id    path  string                   true  "Organizer ID"  example(org-1)
// @Param       body  body  handlers.ProfileRequest  true  "Booking settings"
// @Success     200  {object}  domain.Profile
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /organizers/{id}/profile [put]
func (h *Handlers) PutProfile(c *gin.Context) {
	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	p, err := h.schedSvc.UpdateProfile(c.Request.Context(), domain.Profile{
		OrganizerID:         middleware.OrganizerID(c),
		Timezone:            strings.TrimSpace(req.Timezone),
		SlotDurationMinutes: req.SlotDurationMinutes,
		BufferMinutes:       req.BufferMinutes,
		AdvanceBookingDays:  req.AdvanceBookingDays,
		MinAdvanceHours:     req.MinAdvanceHours,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// GetSchedule godoc
// @ID          getSchedule
// @Summary     Get the weekly schedule
// @Tags        Schedule
// @Produce     json
// @Param       id  path  string  true  "Organizer ID"  example(org-1)
// @Success     200  {array}  domain.WeeklyWindow
// @Router      /organizers/{id}/schedule [get]
func (h *Handlers) GetSchedule(c *gin.Context) {
	ws, err := h.schedSvc.Schedule(c.Request.Context(), middleware.OrganizerID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ws)
}

// InitSchedule godoc
// @ID          initSchedule
// @Summary     Initialize the weekly schedule
// @Description Creates the default week (Mon-Fri 09:00-17:00). Days that already exist are kept.
// @Tags        Schedule
// @Produce     json
// @Param       id  path  string  true  "Organizer ID"  example(org-1)
// @Success     201  {array}  domain.WeeklyWindow
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /organizers/{id}/schedule [post]
func (h *Handlers) InitSchedule(c *gin.Context) {
	ws, err := h.schedSvc.InitializeSchedule(c.Request.Context(), middleware.OrganizerID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, ws)
}

// PutWeeklyWindow godoc
// @ID          putWeeklyWindow
// @Summary     Update one day of the weekly schedule
// @Tags        Schedule
// @Accept      json
// @Produce     json
// @Param       id    path  string                        true  "Organizer ID"         example(org-1)
// @Param       day   path  int                           true  "ISO weekday (1=Mon)"  minimum(1) maximum(7)
// @Param       body  body  handlers.WeeklyWindowRequest  true  "Window"
// @Success     200  {object}  domain.WeeklyWindow
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Router      /organizers/{id}/schedule/{day} [put]
func (h *Handlers) PutWeeklyWindow(c *gin.Context) {
	day, valid := dayParam(c)
	if !valid {
		return
	}
	var req WeeklyWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "is_available required")
		return
	}
	w, err := h.schedSvc.UpdateWeeklyWindow(c.Request.Context(), middleware.OrganizerID(c), day, *req.IsAvailable, req.StartTime, req.EndTime)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, w)
}

// PutBreaks godoc
// @ID          putBreaks
// @Summary     Replace a day's breaks
// @Tags        Schedule
// @Accept      json
// @Produce     json
// @Param       id    path  string                  true  "Organizer ID"         example(org-1)
// @Param       day   path  int                     true  "ISO weekday (1=Mon)"  minimum(1) maximum(7)
// @Param       body  body  handlers.BreaksRequest  true  "Breaks"
// @Success     200  {object}  domain.WeeklyWindow
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Schedule not initialized"
// @Router      /organizers/{id}/schedule/{day}/breaks [put]
func (h *Handlers) PutBreaks(c *gin.Context) {
	day, valid := dayParam(c)
	if !valid {
		return
	}
	var req BreaksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	w, err := h.schedSvc.ReplaceBreaks(c.Request.Context(), middleware.OrganizerID(c), day, req.Breaks)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, w)
}

// ListOverrides godoc
// @ID          listOverrides
// @Summary     List date overrides
// @Tags        Schedule
// @Produce     json
// @Param       id    path   string  true  "Organizer ID"        example(org-1)
// @Param       from  query  string  true  "First date (YYYY-MM-DD)"  example(2026-03-01)
// @Param       to    query  string  true  "Last date (YYYY-MM-DD)"   example(2026-03-31)
// @Success     200  {array}  domain.Override
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Router      /organizers/{id}/overrides [get]
func (h *Handlers) ListOverrides(c *gin.Context) {
	list, err := h.schedSvc.Overrides(c.Request.Context(), middleware.OrganizerID(c), c.Query("from"), c.Query("to"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, list)
}

// PutOverride godoc
// @ID          putOverride
// @Summary     Create or replace a date override
// @Tags        Schedule
// @Accept      json
// @Produce     json
// @Param       id    path  string                    true  "Organizer ID"       example(org-1)
// @Param       date  path  string                    true  "Date (YYYY-MM-DD)"  example(2026-03-02)
// @Param       body  body  handlers.OverrideRequest  true  "Override"
// @Success     200  {object}  domain.Override
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Router      /organizers/{id}/overrides/{date} [put]
func (h *Handlers) PutOverride(c *gin.Context) {
	var req OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "type must be unavailable or custom")
		return
	}
	o, err := h.schedSvc.SetOverride(c.Request.Context(), middleware.OrganizerID(c), c.Param("date"), req.Type, req.StartTime, req.EndTime)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}

// DeleteOverride godoc
// @ID          deleteOverride
// @Summary     Remove a date override
// @Tags        Schedule
// @Param       id    path  string  true  "Organizer ID"       example(org-1)
// @Param       date  path  string  true  "Date (YYYY-MM-DD)"  example(2026-03-02)
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Override not found"
// @Router      /organizers/{id}/overrides/{date} [delete]
func (h *Handlers) DeleteOverride(c *gin.Context) {
	if err := h.schedSvc.DeleteOverride(c.Request.Context(), middleware.OrganizerID(c), c.Param("date")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// ListIntegrations godoc
// @ID          listIntegrations
// @Summary     List calendar integrations
// @Tags        Integrations
// @Produce     json
// @Param       id  path  string  true  "Organizer ID"  example(org-1)
// @Success     200  {array}  domain.CalendarIntegration
// @Router      /organizers/{id}/integrations [get]
func (h *Handlers) ListIntegrations(c *gin.Context) {
	list, err := h.schedSvc.Integrations(c.Request.Context(), middleware.OrganizerID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, list)
}

// AddIntegration godoc
// @ID          addIntegration
// @Summary     Connect a calendar
// @Description Registers a google, caldav, icloud, or ics calendar whose busy time blocks slots.
// @Tags        Integrations
// @Accept      json
// @Produce     json
// @Param       id    path  string                       true  "Organizer ID"  example(org-1)
// @Param       body  body  handlers.IntegrationRequest  true  "Integration"
// @Success     201  {object}  domain.CalendarIntegration
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Router      /organizers/{id}/integrations [post]
func (h *Handlers) AddIntegration(c *gin.Context) {
	var req IntegrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "provider required")
		return
	}
	in, err := h.schedSvc.AddIntegration(c.Request.Context(), domain.CalendarIntegration{
		OrganizerID: middleware.OrganizerID(c),
		Provider:    req.Provider,
		Name:        strings.TrimSpace(req.Name),
		CalendarID:  strings.TrimSpace(req.CalendarID),
		Endpoint:    strings.TrimSpace(req.Endpoint),
		Username:    req.Username,
		Secret:      req.Secret,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, in)
}

// DeleteIntegration godoc
// @ID          deleteIntegration
// @Summary     Disconnect a calendar
// @Tags        Integrations
// @Param       id             path  string  true  "Organizer ID"    example(org-1)
// @Param       integrationID  path  string  true  "Integration ID"  format(uuid)
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Integration not found"
// @Router      /organizers/{id}/integrations/{integrationID} [delete]
func (h *Handlers) DeleteIntegration(c *gin.Context) {
	err := h.schedSvc.DeactivateIntegration(c.Request.Context(), middleware.OrganizerID(c), c.Param("integrationID"))
	if err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
