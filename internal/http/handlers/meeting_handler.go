// Meeting HTTP handlers.
//
// This file exposes bookings made through the engine:
//   - POST   /organizers/{id}/meetings               (book a slot)
//   - DELETE /organizers/{id}/meetings/{meetingID}   (cancel)
//   - POST   /organizers/{id}/availability/invalidate
//
// Idempotency:
// If the client supplies an Idempotency-Key header and an earlier booking with
// the same key succeeded, the original meeting is returned with 200 and
// `Idempotency-Replayed: true` instead of booking again.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-availability-engine/internal/http/middleware"
	"github.com/tbourn/go-availability-engine/internal/services"
)

// BookMeetingRequest is the JSON payload for booking a slot.
type BookMeetingRequest struct {
	// Start is a slot start as returned by the slots listing (RFC3339).
	Start           time.Time `json:"start" binding:"required" example:"2026-03-02T09:00:00Z"`
	DurationMinutes int       `json:"duration_minutes" example:"30"`
	Title           string    `json:"title" binding:"max=255" example:"Intro call"`
	AttendeeEmail   string    `json:"attendee_email" binding:"omitempty,email,max=255" example:"jane@example.com"`
}

// BookMeeting godoc
// @ID          bookMeeting
// @Summary     Book a slot
// @Description Books `start` if it is currently an available slot, checked against fresh calendar data. Supports idempotency via the Idempotency-Key header (same key → same meeting).
// @Tags        Meetings
// @Accept      json
// @Produce     json
// @Param       id               path    string                       true   "Organizer ID"  example(org-1)
// @Param       Idempotency-Key  header  string                       false  "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.BookMeetingRequest  true   "Booking"
// @Success     201  {object}  domain.Meeting
// @Success     200  {object}  domain.Meeting  "Replayed booking"
// @Header      200  {string}  Idempotency-Replayed  "true when replayed"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Organizer not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Slot not available"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /organizers/{id}/meetings [post]
func (h *Handlers) BookMeeting(c *gin.Context) {
	var req BookMeetingRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Start.IsZero() {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "start (RFC3339) required; attendee_email must be an email")
		return
	}
	if req.DurationMinutes != 0 && (req.DurationMinutes < services.MinSlotMinutes || req.DurationMinutes > services.MaxSlotMinutes) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "duration_minutes must be 5..480")
		return
	}
	key, _ := middleware.GetIdempotencyKey(c)

	m, replayed, err := h.availSvc.BookSlot(c.Request.Context(), services.BookingRequest{
		OrganizerID:     middleware.OrganizerID(c),
		Start:           req.Start,
		DurationMinutes: req.DurationMinutes,
		Title:           strings.TrimSpace(req.Title),
		AttendeeEmail:   strings.TrimSpace(req.AttendeeEmail),
		IdempotencyKey:  key,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	if replayed {
		c.Header("Idempotency-Replayed", "true")
		ok(c, http.StatusOK, m)
		return
	}
	ok(c, http.StatusCreated, m)
}

// CancelMeeting godoc
// @ID          cancelMeeting
// @Summary     Cancel a meeting
// @Tags        Meetings
// @Param       id         path  string  true  "Organizer ID"  example(org-1)
// @Param       meetingID  path  string  true  "Meeting ID"    format(uuid)
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Meeting not found"
// @Router      /organizers/{id}/meetings/{meetingID} [delete]
func (h *Handlers) CancelMeeting(c *gin.Context) {
	if err := h.availSvc.CancelMeeting(c.Request.Context(), middleware.OrganizerID(c), c.Param("meetingID")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// InvalidateAvailability godoc
// @ID          invalidateAvailability
// @Summary     Drop cached availability
// @Description Forces the next listing to refetch calendar busy time, e.g. after an external calendar changed.
// @Tags        Availability
// @Param       id  path  string  true  "Organizer ID"  example(org-1)
// @Success     204  {string}  string  "No Content"
// @Router      /organizers/{id}/availability/invalidate [post]
func (h *Handlers) InvalidateAvailability(c *gin.Context) {
	h.availSvc.InvalidateAvailability(middleware.OrganizerID(c))
	noContent(c)
}
