// Package handlers exposes the availability engine over HTTP: slot listing
// and booking, schedule configuration (profile, weekly windows, date
// overrides, calendar integrations) and a small admin surface for breakers
// and the busy-time cache.
//
// Every handler answers in one of two shapes. Successful calls return the
// resource itself as JSON (or an empty 204 for deletes and cancellations).
// Failures return an ErrorResponse whose code a client can switch on; service
// errors are translated to a status and code by failErr in errors.go.
//
// A failed slot listing looks like:
//
//	HTTP/1.1 400 Bad Request
//	{
//	  "request_id": "4c0f5e8a-1b7d-4d8e-9c55-2f6a0b1d3e77",
//	  "code": "invalid_date",
//	  "message": "date must be YYYY-MM-DD"
//	}
//
// and a successful one:
//
//	HTTP/1.1 200 OK
//	{
//	  "organizer_id": "org-1",
//	  "timezone": "Europe/Athens",
//	  "days": [{"date": "2026-03-02", "available": true, "degraded": false,
//	            "slots": [{"start": "2026-03-02T09:00:00+02:00", "end": "2026-03-02T09:30:00+02:00",
//	                       "duration_minutes": 30, "label": "9:00 AM"}]}]
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-availability-engine/internal/http/middleware"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	// Echo of X-Request-ID, for matching a client report to server logs
	RequestID string `json:"request_id,omitempty" example:"4c0f5e8a-1b7d-4d8e-9c55-2f6a0b1d3e77"`
	// One of the ErrCode* constants
	Code string `json:"code" example:"invalid_date"`
	// Safe to show to the organizer or invitee
	Message string `json:"message" example:"date must be YYYY-MM-DD"`
}

// fail writes an ErrorResponse and aborts the chain. Only server faults are
// logged here; 4xx outcomes are already covered by the access log.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		ev := middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg)
		if org := middleware.OrganizerID(c); org != "" {
			ev = ev.Str("organizer_id", org)
		}
		ev.Msg("availability api error")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail lets the router answer unmatched routes and methods with the same
// envelope the handlers use.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent acknowledges deletes, cancellations and admin resets.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
