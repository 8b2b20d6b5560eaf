// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP
// responses (via the `fail()` helper in this package), and the translation of
// service errors into a status and code. Codes give clients a stable,
// machine-readable error taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, not_found, conflict) mirror common HTTP
//     status semantics to aid interoperability.
//   - Domain-specific codes (e.g., invalid_timezone, range_too_long) name the
//     exact input the client has to fix.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "conflict",
//	  "message": "slot is not available"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-availability-engine/internal/services"
	"github.com/tbourn/go-availability-engine/internal/timezone"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeInvalidTimezone  = "invalid_timezone"
	ErrCodeAmbiguousTime    = "ambiguous_local_time"
	ErrCodeInvalidDate      = "invalid_date"
	ErrCodeInvalidTimeRange = "invalid_time_range"
	ErrCodeRangeTooLong     = "range_too_long"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)

// failErr maps a service error onto the error envelope. Unknown errors are
// reported as 500 with a generic message; the cause goes to the log only.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, timezone.ErrInvalidTimezone):
		fail(c, http.StatusBadRequest, ErrCodeInvalidTimezone, err.Error())
	case errors.Is(err, timezone.ErrAmbiguousLocalTime):
		fail(c, http.StatusUnprocessableEntity, ErrCodeAmbiguousTime, err.Error())
	case errors.Is(err, services.ErrInvalidDate), errors.Is(err, timezone.ErrInvalidDate):
		fail(c, http.StatusBadRequest, ErrCodeInvalidDate, "date must be YYYY-MM-DD")
	case errors.Is(err, services.ErrInvalidTimeRange), errors.Is(err, timezone.ErrInvalidClock):
		fail(c, http.StatusBadRequest, ErrCodeInvalidTimeRange, err.Error())
	case errors.Is(err, services.ErrRangeTooLong):
		fail(c, http.StatusBadRequest, ErrCodeRangeTooLong, err.Error())
	case errors.Is(err, services.ErrInvalidDay),
		errors.Is(err, services.ErrInvalidOverride),
		errors.Is(err, services.ErrInvalidProfile),
		errors.Is(err, services.ErrInvalidDuration),
		errors.Is(err, services.ErrInvalidIntegration),
		errors.Is(err, services.ErrUnknownProvider):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrOrganizerNotFound),
		errors.Is(err, services.ErrScheduleNotFound),
		errors.Is(err, services.ErrOverrideNotFound),
		errors.Is(err, services.ErrMeetingNotFound),
		errors.Is(err, services.ErrIntegrationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrSlotUnavailable):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
	}
}
