// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides the request ID injector, the structured access logger,
// and panic recovery:
//
//   - RequestID() reuses or generates X-Request-ID and stores it in the Gin
//     context.
//   - Logger() emits one access log per request carrying request_id,
//     organizer_id (when the route has one), method, route, status and
//     latency. Attendee emails in query strings are masked, and credential
//     headers are never logged.
//   - Recovery() converts panics into the JSON error envelope.
//   - LoggerFrom() returns the request-scoped logger for handlers.
//
// Install in this order: RequestID, Logger, Recovery.
package middleware

import (
	"net/http"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"

	// OrganizerParam is the route parameter holding the organizer id.
	OrganizerParam = "id"

	maxQueryLogLength = 2048
)

var emailRE = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+(@|%40)[a-z0-9.\-]+\.[a-z]{2,}`)

// RequestID attaches (or propagates) a correlation identifier per request.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if rid == "" || len(rid) > 128 {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// OrganizerID returns the organizer id routed for this request, or "".
func OrganizerID(c *gin.Context) string {
	return strings.TrimSpace(c.Param(OrganizerParam))
}

// Logger writes a structured access log for each request.
//
// The level follows the outcome: error for 5xx or collected Gin errors, warn
// for 4xx, info otherwise. A request-scoped logger is stored in the context
// for LoggerFrom.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid, _ := c.Get(requestIDKey)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		l := log.With().
			Str("request_id", asString(rid)).
			Str("organizer_id", OrganizerID(c)).
			Str("method", c.Request.Method).
			Str("route", route).
			Str("remote_ip", c.ClientIP()).
			Str("query", redactQuery(c.Request.URL.RawQuery)).
			Logger()
		c.Set(loggerKey, &l)

		c.Next()

		ev := l.With().
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Int("bytes_out", c.Writer.Size()).
			Logger()

		status := c.Writer.Status()
		switch {
		case len(c.Errors) > 0:
			ev.Error().Str("errors", c.Errors.String()).Msg("request")
		case status >= 500:
			ev.Error().Msg("request")
		case status >= 400:
			ev.Warn().Msg("request")
		default:
			ev.Info().Msg("request")
		}
	}
}

// Recovery intercepts panics, logs a stack trace, and returns a JSON 500.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid, _ := c.Get(requestIDKey)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, asString(rid))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": asString(rid),
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global logger when
// Logger() did not run.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// redactQuery masks email addresses and truncates long query strings.
func redactQuery(q string) string {
	if q == "" {
		return q
	}
	q = emailRE.ReplaceAllString(q, "[REDACTED:email]")
	if len(q) > maxQueryLogLength {
		q = q[:maxQueryLogLength] + "…"
	}
	return q
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
