// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging, panic recovery, metrics, compression,
// CORS, security headers, idempotency, and rate limiting.
//
// Middleware order (RequestID → logging → recovery) keeps every log line and
// error envelope correlated. All dependencies are injected.
package httpapi

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-availability-engine/docs"
	"github.com/tbourn/go-availability-engine/internal/breaker"
	"github.com/tbourn/go-availability-engine/internal/busy"
	"github.com/tbourn/go-availability-engine/internal/cache"
	"github.com/tbourn/go-availability-engine/internal/config"
	"github.com/tbourn/go-availability-engine/internal/domain"
	"github.com/tbourn/go-availability-engine/internal/http/handlers"
	"github.com/tbourn/go-availability-engine/internal/http/middleware"
	"github.com/tbourn/go-availability-engine/internal/providers"
	"github.com/tbourn/go-availability-engine/internal/repo"
	"github.com/tbourn/go-availability-engine/internal/services"
)

// availabilityRepoShim adapts the repository free functions to the
// services.AvailabilityRepo interface.
type availabilityRepoShim struct{}

func (availabilityRepoShim) GetProfile(ctx context.Context, db *gorm.DB, organizerID string) (*domain.Profile, error) {
	return repo.GetProfile(ctx, db, organizerID)
}

func (availabilityRepoShim) GetDaySchedule(ctx context.Context, db *gorm.DB, organizerID, date string, day int) (*domain.Override, *domain.WeeklyWindow, error) {
	return repo.GetDaySchedule(ctx, db, organizerID, date, day)
}

func (availabilityRepoShim) ListIntegrations(ctx context.Context, db *gorm.DB, organizerID string, activeOnly bool) ([]domain.CalendarIntegration, error) {
	return repo.ListIntegrations(ctx, db, organizerID, activeOnly)
}

func (availabilityRepoShim) ListMeetings(ctx context.Context, db *gorm.DB, organizerID string, start, end time.Time) ([]domain.Meeting, error) {
	return repo.ListMeetings(ctx, db, organizerID, start, end)
}

func (availabilityRepoShim) GetMeeting(ctx context.Context, db *gorm.DB, organizerID, id string) (*domain.Meeting, error) {
	return repo.GetMeeting(ctx, db, organizerID, id)
}

func (availabilityRepoShim) CreateMeeting(ctx context.Context, db *gorm.DB, m domain.Meeting) (*domain.Meeting, error) {
	return repo.CreateMeeting(ctx, db, m)
}

func (availabilityRepoShim) CancelMeeting(ctx context.Context, db *gorm.DB, organizerID, id string) error {
	return repo.CancelMeeting(ctx, db, organizerID, id)
}

func (availabilityRepoShim) GetBookingKey(ctx context.Context, db *gorm.DB, organizerID, key string, now time.Time) (*domain.BookingKey, error) {
	return repo.GetBookingKey(ctx, db, organizerID, key, now)
}

func (availabilityRepoShim) CreateBookingKey(ctx context.Context, db *gorm.DB, organizerID, key, meetingID string, ttl time.Duration) (*domain.BookingKey, error) {
	return repo.CreateBookingKey(ctx, db, organizerID, key, meetingID, ttl)
}

// scheduleRepoShim adapts the repository free functions to the
// services.ScheduleRepo interface.
type scheduleRepoShim struct{}

func (scheduleRepoShim) InitializeSchedule(ctx context.Context, db *gorm.DB, organizerID string, windows []domain.WeeklyWindow) error {
	return repo.InitializeSchedule(ctx, db, organizerID, windows)
}

func (scheduleRepoShim) ListWeeklyWindows(ctx context.Context, db *gorm.DB, organizerID string) ([]domain.WeeklyWindow, error) {
	return repo.ListWeeklyWindows(ctx, db, organizerID)
}

func (scheduleRepoShim) GetWeeklyWindow(ctx context.Context, db *gorm.DB, organizerID string, day int) (*domain.WeeklyWindow, error) {
	return repo.GetWeeklyWindow(ctx, db, organizerID, day)
}

func (scheduleRepoShim) UpsertWeeklyWindow(ctx context.Context, db *gorm.DB, organizerID string, day int, available bool, start, end *string) (*domain.WeeklyWindow, error) {
	return repo.UpsertWeeklyWindow(ctx, db, organizerID, day, available, start, end)
}

func (scheduleRepoShim) ReplaceBreaks(ctx context.Context, db *gorm.DB, windowID string, breaks []domain.Break) error {
	return repo.ReplaceBreaks(ctx, db, windowID, breaks)
}

func (scheduleRepoShim) UpsertOverride(ctx context.Context, db *gorm.DB, organizerID, date, typ string, start, end *string) (*domain.Override, error) {
	return repo.UpsertOverride(ctx, db, organizerID, date, typ, start, end)
}

func (scheduleRepoShim) DeleteOverride(ctx context.Context, db *gorm.DB, organizerID, date string) error {
	return repo.DeleteOverride(ctx, db, organizerID, date)
}

func (scheduleRepoShim) ListOverrides(ctx context.Context, db *gorm.DB, organizerID, from, to string) ([]domain.Override, error) {
	return repo.ListOverrides(ctx, db, organizerID, from, to)
}

func (scheduleRepoShim) GetProfile(ctx context.Context, db *gorm.DB, organizerID string) (*domain.Profile, error) {
	return repo.GetProfile(ctx, db, organizerID)
}

func (scheduleRepoShim) UpsertProfile(ctx context.Context, db *gorm.DB, p domain.Profile) (*domain.Profile, error) {
	return repo.UpsertProfile(ctx, db, p)
}

func (scheduleRepoShim) ListIntegrations(ctx context.Context, db *gorm.DB, organizerID string, activeOnly bool) ([]domain.CalendarIntegration, error) {
	return repo.ListIntegrations(ctx, db, organizerID, activeOnly)
}

func (scheduleRepoShim) CreateIntegration(ctx context.Context, db *gorm.DB, in domain.CalendarIntegration) (*domain.CalendarIntegration, error) {
	return repo.CreateIntegration(ctx, db, in)
}

func (scheduleRepoShim) SetIntegrationActive(ctx context.Context, db *gorm.DB, organizerID, id string, active bool) error {
	return repo.SetIntegrationActive(ctx, db, organizerID, id, active)
}

// Engine carries the availability components that outlive a request. Nil
// fields are built from cfg by RegisterRoutes.
type Engine struct {
	// Providers maps provider names to busy-time clients.
	Providers map[string]busy.Provider
	// Breakers guards each provider connection.
	Breakers *breaker.Registry
	// Cache holds busy-time results per organizer and date.
	Cache *cache.Cache[busy.Result]
	// Now overrides the service clock (tests).
	Now func() time.Time
}

// NewServices builds the availability and schedule services over db.
func NewServices(db *gorm.DB, cfg config.Config, eng Engine) (*services.AvailabilityService, *services.ScheduleService, *breaker.Registry) {
	breakers := eng.Breakers
	if breakers == nil {
		breakers = breaker.NewRegistry(breaker.Settings{
			FailureThreshold: cfg.Engine.BreakerThreshold,
			CoolDown:         cfg.Engine.BreakerCooldown,
		})
	}
	provs := eng.Providers
	if provs == nil {
		provs = providers.New(providers.Config{
			GoogleClientID:     cfg.Providers.GoogleClientID,
			GoogleClientSecret: cfg.Providers.GoogleClientSecret,
			CalDAVEndpoint:     cfg.Providers.CalDAVDefaultEndpoint,
		})
	}
	c := eng.Cache
	if c == nil {
		c = cache.New[busy.Result](cfg.Engine.CacheTTL, cfg.Engine.CacheMaxEntries, nil)
	}

	agg := busy.NewAggregator(provs, breakers, cfg.Engine.ProviderTimeout)
	availSvc := services.NewAvailabilityService(db, availabilityRepoShim{}, agg, c)
	if cfg.Engine.DefaultSlotMins > 0 {
		availSvc.DefaultSlotMinutes = cfg.Engine.DefaultSlotMins
	}
	if cfg.Engine.MaxRangeDays > 0 {
		availSvc.MaxRangeDays = cfg.Engine.MaxRangeDays
	}
	if cfg.Engine.BookingKeyTTL > 0 {
		availSvc.BookingKeyTTL = cfg.Engine.BookingKeyTTL
	}
	if eng.Now != nil {
		availSvc.Now = eng.Now
	}

	names := make([]string, 0, len(provs))
	for name := range provs {
		names = append(names, name)
	}
	sort.Strings(names)
	schedSvc := services.NewScheduleService(db, scheduleRepoShim{}, availSvc, names)
	return availSvc, schedSvc, breakers
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the versioned public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access logs with attendee emails masked
//  4. Recovery: capture panics after logger
//  5. Body size limiter and gzip
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per organizer and IP, bypass on replay)
//  9. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config, eng Engine) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured access logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB) and response compression
	r.Use(limitBody(1 << 20))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, organizerID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetBookingKey(ctx, db, organizerID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 8) Token-bucket rate limiter per organizer and IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByOrganizerAndIP())
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Accept-Language", "Authorization", middleware.HeaderIdempotencyKey}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "Retry-After", "Idempotency-Replayed"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist.
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS).
	// Slot listings change with every booking, so API responses are not cached.
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:        cfg.Security.EnableHSTS,
		HSTSMaxAge:        cfg.Security.HSTSMaxAge,
		NoStore:           true,
		EnablePolicy:      true,
		CacheablePrefixes: []string{"/swagger/"},
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/providers
	availSvc, schedSvc, breakers := NewServices(db, cfg, eng)
	h := handlers.New(availSvc, schedSvc, breakers)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		org := api.Group("/organizers/:" + middleware.OrganizerParam)

		// Availability
		org.GET("/slots", h.ListSlots)
		org.GET("/days/:date", h.GetDay)
		org.POST("/availability/invalidate", h.InvalidateAvailability)

		// Profile and weekly schedule
		org.GET("/profile", h.GetProfile)
		org.PUT("/profile", h.PutProfile)
		org.GET("/schedule", h.GetSchedule)
		org.POST("/schedule", h.InitSchedule)
		org.PUT("/schedule/:day", h.PutWeeklyWindow)
		org.PUT("/schedule/:day/breaks", h.PutBreaks)

		// Overrides
		org.GET("/overrides", h.ListOverrides)
		org.PUT("/overrides/:date", h.PutOverride)
		org.DELETE("/overrides/:date", h.DeleteOverride)

		// Calendar integrations
		org.GET("/integrations", h.ListIntegrations)
		org.POST("/integrations", h.AddIntegration)
		org.DELETE("/integrations/:integrationID", h.DeleteIntegration)

		// Meetings
		org.POST("/meetings", h.BookMeeting)
		org.DELETE("/meetings/:meetingID", h.CancelMeeting)

		// Ops
		api.GET("/admin/breakers", h.ListBreakers)
		api.POST("/admin/breakers/reset", h.ResetBreakers)
		api.POST("/admin/breakers/:key/reset", h.ResetBreaker)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
