// Package config provides application configuration loaded from environment
// variables with defaults and validation. It covers the HTTP server, the
// database, the availability engine (cache, breakers, provider timeouts),
// calendar provider credentials, rate limiting, and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the storage backend.
type DBConfig struct {
	Driver string // sqlite|postgres
	Path   string // SQLite file
	URL    string // Postgres DSN
}

// EngineConfig tunes slot computation and busy-time aggregation.
type EngineConfig struct {
	CacheTTL         time.Duration // AVAILABILITY_CACHE_TTL
	CacheMaxEntries  int           // AVAILABILITY_CACHE_MAX_ENTRIES
	BreakerThreshold int           // BREAKER_FAILURE_THRESHOLD
	BreakerCooldown  time.Duration // BREAKER_COOLDOWN
	ProviderTimeout  time.Duration // PROVIDER_TIMEOUT
	MaxRangeDays     int           // MAX_RANGE_DAYS
	DefaultSlotMins  int           // DEFAULT_SLOT_MINUTES
	BookingKeyTTL    time.Duration // BOOKING_KEY_TTL
}

// ProvidersConfig carries calendar provider credentials shared by all
// organizers. Per-integration secrets live in the database.
type ProvidersConfig struct {
	GoogleClientID        string
	GoogleClientSecret    string
	CalDAVDefaultEndpoint string
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool
	SwaggerEnabled bool
	APIBasePath    string

	DB        DBConfig
	Engine    EngineConfig
	Providers ProvidersConfig

	// Rate limiting
	RateRPS   float64
	RateBurst int

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables, applies defaults,
// normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "availability.db"),
			URL:    getenv("DATABASE_URL", ""),
		},

		Engine: EngineConfig{
			CacheTTL:         getdur("AVAILABILITY_CACHE_TTL", 30*time.Second),
			CacheMaxEntries:  getint("AVAILABILITY_CACHE_MAX_ENTRIES", 4096),
			BreakerThreshold: getint("BREAKER_FAILURE_THRESHOLD", 5),
			BreakerCooldown:  getdur("BREAKER_COOLDOWN", 30*time.Second),
			ProviderTimeout:  getdur("PROVIDER_TIMEOUT", 5*time.Second),
			MaxRangeDays:     getint("MAX_RANGE_DAYS", 14),
			DefaultSlotMins:  getint("DEFAULT_SLOT_MINUTES", 30),
			BookingKeyTTL:    getdur("BOOKING_KEY_TTL", 24*time.Hour),
		},

		Providers: ProvidersConfig{
			GoogleClientID:        getenv("GOOGLE_CLIENT_ID", ""),
			GoogleClientSecret:    getenv("GOOGLE_CLIENT_SECRET", ""),
			CalDAVDefaultEndpoint: getenv("CALDAV_DEFAULT_ENDPOINT", ""),
		},

		RateRPS:   getfloat("RATE_RPS", 10.0),
		RateBurst: getint("RATE_BURST", 20),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "availability-engine"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" {
		cfg.DB.Driver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", cfg.DB.Driver)
	}
	if err := cfg.Engine.validate(); err != nil {
		return cfg, err
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

func (e EngineConfig) validate() error {
	switch {
	case e.CacheTTL <= 0:
		return errors.New("AVAILABILITY_CACHE_TTL must be > 0")
	case e.CacheMaxEntries < 1:
		return errors.New("AVAILABILITY_CACHE_MAX_ENTRIES must be >= 1")
	case e.BreakerThreshold < 1:
		return errors.New("BREAKER_FAILURE_THRESHOLD must be >= 1")
	case e.BreakerCooldown <= 0:
		return errors.New("BREAKER_COOLDOWN must be > 0")
	case e.ProviderTimeout <= 0:
		return errors.New("PROVIDER_TIMEOUT must be > 0")
	case e.MaxRangeDays < 1:
		return errors.New("MAX_RANGE_DAYS must be >= 1")
	case e.DefaultSlotMins < 5 || e.DefaultSlotMins > 480:
		return errors.New("DEFAULT_SLOT_MINUTES must be in [5,480]")
	case e.BookingKeyTTL <= 0:
		return errors.New("BOOKING_KEY_TTL must be > 0")
	}
	return nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
