// Command server runs the availability engine HTTP API and its maintenance
// commands.
//
// @title           Availability Engine API
// @version         1.0
// @description     Computes bookable meeting slots from weekly schedules, date overrides and external calendar busy time.
// @BasePath        /api/v1
// @schemes         http https
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"gorm.io/gorm"

	"github.com/tbourn/go-availability-engine/internal/config"
	httpapi "github.com/tbourn/go-availability-engine/internal/http"
	"github.com/tbourn/go-availability-engine/internal/observability"
	"github.com/tbourn/go-availability-engine/internal/repo"
	"github.com/tbourn/go-availability-engine/internal/services"
	"github.com/tbourn/go-availability-engine/internal/sysutil"
)

var version = "dev"

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "availability-engine",
		Usage:   "Serve bookable meeting slots over HTTP.",
		Version: version,
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			slotsCommand(),
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		log.Error().Err(err).Msg("application failed")
		os.Exit(1)
	}
}

func bootstrap() (config.Config, *gorm.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty)

	db, err := repo.Open(cfg.DB.Driver, dsnFor(cfg.DB))
	if err != nil {
		return cfg, nil, fmt.Errorf("open %s database: %w", cfg.DB.Driver, err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return cfg, nil, fmt.Errorf("migrate: %w", err)
	}
	return cfg, db, nil
}

func dsnFor(db config.DBConfig) string {
	if db.Driver == "postgres" {
		return sysutil.FirstNonEmpty(db.URL, os.Getenv("POSTGRES_DSN"))
	}
	return sysutil.FirstNonEmpty(db.Path, "availability.db")
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API.",
		Action: func(c *cli.Context) error {
			cfg, db, err := bootstrap()
			if err != nil {
				return err
			}

			shutdownOTel, err := observability.SetupOTel(c.Context, cfg.OTEL, version)
			if err != nil {
				return fmt.Errorf("otel: %w", err)
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownOTel(ctx); err != nil {
					log.Warn().Err(err).Msg("otel shutdown")
				}
			}()

			gin.SetMode(cfg.GinMode)
			r := gin.New()
			httpapi.RegisterRoutes(r, db, cfg, httpapi.Engine{})

			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           r,
				ReadTimeout:       cfg.ReadTimeout,
				ReadHeaderTimeout: cfg.ReadHeaderTimeout,
				WriteTimeout:      cfg.WriteTimeout,
				IdleTimeout:       cfg.IdleTimeout,
				MaxHeaderBytes:    cfg.MaxHeaderBytes,
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", srv.Addr).Str("db", cfg.DB.Driver).Msg("listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info().Msg("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the database schema and exit.",
		Action: func(c *cli.Context) error {
			cfg, _, err := bootstrap()
			if err != nil {
				return err
			}
			log.Info().Str("db", cfg.DB.Driver).Msg("schema up to date")
			return nil
		},
	}
}

func slotsCommand() *cli.Command {
	return &cli.Command{
		Name:      "slots",
		Usage:     "Print the bookable slots of an organizer as JSON.",
		ArgsUsage: "ORGANIZER_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "date", Usage: "First day (YYYY-MM-DD) in the organizer's zone.", Required: true},
			&cli.IntFlag{Name: "days", Value: 1, Usage: "Number of consecutive days."},
			&cli.StringFlag{Name: "tz", Usage: "IANA zone to render slots in."},
			&cli.IntFlag{Name: "duration", Usage: "Slot length in minutes; defaults to the profile's."},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("exactly one ORGANIZER_ID is required", 2)
			}
			cfg, db, err := bootstrap()
			if err != nil {
				return err
			}
			availSvc, _, _ := httpapi.NewServices(db, cfg, httpapi.Engine{})

			q := services.SlotQuery{
				OrganizerID:     c.Args().First(),
				Date:            c.String("date"),
				ViewerTimezone:  c.String("tz"),
				DurationMinutes: c.Int("duration"),
			}
			days, err := availSvc.ListAvailableSlotsRange(c.Context, q, c.Int("days"))
			if err != nil {
				return err
			}
			for _, d := range days {
				if d.Degraded {
					log.Warn().Str("date", d.Date).Int("warnings", len(d.Warnings)).Msg("busy time incomplete")
				}
			}
			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(days)
		},
	}
}
