package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/careinbox/careinbox/internal/config"
	"github.com/careinbox/careinbox/internal/domain/directory"
	"github.com/careinbox/careinbox/internal/domain/messaging"
	"github.com/careinbox/careinbox/internal/platform/auth"
	"github.com/careinbox/careinbox/internal/platform/db"
	"github.com/careinbox/careinbox/internal/platform/jobs"
	"github.com/careinbox/careinbox/internal/platform/middleware"
	"github.com/careinbox/careinbox/internal/platform/notification"
	"github.com/careinbox/careinbox/internal/platform/presence"
)

func main() {
	root := &cobra.Command{
		Use:   "careinbox-server",
		Short: "Clinic messaging and reminder service",
	}

	root.AddCommand(serveCmd(), workerCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the reminder workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the reminder workers, without the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				n, err := m.Up(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("applied %d migration(s)\n", n)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return err
				}
				for _, s := range statuses {
					state := "pending"
					if s.Applied {
						state = "applied " + s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Printf("%03d %-40s %s\n", s.Version, s.Name, state)
				}
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(fn func(context.Context, *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	migrator := db.NewMigrator(pool, "migrations")
	if err := migrator.EnsureMigrationsTable(ctx); err != nil {
		return err
	}
	return fn(ctx, migrator)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// app holds everything serve and worker modes share.
type app struct {
	cfg        *config.Config
	logger     zerolog.Logger
	tracker    presence.Tracker
	outcomes   *notification.OutcomeLog
	dirService *directory.Service
	msgService *messaging.Service
	worker     *jobs.Worker
	reaper     *jobs.Reaper
	closers    []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("pinging redis: %w", err)
		}
		a.closers = append(a.closers, func() { rdb.Close() })
		a.tracker = presence.NewRedisTracker(rdb)
	} else {
		logger.Warn().Msg("REDIS_URL not set, using in-process presence tracking")
		a.tracker = presence.NewMemoryTracker()
	}

	var emailSender notification.EmailSender
	if cfg.SMTPHost != "" {
		emailSender = notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.MailFrom,
		})
	} else {
		logger.Warn().Msg("SMTP_HOST not set, reminder emails will be recorded but not delivered")
		emailSender = notification.NewMockEmailSender()
	}
	a.outcomes = notification.NewOutcomeLog()

	a.dirService = directory.NewService(directory.NewPGRepository(pool))
	msgRepo := messaging.NewPGRepository(pool)
	jobStore := jobs.NewPGStore(pool)
	a.msgService = messaging.NewService(msgRepo, a.dirService, jobStore, messaging.ServiceConfig{
		NotifyDelay:         cfg.NotifyDelay,
		MaxDeliveryAttempts: cfg.JobMaxTries,
	}, logger)
	debouncer := messaging.NewDebouncer(msgRepo, a.dirService, a.tracker, emailSender,
		notification.NewTemplateEngine(), a.outcomes,
		messaging.DebouncerConfig{
			ActiveGrace:    cfg.ActiveGrace,
			CooldownWindow: cfg.CooldownWindow,
		}, logger)

	a.worker = jobs.NewWorker(jobStore, jobs.WorkerConfig{
		Count:        cfg.WorkerCount,
		PollInterval: cfg.WorkerPoll,
		Lease:        cfg.JobLease,
	}, logger)
	a.worker.Register(messaging.JobKindUnreadReminder, debouncer.HandleJob)

	a.reaper = jobs.NewReaper(jobStore, logger)
	return a, nil
}

func runWorker() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	a, err := buildApp(ctx, cfg, logger, pool)
	if err != nil {
		return err
	}
	defer a.close()

	a.worker.Start(ctx)
	defer a.worker.Stop()
	if err := a.reaper.Start(); err != nil {
		return fmt.Errorf("starting job reaper: %w", err)
	}
	defer a.reaper.Stop()

	logger.Info().Int("workers", cfg.WorkerCount).Msg("reminder workers running")
	<-ctx.Done()
	logger.Info().Msg("shutting down")
	return nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	a, err := buildApp(ctx, cfg, logger, pool)
	if err != nil {
		return err
	}
	defer a.close()

	a.worker.Start(ctx)
	defer a.worker.Stop()
	if err := a.reaper.Start(); err != nil {
		return fmt.Errorf("starting job reaper: %w", err)
	}
	defer a.reaper.Stop()

	// HTTP server.
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{cfg.CORSOrigins},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
	}))

	e.GET("/health", func(c echo.Context) error {
		if err := pool.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api := e.Group("/api/v1")
	if cfg.IsDev() && cfg.JWTSecret == "" && cfg.AuthIssuer == "" {
		logger.Warn().Msg("running with development authentication")
		api.Use(auth.DevAuthMiddleware())
	} else {
		api.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.JWTSecret),
		}))
	}
	api.Use(presence.TouchMiddleware(a.tracker, logger))

	directory.NewHandler(a.dirService).Register(api)
	messaging.NewHandler(a.msgService).Register(api)
	notification.NewHandler(a.outcomes).Register(api)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}
