package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/qflow/qflow/internal/config"
	"github.com/qflow/qflow/internal/domain/clinic"
	"github.com/qflow/qflow/internal/domain/pathway"
	"github.com/qflow/qflow/internal/domain/pin"
	"github.com/qflow/qflow/internal/domain/queue"
	"github.com/qflow/qflow/internal/domain/scheduler"
	"github.com/qflow/qflow/internal/platform/auth"
	"github.com/qflow/qflow/internal/platform/clock"
	"github.com/qflow/qflow/internal/platform/db"
	"github.com/qflow/qflow/internal/platform/guard"
	"github.com/qflow/qflow/internal/platform/kv"
	"github.com/qflow/qflow/internal/platform/metrics"
	"github.com/qflow/qflow/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "qflow-server",
		Short: "Queue and routing engine for multi-station examination facilities",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newPinsCmd())
	rootCmd.AddCommand(newTickCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// repos bundles one repository per domain so the two storage bindings
// can be selected in a single place.
type repos struct {
	clinics  clinic.Repository
	pins     pin.Repository
	queues   queue.Repository
	routes   pathway.Repository
	pool     interface{ Close() } // nil unless postgres
	closeKV  func() error         // nil unless sqlite
	dbHealth echo.HandlerFunc     // nil unless postgres
}

func openRepos(ctx context.Context, cfg *config.Config) (*repos, error) {
	switch cfg.Store {
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return &repos{
			clinics:  clinic.NewRepo(pool),
			pins:     pin.NewRepo(pool),
			queues:   queue.NewRepo(pool),
			routes:   pathway.NewRepo(pool),
			pool:     pool,
			dbHealth: db.HealthHandler(pool),
		}, nil

	case "sqlite":
		sq, err := kv.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		store := guard.WrapStore(sq, guard.NewBreaker(guard.BreakerConfig{}))
		r := kvRepos(store)
		r.closeKV = sq.Close
		return r, nil

	default: // memory
		store := guard.WrapStore(kv.NewMemory(), guard.NewBreaker(guard.BreakerConfig{}))
		return kvRepos(store), nil
	}
}

func kvRepos(store kv.Store) *repos {
	return &repos{
		clinics: clinic.NewKVRepo(store),
		pins:    pin.NewKVRepo(store),
		queues:  queue.NewKVRepo(store),
		routes:  pathway.NewKVRepo(store),
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cal, err := clock.NewCalendar(cfg.FacilityTZ, cfg.DayRollover, clock.System())
	if err != nil {
		return fmt.Errorf("facility calendar: %w", err)
	}

	r, err := openRepos(ctx, cfg)
	if err != nil {
		return err
	}
	if r.pool != nil {
		defer r.pool.Close()
	}
	if r.closeKV != nil {
		defer r.closeKV()
	}

	mx := metrics.New()
	noShowWait := time.Duration(cfg.NoShowSeconds) * time.Second

	clinics := clinic.NewService(r.clinics)
	if err := clinics.Seed(ctx); err != nil {
		return fmt.Errorf("seed clinics: %w", err)
	}
	pins := pin.NewService(r.pins, cal, cfg.PinMin, cfg.PinMax, logger)
	pins.SetMetrics(mx)
	paths := pathway.NewService(r.routes, clock.System(), logger)
	queues := queue.NewService(r.queues, cal, clinics, pins, paths,
		noShowWait, cfg.ClinicCapacity, logger)
	queues.SetMetrics(mx)
	sched := scheduler.NewService(clinics, queues, noShowWait, logger)
	sched.SetMetrics(mx)

	sessions := auth.NewSessions(cfg.JWTSecret, 0)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
	}))
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "ok",
			"day":    string(cal.Today()),
		})
	})
	if r.dbHealth != nil {
		e.GET("/health/db", r.dbHealth)
	}
	e.GET("/metrics", mx.Handler())

	api := e.Group("/api/v1")
	api.Use(sessions.Middleware(false))

	// One operator key guards the admin surface and the cron trigger.
	opsKey := middleware.CronKey(cfg.CronSecret)

	auth.NewHandler(sessions).RegisterRoutes(api)
	clinic.NewHandler(clinics).RegisterRoutes(api, opsKey)
	pin.NewHandler(pins).RegisterRoutes(api, opsKey)
	pathway.NewHandler(paths).RegisterRoutes(api)
	queue.NewHandler(queues).RegisterRoutes(api, opsKey)
	scheduler.NewHandler(sched).RegisterRoutes(api, opsKey)

	if cfg.CallIntervalSeconds > 0 {
		go sched.Run(ctx, time.Duration(cfg.CallIntervalSeconds)*time.Second)
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("store", cfg.Store).
			Str("tz", cfg.FacilityTZ).
			Str("rollover", cfg.DayRollover).
			Msg("server starting")
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newMigrateCmd() *cobra.Command {
	var dir string

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations (postgres only)",
	}
	migrateCmd.PersistentFlags().StringVar(&dir, "dir", "migrations", "migrations directory")

	withMigrator := func(fn func(ctx context.Context, m *db.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrations")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return fmt.Errorf("connect to postgres: %w", err)
			}
			defer pool.Close()
			return fn(ctx, db.NewMigrator(pool, dir))
		}
	}

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: withMigrator(func(ctx context.Context, m *db.Migrator) error {
			n, err := m.Up(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("applied %d migration(s)\n", n)
			return nil
		}),
	})
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: withMigrator(func(ctx context.Context, m *db.Migrator) error {
			statuses, err := m.Status(ctx)
			if err != nil {
				return err
			}
			for _, st := range statuses {
				mark := "pending"
				if st.Applied {
					mark = "applied " + st.AppliedAt.Format(time.RFC3339)
				}
				fmt.Printf("%04d  %-40s %s\n", st.Version, st.Name, mark)
			}
			return nil
		}),
	})
	return migrateCmd
}

func newPinsCmd() *cobra.Command {
	var clinicID string

	pinsCmd := &cobra.Command{
		Use:   "pins",
		Short: "Operate on daily verification codes",
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Rotate today's codes for all clinics, or one with --clinic",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Store == "memory" {
				return fmt.Errorf("the memory store lives inside the server process; use POST /api/v1/pins/reset instead")
			}
			logger := newLogger(cfg)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			r, err := openRepos(ctx, cfg)
			if err != nil {
				return err
			}
			if r.pool != nil {
				defer r.pool.Close()
			}
			if r.closeKV != nil {
				defer r.closeKV()
			}

			cal, err := clock.NewCalendar(cfg.FacilityTZ, cfg.DayRollover, clock.System())
			if err != nil {
				return err
			}
			svc := pin.NewService(r.pins, cal, cfg.PinMin, cfg.PinMax, logger)

			if clinicID != "" {
				rec, err := svc.ResetOne(ctx, clinicID)
				if err != nil {
					return err
				}
				fmt.Printf("clinic %s: new code issued for %s\n", rec.Clinic, rec.Day)
				return nil
			}
			n, err := svc.ResetAll(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("rotated %d active code(s)\n", n)
			return nil
		},
	}
	resetCmd.Flags().StringVar(&clinicID, "clinic", "", "reset a single clinic")

	pinsCmd.AddCommand(resetCmd)
	return pinsCmd
}

// newTickCmd triggers one auto-call cycle on a running server. Queue state
// lives in the server process, so the trigger goes over HTTP rather than
// opening the store directly.
func newTickCmd() *cobra.Command {
	var serverURL string

	tickCmd := &cobra.Command{
		Use:   "tick",
		Short: "Trigger one auto-call scheduler cycle on a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if serverURL == "" {
				serverURL = "http://localhost:" + cfg.Port
			}

			req, err := http.NewRequest(http.MethodPost, serverURL+"/api/v1/scheduler/tick", nil)
			if err != nil {
				return err
			}
			req.Header.Set(middleware.CronKeyHeader, cfg.CronSecret)

			client := &http.Client{Timeout: 30 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("trigger tick: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("tick failed with status %d", resp.StatusCode)
			}
			fmt.Println("tick triggered")
			return nil
		},
	}
	tickCmd.Flags().StringVar(&serverURL, "server", "", "base URL of the running server (default http://localhost:$PORT)")
	return tickCmd
}
