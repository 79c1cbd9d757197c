package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/scheduling"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/redislock"
	"github.com/hms/hms/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hms-server",
		Short: "Hospital appointment booking API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(slotsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the booking API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			autoMigrate, _ := cmd.Flags().GetBool("migrate")
			return runServer(autoMigrate)
		},
	}
	cmd.Flags().Bool("migrate", false, "Apply pending migrations before serving")
	return cmd
}

// -- Store --

// store is the opened appointment backend plus what the server needs
// around it.
type store struct {
	driver  db.Driver
	repo    scheduling.AppointmentRepository
	checker db.Checker
	pool    *pgxpool.Pool
	sqlDB   *sql.DB
}

func (s *store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.sqlDB != nil {
		s.sqlDB.Close()
	}
}

func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	switch driver := db.DetectDriver(cfg.DatabaseURL); driver {
	case db.DriverSQLite:
		sqlDB, err := db.OpenSQLite(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &store{
			driver:  driver,
			repo:    scheduling.NewAppointmentRepoSQLite(sqlDB),
			checker: db.SQLiteChecker(sqlDB),
			sqlDB:   sqlDB,
		}, nil
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		return &store{
			driver:  driver,
			repo:    scheduling.NewAppointmentRepoPG(pool),
			checker: db.PostgresChecker(pool),
			pool:    pool,
		}, nil
	}
}

// migrateStore applies pending migrations from fsys and returns how many ran.
func migrateStore(ctx context.Context, st *store, fsys fs.FS, schema string) (int, error) {
	if st.driver == db.DriverSQLite {
		return db.NewSQLiteMigrator(st.sqlDB, fsys, migrations.SQLiteDir).Up(ctx)
	}
	return db.NewMigrator(st.pool, fsys, migrations.PostgresDir).Up(ctx, schema)
}

func migrationStatus(ctx context.Context, st *store, fsys fs.FS, schema string) ([]db.MigrationStatus, error) {
	if st.driver == db.DriverSQLite {
		return db.NewSQLiteMigrator(st.sqlDB, fsys, migrations.SQLiteDir).Status(ctx)
	}
	return db.NewMigrator(st.pool, fsys, migrations.PostgresDir).Status(ctx, schema)
}

// newLocker picks the booking lock backend. The returned close func
// releases any connection the locker owns.
func newLocker(ctx context.Context, cfg *config.Config, st *store) (scheduling.Locker, func(), error) {
	noop := func() {}
	switch cfg.BookingLock {
	case config.LockNone:
		return scheduling.NoopLocker{}, noop, nil
	case config.LockPostgres:
		if st.pool == nil {
			return nil, nil, fmt.Errorf("BOOKING_LOCK=%s requires a PostgreSQL database", config.LockPostgres)
		}
		return db.NewAdvisoryLocker(st.pool), noop, nil
	case config.LockRedis:
		client, err := redislock.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		lcfg := redislock.DefaultConfig()
		lcfg.Wait = cfg.BookingLockWait
		lcfg.TTL = cfg.BookingLockTTL
		return redislock.New(client, lcfg), func() { client.Close() }, nil
	default:
		return scheduling.NewLocalLocker(), noop, nil
	}
}

// -- HTTP --

func newRouter(cfg *config.Config, logger zerolog.Logger, svc *scheduling.Service, checker db.Checker) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader, "Retry-After"},
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(checker))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	apiV1 := e.Group("/api/v1", middleware.RateLimit(rateLimitCfg), middleware.Audit(logger))
	scheduling.NewHandler(svc).RegisterRoutes(apiV1)

	return e
}

func runServer(autoMigrate bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	slotCfg, err := cfg.SlotConfig()
	if err != nil {
		return err
	}

	ctx := logger.WithContext(context.Background())
	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer st.Close()
	logger.Info().Str("driver", string(st.driver)).Msg("connected to database")

	if autoMigrate {
		n, err := migrateStore(ctx, st, migrations.FS, cfg.DBSchema)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info().Int("applied", n).Msg("migrations applied")
	}

	locker, closeLocker, err := newLocker(ctx, cfg, st)
	if err != nil {
		logger.Error().Err(err).Msg("failed to set up booking lock")
		return err
	}
	defer closeLocker()
	logger.Info().Str("booking_lock", cfg.BookingLock).Msg("booking lock ready")

	repo := scheduling.NewBreakerRepo(st.repo, cfg.BreakerConfig())
	svc := scheduling.NewService(repo, locker, slotCfg)
	e := newRouter(cfg, logger, svc, st.checker)

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("timezone", slotCfg.Location.String()).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// -- Migrate --

func migrationsFS(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Running %s migrations on schema: %s\n", st.driver, schema)
			count, err := migrateStore(ctx, st, migrationsFS(dir), schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "public", "Target schema for migrations (PostgreSQL only)")
	upCmd.Flags().String("dir", "", "Migrations directory containing postgres/ and sqlite/ (default: embedded)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			statuses, err := migrationStatus(ctx, st, migrationsFS(dir), schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("schema", "public", "Target schema for migrations (PostgreSQL only)")
	statusCmd.Flags().String("dir", "", "Migrations directory containing postgres/ and sqlite/ (default: embedded)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// -- Slots --

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Print a doctor's available slots for a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			rawDoctor, _ := cmd.Flags().GetString("doctor")
			rawDate, _ := cmd.Flags().GetString("date")

			doctorID, err := uuid.Parse(rawDoctor)
			if err != nil {
				return fmt.Errorf("--doctor must be a UUID: %w", err)
			}
			date, err := civil.ParseDate(rawDate)
			if err != nil {
				return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			slotCfg, err := cfg.SlotConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			svc := scheduling.NewService(st.repo, scheduling.NoopLocker{}, slotCfg)
			return printSlots(ctx, cmd.OutOrStdout(), svc, doctorID, date)
		},
	}
	cmd.Flags().String("doctor", "", "Doctor ID")
	cmd.Flags().String("date", "", "Date (YYYY-MM-DD) in the hospital timezone")
	_ = cmd.MarkFlagRequired("doctor")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func printSlots(ctx context.Context, w io.Writer, svc *scheduling.Service, doctorID uuid.UUID, date civil.Date) error {
	slots, err := svc.GenerateAvailableSlots(ctx, doctorID, date)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Available slots for doctor %s on %s (%s):\n", doctorID, date, svc.Config().Location)
	if len(slots) == 0 {
		fmt.Fprintln(w, "  none")
		return nil
	}
	for _, s := range slots {
		fmt.Fprintf(w, "  %s\n", s.Display)
	}
	return nil
}
