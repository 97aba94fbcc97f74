package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanwahyu/annoscope/internal/application"
	apprecords "github.com/bryanwahyu/annoscope/internal/application/records"
	"github.com/bryanwahyu/annoscope/internal/config"
	domain "github.com/bryanwahyu/annoscope/internal/domain/records"
	mysqlp "github.com/bryanwahyu/annoscope/internal/infra/db/mysql"
	"github.com/bryanwahyu/annoscope/internal/infra/db/postgres"
	"github.com/bryanwahyu/annoscope/internal/infra/db/sqlite"
	"github.com/bryanwahyu/annoscope/internal/infra/httpserver"
	minioStore "github.com/bryanwahyu/annoscope/internal/infra/storage"
	"github.com/bryanwahyu/annoscope/internal/middleware"
)

type recordRepository interface {
	domain.Repository
	EnsureSchema(ctx context.Context) error
}

func openRepository(ctx context.Context, cfg *config.Config) (*sql.DB, recordRepository, error) {
	switch cfg.Database.Driver {
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN(), mysqlp.Pool{
			MaxOpen:      cfg.Database.MaxOpenConns,
			MaxIdle:      cfg.Database.MaxIdleConns,
			MaxLifetime:  cfg.Database.ConnMaxLifetime,
			PingAttempts: cfg.Database.PingAttempts,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("mysql connect: %w", err)
		}
		return db, mysqlp.NewRecordRepository(db), nil
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN(), postgres.Pool{
			MaxOpen:      cfg.Database.MaxOpenConns,
			MaxIdle:      cfg.Database.MaxIdleConns,
			MaxLifetime:  cfg.Database.ConnMaxLifetime,
			PingAttempts: cfg.Database.PingAttempts,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connect: %w", err)
		}
		return db, postgres.NewRecordRepository(db), nil
	default:
		db, err := sqlite.Open(ctx, cfg.SQLitePath())
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite open: %w", err)
		}
		return db, sqlite.NewRecordRepository(db), nil
	}
}

func main() {
	// load config (CONFIG_PATH, default config.yaml)
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, repo, err := openRepository(ctx, cfg)
	if err != nil {
		log.Fatalf("database error: %v", err)
	}
	defer db.Close()
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatalf("schema error: %v", err)
	}

	checkers := map[string]middleware.HealthChecker{
		"database": &middleware.DatabaseHealthChecker{DB: db},
	}

	svc := &apprecords.Service{
		Repo:   repo,
		Clock:  application.SystemClock{},
		Logger: logger,
	}

	// init minio (optional archive)
	if cfg.MinioEnabled() {
		store, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			log.Fatalf("minio init error: %v", err)
		}
		svc.Archive = store
		checkers["archive"] = store
	}

	opts := httpserver.Options{
		Logger:      logger,
		Metrics:     middleware.NewMetrics("annoscope"),
		APIKeys:     cfg.Auth.APIKeys,
		CORSOrigins: cfg.Server.CORSOrigins,
		Health:      middleware.NewHealth(checkers),
	}
	if cfg.Server.RateLimit > 0 {
		opts.RateLimiter = middleware.NewRateLimiter(ctx, cfg.Server.RateLimit, cfg.Server.RateBurst)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpserver.NewRouter(svc, opts),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	opts.Health.SetReady(true)
	go func() {
		logger.Info("server listening", "addr", addr, "driver", cfg.Database.Driver, "archive", cfg.MinioEnabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	// graceful shutdown
	<-ctx.Done()
	logger.Info("shutting down server...")
	opts.Health.SetReady(false)

	ctx2, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
