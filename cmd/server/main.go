package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/lecture-qa/internal/api"
	"github.com/npezzotti/lecture-qa/internal/auth"
	"github.com/npezzotti/lecture-qa/internal/config"
	"github.com/npezzotti/lecture-qa/internal/database"
	"github.com/npezzotti/lecture-qa/internal/server"
	"github.com/npezzotti/lecture-qa/internal/stats"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// defaultSigningKey is only suitable for local development.
const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func newLogger(level zapcore.Level) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// repository is the store plus its lifecycle.
type repository interface {
	database.Repository
	Close() error
}

type memoryRepository struct {
	*database.MemoryRepository
}

func (memoryRepository) Close() error { return nil }

func openRepository(cfg *config.Config, logger *zap.Logger) (repository, error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory store, data is lost on exit")
		return memoryRepository{database.NewMemoryRepository()}, nil
	}

	db, err := database.NewPgRepository(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	if err := database.Migrate(db.DB()); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func main() {
	// a missing .env file is fine
	_ = godotenv.Load()

	defaultTTL, err := time.ParseDuration(getEnv("TOKEN_TTL", "24h"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "TOKEN_TTL:", err)
		os.Exit(1)
	}

	var (
		addr           string
		dsn            string
		store          string
		signingKey     string
		tokenTTL       time.Duration
		allowedOrigins string
		logLevel       string
	)
	flag.StringVar(&addr, "addr", getEnv("ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", getEnv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&store, "store", getEnv("STORE", config.StorePostgres), "entity store: postgres or memory")
	flag.StringVar(&signingKey, "signing-key", getEnv("SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.DurationVar(&tokenTTL, "token-ttl", defaultTTL, "session token lifetime, 0 disables expiry")
	flag.StringVar(&allowedOrigins, "allowed-origins", getEnv("ALLOWED_ORIGINS", ""), "comma-separated list of allowed origins for CORS")
	flag.StringVar(&logLevel, "log-level", getEnv("LOG_LEVEL", "info"), "log level")
	flag.Parse()

	cfg, err := config.NewConfig(addr, dsn, store, signingKey, tokenTTL, config.ParseOrigins(allowedOrigins), logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if signingKey == defaultSigningKey {
		logger.Warn("using the default signing key")
	}

	repo, err := openRepository(cfg, logger)
	if err != nil {
		logger.Fatal("open repository", zap.Error(err))
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Error("db close", zap.Error(err))
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	lectureServer := server.NewLectureServer(logger, repo, statsUpdater)

	codec := auth.NewTokenCodec(cfg.SigningKey, cfg.TokenTTL)
	srv := api.NewLectureApp(mux, logger, lectureServer, repo, codec, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go lectureServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server", zap.Error(err))
		}
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Error("HTTP server shutdown", zap.Error(err))
	}

	logger.Info("shutting down lecture server")
	if err := lectureServer.Shutdown(shutDownCtx); err != nil {
		logger.Error("lecture server shutdown", zap.Error(err))
	}

	logger.Info("shutdown complete")
}
