package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"salesledger/backend/internal/authz"
	"salesledger/backend/internal/cache"
	"salesledger/backend/internal/config"
	"salesledger/backend/internal/httpapi"
	"salesledger/backend/internal/logger"
	"salesledger/backend/internal/observability"
	"salesledger/backend/internal/service"
	"salesledger/backend/internal/store"
	"salesledger/backend/internal/store/memory"
	pgstore "salesledger/backend/internal/store/postgres"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	zl, err := logger.NewForEnvironment(cfg.AppEnv, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		zl.Fatal("invalid security configuration", zap.Error(err))
	}
	loc, err := cfg.Location()
	if err != nil {
		zl.Fatal("invalid report timezone", zap.Error(err))
	}
	supervisor, err := authz.NewSupervisorCode(cfg.SupervisorCode)
	if err != nil {
		zl.Fatal("supervisor code", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			zl.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			zl.Fatal("apply schema", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		zl.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded(zl)
		zl.Info("repository: in-memory")
	}

	var (
		reportCache cache.ReportCache = cache.NoopReportCache{}
		sequence    cache.Sequence
	)
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(ctx); err != nil {
			zl.Warn("redis unavailable, using local sale numbers and no report cache", zap.Error(err))
			_ = client.Close()
		} else {
			reportCache = cache.NewRedisReportCache(client)
			sequence = cache.NewRedisSequence(client)
			closers = append(closers, client.Close)
			zl.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		zl.Info("cache: noop")
	}

	metrics := observability.NewMetrics()
	svc := service.New(repo, service.Options{
		Cache:          reportCache,
		Sequence:       sequence,
		Supervisor:     supervisor,
		Metrics:        metrics,
		Logger:         zl.Named("service"),
		Location:       loc,
		ReportCacheTTL: cfg.ReportCacheTTL,
		MaxAttempts:    cfg.SaleMaxAttempts,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, repo)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Metrics:       metrics,
		Logger:        zl.Named("http"),
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		zl.Info("sales ledger listening",
			zap.String("addr", cfg.Address()),
			zap.String("env", cfg.AppEnv),
			zap.String("timezone", loc.String()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			zl.Error("close error", zap.Error(err))
		}
	}

	zl.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if cfg.IsProduction() && cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set in production; the in-memory store seeds demo accounts")
	}
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.SupervisorCode) < 6 {
		return fmt.Errorf("SUPERVISOR_CODE must be set and at least 6 characters")
	}
	if err := validateCodeStrength(cfg.SupervisorCode); err != nil {
		return fmt.Errorf("SUPERVISOR_CODE is too weak: %w", err)
	}
	return nil
}

// validateCodeStrength rejects codes that repeat one character, run in
// sequence (ascending or descending), or appear on a known-weak list.
func validateCodeStrength(code string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"121212": true, "112233": true, "123123": true, "password": true,
		"qwerty": true, "abcdef": true, "supervisor": true,
	}
	if known[code] {
		return fmt.Errorf("common code not allowed")
	}

	allSame := true
	for i := 1; i < len(code); i++ {
		if code[i] != code[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("single repeated character not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(code); i++ {
		diff := int(code[i]) - int(code[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential code not allowed")
	}

	return nil
}
