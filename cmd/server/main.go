// Copyright 2026 The Authgate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/authgate/authgate/internal/audit"
	"github.com/authgate/authgate/internal/config"
	"github.com/authgate/authgate/internal/identity"
	"github.com/authgate/authgate/internal/observability/logger"
	"github.com/authgate/authgate/internal/observability/metrics"
	"github.com/authgate/authgate/internal/observability/tracing"
	"github.com/authgate/authgate/internal/settings"
	"github.com/authgate/authgate/internal/store/postgres"
	"github.com/authgate/authgate/internal/token"
	transportHTTP "github.com/authgate/authgate/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting authgate identity backend")

	// CLI subcommands
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			exitOn("Migration", runMigrate(cfg))
			os.Exit(0)
		case "init-settings":
			exitOn("Settings initialization", runInitSettings(cfg))
			os.Exit(0)
		case "bootstrap":
			exitOn("Bootstrap", runBootstrap(cfg))
			os.Exit(0)
		}
	}

	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	defer tracer.Shutdown(ctx)

	// Initialize meter
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
		os.Exit(1)
	}

	// Initialize database
	db, err := connectDB(ctx, cfg)
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	// Initialize repositories
	userRepo := postgres.NewUserRepository(db)
	settingsRepo := postgres.NewSettingsRepository(db)
	tokenRepo := postgres.NewTokenRepository(db)
	attemptRepo := postgres.NewAttemptRepository(db)

	// Initialize settings store and seed defaults
	settingsStore := settings.NewStore(settingsRepo)
	if err := settingsStore.Initialize(ctx); err != nil {
		slog.Error("failed to initialize settings", logger.Error(err))
		os.Exit(1)
	}

	// Initialize helpers
	auditLogger := audit.NewSlogLogger()
	passwordHasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)
	issuer := token.NewIssuer(
		cfg.Token.Secret,
		cfg.Token.Issuer,
		cfg.Token.AccessTokenTTL,
		cfg.Token.RefreshTokenTTL,
	)

	// Initialize services
	identityService := identity.NewService(
		userRepo,
		attemptRepo,
		tokenRepo,
		issuer,
		passwordHasher,
		settingsStore,
		auditLogger,
		meter,
	)

	// Run master-account bootstrap (ENV driven)
	bootstrapService := identity.NewBootstrapService(identityService)
	if err := bootstrapService.Bootstrap(ctx); err != nil {
		slog.Error("bootstrap failed", logger.Error(err))
		os.Exit(1)
	}

	// Rate limiter
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	// Initialize HTTP handler
	handler := transportHTTP.NewHandler(
		identityService,
		settingsStore,
		issuer,
		auditLogger,
		cfg.RateLimit.LoginPerMinute,
	)

	// Create router
	router := transportHTTP.NewRouter(handler, rateLimiter)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start refresh-token cleanup goroutine; stopped before shutdown
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	go sweepExpiredTokens(sweepCtx, tokenRepo, 1*time.Hour)

	// Start server
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	stopSweeper()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}

// expiredTokenDeleter is the slice of the token repository the sweeper
// needs.
type expiredTokenDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// sweepExpiredTokens deletes expired refresh tokens on a fixed interval
// until ctx is cancelled.
func sweepExpiredTokens(ctx context.Context, tokens expiredTokenDeleter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := tokens.DeleteExpired(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "failed to cleanup expired refresh tokens", logger.Error(err))
				continue
			}
			if removed > 0 {
				slog.InfoContext(ctx, "cleaned up expired refresh tokens", slog.Int64("removed", removed))
			}
		}
	}
}

func exitOn(what string, err error) {
	if err != nil {
		fmt.Printf("%s failed: %v\n", what, err)
		os.Exit(1)
	}
}

func connectDB(ctx context.Context, cfg *config.Config) (*postgres.DB, error) {
	return postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := connectDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying initial schema...")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}

func runInitSettings(cfg *config.Config) error {
	ctx := context.Background()
	db, err := connectDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	store := settings.NewStore(postgres.NewSettingsRepository(db))
	if err := store.Initialize(ctx); err != nil {
		return err
	}
	fmt.Println("Settings initialized.")
	return nil
}

func runBootstrap(cfg *config.Config) error {
	ctx := context.Background()
	db, err := connectDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	meter, err := metrics.New(ctx, metrics.Config{Enabled: false}, cfg.Observability.ServiceName)
	if err != nil {
		return err
	}

	settingsStore := settings.NewStore(postgres.NewSettingsRepository(db))
	if err := settingsStore.Initialize(ctx); err != nil {
		return err
	}

	auditLogger := audit.NewSlogLogger()
	passwordHasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)
	issuer := token.NewIssuer(
		cfg.Token.Secret,
		cfg.Token.Issuer,
		cfg.Token.AccessTokenTTL,
		cfg.Token.RefreshTokenTTL,
	)

	identityService := identity.NewService(
		postgres.NewUserRepository(db),
		postgres.NewAttemptRepository(db),
		postgres.NewTokenRepository(db),
		issuer,
		passwordHasher,
		settingsStore,
		auditLogger,
		meter,
	)

	return identity.NewBootstrapService(identityService).Bootstrap(ctx)
}
