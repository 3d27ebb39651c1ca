package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"

	"github.com/sumire/nowplaying/internal/cache"
	"github.com/sumire/nowplaying/internal/config"
	"github.com/sumire/nowplaying/internal/crypto"
	"github.com/sumire/nowplaying/internal/handler"
	"github.com/sumire/nowplaying/internal/metrics"
	"github.com/sumire/nowplaying/internal/provider"
	"github.com/sumire/nowplaying/internal/repository"
	"github.com/sumire/nowplaying/internal/service"
)

func main() {
	_ = godotenv.Load()

	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	db, err := sqlx.Connect("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := repository.Migrate(db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database ready")

	codec, err := crypto.NewCodec(cfg.TokenEncryptionKey)
	if err != nil {
		return fmt.Errorf("init token codec: %w", err)
	}

	userRepo := repository.NewUserRepository(db)
	linkRepo := repository.NewLinkRepository(db, codec)
	sessionRepo := repository.NewSessionRepository(db)

	var attempts service.AttemptStore
	if cfg.AttemptStore == config.AttemptStoreMemory {
		store := cache.NewAttemptStore()
		defer store.Stop()
		attempts = store
	} else {
		attempts = repository.NewAttemptRepository(db)
	}

	spotify := provider.NewSpotify(
		cfg.SpotifyClientID, cfg.SpotifyClientSecret,
		cfg.BaseURL+"/api/auth/spotify/callback", cfg.AttemptTTL)
	misskey := provider.NewMisskey(
		cfg.AppName, cfg.BaseURL+"/api/miauth/callback", cfg.AttemptTTL)
	twitter := provider.NewTwitter(
		cfg.TwitterClientID, cfg.TwitterClientSecret,
		cfg.BaseURL+"/api/twitter/callback", cfg.AttemptTTL)
	adapters := []provider.Adapter{spotify, misskey, twitter}

	policy := service.TwitterPolicy{
		Enabled:         cfg.TwitterEnabled,
		CredsConfigured: cfg.TwitterClientID != "" && cfg.TwitterClientSecret != "",
		RequireMisskey:  cfg.TwitterRequireMisskey,
		AllowedHosts:    cfg.TwitterAllowedHosts,
	}

	sessions := service.NewSessionManager(sessionRepo, userRepo, cfg.SessionTTL)
	linking := service.NewOrchestrator(adapters, attempts, linkRepo, userRepo)
	gate := service.NewGate(adapters, linkRepo, policy, logger)
	settings := service.NewSettings(userRepo)
	share := service.NewShare(gate, linkRepo, spotify, misskey, twitter, logger)

	authHandler := handler.NewAuthHandler(linking, sessions, cfg.SessionTTL)
	linkHandler := handler.NewLinkHandler(linking, gate)
	settingsHandler := handler.NewSettingsHandler(linking, gate, settings, cfg.BaseURL)
	postHandler := handler.NewPostHandler(userRepo, share)

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handler.HTTPErrorHandler
	e.Validator = handler.NewAppValidator()
	e.Use(echomiddleware.RequestID())
	e.Use(handler.RequestLogger())
	e.Use(echomiddleware.Recover())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api := e.Group("/api")
	api.GET("/auth/check", authHandler.Check)
	api.GET("/auth/spotify", authHandler.LoginSpotify)
	api.GET("/auth/spotify/callback", authHandler.CallbackSpotify)
	api.GET("/miauth/callback", linkHandler.CallbackMiAuth)
	api.GET("/twitter/callback", linkHandler.CallbackTwitter)

	postLimiter := rate.NewLimiter(rate.Limit(cfg.PostRateLimit), cfg.PostRateBurst)
	api.GET("/post/:token", postHandler.PostNowPlaying, handler.RateLimit(postLimiter))

	auth := api.Group("", handler.SessionAuth(sessions))
	auth.GET("/me", settingsHandler.Me)
	auth.GET("/config", settingsHandler.GetAppConfig)
	auth.POST("/logout", authHandler.Logout)
	auth.POST("/miauth/start", linkHandler.StartMiAuth)
	auth.DELETE("/miauth", linkHandler.DisconnectMisskey)
	auth.GET("/twitter/start", linkHandler.StartTwitter)
	auth.DELETE("/twitter", linkHandler.DisconnectTwitter)
	auth.POST("/settings/header-token", settingsHandler.GenerateHeaderToken)
	auth.DELETE("/settings/header-token", settingsHandler.DisableHeaderToken)
	auth.POST("/settings/api-url-token/regenerate", settingsHandler.RegenerateURLToken)

	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metrics.Handler(),
	}
	go func() {
		logger.Info("metrics server starting", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go sweepLoop(sweepCtx, logger, sessions, linking)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}

// sweepLoop periodically removes expired sessions and handshake
// attempts. Lookups already reject stale rows; this bounds table growth.
func sweepLoop(ctx context.Context, logger *slog.Logger, sessions *service.SessionManager, linking *service.Orchestrator) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sessions.SweepExpired(ctx); err != nil {
				logger.Warn("session sweep failed", "error", err)
			}
			if err := linking.SweepExpiredAttempts(ctx); err != nil {
				logger.Warn("attempt sweep failed", "error", err)
			}
		}
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	level := parseLogLevel(cfg.LogLevel)
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

func parseLogLevel(v string) slog.Level {
	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
