// Command api is the Salah server: the live prayer countdown, alert
// scheduling and dispatch, and the completion log with adherence stats.
//
// Usage:
//
//	salah-api
//	API_PORT=8080 DATABASE_URL=postgres://... salah-api

// @title Salah API
// @version 1.0.0
// @description Prayer countdown, alert scheduling and adherence statistics.
// @host localhost:8000
// @BasePath /api/v1
// @schemes http https
// @contact.name Salah
// @license.name MIT
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

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/albapepper/salah/internal/adherence"
	"github.com/albapepper/salah/internal/alerts"
	"github.com/albapepper/salah/internal/api"
	"github.com/albapepper/salah/internal/api/handler"
	"github.com/albapepper/salah/internal/cache"
	"github.com/albapepper/salah/internal/completion"
	"github.com/albapepper/salah/internal/config"
	"github.com/albapepper/salah/internal/db"
	"github.com/albapepper/salah/internal/driver"
	"github.com/albapepper/salah/internal/listener"
	"github.com/albapepper/salah/internal/maintenance"
	"github.com/albapepper/salah/internal/provider"
	"github.com/albapepper/salah/internal/provider/aladhan"

	_ "github.com/albapepper/salah/docs" // swagger docs
)

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Completion store: Postgres when configured, memory otherwise
	var (
		store completion.Store
		pool  *db.Pool
	)
	if cfg.HasDatabase() {
		logger.Info("Connecting to database...")
		if err := db.Migrate(ctx, cfg); err != nil {
			logger.Error("Failed to apply schema", "error", err)
			os.Exit(1)
		}
		pool, err = db.New(ctx, cfg)
		if err != nil {
			logger.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		store = completion.NewPGStore(pool.Pool, nil)
		logger.Info("Database connected",
			"min_conns", cfg.DBPoolMinConns,
			"max_conns", cfg.DBPoolMaxConns)
	} else {
		store = completion.NewMemoryStore(nil)
		logger.Warn("DATABASE_URL not set, completions kept in memory")
	}

	// Alert registry and delivery
	registry := newRegistry(ctx, cfg, logger)
	scheduler := alerts.NewScheduler(registry, logger)

	mqttSender, err := alerts.NewMQTTSender(cfg.MQTTBrokerURL, cfg.MQTTClientID, cfg.MQTTTopicPrefix, logger)
	if err != nil {
		logger.Warn("MQTT unavailable, alerts will only be logged", "error", err)
	}
	defer mqttSender.Close()
	var sender alerts.Sender = alerts.LogSender{Logger: logger}
	var publisher listener.Publisher
	if mqttSender != nil {
		sender = mqttSender
		publisher = mqttSender
	}

	// Schedule provider with response cache
	appCache := cache.New(cfg.CacheEnabled)
	go appCache.Run(ctx)
	logger.Info("Cache initialized", "enabled", cfg.CacheEnabled)

	client := aladhan.NewClient(cfg.AladhanBaseURL, cfg.AladhanMethod, cfg.AladhanRequestsPerMinute, logger)
	schedules := provider.NewCached(client, appCache, cfg.AladhanMethod, logger)

	// Countdown driver
	drv, err := driver.New(driver.Options{
		Provider:    schedules,
		Scheduler:   scheduler,
		Location:    cfg.Location,
		Adjustments: cfg.Adjustments,
		Settings:    cfg.Settings,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("Failed to create countdown driver", "error", err)
		os.Exit(1)
	}
	go drv.Run(ctx)

	// Adherence days follow the active location's calendar, not the host's.
	stats := adherence.NewService(store, drv.LocalNow, logger)

	// Alert dispatch worker
	dispatcher := &alerts.Dispatcher{
		Registry: registry,
		Sender:   sender,
		Interval: cfg.DispatchInterval,
		Logger:   logger,
		OnFired: func(req alerts.Request) {
			if req.Payload.WantsSound {
				logger.Info("Adhan playback requested", "prayer", req.Payload.Prayer, "alert_id", req.ID)
			}
		},
	}
	go dispatcher.Start(ctx)

	// LISTEN/NOTIFY consumer for completion changes
	if cfg.HasDatabase() {
		go listener.Start(ctx, cfg.DatabaseURL, &listener.Processor{
			Service:   stats,
			Publisher: publisher,
			Topic:     cfg.MQTTTopicPrefix + "/stats",
			Logger:    logger,
		})
	}

	// Background maintenance: cache warmup, digest, alert catch-up
	maint := maintenance.Deps{
		Driver:    drv,
		Scheduler: scheduler,
		Stats:     stats,
		Topic:     cfg.MQTTTopicPrefix + "/digest",
		Logger:    logger,
	}
	if mqttSender != nil {
		maint.Publisher = mqttSender
	}
	go maintenance.Start(ctx, maint, maintenance.DefaultConfig())

	// Create router
	deps := handler.Deps{
		Driver:    drv,
		Scheduler: scheduler,
		Stats:     stats,
		Cache:     appCache,
		Logger:    logger,
	}
	if pool != nil {
		deps.DB = pool
	}
	router := api.NewRouter(deps, cfg)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting Salah API",
			"addr", addr,
			"environment", cfg.Environment,
			"city", cfg.Location.City,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}

// newRegistry returns a Redis-backed registry when REDIS_ADDRESS is set and
// reachable, else an in-memory one.
func newRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) alerts.Registry {
	if cfg.RedisAddress == "" {
		return alerts.NewMemoryRegistry()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Redis unavailable, using in-memory alert registry", "addr", cfg.RedisAddress, "error", err)
		_ = rdb.Close()
		return alerts.NewMemoryRegistry()
	}
	logger.Info("Redis alert registry connected", "addr", cfg.RedisAddress)
	return alerts.NewRedisRegistry(rdb, cfg.MQTTClientID)
}
