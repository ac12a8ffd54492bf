package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/velkov/nudgebot/internal/bot"
	"github.com/velkov/nudgebot/internal/reminder"
	"github.com/velkov/nudgebot/internal/server"
	"github.com/velkov/nudgebot/internal/storage"
	"github.com/velkov/nudgebot/internal/tracker"
	"github.com/velkov/nudgebot/pkg/config"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		store, err = storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			DBName:      cfg.Database.DBName,
			SSLMode:     cfg.Database.SSLMode,
			UseInMemory: cfg.Database.UseInMemory,
		})
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	// Initialize the activity tracker
	trk := tracker.New(store, logger)

	// The token may live in stored settings (set through the dashboard) or
	// in the bootstrap config.
	token := cfg.Discord.Token
	if settings, err := store.GetSettings(context.Background()); err == nil && settings.DiscordToken != "" {
		token = settings.DiscordToken
	}
	if token == "" {
		logger.Fatal("No Discord token configured")
	}

	// Initialize the gateway adapter
	b, err := bot.New(token, store, trk, logger)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}
	if err := b.Start(); err != nil {
		logger.Fatal("Failed to connect to Discord", zap.Error(err))
	}
	defer b.Stop()

	// Start the reminder scheduler
	sched := reminder.New(store, b, logger)
	if err := sched.Start(); err != nil {
		logger.Fatal("Failed to start reminder scheduler", zap.Error(err))
	}
	defer sched.Stop()

	// Nightly reclassification keeps statuses converging even for members
	// who produce no events.
	jobs := cron.New()
	if _, err := jobs.AddFunc("@daily", func() {
		if err := trk.ClassifyAll(context.Background()); err != nil {
			logger.Error("Nightly reclassification failed", zap.Error(err))
		}
	}); err != nil {
		logger.Fatal("Failed to schedule reclassification job", zap.Error(err))
	}
	jobs.Start()
	defer jobs.Stop()

	// Start the HTTP control surface
	srv := server.New(store, trk, sched, b, logger)
	go func() {
		if err := srv.Start(cfg.HTTP.Addr); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
}
