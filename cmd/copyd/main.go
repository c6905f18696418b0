package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"copytrade/internal/api"
	"copytrade/internal/auth"
	"copytrade/internal/config"
	"copytrade/internal/events"
	"copytrade/internal/notify"
	"copytrade/internal/replication"
	"copytrade/internal/vault"
	"copytrade/internal/venue"
	"copytrade/storage"
)

const tokenTTL = 24 * time.Hour

func main() {
	godotenv.Load()

	logger := slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.Kitchen, // "3:04PM"
		AddSource:  false,
		NoColor:    false,
	}))

	logger.Info("=== Trade Replication Engine ===")

	cfg := config.Load(logger)

	store, err := storage.New(cfg.DBPath, logger)
	if err != nil {
		logger.Error("Failed to initialize storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	cipher := vault.New(store, logger)
	dialer := &venue.WSDialer{URL: cfg.VenueWSURL, Logger: logger}
	manager := replication.NewManager(store, cipher, dialer, logger)

	opts := []replication.ReplicatorOption{
		replication.WithSpacing(cfg.DispatchSpacing),
		replication.WithJournal(store),
	}
	if cfg.DryRun {
		opts = append(opts, replication.WithDryRun(true))
	}

	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		notifier, err := notify.New(cfg.TelegramToken, cfg.TelegramChatID, logger)
		if err != nil {
			logger.Error("Failed to initialize Telegram notifier", slog.Any("error", err))
			os.Exit(1)
		}

		opts = append(opts, replication.WithNotifier(notifier))
	}

	replicator := replication.NewReplicator(manager, logger, opts...)

	bus := events.NewBus()
	teardown := replication.InitReplicator(bus, replicator)
	defer teardown()

	authService := auth.NewService(cfg.JWTSecret, tokenTTL)

	passwordHash, err := authService.HashPassword(cfg.OperatorPassword)
	if err != nil {
		logger.Error("Failed to hash operator password", slog.Any("error", err))
		os.Exit(1)
	}

	handler := api.New(manager, replicator, bus, authService, passwordHash, logger)

	srv := &http.Server{
		Addr:         cfg.Address,
		Handler:      handler.SetupRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("🚀 Control API starting...", slog.String("address", cfg.Address))

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Control API failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("🛑 Shutting down...")

	manager.DisconnectMaster()
	for _, c := range manager.Copiers() {
		manager.DisconnectCopier(c.ID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown failed", slog.Any("error", err))
	}

	logger.Info("✅ Stopped")
}
