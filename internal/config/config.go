package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration.
type Config struct {
	DBPath     string
	JWTSecret  string
	Address    string // Address for the HTTP control API (e.g. 0.0.0.0:8080)
	VenueWSURL string // Websocket endpoint of the trading venue

	// OperatorPassword guards the control API login
	OperatorPassword string

	// DryRun logs replicated requests instead of sending them
	DryRun bool

	// DispatchSpacing is the delay between sends to consecutive destinations
	DispatchSpacing time.Duration

	// Optional Telegram notifications of replication results
	TelegramToken  string
	TelegramChatID int64
}

// Load reads configuration from environment variables.
func Load(logger *slog.Logger) *Config {
	venueURL := os.Getenv("VENUE_WS_URL")
	if venueURL == "" {
		logger.Error("VENUE_WS_URL not set")
		os.Exit(1)
	}

	dryRun := false
	if os.Getenv("DRY_RUN") == "true" {
		dryRun = true

		logger.Warn("DRY_RUN enabled - replicated trades are logged, not sent")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "default-secret-change-me-in-production"

		logger.Warn("JWT_SECRET not set, using default (insecure!)")
	}

	operatorPassword := os.Getenv("OPERATOR_PASSWORD")
	if operatorPassword == "" {
		operatorPassword = "admin"

		logger.Warn("OPERATOR_PASSWORD not set, using default (insecure!)")
	}

	address := os.Getenv("ADDRESS")
	if address == "" {
		address = "0.0.0.0:8080"
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./copytrade.db"
	}

	spacing := 300 * time.Millisecond
	if v := os.Getenv("DISPATCH_SPACING_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			logger.Warn("invalid DISPATCH_SPACING_MS, keeping default", slog.String("value", v))
		} else {
			spacing = time.Duration(ms) * time.Millisecond
		}
	}

	var chatID int64
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			logger.Warn("invalid TELEGRAM_CHAT_ID, notifications disabled", slog.String("value", v))
		} else {
			chatID = id
		}
	}

	tgToken := os.Getenv("TELEGRAM_BOT_TOKEN")
	if tgToken != "" && chatID != 0 {
		logger.Info("Telegram notifications enabled")
	}

	return &Config{
		DBPath:           dbPath,
		JWTSecret:        jwtSecret,
		OperatorPassword: operatorPassword,
		Address:          address,
		VenueWSURL:       venueURL,
		DryRun:           dryRun,
		DispatchSpacing:  spacing,
		TelegramToken:    tgToken,
		TelegramChatID:   chatID,
	}
}
