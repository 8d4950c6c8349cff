package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment    string
	MigrateOnStart bool

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Server
	Port        string
	FrontendURL string

	// Chess platforms
	ChessComAPIBase        string
	LichessAPIBase         string
	ChessAPITimeoutSeconds int
	ChessAPIUserAgent      string

	// Result checker
	CheckerIntervalSeconds     int
	CheckerMaxAttempts         int
	CheckerDefaultDelaySeconds int
	CheckerWindowMinutes       int
	VerifyTimeoutSeconds       int

	// Settlement
	MinPayoutAmount    int
	PayoutStaleMinutes int
	PayoutSweepMinutes int

	// Payment gateway (Onit)
	OnitHost           string
	OnitUserID         string
	OnitPassword       string
	OnitSourceAccount  string
	OnitChannel        string
	OnitProduct        string
	OnitCallbackURL    string
	OnitTimeoutSeconds int

	// SMS
	SMSServiceBaseURL       string
	SMSServiceUsername      string
	SMSServicePassword      string
	SMSRateLimitSeconds     int
	SMSTokenFallbackSeconds int

	// Security
	JWTSecret    string
	OpsTokenHash string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		Environment:    getEnv("APP_ENV", "development"),
		MigrateOnStart: getEnvBool("MIGRATE_ON_START", false),

		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/chequemate?sslmode=disable"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),

		Port:        getEnv("APP_PORT", "5000"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),

		ChessComAPIBase:        getEnv("CHESSCOM_API_BASE", "https://api.chess.com"),
		LichessAPIBase:         getEnv("LICHESS_API_BASE", "https://lichess.org"),
		ChessAPITimeoutSeconds: getEnvInt("CHESS_API_TIMEOUT_SECONDS", 10),
		ChessAPIUserAgent:      getEnv("CHESS_API_USER_AGENT", "ChequeMate/1.0 (+https://chequemate.app)"),

		CheckerIntervalSeconds:     getEnvInt("CHECKER_INTERVAL_SECONDS", 20),
		CheckerMaxAttempts:         getEnvInt("CHECKER_MAX_ATTEMPTS", 30),
		CheckerDefaultDelaySeconds: getEnvInt("CHECKER_DEFAULT_DELAY_SECONDS", 300),
		CheckerWindowMinutes:       getEnvInt("CHECKER_WINDOW_MINUTES", 30),
		VerifyTimeoutSeconds:       getEnvInt("VERIFY_TIMEOUT_SECONDS", 5),

		MinPayoutAmount:    getEnvInt("MIN_PAYOUT_AMOUNT", 10),
		PayoutStaleMinutes: getEnvInt("PAYOUT_STALE_MINUTES", 30),
		PayoutSweepMinutes: getEnvInt("PAYOUT_SWEEP_MINUTES", 5),

		OnitHost:           getEnv("ONIT_HOST", ""),
		OnitUserID:         getEnv("ONIT_USER_ID", ""),
		OnitPassword:       getEnv("ONIT_PASSWORD", ""),
		OnitSourceAccount:  getEnv("ONIT_SOURCE_ACCOUNT", ""),
		OnitChannel:        getEnv("ONIT_CHANNEL", "MPESA"),
		OnitProduct:        getEnv("ONIT_PRODUCT", "CA04"),
		OnitCallbackURL:    getEnv("ONIT_CALLBACK_URL", ""),
		OnitTimeoutSeconds: getEnvInt("ONIT_TIMEOUT_SECONDS", 30),

		SMSServiceBaseURL:       getEnv("SMS_SERVICE_BASE_URL", ""),
		SMSServiceUsername:      getEnv("SMS_SERVICE_USERNAME", ""),
		SMSServicePassword:      getEnv("SMS_SERVICE_PASSWORD", ""),
		SMSRateLimitSeconds:     getEnvInt("SMS_RATE_LIMIT_SECONDS", 60),
		SMSTokenFallbackSeconds: getEnvInt("SMS_TOKEN_FALLBACK_SECONDS", 3000),

		JWTSecret:    getEnv("JWT_SECRET", "supersecretkey"),
		OpsTokenHash: getEnv("OPS_TOKEN_HASH", ""),
	}
}

// PaymentsConfigured reports whether the gateway credentials are present.
func (c *Config) PaymentsConfigured() bool {
	return c.OnitHost != "" && c.OnitUserID != "" && c.OnitPassword != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultValue
}
