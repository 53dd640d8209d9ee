// Package config loads the copy bridge's environment configuration via
// godotenv: a single struct, getEnv/getEnvFloat/getEnvInt/splitAndTrim
// helpers, defaults inline.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds every environment-driven setting the copy bridge reads.
type Config struct {
	// Broker auth
	BrokerUsername      string
	BrokerPassword      string
	BrokerClientSecret  string
	BrokerRefreshToken  string
	BrokerEnv           string // sandbox | production
	BrokerAccountNumber string

	// Transport + tiered channel ids
	ChatToken             string
	VIPChannelID          string
	PremiumChannelID      string
	BasicChannelID        string
	VIPFillsChannelID     string
	PremiumFillsChannelID string
	BasicFillsChannelID   string

	// Policy
	CentralServerURL     string
	CentralBotToken      string
	CentralSubscriberID  string
	DeploymentID         string
	CentralDiscordUserID string

	// Sizing
	SizingMethod        string // fixed | multiplier | percentage | proportional | match
	FixedQuantity       int
	Multiplier          float64
	Percentage          float64
	CoachAccountBalance float64
	BalanceCacheTTL     int // seconds
	MinQuantity         int
	MaxQuantity         int

	// Safety
	MaxDailyTrades int
	MaxDailyLoss   float64

	// Filtering
	EnabledSymbols []string
	EnabledActions []string

	// Queue
	QueueConfigProfile     string // aggressive | balanced | conservative
	MaxConcurrentOrders    int
	DelayBetweenOrdersMs   int
	MaxOrdersPerMinute     int
	PriorityThreshold      int
	EnableDryRunValidation bool

	// Ambient / ops
	Port      string
	JWTSecret string
}

// Load reads environment variables (optionally via .env) into Config,
// applying the queue-profile presets before individual overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		BrokerUsername:         os.Getenv("BROKER_USERNAME"),
		BrokerPassword:         os.Getenv("BROKER_PASSWORD"),
		BrokerClientSecret:     os.Getenv("BROKER_CLIENT_SECRET"),
		BrokerRefreshToken:     os.Getenv("BROKER_REFRESH_TOKEN"),
		BrokerEnv:              getEnv("BROKER_ENV", "sandbox"),
		BrokerAccountNumber:    os.Getenv("BROKER_ACCOUNT_NUMBER"),
		ChatToken:              os.Getenv("CHAT_TOKEN"),
		VIPChannelID:           os.Getenv("VIP_CHANNEL_ID"),
		PremiumChannelID:       os.Getenv("PREMIUM_CHANNEL_ID"),
		BasicChannelID:         os.Getenv("BASIC_CHANNEL_ID"),
		VIPFillsChannelID:      os.Getenv("VIP_FILLS_CHANNEL_ID"),
		PremiumFillsChannelID:  os.Getenv("PREMIUM_FILLS_CHANNEL_ID"),
		BasicFillsChannelID:    os.Getenv("BASIC_FILLS_CHANNEL_ID"),
		CentralServerURL:       os.Getenv("CENTRAL_SERVER_URL"),
		CentralBotToken:        os.Getenv("CENTRAL_BOT_TOKEN"),
		CentralSubscriberID:    os.Getenv("CENTRAL_SUBSCRIBER_ID"),
		DeploymentID:           os.Getenv("DEPLOYMENT_ID"),
		CentralDiscordUserID:   os.Getenv("CENTRAL_DISCORD_USER_ID"),
		SizingMethod:           getEnv("SIZING_METHOD", "fixed"),
		FixedQuantity:          getEnvInt("FIXED_QUANTITY", 1),
		Multiplier:             getEnvFloat("MULTIPLIER", 1.0),
		Percentage:             getEnvFloat("PERCENTAGE", 1.0),
		CoachAccountBalance:    getEnvFloat("COACH_ACCOUNT_BALANCE", 0),
		BalanceCacheTTL:        getEnvInt("BALANCE_CACHE_TTL", 60),
		MinQuantity:            getEnvInt("MIN_QUANTITY", 0),
		MaxQuantity:            getEnvInt("MAX_QUANTITY", 0),
		MaxDailyTrades:         getEnvInt("MAX_DAILY_TRADES", 0),
		MaxDailyLoss:           getEnvFloat("MAX_DAILY_LOSS", 0),
		EnabledSymbols:         splitAndTrim(getEnv("ENABLED_SYMBOLS", "")),
		EnabledActions:         splitAndTrim(getEnv("ENABLED_ACTIONS", "")),
		QueueConfigProfile:     getEnv("QUEUE_CONFIG_PROFILE", "balanced"),
		EnableDryRunValidation: getEnv("ENABLE_DRY_RUN_VALIDATION", "true") == "true",
		Port:                   getEnv("PORT", "8080"),
		JWTSecret:              getEnv("JWT_SECRET", "dev-secret"),
	}

	applyQueueProfile(cfg)
	cfg.MaxConcurrentOrders = getEnvInt("MAX_CONCURRENT_ORDERS", cfg.MaxConcurrentOrders)
	cfg.DelayBetweenOrdersMs = getEnvInt("DELAY_BETWEEN_ORDERS_MS", cfg.DelayBetweenOrdersMs)
	cfg.MaxOrdersPerMinute = getEnvInt("MAX_ORDERS_PER_MINUTE", cfg.MaxOrdersPerMinute)
	cfg.PriorityThreshold = getEnvInt("PRIORITY_THRESHOLD", cfg.PriorityThreshold)

	return cfg, nil
}

// applyQueueProfile seeds queue defaults from QUEUE_CONFIG_PROFILE before
// individual env vars are allowed to override them.
func applyQueueProfile(cfg *Config) {
	switch cfg.QueueConfigProfile {
	case "aggressive":
		cfg.MaxConcurrentOrders = 5
		cfg.DelayBetweenOrdersMs = 100
		cfg.MaxOrdersPerMinute = 60
		cfg.PriorityThreshold = 7
	case "conservative":
		cfg.MaxConcurrentOrders = 1
		cfg.DelayBetweenOrdersMs = 1000
		cfg.MaxOrdersPerMinute = 10
		cfg.PriorityThreshold = 9
	default: // balanced
		cfg.MaxConcurrentOrders = 3
		cfg.DelayBetweenOrdersMs = 300
		cfg.MaxOrdersPerMinute = 30
		cfg.PriorityThreshold = 8
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
