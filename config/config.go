package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Database    DatabaseConfig
	Redis       RedisConfig
	LLM         LLMConfig
	TradeFinder TradeFinderConfig
	Lifecycle   LifecycleConfig
	Workflow    WorkflowConfig
	Alerts      AlertConfig
	API         APIConfig

	// LogVerboseScheduler switches cron to its verbose logger
	LogVerboseScheduler bool
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

// RedisConfig holds Redis connection settings. An empty host disables Redis.
type RedisConfig struct {
	Host      string
	Port      string
	Password  string
	DB        int
	KeyPrefix string
}

// LLMConfig holds reasoning service configuration
type LLMConfig struct {
	Provider          string // openai | claude | gemini
	Endpoint          string
	APIKey            string
	Model             string
	Temperature       float64
	MaxOutputTokens   int
	RequestTimeout    time.Duration
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	RequestsPerMinute int
}

// TradeFinderConfig holds the scheduled trade-finder parameters
type TradeFinderConfig struct {
	Enabled          bool
	Symbols          []string
	LookbackMinutes  int
	CandleCount      int
	Timeframes       []string
	ExpiryHours      int
	Profile          string
	HighThreshold    int
	MediumThreshold  int
	CycleSchedule    string
	ReferenceZone    string
	StoreResponses   bool
	MaxEventsPerCall int
}

// LifecycleConfig holds the lifecycle sweep parameters
type LifecycleConfig struct {
	ExpirySchedule       string
	StatsSchedule        string
	StatsWindow          time.Duration
	ConversationTTL      time.Duration
	ConversationSchedule string
}

// WorkflowConfig points at the prompt catalog
type WorkflowConfig struct {
	CatalogPath string
}

// AlertConfig holds alert fan-out settings
type AlertConfig struct {
	RedisChannel string
	Channels     []string
}

// APIConfig holds the HTTP server settings
type APIConfig struct {
	Port int
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			Name:     getEnvOrDefault("DB_NAME", "trade_finder"),
			User:     getEnvOrDefault("DB_USER", "trade_finder"),
			Password: getEnvOrDefault("DB_PASSWORD", "trade_finder"),
		},

		Redis: RedisConfig{
			Host:      getEnvOrDefault("REDIS_HOST", "localhost"),
			Port:      getEnvOrDefault("REDIS_PORT", "6379"),
			Password:  getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			KeyPrefix: getEnvOrDefault("REDIS_KEY_PREFIX", "atf:"),
		},

		LLM: LLMConfig{
			Provider:          strings.ToLower(getEnvOrDefault("LLM_PROVIDER", "openai")),
			Endpoint:          getEnvOrDefault("LLM_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:            getEnvOrDefault("LLM_API_KEY", ""),
			Model:             getEnvOrDefault("LLM_MODEL", "gpt-4.1"),
			Temperature:       getEnvFloat("LLM_TEMPERATURE", 0.2),
			MaxOutputTokens:   getEnvInt("LLM_MAX_OUTPUT_TOKENS", 2048),
			RequestTimeout:    getEnvDuration("LLM_REQUEST_TIMEOUT", 90*time.Second),
			MaxRetries:        getEnvInt("LLM_MAX_RETRIES", 3),
			InitialBackoff:    getEnvDuration("LLM_INITIAL_BACKOFF", 2*time.Second),
			MaxBackoff:        getEnvDuration("LLM_MAX_BACKOFF", 30*time.Second),
			RequestsPerMinute: getEnvInt("LLM_REQUESTS_PER_MINUTE", 30),
		},

		TradeFinder: TradeFinderConfig{
			Enabled:          getEnvBool("TRADE_FINDER_ENABLED", true),
			Symbols:          getEnvList("TRADE_FINDER_SYMBOLS", []string{"NQ", "ES"}),
			LookbackMinutes:  getEnvInt("TRADE_FINDER_LOOKBACK_MINUTES", 120),
			CandleCount:      getEnvInt("TRADE_FINDER_CANDLE_COUNT", 50),
			Timeframes:       getEnvList("TRADE_FINDER_TIMEFRAMES", []string{"5m", "15m", "1h"}),
			ExpiryHours:      getEnvInt("TRADE_FINDER_EXPIRY_HOURS", 4),
			Profile:          getEnvOrDefault("TRADE_FINDER_PROFILE", "intraday_futures"),
			HighThreshold:    getEnvInt("ALERT_HIGH_THRESHOLD", 80),
			MediumThreshold:  getEnvInt("ALERT_MEDIUM_THRESHOLD", 60),
			CycleSchedule:    getEnvOrDefault("TRADE_FINDER_SCHEDULE", "@every 5m"),
			ReferenceZone:    getEnvOrDefault("TRADE_FINDER_TIMEZONE", "America/New_York"),
			StoreResponses:   getEnvBool("TRADE_FINDER_STORE_RESPONSES", true),
			MaxEventsPerCall: getEnvInt("TRADE_FINDER_MAX_EVENTS", 500),
		},

		Lifecycle: LifecycleConfig{
			ExpirySchedule:       getEnvOrDefault("LIFECYCLE_EXPIRY_SCHEDULE", "@every 1m"),
			StatsSchedule:        getEnvOrDefault("LIFECYCLE_STATS_SCHEDULE", "@every 15m"),
			StatsWindow:          getEnvDuration("LIFECYCLE_STATS_WINDOW", 24*time.Hour),
			ConversationTTL:      getEnvDuration("CONVERSATION_TTL", 24*time.Hour),
			ConversationSchedule: getEnvOrDefault("CONVERSATION_EXPIRY_SCHEDULE", "@every 10m"),
		},

		Workflow: WorkflowConfig{
			CatalogPath: getEnvOrDefault("WORKFLOW_CATALOG_PATH", ""),
		},

		Alerts: AlertConfig{
			RedisChannel: getEnvOrDefault("ALERT_REDIS_CHANNEL", "trade_alerts"),
			Channels:     getEnvList("ALERT_CHANNELS", []string{"voice", "sms", "chat"}),
		},

		API: APIConfig{
			Port: getEnvInt("API_PORT", 8080),
		},

		LogVerboseScheduler: getEnvBool("LOG_VERBOSE_SCHEDULER", false),
	}
}

// Validate reports configuration that would make the trade finder misbehave
func (c *Config) Validate() error {
	tf := c.TradeFinder
	if tf.MediumThreshold > tf.HighThreshold {
		return fmt.Errorf("ALERT_MEDIUM_THRESHOLD (%d) must not exceed ALERT_HIGH_THRESHOLD (%d)", tf.MediumThreshold, tf.HighThreshold)
	}
	if tf.LookbackMinutes <= 0 {
		return fmt.Errorf("TRADE_FINDER_LOOKBACK_MINUTES must be positive")
	}
	if tf.CandleCount <= 0 {
		return fmt.Errorf("TRADE_FINDER_CANDLE_COUNT must be positive")
	}
	if tf.ExpiryHours <= 0 {
		return fmt.Errorf("TRADE_FINDER_EXPIRY_HOURS must be positive")
	}
	switch c.LLM.Provider {
	case "openai", "claude", "gemini":
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q", c.LLM.Provider)
	}
	return nil
}

// ExpiryWindow returns the trade expiry window as a duration
func (t TradeFinderConfig) ExpiryWindow() time.Duration {
	return time.Duration(t.ExpiryHours) * time.Hour
}

// getEnvInt gets environment variable as int or returns default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvFloat gets environment variable as float64 or returns default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var floatValue float64
	if _, err := fmt.Sscanf(value, "%f", &floatValue); err != nil {
		return defaultValue
	}
	return floatValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("⚠️  Invalid duration %q for %s, using %v", value, key, defaultValue)
		return defaultValue
	}
	return d
}

// getEnvList reads a comma-separated list, dropping blanks
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
