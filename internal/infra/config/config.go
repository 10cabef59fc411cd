package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	SMSProviderTwilio = "twilio"
	SMSProviderLog    = "log"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxOpenConns    int           `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBConnMaxLifetime time.Duration `mapstructure:"DB_CONN_MAX_LIFETIME"`
	DBConnectAttempts int           `mapstructure:"DB_CONNECT_ATTEMPTS"`

	LogLevel    string `mapstructure:"LOG_LEVEL"`
	Environment string `mapstructure:"ENVIRONMENT"`

	// Messaging provider
	SMSProvider      string        `mapstructure:"SMS_PROVIDER"`
	TwilioSID        string        `mapstructure:"TWILIO_SID"`
	TwilioToken      string        `mapstructure:"TWILIO_TOKEN"`
	TwilioNumber     string        `mapstructure:"TWILIO_NUMBER"` // Sender identity, number or alphanumeric ID
	SMSTemplate      string        `mapstructure:"SMS_TEMPLATE"`
	SMSRatePerSecond float64       `mapstructure:"SMS_RATE_PER_SECOND"`
	SMSRateBurst     int           `mapstructure:"SMS_RATE_BURST"`
	BreakerFailures  uint32        `mapstructure:"SMS_BREAKER_FAILURES"`
	BreakerOpenFor   time.Duration `mapstructure:"SMS_BREAKER_OPEN_FOR"`

	// Notifier
	NotifierCronSpec    string        `mapstructure:"NOTIFIER_CRON_SPEC"`
	NotifierTimezone    string        `mapstructure:"NOTIFIER_TIMEZONE"`
	NotifierTickTimeout time.Duration `mapstructure:"NOTIFIER_TICK_TIMEOUT"`
	NotifierConcurrency int           `mapstructure:"NOTIFIER_CONCURRENCY"`
	NotifierMaxAttempts int           `mapstructure:"NOTIFIER_MAX_ATTEMPTS"` // 0 means retry forever
	NotifierLockTTL     time.Duration `mapstructure:"NOTIFIER_LOCK_TTL"`

	// Optional infrastructure; empty disables the feature
	RedisAddr        string `mapstructure:"REDIS_ADDR"`
	RedisPassword    string `mapstructure:"REDIS_PASSWORD"`
	RedisDB          int    `mapstructure:"REDIS_DB"`
	RabbitMQURL      string `mapstructure:"RABBITMQ_URL"`
	RabbitMQExchange string `mapstructure:"RABBITMQ_EXCHANGE"`

	// Staff surfaces
	HTTPAddr        string `mapstructure:"HTTP_ADDR"`
	StaffAPIKey     string `mapstructure:"STAFF_API_KEY"`
	TelegramToken   string `mapstructure:"TELEGRAM_TOKEN"`
	AdminTelegramID int64  `mapstructure:"ADMIN_TELEGRAM_ID"`
}

var defaults = map[string]any{
	"DATABASE_URL":          "",
	"DB_MAX_OPEN_CONNS":     10,
	"DB_CONN_MAX_LIFETIME":  "5m",
	"DB_CONNECT_ATTEMPTS":   5,
	"LOG_LEVEL":             "info",
	"ENVIRONMENT":           "development",
	"SMS_PROVIDER":          SMSProviderTwilio,
	"TWILIO_SID":            "",
	"TWILIO_TOKEN":          "",
	"TWILIO_NUMBER":         "",
	"SMS_TEMPLATE":          "Hi {{.FirstName}}, your subscription has expired or is due to expire.",
	"SMS_RATE_PER_SECOND":   1.0, // Twilio's default throughput for a long code
	"SMS_RATE_BURST":        1,
	"SMS_BREAKER_FAILURES":  5,
	"SMS_BREAKER_OPEN_FOR":  "1m",
	"NOTIFIER_CRON_SPEC":    "0 10 * * *", // Default: 10:00 AM daily
	"NOTIFIER_TIMEZONE":     "Local",
	"NOTIFIER_TICK_TIMEOUT": "5m",
	"NOTIFIER_CONCURRENCY":  4,
	"NOTIFIER_MAX_ATTEMPTS": 0,
	"NOTIFIER_LOCK_TTL":     "10m",
	"REDIS_ADDR":            "",
	"REDIS_PASSWORD":        "",
	"REDIS_DB":              0,
	"RABBITMQ_URL":          "",
	"RABBITMQ_EXCHANGE":     "gym.events",
	"HTTP_ADDR":             ":8080",
	"STAFF_API_KEY":         "",
	"TELEGRAM_TOKEN":        "",
	"ADMIN_TELEGRAM_ID":     0,
}

// Load reads configuration from environment variables and .env file (if present).
// Missing credentials fail here so the process never starts half-configured.
func Load() (*AppConfig, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase reads the same sources but only requires DATABASE_URL.
// Used by commands that never send messages, such as migrate.
func LoadDatabase() (*AppConfig, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	return cfg, nil
}

func read() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.Environment = strings.ToLower(cfg.Environment)
	cfg.SMSProvider = strings.ToLower(cfg.SMSProvider)
	return cfg, nil
}

// Validate checks required keys and value ranges.
func (c *AppConfig) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}

	switch c.SMSProvider {
	case SMSProviderTwilio:
		if c.TwilioSID == "" {
			return fmt.Errorf("TWILIO_SID is not set")
		}
		if c.TwilioToken == "" {
			return fmt.Errorf("TWILIO_TOKEN is not set")
		}
		if c.TwilioNumber == "" {
			return fmt.Errorf("TWILIO_NUMBER is not set")
		}
	case SMSProviderLog:
		if c.TwilioNumber == "" {
			c.TwilioNumber = "DRYRUN"
		}
	default:
		return fmt.Errorf("invalid SMS_PROVIDER %q (want %q or %q)", c.SMSProvider, SMSProviderTwilio, SMSProviderLog)
	}

	if c.NotifierCronSpec == "" {
		return fmt.Errorf("NOTIFIER_CRON_SPEC is not set")
	}
	if c.NotifierConcurrency < 1 {
		return fmt.Errorf("invalid NOTIFIER_CONCURRENCY: %d", c.NotifierConcurrency)
	}
	if c.NotifierMaxAttempts < 0 {
		return fmt.Errorf("invalid NOTIFIER_MAX_ATTEMPTS: %d", c.NotifierMaxAttempts)
	}
	if c.NotifierTickTimeout <= 0 {
		return fmt.Errorf("invalid NOTIFIER_TICK_TIMEOUT: %s", c.NotifierTickTimeout)
	}
	if c.SMSRatePerSecond <= 0 {
		return fmt.Errorf("invalid SMS_RATE_PER_SECOND: %v", c.SMSRatePerSecond)
	}

	if c.TelegramToken != "" && c.AdminTelegramID == 0 {
		return fmt.Errorf("ADMIN_TELEGRAM_ID is not set")
	}
	return nil
}

// Location resolves NOTIFIER_TIMEZONE for the scheduler.
func (c *AppConfig) Location() (*time.Location, error) {
	if c.NotifierTimezone == "" || strings.EqualFold(c.NotifierTimezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.NotifierTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid NOTIFIER_TIMEZONE: %w", err)
	}
	return loc, nil
}
