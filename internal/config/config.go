package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides the application configuration.
var Module = fx.Provide(Load)

// Config holds application configuration.
type Config struct {
	AppName     string
	Environment string

	DBPath string

	// Timezone is the deployment timezone. Daily accounting windows and the
	// nightly report cadence are anchored to midnight in this zone, not UTC.
	Timezone string

	Hiddify HiddifyConfig
	Marzban MarzbanConfig

	IdentityMapPath string

	Telegram TelegramConfig

	HTTPHost string
	HTTPPort int

	ListingCacheTTL time.Duration

	ReportTime      string // HH:MM, local time
	BirthdayTime    string // HH:MM, local time
	MaintenanceTime string // HH:MM, local time

	WarningCheckEvery       time.Duration
	WarningUsageThreshold   float64 // percent of panel limit
	WarningDaysBeforeExpiry int
	DailyAlertThresholdGB   float64 // 0 disables the unusual-usage alert

	// Re-notify windows, one per warning kind. Each defaults to
	// WARNING_RENOTIFY_WINDOW when its own variable is unset.
	ExpiryRenotifyWindow  time.Duration
	LowDataRenotifyWindow time.Duration
	SpikeRenotifyWindow   time.Duration

	BirthdayGiftGB   float64
	BirthdayGiftDays int
}

// HiddifyConfig describes the UUID-keyed panel.
type HiddifyConfig struct {
	BaseURL   string
	ProxyPath string
	APIKey    string
	Timeout   time.Duration
}

// MarzbanConfig describes the username-keyed panel.
type MarzbanConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

type TelegramConfig struct {
	BotToken string
	AdminIDs []int64
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	renotify := getenvDuration("WARNING_RENOTIFY_WINDOW", 24*time.Hour)

	return Config{
		AppName:     getenv("APP_SERVICE", "panelbridge"),
		Environment: getenv("ENVIRONMENT", "development"),

		DBPath:   getenv("DATABASE_PATH", "panelbridge.db"),
		Timezone: getenv("TIMEZONE", "Asia/Tehran"),

		Hiddify: HiddifyConfig{
			BaseURL:   strings.TrimRight(getenv("HIDDIFY_DOMAIN", ""), "/"),
			ProxyPath: strings.Trim(getenv("HIDDIFY_PROXY_PATH", ""), "/"),
			APIKey:    strings.TrimSpace(getenv("HIDDIFY_API_KEY", "")),
			Timeout:   getenvDuration("HIDDIFY_TIMEOUT", 15*time.Second),
		},
		Marzban: MarzbanConfig{
			BaseURL:  strings.TrimRight(getenv("MARZBAN_BASE_URL", ""), "/"),
			Username: getenv("MARZBAN_USERNAME", ""),
			Password: getenv("MARZBAN_PASSWORD", ""),
			Timeout:  getenvDuration("MARZBAN_TIMEOUT", 15*time.Second),
		},

		IdentityMapPath: getenv("IDENTITY_MAP_PATH", "identity_map.json"),

		Telegram: TelegramConfig{
			BotToken: strings.TrimSpace(getenv("BOT_TOKEN", "")),
			AdminIDs: getenvInt64List("ADMIN_IDS"),
		},

		HTTPHost: getenv("HTTP_HOST", "0.0.0.0"),
		HTTPPort: getenvInt("HTTP_PORT", 8080),

		ListingCacheTTL: getenvDuration("LISTING_CACHE_TTL", 60*time.Second),

		ReportTime:      getenv("DAILY_REPORT_TIME", "23:59"),
		BirthdayTime:    getenv("BIRTHDAY_GIFT_TIME", "00:05"),
		MaintenanceTime: getenv("MAINTENANCE_TIME", "04:00"),

		WarningCheckEvery:       getenvDuration("WARNING_CHECK_EVERY", 4*time.Hour),
		WarningUsageThreshold:   getenvFloat("WARNING_USAGE_THRESHOLD", 85),
		WarningDaysBeforeExpiry: getenvInt("WARNING_DAYS_BEFORE_EXPIRY", 2),
		DailyAlertThresholdGB:   getenvFloat("DAILY_USAGE_ALERT_THRESHOLD_GB", 5),

		ExpiryRenotifyWindow:  getenvDuration("EXPIRY_RENOTIFY_WINDOW", renotify),
		LowDataRenotifyWindow: getenvDuration("LOW_DATA_RENOTIFY_WINDOW", renotify),
		SpikeRenotifyWindow:   getenvDuration("SPIKE_RENOTIFY_WINDOW", renotify),

		BirthdayGiftGB:   getenvFloat("BIRTHDAY_GIFT_GB", 15),
		BirthdayGiftDays: getenvInt("BIRTHDAY_GIFT_DAYS", 15),
	}
}

// Location resolves the configured timezone, falling back to UTC when
// the name does not resolve.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func getenvInt64List(key string) []int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parsed, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, parsed)
	}
	return out
}
