// Package config loads and validates appraiser configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/channel-appraiser/internal/fxrate"
	"github.com/JakeFAU/channel-appraiser/internal/storage"
)

// EnvPrefix namespaces environment overrides, e.g. APPRAISER_DB_DSN.
const EnvPrefix = "APPRAISER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	DB           DBConfig           `mapstructure:"db"`
	Admin        AdminConfig        `mapstructure:"admin"`
	Quota        QuotaConfig        `mapstructure:"quota"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Pricing      PricingConfig      `mapstructure:"pricing"`
	Scraper      ScraperConfig      `mapstructure:"scraper"`
	FXRate       FXRateConfig       `mapstructure:"fxrate"`
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	Clock        ClockConfig        `mapstructure:"clock"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// TelegramConfig configures the Bot API client.
type TelegramConfig struct {
	Token              string `mapstructure:"token"`
	APIEndpoint        string `mapstructure:"api_endpoint"`
	TimeoutSeconds     int    `mapstructure:"timeout_seconds"`
	PollTimeoutSeconds int    `mapstructure:"poll_timeout_seconds"`
}

// DBConfig selects the repository backend.
type DBConfig struct {
	Driver      string `mapstructure:"driver"`
	DSN         string `mapstructure:"dsn"`
	MaxConns    int32  `mapstructure:"max_conns"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// AdminConfig names the privileged principal.
type AdminConfig struct {
	UserID int64 `mapstructure:"user_id"`
}

// QuotaConfig sets the free tier.
type QuotaConfig struct {
	FreeDaily int `mapstructure:"free_daily"`
}

// SubscriptionConfig describes the paid plan. Price is in whole currency
// units.
type SubscriptionConfig struct {
	Price         int    `mapstructure:"price"`
	Days          int    `mapstructure:"days"`
	Currency      string `mapstructure:"currency"`
	ProviderToken string `mapstructure:"provider_token"`
}

// CacheConfig lists milestone totals.
type CacheConfig struct {
	Milestones []int `mapstructure:"milestones"`
}

// PricingConfig overrides CPM per niche.
type PricingConfig struct {
	CPM map[string]int64 `mapstructure:"cpm"`
}

// ScraperConfig tunes the preview scraper.
type ScraperConfig struct {
	PreviewURL     string  `mapstructure:"preview_url"`
	UserAgent      string  `mapstructure:"user_agent"`
	AcceptLanguage string  `mapstructure:"accept_language"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RPS            float64 `mapstructure:"rps"`
	Burst          int     `mapstructure:"burst"`
}

// FXRateConfig configures the exchange-rate provider.
type FXRateConfig struct {
	DefaultRate    float64               `mapstructure:"default_rate"`
	TimeoutSeconds int                   `mapstructure:"timeout_seconds"`
	Sources        []fxrate.SourceConfig `mapstructure:"sources"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AuthConfig guards the /v1 admin routes. Without Enabled and APIKey those
// routes refuse every request.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// PubSubConfig enables milestone publishing when both fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ClockConfig sets the timezone that defines calendar days.
type ClockConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Deployments of the original bot only set BOT_TOKEN.
	if err := v.BindEnv("telegram.token", EnvPrefix+"_TELEGRAM_TOKEN", "BOT_TOKEN"); err != nil {
		return Config{}, fmt.Errorf("bind telegram.token: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.api_endpoint", "")
	v.SetDefault("telegram.timeout_seconds", 10)
	v.SetDefault("telegram.poll_timeout_seconds", 60)
	v.SetDefault("db.driver", storage.DriverSQLite)
	v.SetDefault("db.dsn", "appraiser.db")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.auto_migrate", true)
	v.SetDefault("admin.user_id", 0)
	v.SetDefault("quota.free_daily", 3)
	v.SetDefault("subscription.price", 299)
	v.SetDefault("subscription.days", 30)
	v.SetDefault("subscription.currency", "RUB")
	v.SetDefault("subscription.provider_token", "")
	v.SetDefault("cache.milestones", []int{10, 50, 100, 500, 1000})
	v.SetDefault("pricing.cpm", map[string]int64{})
	v.SetDefault("scraper.preview_url", "https://t.me/s/%s")
	v.SetDefault("scraper.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
	v.SetDefault("scraper.accept_language", "ru-RU,ru;q=0.9")
	v.SetDefault("scraper.timeout_seconds", 10)
	v.SetDefault("scraper.rps", 1.0)
	v.SetDefault("scraper.burst", 3)
	v.SetDefault("fxrate.default_rate", fxrate.DefaultRate)
	v.SetDefault("fxrate.timeout_seconds", 5)
	v.SetDefault("fxrate.sources", fxrate.DefaultSources)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("clock.timezone", "Local")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces reasonable limits on values every command uses.
func (c Config) Validate() error {
	switch strings.ToLower(c.DB.Driver) {
	case storage.DriverPostgres, storage.DriverSQLite:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for driver %q", c.DB.Driver)
		}
	case storage.DriverMemory:
	default:
		return fmt.Errorf("db.driver must be one of postgres, sqlite, memory; got %q", c.DB.Driver)
	}
	if c.Quota.FreeDaily < 0 {
		return errors.New("quota.free_daily must be >= 0")
	}
	if c.Subscription.Days <= 0 {
		return errors.New("subscription.days must be > 0")
	}
	if c.Subscription.Price < 0 {
		return errors.New("subscription.price must be >= 0")
	}
	if c.Telegram.TimeoutSeconds <= 0 {
		return errors.New("telegram.timeout_seconds must be > 0")
	}
	if c.Scraper.TimeoutSeconds <= 0 {
		return errors.New("scraper.timeout_seconds must be > 0")
	}
	if !strings.Contains(c.Scraper.PreviewURL, "%s") {
		return errors.New("scraper.preview_url must contain %s for the handle")
	}
	if c.Scraper.RPS < 0 {
		return errors.New("scraper.rps must be >= 0")
	}
	if c.FXRate.DefaultRate <= 0 {
		return errors.New("fxrate.default_rate must be > 0")
	}
	for niche, cpm := range c.Pricing.CPM {
		if cpm < 0 {
			return fmt.Errorf("pricing.cpm.%s must be >= 0", niche)
		}
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// ValidateBot adds the checks only the long-running bot needs.
func (c Config) ValidateBot() error {
	if c.Telegram.Token == "" {
		return errors.New("telegram.token (or BOT_TOKEN) must be set")
	}
	return nil
}

// PubSubEnabled reports whether milestone events go to Pub/Sub.
func (c Config) PubSubEnabled() bool {
	return c.PubSub.ProjectID != "" && c.PubSub.Topic != ""
}

// TelegramTimeout bounds each Bot API call.
func (c Config) TelegramTimeout() time.Duration {
	return time.Duration(c.Telegram.TimeoutSeconds) * time.Second
}

// ScraperTimeout bounds each preview fetch.
func (c Config) ScraperTimeout() time.Duration {
	return time.Duration(c.Scraper.TimeoutSeconds) * time.Second
}

// FXRateTimeout bounds each exchange-rate source attempt.
func (c Config) FXRateTimeout() time.Duration {
	return time.Duration(c.FXRate.TimeoutSeconds) * time.Second
}
