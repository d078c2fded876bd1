// Package config loads server settings from a YAML file, .env and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. GHOSTLAYER_SERVER_PORT.
const EnvPrefix = "GHOSTLAYER"

type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Log       LogConfig                 `mapstructure:"log"`
	Verdict   VerdictConfig             `mapstructure:"verdict"`
	Redis     RedisConfig               `mapstructure:"redis"`
	Database  DatabaseConfig            `mapstructure:"database"`
	Rules     RulesConfig               `mapstructure:"rules"`
	RateLimit RateLimitConfig           `mapstructure:"ratelimit"`
	Pixel     PixelConfig               `mapstructure:"pixel"`
	Campaigns map[string]CampaignConfig `mapstructure:"campaigns"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	TrustProxy      bool          `mapstructure:"trust_proxy"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type VerdictConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// RedisConfig: an empty URL selects the in-memory dedup counter.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type RulesConfig struct {
	File string `mapstructure:"file"`
}

type RateLimitConfig struct {
	TrackPerMinute int `mapstructure:"track_per_minute"`
}

type PixelConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
	MetaBaseURL     string        `mapstructure:"meta_base_url"`
	TikTokBaseURL   string        `mapstructure:"tiktok_base_url"`
	GoogleBaseURL   string        `mapstructure:"google_base_url"`
}

// CampaignConfig holds the ad-platform credentials of one campaign.
type CampaignConfig struct {
	Name                  string `mapstructure:"name"`
	MetaPixelID           string `mapstructure:"meta_pixel_id"`
	MetaAccessToken       string `mapstructure:"meta_access_token"`
	TikTokPixelID         string `mapstructure:"tiktok_pixel_id"`
	TikTokAccessToken     string `mapstructure:"tiktok_access_token"`
	GoogleAdsID           string `mapstructure:"google_ads_id"`
	GoogleConversionLabel string `mapstructure:"google_conversion_label"`
}

var defaults = map[string]interface{}{
	"server.port":                8080,
	"server.read_timeout":        "10s",
	"server.write_timeout":       "15s",
	"server.shutdown_timeout":    "10s",
	"server.allowed_origins":     []string{"*"},
	"server.trust_proxy":         false,
	"log.level":                  "info",
	"verdict.secret":             "",
	"verdict.ttl":                "5m",
	"redis.url":                  "",
	"database.path":              "ghostlayer.db",
	"rules.file":                 "",
	"ratelimit.track_per_minute": 60,
	"pixel.timeout":              "5s",
	"pixel.breaker_failures":     5,
	"pixel.breaker_cooldown":     "30s",
	"pixel.meta_base_url":        "https://graph.facebook.com/v18.0",
	"pixel.tiktok_base_url":      "https://business-api.tiktok.com/open_api/v1.3",
	"pixel.google_base_url":      "https://www.googleadservices.com/pagead/conversion",
}

// Load reads config.yaml from configPath, ./config or the working
// directory, applies .env files (missing ones are ignored) and environment
// overrides, then validates the result. A missing config file is not an
// error.
func Load(configPath string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !isNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that have no usable fallback.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("config: invalid server.port %d", c.Server.Port)
	case len(c.Verdict.Secret) < 16:
		return errors.New("config: verdict.secret must be at least 16 characters")
	case c.RateLimit.TrackPerMinute <= 0:
		return errors.New("config: ratelimit.track_per_minute must be positive")
	case c.Database.Path == "":
		return errors.New("config: database.path is required")
	}
	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
