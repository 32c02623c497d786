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

const EnvPrefix = "REPAIRSYNC"

// DefaultFile is read when present and no explicit path is given.
const DefaultFile = "repairsync.yml"

// Config is the service configuration loaded from defaults, an optional
// YAML file and REPAIRSYNC_* environment variables.
type Config struct {
	Server struct {
		Addr           string        `mapstructure:"addr"`
		BasePath       string        `mapstructure:"base_path"`
		ReadTimeout    time.Duration `mapstructure:"read_timeout"`
		WriteTimeout   time.Duration `mapstructure:"write_timeout"`
		CORSOrigins    []string      `mapstructure:"cors_origins"`
		TrustRequestID bool          `mapstructure:"trust_request_id"`
	} `mapstructure:"server"`
	Database struct {
		Driver    string `mapstructure:"driver"`
		Workspace string `mapstructure:"workspace"`
		URL       string `mapstructure:"url"`
	} `mapstructure:"database"`
	Webhook struct {
		Path            string  `mapstructure:"path"`
		Secret          string  `mapstructure:"secret"`
		SignatureHeader string  `mapstructure:"signature_header"`
		TestSignature   string  `mapstructure:"test_signature"`
		AllowUnsigned   bool    `mapstructure:"allow_unsigned"`
		RejectStale     bool    `mapstructure:"reject_stale"`
		RateLimitRPS    float64 `mapstructure:"rate_limit_rps"`
		RateLimitBurst  int     `mapstructure:"rate_limit_burst"`
	} `mapstructure:"webhook"`
	Sync struct {
		DefaultLocale string `mapstructure:"default_locale"`
	} `mapstructure:"sync"`
	Status struct {
		CacheSize int `mapstructure:"cache_size"`
	} `mapstructure:"status"`
	RemOnline struct {
		BaseURL         string        `mapstructure:"base_url"`
		APIKey          string        `mapstructure:"api_key"`
		Timeout         time.Duration `mapstructure:"timeout"`
		RateLimitRPM    int           `mapstructure:"rate_limit_rpm"`
		RateBurst       int           `mapstructure:"rate_burst"`
		RetryCount      int           `mapstructure:"retry_count"`
		RetryDelay      time.Duration `mapstructure:"retry_delay"`
		BreakerEnabled  bool          `mapstructure:"breaker_enabled"`
		BreakerFailures int           `mapstructure:"breaker_failures"`
		BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
	} `mapstructure:"remonline"`
	Auth struct {
		JWTSecret string `mapstructure:"jwt_secret"`
	} `mapstructure:"auth"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/v0")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.trust_request_id", false)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.workspace", ".")
	v.SetDefault("database.url", "")
	v.SetDefault("webhook.path", "/webhooks/remonline")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.signature_header", "X-Remonline-Signature")
	v.SetDefault("webhook.test_signature", "test")
	v.SetDefault("webhook.allow_unsigned", false)
	v.SetDefault("webhook.reject_stale", false)
	v.SetDefault("webhook.rate_limit_rps", 0)
	v.SetDefault("webhook.rate_limit_burst", 20)
	v.SetDefault("sync.default_locale", "uk")
	v.SetDefault("status.cache_size", 256)
	v.SetDefault("remonline.base_url", "https://api.remonline.app")
	v.SetDefault("remonline.api_key", "")
	v.SetDefault("remonline.timeout", "10s")
	v.SetDefault("remonline.rate_limit_rpm", 60)
	v.SetDefault("remonline.rate_burst", 2)
	v.SetDefault("remonline.retry_count", 2)
	v.SetDefault("remonline.retry_delay", "500ms")
	v.SetDefault("remonline.breaker_enabled", true)
	v.SetDefault("remonline.breaker_failures", 5)
	v.SetDefault("remonline.breaker_timeout", "60s")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// New returns a viper instance with defaults, env binding and the
// optional config file applied. Callers may bind flags before Load.
func New(path string) (*viper.Viper, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("remonline.api_key", EnvPrefix+"_REMONLINE_API_KEY", "REMONLINE_API_KEY")
	_ = v.BindEnv("webhook.secret", EnvPrefix+"_WEBHOOK_SECRET", "REMONLINE_WEBHOOK_SECRET")

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		return v, nil
	}
	if _, err := os.Stat(DefaultFile); err == nil {
		v.SetConfigFile(DefaultFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", DefaultFile, err)
		}
	}
	return v, nil
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load is New followed by FromViper.
func Load(path string) (*Config, error) {
	v, err := New(path)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

func (c *Config) normalize() {
	c.Server.BasePath = "/" + strings.Trim(strings.TrimSpace(c.Server.BasePath), "/")
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Sync.DefaultLocale = strings.TrimSpace(c.Sync.DefaultLocale)
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

// Validate ensures the config is usable.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(c.Database.URL) == "" {
			return fmt.Errorf("config.database.url is required for postgres")
		}
	default:
		return fmt.Errorf("config.database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if !strings.HasPrefix(c.Webhook.Path, "/") {
		return fmt.Errorf("config.webhook.path must start with /")
	}
	if base := strings.TrimRight(c.Server.BasePath, "/"); base != "" && (c.Webhook.Path == base || strings.HasPrefix(c.Webhook.Path, base+"/")) {
		return fmt.Errorf("config.webhook.path must not live under config.server.base_path")
	}
	if c.Status.CacheSize <= 0 {
		return fmt.Errorf("config.status.cache_size must be positive")
	}
	if c.Sync.DefaultLocale == "" {
		return fmt.Errorf("config.sync.default_locale is required")
	}
	if c.Webhook.RateLimitRPS < 0 {
		return fmt.Errorf("config.webhook.rate_limit_rps must not be negative")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config.log.format must be json or console")
	}
	return nil
}
