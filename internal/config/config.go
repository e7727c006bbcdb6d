package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "BOOKCATALOG"

// maxTopN is the most entries /top may return.
const maxTopN = 3

type Config struct {
	HTTP        HTTPConfig        `mapstructure:"http"`
	Store       StoreConfig       `mapstructure:"store"`
	Enrich      EnrichConfig      `mapstructure:"enrich"`
	Redis       RedisConfig       `mapstructure:"redis"`
	AMQP        AMQPConfig        `mapstructure:"amqp"`
	Log         LogConfig         `mapstructure:"log"`
	OTel        OTelConfig        `mapstructure:"otel"`
	Ratings     RatingsConfig     `mapstructure:"ratings"`
	Consistency ConsistencyConfig `mapstructure:"consistency"`
}

type HTTPConfig struct {
	Port            string          `mapstructure:"port"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type EnrichConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RPS          float64       `mapstructure:"rps"`
	AllowMissing bool          `mapstructure:"allow_missing"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type AMQPConfig struct {
	URL            string        `mapstructure:"url"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Mode  string `mapstructure:"mode"`
}

type OTelConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	ServiceName string  `mapstructure:"service_name"`
}

type RatingsConfig struct {
	TopN       int `mapstructure:"top_n"`
	MaxRetries int `mapstructure:"max_retries"`
}

type ConsistencyConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Repair   bool          `mapstructure:"repair"`
}

// Addr is the listen address.
func (c HTTPConfig) Addr() string {
	return ":" + c.Port
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", "5001")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.rate_limit.rps", 0)
	v.SetDefault("http.rate_limit.burst", 20)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")

	v.SetDefault("enrich.base_url", "https://www.googleapis.com/books/v1")
	v.SetDefault("enrich.api_key", "")
	v.SetDefault("enrich.timeout", 5*time.Second)
	v.SetDefault("enrich.rps", 5)
	v.SetDefault("enrich.allow_missing", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.publish_timeout", 2*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.mode", "production")

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.insecure", false)
	v.SetDefault("otel.sample_ratio", 0.1)
	v.SetDefault("otel.service_name", "bookcatalog")

	v.SetDefault("ratings.top_n", 3)
	v.SetDefault("ratings.max_retries", 8)

	v.SetDefault("consistency.interval", 0)
	v.SetDefault("consistency.repair", false)
}

// Load reads defaults, then the optional file at path, then the
// environment. A .env file in the working directory is loaded first if
// present. PORT and DATABASE_URL are honoured without the prefix.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("http.port", envPrefix+"_HTTP_PORT", "PORT"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("store.dsn", envPrefix+"_STORE_DSN", "DATABASE_URL"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no usable fallback.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.DSN == "" {
			c.Store.DSN = "bookcatalog.db"
		}
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q (want memory, sqlite or postgres)", c.Store.Driver)
	}
	if c.HTTP.Port == "" {
		return errors.New("http.port must not be empty")
	}
	if c.Ratings.TopN > maxTopN {
		return fmt.Errorf("ratings.top_n %d exceeds the leaderboard size of %d", c.Ratings.TopN, maxTopN)
	}
	if c.OTel.SampleRatio < 0 || c.OTel.SampleRatio > 1 {
		return fmt.Errorf("otel.sample_ratio %v is outside [0,1]", c.OTel.SampleRatio)
	}
	return nil
}
