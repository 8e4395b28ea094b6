package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultStreamURL      = "wss://ws.backpack.exchange/"
	DefaultSymbol         = "BTC_USDC"
	DefaultTradeBuffer    = 100
	DefaultSubscribeDelay = time.Second
	DefaultReconnectDelay = 3 * time.Second
	defaultConfigPath     = "config/config.yml"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Logging   LoggingConfig   `yaml:"logging"`
	Stream    StreamConfig    `yaml:"stream"`
	API       APIConfig       `yaml:"api"`
	Cache     CacheConfig     `yaml:"cache"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// StreamConfig controls the upstream market-data connection.
type StreamConfig struct {
	URL            string        `yaml:"url"`
	Symbol         string        `yaml:"symbol"`
	TradeBuffer    int           `yaml:"trade_buffer"`
	SubscribeDelay time.Duration `yaml:"subscribe_delay"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	HandshakeTime  time.Duration `yaml:"handshake_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// APIConfig points at the REST backend serving candles, balances and auth.
type APIConfig struct {
	BaseURL   string          `yaml:"base_url"`
	Timeout   time.Duration   `yaml:"timeout"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type CacheConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	Password  string        `yaml:"password"`
	Database  int           `yaml:"database"`
	CandleTTL time.Duration `yaml:"candle_ttl"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	LogHistory      int           `yaml:"log_history"`
	MetricsHistory  int           `yaml:"metrics_history"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	SampleInterval  time.Duration `yaml:"sample_interval"`
}

type MetricsConfig struct {
	Prometheus bool             `yaml:"prometheus"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Default returns a configuration that talks to the public feed with the
// built-in timings. LoadConfig starts from it before applying the file.
func Default() Config {
	return Config{
		App: AppConfig{Name: "cfdfeed", Version: "dev"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Stream: StreamConfig{
			URL:            DefaultStreamURL,
			Symbol:         DefaultSymbol,
			TradeBuffer:    DefaultTradeBuffer,
			SubscribeDelay: DefaultSubscribeDelay,
			ReconnectDelay: DefaultReconnectDelay,
			HandshakeTime:  10 * time.Second,
			WriteTimeout:   5 * time.Second,
		},
		API: APIConfig{
			Timeout:   10 * time.Second,
			RateLimit: RateLimitConfig{RequestsPerSecond: 5, BurstSize: 1},
		},
		Cache: CacheConfig{
			Host:      "localhost",
			Port:      6379,
			CandleTTL: 30 * time.Second,
		},
		Dashboard: DashboardConfig{
			Address:         "0.0.0.0:8080",
			LogHistory:      200,
			MetricsHistory:  200,
			ShutdownTimeout: 5 * time.Second,
			SampleInterval:  5 * time.Second,
		},
		Metrics: MetricsConfig{
			Prometheus: true,
			CloudWatch: CloudWatchConfig{Namespace: "CfdFeed"},
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, defaultConfigPath, map[string]string{
		environmentProduction: "config/config.production.yml",
		environmentStaging:    "config/config.staging.yml",
	})

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	config.Stream.URL = strings.TrimSpace(config.Stream.URL)
	config.Stream.Symbol = strings.TrimSpace(config.Stream.Symbol)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CFDFEED_STREAM_URL"); v != "" {
		cfg.Stream.URL = strings.TrimSpace(v)
	}
	if v := os.Getenv("CFDFEED_SYMBOL"); v != "" {
		cfg.Stream.Symbol = strings.TrimSpace(v)
	}
	if v := os.Getenv("CFDFEED_API_URL"); v != "" {
		cfg.API.BaseURL = strings.TrimSpace(v)
	}
	// Plain REDIS_* variables as set by common hosting setups.
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Cache.Host = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.Cache.Port = port
		}
	}
	if cfg.Metrics.CloudWatch.Enabled {
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Metrics.CloudWatch.Region = strings.TrimSpace(v)
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	if cfg.Stream.URL == "" {
		return fmt.Errorf("stream.url is required")
	}
	if !strings.HasPrefix(cfg.Stream.URL, "ws://") && !strings.HasPrefix(cfg.Stream.URL, "wss://") {
		return fmt.Errorf("stream.url '%s' must use ws or wss scheme", cfg.Stream.URL)
	}
	if cfg.Stream.Symbol == "" {
		return fmt.Errorf("stream.symbol is required")
	}
	if cfg.Stream.TradeBuffer <= 0 {
		return fmt.Errorf("stream.trade_buffer must be greater than 0")
	}
	if cfg.Stream.SubscribeDelay < 0 {
		return fmt.Errorf("stream.subscribe_delay must not be negative")
	}
	if cfg.Stream.ReconnectDelay <= 0 {
		return fmt.Errorf("stream.reconnect_delay must be greater than 0")
	}

	if cfg.API.RateLimit.RequestsPerSecond < 0 || cfg.API.RateLimit.BurstSize < 0 {
		return fmt.Errorf("api.rate_limit values must not be negative")
	}

	if cfg.Cache.Enabled {
		if cfg.Cache.Host == "" {
			return fmt.Errorf("cache.host is required when cache is enabled")
		}
		if cfg.Cache.Port <= 0 || cfg.Cache.Port > 65535 {
			return fmt.Errorf("cache.port %d is out of range", cfg.Cache.Port)
		}
		if cfg.API.BaseURL == "" {
			return fmt.Errorf("cache.enabled requires api.base_url")
		}
	}

	return nil
}
