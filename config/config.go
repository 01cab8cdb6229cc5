package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Marketmux MarketmuxConfig `yaml:"marketmux"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Cache     CacheConfig     `yaml:"cache"`
	Server    ServerConfig    `yaml:"server"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Venues    VenuesConfig    `yaml:"venues"`
}

type MarketmuxConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatch     bool          `yaml:"cloudwatch"`
	Region         string        `yaml:"region"`
	Namespace      string        `yaml:"namespace"`
	DashboardName  string        `yaml:"dashboard_name"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type ChannelsConfig struct {
	RawBuffer int `yaml:"raw_buffer"`
	OutBuffer int `yaml:"out_buffer"`
}

type CacheConfig struct {
	MaxEntries    int           `yaml:"max_entries"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type ServerConfig struct {
	Addr             string        `yaml:"addr"`
	ResponseCacheTTL time.Duration `yaml:"response_cache_ttl"`
	ResponseCacheMax int           `yaml:"response_cache_max"`
}

type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type VenuesConfig struct {
	Lighter  LighterConfig  `yaml:"lighter"`
	Extended ExtendedConfig `yaml:"extended"`
	Paradex  ParadexConfig  `yaml:"paradex"`
	Grvt     GrvtConfig     `yaml:"grvt"`
	Reya     ReyaConfig     `yaml:"reya"`
	Pacifica PacificaConfig `yaml:"pacifica"`
	Nado     NadoConfig     `yaml:"nado"`
}

// ProxyConfig names the environment variables a venue's transport draws
// from: a numbered rotation pool and a single fallback proxy.
type ProxyConfig struct {
	PoolPrefix string `yaml:"pool_prefix"`
	PoolFrom   int    `yaml:"pool_from"`
	PoolTo     int    `yaml:"pool_to"`
	SingleEnv  string `yaml:"single_env"`
}

type LighterConfig struct {
	Enabled      bool          `yaml:"enabled"`
	URL          string        `yaml:"url"`
	Origin       string        `yaml:"origin"`
	Markets      []string      `yaml:"markets"`
	Proxy        ProxyConfig   `yaml:"proxy"`
	PingInterval time.Duration `yaml:"ping_interval"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

type ExtendedConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PriceURL     string        `yaml:"price_url"`
	BookURL      string        `yaml:"book_url"`
	Origin       string        `yaml:"origin"`
	Markets      []string      `yaml:"markets"`
	Proxy        ProxyConfig   `yaml:"proxy"`
	PingInterval time.Duration `yaml:"ping_interval"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

type ParadexConfig struct {
	Enabled         bool        `yaml:"enabled"`
	URL             string      `yaml:"url"`
	MarketsURL      string      `yaml:"markets_url"`
	Origin          string      `yaml:"origin"`
	FallbackMarkets []string    `yaml:"fallback_markets"`
	Proxy           ProxyConfig `yaml:"proxy"`
}

type GrvtConfig struct {
	Enabled         bool        `yaml:"enabled"`
	URL             string      `yaml:"url"`
	LoginURL        string      `yaml:"login_url"`
	InstrumentsURL  string      `yaml:"instruments_url"`
	Origin          string      `yaml:"origin"`
	FallbackMarkets []string    `yaml:"fallback_markets"`
	APIKeyEnv       string      `yaml:"api_key_env"`
	Proxy           ProxyConfig `yaml:"proxy"`
}

type ReyaConfig struct {
	Enabled bool        `yaml:"enabled"`
	URL     string      `yaml:"url"`
	Origin  string      `yaml:"origin"`
	Proxy   ProxyConfig `yaml:"proxy"`
}

type PacificaConfig struct {
	Enabled         bool          `yaml:"enabled"`
	URL             string        `yaml:"url"`
	MarketsURL      string        `yaml:"markets_url"`
	Origin          string        `yaml:"origin"`
	FallbackMarkets []string      `yaml:"fallback_markets"`
	AllowNoProxy    bool          `yaml:"allow_no_proxy"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	Proxy           ProxyConfig   `yaml:"proxy"`
}

type NadoMarket struct {
	TickerID string `yaml:"ticker_id"`
	Symbol   string `yaml:"symbol"`
}

type NadoConfig struct {
	Enabled      bool          `yaml:"enabled"`
	OrderbookURL string        `yaml:"orderbook_url"`
	Markets      []NadoMarket  `yaml:"markets"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Proxy        ProxyConfig   `yaml:"proxy"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Metrics: MetricsConfig{
			ReportInterval: 30 * time.Second,
		},
		Cache: CacheConfig{
			MaxEntries:    500,
			SweepInterval: 15 * time.Second,
		},
		Heartbeat: HeartbeatConfig{
			Interval: 30 * time.Second,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.Metrics.CloudWatch {
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Metrics.Region = v
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Marketmux.Name == "" {
		return fmt.Errorf("marketmux.name is required")
	}
	if cfg.Marketmux.Version == "" {
		return fmt.Errorf("marketmux.version is required")
	}

	if cfg.Channels.RawBuffer <= 0 {
		return fmt.Errorf("channels.raw_buffer must be greater than 0")
	}
	if cfg.Channels.OutBuffer <= 0 {
		return fmt.Errorf("channels.out_buffer must be greater than 0")
	}

	if cfg.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be greater than 0")
	}
	if cfg.Cache.SweepInterval <= 0 {
		return fmt.Errorf("cache.sweep_interval must be greater than 0")
	}

	if cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	if cfg.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat.interval must be greater than 0")
	}

	if cfg.Venues.Lighter.Enabled && len(cfg.Venues.Lighter.Markets) == 0 {
		return fmt.Errorf("venues.lighter.markets is required when lighter is enabled")
	}
	if cfg.Venues.Nado.Enabled && cfg.Venues.Nado.PollInterval <= 0 {
		return fmt.Errorf("venues.nado.poll_interval must be greater than 0 when nado is enabled")
	}

	return nil
}
