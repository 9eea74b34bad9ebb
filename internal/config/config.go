package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"futures-move-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Binance   BinanceConfig   `mapstructure:"binance"`
	CoinGecko CoinGeckoConfig `mapstructure:"coingecko"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates the optional PostgreSQL alert audit store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// MonitorConfig governs the detection core.
type MonitorConfig struct {
	Market           string        `mapstructure:"market"`
	ChangeThreshold  float64       `mapstructure:"change_threshold"`
	CheckInterval    time.Duration `mapstructure:"check_interval"`
	IntervalFloor    time.Duration `mapstructure:"interval_floor"`
	Window           time.Duration `mapstructure:"window"`
	HistoryCapacity  int           `mapstructure:"history_capacity"`
	MinAlertInterval time.Duration `mapstructure:"min_alert_interval"`
	StreakReset      time.Duration `mapstructure:"streak_reset"`
	OIWindowMinutes  int           `mapstructure:"oi_window_minutes"`
	BlockedBases     []string      `mapstructure:"blocked_bases"`
}

// BinanceConfig covers futures API access.
type BinanceConfig struct {
	FAPIBase       string        `mapstructure:"fapi_base"`
	DAPIBase       string        `mapstructure:"dapi_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	ChartKlines    int           `mapstructure:"chart_klines"`
}

// CoinGeckoConfig captures reference-data connectivity.
type CoinGeckoConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	MaxPages        int           `mapstructure:"max_pages"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	APIBase        string        `mapstructure:"api_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FUTUWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "futuwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("monitor.market", "um")
	v.SetDefault("monitor.change_threshold", 0.03)
	v.SetDefault("monitor.check_interval", "60s")
	v.SetDefault("monitor.interval_floor", "5s")
	v.SetDefault("monitor.window", "15m")
	v.SetDefault("monitor.history_capacity", 100)
	v.SetDefault("monitor.min_alert_interval", "60s")
	v.SetDefault("monitor.streak_reset", "30m")
	v.SetDefault("monitor.oi_window_minutes", 15)
	v.SetDefault("monitor.blocked_bases", []string{"BTTC"})

	v.SetDefault("binance.fapi_base", "https://fapi.binance.com")
	v.SetDefault("binance.dapi_base", "https://dapi.binance.com")
	v.SetDefault("binance.request_timeout", "15s")
	v.SetDefault("binance.user_agent", "futuwatcher/1.0")
	v.SetDefault("binance.chart_klines", 240)

	v.SetDefault("coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("coingecko.refresh_interval", "6h")
	v.SetDefault("coingecko.max_pages", 10)
	v.SetDefault("coingecko.request_timeout", "15s")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.request_timeout", "20s")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock_key", int64(0x66757477))
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Monitor.Market != "um" && c.Monitor.Market != "cm" {
		return fmt.Errorf("monitor.market must be um or cm")
	}
	if c.Monitor.ChangeThreshold <= 0 {
		return fmt.Errorf("monitor.change_threshold must be greater than zero")
	}
	if c.Monitor.CheckInterval <= 0 {
		return fmt.Errorf("monitor.check_interval must be greater than zero")
	}
	if c.Monitor.Window <= 0 {
		return fmt.Errorf("monitor.window must be greater than zero")
	}
	if c.Monitor.HistoryCapacity <= 0 {
		return fmt.Errorf("monitor.history_capacity must be greater than zero")
	}
	if c.Monitor.MinAlertInterval < 0 {
		return fmt.Errorf("monitor.min_alert_interval cannot be negative")
	}
	if c.Monitor.StreakReset <= 0 {
		return fmt.Errorf("monitor.streak_reset must be greater than zero")
	}
	if c.CoinGecko.RefreshInterval <= 0 {
		return fmt.Errorf("coingecko.refresh_interval must be greater than zero")
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token 必须配置")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id 必须配置")
		}
	}
	return nil
}
