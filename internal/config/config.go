package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"polswatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	KuCoin    KuCoinConfig    `mapstructure:"kucoin"`
	Pancake   PancakeConfig   `mapstructure:"pancake"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	// AlertRetention prunes alert rows older than this age after each new
	// alert is written. Zero keeps alerts forever.
	AlertRetention time.Duration `mapstructure:"alert_retention"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// KuCoinConfig covers the order-book venue.
type KuCoinConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	APISecret      string        `mapstructure:"api_secret"`
	APIPassphrase  string        `mapstructure:"api_passphrase"`
	Symbol         string        `mapstructure:"symbol"`
	BaseCurrency   string        `mapstructure:"base_currency"`
	QuoteCurrency  string        `mapstructure:"quote_currency"`
	Fee            float64       `mapstructure:"fee"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// PancakeConfig covers the AMM venue on BSC.
type PancakeConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RouterAddress  string        `mapstructure:"router_address"`
	BaseToken      string        `mapstructure:"base_token"`
	QuoteToken     string        `mapstructure:"quote_token"`
	WalletAddress  string        `mapstructure:"wallet_address"`
	PrivateKey     string        `mapstructure:"private_key"`
	Fee            float64       `mapstructure:"fee"`
	Slippage       float64       `mapstructure:"slippage"`
	GasLimit       uint64        `mapstructure:"gas_limit"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// TradingConfig holds the runtime-adjustable evaluator defaults.
type TradingConfig struct {
	TradeSize    float64 `mapstructure:"trade_size"`
	ThresholdPct float64 `mapstructure:"threshold_pct"`
	TransferFee  float64 `mapstructure:"transfer_fee"`
}

// StrategyConfig tunes the momentum exit strategy.
type StrategyConfig struct {
	Enabled                bool    `mapstructure:"enabled"`
	MAPeriod               int     `mapstructure:"ma_period"`
	HistorySize            int     `mapstructure:"history_size"`
	PriceIncreaseThreshold float64 `mapstructure:"price_increase_threshold"`
	DropThreshold          float64 `mapstructure:"drop_threshold"`
	LimitOrderOffset       float64 `mapstructure:"limit_order_offset"`
	OrderSize              float64 `mapstructure:"order_size"`
}

// TelegramConfig 描述 Telegram 通知与指令参数。
type TelegramConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BotToken    string        `mapstructure:"bot_token"`
	ChatID      string        `mapstructure:"chat_id"`
	APIBase     string        `mapstructure:"api_base"`
	Commands    bool          `mapstructure:"commands"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POLSWATCH")
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
	v.SetDefault("app.name", "polswatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "60s")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x504f4c53))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("kucoin.base_url", "https://api.kucoin.com")
	v.SetDefault("kucoin.symbol", "POLS-USDT")
	v.SetDefault("kucoin.base_currency", "POLS")
	v.SetDefault("kucoin.quote_currency", "USDT")
	v.SetDefault("kucoin.fee", 0.001)
	v.SetDefault("kucoin.request_timeout", "10s")

	v.SetDefault("pancake.rpc_url", "https://bsc-dataseed.binance.org/")
	v.SetDefault("pancake.router_address", "0x10ED43C718714eb63d5aA57B78B54704E256024E")
	v.SetDefault("pancake.base_token", "0x7e624FA0E1c4AbFD309cC15719b7E2580887f570")
	v.SetDefault("pancake.quote_token", "0x55d398326f99059fF775485246999027B3197955")
	v.SetDefault("pancake.fee", 0.0025)
	v.SetDefault("pancake.slippage", 0.001)
	v.SetDefault("pancake.gas_limit", uint64(400_000))
	v.SetDefault("pancake.request_timeout", "10s")

	v.SetDefault("trading.trade_size", 1000.0)
	v.SetDefault("trading.threshold_pct", 0.5)
	v.SetDefault("trading.transfer_fee", 0.0)

	v.SetDefault("strategy.enabled", true)
	v.SetDefault("strategy.ma_period", 10)
	v.SetDefault("strategy.history_size", 100)
	v.SetDefault("strategy.price_increase_threshold", 0.10)
	v.SetDefault("strategy.drop_threshold", 0.02)
	v.SetDefault("strategy.limit_order_offset", 0.01)
	v.SetDefault("strategy.order_size", 10.0)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.commands", true)
	v.SetDefault("telegram.poll_timeout", "30s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.alert_retention", "0s")
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
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Trading.TradeSize <= 0 {
		return fmt.Errorf("trading.trade_size must be greater than zero")
	}
	if c.Trading.ThresholdPct <= 0 {
		return fmt.Errorf("trading.threshold_pct must be greater than zero")
	}
	if c.Database.AlertRetention < 0 {
		return fmt.Errorf("database.alert_retention cannot be negative")
	}
	if c.Trading.TransferFee < 0 || c.Trading.TransferFee >= 1 {
		return fmt.Errorf("trading.transfer_fee must be in [0,1)")
	}
	if c.KuCoin.Fee < 0 || c.KuCoin.Fee >= 1 {
		return fmt.Errorf("kucoin.fee must be in [0,1)")
	}
	if c.Pancake.Fee < 0 || c.Pancake.Fee >= 1 {
		return fmt.Errorf("pancake.fee must be in [0,1)")
	}
	if c.Pancake.Slippage < 0 || c.Pancake.Slippage >= 1 {
		return fmt.Errorf("pancake.slippage must be in [0,1)")
	}
	if c.Strategy.Enabled {
		if c.Strategy.MAPeriod <= 0 {
			return fmt.Errorf("strategy.ma_period must be greater than zero")
		}
		if c.Strategy.HistorySize < c.Strategy.MAPeriod {
			return fmt.Errorf("strategy.history_size must be at least strategy.ma_period")
		}
		if c.Strategy.OrderSize <= 0 {
			return fmt.Errorf("strategy.order_size must be greater than zero")
		}
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

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
