package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	boterrors "github.com/ducminhle1904/adaptive-dip-bot/internal/errors"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/safety"
)

// EnvPrefix prefixes every environment override, e.g.
// DIPBOT_ENGINE_WALLET or DIPBOT_NOTIFICATIONS_TELEGRAM_TOKEN.
const EnvPrefix = "DIPBOT"

// Config is the complete configuration of the bot
type Config struct {
	Engine        EngineConfig       `mapstructure:"engine"`
	Log           LogConfig          `mapstructure:"log"`
	Assets        []AssetConfig      `mapstructure:"assets"`
	Strategies    []StrategyConfig   `mapstructure:"strategies"`
	Triggers      []TriggerConfig    `mapstructure:"triggers"`
	Quote         QuoteConfig        `mapstructure:"quote"`
	Execution     ExecutionConfig    `mapstructure:"execution"`
	Persistence   PersistenceConfig  `mapstructure:"persistence"`
	Archive       ArchiveConfig      `mapstructure:"archive"`
	Monitoring    MonitoringConfig   `mapstructure:"monitoring"`
	Notifications NotificationConfig `mapstructure:"notifications"`
}

// EngineConfig holds the timers and bounds of the monitoring engine
type EngineConfig struct {
	RefreshInterval        time.Duration `mapstructure:"refresh_interval"`
	Retention              time.Duration `mapstructure:"retention"`
	SMARecomputeInterval   time.Duration `mapstructure:"sma_recompute_interval"`
	QuoteTimeout           time.Duration `mapstructure:"quote_timeout"`
	TradeTimeout           time.Duration `mapstructure:"trade_timeout"`
	StaleBound             time.Duration `mapstructure:"stale_bound"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
	DropAfter              time.Duration `mapstructure:"drop_after"`
	SnapshotInterval       time.Duration `mapstructure:"snapshot_interval"`
	Wallet                 string        `mapstructure:"wallet"`
	BaseToken              string        `mapstructure:"base_token"`
}

// LogConfig controls the session logger
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Dir     string `mapstructure:"dir"`
	Console bool   `mapstructure:"console"`
}

// AssetConfig is a token tracked from startup
type AssetConfig struct {
	Address   string `mapstructure:"address"`
	Symbol    string `mapstructure:"symbol"`
	BaseToken string `mapstructure:"base_token"`
}

// QuoteConfig selects quote sources in fallback order: router, then bybit
type QuoteConfig struct {
	RouterURL         string      `mapstructure:"router_url"`
	RouterAPIKey      string      `mapstructure:"router_api_key"`
	RequestsPerSecond float64     `mapstructure:"requests_per_second"`
	Bybit             BybitConfig `mapstructure:"bybit"`
}

// BybitConfig configures the fallback ticker source
type BybitConfig struct {
	Enabled      bool              `mapstructure:"enabled"`
	Testnet      bool              `mapstructure:"testnet"`
	Category     string            `mapstructure:"category"`
	QuoteCoin    string            `mapstructure:"quote_coin"`
	Symbols      map[string]string `mapstructure:"symbols"`
	StableTokens []string          `mapstructure:"stable_tokens"`
}

// Execution modes
const (
	ExecutionPaper  = "paper"
	ExecutionRouter = "router"
)

// ExecutionConfig selects the swap executor
type ExecutionConfig struct {
	Mode               string  `mapstructure:"mode"`
	RouterURL          string  `mapstructure:"router_url"`
	RouterAPIKey       string  `mapstructure:"router_api_key"`
	PaperSlippage      float64 `mapstructure:"paper_slippage"`
	PaperFee           float64 `mapstructure:"paper_fee"`
	PaperMaxSafeAmount float64 `mapstructure:"paper_max_safe_amount"`
}

// Persistence backends
const (
	BackendNone     = "none"
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// PersistenceConfig selects the snapshot store
type PersistenceConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	Backups int    `mapstructure:"backups"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// ArchiveConfig configures the ClickHouse price archive
type ArchiveConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	DSN           string        `mapstructure:"dsn"`
	Table         string        `mapstructure:"table"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// MonitoringConfig configures the HTTP status API and metrics endpoint
type MonitoringConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	ListenAddr     string   `mapstructure:"listen_addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// NotificationConfig holds notification settings
type NotificationConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	TelegramToken string `mapstructure:"telegram_token"`
	TelegramChat  string `mapstructure:"telegram_chat"`
	QueueSize     int    `mapstructure:"queue_size"`
}

// secrets are bound explicitly so env-only values reach Unmarshal
var secretKeys = []string{
	"engine.wallet",
	"quote.router_api_key",
	"execution.router_api_key",
	"persistence.dsn",
	"archive.dsn",
	"notifications.telegram_token",
	"notifications.telegram_chat",
}

// ResolvePath maps a bare config name to configs/<name> and tries the
// supported extensions when none is given.
func ResolvePath(configFile string) (string, error) {
	if !strings.ContainsAny(configFile, "/\\") {
		configFile = filepath.Join("configs", configFile)
	}
	if filepath.Ext(configFile) != "" {
		return configFile, nil
	}
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		candidate := configFile + ext
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no config file found for %s (.yaml, .yml or .json)", configFile)
}

// Load reads a YAML or JSON config file, applies DIPBOT_ environment
// overrides, fills defaults and validates.
func Load(configFile string) (*Config, error) {
	path, err := ResolvePath(configFile)
	if err != nil {
		return nil, err
	}

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return finish(v)
}

// Parse loads configuration from raw bytes, format is yaml or json
func Parse(data []byte, format string) (*Config, error) {
	v := newViper()
	v.SetConfigType(format)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return finish(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range secretKeys {
		_ = v.BindEnv(key)
	}
	registerDefaults(v)
	return v
}

func finish(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// registerDefaults makes every scalar key known to viper so environment
// overrides apply even when the file omits the key.
func registerDefaults(v *viper.Viper) {
	v.SetDefault("engine.refresh_interval", 30*time.Second)
	v.SetDefault("engine.retention", 7*24*time.Hour)
	v.SetDefault("engine.sma_recompute_interval", 30*time.Second)
	v.SetDefault("engine.quote_timeout", 10*time.Second)
	v.SetDefault("engine.trade_timeout", 60*time.Second)
	v.SetDefault("engine.stale_bound", 24*time.Hour)
	v.SetDefault("engine.max_consecutive_failures", 20)
	v.SetDefault("engine.drop_after", 24*time.Hour)
	v.SetDefault("engine.snapshot_interval", 5*time.Minute)
	v.SetDefault("engine.base_token", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.dir", "logs")
	v.SetDefault("log.console", true)

	v.SetDefault("quote.router_url", "")
	v.SetDefault("quote.requests_per_second", 10)
	v.SetDefault("quote.bybit.enabled", false)
	v.SetDefault("quote.bybit.testnet", false)
	v.SetDefault("quote.bybit.category", "spot")
	v.SetDefault("quote.bybit.quote_coin", "USDT")

	v.SetDefault("execution.mode", ExecutionPaper)
	v.SetDefault("execution.router_url", "")
	v.SetDefault("execution.paper_slippage", 0.3)
	v.SetDefault("execution.paper_fee", 0.0)
	v.SetDefault("execution.paper_max_safe_amount", 0.0)

	v.SetDefault("persistence.backend", BackendFile)
	v.SetDefault("persistence.path", filepath.Join("state", "snapshot.json"))
	v.SetDefault("persistence.backups", 3)
	v.SetDefault("persistence.table", "engine_snapshots")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.dsn", "clickhouse://default@localhost:9000/default")
	v.SetDefault("archive.table", "price_points")
	v.SetDefault("archive.batch_size", 500)
	v.SetDefault("archive.flush_interval", 10*time.Second)

	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.listen_addr", ":8080")

	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.queue_size", 64)
}

// setDefaults fills values a file may have set to zero explicitly and
// derives dependent settings.
func (c *Config) setDefaults() {
	if c.Engine.RefreshInterval <= 0 {
		c.Engine.RefreshInterval = 30 * time.Second
	}
	if c.Engine.QuoteTimeout <= 0 {
		c.Engine.QuoteTimeout = 10 * time.Second
	}
	if c.Engine.TradeTimeout <= 0 {
		c.Engine.TradeTimeout = 60 * time.Second
	}
	if c.Engine.StaleBound <= 0 {
		c.Engine.StaleBound = 24 * time.Hour
	}
	if c.Engine.MaxConsecutiveFailures <= 0 {
		c.Engine.MaxConsecutiveFailures = 20
	}
	if c.Engine.SnapshotInterval <= 0 {
		c.Engine.SnapshotInterval = 5 * time.Minute
	}

	c.Execution.Mode = strings.ToLower(strings.TrimSpace(c.Execution.Mode))
	if c.Execution.RouterURL == "" {
		c.Execution.RouterURL = c.Quote.RouterURL
	}
	if c.Execution.RouterAPIKey == "" {
		c.Execution.RouterAPIKey = c.Quote.RouterAPIKey
	}
	c.Persistence.Backend = strings.ToLower(strings.TrimSpace(c.Persistence.Backend))

	for i := range c.Assets {
		if c.Assets[i].BaseToken == "" {
			c.Assets[i].BaseToken = c.Engine.BaseToken
		}
	}
	for i := range c.Strategies {
		if c.Strategies[i].BaseToken == "" {
			c.Strategies[i].BaseToken = c.Engine.BaseToken
		}
	}
	for i := range c.Triggers {
		if c.Triggers[i].BaseToken == "" {
			c.Triggers[i].BaseToken = c.Engine.BaseToken
		}
	}
}

// validate checks structure only; strategies and triggers are validated
// in full when the engine creates them.
func (c *Config) validate() error {
	fail := func(format string, args ...interface{}) error {
		return boterrors.NewConfigurationError("config", "validate", fmt.Sprintf(format, args...))
	}
	v := safety.NewValidator()

	if c.Engine.Retention < time.Hour {
		return fail("engine.retention must be at least 1h, got %s", c.Engine.Retention)
	}
	if c.Engine.DropAfter < 0 {
		return fail("engine.drop_after cannot be negative")
	}

	for i, a := range c.Assets {
		if err := v.ValidateTokenAddress(a.Address); err != nil {
			return fail("assets[%d].address: %v", i, err)
		}
		if err := v.ValidateTokenAddress(a.BaseToken); err != nil {
			return fail("assets[%d].base_token (or engine.base_token): %v", i, err)
		}
	}

	switch c.Execution.Mode {
	case ExecutionPaper:
	case ExecutionRouter:
		if c.Execution.RouterURL == "" {
			return fail("execution.router_url is required in router mode")
		}
		if c.Engine.Wallet == "" {
			return fail("engine.wallet is required in router mode")
		}
	default:
		return fail("unknown execution.mode %q", c.Execution.Mode)
	}

	if c.Quote.RouterURL == "" && !c.Quote.Bybit.Enabled && c.Execution.Mode == ExecutionRouter {
		return fail("at least one quote source (quote.router_url or quote.bybit) is required")
	}

	switch c.Persistence.Backend {
	case BackendNone:
	case BackendFile:
		if c.Persistence.Path == "" {
			return fail("persistence.path is required for the file backend")
		}
	case BackendPostgres:
		if c.Persistence.DSN == "" {
			return fail("persistence.dsn is required for the postgres backend")
		}
	default:
		return fail("unknown persistence.backend %q", c.Persistence.Backend)
	}

	if c.Archive.Enabled && c.Archive.DSN == "" {
		return fail("archive.dsn is required when the archive is enabled")
	}
	if c.Notifications.Enabled && (c.Notifications.TelegramToken == "" || c.Notifications.TelegramChat == "") {
		return fail("notifications need telegram_token and telegram_chat")
	}
	return nil
}
