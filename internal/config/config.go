package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Sentry      SentryConfig    `mapstructure:"sentry"`
	Auth        AuthConfig      `mapstructure:"auth"`
	Security    SecurityConfig  `mapstructure:"security"`
	Exchange    ExchangeConfig  `mapstructure:"exchange"`
	AI          AIConfig        `mapstructure:"ai"`
	Tools       ToolsConfig     `mapstructure:"tools"`
	Trading     TradingConfig   `mapstructure:"trading"`
	Paper       PaperConfig     `mapstructure:"paper"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	DatabaseURL     string `mapstructure:"database_url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime string `mapstructure:"conn_max_idle_time"`
	SQLitePath      string `mapstructure:"sqlite_path"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SentryConfig struct {
	DSN              string  `mapstructure:"dsn"`
	Environment      string  `mapstructure:"environment"`
	Release          string  `mapstructure:"release"`
	TracesSampleRate float64 `mapstructure:"traces_sample_rate"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type SecurityConfig struct {
	// EncryptionPassphrase derives the key protecting stored exchange credentials.
	EncryptionPassphrase string `mapstructure:"encryption_passphrase"`
	EncryptionSalt       string `mapstructure:"encryption_salt"`
}

type ExchangeConfig struct {
	Name              string        `mapstructure:"name"`
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	APISecret         string        `mapstructure:"api_secret"`
	RecvWindow        int64         `mapstructure:"recv_window"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
}

type AIConfig struct {
	Provider              string        `mapstructure:"provider"`
	Model                 string        `mapstructure:"model"`
	BaseURL               string        `mapstructure:"base_url"`
	APIKey                string        `mapstructure:"api_key"`
	Timeout               time.Duration `mapstructure:"timeout"`
	MaxTokens             int           `mapstructure:"max_tokens"`
	DefaultPaperThreshold float64       `mapstructure:"default_paper_threshold"`
	DefaultRealThreshold  float64       `mapstructure:"default_real_threshold"`
	ProfilesPath          string        `mapstructure:"profiles_path"`
	DefaultProfileID      string        `mapstructure:"default_profile_id"`
}

type ToolProviderConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Service  string        `mapstructure:"service"`
	Label    string        `mapstructure:"label"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type ToolsConfig struct {
	MaxParallel  int                `mapstructure:"max_parallel"`
	Timeout      time.Duration      `mapstructure:"timeout"`
	CacheBackend string             `mapstructure:"cache_backend"`
	Sentiment    ToolProviderConfig `mapstructure:"sentiment"`
	OnChain      ToolProviderConfig `mapstructure:"onchain"`
	Research     ToolProviderConfig `mapstructure:"research"`
	Technical    TechnicalConfig    `mapstructure:"technical"`
}

type TechnicalConfig struct {
	Interval string        `mapstructure:"interval"`
	Limit    int           `mapstructure:"limit"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type TradingConfig struct {
	QuoteAsset              string        `mapstructure:"quote_asset"`
	CredentialLabel         string        `mapstructure:"credential_label"`
	PerTradeRiskPct         float64       `mapstructure:"per_trade_risk_pct"`
	DailyRiskPct            float64       `mapstructure:"daily_risk_pct"`
	MaxConcurrentOperations int           `mapstructure:"max_concurrent_operations"`
	MaxRealTrades           int           `mapstructure:"max_real_trades"`
	OpportunityTTL          time.Duration `mapstructure:"opportunity_ttl"`
	LockTTL                 time.Duration `mapstructure:"lock_ttl"`
	LockWaitTimeout         time.Duration `mapstructure:"lock_wait_timeout"`
}

type PaperConfig struct {
	InitialBalances map[string]float64 `mapstructure:"initial_balances"`
	SlippagePct     float64            `mapstructure:"slippage_pct"`
}

type SchedulerConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ScanSpec   string `mapstructure:"scan_spec"`
	ExpirySpec string `mapstructure:"expiry_spec"`
	DetectSpec string `mapstructure:"detect_spec"`
	Workers    int    `mapstructure:"workers"`
}

// Load reads configuration from defaults, optional config files, .env and
// the process environment, in increasing order of precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".tradepilot"))
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	_ = v.BindEnv("database.sqlite_path", "SQLITE_PATH", "DATABASE_SQLITE_PATH")
	_ = v.BindEnv("database.database_url", "DATABASE_URL")
	_ = v.BindEnv("sentry.dsn", "SENTRY_DSN")
	_ = v.BindEnv("ai.api_key", "AI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("exchange.api_key", "EXCHANGE_API_KEY", "BINANCE_API_KEY")
	_ = v.BindEnv("exchange.api_secret", "EXCHANGE_API_SECRET", "BINANCE_API_SECRET")
	_ = v.BindEnv("tools.sentiment.api_key", "CRYPTOPANIC_API_KEY")
	_ = v.BindEnv("tools.onchain.api_key", "GLASSNODE_API_KEY")
	_ = v.BindEnv("tools.research.api_key", "TAVILY_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "tradepilot")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.database_url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "300s")
	v.SetDefault("database.conn_max_idle_time", "60s")
	v.SetDefault("database.sqlite_path", "tradepilot.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "")
	v.SetDefault("sentry.release", "")
	v.SetDefault("sentry.traces_sample_rate", 0.0)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("security.encryption_passphrase", "")
	v.SetDefault("security.encryption_salt", "tradepilot-credentials")

	v.SetDefault("exchange.name", "binance")
	v.SetDefault("exchange.base_url", "https://api.binance.com")
	v.SetDefault("exchange.api_key", "")
	v.SetDefault("exchange.api_secret", "")
	v.SetDefault("exchange.recv_window", 5000)
	v.SetDefault("exchange.timeout", "10s")
	v.SetDefault("exchange.requests_per_second", 10.0)
	v.SetDefault("exchange.burst", 20)
	v.SetDefault("exchange.max_attempts", 3)
	v.SetDefault("exchange.retry_delay", "1s")

	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.timeout", "60s")
	v.SetDefault("ai.max_tokens", 1024)
	v.SetDefault("ai.default_paper_threshold", 0.6)
	v.SetDefault("ai.default_real_threshold", 0.8)
	v.SetDefault("ai.profiles_path", "")
	v.SetDefault("ai.default_profile_id", "default")

	v.SetDefault("tools.max_parallel", 4)
	v.SetDefault("tools.timeout", "20s")
	v.SetDefault("tools.cache_backend", "memory")
	v.SetDefault("tools.sentiment.base_url", "https://cryptopanic.com/api/v1")
	v.SetDefault("tools.sentiment.api_key", "")
	v.SetDefault("tools.sentiment.service", "cryptopanic")
	v.SetDefault("tools.sentiment.label", "default")
	v.SetDefault("tools.sentiment.cache_ttl", "15m")
	v.SetDefault("tools.onchain.base_url", "https://api.glassnode.com/v1")
	v.SetDefault("tools.onchain.api_key", "")
	v.SetDefault("tools.onchain.service", "glassnode")
	v.SetDefault("tools.onchain.label", "default")
	v.SetDefault("tools.onchain.cache_ttl", "1h")
	v.SetDefault("tools.research.base_url", "https://api.tavily.com")
	v.SetDefault("tools.research.api_key", "")
	v.SetDefault("tools.research.service", "tavily")
	v.SetDefault("tools.research.label", "default")
	v.SetDefault("tools.research.cache_ttl", "6h")
	v.SetDefault("tools.technical.interval", "1h")
	v.SetDefault("tools.technical.limit", 100)
	v.SetDefault("tools.technical.cache_ttl", "5m")

	v.SetDefault("trading.quote_asset", "USDT")
	v.SetDefault("trading.credential_label", "default")
	v.SetDefault("trading.per_trade_risk_pct", 0.02)
	v.SetDefault("trading.daily_risk_pct", 0.10)
	v.SetDefault("trading.max_concurrent_operations", 5)
	v.SetDefault("trading.max_real_trades", 0)
	v.SetDefault("trading.opportunity_ttl", "30m")
	v.SetDefault("trading.lock_ttl", "30s")
	v.SetDefault("trading.lock_wait_timeout", "10s")

	v.SetDefault("paper.initial_balances", map[string]float64{"USDT": 10000})
	v.SetDefault("paper.slippage_pct", 0.0)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.scan_spec", "*/30 * * * * *")
	v.SetDefault("scheduler.expiry_spec", "0 * * * * *")
	v.SetDefault("scheduler.detect_spec", "0 */5 * * * *")
	v.SetDefault("scheduler.workers", 4)
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "sqlite":
		if strings.TrimSpace(c.Database.SQLitePath) == "" {
			return fmt.Errorf("sqlite_path must not be blank when driver is sqlite")
		}
	case "postgres", "postgresql":
	default:
		return fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres)", c.Database.Driver)
	}

	if !inUnitInterval(c.AI.DefaultPaperThreshold) || !inUnitInterval(c.AI.DefaultRealThreshold) {
		return fmt.Errorf("confidence thresholds must be within [0, 1]")
	}
	if c.Trading.PerTradeRiskPct <= 0 || c.Trading.PerTradeRiskPct > 1 {
		return fmt.Errorf("per_trade_risk_pct must be within (0, 1], got %v", c.Trading.PerTradeRiskPct)
	}
	if c.Trading.DailyRiskPct <= 0 || c.Trading.DailyRiskPct > 1 {
		return fmt.Errorf("daily_risk_pct must be within (0, 1], got %v", c.Trading.DailyRiskPct)
	}
	return nil
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func inUnitInterval(v float64) bool {
	return v >= 0 && v <= 1
}

// DSN builds the PostgreSQL connection string unless DatabaseURL is set.
func (d DatabaseConfig) DSN() string {
	if d.DatabaseURL != "" {
		return d.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

// Addr returns host:port for the Redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
