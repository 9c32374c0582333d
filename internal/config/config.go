// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Game      GameConfig      `mapstructure:"game"`
	Bot       BotConfig       `mapstructure:"bot"`
	Whitelist WhitelistConfig `mapstructure:"whitelist"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP listener configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Name              string        `mapstructure:"name"`
	PoolSize          int           `mapstructure:"pool_size"`
	MinConns          int           `mapstructure:"min_conns"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	PingTimeout       time.Duration `mapstructure:"ping_timeout"`
}

// StorageConfig selects the game store implementation.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

// RedisConfig holds the audit feed connection. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Queue    string `mapstructure:"queue"`
}

// Enabled reports whether the audit feed should be connected.
func (r *RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// AuthConfig holds bearer token verification settings. An empty JWTSecret
// disables the authenticated game routes of the HTTP API.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// Enabled reports whether bearer tokens can be verified.
func (a *AuthConfig) Enabled() bool {
	return a.JWTSecret != ""
}

// GameConfig holds commit-reveal game rules.
type GameConfig struct {
	Expiration   time.Duration `mapstructure:"expiration"`
	HistoryLimit int           `mapstructure:"history_limit"`
}

// BotConfig holds Telegram bot configuration. An empty Token disables the bot.
type BotConfig struct {
	Token string `mapstructure:"token"`
}

// WhitelistConfig holds chat whitelist configuration.
type WhitelistConfig struct {
	Chats []int64 `mapstructure:"chats"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase
	// e.g., DATABASE_HOST, GAME_EXPIRATION, AUTH_JWT_SECRET
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional, env vars can provide all config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
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

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Game.Expiration <= 0 {
		return fmt.Errorf("game.expiration must be positive, got %s", c.Game.Expiration)
	}
	if c.Game.HistoryLimit <= 0 {
		return fmt.Errorf("game.history_limit must be positive, got %d", c.Game.HistoryLimit)
	}
	if c.Storage.Driver == DriverPostgres {
		if c.Database.PoolSize <= 0 {
			return fmt.Errorf("database.pool_size must be positive, got %d", c.Database.PoolSize)
		}
		if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.PoolSize {
			return fmt.Errorf("database.min_conns must be between 0 and pool_size, got %d", c.Database.MinConns)
		}
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "fairdice")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "fairdice")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.ping_timeout", "2s")

	v.SetDefault("storage.driver", DriverPostgres)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.queue", "fairdice_audit")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "fairdice")
	v.SetDefault("auth.token_ttl", "24h")

	v.SetDefault("game.expiration", "60s")
	v.SetDefault("game.history_limit", 5)

	v.SetDefault("bot.token", "")
	v.SetDefault("whitelist.chats", []int64{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
}

// IsChatAllowed checks if a chat ID is in the whitelist.
func (c *Config) IsChatAllowed(chatID int64) bool {
	// Empty whitelist means all chats are allowed
	if len(c.Whitelist.Chats) == 0 {
		return true
	}
	for _, id := range c.Whitelist.Chats {
		if id == chatID {
			return true
		}
	}
	return false
}
