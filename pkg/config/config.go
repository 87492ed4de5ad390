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

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Supported key-value store drivers.
const (
	StoreDriverMemory   = "memory"
	StoreDriverFile     = "file"
	StoreDriverRedis    = "redis"
	StoreDriverPostgres = "postgres"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Store    StoreConfig
	Sweep    SweepConfig
	Derive   DeriveConfig
	Changes  ChangesConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// StoreConfig selects the backing key-value store for the shared collections.
type StoreConfig struct {
	Driver    string
	FileDir   string
	KeyPrefix string
}

// SweepConfig controls the referential-integrity sweeper.
type SweepConfig struct {
	Interval   time.Duration
	OnMutation bool
}

// DeriveConfig tunes notification derivation.
type DeriveConfig struct {
	PendingGraceWindow time.Duration
}

// ChangesConfig governs cross-process change propagation.
type ChangesConfig struct {
	Channel      string
	StreamEnable bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Store = StoreConfig{
		Driver:    strings.ToLower(strings.TrimSpace(v.GetString("STORE_DRIVER"))),
		FileDir:   v.GetString("STORE_FILE_DIR"),
		KeyPrefix: v.GetString("STORE_KEY_PREFIX"),
	}
	switch cfg.Store.Driver {
	case StoreDriverMemory, StoreDriverFile, StoreDriverRedis, StoreDriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.Store.Driver)
	}

	cfg.Sweep = SweepConfig{
		Interval:   parseDuration(v.GetString("SWEEP_INTERVAL"), 30*time.Second),
		OnMutation: v.GetBool("SWEEP_ON_MUTATION"),
	}

	cfg.Derive = DeriveConfig{
		PendingGraceWindow: parseDuration(v.GetString("PENDING_GRACE_WINDOW"), 0),
	}

	cfg.Changes = ChangesConfig{
		Channel:      v.GetString("CHANGE_CHANNEL"),
		StreamEnable: v.GetBool("ENABLE_CHANGE_STREAM"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "sma_notify")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORE_DRIVER", StoreDriverMemory)
	v.SetDefault("STORE_FILE_DIR", "./data")
	v.SetDefault("STORE_KEY_PREFIX", "")

	v.SetDefault("SWEEP_INTERVAL", "30s")
	v.SetDefault("SWEEP_ON_MUTATION", true)
	v.SetDefault("PENDING_GRACE_WINDOW", "0s")

	v.SetDefault("CHANGE_CHANNEL", "notify:changes")
	v.SetDefault("ENABLE_CHANGE_STREAM", true)
}

func isMissingFile(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
