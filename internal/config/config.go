package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingJWTSecret   = errors.New("JWT_SECRET is required")
	ErrMissingDatabaseDSN = errors.New("DB_DSN is required")
)

type Config struct {
	HTTP  HTTPConfig
	WS    WSConfig
	DB    DBConfig
	Redis RedisConfig
	Auth  AuthConfig
	Bot   BotConfig
	Rate  RateConfig
	Log   LogConfig
}

type HTTPConfig struct {
	ListenAddr  string
	HealthPath  string
	MetricsPath string
	ReadTimeout time.Duration
}

type WSConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

type DBConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration

	// Seed account created on first start when no SUPER_ADMIN exists.
	SuperAdminUsername string
	SuperAdminPassword string
}

type BotConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
}

type RateConfig struct {
	PerHour int64
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			ListenAddr:  mustEnv("LISTEN_ADDR", ":8080"),
			HealthPath:  mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath: mustEnv("METRICS_PATH", "/metrics"),
			ReadTimeout: mustDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		},
		WS: WSConfig{
			ReadTimeout:    mustDuration("WS_READ_TIMEOUT", 60*time.Second),
			WriteTimeout:   mustDuration("WS_WRITE_TIMEOUT", 10*time.Second),
			PingInterval:   mustDuration("WS_PING_INTERVAL", 30*time.Second),
			MaxMessageSize: int64(mustInt("WS_MAX_MESSAGE_SIZE", 64*1024)),
			SendBuffer:     mustInt("WS_SEND_BUFFER", 256),
		},
		DB: DBConfig{
			Driver:      strings.ToLower(mustEnv("DB_DRIVER", "sqlite")),
			DSN:         mustEnv("DB_DSN", "file:data/verseroom.db?_pragma=busy_timeout(5000)"),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     mustEnv("REDIS_ADDR", ""),
			Password: mustEnv("REDIS_PASSWORD", ""),
			DB:       mustInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret:          mustEnv("JWT_SECRET", ""),
			TokenTTL:           mustDuration("TOKEN_TTL", 24*time.Hour),
			SuperAdminUsername: mustEnv("SUPER_ADMIN_USERNAME", "admin"),
			SuperAdminPassword: mustEnv("SUPER_ADMIN_PASSWORD", ""),
		},
		Bot: BotConfig{
			APIKey:      mustEnv("DEEPSEEK_API_KEY", ""),
			BaseURL:     mustEnv("DEEPSEEK_BASE_URL", "https://api.deepseek.com/v1"),
			Model:       mustEnv("BOT_MODEL", "deepseek-chat"),
			Timeout:     mustDuration("BOT_HTTP_TIMEOUT", 30*time.Second),
			MaxRetries:  mustInt("BOT_HTTP_MAX_RETRIES", 2),
			BackoffBase: mustDuration("BOT_HTTP_BACKOFF_BASE", 400*time.Millisecond),
		},
		Rate: RateConfig{
			PerHour: int64(mustInt("BOT_RATE_LIMIT_PER_HOUR", 30)),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	if cfg.Auth.JWTSecret == "" {
		return nil, ErrMissingJWTSecret
	}
	if cfg.DB.DSN == "" {
		return nil, ErrMissingDatabaseDSN
	}
	switch cfg.DB.Driver {
	case "sqlite", "sqlite3", "postgres", "pgx":
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DB.Driver)
	}

	return cfg, nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
