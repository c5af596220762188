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
	ErrMissingDatabaseDSN = errors.New("DB_DSN is required when AUDIT_ENABLED is true")
	ErrInvalidRateLimit   = errors.New("RATE_LIMIT_PER_HOUR must be > 0")
)

type Config struct {
	Server  ServerConfig
	Redis   RedisConfig
	Ollama  OllamaConfig
	Session SessionConfig
	Rate    RateConfig
	Audit   AuditConfig
	Log     LogConfig
}

type ServerConfig struct {
	ListenAddr  string
	HealthPath  string
	MetricsPath string
	CORSOrigins []string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type OllamaConfig struct {
	BaseURL      string
	DefaultModel string
	Temperature  float64
	TopP         float64
	NumPredict   int
	TagsTimeout  time.Duration
}

type SessionConfig struct {
	TTL time.Duration
}

type RateConfig struct {
	PerHour int64
}

type AuditConfig struct {
	Enabled     bool
	Driver      string
	DSN         string
	AutoMigrate bool
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			ListenAddr:  mustEnv("LISTEN_ADDR", ":8080"),
			HealthPath:  mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath: mustEnv("METRICS_PATH", "/metrics"),
			CORSOrigins: splitList(mustEnv("CORS_ORIGINS", "*")),
		},
		Redis: RedisConfig{
			Addr:     mustEnv("REDIS_ADDR", "localhost:6379"),
			Password: mustEnv("REDIS_PASSWORD", ""),
			DB:       mustInt("REDIS_DB", 0),
		},
		Ollama: OllamaConfig{
			BaseURL:      mustEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			DefaultModel: mustEnv("OLLAMA_MODEL", "llama3"),
			Temperature:  mustFloat("OLLAMA_TEMPERATURE", 0.7),
			TopP:         mustFloat("OLLAMA_TOP_P", 0.9),
			NumPredict:   mustInt("OLLAMA_NUM_PREDICT", 512),
			TagsTimeout:  mustDuration("OLLAMA_TAGS_TIMEOUT", 5*time.Second),
		},
		Session: SessionConfig{
			TTL: mustDuration("SESSION_TTL", 24*time.Hour),
		},
		Rate: RateConfig{
			PerHour: int64(mustInt("RATE_LIMIT_PER_HOUR", 120)),
		},
		Audit: AuditConfig{
			Enabled:     mustBool("AUDIT_ENABLED", false),
			Driver:      strings.ToLower(mustEnv("DB_DRIVER", "sqlite")),
			DSN:         mustEnv("DB_DSN", ""),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	if cfg.Rate.PerHour <= 0 {
		return nil, ErrInvalidRateLimit
	}
	if cfg.Audit.Enabled && cfg.Audit.DSN == "" {
		return nil, ErrMissingDatabaseDSN
	}
	if strings.TrimSpace(cfg.Ollama.BaseURL) == "" {
		return nil, fmt.Errorf("OLLAMA_BASE_URL must not be empty")
	}

	return cfg, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
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

func mustFloat(key string, def float64) float64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
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
