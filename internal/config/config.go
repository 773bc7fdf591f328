package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the Imagine server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Worker    WorkerConfig
	Artifacts ArtifactConfig
	Retention RetentionConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	RateLimitPerMin int
	CallbackToken   string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type WorkerConfig struct {
	BaseURL        string
	ModelID        string
	SyncTimeout    time.Duration
	MaxConcurrency int
}

type ArtifactConfig struct {
	Root          string
	SigningSecret string
	SignedURLTTL  time.Duration
	BaseURL       string
}

type RetentionConfig struct {
	MaxAge   time.Duration
	Interval time.Duration
}

// Load reads configuration from environment variables (with optional .env
// files for local development) and returns a validated Config. Returns an
// error with a descriptive message if any required value is missing or
// invalid.
func Load() (*Config, error) {
	// Not an error when the files are absent.
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("IMAGINE_PORT", 8080),
			Env:             envString("IMAGINE_ENV", "development"),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MINUTE", 60),
			CallbackToken:   os.Getenv("CALLBACK_TOKEN"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Worker: WorkerConfig{
			BaseURL:        os.Getenv("WORKER_BASE_URL"),
			ModelID:        envString("WORKER_MODEL_ID", "stabilityai/stable-diffusion-xl-base-1.0"),
			SyncTimeout:    envDurationSecs("WORKER_SYNC_TIMEOUT_SECS", 60*time.Second),
			MaxConcurrency: envInt("WORKER_MAX_CONCURRENCY", 4),
		},
		Artifacts: ArtifactConfig{
			Root:          envString("ARTIFACT_ROOT", "./artifacts"),
			SigningSecret: os.Getenv("ARTIFACT_SIGNING_SECRET"),
			SignedURLTTL:  envDuration("ARTIFACT_URL_TTL", 15*time.Minute),
			BaseURL:       envString("ARTIFACT_BASE_URL", "http://localhost:8080/api/v1/artifacts"),
		},
		Retention: RetentionConfig{
			MaxAge:   envDuration("JOB_RETENTION_MAX_AGE", 30*24*time.Hour),
			Interval: envDuration("JOB_RETENTION_INTERVAL", time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Worker.BaseURL == "" {
		return fmt.Errorf("WORKER_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Worker.BaseURL, "http://") && !strings.HasPrefix(c.Worker.BaseURL, "https://") {
		return fmt.Errorf("WORKER_BASE_URL must start with http:// or https://, got %q", c.Worker.BaseURL)
	}
	if c.Worker.MaxConcurrency < 1 {
		return fmt.Errorf("WORKER_MAX_CONCURRENCY must be at least 1, got %d", c.Worker.MaxConcurrency)
	}

	if c.Artifacts.SigningSecret == "" {
		return fmt.Errorf("ARTIFACT_SIGNING_SECRET is required")
	}

	if c.Server.CallbackToken == "" {
		return fmt.Errorf("CALLBACK_TOKEN is required")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
