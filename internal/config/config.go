package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string `env:"PORT" envDefault:"8080"`
	Env  string `env:"ENV" envDefault:"development"`

	// Database
	DatabaseURL   string `env:"DATABASE_URL,notEmpty"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	// Redis
	RedisURL string `env:"REDIS_URL,notEmpty"`

	// JWT
	JWTSecret string `env:"JWT_SECRET,notEmpty"`

	// Storage
	StorageType      string `env:"STORAGE_TYPE" envDefault:"local"`
	StoragePath      string `env:"STORAGE_PATH" envDefault:"./uploads"`
	MaxPackageSizeMB int64  `env:"MAX_PACKAGE_SIZE_MB" envDefault:"200"`

	// MinIO
	MinioEndpoint  string `env:"MINIO_ENDPOINT" envDefault:"localhost:9000"`
	MinioAccessKey string `env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `env:"MINIO_SECRET_KEY"`
	MinioBucket    string `env:"MINIO_BUCKET" envDefault:"ispring-packages"`
	MinioUseSSL    bool   `env:"MINIO_USE_SSL" envDefault:"false"`

	// Locking
	LockBackend        string        `env:"LOCK_BACKEND" envDefault:"redis"`
	SessionLockTimeout time.Duration `env:"SESSION_LOCK_TIMEOUT" envDefault:"10s"`

	// Completion workers
	CompletionWorkers    int `env:"COMPLETION_WORKERS" envDefault:"2"`
	CompletionMaxRetries int `env:"COMPLETION_MAX_RETRIES" envDefault:"3"`

	// Frontend
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:5173"`

	// Rate limiting (requests per minute per IP)
	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"600"`
}

// Load reads an optional .env file and then parses the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageType {
	case "local", "minio":
	default:
		return fmt.Errorf("unsupported STORAGE_TYPE %q", c.StorageType)
	}
	switch c.LockBackend {
	case "redis", "local":
	default:
		return fmt.Errorf("unsupported LOCK_BACKEND %q", c.LockBackend)
	}
	if c.SessionLockTimeout <= 0 {
		return fmt.Errorf("SESSION_LOCK_TIMEOUT must be positive")
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}
	if c.MaxPackageSizeMB <= 0 {
		return fmt.Errorf("MAX_PACKAGE_SIZE_MB must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

func (c *Config) MaxPackageSizeBytes() int64 {
	return c.MaxPackageSizeMB * 1024 * 1024
}
