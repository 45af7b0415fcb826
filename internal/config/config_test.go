package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/ispring")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", "secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default port 8080, got %q", cfg.Port)
	}
	if cfg.StorageType != "local" {
		t.Errorf("Expected default storage type local, got %q", cfg.StorageType)
	}
	if cfg.LockBackend != "redis" {
		t.Errorf("Expected default lock backend redis, got %q", cfg.LockBackend)
	}
	if cfg.SessionLockTimeout != 10*time.Second {
		t.Errorf("Expected 10s lock timeout, got %s", cfg.SessionLockTimeout)
	}
	if cfg.MaxPackageSizeBytes() != 200*1024*1024 {
		t.Errorf("Unexpected max package size %d", cfg.MaxPackageSizeBytes())
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9090")
	t.Setenv("STORAGE_TYPE", "minio")
	t.Setenv("SESSION_LOCK_TIMEOUT", "3s")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Expected port 9090, got %q", cfg.Port)
	}
	if cfg.StorageType != "minio" || !cfg.MinioUseSSL {
		t.Errorf("Expected minio storage over TLS, got %q ssl=%v", cfg.StorageType, cfg.MinioUseSSL)
	}
	if cfg.SessionLockTimeout != 3*time.Second {
		t.Errorf("Expected 3s lock timeout, got %s", cfg.SessionLockTimeout)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown storage type", "STORAGE_TYPE", "ftp"},
		{"unknown lock backend", "LOCK_BACKEND", "etcd"},
		{"non-numeric package size", "MAX_PACKAGE_SIZE_MB", "abc"},
		{"zero lock timeout", "SESSION_LOCK_TIMEOUT", "0s"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tc.key, tc.value)

			if _, err := Load(); err == nil {
				t.Errorf("Expected error for %s=%q", tc.key, tc.value)
			}
		})
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", "secret")

	if _, err := Load(); err == nil {
		t.Error("Expected error for missing DATABASE_URL")
	}
}
