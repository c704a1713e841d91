package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost:5432/fhirstack")
	defer os.Unsetenv("DATABASE_URL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.DefaultPageSize != 20 {
		t.Errorf("expected default page size 20, got %d", cfg.DefaultPageSize)
	}
	if cfg.QueryTimeout() != 30*time.Second {
		t.Errorf("expected 30s query timeout, got %s", cfg.QueryTimeout())
	}
	if cfg.ConnLifetime() != time.Hour {
		t.Errorf("expected 1h connection lifetime, got %s", cfg.ConnLifetime())
	}
	if cfg.ConnIdleTime() != 30*time.Minute {
		t.Errorf("expected 30m idle time, got %s", cfg.ConnIdleTime())
	}
	if !cfg.IsDev() {
		t.Error("expected development mode by default")
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	os.Unsetenv("DATABASE_URL")

	if _, err := Load(); err == nil {
		t.Error("expected error when DATABASE_URL is missing")
	}
}

func TestValidate(t *testing.T) {
	t.Run("production requires auth configuration", func(t *testing.T) {
		cfg := &Config{Env: "production", DefaultPageSize: 20, MaxPageSize: 1000}
		if err := cfg.Validate(); err == nil {
			t.Error("expected validation failure without auth config in production")
		}

		cfg.JWTSigningKey = "secret"
		if err := cfg.Validate(); err != nil {
			t.Errorf("unexpected validation failure: %v", err)
		}
	})

	t.Run("page size bounds", func(t *testing.T) {
		cfg := &Config{Env: "development", DefaultPageSize: 0, MaxPageSize: 1000}
		if err := cfg.Validate(); err == nil {
			t.Error("expected validation failure for zero page size")
		}

		cfg = &Config{Env: "development", DefaultPageSize: 2000, MaxPageSize: 1000}
		if err := cfg.Validate(); err == nil {
			t.Error("expected validation failure when default exceeds max")
		}
	})
}
