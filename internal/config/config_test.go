package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BRIDGEQ_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != BackendHTTP {
		t.Fatalf("expected http backend, got %q", cfg.Backend)
	}
	if cfg.Poll.Interval != 2*time.Second {
		t.Fatalf("expected 2s poll interval, got %s", cfg.Poll.Interval)
	}
	if cfg.API.MaxRetries != 3 {
		t.Fatalf("expected 3 retries, got %d", cfg.API.MaxRetries)
	}
	if cfg.Redis.KeyPrefix != "bridgeq" {
		t.Fatalf("unexpected redis prefix %q", cfg.Redis.KeyPrefix)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "BRIDGEQ_BACKEND=Redis\nBRIDGEQ_REDIS_ADDRESS=10.0.0.5:6380\nBRIDGEQ_PRIORITY_FLOOR=2\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("BRIDGEQ_ENV_FILE", path)
	// godotenv does not override variables already present
	t.Setenv("BRIDGEQ_REDIS_DB", "4")
	t.Cleanup(func() {
		os.Unsetenv("BRIDGEQ_BACKEND")
		os.Unsetenv("BRIDGEQ_REDIS_ADDRESS")
		os.Unsetenv("BRIDGEQ_PRIORITY_FLOOR")
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != BackendRedis {
		t.Fatalf("expected redis backend, got %q", cfg.Backend)
	}
	if cfg.Redis.Addr != "10.0.0.5:6380" {
		t.Fatalf("unexpected addr %q", cfg.Redis.Addr)
	}
	if cfg.Redis.DB != 4 {
		t.Fatalf("expected db 4, got %d", cfg.Redis.DB)
	}
	if cfg.Server.PriorityFloor != 2 {
		t.Fatalf("expected floor 2, got %d", cfg.Server.PriorityFloor)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Backend: BackendHTTP,
			API:     API{URL: "http://x", Timeout: time.Second, MaxRetries: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Second},
			Server:  Server{PriorityFloor: 1, ListCeiling: 10},
			Poll:    Poll{Interval: time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown backend", mutate: func(c *Config) { c.Backend = "sqlite" }, wantErr: true},
		{name: "missing url", mutate: func(c *Config) { c.API.URL = " " }, wantErr: true},
		{name: "memory without url", mutate: func(c *Config) { c.Backend = BackendMemory; c.API.URL = "" }},
		{name: "zero timeout", mutate: func(c *Config) { c.API.Timeout = 0 }, wantErr: true},
		{name: "inverted backoff", mutate: func(c *Config) { c.API.MaxBackoff = 0 }, wantErr: true},
		{name: "zero poll interval", mutate: func(c *Config) { c.Poll.Interval = 0 }, wantErr: true},
		{name: "floor out of range", mutate: func(c *Config) { c.Server.PriorityFloor = 6 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
