package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const baseConfig = `
port: "8080"
databaseURL: "sqlite:chat.db"
redisAddr: "localhost:6379"
jwtSecret: "c2VjcmV0LXNlY3JldC1zZWNyZXQtc2VjcmV0LXNlY3JldA=="
rateLimitMaxRequests: 3
rateLimitTimeWindow: "30s"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Room != "general" {
		t.Fatalf("room = %q, want general", cfg.Room)
	}
	if cfg.MaxMessageLength != 2000 {
		t.Fatalf("maxMessageLength = %d, want 2000", cfg.MaxMessageLength)
	}
	if cfg.RateLimitMaxRequests != 3 || cfg.RateLimitTimeWindow != "30s" {
		t.Fatalf("unexpected rate limit config: %d %q", cfg.RateLimitMaxRequests, cfg.RateLimitTimeWindow)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "10")
	t.Setenv("RATE_LIMIT_TIME_WINDOW", "60000")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("TRUSTED_PROXY_CIDRS", "10.0.0.0/8, ,172.16.0.0/12")

	cfg, err := Load(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RateLimitMaxRequests != 10 {
		t.Fatalf("rateLimitMaxRequests = %d, want 10", cfg.RateLimitMaxRequests)
	}
	window, err := ParseDuration("rateLimitTimeWindow", cfg.RateLimitTimeWindow)
	if err != nil || window != time.Minute {
		t.Fatalf("window = %v err=%v, want 1m", window, err)
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Fatalf("redisAddr = %q", cfg.RedisAddr)
	}
	if len(cfg.TrustedProxyCIDRs) != 2 {
		t.Fatalf("trusted proxies = %v", cfg.TrustedProxyCIDRs)
	}
}

func TestLoadUsesConfigPathEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, baseConfig))
	if _, err := Load(""); err != nil {
		t.Fatalf("load via CONFIG_PATH: %v", err)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"missing secret": `
port: "8080"
databaseURL: "sqlite:chat.db"
redisAddr: "localhost:6379"
`,
		"bad window": `
port: "8080"
databaseURL: "sqlite:chat.db"
redisAddr: "localhost:6379"
jwtSecret: "x"
rateLimitTimeWindow: "soon"
`,
		"negative limit": `
port: "8080"
databaseURL: "sqlite:chat.db"
redisAddr: "localhost:6379"
jwtSecret: "x"
rateLimitMaxRequests: -1
`,
	}
	for name, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
