package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
listen_addr: ":9000"
issuer: https://auth.example.com
base_path: /auth
storage:
  backend: redis
  redis:
    url: redis://localhost:6379/0
token:
  access_token_ttl: 15m
  disable_refresh_token_rotation: true
rate_limit:
  max_failed_attempts: 3
  lockout_penalty: 2m
security:
  encryption_key: AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8=
users:
  - id: alice
    name: Alice Example
    email: alice@example.com
    password_hash: $2a$10$abcdefghijklmnopqrstuv
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadConfig_File(t *testing.T) {
	cfg, err := loadConfig(writeFile(t, "config.yaml", sampleConfig), "")
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.ListenAddr != ":9000" || cfg.Issuer != "https://auth.example.com" || cfg.BasePath != "/auth" {
		t.Errorf("top level fields = %q %q %q", cfg.ListenAddr, cfg.Issuer, cfg.BasePath)
	}
	if cfg.LoginPath != "/oidc_login" {
		t.Errorf("LoginPath = %q, want default", cfg.LoginPath)
	}
	if cfg.Token.AccessTokenTTL != 15*time.Minute || !cfg.Token.DisableRefreshTokenRotation {
		t.Errorf("Token = %+v", cfg.Token)
	}
	if cfg.RateLimit.LockoutPenalty != 2*time.Minute {
		t.Errorf("LockoutPenalty = %v", cfg.RateLimit.LockoutPenalty)
	}
	if len(cfg.Users) != 1 || cfg.Users[0].Email != "alice@example.com" {
		t.Errorf("Users = %+v", cfg.Users)
	}
	if !cfg.Security.EnableAuditLogging {
		t.Error("audit logging should stay on unless disabled in the file")
	}

	pc, err := cfg.providerConfig(nil)
	if err != nil {
		t.Fatalf("providerConfig() error = %v", err)
	}
	if len(pc.Security.EncryptionKey) != 32 {
		t.Errorf("len(EncryptionKey) = %d, want 32", len(pc.Security.EncryptionKey))
	}
	if pc.RateLimit.MaxFailedAttempts != 3 || !pc.Token.DisableRefreshTokenRotation {
		t.Errorf("provider config not mapped: %+v", pc)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("", "")
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Storage.Backend != backendMemory || cfg.ListenAddr != ":8080" || cfg.Metrics.Path != "/metrics" {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("OIDC_ISSUER", "https://override.example.com")
	t.Setenv("OIDC_METRICS_ENABLED", "true")
	t.Setenv("OIDC_TRUSTED_PROXY_COUNT", "2")

	cfg, err := loadConfig(writeFile(t, "config.yaml", sampleConfig), "")
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Issuer != "https://override.example.com" {
		t.Errorf("Issuer = %q", cfg.Issuer)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled should be overridden")
	}
	if cfg.RateLimit.TrustedProxyCount != 2 {
		t.Errorf("TrustedProxyCount = %d", cfg.RateLimit.TrustedProxyCount)
	}
}

func TestLoadConfig_EnvFile(t *testing.T) {
	const name = "OIDC_VALKEY_PASSWORD"
	if _, set := os.LookupEnv(name); set {
		t.Skipf("%s is set in the environment", name)
	}
	t.Cleanup(func() { _ = os.Unsetenv(name) })

	envFile := writeFile(t, ".env", name+"=from-dotenv\n")
	cfg, err := loadConfig("", envFile)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Storage.Valkey.Password != "from-dotenv" {
		t.Errorf("Valkey.Password = %q", cfg.Storage.Valkey.Password)
	}

	if _, err := loadConfig("", filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing env file should be ignored, got %v", err)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "unknown field", content: "listen_adr: x\n", wantErr: "listen_adr"},
		{name: "unknown backend", content: "storage:\n  backend: etcd\n", wantErr: "unknown storage backend"},
		{name: "redis without url", content: "storage:\n  backend: redis\n", wantErr: "storage.redis.url"},
		{name: "valkey without address", content: "storage:\n  backend: valkey\n", wantErr: "storage.valkey.address"},
		{name: "bad issuer", content: "issuer: auth.example.com\n", wantErr: "issuer must be"},
		{name: "user without hash", content: "users:\n  - id: bob\n", wantErr: "users[0]"},
		{name: "bad duration", content: "token:\n  access_token_ttl: soon\n", wantErr: "time.Duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeFile(t, "config.yaml", tt.content), "")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("loadConfig() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnv_InvalidBool(t *testing.T) {
	cfg := defaultConfig()
	lookup := func(k string) (string, bool) {
		if k == "OIDC_TRUST_PROXY" {
			return "maybe", true
		}
		return "", false
	}
	if err := applyEnv(&cfg, lookup); err == nil {
		t.Error("applyEnv() should reject a non-boolean value")
	}
}

func TestProviderConfig_InvalidKey(t *testing.T) {
	cfg := defaultConfig()
	cfg.Security.EncryptionKey = "c2hvcnQ="
	if _, err := cfg.providerConfig(nil); err == nil {
		t.Error("providerConfig() should reject a 5 byte key")
	}
}

func TestNewLogger(t *testing.T) {
	var sb strings.Builder
	logger, err := newLogger(LogConfig{Level: "warn", Format: "json"}, &sb)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	if strings.Contains(sb.String(), "hidden") || !strings.Contains(sb.String(), `"k":"v"`) {
		t.Errorf("log output = %s", sb.String())
	}

	if _, err := newLogger(LogConfig{Level: "loud"}, &sb); err == nil {
		t.Error("newLogger() should reject an unknown level")
	}
	if _, err := newLogger(LogConfig{Level: "info", Format: "xml"}, &sb); err == nil {
		t.Error("newLogger() should reject an unknown format")
	}
}
