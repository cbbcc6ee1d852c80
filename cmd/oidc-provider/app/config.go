package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	oidc "github.com/giantswarm/oidc-provider"
	"github.com/giantswarm/oidc-provider/security"
)

// Storage backends.
const (
	backendMemory = "memory"
	backendRedis  = "redis"
	backendValkey = "valkey"
)

const envPrefix = "OIDC_"

// Config is the on-disk configuration of the binary.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	Issuer     string `yaml:"issuer"`
	BasePath   string `yaml:"base_path"`
	LoginPath  string `yaml:"login_path"`

	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Token     TokenConfig     `yaml:"token"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Security  SecurityConfig  `yaml:"security"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Session   SessionConfig   `yaml:"session"`

	// Users are the accounts of the built-in login page.
	Users []UserConfig `yaml:"users"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StorageConfig struct {
	Backend string       `yaml:"backend"`
	Redis   RedisConfig  `yaml:"redis"`
	Valkey  ValkeyConfig `yaml:"valkey"`
}

type RedisConfig struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
}

type ValkeyConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	TLS       bool   `yaml:"tls"`
}

type TokenConfig struct {
	AccessTokenTTL              time.Duration `yaml:"access_token_ttl"`
	AuthorizationCodeTTL        time.Duration `yaml:"authorization_code_ttl"`
	PendingRequestTTL           time.Duration `yaml:"pending_request_ttl"`
	RefreshTokenTTL             time.Duration `yaml:"refresh_token_ttl"`
	DisableRefreshTokenRotation bool          `yaml:"disable_refresh_token_rotation"`
}

type RateLimitConfig struct {
	MaxFailedAttempts       int           `yaml:"max_failed_attempts"`
	FailureWindow           time.Duration `yaml:"failure_window"`
	LockoutPenalty          time.Duration `yaml:"lockout_penalty"`
	ClientMaxFailedAttempts int           `yaml:"client_max_failed_attempts"`
	RegistrationsPerHour    int           `yaml:"registrations_per_hour"`
	RegistrationBurst       int           `yaml:"registration_burst"`
	TrustProxy              bool          `yaml:"trust_proxy"`
	TrustedProxyCount       int           `yaml:"trusted_proxy_count"`
}

type SecurityConfig struct {
	AllowMissingPKCE           bool `yaml:"allow_missing_pkce"`
	DisableDynamicRegistration bool `yaml:"disable_dynamic_registration"`
	// EncryptionKey is a base64 encoded 32 byte key (see generate-key).
	EncryptionKey      string `yaml:"encryption_key"`
	EnableAuditLogging bool   `yaml:"enable_audit_logging"`
}

type MetricsConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Path         string `yaml:"path"`
	LogClientIPs bool   `yaml:"log_client_ips"`
}

type SessionConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// UserConfig is a login account. PasswordHash is a bcrypt hash (see hash-password).
type UserConfig struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Email        string `yaml:"email"`
	PasswordHash string `yaml:"password_hash"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr: ":8080",
		BasePath:   oidc.DefaultBasePath,
		LoginPath:  oidc.DefaultLoginPath,
		Log:        LogConfig{Level: "info", Format: "text"},
		Storage:    StorageConfig{Backend: backendMemory},
		Security:   SecurityConfig{EnableAuditLogging: true},
		Metrics:    MetricsConfig{Path: "/metrics"},
		Session:    SessionConfig{TTL: 12 * time.Hour},
	}
}

// loadConfig reads the optional env file, then the optional YAML file, then
// applies OIDC_* environment overrides. A missing env file is not an error.
func loadConfig(path, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := decodeConfig(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeConfig(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type lookupFunc func(string) (string, bool)

// applyEnv overrides the deployment specific settings. Secrets such as the
// encryption key and the storage credentials usually come from here.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}
	str("LISTEN_ADDR", &cfg.ListenAddr)
	str("ISSUER", &cfg.Issuer)
	str("BASE_PATH", &cfg.BasePath)
	str("LOGIN_PATH", &cfg.LoginPath)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("STORAGE_BACKEND", &cfg.Storage.Backend)
	str("REDIS_URL", &cfg.Storage.Redis.URL)
	str("VALKEY_ADDRESS", &cfg.Storage.Valkey.Address)
	str("VALKEY_PASSWORD", &cfg.Storage.Valkey.Password)
	str("ENCRYPTION_KEY", &cfg.Security.EncryptionKey)

	for name, dst := range map[string]*bool{
		"METRICS_ENABLED":      &cfg.Metrics.Enabled,
		"TRUST_PROXY":          &cfg.RateLimit.TrustProxy,
		"DISABLE_REGISTRATION": &cfg.Security.DisableDynamicRegistration,
	} {
		v, ok := lookup(envPrefix + name)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
		}
		*dst = b
	}

	if v, ok := lookup(envPrefix + "TRUSTED_PROXY_COUNT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sTRUSTED_PROXY_COUNT: %w", envPrefix, err)
		}
		cfg.RateLimit.TrustedProxyCount = n
	}
	return nil
}

func (c Config) validate() error {
	switch c.Storage.Backend {
	case backendMemory:
	case backendRedis:
		if c.Storage.Redis.URL == "" {
			return errors.New("storage.redis.url is required for the redis backend")
		}
	case backendValkey:
		if c.Storage.Valkey.Address == "" {
			return errors.New("storage.valkey.address is required for the valkey backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Issuer != "" && !strings.HasPrefix(c.Issuer, "https://") && !strings.HasPrefix(c.Issuer, "http://") {
		return fmt.Errorf("issuer must be an http(s) URL: %s", c.Issuer)
	}

	for i, u := range c.Users {
		if u.ID == "" || u.PasswordHash == "" {
			return fmt.Errorf("users[%d]: id and password_hash are required", i)
		}
	}
	return nil
}

// providerConfig maps the file configuration onto oidc.Config.
func (c Config) providerConfig(logger *slog.Logger) (oidc.Config, error) {
	pc := oidc.Config{
		Issuer:    c.Issuer,
		BasePath:  c.BasePath,
		LoginPath: c.LoginPath,
		Logger:    logger,
		Token: oidc.TokenConfig{
			AccessTokenTTL:              c.Token.AccessTokenTTL,
			AuthorizationCodeTTL:        c.Token.AuthorizationCodeTTL,
			PendingRequestTTL:           c.Token.PendingRequestTTL,
			RefreshTokenTTL:             c.Token.RefreshTokenTTL,
			DisableRefreshTokenRotation: c.Token.DisableRefreshTokenRotation,
		},
		RateLimit: oidc.RateLimitConfig{
			MaxFailedAttempts:       c.RateLimit.MaxFailedAttempts,
			FailureWindow:           c.RateLimit.FailureWindow,
			LockoutPenalty:          c.RateLimit.LockoutPenalty,
			ClientMaxFailedAttempts: c.RateLimit.ClientMaxFailedAttempts,
			RegistrationsPerHour:    c.RateLimit.RegistrationsPerHour,
			RegistrationBurst:       c.RateLimit.RegistrationBurst,
			TrustProxy:              c.RateLimit.TrustProxy,
			TrustedProxyCount:       c.RateLimit.TrustedProxyCount,
		},
		Security: oidc.SecurityConfig{
			AllowMissingPKCE:           c.Security.AllowMissingPKCE,
			DisableDynamicRegistration: c.Security.DisableDynamicRegistration,
			EnableAuditLogging:         c.Security.EnableAuditLogging,
		},
		Instrumentation: oidc.InstrumentationConfig{
			Enabled:        c.Metrics.Enabled,
			ServiceVersion: version,
			LogClientIPs:   c.Metrics.LogClientIPs,
		},
	}

	if c.Security.EncryptionKey != "" {
		key, err := security.KeyFromBase64(c.Security.EncryptionKey)
		if err != nil {
			return oidc.Config{}, fmt.Errorf("invalid encryption key: %w", err)
		}
		pc.Security.EncryptionKey = key
	}
	return pc, nil
}
