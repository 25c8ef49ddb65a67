package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable overrides recognized by Load.
const (
	EnvConfigPath         = "CONFIG_PATH"
	EnvDBConnection       = "DB_CONNECTION"
	EnvSessionSecret      = "SESSION_SECRET"
	EnvGoogleClientID     = "GOOGLE_OAUTH2_CLIENT_ID"
	EnvGoogleClientSecret = "GOOGLE_OAUTH2_CLIENT_SECRET"
	EnvGoogleRedirectURL  = "GOOGLE_OAUTH2_REDIRECT_URL"
	EnvStorageEndpoint    = "STORAGE_ENDPOINT"
	EnvStorageAccessKey   = "STORAGE_ACCESS_KEY"
	EnvStorageSecretKey   = "STORAGE_SECRET_KEY"
	EnvStorageBucket      = "STORAGE_BUCKET"
	EnvRedisAddr          = "REDIS_ADDR"
	EnvRedisPassword      = "REDIS_PASSWORD"
)

// defaultSessionExpiry is used when the config omits session expiry.
const defaultSessionExpiry = 7 * 24 * time.Hour

// defaultInvokeTimeout bounds a single model invocation.
const defaultInvokeTimeout = 2 * time.Minute

// defaultGenerationCost is the per-generation credit debit.
const defaultGenerationCost = 1

// defaultSubmitPerMinute caps generation submissions per user per minute.
const defaultSubmitPerMinute = 10

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// Duration parses YAML duration strings such as "30s" or "48h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if errDecode := value.Decode(&raw); errDecode != nil {
		return errDecode
	}
	parsed, errParse := time.ParseDuration(strings.TrimSpace(raw))
	if errParse != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, errParse)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// SessionConfig holds session cookie signing settings.
type SessionConfig struct {
	Secret string   `yaml:"secret"`
	Expiry Duration `yaml:"expiry"`
}

// GoogleConfig holds Google OAuth2 client settings.
type GoogleConfig struct {
	ClientID     string `yaml:"client-id"`
	ClientSecret string `yaml:"client-secret"`
	RedirectURL  string `yaml:"redirect-url"`
}

// StorageConfig holds S3-compatible object storage settings.
// An empty endpoint selects the in-memory store (local development only).
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access-key"`
	SecretKey string `yaml:"secret-key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use-ssl"`
}

// GenerationConfig holds lifecycle engine settings.
type GenerationConfig struct {
	Cost            int64    `yaml:"cost"`
	Model           string   `yaml:"model"`
	InvokeTimeout   Duration `yaml:"invoke-timeout"`
	SubmitPerMinute int      `yaml:"submit-per-minute"`
}

// RedisConfig holds optional Redis settings for rate limiting.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Config holds all resolved application configuration values.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Session    SessionConfig    `yaml:"session"`
	Google     GoogleConfig     `yaml:"google"`
	Storage    StorageConfig    `yaml:"storage"`
	Generation GenerationConfig `yaml:"generation"`
	Redis      RedisConfig      `yaml:"redis"`

	// FrontendHost is where completed users are redirected after sign-in.
	FrontendHost string `yaml:"frontend-host"`
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = os.Getenv(EnvConfigPath)
	}
	if strings.TrimSpace(trimmed) == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// Load reads the YAML config file and applies env overrides and defaults.
// A missing file is not an error as long as the required values arrive via
// environment variables.
func Load(configPath string) (Config, error) {
	var cfg Config

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", configPath, errUnmarshal)
		}
	} else if !os.IsNotExist(errRead) {
		return Config{}, fmt.Errorf("config: read %s: %w", configPath, errRead)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return Config{}, fmt.Errorf("config: missing database dsn (set `database.dsn` or env %s)", EnvDBConnection)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Database.DSN, EnvDBConnection)
	overrideString(&cfg.Session.Secret, EnvSessionSecret)
	overrideString(&cfg.Google.ClientID, EnvGoogleClientID)
	overrideString(&cfg.Google.ClientSecret, EnvGoogleClientSecret)
	overrideString(&cfg.Google.RedirectURL, EnvGoogleRedirectURL)
	overrideString(&cfg.Storage.Endpoint, EnvStorageEndpoint)
	overrideString(&cfg.Storage.AccessKey, EnvStorageAccessKey)
	overrideString(&cfg.Storage.SecretKey, EnvStorageSecretKey)
	overrideString(&cfg.Storage.Bucket, EnvStorageBucket)
	overrideString(&cfg.Redis.Addr, EnvRedisAddr)
	overrideString(&cfg.Redis.Password, EnvRedisPassword)

	if raw := strings.TrimSpace(os.Getenv("PORT")); raw != "" {
		if port, errParse := strconv.Atoi(raw); errParse == nil && port > 0 {
			cfg.Server.Port = port
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		cfg.Server.Port = 8080
	}
	if cfg.Session.Expiry <= 0 {
		cfg.Session.Expiry = Duration(defaultSessionExpiry)
	}
	if cfg.Generation.Cost <= 0 {
		cfg.Generation.Cost = defaultGenerationCost
	}
	if cfg.Generation.InvokeTimeout <= 0 {
		cfg.Generation.InvokeTimeout = Duration(defaultInvokeTimeout)
	}
	if cfg.Generation.SubmitPerMinute <= 0 {
		cfg.Generation.SubmitPerMinute = defaultSubmitPerMinute
	}
	if strings.TrimSpace(cfg.FrontendHost) == "" {
		cfg.FrontendHost = "http://localhost:5173"
	}
}

func overrideString(target *string, env string) {
	if value := strings.TrimSpace(os.Getenv(env)); value != "" {
		*target = value
	}
}
