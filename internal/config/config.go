// Package config loads the server configuration.
//
// LAYERING (later layers win):
//  1. Defaults from Default()
//  2. An optional YAML file: $CONFIG_PATH, else ./config.yaml or ./config.yml
//  3. Environment variables, e.g. SERVER_PORT, DATABASE_PATH, AUTH_JWT_SECRET
//
// The short names from earlier releases (PORT, DB_PATH, JWT_SECRET,
// GITHUB_CLIENT_ID, ...) are still honoured.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are tried in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
}

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`
	GitHub   GitHubConfig   `koanf:"github"`
	Redis    RedisConfig    `koanf:"redis"`
	Media    MediaConfig    `koanf:"media"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr is the listen address, e.g. ":8080".
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Path string `koanf:"path"` // SQLite file, or ":memory:"
}

type AuthConfig struct {
	JWTSecret  string        `koanf:"jwt_secret"`
	AccessTTL  time.Duration `koanf:"access_ttl"`
	RefreshTTL time.Duration `koanf:"refresh_ttl"`
	BcryptCost int           `koanf:"bcrypt_cost"`
}

// GitHubConfig enables GitHub login when both ClientID and ClientSecret
// are set.
type GitHubConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	CallbackURL  string `koanf:"callback_url"`
}

func (g GitHubConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

// RedisConfig enables the rating-aggregate cache when Addr is set.
type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	TTL      time.Duration `koanf:"ttl"`
}

type MediaConfig struct {
	Dir            string `koanf:"dir"`
	URLPrefix      string `koanf:"url_prefix"`
	MaxUploadBytes int64  `koanf:"max_upload_bytes"`
}

type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	AuthRateLimit     int           `koanf:"auth_rate_limit"` // requests per window per IP on /auth/*; 0 disables
	AuthRateWindow    time.Duration `koanf:"auth_rate_window"`
	TrustProxyHeaders bool          `koanf:"trust_proxy_headers"` // honour X-Forwarded-For / X-Real-IP
}

type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text, json
}

// Default returns the built-in configuration, before any file or
// environment overrides.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "data/catalog.db",
		},
		Auth: AuthConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			BcryptCost: 12,
		},
		Redis: RedisConfig{
			TTL: 15 * time.Minute,
		},
		Media: MediaConfig{
			Dir:            "data/media",
			URLPrefix:      "/media/",
			MaxUploadBytes: 5 << 20,
		},
		Security: SecurityConfig{
			CORSOrigins:    []string{"http://localhost:3000"},
			AuthRateLimit:  20,
			AuthRateWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, the config file and the
// environment, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: loading defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("config: loading environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first config file that exists, or "".
// An explicit CONFIG_PATH that doesn't exist is skipped like the defaults.
func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields splits comma-separated env values into slices. Values
// that came from YAML are already slices and are left alone.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(s, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("config: setting %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"server_host":             "server.host",
	"server_port":             "server.port",
	"port":                    "server.port",
	"server_read_timeout":     "server.read_timeout",
	"server_write_timeout":    "server.write_timeout",
	"server_idle_timeout":     "server.idle_timeout",
	"server_shutdown_timeout": "server.shutdown_timeout",

	"database_path": "database.path",
	"db_path":       "database.path",

	"auth_jwt_secret":  "auth.jwt_secret",
	"jwt_secret":       "auth.jwt_secret",
	"auth_access_ttl":  "auth.access_ttl",
	"auth_refresh_ttl": "auth.refresh_ttl",
	"auth_bcrypt_cost": "auth.bcrypt_cost",

	"github_client_id":     "github.client_id",
	"github_client_secret": "github.client_secret",
	"github_callback_url":  "github.callback_url",

	"redis_addr":     "redis.addr",
	"redis_password": "redis.password",
	"redis_db":       "redis.db",
	"redis_ttl":      "redis.ttl",

	"media_dir":              "media.dir",
	"media_url_prefix":       "media.url_prefix",
	"media_max_upload_bytes": "media.max_upload_bytes",

	"cors_origins":                 "security.cors_origins",
	"security_cors_origins":        "security.cors_origins",
	"security_auth_rate_limit":     "security.auth_rate_limit",
	"security_auth_rate_window":    "security.auth_rate_window",
	"security_trust_proxy_headers": "security.trust_proxy_headers",

	"log_level":      "logging.level",
	"logging_level":  "logging.level",
	"log_format":     "logging.format",
	"logging_format": "logging.format",
}

// envTransformFunc maps an environment variable name to a config path.
// Unknown names map to "" and are dropped, so unrelated variables in the
// environment never leak into the config.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// Validate checks the loaded configuration for values the server cannot
// start with. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 16 characters (set AUTH_JWT_SECRET)"))
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		errs = append(errs, errors.New("auth.access_ttl and auth.refresh_ttl must be positive"))
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("auth.bcrypt_cost must be between 4 and 31, got %d", c.Auth.BcryptCost))
	}
	if (c.GitHub.ClientID == "") != (c.GitHub.ClientSecret == "") {
		errs = append(errs, errors.New("github.client_id and github.client_secret must be set together"))
	}
	if c.Media.Dir == "" || c.Media.URLPrefix == "" {
		errs = append(errs, errors.New("media.dir and media.url_prefix are required"))
	}
	if c.Media.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("media.max_upload_bytes must be positive"))
	}
	if c.Security.AuthRateLimit < 0 {
		errs = append(errs, errors.New("security.auth_rate_limit must not be negative"))
	}
	if c.Security.AuthRateLimit > 0 && c.Security.AuthRateWindow <= 0 {
		errs = append(errs, errors.New("security.auth_rate_window must be positive when rate limiting is on"))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
