// Package config loads server configuration from command-line flags,
// environment variables, a .env file and defaults, in that order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// MinInviteSecretLength is the minimum accepted length of the invite signing secret.
const MinInviteSecretLength = 32

// Config holds the application configuration.
type Config struct {
	App         AppConfig
	Logger      LoggerConfig
	Server      ServerConfig
	Presence    PresenceConfig
	Invite      InviteConfig
	Auth        AuthConfig
	Entitlement EntitlementConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string `env:"ENV" envDefault:"development"`
	// DataPath holds the sqlite database and generated key files.
	DataPath string `env:"DATA_PATH"`
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string        `env:"SERVER_PORT" envDefault:"8080"`
	PublicURL      string        `env:"PUBLIC_URL"` // Optional, used to build invite links
	ReadTimeout    time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout   time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout    time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`
	AllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:5173"`
}

// PresenceConfig holds real-time gateway configuration. A session silent for
// three heartbeat intervals is closed.
type PresenceConfig struct {
	Path               string        `env:"PRESENCE_PATH" envDefault:"/socket"`
	SendBuffer         int           `env:"PRESENCE_SEND_BUFFER" envDefault:"64"`
	MaxFramesPerSecond float64       `env:"PRESENCE_MAX_FRAMES_PER_SECOND" envDefault:"20"`
	HeartbeatInterval  time.Duration `env:"PRESENCE_HEARTBEAT_INTERVAL" envDefault:"30s"`
}

// InviteConfig holds collaboration invite configuration.
type InviteConfig struct {
	// SigningSecret signs invite tokens. Generated into DATA_PATH/invite.key
	// in development when unset.
	SigningSecret string        `env:"INVITE_SIGNING_SECRET"`
	DefaultTTL    time.Duration `env:"INVITE_DEFAULT_TTL" envDefault:"24h"`
	MaxTTL        time.Duration `env:"INVITE_MAX_TTL" envDefault:"168h"`
}

// AuthConfig holds identity token configuration.
type AuthConfig struct {
	// Secret, when set, derives the PASETO key. Otherwise a key file is used.
	Secret              string        `env:"AUTH_SECRET"`
	AccessTokenDuration time.Duration `env:"ACCESS_TOKEN_DURATION" envDefault:"15m"`
}

// EntitlementConfig holds usage metering configuration.
type EntitlementConfig struct {
	FreeDailyLimit int           `env:"FREE_DAILY_LIMIT" envDefault:"30"`
	TrialLength    time.Duration `env:"TRIAL_LENGTH" envDefault:"168h"`
}

// Load loads configuration with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("ezhuthu", flag.ContinueOnError)

	envName := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	dataPath := fs.String("data-path", "", "Directory for the database and key files")
	port := fs.String("port", "", "Server port (default: 8080)")
	publicURL := fs.String("public-url", "", "Public base URL used in invite links")
	presencePath := fs.String("presence-path", "", "Path of the real-time socket (default: /socket)")
	envFile := fs.String("env-file", ".env", "Path to .env file")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	// Missing .env is fine; existing environment variables are never overwritten.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file %s: %w", *envFile, err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	override(&cfg.App.Environment, *envName)
	override(&cfg.Logger.Level, *logLevel)
	override(&cfg.App.DataPath, *dataPath)
	override(&cfg.Server.Port, *port)
	override(&cfg.Server.PublicURL, *publicURL)
	override(&cfg.Presence.Path, *presencePath)

	if err := cfg.expandDataPath(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}
	cfg.Server.PublicURL = strings.TrimRight(cfg.Server.PublicURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %q (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Server.Port == "" {
		return errors.New("SERVER_PORT cannot be empty")
	}

	if !strings.HasPrefix(c.Presence.Path, "/") || strings.HasPrefix(c.Presence.Path, "/api/") {
		return fmt.Errorf("invalid presence path: %q (must start with / and not live under /api/)", c.Presence.Path)
	}
	if c.Presence.SendBuffer <= 0 {
		return errors.New("PRESENCE_SEND_BUFFER must be positive")
	}
	if c.Presence.MaxFramesPerSecond <= 0 {
		return errors.New("PRESENCE_MAX_FRAMES_PER_SECOND must be positive")
	}
	if c.Presence.HeartbeatInterval <= 0 {
		return errors.New("PRESENCE_HEARTBEAT_INTERVAL must be positive")
	}

	if c.Invite.SigningSecret != "" && len(c.Invite.SigningSecret) < MinInviteSecretLength {
		return fmt.Errorf("INVITE_SIGNING_SECRET must be at least %d bytes", MinInviteSecretLength)
	}
	if c.Invite.SigningSecret == "" && c.App.Environment == "production" {
		return errors.New("INVITE_SIGNING_SECRET is required in production")
	}
	if c.Invite.DefaultTTL <= 0 || c.Invite.MaxTTL <= 0 {
		return errors.New("invite TTLs must be positive")
	}
	if c.Invite.DefaultTTL > c.Invite.MaxTTL {
		return fmt.Errorf("INVITE_DEFAULT_TTL (%s) exceeds INVITE_MAX_TTL (%s)", c.Invite.DefaultTTL, c.Invite.MaxTTL)
	}

	if c.Auth.AccessTokenDuration <= 0 {
		return errors.New("ACCESS_TOKEN_DURATION must be positive")
	}

	if c.Entitlement.FreeDailyLimit <= 0 {
		return errors.New("FREE_DAILY_LIMIT must be positive")
	}
	if c.Entitlement.TrialLength <= 0 {
		return errors.New("TRIAL_LENGTH must be positive")
	}

	if c.App.DataPath == "" {
		return errors.New("data path cannot be empty after expansion")
	}

	return nil
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

func override(dst *string, flagValue string) {
	if flagValue != "" {
		*dst = flagValue
	}
}

// expandPath expands ~ and makes the path absolute.
// If path is empty, defaultPath is returned unchanged.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

func (c *Config) expandDataPath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	expanded, err := expandPath(c.App.DataPath, filepath.Join(homeDir, "Ezhuthu", "data"))
	if err != nil {
		return err
	}
	c.App.DataPath = expanded
	return nil
}
