package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/artpar/tunnelgate/internal/core/params"
)

// EnvPrefix prefixes every environment override, e.g.
// TUNNELGATE_STACK_DOMAIN or TUNNELGATE_LOG_LEVEL.
const EnvPrefix = "TUNNELGATE"

// =============================================================================
// Config Types
// =============================================================================

// Config holds the tool settings. Stack parameters are read separately
// through Stack so they are collected and validated by params.Collect.
type Config struct {
	InstallDir string          `mapstructure:"install_dir"`
	Log        LogConfig       `mapstructure:"log"`
	Docker     DockerConfig    `mapstructure:"docker"`
	Health     HealthConfig    `mapstructure:"health"`
	Backup     BackupConfig    `mapstructure:"backup"`
	Preflight  PreflightConfig `mapstructure:"preflight"`

	v *viper.Viper
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// HealthConfig bounds the post-start health wait.
type HealthConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// BackupConfig holds snapshot settings.
type BackupConfig struct {
	// Passphrase seals the secret copy inside snapshots. Empty stores it
	// in the clear (mode 0600).
	Passphrase string `mapstructure:"passphrase"`
}

// PreflightConfig holds host check overrides.
type PreflightConfig struct {
	AllowNonLinux bool `mapstructure:"allow_non_linux"`
}

// Stack returns the stack parameters under the "stack." key prefix.
func (c *Config) Stack() params.Source {
	return prefixSource{v: c.v, prefix: "stack."}
}

// prefixSource reads viper keys under a prefix. Unlike viper.Sub it keeps
// environment overrides working.
type prefixSource struct {
	v      *viper.Viper
	prefix string
}

func (s prefixSource) GetString(key string) string        { return s.v.GetString(s.prefix + key) }
func (s prefixSource) GetBool(key string) bool            { return s.v.GetBool(s.prefix + key) }
func (s prefixSource) GetStringSlice(key string) []string { return s.v.GetStringSlice(s.prefix + key) }

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("install_dir", "/opt/tunnelgate")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("docker.host", "")
	v.SetDefault("health.timeout", "120s")
	v.SetDefault("health.poll_interval", "2s")
	v.SetDefault("backup.passphrase", "")
	v.SetDefault("preflight.allow_non_linux", false)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var parseErr viper.ConfigParseError
			if errors.As(err, &parseErr) {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.v = v

	if cfg.InstallDir == "" {
		return nil, errors.New("install_dir must not be empty")
	}
	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format. Logs
// go to w so command output on stdout stays clean.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
