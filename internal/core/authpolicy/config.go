package authpolicy

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Configuration Document
// =============================================================================

// Paths and addresses as seen from inside the authentication container.
const (
	ConfigDir        = "/config"
	UsersFile        = ConfigDir + "/users_database.yml"
	NotificationFile = ConfigDir + "/notification.txt"
	ListenAddress    = "tcp://:9091"
	DatabaseName     = "authelia"
	DatabaseUser     = "authelia"
)

// Environment variables the authentication service reads its secrets from.
const (
	EnvJWTSecret            = "AUTHELIA_IDENTITY_VALIDATION_RESET_PASSWORD_JWT_SECRET"
	EnvSessionSecret        = "AUTHELIA_SESSION_SECRET"
	EnvStorageEncryptionKey = "AUTHELIA_STORAGE_ENCRYPTION_KEY"
	EnvPostgresPassword     = "AUTHELIA_STORAGE_POSTGRES_PASSWORD"
	EnvRedisPassword        = "AUTHELIA_SESSION_REDIS_PASSWORD"
)

// Config is the authentication service configuration. It holds no secret
// values; those arrive through the environment.
type Config struct {
	Theme                 string                `yaml:"theme"`
	Server                ServerConfig          `yaml:"server"`
	Log                   LogConfig             `yaml:"log"`
	TOTP                  TOTPConfig            `yaml:"totp"`
	AuthenticationBackend AuthenticationBackend `yaml:"authentication_backend"`
	AccessControl         AccessControl         `yaml:"access_control"`
	Session               SessionConfig         `yaml:"session"`
	Regulation            RegulationConfig      `yaml:"regulation"`
	Storage               StorageConfig         `yaml:"storage"`
	Notifier              NotifierConfig        `yaml:"notifier"`
}

type ServerConfig struct {
	Address string `yaml:"address"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// TOTPConfig controls second-factor enrolment.
type TOTPConfig struct {
	Disable bool   `yaml:"disable"`
	Issuer  string `yaml:"issuer"`
}

type AuthenticationBackend struct {
	File FileBackend `yaml:"file"`
}

type FileBackend struct {
	Path     string          `yaml:"path"`
	Watch    bool            `yaml:"watch"`
	Password PasswordOptions `yaml:"password"`
}

type PasswordOptions struct {
	Algorithm string        `yaml:"algorithm"`
	Argon2    Argon2Options `yaml:"argon2"`
}

type Argon2Options struct {
	Variant     string `yaml:"variant"`
	Iterations  uint32 `yaml:"iterations"`
	Memory      uint32 `yaml:"memory"`
	Parallelism uint8  `yaml:"parallelism"`
	KeyLength   uint32 `yaml:"key_length"`
	SaltLength  uint32 `yaml:"salt_length"`
}

type SessionConfig struct {
	Cookies []SessionCookie `yaml:"cookies"`
	Redis   RedisConfig     `yaml:"redis"`
}

// SessionCookie scopes sessions to a domain and names the portal URL.
type SessionCookie struct {
	Domain      string `yaml:"domain"`
	AutheliaURL string `yaml:"authelia_url"`
	Expiration  string `yaml:"expiration"`
	Inactivity  string `yaml:"inactivity"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type RegulationConfig struct {
	MaxRetries int    `yaml:"max_retries"`
	FindTime   string `yaml:"find_time"`
	BanTime    string `yaml:"ban_time"`
}

type StorageConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	Address  string `yaml:"address"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
}

type NotifierConfig struct {
	Filesystem FilesystemNotifier `yaml:"filesystem"`
}

type FilesystemNotifier struct {
	Filename string `yaml:"filename"`
}

// =============================================================================
// Render / Parse
// =============================================================================

// RenderConfig encodes cfg as YAML.
func RenderConfig(cfg Config) ([]byte, error) {
	return encode(cfg)
}

// ParseConfig decodes a configuration document.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse auth config: %w", err)
	}
	return cfg, nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("render yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("render yaml: %w", err)
	}
	return buf.Bytes(), nil
}
