package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

// Credential storage backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds runtime settings for the trustkeeper CLI.
type Config struct {
	ServerURL      string        `validate:"required,url"`
	RequestTimeout time.Duration `validate:"gt=0"`
	DataDir        string        `validate:"required"`
	ClientName     string        `validate:"required"`

	CredentialBackend string `validate:"oneof=sqlite redis memory"`
	RedisAddr         string `validate:"required_if=CredentialBackend redis"`
	RedisPassword     string
	RedisDB           int `validate:"gte=0"`

	LogLevel  string `validate:"omitempty,oneof=debug info warn warning error"`
	LogFormat string `validate:"omitempty,oneof=text json zap"`
	DevMode   bool

	Archive ArchiveConfig
}

// ArchiveConfig points at the S3-compatible bucket for audit exports. An
// empty Bucket disables archiving.
type ArchiveConfig struct {
	Bucket    string
	Region    string
	Endpoint  string `validate:"omitempty,url"`
	AccessKey string
	SecretKey string
	Prefix    string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8000"
	c.RequestTimeout = 15 * time.Second
	c.DataDir = defaultDataDir()
	c.ClientName = "trustkeeper-cli"
	c.CredentialBackend = BackendSQLite
	c.RedisAddr = "127.0.0.1:6379"
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.Archive.Region = "us-east-1"
	c.Archive.Prefix = "audit"
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "trustkeeper")
	}
	return ".trustkeeper"
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadConfig constructs a Config, applies defaults, then overlays the config
// file, the environment and command-line flags. Later sources take precedence
// over earlier ones.
func LoadConfig() *Config {
	args := os.Args[1:]

	cfg := &Config{}
	cfg.LoadDefaults()
	parseFile(cfg, args)
	loadDotEnv(".env")
	parseEnv(cfg)
	parseFlags(cfg, args)
	return cfg
}
