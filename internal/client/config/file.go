package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dmitrijs2005/trustkeeper/internal/flagx"
	"github.com/dmitrijs2005/trustkeeper/internal/timex"
)

// FileConfig is a DTO used exclusively for file unmarshalling. Empty fields
// leave the current value untouched.
type FileConfig struct {
	ServerURL         string         `json:"server_url" yaml:"server_url"`
	RequestTimeout    timex.Duration `json:"request_timeout" yaml:"request_timeout"`
	DataDir           string         `json:"data_dir" yaml:"data_dir"`
	ClientName        string         `json:"client_name" yaml:"client_name"`
	CredentialBackend string         `json:"credential_backend" yaml:"credential_backend"`
	RedisAddr         string         `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword     string         `json:"redis_password" yaml:"redis_password"`
	RedisDB           *int           `json:"redis_db" yaml:"redis_db"`
	LogLevel          string         `json:"log_level" yaml:"log_level"`
	LogFormat         string         `json:"log_format" yaml:"log_format"`
	DevMode           *bool          `json:"dev_mode" yaml:"dev_mode"`
	Archive           FileArchive    `json:"archive" yaml:"archive"`
}

type FileArchive struct {
	Bucket    string `json:"bucket" yaml:"bucket"`
	Region    string `json:"region" yaml:"region"`
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	Prefix    string `json:"prefix" yaml:"prefix"`
}

// parseFile overlays cfg with the file named by -c/-config in args. Without
// the flag it does nothing. Read and decode errors panic.
func parseFile(cfg *Config, args []string) {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	var fc FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		panic(err)
	}

	fc.apply(cfg)
}

func (fc *FileConfig) apply(cfg *Config) {
	setString(&cfg.ServerURL, fc.ServerURL)
	if fc.RequestTimeout.Duration > 0 {
		cfg.RequestTimeout = fc.RequestTimeout.Duration
	}
	setString(&cfg.DataDir, expandHome(fc.DataDir))
	setString(&cfg.ClientName, fc.ClientName)
	setString(&cfg.CredentialBackend, fc.CredentialBackend)
	setString(&cfg.RedisAddr, fc.RedisAddr)
	setString(&cfg.RedisPassword, fc.RedisPassword)
	if fc.RedisDB != nil {
		cfg.RedisDB = *fc.RedisDB
	}
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.LogFormat, fc.LogFormat)
	if fc.DevMode != nil {
		cfg.DevMode = *fc.DevMode
	}

	setString(&cfg.Archive.Bucket, fc.Archive.Bucket)
	setString(&cfg.Archive.Region, fc.Archive.Region)
	setString(&cfg.Archive.Endpoint, fc.Archive.Endpoint)
	setString(&cfg.Archive.AccessKey, fc.Archive.AccessKey)
	setString(&cfg.Archive.SecretKey, fc.Archive.SecretKey)
	setString(&cfg.Archive.Prefix, fc.Archive.Prefix)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
