package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "TRUSTKEEPER_"

// loadDotEnv exports variables from path into the process environment
// without overriding ones that are already set. A missing file is ignored.
func loadDotEnv(path string) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(err)
	}
}

// parseEnv overlays cfg with TRUSTKEEPER_* variables. Malformed numbers,
// booleans and durations panic.
func parseEnv(cfg *Config) {
	envString(&cfg.ServerURL, "SERVER_URL")
	if v, ok := lookup("REQUEST_TIMEOUT"); ok {
		cfg.RequestTimeout = parseEnvDuration(v)
	}
	envString(&cfg.DataDir, "DATA_DIR")
	envString(&cfg.ClientName, "CLIENT_NAME")
	envString(&cfg.CredentialBackend, "CREDENTIAL_BACKEND")
	envString(&cfg.RedisAddr, "REDIS_ADDR")
	envString(&cfg.RedisPassword, "REDIS_PASSWORD")
	if v, ok := lookup("REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			panic(err)
		}
		cfg.RedisDB = n
	}
	envString(&cfg.LogLevel, "LOG_LEVEL")
	envString(&cfg.LogFormat, "LOG_FORMAT")
	if v, ok := lookup("DEV_MODE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			panic(err)
		}
		cfg.DevMode = b
	}

	envString(&cfg.Archive.Bucket, "ARCHIVE_BUCKET")
	envString(&cfg.Archive.Region, "ARCHIVE_REGION")
	envString(&cfg.Archive.Endpoint, "ARCHIVE_ENDPOINT")
	envString(&cfg.Archive.AccessKey, "ARCHIVE_ACCESS_KEY")
	envString(&cfg.Archive.SecretKey, "ARCHIVE_SECRET_KEY")
	envString(&cfg.Archive.Prefix, "ARCHIVE_PREFIX")
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func envString(dst *string, name string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}

// parseEnvDuration accepts "15s" style durations or a plain number of seconds.
func parseEnvDuration(v string) time.Duration {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(err)
	}
	return d
}
