// Package config loads runtime configuration for the trustkeeper CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON or YAML file (see parseFile) selected with -c or -config.
//     The format follows the file extension; anything but .yaml/.yml is JSON.
//  3. A .env file in the working directory and TRUSTKEEPER_* environment
//     variables (see parseEnv). Variables already set win over .env.
//  4. Command-line flags (see parseFlags), which override everything else.
//
// Supported flags
//
//	-a string   backend base URL, e.g. https://risk.example.com
//	-t int      request timeout (seconds)
//	-d string   data directory for the local database and key file
//	-dev        development mode (print step-up test codes)
//
// # File schema
//
// Durations use timex.Duration, so values can be strings like "15s" or
// integer nanoseconds:
//
//	{
//	  "server_url": "http://127.0.0.1:8000",
//	  "request_timeout": "15s",
//	  "data_dir": "~/.trustkeeper",
//	  "credential_backend": "sqlite",
//	  "archive": {"bucket": "audits", "endpoint": "http://127.0.0.1:9000"}
//	}
//
// credential_backend is sqlite, redis or memory.
//
// Invalid files or values panic, the same as a bad flag.
package config
