// Package config loads server settings. An optional .env file is overridden
// by the process environment, which is overridden by command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Collection backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds all server settings.
type Config struct {
	DBPath    string
	Addr      string
	LogPath   string
	LogLevel  string
	LogFormat string

	Backend     string
	RedisAddr   string
	RedisPrefix string

	GeminiAPIKey string
	GeminiModel  string

	// AllowedOrigins are origin host patterns, besides the server's own
	// host, allowed to open the change feed.
	AllowedOrigins []string
}

// Defaults returns the built-in settings.
func Defaults() Config {
	return Config{
		DBPath:    "shramba.sqlite3",
		Addr:      ":8080",
		LogLevel:  "info",
		LogFormat: "text",
		Backend:   BackendSQLite,
		RedisAddr: "localhost:6379",
	}
}

// Load applies envFile (if it exists) and SHRAMBA_* variables on top of the
// defaults. Variables already set in the process environment win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	cfg := Defaults()
	for _, v := range []struct {
		key string
		dst *string
	}{
		{"SHRAMBA_DB", &cfg.DBPath},
		{"SHRAMBA_ADDR", &cfg.Addr},
		{"SHRAMBA_LOG", &cfg.LogPath},
		{"SHRAMBA_LOG_LEVEL", &cfg.LogLevel},
		{"SHRAMBA_LOG_FORMAT", &cfg.LogFormat},
		{"SHRAMBA_BACKEND", &cfg.Backend},
		{"SHRAMBA_REDIS_ADDR", &cfg.RedisAddr},
		{"SHRAMBA_REDIS_PREFIX", &cfg.RedisPrefix},
		{"SHRAMBA_GEMINI_API_KEY", &cfg.GeminiAPIKey},
		{"SHRAMBA_GEMINI_MODEL", &cfg.GeminiModel},
	} {
		if val, ok := os.LookupEnv(v.key); ok && val != "" {
			*v.dst = val
		}
	}
	cfg.AllowedOrigins = splitList(os.Getenv("SHRAMBA_ALLOWED_ORIGINS"))
	return cfg, nil
}

// BindFlags registers the short and long command-line flags. Current values
// become the flag defaults, so flags override the environment.
func (c *Config) BindFlags(flags *flag.FlagSet) {
	flags.StringVar(&c.DBPath, "db", c.DBPath, "")
	flags.StringVar(&c.DBPath, "d", c.DBPath, "")
	flags.StringVar(&c.Addr, "addr", c.Addr, "")
	flags.StringVar(&c.Addr, "a", c.Addr, "")
	flags.StringVar(&c.LogPath, "log", c.LogPath, "")
	flags.StringVar(&c.LogPath, "l", c.LogPath, "")
	flags.StringVar(&c.Backend, "backend", c.Backend, "")
	flags.StringVar(&c.Backend, "b", c.Backend, "")
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []string

	if c.Addr == "" {
		errs = append(errs, "listen address is required")
	}
	switch c.Backend {
	case BackendSQLite, BackendRedis:
	default:
		errs = append(errs, fmt.Sprintf("unknown backend %q (want sqlite or redis)", c.Backend))
	}
	if c.DBPath == "" {
		errs = append(errs, "database path is required")
	}
	if c.Backend == BackendRedis && c.RedisAddr == "" {
		errs = append(errs, "redis address is required for the redis backend")
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("unknown log format %q (want text or json)", c.LogFormat))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown log level %q", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ClassifierEnabled reports whether image classification is configured.
func (c Config) ClassifierEnabled() bool {
	return c.GeminiAPIKey != ""
}

// splitList splits a comma-separated value, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
