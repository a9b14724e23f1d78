package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables read by ApplyEnv. They take precedence over the
// configuration file so that secrets can stay out of it.
const (
	EnvAPIKey    = "KANPORA_API_KEY"
	EnvDSN       = "KANPORA_DB_DSN"
	EnvProxyList = "KANPORA_PROXY_LIST"
	EnvSearchURL = "KANPORA_SEARCH_URL"
)

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables already set. Missing files are
// ignored. With no argument, ".env" in the current directory is used.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv overlays the KANPORA_* environment variables onto cfg.
// KANPORA_PROXY_LIST is a comma separated list.
func ApplyEnv(cfg *Config) {
	setString(&cfg.APIKey, os.Getenv(EnvAPIKey))
	setString(&cfg.DBDSN, os.Getenv(EnvDSN))
	setString(&cfg.SearchURL, os.Getenv(EnvSearchURL))
	if v := os.Getenv(EnvProxyList); v != "" {
		cfg.Proxies = SplitList(v)
	}
}

// SplitList splits a comma separated list, trimming spaces and dropping
// empty entries.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
