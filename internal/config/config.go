package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds process-level settings. Everything a user curates (selected
// server, channels, setup flag) lives in the persisted Store instead.
type Config struct {
	// DataDir is the root for the database, image cache and artifacts.
	// Defaults to <user config dir>/showcased.
	DataDir string `envconfig:"DATA_DIR"`

	// FetchLimit is the page size for channel history requests. The source
	// API caps this at 100.
	FetchLimit int `envconfig:"FETCH_LIMIT" default:"100"`

	// DownloadTimeout bounds a single attachment download.
	DownloadTimeout time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"30s"`

	// CleanupAge is the default threshold for CleanOldData (30 days).
	CleanupAge time.Duration `envconfig:"CLEANUP_AGE" default:"720h"`
}

// Load reads SHOWCASED_* environment variables over defaults.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("showcased", &c); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	if c.DataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve user config dir: %w", err)
		}
		c.DataDir = filepath.Join(base, "showcased")
	}
	return &c, nil
}

func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "showcased.db")
}

func (c *Config) CacheDir() string {
	return filepath.Join(c.DataDir, "images")
}

func (c *Config) ArtifactsDir() string {
	return filepath.Join(c.DataDir, "presentations")
}
