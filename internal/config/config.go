// Package config loads the convoflowd daemon's configuration with a
// FromEnv/Validate pattern: environment-first, sane per-mode defaults,
// and a checked data directory before the process starts serving.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Config is convoflowd's process configuration.
type Config struct {
	Mode string // demo, dev, or prod

	Driver string // sqlite or postgres
	DSN    string
	Data   string // data directory; sqlite DSN defaults under here

	BotToken         string
	BotSlug          string
	BotInitialPageID string

	MetricsEnabled bool
	MetricsAddr    string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// FromEnv loads configuration from environment variables, falling
// back to the documented defaults for anything unset.
func (c *Config) FromEnv() {
	c.Mode = getEnvOrDefault("CONVOFLOW_MODE", "demo")
	c.Driver = getEnvOrDefault("CONVOFLOW_DB_DRIVER", "sqlite")
	c.DSN = getEnvOrDefault("CONVOFLOW_DB_DSN", "")
	c.Data = getEnvOrDefault("CONVOFLOW_DATA", "")

	c.BotToken = getEnvOrDefault("CONVOFLOW_BOT_TOKEN", "")
	c.BotSlug = getEnvOrDefault("CONVOFLOW_BOT_SLUG", "default")
	c.BotInitialPageID = getEnvOrDefault("CONVOFLOW_BOT_INITIAL_PAGE", "")

	c.MetricsEnabled = getEnvOrDefaultBool("CONVOFLOW_METRICS_ENABLED", true)
	c.MetricsAddr = getEnvOrDefault("CONVOFLOW_METRICS_ADDR", ":9090")
}

func checkDataDir(dataDir string) (string, error) {
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		if mkErr := os.MkdirAll(dataDir, 0o770); mkErr != nil {
			return "", errors.Wrapf(mkErr, "create data folder %s", dataDir)
		}
	} else if err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate fills in mode-dependent defaults (data directory, sqlite
// DSN) and checks that the data directory exists or can be created.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("config: CONVOFLOW_BOT_TOKEN is required")
	}

	if c.Mode != "demo" && c.Mode != "dev" && c.Mode != "prod" {
		c.Mode = "demo"
	}

	if c.Data == "" {
		if c.Mode == "prod" && runtime.GOOS != "windows" {
			c.Data = "/var/opt/convoflow"
		} else {
			c.Data = "convoflow-data"
		}
	}

	dataDir, err := checkDataDir(c.Data)
	if err != nil {
		slog.Error("config: failed to prepare data directory", "data", c.Data, "error", err)
		return err
	}
	c.Data = dataDir

	if c.Driver == "sqlite" && c.DSN == "" {
		dbFile := fmt.Sprintf("convoflow_%s.db", c.Mode)
		c.DSN = filepath.Join(dataDir, dbFile) + "?_loc=auto"
	}

	return nil
}

// IsDev reports whether the process is running outside prod mode.
func (c *Config) IsDev() bool {
	return c.Mode != "prod"
}
