package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"time"

	"dbtyaml/internal/store"

	"github.com/BurntSushi/toml"
	version "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"
)

// Defaults.
const (
	DefaultFile     = "dbtyaml.toml"
	DefaultDir      = "dbt_configs"
	DefaultListen   = "127.0.0.1:8501"
	DefaultLogLevel = "info"
)

// Environment variables.
const (
	EnvConfig            = "DBTYAML_CONFIG"
	EnvDir               = "DBTYAML_DIR"
	EnvListen            = "DBTYAML_LISTEN"
	EnvLogLevel          = "DBTYAML_LOG_LEVEL"
	EnvLogFile           = "DBTYAML_LOG_FILE"
	EnvSupportedVersions = "DBTYAML_SUPPORTED_VERSIONS"
	EnvKeepEmptyFiles    = "DBTYAML_KEEP_EMPTY_FILES"
)

// Config holds the application configuration
type Config struct {
	// Directory holding the DBT properties files
	Dir string `toml:"dir"`

	// Web server
	Listen          string `toml:"listen"`
	ShutdownTimeout string `toml:"shutdown_timeout"`

	// Logging
	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"`
	Colors   bool   `toml:"colors"`

	// Documents
	SupportedVersions string `toml:"supported_versions"`
	KeepEmptyFiles    bool   `toml:"keep_empty_files"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Dir:               DefaultDir,
		Listen:            DefaultListen,
		ShutdownTimeout:   "5s",
		LogLevel:          DefaultLogLevel,
		Colors:            true,
		SupportedVersions: store.DefaultSupportedVersions,
	}
}

// Load reads the configuration file at path, then applies the environment.
// An empty path means $DBTYAML_CONFIG, then "dbtyaml.toml". The default file
// may be missing, an explicit one may not.
func Load(path string) (*Config, error) {
	config := Default()

	explicit := true
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		path, explicit = DefaultFile, false
	}

	meta, err := toml.DecodeFile(path, config)
	switch {
	case err == nil:
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			log.WithFields(log.Fields{
				"file": path,
				"keys": undecoded,
			}).Warn("unknown configuration keys")
		}
		log.WithField("file", path).Debug("configuration file loaded")
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// optional
	default:
		return nil, fmt.Errorf("reading configuration %s: %w", path, err)
	}

	config.Dir = getEnvOrDefault(EnvDir, config.Dir)
	config.Listen = getEnvOrDefault(EnvListen, config.Listen)
	config.LogLevel = getEnvOrDefault(EnvLogLevel, config.LogLevel)
	config.LogFile = getEnvOrDefault(EnvLogFile, config.LogFile)
	config.SupportedVersions = getEnvOrDefault(EnvSupportedVersions, config.SupportedVersions)
	config.KeepEmptyFiles = getEnvBoolOrDefault(EnvKeepEmptyFiles, config.KeepEmptyFiles)

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("the configuration directory is required")
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if _, err := version.NewConstraint(c.SupportedVersions); err != nil {
		return fmt.Errorf("invalid supported versions %q: %w", c.SupportedVersions, err)
	}
	if _, err := c.Shutdown(); err != nil {
		return err
	}
	return nil
}

// Shutdown returns the time given to running requests when the server stops.
func (c *Config) Shutdown() (time.Duration, error) {
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid shutdown timeout %q", c.ShutdownTimeout)
	}
	return d, nil
}

// Helper functions
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
