// Package config loads CLI configuration from flags, environment, .env files
// and an optional YAML config file.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/sdkstore/internal/datastore"
	"github.com/roach88/sdkstore/internal/store"
)

// EnvPrefix is prepended to every environment key, e.g. SDKSTORE_CACHE_PATH.
const EnvPrefix = "sdkstore"

// Keys shared by flags, environment and config file.
const (
	KeyPersistentPath = "persistent-path"
	KeyCachePath      = "cache-path"
	KeyBusyTimeout    = "busy-timeout"
	KeyJournalMode    = "journal-mode"
	KeyLogLevel       = "log-level"
	KeyFormat         = "format"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Config is the resolved CLI configuration.
type Config struct {
	PersistentPath string
	CachePath      string
	BusyTimeout    time.Duration
	JournalMode    string
	LogLevel       slog.Level
	Format         string
}

// SetupFlags registers every configuration key as a flag with its default.
func SetupFlags(fs *pflag.FlagSet) {
	fs.String(KeyPersistentPath, "", "path to the persistent store file")
	fs.String(KeyCachePath, "", "path to the cache store file")
	fs.Duration(KeyBusyTimeout, store.DefaultBusyTimeout, "how long to wait on a locked store (0 fails immediately)")
	fs.String(KeyJournalMode, store.DefaultJournalMode, "SQLite journal mode (DELETE|TRUNCATE|PERSIST|WAL)")
	fs.String(KeyLogLevel, "warn", "log level (debug|info|warn|error)")
	fs.String(KeyFormat, "text", "output format (json|text)")
}

// LoadEnvFiles loads .env and .env.local if they exist. Variables already
// set in the environment are not overridden.
func LoadEnvFiles(files ...string) {
	if len(files) == 0 {
		files = []string{".env", ".env.local"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// Load resolves configuration with precedence flags > environment >
// config file > flag defaults. configFile may be empty.
func Load(fs *pflag.FlagSet, configFile string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := Config{
		PersistentPath: v.GetString(KeyPersistentPath),
		CachePath:      v.GetString(KeyCachePath),
		BusyTimeout:    v.GetDuration(KeyBusyTimeout),
		JournalMode:    strings.ToUpper(v.GetString(KeyJournalMode)),
		Format:         v.GetString(KeyFormat),
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString(KeyLogLevel))); err != nil {
		return Config{}, fmt.Errorf("invalid %s %q", KeyLogLevel, v.GetString(KeyLogLevel))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that do not depend on which command runs.
func (c Config) Validate() error {
	if !isValidFormat(c.Format) {
		return fmt.Errorf("invalid format %q: must be one of %v", c.Format, ValidFormats)
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("invalid %s %s: must not be negative", KeyBusyTimeout, c.BusyTimeout)
	}
	if err := store.ValidateJournalMode(c.JournalMode); err != nil {
		return err
	}
	return nil
}

// RequirePaths reports an error naming whichever store path is missing.
func (c Config) RequirePaths() error {
	var missing []string
	if c.PersistentPath == "" {
		missing = append(missing, KeyPersistentPath)
	}
	if c.CachePath == "" {
		missing = append(missing, KeyCachePath)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s (flag or %s_* environment variable)",
			strings.Join(missing, ", "), strings.ToUpper(EnvPrefix))
	}
	return nil
}

// DatastoreOptions converts the configuration for datastore.Open.
func (c Config) DatastoreOptions(logger *slog.Logger) datastore.Options {
	return datastore.Options{
		BusyTimeout: c.BusyTimeout,
		JournalMode: c.JournalMode,
		Logger:      logger,
	}
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
