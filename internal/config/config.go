// Package config loads CLI settings from defaults, an optional config file,
// LANE_* environment variables and command-line flags, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/lane"
)

// EnvPrefix is the prefix of environment variables read by Load.
// LANE_BUSY_TIMEOUT sets busy_timeout, LANE_BENCH_PRODUCERS sets
// bench.producers.
const EnvPrefix = "LANE"

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config holds every setting the CLI reads.
type Config struct {
	DB          string        `mapstructure:"db"`
	Format      string        `mapstructure:"format"`
	Verbose     bool          `mapstructure:"verbose"`
	JournalMode string        `mapstructure:"journal_mode"`
	Synchronous string        `mapstructure:"synchronous"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
	Bench       Bench         `mapstructure:"bench"`
}

// Bench configures the bench command.
type Bench struct {
	Producers int    `mapstructure:"producers"`
	Ops       int    `mapstructure:"ops"`
	Table     string `mapstructure:"table"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DB:          "lane.db",
		Format:      FormatText,
		JournalMode: "WAL",
		Synchronous: "NORMAL",
		BusyTimeout: 5 * time.Second,
		Bench: Bench{
			Producers: 8,
			Ops:       1000,
			Table:     "bench",
		},
	}
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"db":           "db",
	"format":       "format",
	"verbose":      "verbose",
	"journal-mode": "journal_mode",
	"synchronous":  "synchronous",
	"busy-timeout": "busy_timeout",
	"producers":    "bench.producers",
	"ops":          "bench.ops",
	"table":        "bench.table",
}

// Load resolves the configuration.
//
// file names a config file (any format viper reads); when empty, lane.yaml
// (or .json, .toml) in the working directory is used if present. flags may
// be nil; flags the user did not set leave lower layers in place.
func Load(file string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()

	d := Default()
	v.SetDefault("db", d.DB)
	v.SetDefault("format", d.Format)
	v.SetDefault("verbose", d.Verbose)
	v.SetDefault("journal_mode", d.JournalMode)
	v.SetDefault("synchronous", d.Synchronous)
	v.SetDefault("busy_timeout", d.BusyTimeout)
	v.SetDefault("bench.producers", d.Bench.Producers)
	v.SetDefault("bench.ops", d.Bench.Ops)
	v.SetDefault("bench.table", d.Bench.Table)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("lane")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag --%s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later and less clearly.
func (c Config) Validate() error {
	if c.DB == "" {
		return errors.New("config: db path is required")
	}
	switch c.Format {
	case FormatText, FormatJSON:
	default:
		return fmt.Errorf("config: unknown format %q (want %s or %s)", c.Format, FormatText, FormatJSON)
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("config: busy_timeout must not be negative, got %s", c.BusyTimeout)
	}
	if c.Bench.Producers < 1 {
		return fmt.Errorf("config: bench.producers must be at least 1, got %d", c.Bench.Producers)
	}
	if c.Bench.Ops < 0 {
		return fmt.Errorf("config: bench.ops must not be negative, got %d", c.Bench.Ops)
	}
	if c.Bench.Table == "" {
		return errors.New("config: bench.table is required")
	}
	return nil
}

// Options converts the connection settings to lane options.
func (c Config) Options() []lane.Option {
	return []lane.Option{
		lane.WithJournalMode(c.JournalMode),
		lane.WithSynchronous(c.Synchronous),
		lane.WithBusyTimeout(c.BusyTimeout),
	}
}
