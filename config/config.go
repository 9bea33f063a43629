// Package config contains the negsync configuration definitions.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nostrc/negsync/metrics"
	"github.com/nostrc/negsync/negsync"
	"github.com/nostrc/negsync/scheduler"
	"github.com/nostrc/negsync/store"
)

const (
	// EnvPrefix is the prefix of environment variables overriding the
	// configuration, e.g. NEGSYNC_SYNC_BATCH_SIZE.
	EnvPrefix = "NEGSYNC"

	defaultDataDirName = ".negsync"
	defaultDBFile      = "events.sql"
)

// Config defines the top level configuration.
type Config struct {
	DataDir   string           `mapstructure:"data-dir" yaml:"data-dir"`
	Preset    string           `mapstructure:"preset" yaml:"preset,omitempty"`
	Logging   LoggerConfig     `mapstructure:"logging" yaml:"logging"`
	Store     StoreConfig      `mapstructure:"store" yaml:"store"`
	Sync      negsync.Config   `mapstructure:"sync" yaml:"sync"`
	Scheduler scheduler.Config `mapstructure:"scheduler" yaml:"scheduler"`
	Metrics   MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// StoreConfig configures the local event store.
type StoreConfig struct {
	// DBFile is the database file, relative to the data directory unless
	// absolute.
	DBFile          string `mapstructure:"db-file" yaml:"db-file"`
	Connections     int    `mapstructure:"connections" yaml:"connections"`
	CacheSize       int    `mapstructure:"cache-size" yaml:"cache-size"`
	LatencyMetering bool   `mapstructure:"latency-metering" yaml:"latency-metering"`
}

// MetricsConfig configures the metrics server.
type MetricsConfig struct {
	Enable bool               `mapstructure:"enable" yaml:"enable"`
	Listen string             `mapstructure:"listen" yaml:"listen"`
	Push   metrics.PushConfig `mapstructure:"push" yaml:"push"`
}

// DBPath returns the path of the database file.
func (cfg *Config) DBPath() string {
	if filepath.IsAbs(cfg.Store.DBFile) {
		return cfg.Store.DBFile
	}
	return filepath.Join(cfg.DataDir, cfg.Store.DBFile)
}

// LockPath returns the path of the lock file guarding the data directory.
func (cfg *Config) LockPath() string {
	return filepath.Join(cfg.DataDir, "LOCK")
}

// Validate checks the configuration.
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.DataDir == "" {
		errs = append(errs, errors.New("data-dir is empty"))
	}
	for i, target := range cfg.Sync.Targets {
		if !strings.HasPrefix(target.Relay, "ws://") && !strings.HasPrefix(target.Relay, "wss://") {
			errs = append(errs, fmt.Errorf("sync.targets[%d]: relay %q is not a websocket url", i, target.Relay))
		}
		if len(target.Kinds) == 0 {
			errs = append(errs, fmt.Errorf("sync.targets[%d]: no kinds", i))
		}
	}
	if cfg.Sync.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("sync.batch-size must be positive, got %d", cfg.Sync.BatchSize))
	}
	if cfg.Scheduler.BaseInterval <= 0 || cfg.Scheduler.MaxInterval < cfg.Scheduler.BaseInterval {
		errs = append(errs, fmt.Errorf("scheduler intervals are invalid: base %v, max %v",
			cfg.Scheduler.BaseInterval, cfg.Scheduler.MaxInterval))
	}
	if cfg.Metrics.Push.URL != "" && cfg.Metrics.Push.Period <= 0 {
		errs = append(errs, errors.New("metrics.push.period must be positive"))
	}
	return errors.Join(errs...)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		DataDir: defaultDataDir(),
		Logging: defaultLoggingConfig(),
		Store: StoreConfig{
			DBFile:      defaultDBFile,
			Connections: 16,
			CacheSize:   store.DefaultCacheSize,
		},
		Sync:      negsync.DefaultConfig(),
		Scheduler: scheduler.DefaultConfig(),
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:1010",
			Push: metrics.PushConfig{
				Period: time.Minute,
			},
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultDataDirName
	}
	return filepath.Join(home, defaultDataDirName)
}

// AddFlags defines the flags overriding the configuration.
func AddFlags(fs *pflag.FlagSet) {
	def := DefaultConfig()
	fs.StringP("preset", "p", "",
		fmt.Sprintf("preset overwrites default values of the config. options %+s", PresetOptions()))
	fs.StringP("data-dir", "d", def.DataDir, "directory of the event database")
	fs.String("log-level", def.Logging.Level, "log level")
	fs.String("log-encoder", def.Logging.Encoder, "log encoder, console or json")
	fs.String("log-file", def.Logging.File, "also write logs to the file")
	fs.Bool("metrics", def.Metrics.Enable, "serve prometheus metrics")
	fs.String("metrics-listen", def.Metrics.Listen, "address of the metrics server")
	fs.Duration("base-interval", def.Scheduler.BaseInterval, "interval between syncs after drift is found")
	fs.Duration("max-interval", def.Scheduler.MaxInterval, "max interval between syncs")
	fs.Int("batch-size", def.Sync.BatchSize, "max number of events requested at once")
	fs.StringArray("relay", nil, "relay to sync with, replaces the configured targets. Can be passed multiple times")
	fs.IntSlice("kinds", []int{1}, "event kinds synced with the relays passed with --relay")
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"preset":         "preset",
	"data-dir":       "data-dir",
	"log-level":      "logging.level",
	"log-encoder":    "logging.log-encoder",
	"log-file":       "logging.file",
	"metrics":        "metrics.enable",
	"metrics-listen": "metrics.listen",
	"base-interval":  "scheduler.base-interval",
	"max-interval":   "scheduler.max-interval",
	"batch-size":     "sync.batch-size",
}

// Load loads the configuration. Values are taken, in order of precedence,
// from the flags set on the command line, the environment, the config
// file at path (if not empty), the preset named in any of those, and the
// defaults.
func Load(fs afero.Fs, path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetFs(fs)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	if flags != nil {
		var bindErr error
		// unchanged flags would override the preset with their defaults
		flags.Visit(func(f *pflag.Flag) {
			if key, ok := flagKeys[f.Name]; ok {
				bindErr = errors.Join(bindErr, v.BindPFlag(key, f))
			}
		})
		if bindErr != nil {
			return Config{}, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	cfg := DefaultConfig()
	if preset := v.GetString("preset"); preset != "" {
		p, err := getPreset(preset)
		if err != nil {
			return Config{}, err
		}
		cfg = p
	}
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook), withErrorUnused()); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if flags != nil && flags.Changed("relay") {
		if err := targetsFromFlags(&cfg, flags); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func targetsFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	relays, err := flags.GetStringArray("relay")
	if err != nil {
		return err
	}
	kinds, err := flags.GetIntSlice("kinds")
	if err != nil {
		return err
	}
	cfg.Sync.Targets = cfg.Sync.Targets[:0:0]
	for _, relay := range relays {
		cfg.Sync.Targets = append(cfg.Sync.Targets, negsync.Target{Relay: relay, Kinds: kinds})
	}
	return nil
}

func withErrorUnused() viper.DecoderConfigOption {
	return func(cfg *mapstructure.DecoderConfig) {
		cfg.ErrorUnused = true
	}
}

var envKeys = []string{
	"preset",
	"data-dir",
	"logging.log-encoder",
	"logging.level",
	"logging.file",
	"store.db-file",
	"store.cache-size",
	"sync.handshake-timeout",
	"sync.response-timeout",
	"sync.batch-size",
	"sync.batch-timeout",
	"sync.fetch-rate",
	"sync.verify-ids",
	"sync.max-rounds",
	"sync.frame-size-limit",
	"scheduler.base-interval",
	"scheduler.max-interval",
	"metrics.enable",
	"metrics.listen",
}
