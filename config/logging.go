package config

import "go.uber.org/zap/zapcore"

// LogEncoder defines a log encoder kind.
type LogEncoder = string

const (
	defaultLoggingLevel = zapcore.InfoLevel
	// ConsoleLogEncoder represents logging with plain text.
	ConsoleLogEncoder LogEncoder = "console"
	// JSONLogEncoder represents logging with JSON.
	JSONLogEncoder LogEncoder = "json"
)

// LoggerConfig holds the logging configuration. Module levels override
// Level for the loggers of the named components.
type LoggerConfig struct {
	Encoder LogEncoder `mapstructure:"log-encoder" yaml:"log-encoder"`
	Level   string     `mapstructure:"level" yaml:"level"`

	SyncLoggerLevel      string `mapstructure:"sync" yaml:"sync"`
	RelayLoggerLevel     string `mapstructure:"relay" yaml:"relay"`
	StoreLoggerLevel     string `mapstructure:"store" yaml:"store"`
	SchedulerLoggerLevel string `mapstructure:"scheduler" yaml:"scheduler"`

	// File enables writing logs to the file in addition to stderr. The
	// file is rotated when it exceeds MaxSize megabytes.
	File       string `mapstructure:"file" yaml:"file"`
	MaxSize    int    `mapstructure:"max-size" yaml:"max-size"`
	MaxBackups int    `mapstructure:"max-backups" yaml:"max-backups"`
	MaxAge     int    `mapstructure:"max-age" yaml:"max-age"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// ModuleLevel returns the level of the module logger, falling back to the
// global level.
func (c *LoggerConfig) ModuleLevel(module string) string {
	var lvl string
	switch module {
	case "sync":
		lvl = c.SyncLoggerLevel
	case "relay":
		lvl = c.RelayLoggerLevel
	case "store":
		lvl = c.StoreLoggerLevel
	case "scheduler":
		lvl = c.SchedulerLoggerLevel
	}
	if lvl == "" {
		return c.Level
	}
	return lvl
}

func defaultLoggingConfig() LoggerConfig {
	return LoggerConfig{
		Encoder:    ConsoleLogEncoder,
		Level:      defaultLoggingLevel.String(),
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
	}
}
