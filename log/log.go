// Package log builds the application loggers from the logging configuration.
package log

import (
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nostrc/negsync/config"
)

// Opt is an option for New.
type Opt func(*options)

type options struct {
	writer io.Writer
}

// WithWriter replaces stderr as the console output.
func WithWriter(w io.Writer) Opt {
	return func(o *options) {
		o.writer = w
	}
}

// Logger builds module loggers sharing the same outputs.
type Logger struct {
	cfg  config.LoggerConfig
	base *zap.Logger
	app  *zap.Logger
	file *lumberjack.Logger
}

// New creates the application logger.
func New(cfg config.LoggerConfig, opts ...Opt) (*Logger, error) {
	o := options{writer: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	for _, module := range []string{"sync", "relay", "store", "scheduler"} {
		if _, err := parseLevel(cfg.ModuleLevel(module)); err != nil {
			return nil, fmt.Errorf("%s: %w", module, err)
		}
	}
	encoder, err := newEncoder(cfg.Encoder)
	if err != nil {
		return nil, err
	}
	// level filtering is done per module by the loggers
	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(o.writer)), zapcore.DebugLevel),
	}
	l := &Logger{cfg: cfg}
	if cfg.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		fileEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(l.file), zapcore.DebugLevel))
	}
	l.base = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	l.app = l.base.WithOptions(zap.IncreaseLevel(level))
	return l, nil
}

// Zap returns the application logger.
func (l *Logger) Zap() *zap.Logger {
	return l.app
}

// Named returns the logger of the module, at the level configured for it.
func (l *Logger) Named(module string) *zap.Logger {
	level, err := parseLevel(l.cfg.ModuleLevel(module))
	if err != nil {
		// levels are validated by New
		panic(err)
	}
	return l.base.Named(module).WithOptions(zap.IncreaseLevel(level))
}

// Close flushes the logs and closes the log file.
func (l *Logger) Close() error {
	err := l.base.Sync()
	// syncing stderr fails on some platforms
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		err = nil
	}
	if l.file != nil {
		err = errors.Join(err, l.file.Close())
	}
	return err
}

func parseLevel(s string) (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		return lvl, fmt.Errorf("log level %q: %w", s, err)
	}
	return lvl, nil
}

func newEncoder(kind config.LogEncoder) (zapcore.Encoder, error) {
	switch kind {
	case config.ConsoleLogEncoder, "":
		return zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), nil
	case config.JSONLogEncoder:
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), nil
	default:
		return nil, fmt.Errorf("unknown log encoder %q", kind)
	}
}
