// Package logtest creates loggers for tests.
package logtest

import (
	"os"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// LevelEnv enables test logs at the given level, e.g. TEST_LOG_LEVEL=debug.
const LevelEnv = "TEST_LOG_LEVEL"

// New returns a logger writing through tb.Log at the level in LevelEnv,
// or at the first of levels if passed. It returns a no-op logger if
// neither is set.
func New(tb testing.TB, levels ...zapcore.Level) *zap.Logger {
	if len(levels) != 0 {
		return zaptest.NewLogger(tb, zaptest.Level(levels[0]))
	}
	env, ok := os.LookupEnv(LevelEnv)
	if !ok || env == "" {
		return zap.NewNop()
	}
	level, err := zapcore.ParseLevel(env)
	if err != nil {
		tb.Fatalf("invalid %s: %v", LevelEnv, err)
	}
	return zaptest.NewLogger(tb, zaptest.Level(level))
}
