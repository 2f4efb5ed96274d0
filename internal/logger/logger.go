package logger

import (
	"go.uber.org/zap"
)

// Log is a no-op until Initialize is called.
var Log *zap.Logger = zap.NewNop()

// Initialize builds a production JSON logger at the given level
// ("debug", "info", "warn", "error").
func Initialize(level string) error {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	zl, err := cfg.Build()
	if err != nil {
		return err
	}
	Log = zl
	return nil
}

// Sync flushes buffered entries; errors from stderr sync are ignored.
func Sync() { _ = Log.Sync() }
