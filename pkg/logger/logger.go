package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// The dispatcher and adapters log through one process-wide zap logger.
// Before Init runs it is a nop, so embedding herald as a library stays
// silent until the host opts in.
var (
	mu   sync.RWMutex
	root = zap.NewNop()
)

// Init replaces the process logger with a production zap logger at the
// given level. Unknown level strings fall back to info.
func Init(level string) error {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		parsed = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	built, err := cfg.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	root = built
	mu.Unlock()
	return nil
}

// Logger returns the current process logger.
func Logger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// WithModule returns a logger tagged with the herald component emitting it,
// e.g. "dispatch" or "adapter.email".
func WithModule(module string) *zap.Logger {
	return Logger().With(zap.String("module", module))
}

// Sync flushes buffered entries. Safe on the nop logger.
func Sync() error {
	return Logger().Sync()
}
