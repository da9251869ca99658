// Package logging owns the process-wide zap logger for the engine.
// Components obtain named child loggers via Named; the composition root
// calls Init once before anything else logs.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu   sync.RWMutex
	root *zap.SugaredLogger
)

// Init builds the root logger. debug switches to the development encoder
// with DebugLevel enabled. Safe to call more than once; the last call wins.
func Init(debug bool) error {
	var (
		logger *zap.Logger
		err    error
	)
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		logger, err = cfg.Build()
	} else {
		cfg := zap.NewProductionConfig()
		cfg.DisableStacktrace = true
		logger, err = cfg.Build()
	}
	if err != nil {
		return err
	}

	mu.Lock()
	root = logger.Sugar()
	mu.Unlock()
	return nil
}

// Named returns a child logger scoped to the given subsystem name.
// Before Init runs it returns a no-op logger so library code never nil-checks.
func Named(name string) *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	if root == nil {
		return zap.NewNop().Sugar()
	}
	return root.Named(name)
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}
