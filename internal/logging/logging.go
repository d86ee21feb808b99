// Package logging provides category-scoped loggers for the goal engine.
// Each subsystem logs through its own named zap logger; when a log directory
// is configured every category is additionally tee'd to its own file under
// <dir>/logs so a stalled goal can be diagnosed per subsystem after the fact.
package logging

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names one logging subsystem.
type Category string

const (
	CategoryBoot        Category = "boot"
	CategoryGoal        Category = "goal"
	CategoryAllocator   Category = "allocator"
	CategoryEvaluator   Category = "evaluator"
	CategoryContingency Category = "contingency"
	CategoryCoordinator Category = "coordinator"
	CategoryPersistence Category = "persistence"
	CategoryAudit       Category = "audit"
)

var (
	mu      sync.Mutex
	loggers = make(map[Category]*zap.Logger)
	logsDir string
	debug   bool
	files   []*os.File
)

// Initialize configures the log directory and level for all categories.
// Safe to call once at startup; Get works without it (console only).
func Initialize(dir string, debugMode bool) error {
	mu.Lock()
	defer mu.Unlock()

	debug = debugMode
	if dir == "" {
		return nil
	}
	logsDir = filepath.Join(dir, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return err
	}
	// Drop loggers built before initialization so they pick up the file tee.
	loggers = make(map[Category]*zap.Logger)
	return nil
}

// Get returns the logger for a category, building it on first use.
func Get(cat Category) *zap.Logger {
	mu.Lock()
	defer mu.Unlock()

	if lg, ok := loggers[cat]; ok {
		return lg
	}
	lg := build(cat)
	loggers[cat] = lg
	return lg
}

func build(cat Category) *zap.Logger {
	consoleLevel := zapcore.InfoLevel
	if debug {
		consoleLevel = zapcore.DebugLevel
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), consoleLevel),
	}

	if logsDir != "" {
		path := filepath.Join(logsDir, string(cat)+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			files = append(files, f)
			cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(f), zapcore.DebugLevel))
		}
	}

	return zap.New(zapcore.NewTee(cores...)).Named(string(cat))
}

// Sync flushes all category loggers and closes log files.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	for _, lg := range loggers {
		_ = lg.Sync()
	}
	for _, f := range files {
		_ = f.Close()
	}
	files = nil
	loggers = make(map[Category]*zap.Logger)
}
