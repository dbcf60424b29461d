// Package logging provides categorized zap-based logging for kea.
// Each subsystem logs through a named child of one shared logger; category
// filtering and level come from config. Before Initialize is called every
// category logger is a nop, so library code can log unconditionally.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"kea/internal/config"
)

// Category names a log stream.
type Category string

const (
	CategoryBoot     Category = "boot"
	CategoryGateIn   Category = "gatein"
	CategoryLoop     Category = "loop"
	CategoryDispatch Category = "dispatch"
	CategoryGateOut  Category = "gateout"
	CategoryStore    Category = "store"
	CategoryCollab   Category = "collab"
)

var (
	mu       sync.RWMutex
	root     = zap.NewNop()
	enabled  map[string]bool
	children = map[Category]*zap.Logger{}
)

// Initialize builds the shared logger from config. Safe to call once at
// startup; later Get calls pick up the configured logger.
func Initialize(cfg config.LoggingConfig) error {
	level := zapcore.InfoLevel
	if cfg.DebugMode {
		level = zapcore.DebugLevel
	} else if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	root = logger
	enabled = cfg.Categories
	children = map[Category]*zap.Logger{}
	return nil
}

// SetLogger replaces the root logger directly. Used by tests and by hosts
// that already own a zap tree.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	root = l
	children = map[Category]*zap.Logger{}
}

// Get returns the logger for a category. Disabled categories get a nop.
func Get(cat Category) *zap.Logger {
	mu.RLock()
	if l, ok := children[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := children[cat]; ok {
		return l
	}
	l := root.Named(string(cat))
	if enabled != nil {
		if on, listed := enabled[string(cat)]; listed && !on {
			l = zap.NewNop()
		}
	}
	children[cat] = l
	return l
}

// Sync flushes buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
