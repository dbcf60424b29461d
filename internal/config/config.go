// Package config holds all kea configuration. Configuration is loaded from
// a YAML file, then overlaid with KEA_* environment variables, then
// validated. Every section has defaults that work without a config file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all kea configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Observer control plane
	Observer ObserverConfig `yaml:"observer"`

	// Shared cross-invocation stores
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Core resource limits (enforced system-wide)
	Limits CoreLimits `yaml:"core_limits"`
}

// ObserverConfig is the recognized option surface of the control plane.
type ObserverConfig struct {
	MaxCycles          int     `yaml:"max_cycles"`
	EmergencyMaxCycles int     `yaml:"emergency_max_cycles"`
	ExpectedCycleMS    float64 `yaml:"expected_cycle_ms"`
	SimplifyMaxSteps   int     `yaml:"simplify_max_steps"`
	GateOutMaxRetries  int     `yaml:"gate_out_max_retries"`

	LoadWeights    LoadWeights    `yaml:"load_weights"`
	LoadThresholds LoadThresholds `yaml:"load_thresholds"`

	RecentDecisionsWindow    int  `yaml:"recent_decisions_window"`
	EntityRecognitionEnabled bool `yaml:"entity_recognition_enabled"`

	GateInTimeoutMS    int `yaml:"gate_in_timeout_ms"`
	LoopCycleTimeoutMS int `yaml:"loop_cycle_timeout_ms"`
	GateOutTimeoutMS   int `yaml:"gate_out_timeout_ms"`

	// ArtifactMaxBytes bounds the synthesized artifact handed to gate-out.
	ArtifactMaxBytes int `yaml:"artifact_max_bytes"`
}

// LoadWeights weight the three cognitive load sub-scores.
type LoadWeights struct {
	Compute float64 `yaml:"compute"`
	Time    float64 `yaml:"time"`
	Breadth float64 `yaml:"breadth"`
}

// LoadThresholds map aggregate load to monitor actions.
type LoadThresholds struct {
	Simplify float64 `yaml:"simplify"`
	Escalate float64 `yaml:"escalate"`
	Abort    float64 `yaml:"abort"`
}

// StoreConfig configures the shared retry-budget and calibration stores.
type StoreConfig struct {
	// CalibrationDBPath is the SQLite file for calibration history.
	// Empty selects the in-memory store.
	CalibrationDBPath string `yaml:"calibration_db_path"`
	// CalibrationWindow caps how many samples feed one correction.
	CalibrationWindow int `yaml:"calibration_window"`
	// RetryBudgetTTL expires stale retry-budget entries so budgets
	// eventually clear even if an invocation crashed before cleanup.
	RetryBudgetTTL time.Duration `yaml:"retry_budget_ttl"`
}

// LoggingConfig controls the categorized zap logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // json or console
	DebugMode  bool   `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
}

// CoreLimits are enforced system-wide.
type CoreLimits struct {
	MaxConcurrentInvocations int `yaml:"max_concurrent_invocations"`
	MaxObjectiveLen          int `yaml:"max_objective_len"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "kea",
		Version: "0.4.0",

		Observer: ObserverConfig{
			MaxCycles:          25,
			EmergencyMaxCycles: 3,
			ExpectedCycleMS:    2000.0,
			SimplifyMaxSteps:   2,
			GateOutMaxRetries:  2,
			LoadWeights: LoadWeights{
				Compute: 0.40,
				Time:    0.35,
				Breadth: 0.25,
			},
			LoadThresholds: LoadThresholds{
				Simplify: 0.6,
				Escalate: 0.8,
				Abort:    0.95,
			},
			RecentDecisionsWindow:    10,
			EntityRecognitionEnabled: true,
			GateInTimeoutMS:          5000,
			LoopCycleTimeoutMS:       30000,
			GateOutTimeoutMS:         10000,
			ArtifactMaxBytes:         16 * 1024,
		},

		Store: StoreConfig{
			CalibrationDBPath: "",
			CalibrationWindow: 50,
			RetryBudgetTTL:    5 * time.Minute,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},

		Limits: CoreLimits{
			MaxConcurrentInvocations: 4,
			MaxObjectiveLen:          4096,
		},
	}
}

// Load reads configuration from path, overlays environment variables, and
// validates the result. A missing file yields defaults plus env overlay.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the control plane cannot honor.
func (c *Config) Validate() error {
	o := &c.Observer
	if o.MaxCycles < 1 {
		return fmt.Errorf("observer.max_cycles must be >= 1, got %d", o.MaxCycles)
	}
	if o.EmergencyMaxCycles < 1 {
		return fmt.Errorf("observer.emergency_max_cycles must be >= 1, got %d", o.EmergencyMaxCycles)
	}
	if o.SimplifyMaxSteps < 0 {
		return fmt.Errorf("observer.simplify_max_steps must be >= 0, got %d", o.SimplifyMaxSteps)
	}
	if o.GateOutMaxRetries < 0 {
		return fmt.Errorf("observer.gate_out_max_retries must be >= 0, got %d", o.GateOutMaxRetries)
	}
	if o.RecentDecisionsWindow < 2 {
		return fmt.Errorf("observer.recent_decisions_window must be >= 2, got %d", o.RecentDecisionsWindow)
	}
	w := o.LoadWeights
	sum := w.Compute + w.Time + w.Breadth
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("observer.load_weights must sum to 1.0, got %.3f", sum)
	}
	t := o.LoadThresholds
	if !(t.Simplify < t.Escalate && t.Escalate < t.Abort) {
		return fmt.Errorf("observer.load_thresholds must be ordered simplify < escalate < abort")
	}
	if c.Store.RetryBudgetTTL <= 0 {
		return fmt.Errorf("store.retry_budget_ttl must be positive")
	}
	if c.Limits.MaxConcurrentInvocations < 1 {
		return fmt.Errorf("core_limits.max_concurrent_invocations must be >= 1, got %d", c.Limits.MaxConcurrentInvocations)
	}
	return nil
}

// applyEnvOverrides overlays KEA_* environment variables onto cfg.
func applyEnvOverrides(cfg *Config) {
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	o := &cfg.Observer
	setInt("KEA_MAX_CYCLES", &o.MaxCycles)
	setInt("KEA_EMERGENCY_MAX_CYCLES", &o.EmergencyMaxCycles)
	setFloat("KEA_EXPECTED_CYCLE_MS", &o.ExpectedCycleMS)
	setInt("KEA_SIMPLIFY_MAX_STEPS", &o.SimplifyMaxSteps)
	setInt("KEA_GATE_OUT_MAX_RETRIES", &o.GateOutMaxRetries)
	setInt("KEA_RECENT_DECISIONS_WINDOW", &o.RecentDecisionsWindow)
	setBool("KEA_ENTITY_RECOGNITION_ENABLED", &o.EntityRecognitionEnabled)
	setInt("KEA_GATE_IN_TIMEOUT_MS", &o.GateInTimeoutMS)
	setInt("KEA_LOOP_CYCLE_TIMEOUT_MS", &o.LoopCycleTimeoutMS)
	setInt("KEA_GATE_OUT_TIMEOUT_MS", &o.GateOutTimeoutMS)

	setString("KEA_CALIBRATION_DB", &cfg.Store.CalibrationDBPath)
	setString("KEA_LOG_LEVEL", &cfg.Logging.Level)
	setBool("KEA_DEBUG", &cfg.Logging.DebugMode)
}

// GateInTimeout returns the gate-in timeout as a duration.
func (o ObserverConfig) GateInTimeout() time.Duration {
	return time.Duration(o.GateInTimeoutMS) * time.Millisecond
}

// LoopCycleTimeout returns the per-cycle timeout as a duration.
func (o ObserverConfig) LoopCycleTimeout() time.Duration {
	return time.Duration(o.LoopCycleTimeoutMS) * time.Millisecond
}

// GateOutTimeout returns the gate-out timeout as a duration.
func (o ObserverConfig) GateOutTimeout() time.Duration {
	return time.Duration(o.GateOutTimeoutMS) * time.Millisecond
}
