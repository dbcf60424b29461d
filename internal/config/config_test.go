package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Observer.EmergencyMaxCycles)
	assert.Equal(t, 2000.0, cfg.Observer.ExpectedCycleMS)
	assert.Equal(t, 2, cfg.Observer.SimplifyMaxSteps)
	assert.Equal(t, 2, cfg.Observer.GateOutMaxRetries)
	assert.Equal(t, 10, cfg.Observer.RecentDecisionsWindow)
	assert.True(t, cfg.Observer.EntityRecognitionEnabled)
	assert.Equal(t, 0.40, cfg.Observer.LoadWeights.Compute)
	assert.Equal(t, 0.35, cfg.Observer.LoadWeights.Time)
	assert.Equal(t, 0.25, cfg.Observer.LoadWeights.Breadth)
	assert.Equal(t, 0.6, cfg.Observer.LoadThresholds.Simplify)
	assert.Equal(t, 0.8, cfg.Observer.LoadThresholds.Escalate)
	assert.Equal(t, 0.95, cfg.Observer.LoadThresholds.Abort)
	assert.Equal(t, 5*time.Minute, cfg.Store.RetryBudgetTTL)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kea.yaml")
	body := `
observer:
  emergency_max_cycles: 5
  simplify_max_steps: 1
  load_thresholds:
    simplify: 0.5
    escalate: 0.7
    abort: 0.9
store:
  calibration_db_path: /tmp/cal.db
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Observer.EmergencyMaxCycles)
	assert.Equal(t, 1, cfg.Observer.SimplifyMaxSteps)
	assert.Equal(t, 0.7, cfg.Observer.LoadThresholds.Escalate)
	assert.Equal(t, "/tmp/cal.db", cfg.Store.CalibrationDBPath)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched sections keep defaults.
	assert.Equal(t, 2, cfg.Observer.GateOutMaxRetries)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Observer, cfg.Observer)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KEA_EMERGENCY_MAX_CYCLES", "7")
	t.Setenv("KEA_ENTITY_RECOGNITION_ENABLED", "false")
	t.Setenv("KEA_EXPECTED_CYCLE_MS", "1500")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Observer.EmergencyMaxCycles)
	assert.False(t, cfg.Observer.EntityRecognitionEnabled)
	assert.Equal(t, 1500.0, cfg.Observer.ExpectedCycleMS)
}

func TestValidateRejectsBadThresholdOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Observer.LoadThresholds.Simplify = 0.9
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Observer.LoadWeights.Compute = 0.9
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroCycles(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Observer.MaxCycles = 0
	assert.Error(t, cfg.Validate())
}
