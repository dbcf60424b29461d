package observer

import (
	"errors"

	"kea/internal/types"
)

// ErrCriticalNotDowngradable is returned when a CRITICAL activation map is
// handed to Downgrade. Emergency pipelines are never simplified.
var ErrCriticalNotDowngradable = errors.New("critical activation map cannot be downgraded")

// Downgrade returns a new activation map exactly one complexity level below
// m, rebuilt from the pipeline template of the lower level so that module
// bookkeeping matches the new tier set. Required tools carry over and the
// downgraded flag is set.
//
// Idempotent at TRIVIAL: a TRIVIAL map is returned unchanged. CRITICAL
// maps are rejected with ErrCriticalNotDowngradable.
func Downgrade(m types.ActivationMap) (types.ActivationMap, error) {
	switch m.Level {
	case types.ComplexityCritical:
		return m, ErrCriticalNotDowngradable
	case types.ComplexityTrivial:
		return m, nil
	}

	out := TemplateFor(m.Level-1, m.RequiredTools)
	out.PressureDowngraded = true
	return out, nil
}
