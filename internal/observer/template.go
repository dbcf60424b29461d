package observer

import "kea/internal/types"

// pipelineTemplate describes the tiers, modules, and cycle cap of one
// complexity level. The table is the single source of truth for activation
// maps: the router's built-in implementation and the downgrader both
// rebuild maps from it so module bookkeeping stays consistent.
type pipelineTemplate struct {
	name     string
	tiers    []string
	modules  []string
	cycleCap int
}

var pipelineTemplates = map[types.ComplexityLevel]pipelineTemplate{
	types.ComplexityTrivial: {
		name:     "reflex",
		tiers:    []string{"perception"},
		modules:  []string{"responder"},
		cycleCap: 2,
	},
	types.ComplexitySimple: {
		name:     "fast_path",
		tiers:    []string{"perception", "execution"},
		modules:  []string{"responder", "executor"},
		cycleCap: 5,
	},
	types.ComplexityModerate: {
		name:     "standard_path",
		tiers:    []string{"perception", "planning", "execution"},
		modules:  []string{"responder", "executor", "decomposer"},
		cycleCap: 15,
	},
	types.ComplexityComplex: {
		name:     "full_stack",
		tiers:    []string{"perception", "planning", "simulation", "execution", "reflection"},
		modules:  []string{"responder", "executor", "decomposer", "simulator", "synthesizer", "planner", "guard"},
		cycleCap: 25,
	},
	types.ComplexityCritical: {
		name:     "emergency",
		tiers:    []string{"perception", "execution"},
		modules:  []string{"executor", "panic_handler"},
		cycleCap: 3,
	},
}

// TemplateFor builds a fresh activation map for a complexity level.
// requiredTools is carried through untouched.
func TemplateFor(level types.ComplexityLevel, requiredTools []string) types.ActivationMap {
	t, ok := pipelineTemplates[level]
	if !ok {
		t = pipelineTemplates[types.ComplexityModerate]
	}
	return types.ActivationMap{
		Name:          t.name,
		Level:         level,
		Tiers:         append([]string(nil), t.tiers...),
		Modules:       append([]string(nil), t.modules...),
		RequiredTools: append([]string(nil), requiredTools...),
	}
}

// CycleCapFor returns the template's cycle cap for a level.
func CycleCapFor(level types.ComplexityLevel) int {
	if t, ok := pipelineTemplates[level]; ok {
		return t.cycleCap
	}
	return pipelineTemplates[types.ComplexityModerate].cycleCap
}
