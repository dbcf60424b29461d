package heuristic

import (
	"context"
	"fmt"
	"strings"

	"kea/internal/observer"
	"kea/internal/types"
)

// SelfModel assesses capability by diffing the required tools against the
// identity's allow/deny lists and the required skills against its
// knowledge domains.
type SelfModel struct{}

// Assess implements types.SelfModel.
func (SelfModel) Assess(ctx context.Context, tags types.SignalTags, identity types.IdentityContext) types.Envelope {
	if err := ctx.Err(); err != nil {
		return types.Fail(types.ErrKindCancelled, err.Error())
	}

	var missingTools []string
	for _, tool := range tags.RequiredTools {
		if !identity.AllowsTool(tool) {
			missingTools = append(missingTools, tool)
		}
	}

	var missingSkills, partial []string
	for _, skill := range tags.RequiredSkills {
		if hasDomain(identity, skill) {
			partial = append(partial, skill)
		} else {
			missingSkills = append(missingSkills, skill)
		}
	}

	assessment := types.CapabilityAssessment{
		CanHandle:  len(missingTools) == 0,
		Confidence: clamp01(1.0 - 0.15*float64(len(missingSkills)) - 0.3*float64(len(missingTools))),
		Partial:    partial,
	}
	if len(missingTools) > 0 || len(missingSkills) > 0 {
		assessment.Gap = &types.CapabilityGap{
			MissingSkills: missingSkills,
			MissingTools:  missingTools,
		}
		if len(missingTools) > 0 {
			assessment.Gap.Reason = fmt.Sprintf("identity %q does not permit required tools", identity.Role)
		}
	}
	return types.Ok(types.SchemaCapability, assessment)
}

func hasDomain(identity types.IdentityContext, skill string) bool {
	if len(identity.KnowledgeDomains) == 0 {
		return true
	}
	for _, d := range identity.KnowledgeDomains {
		if strings.EqualFold(d, skill) {
			return true
		}
	}
	return false
}

// Router computes activation maps from signal tags, applying the
// pressure downgrade rule: pressure at or above the relief threshold
// lowers every non-CRITICAL, non-TRIVIAL map exactly one level.
type Router struct {
	// ReliefThreshold is the pressure at which maps downgrade. Default 0.75.
	ReliefThreshold float64
}

// Compute implements types.ActivationRouter.
func (r Router) Compute(ctx context.Context, tags types.SignalTags, _ types.CapabilityAssessment, pressure float64) types.Envelope {
	if err := ctx.Err(); err != nil {
		return types.Fail(types.ErrKindCancelled, err.Error())
	}
	threshold := r.ReliefThreshold
	if threshold <= 0 {
		threshold = 0.75
	}

	level := levelFor(tags)
	downgraded := false
	if pressure >= threshold && level != types.ComplexityCritical && level != types.ComplexityTrivial {
		level--
		downgraded = true
	}

	m := observer.TemplateFor(level, tags.RequiredTools)
	m.PressureDowngraded = downgraded
	return types.Ok(types.SchemaActivationMap, m)
}

func levelFor(tags types.SignalTags) types.ComplexityLevel {
	if tags.Urgency == types.UrgencyCritical {
		return types.ComplexityCritical
	}
	switch {
	case tags.Complexity >= 0.85:
		return types.ComplexityCritical
	case tags.Complexity >= 0.55:
		return types.ComplexityComplex
	case tags.Complexity >= 0.30:
		return types.ComplexityModerate
	case tags.Complexity >= 0.12:
		return types.ComplexitySimple
	default:
		return types.ComplexityTrivial
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Profiles is the built-in role profile table.
type Profiles struct{}

var roleProfiles = map[string]types.IdentityContext{
	"assistant": {
		Role:             "assistant",
		AllowedTools:     []string{"responder", "http", "search"},
		KnowledgeDomains: []string{"general", "writing", "analysis", "execution"},
		MaxParallel:      2,
	},
	"analyst": {
		Role:             "analyst",
		AllowedTools:     []string{"responder", "sql", "http", "search"},
		KnowledgeDomains: []string{"general", "data", "analysis", "execution", "writing"},
		MaxParallel:      4,
	},
	"operator": {
		Role:             "operator",
		AllowedTools:     []string{"responder", "shell", "http"},
		ForbiddenTools:   []string{"email"},
		KnowledgeDomains: []string{"general", "ops", "execution", "analysis"},
		MaxParallel:      4,
	},
}

// Load implements types.ProfileLoader. Unknown roles get the assistant
// profile.
func (Profiles) Load(role string) (types.IdentityContext, error) {
	if p, ok := roleProfiles[strings.ToLower(role)]; ok {
		return p, nil
	}
	return roleProfiles["assistant"], nil
}
