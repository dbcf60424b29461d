package observer

import (
	"fmt"

	"kea/internal/types"
)

// Typed extractors over the uniform collaborator envelope. Each extractor
// matches the expected schema tag, asserts the payload type, and returns
// the record; on a collaborator error or a schema mismatch it returns the
// error upward. Unwrappers never substitute defaults.

func unwrap[T any](env types.Envelope, schema string) (T, error) {
	var zero T
	if env.Err != nil {
		return zero, env.Err
	}
	sig, ok := env.First(schema)
	if !ok {
		return zero, &types.CollabError{
			Kind:    types.ErrKindSchemaMismatch,
			Message: fmt.Sprintf("expected signal %q, got %d other signal(s)", schema, len(env.Signals)),
		}
	}
	data, ok := sig.Data.(T)
	if !ok {
		return zero, &types.CollabError{
			Kind:    types.ErrKindSchemaMismatch,
			Message: fmt.Sprintf("signal %q carries %T", schema, sig.Data),
		}
	}
	return data, nil
}

// UnwrapModality extracts a modality output.
func UnwrapModality(env types.Envelope) (types.ModalityOutput, error) {
	return unwrap[types.ModalityOutput](env, types.SchemaModality)
}

// UnwrapClassification extracts a classification result.
func UnwrapClassification(env types.Envelope) (types.Classification, error) {
	return unwrap[types.Classification](env, types.SchemaClassify)
}

// UnwrapLabels extracts cognitive labels.
func UnwrapLabels(env types.Envelope) (types.CognitiveLabels, error) {
	return unwrap[types.CognitiveLabels](env, types.SchemaLabels)
}

// UnwrapEntities extracts validated entities.
func UnwrapEntities(env types.Envelope) ([]types.Entity, error) {
	return unwrap[[]types.Entity](env, types.SchemaEntities)
}

// UnwrapCapability extracts a capability assessment.
func UnwrapCapability(env types.Envelope) (types.CapabilityAssessment, error) {
	return unwrap[types.CapabilityAssessment](env, types.SchemaCapability)
}

// UnwrapActivationMap extracts an activation map.
func UnwrapActivationMap(env types.Envelope) (types.ActivationMap, error) {
	return unwrap[types.ActivationMap](env, types.SchemaActivationMap)
}

// UnwrapSubTasks extracts a decomposition.
func UnwrapSubTasks(env types.Envelope) ([]types.SubTask, error) {
	return unwrap[[]types.SubTask](env, types.SchemaSubTasks)
}

// UnwrapSimulation extracts a what-if outcome.
func UnwrapSimulation(env types.Envelope) (types.SimulationOutcome, error) {
	return unwrap[types.SimulationOutcome](env, types.SchemaSimulation)
}

// UnwrapTaskGraph extracts an executable DAG.
func UnwrapTaskGraph(env types.Envelope) (types.TaskGraph, error) {
	return unwrap[types.TaskGraph](env, types.SchemaTaskGraph)
}

// UnwrapPlannedTasks extracts an advanced plan.
func UnwrapPlannedTasks(env types.Envelope) ([]types.PlannedTask, error) {
	return unwrap[[]types.PlannedTask](env, types.SchemaPlannedTasks)
}

// UnwrapGuardVerdict extracts a reflection verdict.
func UnwrapGuardVerdict(env types.Envelope) (types.GuardVerdict, error) {
	return unwrap[types.GuardVerdict](env, types.SchemaGuardVerdict)
}

// UnwrapCycle extracts one inner-loop cycle result.
func UnwrapCycle(env types.Envelope) (types.CycleResult, error) {
	return unwrap[types.CycleResult](env, types.SchemaCycle)
}

// UnwrapLoad extracts a load recommendation.
func UnwrapLoad(env types.Envelope) (types.LoadRecommendation, error) {
	return unwrap[types.LoadRecommendation](env, types.SchemaLoad)
}

// UnwrapGrounding extracts a grounding report.
func UnwrapGrounding(env types.Envelope) (types.GroundingReport, error) {
	return unwrap[types.GroundingReport](env, types.SchemaGrounding)
}

// UnwrapCalibrated extracts a calibrated confidence.
func UnwrapCalibrated(env types.Envelope) (types.CalibratedConfidence, error) {
	return unwrap[types.CalibratedConfidence](env, types.SchemaCalibrated)
}

// UnwrapFilterOutcome extracts the filter's sum-type result: exactly one
// of FilteredOutput (pass) or RejectedOutput (fail).
func UnwrapFilterOutcome(env types.Envelope) (*types.FilteredOutput, *types.RejectedOutput, error) {
	if env.Err != nil {
		return nil, nil, env.Err
	}
	if sig, ok := env.First(types.SchemaFiltered); ok {
		if out, ok := sig.Data.(types.FilteredOutput); ok {
			return &out, nil, nil
		}
		return nil, nil, &types.CollabError{
			Kind:    types.ErrKindSchemaMismatch,
			Message: fmt.Sprintf("signal %q carries %T", types.SchemaFiltered, sig.Data),
		}
	}
	if sig, ok := env.First(types.SchemaRejected); ok {
		if rej, ok := sig.Data.(types.RejectedOutput); ok {
			return nil, &rej, nil
		}
		return nil, nil, &types.CollabError{
			Kind:    types.ErrKindSchemaMismatch,
			Message: fmt.Sprintf("signal %q carries %T", types.SchemaRejected, sig.Data),
		}
	}
	return nil, nil, &types.CollabError{
		Kind:    types.ErrKindSchemaMismatch,
		Message: "filter returned neither filtered nor rejected output",
	}
}
