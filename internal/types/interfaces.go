package types

import (
	"context"
)

// Collaborator interfaces. The observer holds one handle per collaborator
// and never reaches into their internals; every call returns the uniform
// envelope and the typed unwrappers extract the expected signal.

// ModalityIngestor decodes a raw input into a typed modality output.
type ModalityIngestor interface {
	Ingest(ctx context.Context, in *RawInput) Envelope
}

// Classifier classifies a modality output.
type Classifier interface {
	Classify(ctx context.Context, out ModalityOutput) Envelope
}

// CognitiveScorer runs the primitive intent/sentiment/urgency scorers.
type CognitiveScorer interface {
	Score(ctx context.Context, text string, meta map[string]string) Envelope
}

// EntityExtractor extracts validated entities from text.
type EntityExtractor interface {
	Extract(ctx context.Context, text string) Envelope
}

// SelfModel assesses capability against signal tags and identity.
type SelfModel interface {
	Assess(ctx context.Context, tags SignalTags, identity IdentityContext) Envelope
}

// ActivationRouter computes the activation map for an input, applying
// pressure-based downgrades per its own rules.
type ActivationRouter interface {
	Compute(ctx context.Context, tags SignalTags, cap CapabilityAssessment, pressure float64) Envelope
}

// TaskDecomposer produces sub-tasks from the current world state.
type TaskDecomposer interface {
	Decompose(ctx context.Context, world WorldState) Envelope
}

// WhatIfSimulator dry-runs a decomposition before committing to a plan.
type WhatIfSimulator interface {
	Simulate(ctx context.Context, tasks []SubTask) Envelope
}

// GraphSynthesizer turns sub-tasks into an executable DAG.
type GraphSynthesizer interface {
	Synthesize(ctx context.Context, tasks []SubTask) Envelope
}

// AdvancedPlanner binds tools and generates hypotheses for sub-tasks.
type AdvancedPlanner interface {
	Plan(ctx context.Context, tasks []SubTask, constraints PlanConstraints) Envelope
}

// ReflectionGuard is the pre-execution allow/deny check.
type ReflectionGuard interface {
	PreCheck(ctx context.Context, plan []PlannedTask, identity IdentityContext) Envelope
}

// CycleRunner is the inner execution loop's single-cycle primitive. One
// call advances one Observe/Orient/Decide/Act step and reports the updated
// state, the decision taken, cycle telemetry, and any new artifacts.
type CycleRunner interface {
	RunCycle(ctx context.Context, state AgentState, mem Memory, dag *TaskGraph, objective string) Envelope
}

// LoadMonitor measures cognitive load after a cycle and recommends how the
// outer loop should proceed.
type LoadMonitor interface {
	Monitor(ctx context.Context, m ActivationMap, t CycleTelemetry, decisions []Decision, outputs []string, objective string) Envelope
}

// GroundingVerifier grades an artifact's claims against evidence.
type GroundingVerifier interface {
	Verify(ctx context.Context, artifact string, evidence []string, identity IdentityContext) Envelope
}

// ConfidenceCalibrator corrects stated confidence using history.
type ConfidenceCalibrator interface {
	Calibrate(ctx context.Context, stated, grounding float64, history []CalibrationSample, domain string) Envelope
}

// OutputFilter is the final quality gate. qualityBar <= 0 means default.
type OutputFilter interface {
	Filter(ctx context.Context, out ToolOutput, report GroundingReport, conf CalibratedConfidence, qualityBar float64) Envelope
}

// Memory is the ephemeral per-invocation store handed to the inner loop.
type Memory interface {
	Remember(key, value string)
	Recall(key string) (string, bool)
	Snapshot() map[string]string
}

// ProfileLoader loads the cognitive profile for a role during genesis.
type ProfileLoader interface {
	Load(role string) (IdentityContext, error)
}

// PressureSource reports host resource scarcity as a 0-1 scalar.
type PressureSource interface {
	Pressure() (float64, error)
}

// SignalSink receives out-of-band signals such as the lifecycle panic
// emitted by the emergency path. Sinks must be safe for concurrent use.
type SignalSink interface {
	Emit(sig Signal)
}
