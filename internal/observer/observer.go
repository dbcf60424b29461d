package observer

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"kea/internal/config"
	"kea/internal/logging"
	"kea/internal/store"
	"kea/internal/types"
)

// Collaborators is the handle table of every external cognitive primitive
// the control plane composes. Profiles and Simulator are optional;
// everything else is required.
type Collaborators struct {
	Profiles types.ProfileLoader

	Ingest     types.ModalityIngestor
	Classifier types.Classifier
	Scorer     types.CognitiveScorer
	Entities   types.EntityExtractor

	SelfModel types.SelfModel
	Router    types.ActivationRouter

	Decomposer  types.TaskDecomposer
	Simulator   types.WhatIfSimulator
	Synthesizer types.GraphSynthesizer
	Planner     types.AdvancedPlanner
	Guard       types.ReflectionGuard

	Runner  types.CycleRunner
	Monitor types.LoadMonitor

	Grounding  types.GroundingVerifier
	Calibrator types.ConfidenceCalibrator
	Filter     types.OutputFilter
}

// RetryBudget is the narrow store surface gate-out retries consult.
type RetryBudget interface {
	Allow(id string) bool
	Clear(id string)
}

// CalibrationHistory is the narrow store surface calibration reads.
type CalibrationHistory interface {
	History(domain string) []types.CalibrationSample
}

// Observer is the three-phase orchestrator. One Observer serves any number
// of concurrent invocations; each invocation owns its own state and shares
// only the configuration and the injected stores.
type Observer struct {
	cfg     config.ObserverConfig
	collabs Collaborators

	pressure  types.PressureSource
	sink      types.SignalSink
	retry     RetryBudget
	history   CalibrationHistory
	newMemory func() types.Memory
}

// Option customizes an Observer at construction time.
type Option func(*Observer)

// WithPressureSource sets the host pressure source consulted by gate-in.
func WithPressureSource(src types.PressureSource) Option {
	return func(o *Observer) { o.pressure = src }
}

// WithSignalSink sets the sink for out-of-band lifecycle signals.
func WithSignalSink(sink types.SignalSink) Option {
	return func(o *Observer) { o.sink = sink }
}

// WithRetryBudget replaces the default in-process retry budget.
func WithRetryBudget(b RetryBudget) Option {
	return func(o *Observer) { o.retry = b }
}

// WithCalibrationHistory wires the shared calibration history.
func WithCalibrationHistory(h CalibrationHistory) Option {
	return func(o *Observer) { o.history = h }
}

// WithMemoryFactory replaces the per-invocation ephemeral memory.
func WithMemoryFactory(f func() types.Memory) Option {
	return func(o *Observer) { o.newMemory = f }
}

// New builds an Observer, validating that every required collaborator is
// wired.
func New(cfg *config.Config, collabs Collaborators, opts ...Option) (*Observer, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := validateCollaborators(collabs); err != nil {
		return nil, err
	}

	o := &Observer{
		cfg:       cfg.Observer,
		collabs:   collabs,
		retry:     store.NewRetryBudget(cfg.Observer.GateOutMaxRetries, cfg.Store.RetryBudgetTTL),
		newMemory: func() types.Memory { return newScratchMemory() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func validateCollaborators(c Collaborators) error {
	required := []struct {
		name string
		ok   bool
	}{
		{"modality ingestor", c.Ingest != nil},
		{"classifier", c.Classifier != nil},
		{"cognitive scorer", c.Scorer != nil},
		{"entity extractor", c.Entities != nil},
		{"self model", c.SelfModel != nil},
		{"activation router", c.Router != nil},
		{"task decomposer", c.Decomposer != nil},
		{"graph synthesizer", c.Synthesizer != nil},
		{"advanced planner", c.Planner != nil},
		{"reflection guard", c.Guard != nil},
		{"cycle runner", c.Runner != nil},
		{"load monitor", c.Monitor != nil},
		{"grounding verifier", c.Grounding != nil},
		{"confidence calibrator", c.Calibrator != nil},
		{"output filter", c.Filter != nil},
	}
	for _, r := range required {
		if !r.ok {
			return fmt.Errorf("observer: required collaborator %s is nil", r.name)
		}
	}
	return nil
}

// ProcessOptions are the optional inputs of one invocation.
type ProcessOptions struct {
	Evidence   []string
	RAGContext []string
	TraceID    string
}

// Process runs one input end-to-end and wraps the result in the standard
// outcome envelope.
func (o *Observer) Process(ctx context.Context, in *types.RawInput, req types.SpawnRequest, opts ProcessOptions) types.Envelope {
	return o.Run(ctx, in, req, opts).Envelope()
}

// Run composes gate-in, the mode dispatcher, and gate-out into one
// invocation. It always returns a terminal result record; errors never
// cross phase boundaries.
func (o *Observer) Run(ctx context.Context, in *types.RawInput, req types.SpawnRequest, opts ProcessOptions) *Result {
	if req.TraceID == "" {
		req.TraceID = opts.TraceID
	}

	gin, terminal := o.gateIn(ctx, in, req)
	if terminal != nil {
		return terminal
	}

	evidence := append(append([]string(nil), opts.Evidence...), opts.RAGContext...)
	mem := o.newMemory()
	outputID := gin.TraceID

	res := &Result{
		TraceID: gin.TraceID,
		AgentID: gin.Identity.AgentID,
		Mode:    gin.Mode,
	}
	res.GateInMS = durationMS(gin.Duration)

	var exec ExecuteResult
	var gout gateOutOutcome
	hint := ""

	for {
		exec = o.dispatch(ctx, gin, mem, hint)
		res.ExecuteMS += durationMS(exec.Duration)
		res.TotalCycles += exec.Loop.TotalCycles
		res.TotalTokens += exec.Loop.TotalTokens
		res.WasSimplified = res.WasSimplified || exec.WasSimplified
		res.WasEscalated = res.WasEscalated || exec.WasEscalated
		res.WasAborted = res.WasAborted || exec.WasAborted

		if exec.PlanVeto {
			// The plan never ran; gate-out still grades the (empty)
			// artifact so the audit records are populated.
			gout = o.gateOut(ctx, gin, exec, evidence, outputID)
			res.GateOutMS += durationMS(gout.Duration)
			res.GateOutAttempts++
			o.retry.Clear(outputID)
			return o.finishEscalated(res, exec, gout, exec.VetoReason)
		}

		gout = o.gateOut(ctx, gin, exec, evidence, outputID)
		res.GateOutMS += durationMS(gout.Duration)
		res.GateOutAttempts++

		if gout.Cancelled {
			res.Grounding = gout.Grounding
			res.Calibrated = gout.Calibrated
			res.FinalPhase = PhaseGateOutCancelled
			res.PartialOutput = exec.Artifact
			res.TotalMS = res.GateInMS + res.ExecuteMS + res.GateOutMS
			o.retry.Clear(outputID)
			return res
		}
		if gout.Err != nil {
			o.retry.Clear(outputID)
			return o.finishEscalated(res, exec, gout,
				fmt.Sprintf("gate-out collaborator failed: %v", gout.Err))
		}
		if gout.Filtered != nil {
			o.retry.Clear(outputID)
			return o.finishPassed(res, exec, gout)
		}

		// Rejected: retry the same mode with the rejection guidance as a
		// planning hint, if budget remains. Gate-in is not re-run.
		if res.GateOutAttempts > o.cfg.GateOutMaxRetries || !o.retry.Allow(outputID) {
			o.retry.Clear(outputID)
			return o.finishEscalated(res, exec, gout, rejectionGuidance(gout.Rejected))
		}
		hint = gout.Rejected.RetryGuidance
		logging.Get(logging.CategoryGateOut).Info("retrying after rejection",
			zap.String("trace_id", gin.TraceID),
			zap.Int("attempt", res.GateOutAttempts),
			zap.String("hint", hint))
	}
}

// finishPassed closes out a successful invocation. An aborted loop never
// attaches a filtered output: its content travels as partial output even
// when the filter passed it.
func (o *Observer) finishPassed(res *Result, exec ExecuteResult, gout gateOutOutcome) *Result {
	res.Grounding = gout.Grounding
	res.Calibrated = gout.Calibrated
	res.FinalPhase = PhaseGateOut
	if res.WasAborted {
		res.PartialOutput = gout.Filtered.Content
	} else {
		res.Filtered = gout.Filtered
	}
	res.TotalMS = res.GateInMS + res.ExecuteMS + res.GateOutMS
	return res
}

func (o *Observer) finishEscalated(res *Result, exec ExecuteResult, gout gateOutOutcome, guidance string) *Result {
	res.Grounding = gout.Grounding
	res.Calibrated = gout.Calibrated
	res.FinalPhase = PhaseEscalated
	res.WasEscalated = true
	res.PartialOutput = exec.Artifact
	res.EscalationGuidance = guidance
	res.TotalMS = res.GateInMS + res.ExecuteMS + res.GateOutMS
	return res
}

func rejectionGuidance(rej *types.RejectedOutput) string {
	if rej == nil {
		return "output rejected by quality gate"
	}
	if rej.RetryGuidance != "" {
		return rej.RetryGuidance
	}
	return "output rejected by quality gate"
}

// scratchMemory is the default ephemeral per-invocation memory used when
// the host does not inject its own store.
type scratchMemory struct {
	mu   sync.RWMutex
	data map[string]string
}

func newScratchMemory() *scratchMemory {
	return &scratchMemory{data: make(map[string]string)}
}

func (m *scratchMemory) Remember(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

func (m *scratchMemory) Recall(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *scratchMemory) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}

// FixedPressure is a PressureSource returning a constant scalar.
type FixedPressure float64

// Pressure implements types.PressureSource.
func (p FixedPressure) Pressure() (float64, error) { return float64(p), nil }

// PressureFunc adapts a function to types.PressureSource.
type PressureFunc func() (float64, error)

// Pressure implements types.PressureSource.
func (f PressureFunc) Pressure() (float64, error) { return f() }

// SinkFunc adapts a function to types.SignalSink.
type SinkFunc func(sig types.Signal)

// Emit implements types.SignalSink.
func (f SinkFunc) Emit(sig types.Signal) { f(sig) }
