package observer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kea/internal/logging"
	"kea/internal/types"
)

// gateIn runs the perception chain, assesses capability, computes the
// activation map, and chooses the processing mode. It is single-threaded
// and strictly ordered. On a terminal outcome (perception failure,
// cancellation, capability gap) it returns a finished Result; otherwise it
// returns the GateInResult the dispatcher consumes.
func (o *Observer) gateIn(ctx context.Context, in *types.RawInput, req types.SpawnRequest) (GateInResult, *Result) {
	log := logging.Get(logging.CategoryGateIn)
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.GateInTimeout())
	defer cancel()

	// Step 1: agent genesis.
	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	identity, err := o.loadIdentity(req)
	if err != nil {
		return GateInResult{}, o.gateInFailure(traceID, identity.AgentID, start, fmt.Errorf("agent genesis: %w", err))
	}

	gin := GateInResult{TraceID: traceID, Objective: req.Objective, Identity: identity}
	log.Debug("gate-in start",
		zap.String("trace_id", traceID),
		zap.String("agent_id", identity.AgentID),
		zap.String("role", identity.Role))

	fail := func(step string, err error) (GateInResult, *Result) {
		if cancelled(ctx, err) {
			return GateInResult{}, o.gateInCancelled(traceID, identity.AgentID, start)
		}
		return GateInResult{}, o.gateInFailure(traceID, identity.AgentID, start, fmt.Errorf("%s: %w", step, err))
	}

	// Step 2: modality ingest.
	modality, err := UnwrapModality(o.collabs.Ingest.Ingest(ctx, in))
	if err != nil {
		return fail("modality ingest", err)
	}
	gin.Modality = modality

	// Step 3: classification.
	cls, err := UnwrapClassification(o.collabs.Classifier.Classify(ctx, modality))
	if err != nil {
		return fail("classification", err)
	}
	gin.Classification = cls

	// Step 4: primitive scorers.
	labels, err := UnwrapLabels(o.collabs.Scorer.Score(ctx, modality.Text, modality.Meta))
	if err != nil {
		return fail("cognitive scoring", err)
	}
	gin.Labels = labels

	// Step 5: entity extraction (config-gated).
	var entities []types.Entity
	if o.cfg.EntityRecognitionEnabled {
		entities, err = UnwrapEntities(o.collabs.Entities.Extract(ctx, modality.Text))
		if err != nil {
			return fail("entity extraction", err)
		}
	}
	gin.Entities = entities

	// Step 6: fuse scheduling tags.
	gin.Tags = BuildSignalTags(cls, labels, entities)

	// Step 7: capability assessment; a gap is a normal terminal outcome.
	capability, err := UnwrapCapability(o.collabs.SelfModel.Assess(ctx, gin.Tags, identity))
	if err != nil {
		return fail("capability assessment", err)
	}
	gin.Capability = capability
	if !capability.CanHandle {
		log.Info("capability gap, escalating",
			zap.String("trace_id", traceID),
			zap.Float64("confidence", capability.Confidence))
		return GateInResult{}, o.capabilityEscalation(gin, start)
	}

	// Step 8: host pressure is advisory; unavailable reads default to 0.
	pressure := 0.0
	if o.pressure != nil {
		if p, perr := o.pressure.Pressure(); perr == nil {
			pressure = clamp01(p)
		}
	}
	gin.Pressure = pressure

	// Step 9: activation map.
	amap, err := UnwrapActivationMap(o.collabs.Router.Compute(ctx, gin.Tags, capability, pressure))
	if err != nil {
		return fail("activation routing", err)
	}

	// Step 10: mode from the fixed complexity table. CRITICAL urgency
	// forces the emergency pipeline regardless of derived complexity.
	if gin.Tags.Urgency == types.UrgencyCritical && amap.Level != types.ComplexityCritical {
		amap = TemplateFor(types.ComplexityCritical, amap.RequiredTools)
	}
	gin.Map = amap
	gin.Mode = types.ModeFor(amap.Level)
	gin.Duration = time.Since(start)

	log.Info("gate-in complete",
		zap.String("trace_id", traceID),
		zap.String("mode", string(gin.Mode)),
		zap.String("pipeline", amap.Name),
		zap.String("urgency", gin.Tags.Urgency.String()),
		zap.Float64("pressure", pressure),
		zap.Bool("pressure_downgraded", amap.PressureDowngraded))
	return gin, nil
}

// loadIdentity performs agent genesis: fresh agent id, profile by role,
// identity constraints from that profile. Of the spawn request only the
// role is read.
func (o *Observer) loadIdentity(req types.SpawnRequest) (types.IdentityContext, error) {
	identity := types.IdentityContext{
		AgentID: uuid.NewString(),
		Role:    req.Role,
	}
	if o.collabs.Profiles != nil {
		loaded, err := o.collabs.Profiles.Load(req.Role)
		if err != nil {
			return identity, err
		}
		agentID := identity.AgentID
		identity = loaded
		if identity.AgentID == "" {
			identity.AgentID = agentID
		}
		if identity.Role == "" {
			identity.Role = req.Role
		}
	}
	return identity, nil
}

func (o *Observer) gateInFailure(traceID, agentID string, start time.Time, err error) *Result {
	logging.Get(logging.CategoryGateIn).Warn("gate-in failed", zap.String("trace_id", traceID), zap.Error(err))
	d := durationMS(time.Since(start))
	return &Result{
		TraceID:            traceID,
		AgentID:            agentID,
		FinalPhase:         PhaseGateInFailed,
		EscalationGuidance: err.Error(),
		GateInMS:           d,
		TotalMS:            d,
	}
}

func (o *Observer) gateInCancelled(traceID, agentID string, start time.Time) *Result {
	d := durationMS(time.Since(start))
	return &Result{
		TraceID:    traceID,
		AgentID:    agentID,
		FinalPhase: PhaseGateInCancelled,
		GateInMS:   d,
		TotalMS:    d,
	}
}

// capabilityEscalation builds the terminal record for a capability gap.
// Gate-out does not run, so the grounding and calibration records stay
// empty; the guidance names what was missing.
func (o *Observer) capabilityEscalation(gin GateInResult, start time.Time) *Result {
	guidance := "agent cannot handle this input"
	if gap := gin.Capability.Gap; gap != nil {
		var parts []string
		if len(gap.MissingSkills) > 0 {
			parts = append(parts, "missing skills: "+strings.Join(gap.MissingSkills, ", "))
		}
		if len(gap.MissingTools) > 0 {
			parts = append(parts, "missing tools: "+strings.Join(gap.MissingTools, ", "))
		}
		if gap.Reason != "" {
			parts = append(parts, gap.Reason)
		}
		if len(parts) > 0 {
			guidance = strings.Join(parts, "; ")
		}
	}
	d := durationMS(time.Since(start))
	return &Result{
		TraceID:            gin.TraceID,
		AgentID:            gin.Identity.AgentID,
		FinalPhase:         PhaseEscalated,
		EscalationGuidance: guidance,
		WasEscalated:       true,
		GateInMS:           d,
		TotalMS:            d,
	}
}

// cancelled reports whether an error chain or context means cancellation.
func cancelled(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ce *types.CollabError
	return errors.As(err, &ce) && ce.Kind == types.ErrKindCancelled
}
