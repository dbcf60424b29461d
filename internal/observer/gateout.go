package observer

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"kea/internal/logging"
	"kea/internal/types"
)

// defaultStatedConfidence is assumed when the inner loop did not state one.
const defaultStatedConfidence = 0.7

// gateOutOutcome is the result of one grounding→calibration→filter pass.
type gateOutOutcome struct {
	Filtered   *types.FilteredOutput
	Rejected   *types.RejectedOutput
	Grounding  *types.GroundingReport
	Calibrated *types.CalibratedConfidence

	Err       error
	Cancelled bool
	Duration  time.Duration
}

// gateOut runs the strictly sequential three-step output gate on one
// synthesized artifact. Grounding and calibration records are returned
// even when the filter rejects, so every terminal result can carry them
// for audit.
func (o *Observer) gateOut(ctx context.Context, gin GateInResult, exec ExecuteResult, evidence []string, outputID string) gateOutOutcome {
	log := logging.Get(logging.CategoryGateOut)
	start := time.Now()
	out := gateOutOutcome{}
	defer func() { out.Duration = time.Since(start) }()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.GateOutTimeout())
	defer cancel()

	// Step 1: grounding verification.
	report, err := UnwrapGrounding(o.collabs.Grounding.Verify(ctx, exec.Artifact, evidence, gin.Identity))
	if err != nil {
		out.Err = err
		out.Cancelled = cancelled(ctx, err)
		return out
	}
	out.Grounding = &report

	// Step 2: confidence calibration.
	stated := statedConfidence(exec)
	var history []types.CalibrationSample
	if o.history != nil {
		history = o.history.History(gin.Tags.Domain)
	}
	calibrated, err := UnwrapCalibrated(o.collabs.Calibrator.Calibrate(ctx, stated, report.Score, history, gin.Tags.Domain))
	if err != nil {
		out.Err = err
		out.Cancelled = cancelled(ctx, err)
		return out
	}
	out.Calibrated = &calibrated

	// Step 3: filter.
	toolOut := types.ToolOutput{
		ID:               outputID,
		Content:          exec.Artifact,
		Metadata:         map[string]string{"mode": string(exec.Mode), "pipeline": exec.Map.Name},
		StatedConfidence: stated,
		SourceNode:       lastTarget(exec.RecentDecisions),
		SourceLoop:       gin.TraceID,
	}
	filtered, rejected, err := UnwrapFilterOutcome(
		o.collabs.Filter.Filter(ctx, toolOut, report, calibrated, gin.Identity.QualityBar))
	if err != nil {
		out.Err = err
		out.Cancelled = cancelled(ctx, err)
		return out
	}
	out.Filtered = filtered
	out.Rejected = rejected

	if filtered != nil {
		log.Info("output passed",
			zap.String("trace_id", gin.TraceID),
			zap.Float64("grounding", report.Score),
			zap.Float64("calibrated", calibrated.Calibrated))
	} else {
		log.Info("output rejected",
			zap.String("trace_id", gin.TraceID),
			zap.Strings("failed_dimensions", rejected.FailedDimensions))
	}
	return out
}

// statedConfidence reads the inner loop's stated confidence if it left
// one in its final state.
func statedConfidence(exec ExecuteResult) float64 {
	if v, ok := exec.Loop.FinalState.Vars["confidence"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return clamp01(f)
		}
	}
	return defaultStatedConfidence
}

func lastTarget(decisions []types.Decision) string {
	for i := len(decisions) - 1; i >= 0; i-- {
		if n := len(decisions[i].TargetIDs); n > 0 {
			return decisions[i].TargetIDs[n-1]
		}
	}
	return ""
}
