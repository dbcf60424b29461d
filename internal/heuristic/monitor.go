package heuristic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kea/internal/config"
	"kea/internal/types"
)

// Monitor is the built-in cognitive load monitor. Per cycle it scores
// compute, time, and breadth load, runs the loop/stall/oscillation/drift
// detectors over the recent windows, and maps the aggregate onto a
// recommendation via the configured thresholds.
type Monitor struct {
	Weights    config.LoadWeights
	Thresholds config.LoadThresholds
	// ExpectedCycleMS is the stall baseline. Default 2000.
	ExpectedCycleMS float64
	// TokenBaseline is the per-cycle token count scoring 1.0 compute
	// load. Default 2000.
	TokenBaseline float64
}

// NewMonitor builds a monitor from the observer configuration.
func NewMonitor(cfg config.ObserverConfig) Monitor {
	return Monitor{
		Weights:         cfg.LoadWeights,
		Thresholds:      cfg.LoadThresholds,
		ExpectedCycleMS: cfg.ExpectedCycleMS,
	}
}

// stallFactor is how many expected-cycle baselines a single cycle may
// take before it counts as a stall.
const stallFactor = 3.0

// Monitor implements types.LoadMonitor.
func (m Monitor) Monitor(ctx context.Context, amap types.ActivationMap, t types.CycleTelemetry, decisions []types.Decision, outputs []string, objective string) types.Envelope {
	if err := ctx.Err(); err != nil {
		return types.Fail(types.ErrKindCancelled, err.Error())
	}

	load := m.load(amap, t)
	flags := types.LoadFlags{
		Loop:        detectLoop(decisions),
		Stall:       m.detectStall(t),
		Oscillation: detectOscillation(decisions),
		Drift:       detectDrift(outputs, objective),
	}

	action := types.LoadContinue
	var reasons []string
	switch {
	case load.Aggregate >= m.abortAt() || (flags.Oscillation && load.Aggregate >= m.escalateAt()):
		action = types.LoadAbort
		reasons = append(reasons, fmt.Sprintf("aggregate load %.2f", load.Aggregate))
	case load.Aggregate >= m.escalateAt() || flags.Loop:
		action = types.LoadEscalate
		if flags.Loop {
			reasons = append(reasons, "repeated decision within window")
		}
		if load.Aggregate >= m.escalateAt() {
			reasons = append(reasons, fmt.Sprintf("aggregate load %.2f", load.Aggregate))
		}
	case load.Aggregate >= m.simplifyAt() || flags.Stall || flags.Drift || flags.Oscillation:
		action = types.LoadSimplify
		if flags.Stall {
			reasons = append(reasons, "cycle exceeded expected duration")
		}
		if flags.Drift {
			reasons = append(reasons, "outputs drifting from objective")
		}
		if flags.Oscillation {
			reasons = append(reasons, "decision oscillation")
		}
		if load.Aggregate >= m.simplifyAt() {
			reasons = append(reasons, fmt.Sprintf("aggregate load %.2f", load.Aggregate))
		}
	default:
		reasons = append(reasons, "load nominal")
	}

	return types.Ok(types.SchemaLoad, types.LoadRecommendation{
		Action:    action,
		Reasoning: strings.Join(reasons, "; "),
		Load:      load,
		Flags:     flags,
	})
}

func (m Monitor) load(amap types.ActivationMap, t types.CycleTelemetry) types.CognitiveLoad {
	tokenBaseline := m.TokenBaseline
	if tokenBaseline <= 0 {
		tokenBaseline = 2000
	}
	expected := m.ExpectedCycleMS
	if expected <= 0 {
		expected = 2000
	}

	compute := clamp01(float64(t.Tokens) / tokenBaseline)
	timeLoad := clamp01(float64(t.Duration) / float64(time.Millisecond) / (expected * stallFactor))
	breadth := 0.0
	if n := len(amap.Modules); n > 0 {
		breadth = clamp01(float64(t.ActiveModules) / float64(n))
	}

	w := m.Weights
	if w.Compute+w.Time+w.Breadth == 0 {
		w = config.LoadWeights{Compute: 0.40, Time: 0.35, Breadth: 0.25}
	}
	return types.CognitiveLoad{
		Compute:   compute,
		Time:      timeLoad,
		Breadth:   breadth,
		Aggregate: clamp01(w.Compute*compute + w.Time*timeLoad + w.Breadth*breadth),
	}
}

func (m Monitor) simplifyAt() float64 {
	if m.Thresholds.Simplify > 0 {
		return m.Thresholds.Simplify
	}
	return 0.6
}

func (m Monitor) escalateAt() float64 {
	if m.Thresholds.Escalate > 0 {
		return m.Thresholds.Escalate
	}
	return 0.8
}

func (m Monitor) abortAt() float64 {
	if m.Thresholds.Abort > 0 {
		return m.Thresholds.Abort
	}
	return 0.95
}

func (m Monitor) detectStall(t types.CycleTelemetry) bool {
	expected := m.ExpectedCycleMS
	if expected <= 0 {
		expected = 2000
	}
	return float64(t.Duration)/float64(time.Millisecond) > expected*stallFactor
}

// detectLoop reports three or more occurrences of the same decision key
// inside the window.
func detectLoop(decisions []types.Decision) bool {
	counts := make(map[uint64]int, len(decisions))
	for _, d := range decisions {
		counts[d.Key()]++
		if counts[d.Key()] >= 3 {
			return true
		}
	}
	return false
}

// detectOscillation reports a period-2 alternation (a,b,a,b) over the
// last four decisions.
func detectOscillation(decisions []types.Decision) bool {
	n := len(decisions)
	if n < 4 {
		return false
	}
	k := make([]uint64, 4)
	for i := 0; i < 4; i++ {
		k[i] = decisions[n-4+i].Key()
	}
	return k[0] == k[2] && k[1] == k[3] && k[0] != k[1]
}

// detectDrift reports semantic divergence between recent outputs and the
// objective, measured as token overlap.
func detectDrift(outputs []string, objective string) bool {
	if len(outputs) < 3 {
		return false
	}
	objTokens := tokenSet(objective)
	if len(objTokens) == 0 {
		return false
	}
	recent := outputs
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}
	for _, out := range recent {
		hits := 0
		for tok := range tokenSet(out) {
			if _, ok := objTokens[tok]; ok {
				hits++
			}
		}
		if hits > 0 {
			return false
		}
	}
	return true
}

func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?()\"'-")
		if len(w) > 2 {
			out[w] = struct{}{}
		}
	}
	return out
}
