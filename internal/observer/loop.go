package observer

import (
	"context"

	"go.uber.org/zap"

	"kea/internal/logging"
	"kea/internal/types"
)

// loopParams carries everything one monitored execution needs.
type loopParams struct {
	Map       types.ActivationMap
	DAG       *types.TaskGraph
	Objective string
	Memory    types.Memory
	State     types.AgentState
	Mode      types.ProcessingMode
}

// loopOutcome is what the monitored loop hands back to its dispatcher.
type loopOutcome struct {
	Loop      LoopResult
	Map       types.ActivationMap
	Decisions []types.Decision
	Outputs   []string

	WasSimplified bool
	WasEscalated  bool
	WasAborted    bool
}

// bounded is a fixed-capacity sliding window; pushes evict the oldest.
type bounded[T any] struct {
	items []T
	limit int
}

func newBounded[T any](limit int) *bounded[T] {
	if limit < 1 {
		limit = 1
	}
	return &bounded[T]{limit: limit}
}

func (b *bounded[T]) push(v T) {
	b.items = append(b.items, v)
	if len(b.items) > b.limit {
		b.items = b.items[1:]
	}
}

// runMonitoredLoop drives the inner execution loop one cycle at a time,
// consulting the load monitor between cycles and applying its
// recommendation. The monitor always observes the telemetry of cycle n
// before cycle n+1 starts; nothing here runs concurrently.
//
// Termination:
//   - COMPLETE/PARK/SLEEP decisions end the loop without a monitor call
//   - monitor ESCALATE/ABORT end it with the matching reason
//   - SIMPLIFY downgrades the activation map, bounded by the consecutive
//     simplify budget and the TRIVIAL floor (both promote to ESCALATE)
//   - cancellation and cycle failures are ABORT-equivalent; artifacts
//     gathered so far are preserved for gate-out
//   - running out of cycles yields BUDGET_EXHAUSTED
//
// In EMERGENCY mode the cycle budget is clamped, SIMPLIFY is promoted to
// ABORT, and a REPLAN decision ends the loop as ESCALATED.
func (o *Observer) runMonitoredLoop(ctx context.Context, p loopParams) loopOutcome {
	log := logging.Get(logging.CategoryLoop)

	emergency := p.Mode == types.ModeEmergency
	maxCycles := minInt(o.cfg.MaxCycles, CycleCapFor(p.Map.Level))
	if emergency {
		maxCycles = minInt(maxCycles, o.cfg.EmergencyMaxCycles)
	}

	out := loopOutcome{Map: p.Map}
	decisions := newBounded[types.Decision](o.cfg.RecentDecisionsWindow)
	outputs := newBounded[string](o.cfg.RecentDecisionsWindow)

	state := p.State
	var artifacts []string
	totalTokens := 0
	totalCycles := 0
	simplifyStreak := 0

	reason := TerminationBudgetExhausted
	completedReason := func() TerminationReason {
		if out.WasSimplified {
			return TerminationSimplifiedComplete
		}
		return TerminationCompleted
	}

loop:
	for n := 1; n <= maxCycles; n++ {
		if ctx.Err() != nil {
			out.WasAborted = true
			reason = TerminationAborted
			break
		}

		cctx, cancel := context.WithTimeout(ctx, o.cfg.LoopCycleTimeout())
		env := o.collabs.Runner.RunCycle(cctx, state, p.Memory, p.DAG, p.Objective)
		cancel()

		totalCycles = n
		cyc, err := UnwrapCycle(env)
		if err != nil {
			// The outer loop never retries a failed cycle inline; the
			// partial artifact still goes through gate-out.
			log.Warn("cycle failed, aborting loop",
				zap.Int("cycle", n), zap.Error(err))
			out.WasAborted = true
			reason = TerminationAborted
			break
		}

		state = cyc.State
		totalTokens += cyc.Telemetry.Tokens
		artifacts = append(artifacts, cyc.Artifacts...)
		decisions.push(cyc.Decision)
		for _, a := range cyc.Artifacts {
			outputs.push(a)
		}

		switch cyc.Decision.Action {
		case types.ActionComplete, types.ActionPark, types.ActionSleep:
			// The inner loop decided to stop; no monitor call needed.
			reason = completedReason()
			break loop
		case types.ActionReplan:
			if emergency {
				out.WasEscalated = true
				reason = TerminationEscalated
				break loop
			}
		}

		rec, err := UnwrapLoad(o.collabs.Monitor.Monitor(
			ctx, out.Map, cyc.Telemetry, decisions.items, outputs.items, p.Objective))
		if err != nil {
			// Fail open on monitoring: a broken monitor must not cause
			// spurious aborts.
			log.Warn("load monitor failed, continuing", zap.Int("cycle", n), zap.Error(err))
			simplifyStreak = 0
			continue
		}

		log.Debug("load recommendation",
			zap.Int("cycle", n),
			zap.String("action", string(rec.Action)),
			zap.Float64("aggregate", rec.Load.Aggregate),
			zap.Bool("loop", rec.Flags.Loop),
			zap.Bool("stall", rec.Flags.Stall),
			zap.Bool("oscillation", rec.Flags.Oscillation),
			zap.Bool("drift", rec.Flags.Drift))

		switch rec.Action {
		case types.LoadSimplify:
			if emergency {
				out.WasAborted = true
				reason = TerminationAborted
				break loop
			}
			simplifyStreak++
			if simplifyStreak > o.cfg.SimplifyMaxSteps || out.Map.Level == types.ComplexityTrivial {
				// Cannot simplify further; the ratchet stops here.
				out.WasEscalated = true
				reason = TerminationEscalated
				break loop
			}
			downgraded, derr := Downgrade(out.Map)
			if derr != nil {
				out.WasEscalated = true
				reason = TerminationEscalated
				break loop
			}
			out.Map = downgraded
			out.WasSimplified = true
			log.Info("pipeline simplified",
				zap.Int("cycle", n),
				zap.String("pipeline", downgraded.Name),
				zap.String("level", downgraded.Level.String()))
		case types.LoadEscalate:
			out.WasEscalated = true
			reason = TerminationEscalated
			break loop
		case types.LoadAbort:
			out.WasAborted = true
			reason = TerminationAborted
			break loop
		default:
			simplifyStreak = 0
		}
	}

	out.Decisions = decisions.items
	out.Outputs = outputs.items
	out.Loop = LoopResult{
		TotalCycles: totalCycles,
		Reason:      reason,
		FinalState:  state.Clone(),
		TotalTokens: totalTokens,
		Artifacts:   artifacts,
	}

	log.Info("loop terminated",
		zap.Int("cycles", totalCycles),
		zap.String("reason", string(reason)),
		zap.Int("tokens", totalTokens),
		zap.Int("artifacts", len(artifacts)))
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
