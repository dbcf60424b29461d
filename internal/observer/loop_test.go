package observer

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/goleak"

	"kea/internal/config"
	"kea/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedRunner replays a fixed sequence of cycle envelopes.
type scriptedRunner struct {
	script []types.Envelope
	calls  int
	events *[]string
}

func (r *scriptedRunner) RunCycle(ctx context.Context, state types.AgentState, _ types.Memory, _ *types.TaskGraph, _ string) types.Envelope {
	r.calls++
	if r.events != nil {
		*r.events = append(*r.events, fmt.Sprintf("cycle %d", r.calls))
	}
	if r.calls <= len(r.script) {
		return r.script[r.calls-1]
	}
	return continueCycle(r.calls, nil)
}

// scriptedMonitor replays recommendations; past the script it continues.
type scriptedMonitor struct {
	script []types.LoadAction
	calls  int
	events *[]string
	maps   []types.ActivationMap
}

func (m *scriptedMonitor) Monitor(ctx context.Context, amap types.ActivationMap, _ types.CycleTelemetry, _ []types.Decision, _ []string, _ string) types.Envelope {
	m.calls++
	m.maps = append(m.maps, amap)
	if m.events != nil {
		*m.events = append(*m.events, fmt.Sprintf("monitor %d", m.calls))
	}
	action := types.LoadContinue
	if m.calls <= len(m.script) {
		action = m.script[m.calls-1]
	}
	return types.Ok(types.SchemaLoad, types.LoadRecommendation{Action: action})
}

func continueCycle(n int, artifacts []string) types.Envelope {
	return types.Ok(types.SchemaCycle, types.CycleResult{
		State:     types.AgentState{Step: n},
		Decision:  types.Decision{Action: types.ActionContinue, TargetIDs: []string{fmt.Sprintf("n-%d", n)}},
		Telemetry: types.CycleTelemetry{Cycle: n, Tokens: 10},
		Artifacts: artifacts,
	})
}

func completeCycle(n int) types.Envelope {
	return types.Ok(types.SchemaCycle, types.CycleResult{
		State:     types.AgentState{Step: n, Vars: map[string]string{"confidence": "0.8"}},
		Decision:  types.Decision{Action: types.ActionComplete},
		Telemetry: types.CycleTelemetry{Cycle: n, Tokens: 10},
		Artifacts: []string{"answer"},
	})
}

func loopObserver(t *testing.T, runner types.CycleRunner, monitor types.LoadMonitor, mutate func(*config.ObserverConfig)) *Observer {
	t.Helper()
	cfg := config.DefaultConfig().Observer
	if mutate != nil {
		mutate(&cfg)
	}
	return &Observer{cfg: cfg, collabs: Collaborators{Runner: runner, Monitor: monitor}}
}

func loopParamsFor(level types.ComplexityLevel, mode types.ProcessingMode) loopParams {
	return loopParams{
		Map:       TemplateFor(level, nil),
		DAG:       &types.TaskGraph{},
		Objective: "objective",
		State:     types.AgentState{},
		Mode:      mode,
	}
}

func TestLoopCompletesWithoutMonitorCall(t *testing.T) {
	runner := &scriptedRunner{script: []types.Envelope{completeCycle(1)}}
	monitor := &scriptedMonitor{}
	o := loopObserver(t, runner, monitor, nil)

	out := o.runMonitoredLoop(context.Background(), loopParamsFor(types.ComplexitySimple, types.ModeFast))

	if out.Loop.TotalCycles != 1 {
		t.Fatalf("TotalCycles = %d, want 1", out.Loop.TotalCycles)
	}
	if out.Loop.Reason != TerminationCompleted {
		t.Fatalf("Reason = %s, want COMPLETED", out.Loop.Reason)
	}
	if monitor.calls != 0 {
		t.Fatalf("monitor called %d times on completing cycle, want 0", monitor.calls)
	}
	if out.WasSimplified || out.WasEscalated || out.WasAborted {
		t.Fatalf("unexpected flags: %+v", out)
	}
}

func TestLoopMonitorObservesCycleBeforeNext(t *testing.T) {
	var events []string
	runner := &scriptedRunner{events: &events, script: []types.Envelope{
		continueCycle(1, nil), continueCycle(2, nil), completeCycle(3),
	}}
	monitor := &scriptedMonitor{events: &events}
	o := loopObserver(t, runner, monitor, nil)

	o.runMonitoredLoop(context.Background(), loopParamsFor(types.ComplexityModerate, types.ModeStandard))

	want := []string{"cycle 1", "monitor 1", "cycle 2", "monitor 2", "cycle 3"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events[%d] = %q, want %q (full: %v)", i, events[i], want[i], events)
		}
	}
}

func TestLoopSimplifyDowngradesMap(t *testing.T) {
	runner := &scriptedRunner{script: []types.Envelope{
		continueCycle(1, nil), continueCycle(2, nil), continueCycle(3, nil), completeCycle(4),
	}}
	monitor := &scriptedMonitor{script: []types.LoadAction{types.LoadSimplify, types.LoadContinue}}
	o := loopObserver(t, runner, monitor, nil)

	out := o.runMonitoredLoop(context.Background(), loopParamsFor(types.ComplexityComplex, types.ModeFull))

	if !out.WasSimplified {
		t.Fatalf("WasSimplified = false, want true")
	}
	if out.Map.Level != types.ComplexityModerate {
		t.Fatalf("Map.Level = %s, want MODERATE", out.Map.Level)
	}
	if !out.Map.PressureDowngraded {
		t.Fatalf("downgraded map should carry the downgraded flag")
	}
	if out.Loop.Reason != TerminationSimplifiedComplete {
		t.Fatalf("Reason = %s, want SIMPLIFIED_COMPLETE", out.Loop.Reason)
	}
	// The monitor after the simplify must observe the downgraded map.
	if monitor.maps[1].Level != types.ComplexityModerate {
		t.Fatalf("monitor saw level %s after simplify, want MODERATE", monitor.maps[1].Level)
	}
}

func TestLoopSimplifyStreakPromotesToEscalate(t *testing.T) {
	runner := &scriptedRunner{}
	monitor := &scriptedMonitor{script: []types.LoadAction{
		types.LoadSimplify, types.LoadSimplify, types.LoadSimplify,
	}}
	o := loopObserver(t, runner, monitor, func(c *config.ObserverConfig) {
		c.SimplifyMaxSteps = 2
	})

	out := o.runMonitoredLoop(context.Background(), loopParamsFor(types.ComplexityComplex, types.ModeFull))

	if !out.WasEscalated {
		t.Fatalf("WasEscalated = false, want true after simplify streak")
	}
	if out.Loop.Reason != TerminationEscalated {
		t.Fatalf("Reason = %s, want ESCALATED", out.Loop.Reason)
	}
	// Two simplifies applied, the third promoted.
	if out.Map.Level != types.ComplexitySimple {
		t.Fatalf("Map.Level = %s, want SIMPLE after two downgrades", out.Map.Level)
	}
	if out.Loop.TotalCycles != 3 {
		t.Fatalf("TotalCycles = %d, want 3", out.Loop.TotalCycles)
	}
}

func TestLoopSimplifyAtTrivialEscalates(t *testing.T) {
	runner := &scriptedRunner{}
	monitor := &scriptedMonitor{script: []types.LoadAction{types.LoadSimplify}}
	o := loopObserver(t, runner, monitor, nil)

	out := o.runMonitoredLoop(context.Background(), loopParamsFor(types.ComplexityTrivial, types.ModeFast))

	if !out.WasEscalated || out.WasSimplified {
		t.Fatalf("trivial simplify should escalate, got %+v", out)
	}
}

func TestLoopAbortPreservesArtifacts(t *testing.T) {
	runner := &scriptedRunner{script: []types.Envelope{
		continueCycle(1, []string{"partial a"}),
		continueCycle(2, []string{"partial b"}),
	}}
	monitor := &scriptedMonitor{script: []types.LoadAction{types.LoadContinue, types.LoadAbort}}
	o := loopObserver(t, runner, monitor, nil)

	out := o.runMonitoredLoop(context.Background(), loopParamsFor(types.ComplexityModerate, types.ModeStandard))

	if !out.WasAborted {
		t.Fatalf("WasAborted = false, want true")
	}
	if out.Loop.Reason != TerminationAborted {
		t.Fatalf("Reason = %s, want ABORTED", out.Loop.Reason)
	}
	if len(out.Loop.Artifacts) != 2 {
		t.Fatalf("Artifacts = %v, want both partials preserved", out.Loop.Artifacts)
	}
}

func TestLoopBudgetExhausted(t *testing.T) {
	runner := &scriptedRunner{}
	monitor := &scriptedMonitor{}
	o := loopObserver(t, runner, monitor, func(c *config.ObserverConfig) {
		c.MaxCycles = 4
	})

	out := o.runMonitoredLoop(context.Background(), loopParamsFor(types.ComplexityModerate, types.ModeStandard))

	if out.Loop.Reason != TerminationBudgetExhausted {
		t.Fatalf("Reason = %s, want BUDGET_EXHAUSTED", out.Loop.Reason)
	}
	if out.Loop.TotalCycles != 4 {
		t.Fatalf("TotalCycles = %d, want 4", out.Loop.TotalCycles)
	}
}

func TestLoopCycleFailureIsLocalAbort(t *testing.T) {
	runner := &scriptedRunner{script: []types.Envelope{
		continueCycle(1, []string{"kept"}),
		types.Fail(types.ErrKindCycleFailed, "inner loop crashed"),
	}}
	monitor := &scriptedMonitor{}
	o := loopObserver(t, runner, monitor, nil)

	out := o.runMonitoredLoop(context.Background(), loopParamsFor(types.ComplexityModerate, types.ModeStandard))

	if !out.WasAborted || out.Loop.Reason != TerminationAborted {
		t.Fatalf("cycle failure should abort, got %+v", out.Loop)
	}
	if len(out.Loop.Artifacts) != 1 || out.Loop.Artifacts[0] != "kept" {
		t.Fatalf("Artifacts = %v, want prior artifacts preserved", out.Loop.Artifacts)
	}
}

func TestLoopMonitorFailureIsFailOpen(t *testing.T) {
	runner := &scriptedRunner{script: []types.Envelope{
		continueCycle(1, nil), completeCycle(2),
	}}
	failing := &failingMonitor{}
	o := loopObserver(t, runner, failing, nil)

	out := o.runMonitoredLoop(context.Background(), loopParamsFor(types.ComplexityModerate, types.ModeStandard))

	if out.Loop.Reason != TerminationCompleted {
		t.Fatalf("Reason = %s, want COMPLETED despite monitor failure", out.Loop.Reason)
	}
	if out.Loop.TotalCycles != 2 {
		t.Fatalf("TotalCycles = %d, want 2", out.Loop.TotalCycles)
	}
}

type failingMonitor struct{}

func (failingMonitor) Monitor(context.Context, types.ActivationMap, types.CycleTelemetry, []types.Decision, []string, string) types.Envelope {
	return types.Fail("MONITOR_DOWN", "no reading")
}

func TestLoopCancellationBecomesAbort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &cancellingRunner{cancel: cancel}
	monitor := &scriptedMonitor{}
	o := loopObserver(t, runner, monitor, nil)

	out := o.runMonitoredLoop(ctx, loopParamsFor(types.ComplexityModerate, types.ModeStandard))

	if !out.WasAborted || out.Loop.Reason != TerminationAborted {
		t.Fatalf("cancellation should abort, got %+v", out.Loop)
	}
	if len(out.Loop.Artifacts) != 1 {
		t.Fatalf("Artifacts = %v, want partial preserved", out.Loop.Artifacts)
	}
}

// cancellingRunner cancels the invocation after its first cycle.
type cancellingRunner struct {
	cancel context.CancelFunc
	calls  int
}

func (r *cancellingRunner) RunCycle(ctx context.Context, state types.AgentState, _ types.Memory, _ *types.TaskGraph, _ string) types.Envelope {
	r.calls++
	r.cancel()
	return continueCycle(r.calls, []string{"partial"})
}

func TestLoopEmergencyClampsCycles(t *testing.T) {
	runner := &scriptedRunner{}
	monitor := &scriptedMonitor{}
	o := loopObserver(t, runner, monitor, nil)

	out := o.runMonitoredLoop(context.Background(), loopParamsFor(types.ComplexityCritical, types.ModeEmergency))

	if out.Loop.TotalCycles > 3 {
		t.Fatalf("TotalCycles = %d, want <= emergency cap 3", out.Loop.TotalCycles)
	}
	if out.Loop.Reason != TerminationBudgetExhausted {
		t.Fatalf("Reason = %s, want BUDGET_EXHAUSTED", out.Loop.Reason)
	}
}

func TestLoopEmergencySimplifyPromotedToAbort(t *testing.T) {
	runner := &scriptedRunner{}
	monitor := &scriptedMonitor{script: []types.LoadAction{types.LoadSimplify}}
	o := loopObserver(t, runner, monitor, nil)

	out := o.runMonitoredLoop(context.Background(), loopParamsFor(types.ComplexityCritical, types.ModeEmergency))

	if !out.WasAborted || out.Loop.Reason != TerminationAborted {
		t.Fatalf("emergency simplify should abort, got %+v", out.Loop)
	}
}

func TestLoopEmergencyReplanEscalates(t *testing.T) {
	replan := types.Ok(types.SchemaCycle, types.CycleResult{
		State: types.AgentState{Step: 1},
		Decision: types.Decision{
			Action: types.ActionReplan,
			Replan: &types.ReplanMeta{Objective: "different plan"},
		},
		Telemetry: types.CycleTelemetry{Cycle: 1},
	})
	runner := &scriptedRunner{script: []types.Envelope{replan}}
	monitor := &scriptedMonitor{}
	o := loopObserver(t, runner, monitor, nil)

	out := o.runMonitoredLoop(context.Background(), loopParamsFor(types.ComplexityCritical, types.ModeEmergency))

	if !out.WasEscalated || out.Loop.Reason != TerminationEscalated {
		t.Fatalf("emergency replan should escalate, got %+v", out.Loop)
	}
	if monitor.calls != 0 {
		t.Fatalf("monitor called %d times, want 0 on emergency replan", monitor.calls)
	}
}

func TestLoopRecentWindowIsBounded(t *testing.T) {
	runner := &scriptedRunner{}
	monitor := &scriptedMonitor{}
	o := loopObserver(t, runner, monitor, func(c *config.ObserverConfig) {
		c.RecentDecisionsWindow = 3
		c.MaxCycles = 10
	})

	out := o.runMonitoredLoop(context.Background(), loopParamsFor(types.ComplexityComplex, types.ModeFull))

	if len(out.Decisions) != 3 {
		t.Fatalf("recent decisions window = %d, want 3", len(out.Decisions))
	}
}
