package observer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"kea/internal/logging"
	"kea/internal/types"
)

// dispatch runs the pipeline variant chosen by gate-in: preparation work
// around the monitored loop. hint carries retry guidance from a prior
// gate-out rejection so planning can adapt on re-execution.
func (o *Observer) dispatch(ctx context.Context, gin GateInResult, mem types.Memory, hint string) ExecuteResult {
	start := time.Now()
	log := logging.Get(logging.CategoryDispatch)
	log.Debug("dispatch", zap.String("trace_id", gin.TraceID), zap.String("mode", string(gin.Mode)))

	var res ExecuteResult
	switch gin.Mode {
	case types.ModeFast:
		res = o.dispatchFast(ctx, gin, mem)
	case types.ModeStandard:
		res = o.dispatchStandard(ctx, gin, mem, hint)
	case types.ModeFull:
		res = o.dispatchFull(ctx, gin, mem, hint)
	default:
		res = o.dispatchEmergency(ctx, gin, mem)
	}
	res.Mode = gin.Mode
	res.Duration = time.Since(start)
	return res
}

// dispatchFast bypasses planning entirely and runs the loop on an empty
// DAG. TRIVIAL and SIMPLE inputs land here.
func (o *Observer) dispatchFast(ctx context.Context, gin GateInResult, mem types.Memory) ExecuteResult {
	return o.execute(ctx, gin, mem, &types.TaskGraph{}, objectiveOf(gin))
}

// dispatchStandard decomposes the objective into sub-tasks and seeds the
// loop objective with them. No DAG synthesis.
func (o *Observer) dispatchStandard(ctx context.Context, gin GateInResult, mem types.Memory, hint string) ExecuteResult {
	world := types.WorldState{Objective: objectiveOf(gin), Tags: gin.Tags, Hint: hint}
	tasks, err := UnwrapSubTasks(o.collabs.Decomposer.Decompose(ctx, world))
	if err != nil {
		return o.planningVeto(gin, fmt.Sprintf("decomposition failed: %v", err))
	}
	objective := seedObjective(world.Objective, tasks)
	return o.execute(ctx, gin, mem, &types.TaskGraph{}, objective)
}

// dispatchFull runs the whole planning stack: decomposition, what-if
// simulation, graph synthesis, advanced planning, and the reflection
// pre-execution check. A hard no-go from the guard aborts execution before
// the first cycle.
func (o *Observer) dispatchFull(ctx context.Context, gin GateInResult, mem types.Memory, hint string) ExecuteResult {
	world := types.WorldState{Objective: objectiveOf(gin), Tags: gin.Tags, Hint: hint}

	tasks, err := UnwrapSubTasks(o.collabs.Decomposer.Decompose(ctx, world))
	if err != nil {
		return o.planningVeto(gin, fmt.Sprintf("decomposition failed: %v", err))
	}

	if o.collabs.Simulator != nil {
		sim, serr := UnwrapSimulation(o.collabs.Simulator.Simulate(ctx, tasks))
		if serr != nil {
			return o.planningVeto(gin, fmt.Sprintf("what-if simulation failed: %v", serr))
		}
		if !sim.Viable {
			return o.planningVeto(gin, fmt.Sprintf("simulation judged plan non-viable (risk %.2f)", sim.Risk))
		}
	}

	graph, err := UnwrapTaskGraph(o.collabs.Synthesizer.Synthesize(ctx, tasks))
	if err != nil {
		return o.planningVeto(gin, fmt.Sprintf("graph synthesis failed: %v", err))
	}

	planned, err := UnwrapPlannedTasks(o.collabs.Planner.Plan(ctx, tasks, types.PlanConstraints{
		AllowedTools:   gin.Identity.AllowedTools,
		ForbiddenTools: gin.Identity.ForbiddenTools,
		MaxParallel:    gin.Identity.MaxParallel,
	}))
	if err != nil {
		return o.planningVeto(gin, fmt.Sprintf("advanced planning failed: %v", err))
	}

	verdict, err := UnwrapGuardVerdict(o.collabs.Guard.PreCheck(ctx, planned, gin.Identity))
	if err != nil {
		return o.planningVeto(gin, fmt.Sprintf("reflection guard failed: %v", err))
	}
	if !verdict.Allow {
		return o.planningVeto(gin, "reflection guard denied plan: "+verdict.Reason)
	}

	return o.execute(ctx, gin, mem, &graph, seedObjective(world.Objective, tasks))
}

// dispatchEmergency bypasses planning, runs the clamped loop, and emits
// the lifecycle panic signal as an observable side effect.
func (o *Observer) dispatchEmergency(ctx context.Context, gin GateInResult, mem types.Memory) ExecuteResult {
	res := o.execute(ctx, gin, mem, &types.TaskGraph{}, objectiveOf(gin))
	if o.sink != nil {
		o.sink.Emit(types.Signal{Schema: types.SchemaPanic, Data: map[string]string{
			"trace_id": gin.TraceID,
			"agent_id": gin.Identity.AgentID,
			"reason":   "emergency pipeline engaged",
		}})
	}
	return res
}

// execute runs the monitored loop and synthesizes the artifact.
func (o *Observer) execute(ctx context.Context, gin GateInResult, mem types.Memory, dag *types.TaskGraph, objective string) ExecuteResult {
	outcome := o.runMonitoredLoop(ctx, loopParams{
		Map:       gin.Map,
		DAG:       dag,
		Objective: objective,
		Memory:    mem,
		State: types.AgentState{
			AgentID:   gin.Identity.AgentID,
			Objective: objective,
			Vars:      map[string]string{},
		},
		Mode: gin.Mode,
	})

	return ExecuteResult{
		Loop:            outcome.Loop,
		Artifact:        synthesizeArtifact(outcome.Loop.Artifacts, o.cfg.ArtifactMaxBytes),
		RecentDecisions: outcome.Decisions,
		RecentOutputs:   outcome.Outputs,
		Objective:       objective,
		Map:             outcome.Map,
		WasSimplified:   outcome.WasSimplified,
		WasEscalated:    outcome.WasEscalated,
		WasAborted:      outcome.WasAborted,
	}
}

// planningVeto is the terminal execute result for a plan that never ran.
func (o *Observer) planningVeto(gin GateInResult, reason string) ExecuteResult {
	logging.Get(logging.CategoryDispatch).Warn("planning vetoed",
		zap.String("trace_id", gin.TraceID), zap.String("reason", reason))
	return ExecuteResult{
		Loop: LoopResult{
			Reason:     TerminationEscalated,
			FinalState: types.AgentState{AgentID: gin.Identity.AgentID},
		},
		Objective:    objectiveOf(gin),
		Map:          gin.Map,
		WasEscalated: true,
		PlanVeto:     true,
		VetoReason:   reason,
	}
}

// objectiveOf recovers the invocation objective, falling back to the
// perceived text when the caller supplied none.
func objectiveOf(gin GateInResult) string {
	if gin.Objective != "" {
		return gin.Objective
	}
	return gin.Modality.Text
}

// seedObjective folds a decomposition into the loop objective.
func seedObjective(objective string, tasks []types.SubTask) string {
	if len(tasks) == 0 {
		return objective
	}
	ordered := append([]types.SubTask(nil), tasks...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority > ordered[j].Priority })
	var sb strings.Builder
	sb.WriteString(objective)
	sb.WriteString("\nsubtasks:")
	for _, t := range ordered {
		sb.WriteString("\n- ")
		sb.WriteString(t.Description)
	}
	return sb.String()
}

// synthesizeArtifact concatenates loop outputs in cycle order, dropping
// exact duplicates and bounding the total size. Ordering is stable and
// meaningful downstream.
func synthesizeArtifact(artifacts []string, maxBytes int) string {
	if maxBytes <= 0 {
		maxBytes = 16 * 1024
	}
	seen := make(map[string]struct{}, len(artifacts))
	var sb strings.Builder
	for _, a := range artifacts {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		if sb.Len() > 0 {
			if sb.Len()+1+len(a) > maxBytes {
				break
			}
			sb.WriteByte('\n')
		} else if len(a) > maxBytes {
			return a[:maxBytes]
		}
		sb.WriteString(a)
	}
	return sb.String()
}
