package heuristic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kea/internal/types"
)

// Runner is the built-in single-cycle execution primitive. It walks the
// synthesized graph one node per cycle (or the objective's sub-task lines
// when no graph was synthesized), emits one artifact per step, and
// completes when nothing is left. Progress is carried entirely in the
// agent state, so the outer loop can thread it through cycles.
type Runner struct {
	// TokensPerWord approximates cost accounting. Default 2.
	TokensPerWord int
}

// RunCycle implements types.CycleRunner.
func (r Runner) RunCycle(ctx context.Context, state types.AgentState, mem types.Memory, dag *types.TaskGraph, objective string) types.Envelope {
	if err := ctx.Err(); err != nil {
		return types.Fail(types.ErrKindCancelled, err.Error())
	}
	start := time.Now()
	tokensPerWord := r.TokensPerWord
	if tokensPerWord < 1 {
		tokensPerWord = 2
	}

	steps := planSteps(dag, objective)
	next := state.Clone()
	if next.Vars == nil {
		next.Vars = map[string]string{}
	}
	next.Step = state.Step + 1

	// Greeting inputs resolve in a single cycle.
	if greetingRE.MatchString(objective) {
		next.Vars["confidence"] = "0.9"
		artifact := "Hello! How can I help you today?"
		if mem != nil {
			mem.Remember("last_response", artifact)
		}
		return cycleEnvelope(next, types.Decision{
			Action:    types.ActionComplete,
			Reasoning: "greeting answered directly",
		}, start, tokensPerWord, []string{artifact})
	}

	idx := state.Step
	if idx >= len(steps) {
		next.Vars["confidence"] = "0.8"
		return cycleEnvelope(next, types.Decision{
			Action:    types.ActionComplete,
			Reasoning: "all steps exhausted",
		}, start, tokensPerWord, nil)
	}

	step := steps[idx]
	artifact := fmt.Sprintf("%s: done", step.Description)
	if mem != nil {
		mem.Remember(fmt.Sprintf("step:%s", step.ID), artifact)
	}

	decision := types.Decision{
		Action:    types.ActionContinue,
		Reasoning: fmt.Sprintf("executed step %s", step.ID),
		TargetIDs: []string{step.ID},
	}
	if idx == len(steps)-1 {
		decision.Action = types.ActionComplete
		decision.Reasoning = "final step executed"
		next.Vars["confidence"] = "0.8"
	}
	return cycleEnvelope(next, decision, start, tokensPerWord, []string{artifact})
}

type runnerStep struct {
	ID          string
	Description string
}

func planSteps(dag *types.TaskGraph, objective string) []runnerStep {
	if !dag.Empty() {
		steps := make([]runnerStep, len(dag.Nodes))
		for i, n := range dag.Nodes {
			steps[i] = runnerStep{ID: n.ID, Description: n.Description}
		}
		return steps
	}

	// No graph: derive steps from the seeded objective's subtask lines,
	// or treat the whole objective as one step.
	lines := strings.Split(objective, "\n")
	var steps []runnerStep
	for _, line := range lines {
		if desc, ok := strings.CutPrefix(line, "- "); ok {
			steps = append(steps, runnerStep{
				ID:          fmt.Sprintf("s-%d", len(steps)+1),
				Description: strings.TrimSpace(desc),
			})
		}
	}
	if len(steps) == 0 {
		steps = []runnerStep{{ID: "s-1", Description: strings.TrimSpace(lines[0])}}
	}
	return steps
}

func cycleEnvelope(state types.AgentState, decision types.Decision, start time.Time, tokensPerWord int, artifacts []string) types.Envelope {
	tokens := 0
	for _, a := range artifacts {
		tokens += tokensPerWord * len(strings.Fields(a))
	}
	tokens += tokensPerWord * 4 // decision overhead
	return types.Ok(types.SchemaCycle, types.CycleResult{
		State:    state,
		Decision: decision,
		Telemetry: types.CycleTelemetry{
			Cycle:         state.Step,
			Tokens:        tokens,
			Duration:      time.Since(start),
			ActiveModules: 1,
		},
		Artifacts: artifacts,
	})
}
