package heuristic

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"kea/internal/types"
)

// Decomposer splits an objective into ordered sub-tasks along clause
// boundaries. A retry hint from gate-out is prepended as a corrective
// sub-task so re-execution adapts.
type Decomposer struct {
	// MaxTasks caps the decomposition. Default 8.
	MaxTasks int
}

var clauseSplitRE = regexp.MustCompile(`(?i)\.\s+|;\s*|\n+|\s+and then\s+|\s+then\s+`)

// Decompose implements types.TaskDecomposer.
func (d Decomposer) Decompose(ctx context.Context, world types.WorldState) types.Envelope {
	if err := ctx.Err(); err != nil {
		return types.Fail(types.ErrKindCancelled, err.Error())
	}
	objective := strings.TrimSpace(world.Objective)
	if objective == "" {
		return types.Fail(types.ErrKindDecompFailed, "empty objective")
	}
	maxTasks := d.MaxTasks
	if maxTasks < 1 {
		maxTasks = 8
	}

	var descriptions []string
	if world.Hint != "" {
		descriptions = append(descriptions, "apply correction: "+world.Hint)
	}
	for _, clause := range clauseSplitRE.Split(objective, -1) {
		clause = strings.TrimSpace(strings.TrimSuffix(clause, "."))
		if clause != "" {
			descriptions = append(descriptions, clause)
		}
	}
	if len(descriptions) > maxTasks {
		descriptions = descriptions[:maxTasks]
	}

	tasks := make([]types.SubTask, len(descriptions))
	for i, desc := range descriptions {
		tasks[i] = types.SubTask{
			ID:          fmt.Sprintf("st-%d", i+1),
			Description: desc,
			Priority:    len(descriptions) - i,
		}
	}
	return types.Ok(types.SchemaSubTasks, tasks)
}

// Simulator is the what-if dry run: plans wider than its span are judged
// non-viable.
type Simulator struct {
	// MaxSpan is the widest plan considered viable. Default 12.
	MaxSpan int
}

// Simulate implements types.WhatIfSimulator.
func (s Simulator) Simulate(ctx context.Context, tasks []types.SubTask) types.Envelope {
	if err := ctx.Err(); err != nil {
		return types.Fail(types.ErrKindCancelled, err.Error())
	}
	maxSpan := s.MaxSpan
	if maxSpan < 1 {
		maxSpan = 12
	}
	risk := clamp01(float64(len(tasks)) / float64(maxSpan))
	return types.Ok(types.SchemaSimulation, types.SimulationOutcome{
		Viable: len(tasks) <= maxSpan,
		Risk:   risk,
		Insights: []string{
			fmt.Sprintf("plan spans %d task(s)", len(tasks)),
		},
	})
}

// Synthesizer builds a linear executable chain from the decomposition.
type Synthesizer struct{}

// Synthesize implements types.GraphSynthesizer.
func (Synthesizer) Synthesize(ctx context.Context, tasks []types.SubTask) types.Envelope {
	if err := ctx.Err(); err != nil {
		return types.Fail(types.ErrKindCancelled, err.Error())
	}
	if len(tasks) == 0 {
		return types.Fail(types.ErrKindDAGInvalid, "no tasks to synthesize")
	}
	nodes := make([]types.TaskNode, len(tasks))
	for i, t := range tasks {
		node := types.TaskNode{
			ID:          fmt.Sprintf("n-%d", i+1),
			Description: t.Description,
			Tool:        toolFor(t.Description),
		}
		if i > 0 {
			node.DependsOn = []string{nodes[i-1].ID}
		}
		nodes[i] = node
	}
	return types.Ok(types.SchemaTaskGraph, types.TaskGraph{Nodes: nodes})
}

// Planner binds tools and states a hypothesis per sub-task, honoring the
// identity constraints.
type Planner struct{}

// Plan implements types.AdvancedPlanner.
func (Planner) Plan(ctx context.Context, tasks []types.SubTask, constraints types.PlanConstraints) types.Envelope {
	if err := ctx.Err(); err != nil {
		return types.Fail(types.ErrKindCancelled, err.Error())
	}
	planned := make([]types.PlannedTask, len(tasks))
	for i, t := range tasks {
		tool := toolFor(t.Description)
		planned[i] = types.PlannedTask{
			SubTask:    t,
			Tool:       tool,
			Hypothesis: fmt.Sprintf("completing %q advances the objective", t.Description),
		}
	}
	return types.Ok(types.SchemaPlannedTasks, planned)
}

func toolFor(description string) string {
	lower := strings.ToLower(description)
	for _, tool := range toolWords {
		if strings.Contains(lower, tool) {
			return tool
		}
	}
	return "responder"
}

// Guard is the pre-execution reflection check: it denies any plan that
// binds a forbidden tool.
type Guard struct{}

// PreCheck implements types.ReflectionGuard.
func (Guard) PreCheck(ctx context.Context, plan []types.PlannedTask, identity types.IdentityContext) types.Envelope {
	if err := ctx.Err(); err != nil {
		return types.Fail(types.ErrKindCancelled, err.Error())
	}
	for _, task := range plan {
		if task.Tool != "" && !identity.AllowsTool(task.Tool) {
			return types.Ok(types.SchemaGuardVerdict, types.GuardVerdict{
				Allow:  false,
				Reason: fmt.Sprintf("task %s binds tool %q outside the identity envelope", task.ID, task.Tool),
			})
		}
	}
	return types.Ok(types.SchemaGuardVerdict, types.GuardVerdict{Allow: true})
}
