package sse

import (
	"context"
	"time"

	"github.com/driftkit/taskgraph/core"
	"github.com/driftkit/taskgraph/executor"
	"github.com/driftkit/taskgraph/graph"
	"github.com/driftkit/taskgraph/optimizer"
	"github.com/driftkit/taskgraph/planner"
)

// Pipeline wires the planner, optimizer, graph builder, and executor
// together into the single end-to-end operation /api/orchestrate streams:
// goal in, validated plan, built graph, executed DAG, one SSE frame per
// milestone.
type Pipeline struct {
	Planner         *planner.Planner
	Executor        *executor.Executor
	AppState        *graph.AppState
	MaxParallelTasks int
	PlanTimeout     time.Duration
	WorkingDir      string
	Logger          core.Logger
}

// Run drives one end-to-end orchestration for goal, writing every frame to
// w, always ending with Done(). It never returns an error: every failure
// mode is reported as an execution_error frame per spec, since a streaming
// endpoint must not turn a successful handshake into an HTTP error.
func (p *Pipeline) Run(ctx context.Context, w *Writer, goal string) {
	defer w.Done()

	logger := p.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	pl, err := p.Planner.Generate(ctx, goal)
	if err != nil {
		w.ExecutionError(ExecutionErrorPayload{Error: "Planning failed: " + err.Error(), Kind: core.Kind(err)})
		return
	}

	g, err := graph.Build(pl, p.AppState)
	if err != nil {
		w.ExecutionError(ExecutionErrorPayload{Error: "Planning failed: " + err.Error(), Kind: planner.KindPlanningFailed})
		return
	}

	w.PlanGenerated(PlanGeneratedPayload{
		StepCount:         len(pl.Steps),
		EstimatedTokens:   optimizer.EstimateTokenUsage(pl),
		EstimatedTimeSecs: float64(optimizer.EstimateExecutionTime(pl)),
	})

	ordinals := make(map[string]int, len(g.Order))
	for i, id := range g.Order {
		ordinals[id] = i + 1
	}
	for _, step := range pl.Steps {
		w.StepStart(StepStartPayload{StepID: step.ID, StepNumber: ordinals[step.ID], Task: string(step.Task)})
	}

	result := p.Executor.Run(ctx, g, executor.Options{
		MaxParallelTasks: p.MaxParallelTasks,
		Timeout:          p.PlanTimeout,
		WorkingDir:       p.WorkingDir,
		OnStepEvent: func(e executor.StepEvent) {
			if e.Success {
				w.StepComplete(StepCompletePayload{StepID: e.StepID, StepNumber: e.Ordinal, Output: e.Output})
			} else {
				w.StepError(StepErrorPayload{StepID: e.StepID, StepNumber: e.Ordinal, Error: e.Err.Error()})
			}
		},
	})

	if result.Err != nil {
		w.ExecutionError(ExecutionErrorPayload{Error: result.Err.Error(), Kind: core.Kind(result.Err)})
		return
	}

	w.ExecutionComplete(ExecutionCompletePayload{
		TotalSteps:      result.TotalSteps,
		SuccessfulSteps: result.SuccessfulSteps,
	})

	logger.InfoWithContext(ctx, "orchestration run complete", map[string]interface{}{
		"session_id":       result.SessionID,
		"total_steps":      result.TotalSteps,
		"successful_steps": result.SuccessfulSteps,
	})
}
