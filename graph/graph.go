// Package graph materializes a validated plan.Plan into typed task nodes
// wired together by dependency edges — the plan→graph builder (C5). It
// re-checks task-specific parameters as a second line of defense, the way
// the plan model spec insists two independent layers enforce the same
// content_from/dependencies consistency rule.
package graph

import (
	"context"
	"fmt"

	"github.com/driftkit/taskgraph/llm/gemini"
	"github.com/driftkit/taskgraph/plan"
)

// Context is the per-execution key/value store a Task reads its inputs
// from and writes its single output key to. package executor owns the
// concrete implementation and the lifecycle of one Context per run.
type Context interface {
	// Get returns a previously written value and whether it was present.
	Get(key string) (string, bool)
	// Set writes key exactly once per execution; callers (package executor)
	// are responsible for enforcing the once-only guarantee.
	Set(key string, value string)
	// WorkingDir returns the absolute directory create_file tasks resolve
	// relative filenames against.
	WorkingDir() string
}

// Task is one executable unit bound to a plan.Step.
type Task interface {
	StepID() string
	// Run performs the task's side effect and returns its output, or an
	// error if the step failed.
	Run(ctx context.Context, execCtx Context) (string, error)
}

// Node is one vertex of the built graph: a Task plus its dependency edges.
type Node struct {
	ID           string
	Task         Task
	Dependencies []string
	Dependents   []string
}

// Graph is the immutable, validated output of Build. Identified by a fixed
// ID so callers (e.g. the /api/orchestrate/graph preview endpoint) can
// refer back to "the graph for this request" in logs.
type Graph struct {
	ID          string
	Nodes       map[string]*Node
	Order       []string // declaration order, preserved from the Plan
	StartNodeID string
}

// AppState is the set of shared collaborators a Task needs beyond the
// per-execution Context — currently just the Gemini client, reused across
// every run_gemini task in every execution.
type AppState struct {
	GeminiClient *gemini.Client
}

// Build constructs a Graph from an already-validated Plan. Build does not
// re-run plan.Validate — callers must validate first — but it does re-check
// every task's parameters, because a Plan object can be constructed and
// mutated in-process between validation and building.
func Build(p *plan.Plan, app *AppState) (*Graph, error) {
	g := &Graph{
		ID:    fmt.Sprintf("graph-%d-steps", len(p.Steps)),
		Nodes: make(map[string]*Node, len(p.Steps)),
	}

	for _, step := range p.Steps {
		task, err := buildTask(step, app)
		if err != nil {
			return nil, err
		}
		g.Nodes[step.ID] = &Node{
			ID:           step.ID,
			Task:         task,
			Dependencies: append([]string{}, step.Dependencies...),
		}
		g.Order = append(g.Order, step.ID)
	}

	for id, node := range g.Nodes {
		for _, dep := range node.Dependencies {
			depNode, ok := g.Nodes[dep]
			if !ok {
				return nil, &plan.InvalidPlan{
					Rule:    plan.RuleDanglingDependency,
					Message: fmt.Sprintf("step %q depends on unknown step %q", id, dep),
					StepIDs: []string{id, dep},
				}
			}
			depNode.Dependents = append(depNode.Dependents, id)
		}
	}

	start := ""
	for _, id := range g.Order {
		if len(g.Nodes[id].Dependencies) == 0 {
			start = id
			break
		}
	}
	if start == "" {
		return nil, &plan.InvalidPlan{
			Rule:    "no_start_node",
			Message: "graph has no step with zero dependencies",
		}
	}
	g.StartNodeID = start

	return g, nil
}

func buildTask(step plan.Step, app *AppState) (Task, error) {
	switch step.Task {
	case plan.TaskRunGemini:
		return newRunGeminiTask(step, app)
	case plan.TaskCreateFile:
		return newCreateFileTask(step)
	default:
		return nil, &plan.InvalidPlan{
			Rule:    plan.RuleUnknownTask,
			Message: fmt.Sprintf("unknown task kind %q", step.Task),
			StepIDs: []string{step.ID},
		}
	}
}

// Edges returns every dependency edge as (from, to) pairs, from being the
// dependency and to being the dependent — the shape the graph preview
// endpoint reports.
func (g *Graph) Edges() [][2]string {
	var edges [][2]string
	for _, id := range g.Order {
		for _, dep := range g.Nodes[id].Dependencies {
			edges = append(edges, [2]string{dep, id})
		}
	}
	return edges
}
