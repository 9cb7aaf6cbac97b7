// Package optimizer analyzes a validated plan.Plan: token-cost estimate,
// wall-time estimate, and bottleneck/parallelism characteristics. Every
// function here is pure — no I/O, no mutation of the Plan — so it can run
// ahead of execution from the /api/plan preview endpoint.
package optimizer

import (
	"encoding/json"

	"github.com/driftkit/taskgraph/plan"
)

// tokensPerChar and the per-task overheads mirror the estimates the
// original planner used for cost-estimation endpoints.
const tokensPerChar = 1.3

// EstimateTokenUsage returns a rough token-cost estimate for the plan: for
// each run_gemini step, ~1.3 tokens/char of prompt plus 100 tokens of
// overhead; for each create_file step, 50; for anything else, 100.
func EstimateTokenUsage(p *plan.Plan) int {
	total := 0
	for _, step := range p.Steps {
		switch step.Task {
		case plan.TaskRunGemini:
			var params plan.RunGeminiParams
			_ = json.Unmarshal(step.Params, &params)
			total += int(float64(len(params.Prompt))*tokensPerChar) + 100
		case plan.TaskCreateFile:
			total += 50
		default:
			total += 100
		}
	}
	return total
}

// EstimateExecutionTime returns an upper-bound wall-time estimate in
// seconds, ignoring parallelism: ~3s per run_gemini call, ~1s per
// create_file write, ~2s for anything else, summed across every step.
func EstimateExecutionTime(p *plan.Plan) int {
	total := 0
	for _, step := range p.Steps {
		switch step.Task {
		case plan.TaskRunGemini:
			total += 3
		case plan.TaskCreateFile:
			total += 1
		default:
			total += 2
		}
	}
	return total
}

// BottleneckAnalysis summarizes the shape of a plan's dependency graph.
type BottleneckAnalysis struct {
	HighDependencySteps []string `json:"high_dependency_steps"`
	LongestChainLength  int      `json:"longest_chain_length"`
	IndependentSteps    int      `json:"independent_steps"`
}

// AnalyzeBottlenecks reports steps with >= 3 dependencies, the count of
// zero-dependency (independent) steps, and the longest dependency chain,
// computed with memoized depth lookups in O(V+E) rather than recomputing
// each step's depth from scratch.
func AnalyzeBottlenecks(p *plan.Plan) BottleneckAnalysis {
	analysis := BottleneckAnalysis{HighDependencySteps: []string{}}

	byID := make(map[string]*plan.Step, len(p.Steps))
	for i := range p.Steps {
		byID[p.Steps[i].ID] = &p.Steps[i]
	}

	for _, step := range p.Steps {
		if len(step.Dependencies) >= 3 {
			analysis.HighDependencySteps = append(analysis.HighDependencySteps, step.ID)
		}
		if len(step.Dependencies) == 0 {
			analysis.IndependentSteps++
		}
	}

	depthCache := make(map[string]int, len(p.Steps))
	maxDepth := 0
	for _, step := range p.Steps {
		depth := stepDepth(step.ID, byID, depthCache)
		if depth > maxDepth {
			maxDepth = depth
		}
	}
	analysis.LongestChainLength = maxDepth

	return analysis
}

func stepDepth(id string, byID map[string]*plan.Step, cache map[string]int) int {
	if d, ok := cache[id]; ok {
		return d
	}

	step, ok := byID[id]
	if !ok {
		// Not reachable once plan.Validate has run, but depth 1 is a safe
		// fallback rather than panicking on an inconsistent caller.
		return 1
	}

	if len(step.Dependencies) == 0 {
		cache[id] = 1
		return 1
	}

	maxDepDepth := 0
	for _, dep := range step.Dependencies {
		if d := stepDepth(dep, byID, cache); d > maxDepDepth {
			maxDepDepth = d
		}
	}

	depth := maxDepDepth + 1
	cache[id] = depth
	return depth
}
