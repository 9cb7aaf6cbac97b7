// Package planner turns a free-form goal into a validated plan.Plan by
// rendering a fixed meta-prompt, calling Gemini in JSON mode, and retrying
// exactly once if the call, the parse, or the structural validation fails.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/driftkit/taskgraph/core"
	"github.com/driftkit/taskgraph/llm/gemini"
	"github.com/driftkit/taskgraph/plan"
)

// KindPlanningFailed is the core.TaskGraphError.Kind surfaced once the
// bounded retry is exhausted. It is always distinct from a later
// TaskExecutionFailed — a malformed plan never reaches the executor.
const KindPlanningFailed = "PlanningFailed"

// KindInvalidInput is the Kind used for request-level input problems (goal
// too long, empty goal) that never reach Gemini at all.
const KindInvalidInput = "InvalidInput"

// Planner renders the meta-prompt and validates Gemini's output into a plan.Plan.
type Planner struct {
	client        *gemini.Client
	logger        core.Logger
	maxGoalLength int
}

// New builds a Planner. maxGoalLength bounds the goal string accepted by
// Generate (spec default 10000).
func New(client *gemini.Client, maxGoalLength int, logger core.Logger) *Planner {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Planner{client: client, logger: logger, maxGoalLength: maxGoalLength}
}

// Generate produces a validated Plan for goal, or a *core.TaskGraphError
// with Kind InvalidInput or PlanningFailed.
func (p *Planner) Generate(ctx context.Context, goal string) (*plan.Plan, error) {
	trimmed := strings.TrimSpace(goal)
	if trimmed == "" {
		return nil, core.NewTaskGraphError("planner.Generate", KindInvalidInput, fmt.Errorf("goal must not be empty"))
	}
	if len(trimmed) > p.maxGoalLength {
		return nil, core.NewTaskGraphError("planner.Generate", KindInvalidInput,
			fmt.Errorf("goal exceeds max_goal_length (%d)", p.maxGoalLength))
	}

	prompt := renderMetaPrompt(trimmed)

	result, err := p.attempt(ctx, prompt)
	if err == nil {
		return result, nil
	}
	p.logger.WarnWithContext(ctx, "plan generation attempt failed, retrying once", map[string]interface{}{
		"error": err.Error(),
	})

	result, retryErr := p.attempt(ctx, prompt)
	if retryErr == nil {
		return result, nil
	}

	return nil, core.NewTaskGraphError("planner.Generate", KindPlanningFailed, retryErr)
}

func (p *Planner) attempt(ctx context.Context, prompt string) (*plan.Plan, error) {
	raw, err := p.client.GenerateContent(ctx, gemini.Request{Prompt: prompt, ForceJSON: true})
	if err != nil {
		return nil, fmt.Errorf("gemini call failed: %w", err)
	}

	parsed, err := parsePlanJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plan JSON: %w", err)
	}

	if err := plan.Validate(parsed); err != nil {
		return nil, fmt.Errorf("generated plan failed validation: %w", err)
	}

	return parsed, nil
}

// parsePlanJSON tolerates a model wrapping its JSON in a ```json fenced
// block, which Gemini does even under force_json in practice.
func parsePlanJSON(raw string) (*plan.Plan, error) {
	cleaned := stripCodeFence(raw)

	var p plan.Plan
	if err := json.Unmarshal([]byte(cleaned), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

const metaPromptTemplate = `You are a planning engine. Given a user's goal, produce a JSON execution plan.

Available task kinds:
- "run_gemini": params {"prompt": string}. Calls the Gemini model with the given prompt.
- "create_file": params {"filename": string, "content_from": "<step_id>.output"} OR {"filename": string, "content": string}. Writes a file, sourcing its content either from a prior step's output or a literal string.

Rules:
- Every step MUST declare a "dependencies" array, even if empty.
- Step IDs must be unique, non-empty strings.
- The dependency graph must be acyclic.
- If a create_file step uses "content_from": "X.output", then "X" MUST appear in that step's "dependencies".
- Filenames must be relative paths with no ".." segments.

Respond with ONLY a JSON object of this exact shape, no prose, no markdown fence:
{
  "schema_version": "1",
  "steps": [
    {"id": "string", "task": "run_gemini"|"create_file", "params": {...}, "dependencies": ["string", ...]}
  ]
}

User goal: %s`

func renderMetaPrompt(goal string) string {
	return fmt.Sprintf(metaPromptTemplate, goal)
}
