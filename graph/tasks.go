package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/driftkit/taskgraph/llm/gemini"
	"github.com/driftkit/taskgraph/plan"
)

// runGeminiTask calls the planner-unaware one-shot Gemini client and writes
// its text output.
type runGeminiTask struct {
	stepID string
	prompt string
	client *gemini.Client
}

func newRunGeminiTask(step plan.Step, app *AppState) (Task, error) {
	var params plan.RunGeminiParams
	if err := json.Unmarshal(step.Params, &params); err != nil {
		return nil, &plan.InvalidPlan{Rule: plan.RuleMissingParams, Message: "run_gemini step has malformed params", StepIDs: []string{step.ID}}
	}
	prompt := strings.TrimSpace(params.Prompt)
	if prompt == "" {
		return nil, &plan.InvalidPlan{Rule: plan.RuleMissingParams, Message: "run_gemini step requires a non-empty prompt", StepIDs: []string{step.ID}}
	}
	if len(prompt) > plan.MaxPromptLength {
		return nil, &plan.InvalidPlan{Rule: plan.RuleMissingParams, Message: fmt.Sprintf("run_gemini prompt exceeds %d characters", plan.MaxPromptLength), StepIDs: []string{step.ID}}
	}
	if app == nil || app.GeminiClient == nil {
		return nil, fmt.Errorf("run_gemini task %q: no gemini client configured", step.ID)
	}
	return &runGeminiTask{stepID: step.ID, prompt: prompt, client: app.GeminiClient}, nil
}

func (t *runGeminiTask) StepID() string { return t.stepID }

func (t *runGeminiTask) Run(ctx context.Context, execCtx Context) (string, error) {
	output, err := t.client.GenerateContent(ctx, gemini.Request{Prompt: t.prompt})
	if err != nil {
		return "", err
	}
	return output, nil
}

// contentSource is either a literal string or a reference to another
// step's output key.
type contentSource struct {
	literal string
	fromKey string
}

// createFileTask resolves working_dir from the execution Context, writes
// its content (literal or sourced from a prior step's output), and returns
// the canonical absolute path it wrote.
type createFileTask struct {
	stepID   string
	filename string
	source   contentSource
}

func newCreateFileTask(step plan.Step) (Task, error) {
	var params plan.CreateFileParams
	if err := json.Unmarshal(step.Params, &params); err != nil {
		return nil, &plan.InvalidPlan{Rule: plan.RuleMissingParams, Message: "create_file step has malformed params", StepIDs: []string{step.ID}}
	}
	if params.Filename == "" {
		return nil, &plan.InvalidPlan{Rule: plan.RuleMissingParams, Message: "create_file step requires a filename", StepIDs: []string{step.ID}}
	}
	if err := plan.ValidateFilename(params.Filename); err != nil {
		return nil, &plan.InvalidPlan{Rule: plan.RuleInvalidFilename, Message: err.Error(), StepIDs: []string{step.ID}}
	}

	hasFrom := params.ContentFrom != ""
	hasLiteral := params.Content != ""
	if hasFrom == hasLiteral {
		return nil, &plan.InvalidPlan{Rule: plan.RuleMissingParams, Message: "create_file step must set exactly one of content_from or content", StepIDs: []string{step.ID}}
	}

	src := contentSource{literal: params.Content}
	if hasFrom {
		ref := strings.TrimSuffix(params.ContentFrom, ".output")
		declared := false
		for _, dep := range step.Dependencies {
			if dep == ref {
				declared = true
				break
			}
		}
		if !declared {
			return nil, &plan.InvalidPlan{Rule: plan.RuleContentFromDep, Message: fmt.Sprintf("step %q references content_from %q but does not declare it as a dependency", step.ID, params.ContentFrom), StepIDs: []string{step.ID, ref}}
		}
		src = contentSource{fromKey: params.ContentFrom}
	}

	return &createFileTask{stepID: step.ID, filename: params.Filename, source: src}, nil
}

func (t *createFileTask) StepID() string { return t.stepID }

func (t *createFileTask) Run(ctx context.Context, execCtx Context) (string, error) {
	// Re-check filename hygiene at execution time: defense in depth against
	// a Context/task wiring bug that might let an unvalidated filename
	// reach this point.
	if err := plan.ValidateFilename(t.filename); err != nil {
		return "", fmt.Errorf("create_file %s: %w", t.stepID, err)
	}

	content := t.source.literal
	if t.source.fromKey != "" {
		v, ok := execCtx.Get(t.source.fromKey)
		if !ok {
			return "", fmt.Errorf("create_file %s: required input %q was not produced", t.stepID, t.source.fromKey)
		}
		content = v
	}

	target := filepath.Join(execCtx.WorkingDir(), t.filename)

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create_file %s: failed to create parent directories: %w", t.stepID, err)
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("create_file %s: failed to write file: %w", t.stepID, err)
	}

	abs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("create_file %s: failed to canonicalize path: %w", t.stepID, err)
	}
	return abs, nil
}
