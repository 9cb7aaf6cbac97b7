package plan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validation rule identifiers, named so InvalidPlan.Rule is stable and
// testable — a caller can assert on the rule, not just the message text.
const (
	RuleNonEmptySteps     = "non_empty_steps"
	RuleUniqueIDs         = "unique_ids"
	RuleUnknownTask       = "unknown_task"
	RuleMissingParams     = "missing_params"
	RuleDanglingDependency = "dangling_dependency"
	RuleCycle             = "cycle"
	RuleContentFromDep    = "content_from_not_in_dependencies"
	RuleInvalidFilename   = "invalid_filename"
)

// InvalidPlan reports the first structural rule a Plan violates.
type InvalidPlan struct {
	Rule    string
	Message string
	StepIDs []string
}

func (e *InvalidPlan) Error() string {
	if len(e.StepIDs) > 0 {
		return fmt.Sprintf("invalid plan (%s): %s [%s]", e.Rule, e.Message, strings.Join(e.StepIDs, ", "))
	}
	return fmt.Sprintf("invalid plan (%s): %s", e.Rule, e.Message)
}

func invalid(rule, message string, stepIDs ...string) *InvalidPlan {
	return &InvalidPlan{Rule: rule, Message: message, StepIDs: stepIDs}
}

// Validate runs every structural check from the plan model spec, in order,
// and returns the first violation found as an *InvalidPlan. A nil return
// means the Plan is safe to hand to package graph. Validate never panics —
// malformed input (bad params JSON, nil slices) is reported as InvalidPlan,
// not as a runtime error.
func Validate(p *Plan) error {
	if p == nil || len(p.Steps) == 0 {
		return invalid(RuleNonEmptySteps, "plan must contain at least one step")
	}

	byID := make(map[string]*Step, len(p.Steps))
	for i := range p.Steps {
		s := &p.Steps[i]
		if s.ID == "" {
			return invalid(RuleUniqueIDs, "step id must not be empty")
		}
		if _, exists := byID[s.ID]; exists {
			return invalid(RuleUniqueIDs, "duplicate step id", s.ID)
		}
		byID[s.ID] = s
	}

	for _, s := range p.Steps {
		if err := validateTaskAndParams(s); err != nil {
			return err
		}
	}

	for _, s := range p.Steps {
		for _, dep := range s.Dependencies {
			if _, ok := byID[dep]; !ok {
				return invalid(RuleDanglingDependency,
					fmt.Sprintf("step %q depends on unknown step %q", s.ID, dep), s.ID, dep)
			}
		}
	}

	if err := checkAcyclic(p.Steps, byID); err != nil {
		return err
	}

	for _, s := range p.Steps {
		if s.Task != TaskCreateFile {
			continue
		}
		var params CreateFileParams
		_ = json.Unmarshal(s.Params, &params)
		if params.ContentFrom == "" {
			continue
		}
		ref := strings.TrimSuffix(params.ContentFrom, ".output")
		if !contains(s.Dependencies, ref) {
			return invalid(RuleContentFromDep,
				fmt.Sprintf("step %q references content_from %q but does not declare it as a dependency", s.ID, params.ContentFrom),
				s.ID, ref)
		}
		if err := ValidateFilename(params.Filename); err != nil {
			return invalid(RuleInvalidFilename, err.Error(), s.ID)
		}
	}

	return nil
}

func validateTaskAndParams(s Step) error {
	switch s.Task {
	case TaskRunGemini:
		var params RunGeminiParams
		if err := json.Unmarshal(s.Params, &params); err != nil {
			return invalid(RuleMissingParams, "run_gemini step has malformed params", s.ID)
		}
		prompt := strings.TrimSpace(params.Prompt)
		if prompt == "" {
			return invalid(RuleMissingParams, "run_gemini step requires a non-empty prompt", s.ID)
		}
		if len(prompt) > MaxPromptLength {
			return invalid(RuleMissingParams,
				fmt.Sprintf("run_gemini prompt exceeds %d characters", MaxPromptLength), s.ID)
		}
		return nil
	case TaskCreateFile:
		var params CreateFileParams
		if err := json.Unmarshal(s.Params, &params); err != nil {
			return invalid(RuleMissingParams, "create_file step has malformed params", s.ID)
		}
		if params.Filename == "" {
			return invalid(RuleMissingParams, "create_file step requires a filename", s.ID)
		}
		hasFrom := params.ContentFrom != ""
		hasLiteral := params.Content != ""
		if hasFrom == hasLiteral {
			return invalid(RuleMissingParams,
				"create_file step must set exactly one of content_from or content", s.ID)
		}
		if err := ValidateFilename(params.Filename); err != nil {
			return invalid(RuleInvalidFilename, err.Error(), s.ID)
		}
		return nil
	default:
		return invalid(RuleUnknownTask, fmt.Sprintf("unknown task kind %q", s.Task), s.ID)
	}
}

// dfsColor tracks DFS visitation state for cycle detection: white (unseen),
// gray (on the current recursion stack), black (fully explored). A back
// edge into a gray node is a cycle. Mirrors the classic DFS white/gray/black
// coloring used for dependency-graph cycle checks.
type dfsColor int

const (
	white dfsColor = iota
	gray
	black
)

func checkAcyclic(steps []Step, byID map[string]*Step) error {
	colors := make(map[string]dfsColor, len(steps))
	for _, s := range steps {
		colors[s.ID] = white
	}

	var stack []string
	var visit func(id string) error
	visit = func(id string) error {
		colors[id] = gray
		stack = append(stack, id)

		for _, dep := range byID[id].Dependencies {
			switch colors[dep] {
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			case gray:
				cycle := append(append([]string{}, stack...), dep)
				return invalid(RuleCycle, "dependency graph contains a cycle", cycle...)
			case black:
				// already fully explored via another path, safe
			}
		}

		stack = stack[:len(stack)-1]
		colors[id] = black
		return nil
	}

	for _, s := range steps {
		if colors[s.ID] == white {
			if err := visit(s.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}
