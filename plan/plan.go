// Package plan defines the typed representation of an execution plan and
// the structural validation every plan must pass before it is allowed to
// become a graph (see package graph) or run (see package executor).
//
// A Plan is the trust boundary between an LLM's free-form JSON output and
// everything downstream: nothing in this repo executes a Plan that has not
// gone through Validate.
package plan

import "encoding/json"

// TaskKind is the closed set of task types a Step may declare. Any other
// value fails validation — there is no dynamic task-kind registration.
type TaskKind string

const (
	TaskRunGemini  TaskKind = "run_gemini"
	TaskCreateFile TaskKind = "create_file"
)

// MaxPromptLength is the longest run_gemini prompt accepted, measured after
// trimming surrounding whitespace.
const MaxPromptLength = 10000

// Step is one node of a Plan: one task invocation, its parameters, and the
// IDs of the steps it depends on.
type Step struct {
	ID           string          `json:"id"`
	Task         TaskKind        `json:"task"`
	Params       json.RawMessage `json:"params"`
	Dependencies []string        `json:"dependencies"`
}

// Plan is an ordered sequence of Steps plus a schema version. Treat a Plan
// returned by Validate as immutable; nothing in this repo mutates a Plan's
// Steps slice after validation succeeds.
type Plan struct {
	SchemaVersion string `json:"schema_version"`
	Steps         []Step `json:"steps"`
}

// RunGeminiParams is the params record for a run_gemini Step.
type RunGeminiParams struct {
	Prompt string `json:"prompt"`
}

// CreateFileParams is the params record for a create_file Step. Exactly one
// of ContentFrom or Content must be set — never both, never neither.
type CreateFileParams struct {
	Filename    string `json:"filename"`
	ContentFrom string `json:"content_from,omitempty"`
	Content     string `json:"content,omitempty"`
}

// OutputKey returns the Context key a Step writes its output under.
func OutputKey(stepID string) string {
	return stepID + ".output"
}
