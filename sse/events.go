// Package sse streams one orchestration run as Server-Sent Events — the SSE
// event stream (C7). It deliberately departs from the teacher's
// `event: <type>\ndata: <json>\n\n` framing (see ui/transports/sse/sse.go)
// in favor of the flat `data: <json>\n\n` framing with a type field inside
// the JSON payload, terminated by the literal sentinel `[DONE]` rather than
// a `done` event — the wire contract this domain's clients expect.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// EventType names the taxonomy of frames this stream emits.
type EventType string

const (
	EventPlanGenerated     EventType = "plan_generated"
	EventStepStart         EventType = "step_start"
	EventStepComplete      EventType = "step_complete"
	EventStepError         EventType = "step_error"
	EventExecutionComplete EventType = "execution_complete"
	EventExecutionError    EventType = "execution_error"

	// EventSerializationError is the fallback frame type sent when a payload
	// fails to marshal — distinct from EventExecutionError so clients can
	// tell a genuine execution failure from a framing bug in this service.
	EventSerializationError EventType = "serialization_error"
)

// PlanGeneratedPayload is the first frame of every stream.
type PlanGeneratedPayload struct {
	StepCount         int     `json:"step_count"`
	EstimatedTokens   int     `json:"estimated_tokens"`
	EstimatedTimeSecs float64 `json:"estimated_time_secs"`
}

// StepStartPayload is emitted for every step, in declaration order,
// immediately after plan_generated — decoupled from actual scheduling, so
// every step is announced even if fail-fast later prevents it from running.
type StepStartPayload struct {
	StepID     string `json:"step_id"`
	StepNumber int    `json:"step_number"`
	Task       string `json:"task"`
}

// StepCompletePayload is emitted as a step finishes successfully, in
// completion order (not declaration order).
type StepCompletePayload struct {
	StepID     string `json:"step_id"`
	StepNumber int    `json:"step_number"`
	Output     string `json:"output"`
}

// StepErrorPayload is emitted when a step fails.
type StepErrorPayload struct {
	StepID     string `json:"step_id"`
	StepNumber int    `json:"step_number"`
	Error      string `json:"error"`
}

// ExecutionCompletePayload is the terminal success frame.
type ExecutionCompletePayload struct {
	TotalSteps      int `json:"total_steps"`
	SuccessfulSteps int `json:"successful_steps"`
}

// ExecutionErrorPayload is the terminal failure frame — covers a planning
// failure, a step failure, a timeout, or a validation rejection alike;
// Kind distinguishes which.
type ExecutionErrorPayload struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// frame is the envelope every event (except the [DONE] sentinel) is
// serialized as: {"type": "...", ...payload fields flattened in}.
type frame struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"-"`
}

func (f frame) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(f.Payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	out := map[string]json.RawMessage{}
	typeJSON, _ := json.Marshal(f.Type)
	out["type"] = typeJSON
	for k, v := range fields {
		out[k] = v
	}
	return json.Marshal(out)
}

// Sentinel is the literal terminal frame every stream ends with — not a
// JSON object, so clients must special-case it rather than parsing it.
const Sentinel = "[DONE]"

// Writer serializes events to an http.ResponseWriter as they're produced,
// flushing after every frame so clients see progress in real time.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter sets the SSE response headers and returns a Writer, or an error
// if the ResponseWriter doesn't support flushing.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("sse: response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()
	return &Writer{w: w, flusher: flusher}, nil
}

// send writes one data: <json>\n\n frame. If payload fails to marshal (it
// never should, for the types this package defines, but callers may pass
// arbitrary error text), a minimal fallback frame is sent instead so the
// stream never silently drops a terminal event.
func (sw *Writer) send(eventType EventType, payload interface{}) {
	data, err := json.Marshal(frame{Type: eventType, Payload: payload})
	if err != nil {
		data, _ = json.Marshal(map[string]string{
			"type":    string(EventSerializationError),
			"message": "internal: failed to serialize event",
		})
	}
	fmt.Fprintf(sw.w, "data: %s\n\n", data)
	sw.flusher.Flush()
}

func (sw *Writer) PlanGenerated(p PlanGeneratedPayload) { sw.send(EventPlanGenerated, p) }
func (sw *Writer) StepStart(p StepStartPayload)         { sw.send(EventStepStart, p) }
func (sw *Writer) StepComplete(p StepCompletePayload)   { sw.send(EventStepComplete, p) }
func (sw *Writer) StepError(p StepErrorPayload)         { sw.send(EventStepError, p) }
func (sw *Writer) ExecutionComplete(p ExecutionCompletePayload) {
	sw.send(EventExecutionComplete, p)
}
func (sw *Writer) ExecutionError(p ExecutionErrorPayload) { sw.send(EventExecutionError, p) }

// Done writes the literal sentinel every stream must terminate with.
func (sw *Writer) Done() {
	fmt.Fprintf(sw.w, "data: %s\n\n", Sentinel)
	sw.flusher.Flush()
}
