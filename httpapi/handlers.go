package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/driftkit/taskgraph/bridge"
	"github.com/driftkit/taskgraph/core"
	"github.com/driftkit/taskgraph/executor"
	"github.com/driftkit/taskgraph/graph"
	"github.com/driftkit/taskgraph/optimizer"
	"github.com/driftkit/taskgraph/planner"
	"github.com/driftkit/taskgraph/sse"
)

// Handlers implements every endpoint spec.md §6 names. It holds no
// per-request state — every field is a shared, concurrency-safe
// collaborator reused across requests.
type Handlers struct {
	Planner  *planner.Planner
	AppState *graph.AppState
	Executor *executor.Executor
	Bridge   *bridge.Manager
	Logger   core.Logger

	configMu sync.RWMutex
	config   *core.Config
}

// NewHandlers wires the shared collaborators every handler needs.
func NewHandlers(cfg *core.Config, p *planner.Planner, app *graph.AppState, ex *executor.Executor, br *bridge.Manager) *Handlers {
	return &Handlers{
		Planner:  p,
		AppState: app,
		Executor: ex,
		Bridge:   br,
		Logger:   cfg.Logger(),
		config:   cfg,
	}
}

func (h *Handlers) snapshotConfig() *core.Config {
	h.configMu.RLock()
	defer h.configMu.RUnlock()
	return h.config
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type goalRequest struct {
	Goal string `json:"goal"`
}

// Orchestrate is POST /api/orchestrate: the full goal -> SSE stream
// pipeline (C3 -> C5 -> C6 -> C7).
func (h *Handlers) Orchestrate(w http.ResponseWriter, r *http.Request) {
	var req goalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	cfg := h.snapshotConfig()
	pipeline := &sse.Pipeline{
		Planner:          h.Planner,
		Executor:         h.Executor,
		AppState:         h.AppState,
		MaxParallelTasks: cfg.Executor.MaxParallelTasks,
		PlanTimeout:      cfg.Planning.PlanTimeout,
		WorkingDir:       cfg.Executor.WorkingDir,
		Logger:           h.Logger,
	}
	pipeline.Run(r.Context(), writer, req.Goal)
}

// Plan is POST /api/plan: C3 + C4 only, no execution.
func (h *Handlers) Plan(w http.ResponseWriter, r *http.Request) {
	var req goalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	p, err := h.Planner.Generate(r.Context(), req.Goal)
	if err != nil {
		statusForError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"plan":                p,
		"estimated_tokens":    optimizer.EstimateTokenUsage(p),
		"estimated_time_secs": optimizer.EstimateExecutionTime(p),
		"bottlenecks":         optimizer.AnalyzeBottlenecks(p),
	})
}

// Graph is GET /api/orchestrate/graph?goal=...: C3 + C5, a preview with no
// execution.
func (h *Handlers) Graph(w http.ResponseWriter, r *http.Request) {
	goal := r.URL.Query().Get("goal")
	p, err := h.Planner.Generate(r.Context(), goal)
	if err != nil {
		statusForError(w, err)
		return
	}

	g, err := graph.Build(p, h.AppState)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	edges := make([]map[string]string, 0, len(g.Edges()))
	for _, e := range g.Edges() {
		edges = append(edges, map[string]string{"from": e[0], "to": e[1]})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"graph_id":   g.ID,
		"task_count": len(g.Order),
		"task_ids":   g.Order,
		"edges":      edges,
	})
}

// GetConfig is GET /api/config: reads the mutable configuration subset.
func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.snapshotConfig()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"max_parallel_tasks": cfg.Executor.MaxParallelTasks,
		"gemini_model":       cfg.Gemini.Model,
		"max_goal_length":    cfg.Planning.MaxGoalLength,
		"plan_timeout_secs":  int(cfg.Planning.PlanTimeout.Seconds()),
	})
}

type configUpdateRequest struct {
	MaxParallelTasks *int    `json:"max_parallel_tasks"`
	GeminiModel      *string `json:"gemini_model"`
	MaxGoalLength    *int    `json:"max_goal_length"`
	PlanTimeoutSecs  *int    `json:"plan_timeout_secs"`
}

// UpdateConfig is POST /api/config: writes the mutable configuration
// subset, validating every field before applying any of them.
func (h *Handlers) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req configUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.MaxParallelTasks != nil && *req.MaxParallelTasks <= 0 {
		writeError(w, http.StatusBadRequest, "max_parallel_tasks must be > 0")
		return
	}
	if req.MaxGoalLength != nil && *req.MaxGoalLength <= 0 {
		writeError(w, http.StatusBadRequest, "max_goal_length must be > 0")
		return
	}
	if req.PlanTimeoutSecs != nil && *req.PlanTimeoutSecs <= 0 {
		writeError(w, http.StatusBadRequest, "plan_timeout_secs must be > 0")
		return
	}
	if req.GeminiModel != nil && *req.GeminiModel == "" {
		writeError(w, http.StatusBadRequest, "gemini_model must be non-empty")
		return
	}

	h.configMu.Lock()
	defer h.configMu.Unlock()

	updated := *h.config
	if req.MaxParallelTasks != nil {
		updated.Executor.MaxParallelTasks = *req.MaxParallelTasks
	}
	if req.GeminiModel != nil {
		updated.Gemini.Model = *req.GeminiModel
	}
	if req.MaxGoalLength != nil {
		updated.Planning.MaxGoalLength = *req.MaxGoalLength
	}
	if req.PlanTimeoutSecs != nil {
		updated.Planning.PlanTimeout = time.Duration(*req.PlanTimeoutSecs) * time.Second
	}
	h.config = &updated

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"max_parallel_tasks": updated.Executor.MaxParallelTasks,
		"gemini_model":       updated.Gemini.Model,
		"max_goal_length":    updated.Planning.MaxGoalLength,
		"plan_timeout_secs":  int(updated.Planning.PlanTimeout.Seconds()),
	})
}

type chatSimpleRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	Model          string `json:"model"`
}

// ChatSimple is POST /api/chat/simple: routes to the bridge manager (C8).
func (h *Handlers) ChatSimple(w http.ResponseWriter, r *http.Request) {
	var req chatSimpleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message must not be empty")
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = fmt.Sprintf("conv-%d", time.Now().UnixNano())
	}

	reply, err := h.Bridge.SendMessage(r.Context(), req.ConversationID, req.Message, req.Model)
	if err != nil {
		statusForError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"conversation_id": req.ConversationID,
		"reply":           reply,
	})
}

// statusForError maps a core.TaskGraphError.Kind (or a plain error) to the
// HTTP status code spec §6 names for synchronous endpoints.
func statusForError(w http.ResponseWriter, err error) {
	switch core.Kind(err) {
	case planner.KindInvalidInput:
		writeError(w, http.StatusBadRequest, err.Error())
	case planner.KindPlanningFailed:
		writeError(w, http.StatusInternalServerError, err.Error())
	case bridge.KindBridgeTimeout:
		writeError(w, http.StatusRequestTimeout, err.Error())
	case bridge.KindBridgeProcessExited, bridge.KindBridgeProtocol:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
