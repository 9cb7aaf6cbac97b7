package httpapi

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftkit/taskgraph/bridge"
	"github.com/driftkit/taskgraph/core"
	"github.com/driftkit/taskgraph/executor"
	"github.com/driftkit/taskgraph/graph"
	"github.com/driftkit/taskgraph/llm/gemini"
	"github.com/driftkit/taskgraph/planner"
)

const validPlanJSON = `{
  "schema_version": "1",
  "steps": [
    {"id": "s1", "task": "run_gemini", "params": {"prompt": "write a poem"}, "dependencies": []},
    {"id": "s2", "task": "create_file", "params": {"filename": "poem.txt", "content_from": "s1.output"}, "dependencies": ["s1"]}
  ]
}`

func jsonCandidate(body string) string {
	quoted, _ := json.Marshal(body)
	return `{"candidates":[{"content":{"parts":[{"text":` + string(quoted) + `}]}}]}`
}

func newTestHandlers(t *testing.T, geminiHandler http.HandlerFunc) (*Handlers, *core.Config) {
	t.Helper()
	srv := httptest.NewServer(geminiHandler)
	t.Cleanup(srv.Close)

	client := gemini.NewClient("test-key", srv.URL, "gemini-2.5-flash", 5*time.Second)

	cfg, err := core.NewConfig(core.WithLogger(&core.NoOpLogger{}))
	require.NoError(t, err)

	plnr := planner.New(client, cfg.Planning.MaxGoalLength, &core.NoOpLogger{})
	appState := &graph.AppState{GeminiClient: client}
	exec := executor.New(&core.NoOpLogger{}, nil, nil)
	br := bridge.NewManager("./nonexistent-bridge.js", &core.NoOpLogger{}, nil)

	return NewHandlers(cfg, plnr, appState, exec, br), cfg
}

func TestPlan_Success(t *testing.T) {
	h, _ := newTestHandlers(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(jsonCandidate(validPlanJSON)))
	})

	req := httptest.NewRequest(http.MethodPost, "/api/plan", strings.NewReader(`{"goal":"write a poem and save it"}`))
	rec := httptest.NewRecorder()
	h.Plan(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "estimated_tokens")
	assert.Contains(t, body, "estimated_time_secs")
	assert.Contains(t, body, "bottlenecks")
}

func TestPlan_RejectsEmptyGoal(t *testing.T) {
	h, _ := newTestHandlers(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("gemini should not be called for an invalid goal")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/plan", strings.NewReader(`{"goal":"   "}`))
	rec := httptest.NewRecorder()
	h.Plan(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlan_RejectsMalformedBody(t *testing.T) {
	h, _ := newTestHandlers(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("gemini should not be called for a malformed body")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/plan", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	h.Plan(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGraph_Success(t *testing.T) {
	h, _ := newTestHandlers(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(jsonCandidate(validPlanJSON)))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/orchestrate/graph?goal=write+a+poem+and+save+it", nil)
	rec := httptest.NewRecorder()
	h.Graph(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 2, body["task_count"])
	edges, ok := body["edges"].([]interface{})
	require.True(t, ok)
	assert.Len(t, edges, 1)
}

func TestGetConfig_ReportsCurrentValues(t *testing.T) {
	h, cfg := newTestHandlers(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	rec := httptest.NewRecorder()
	h.GetConfig(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, cfg.Executor.MaxParallelTasks, body["max_parallel_tasks"])
	assert.Equal(t, cfg.Gemini.Model, body["gemini_model"])
}

func TestUpdateConfig_AppliesValidFields(t *testing.T) {
	h, _ := newTestHandlers(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/config", strings.NewReader(`{"max_parallel_tasks": 3}`))
	rec := httptest.NewRecorder()
	h.UpdateConfig(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	rec2 := httptest.NewRecorder()
	h.GetConfig(rec2, req2)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &body))
	assert.EqualValues(t, 3, body["max_parallel_tasks"])
}

func TestUpdateConfig_RejectsInvalidField(t *testing.T) {
	h, _ := newTestHandlers(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/config", strings.NewReader(`{"max_parallel_tasks": 0}`))
	rec := httptest.NewRecorder()
	h.UpdateConfig(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	rec2 := httptest.NewRecorder()
	h.GetConfig(rec2, req2)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &body))
	assert.NotEqualValues(t, 0, body["max_parallel_tasks"])
}

func TestChatSimple_RejectsEmptyMessage(t *testing.T) {
	h, _ := newTestHandlers(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/simple", strings.NewReader(`{"message":""}`))
	rec := httptest.NewRecorder()
	h.ChatSimple(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrchestrate_StreamsFramesEndingInSentinel(t *testing.T) {
	callCount := 0
	h, _ := newTestHandlers(t, func(w http.ResponseWriter, r *http.Request) {
		callCount++
		if callCount == 1 {
			w.Write([]byte(jsonCandidate(validPlanJSON)))
			return
		}
		w.Write([]byte(jsonCandidate("Roses are red")))
	})

	req := httptest.NewRequest(http.MethodPost, "/api/orchestrate", strings.NewReader(`{"goal":"write a poem and save it"}`))
	rec := httptest.NewRecorder()
	h.Orchestrate(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	var lastData string
	scanner := bufio.NewScanner(bytes.NewReader(rec.Body.Bytes()))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			lastData = strings.TrimPrefix(line, "data: ")
		}
	}
	assert.Equal(t, "[DONE]", lastData)
}
