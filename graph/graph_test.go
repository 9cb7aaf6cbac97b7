package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftkit/taskgraph/llm/gemini"
	"github.com/driftkit/taskgraph/plan"
)

func rawParams(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func samplePlan(t *testing.T) *plan.Plan {
	return &plan.Plan{
		SchemaVersion: "1",
		Steps: []plan.Step{
			{ID: "s1", Task: plan.TaskRunGemini, Params: rawParams(t, plan.RunGeminiParams{Prompt: "write a poem"})},
			{ID: "s2", Task: plan.TaskCreateFile, Params: rawParams(t, plan.CreateFileParams{Filename: "poem.txt", ContentFrom: "s1.output"}), Dependencies: []string{"s1"}},
		},
	}
}

func TestBuild_WiresEdgesAndStartNode(t *testing.T) {
	p := samplePlan(t)
	g, err := Build(p, &AppState{GeminiClient: gemini.NewClient("", "", "", 0)})
	require.NoError(t, err)

	assert.Equal(t, "s1", g.StartNodeID)
	require.Contains(t, g.Nodes, "s2")
	assert.Equal(t, []string{"s1"}, g.Nodes["s2"].Dependencies)
	assert.Equal(t, []string{"s2"}, g.Nodes["s1"].Dependents)

	edges := g.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, [2]string{"s1", "s2"}, edges[0])
}

func TestBuild_RejectsUnknownTaskKind(t *testing.T) {
	p := &plan.Plan{Steps: []plan.Step{{ID: "s1", Task: "launch_missiles"}}}
	_, err := Build(p, &AppState{})
	require.Error(t, err)
	var ip *plan.InvalidPlan
	require.ErrorAs(t, err, &ip)
	assert.Equal(t, plan.RuleUnknownTask, ip.Rule)
}

func TestBuild_RejectsPathTraversalAtBuildTime(t *testing.T) {
	p := &plan.Plan{Steps: []plan.Step{
		{ID: "s1", Task: plan.TaskCreateFile, Params: rawParams(t, plan.CreateFileParams{Filename: "../../etc/passwd", Content: "x"})},
	}}
	_, err := Build(p, &AppState{})
	require.Error(t, err)
	var ip *plan.InvalidPlan
	require.ErrorAs(t, err, &ip)
	assert.Equal(t, plan.RuleInvalidFilename, ip.Rule)
}

type fakeContext struct {
	values map[string]string
	dir    string
}

func newFakeContext(dir string) *fakeContext {
	return &fakeContext{values: map[string]string{}, dir: dir}
}

func (f *fakeContext) Get(key string) (string, bool) { v, ok := f.values[key]; return v, ok }
func (f *fakeContext) Set(key, value string)          { f.values[key] = value }
func (f *fakeContext) WorkingDir() string             { return f.dir }

func TestCreateFileTask_WritesLiteralContent(t *testing.T) {
	dir := t.TempDir()
	p := &plan.Plan{Steps: []plan.Step{
		{ID: "s1", Task: plan.TaskCreateFile, Params: rawParams(t, plan.CreateFileParams{Filename: "out/hello.txt", Content: "hello"})},
	}}
	g, err := Build(p, &AppState{})
	require.NoError(t, err)

	ctx := newFakeContext(dir)
	out, err := g.Nodes["s1"].Task.Run(nil, ctx)
	require.NoError(t, err)
	assert.FileExists(t, out)
}

func TestCreateFileTask_MissingContentFromInput(t *testing.T) {
	p := &plan.Plan{Steps: []plan.Step{
		{ID: "s2", Task: plan.TaskCreateFile, Params: rawParams(t, plan.CreateFileParams{Filename: "f.txt", ContentFrom: "s1.output"}), Dependencies: []string{"s1"}},
	}}
	task, err := newCreateFileTask(p.Steps[0])
	require.NoError(t, err)

	ctx := newFakeContext(t.TempDir())
	_, err = task.Run(nil, ctx)
	require.Error(t, err)
}
