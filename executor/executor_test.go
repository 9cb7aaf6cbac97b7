package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftkit/taskgraph/core"
	"github.com/driftkit/taskgraph/graph"
)

// fakeTask is a deterministic, configurable graph.Task stub — no real
// Gemini calls, so these tests stay fast and hermetic.
type fakeTask struct {
	stepID string
	delay  time.Duration
	fail   error
	output string
	ran    *int32 // optional: incremented when Run executes
}

func (f *fakeTask) StepID() string { return f.stepID }

func (f *fakeTask) Run(ctx context.Context, execCtx graph.Context) (string, error) {
	if f.ran != nil {
		atomic.AddInt32(f.ran, 1)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.fail != nil {
		return "", f.fail
	}
	if f.output == "" {
		return f.stepID + "-out", nil
	}
	return f.output, nil
}

func buildGraph(order []string, nodes map[string]*graph.Node) *graph.Graph {
	return &graph.Graph{Nodes: nodes, Order: order, StartNodeID: order[0]}
}

func TestRun_SequentialSuccess(t *testing.T) {
	g := buildGraph([]string{"s1", "s2"}, map[string]*graph.Node{
		"s1": {ID: "s1", Task: &fakeTask{stepID: "s1"}},
		"s2": {ID: "s2", Task: &fakeTask{stepID: "s2"}, Dependencies: []string{"s1"}},
	})

	ex := New(nil, nil, nil)
	res := ex.Run(context.Background(), g, Options{MaxParallelTasks: 2, Timeout: 5 * time.Second, WorkingDir: t.TempDir()})

	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.SuccessfulSteps)
	require.Len(t, res.StepResults, 2)
	assert.Equal(t, "s1-out", res.StepResults[0].Output)
	assert.Equal(t, "s2-out", res.StepResults[1].Output)
}

func TestRun_ParallelIndependentStepsOverlap(t *testing.T) {
	g := buildGraph([]string{"a", "b"}, map[string]*graph.Node{
		"a": {ID: "a", Task: &fakeTask{stepID: "a", delay: 150 * time.Millisecond}},
		"b": {ID: "b", Task: &fakeTask{stepID: "b", delay: 150 * time.Millisecond}},
	})

	ex := New(nil, nil, nil)
	start := time.Now()
	res := ex.Run(context.Background(), g, Options{MaxParallelTasks: 2, Timeout: 5 * time.Second, WorkingDir: t.TempDir()})
	elapsed := time.Since(start)

	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Less(t, elapsed, 280*time.Millisecond, "independent steps should run concurrently, not serially")
}

func TestRun_FailFastDiamondSkipsDownstream(t *testing.T) {
	var s4Ran int32

	// s1 -> s2 (fails), s1 -> s3 (slow, ok), s2&s3 -> s4
	g := buildGraph([]string{"s1", "s2", "s3", "s4"}, map[string]*graph.Node{
		"s1": {ID: "s1", Task: &fakeTask{stepID: "s1"}},
		"s2": {ID: "s2", Task: &fakeTask{stepID: "s2", fail: fmt.Errorf("boom")}, Dependencies: []string{"s1"}},
		"s3": {ID: "s3", Task: &fakeTask{stepID: "s3", delay: 200 * time.Millisecond}, Dependencies: []string{"s1"}},
		"s4": {ID: "s4", Task: &fakeTask{stepID: "s4", ran: &s4Ran}, Dependencies: []string{"s2", "s3"}},
	})

	var mu sync.Mutex
	var events []StepEvent
	ex := New(nil, nil, nil)
	res := ex.Run(context.Background(), g, Options{
		MaxParallelTasks: 4,
		Timeout:          5 * time.Second,
		WorkingDir:       t.TempDir(),
		OnStepEvent: func(e StepEvent) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		},
	})

	require.Error(t, res.Err)
	assert.False(t, res.Success)
	assert.Equal(t, int32(0), atomic.LoadInt32(&s4Ran), "s4 must never run: a dependency failed")

	found := false
	for _, e := range events {
		if e.StepID == "s2" {
			found = true
			assert.False(t, e.Success)
		}
	}
	assert.True(t, found, "expected a step_error event for s2")

	// s4's result should report "did not produce output", not a crash.
	var s4Result *StepResult
	for i := range res.StepResults {
		if res.StepResults[i].StepID == "s4" {
			s4Result = &res.StepResults[i]
		}
	}
	require.NotNil(t, s4Result)
	assert.False(t, s4Result.Success)
	assert.Error(t, s4Result.Err)
}

func TestRun_TimeoutReportedAsKindTimeout(t *testing.T) {
	g := buildGraph([]string{"slow"}, map[string]*graph.Node{
		"slow": {ID: "slow", Task: &fakeTask{stepID: "slow", delay: 500 * time.Millisecond}},
	})

	ex := New(nil, nil, nil)
	res := ex.Run(context.Background(), g, Options{MaxParallelTasks: 1, Timeout: 50 * time.Millisecond, WorkingDir: t.TempDir()})

	require.Error(t, res.Err)
	assert.False(t, res.Success)
	assert.Equal(t, KindTimeout, core.Kind(res.Err))
}

func TestRun_MaxParallelTasksBoundsConcurrency(t *testing.T) {
	var current, max int32
	nodes := map[string]*graph.Node{}
	order := []string{}
	track := func(id string) *fakeTask {
		return &fakeTask{stepID: id, delay: 80 * time.Millisecond}
	}
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("n%d", i)
		order = append(order, id)
		nodes[id] = &graph.Node{ID: id, Task: &trackingTask{inner: track(id), current: &current, max: &max}}
	}
	g := buildGraph(order, nodes)

	ex := New(nil, nil, nil)
	res := ex.Run(context.Background(), g, Options{MaxParallelTasks: 2, Timeout: 5 * time.Second, WorkingDir: t.TempDir()})

	require.NoError(t, res.Err)
	assert.LessOrEqual(t, atomic.LoadInt32(&max), int32(2))
}

type trackingTask struct {
	inner   *fakeTask
	current *int32
	max     *int32
}

func (t *trackingTask) StepID() string { return t.inner.stepID }

func (t *trackingTask) Run(ctx context.Context, execCtx graph.Context) (string, error) {
	n := atomic.AddInt32(t.current, 1)
	for {
		m := atomic.LoadInt32(t.max)
		if n <= m || atomic.CompareAndSwapInt32(t.max, m, n) {
			break
		}
	}
	defer atomic.AddInt32(t.current, -1)
	return t.inner.Run(ctx, execCtx)
}
