// Package executor runs a graph.Graph to completion — the graph executor
// (C6), the heart of the system. It bounds concurrency with a semaphore,
// enforces an overall timeout, fails fast on the first task error, and
// extracts results by walking the plan in declaration order and checking
// which output keys actually got written.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/driftkit/taskgraph/core"
	"github.com/driftkit/taskgraph/graph"
)

// KindTaskExecutionFailed is the core.TaskGraphError.Kind for a step that
// failed at run time.
const KindTaskExecutionFailed = "TaskExecutionFailed"

// KindTimeout is the Kind surfaced when the overall plan_timeout_secs
// bound is exceeded.
const KindTimeout = "Timeout"

// StepEvent reports one step's terminal outcome as soon as it occurs, for
// callers (the SSE layer) that want to stream step_complete/step_error
// events as they happen rather than waiting for the whole run to finish.
type StepEvent struct {
	StepID  string
	Ordinal int
	Success bool
	Output  string
	Err     error
}

// StepResult is one step's outcome after a completed (or fail-fast-ended)
// run, in plan declaration order.
type StepResult struct {
	StepID  string
	Ordinal int
	Success bool
	Output  string
	Err     error
}

// Result is the overall outcome of one Run.
type Result struct {
	SessionID       string
	Success         bool
	TotalSteps      int
	SuccessfulSteps int
	StepResults     []StepResult
	// Err is the first failure encountered (TaskExecutionFailed or
	// Timeout), nil when Success is true.
	Err error
}

// Options configures one Run.
type Options struct {
	MaxParallelTasks int
	Timeout          time.Duration
	WorkingDir       string
	// OnStepEvent, if set, is invoked exactly once per step that actually
	// started running, as soon as that step finishes. It is never called
	// for a step skipped by fail-fast.
	OnStepEvent func(StepEvent)
}

// Executor runs graphs. A single Executor is safe to reuse across runs —
// all per-run state lives in a run's own execContext and nodeState table.
type Executor struct {
	logger  core.Logger
	tracer  core.Telemetry
	session SessionStore
}

// New builds an Executor. session may be nil, in which case an
// InMemorySessionStore is used.
func New(logger core.Logger, tracer core.Telemetry, session SessionStore) *Executor {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if tracer == nil {
		tracer = &core.NoOpTelemetry{}
	}
	if session == nil {
		session = NewInMemorySessionStore()
	}
	return &Executor{logger: logger, tracer: tracer, session: session}
}

type nodeOutcome struct {
	succeeded bool
	output    string
	err       error
}

// Run executes g to completion, respecting opts.MaxParallelTasks and
// opts.Timeout, and returns the ordered step results plus the overall
// outcome.
func (e *Executor) Run(ctx context.Context, g *graph.Graph, opts Options) *Result {
	sessionID := uuid.NewString()
	ctx, span := e.tracer.StartSpan(ctx, "executor.Run")
	defer span.End()
	span.SetAttribute("session.id", sessionID)
	span.SetAttribute("step_count", len(g.Order))

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	execCtx := newExecContext(opts.WorkingDir)

	maxParallel := opts.MaxParallelTasks
	if maxParallel < 1 {
		maxParallel = 1
	}
	sem := make(chan struct{}, maxParallel)

	done := make(map[string]chan struct{}, len(g.Order))
	for _, id := range g.Order {
		done[id] = make(chan struct{})
	}

	outcomes := make(map[string]*nodeOutcome, len(g.Order))
	var outcomesMu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)

	for i, id := range g.Order {
		id := id
		ordinal := i + 1
		node := g.Nodes[id]

		group.Go(func() error {
			defer close(done[id])

			for _, dep := range node.Dependencies {
				select {
				case <-done[dep]:
				case <-groupCtx.Done():
					return nil
				}
			}

			outcomesMu.Lock()
			for _, dep := range node.Dependencies {
				if o := outcomes[dep]; o != nil && !o.succeeded {
					outcomesMu.Unlock()
					return nil
				}
			}
			outcomesMu.Unlock()

			select {
			case sem <- struct{}{}:
			case <-groupCtx.Done():
				return nil
			}
			defer func() { <-sem }()

			select {
			case <-groupCtx.Done():
				return nil
			default:
			}

			output, err := node.Task.Run(groupCtx, execCtx)

			outcomesMu.Lock()
			outcomes[id] = &nodeOutcome{succeeded: err == nil, output: output, err: err}
			outcomesMu.Unlock()

			if err != nil {
				wrapped := core.NewTaskGraphError("executor.Run", KindTaskExecutionFailed, err)
				wrapped.ID = id
				if opts.OnStepEvent != nil {
					opts.OnStepEvent(StepEvent{StepID: id, Ordinal: ordinal, Success: false, Err: wrapped})
				}
				return wrapped
			}

			execCtx.Set(node.ID+".output", output)
			if opts.OnStepEvent != nil {
				opts.OnStepEvent(StepEvent{StepID: id, Ordinal: ordinal, Success: true, Output: output})
			}
			return nil
		})
	}

	runErr := group.Wait()

	// An overall deadline firing takes priority over whatever incidental
	// task error a cancelled-context task returned: the root cause is the
	// timeout, not that task's context.Canceled/DeadlineExceeded result.
	if ctx.Err() == context.DeadlineExceeded {
		runErr = core.NewTaskGraphError("executor.Run", KindTimeout, fmt.Errorf("execution exceeded %s", opts.Timeout))
	}

	results := make([]StepResult, 0, len(g.Order))
	successCount := 0
	for i, id := range g.Order {
		output, ok := execCtx.Get(id + ".output")
		sr := StepResult{StepID: id, Ordinal: i + 1}
		if ok {
			sr.Success = true
			sr.Output = output
			successCount++
		} else {
			sr.Success = false
			sr.Err = fmt.Errorf("step %d (%s) did not produce output", i+1, id)
		}
		results = append(results, sr)
	}

	overallSuccess := runErr == nil && successCount == len(g.Order)

	if err := e.session.Save(context.Background(), sessionID, execCtx.snapshot()); err != nil {
		e.logger.Warn("failed to persist session snapshot", map[string]interface{}{"error": err.Error()})
	}

	if runErr != nil {
		span.RecordError(runErr)
	}

	return &Result{
		SessionID:       sessionID,
		Success:         overallSuccess,
		TotalSteps:      len(g.Order),
		SuccessfulSteps: successCount,
		StepResults:     results,
		Err:             runErr,
	}
}
