package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ========================================
// WorkflowRunner - run lifecycle
// ========================================
// Top-level orchestrator: Idle → Running → {Completed, Failed, Aborted}.
// One node executes at a time; cancellation is cooperative and observed at
// the dispatch suspension points. A second run cannot start while one is in
// flight.

// RunState is the lifecycle state of the runner.
type RunState string

const (
	RunIdle      RunState = "idle"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunAborted   RunState = "aborted"
)

// Safety limit on visited nodes per run, independent of per-loop ceilings.
const maxRunSteps = 2000

// RunSummary describes a finished run for history persistence and UI
// events.
type RunSummary struct {
	RunID         string                `json:"runId"`
	ConnectionKey string                `json:"connectionKey"`
	State         RunState              `json:"state"`
	StartedAt     time.Time             `json:"startedAt"`
	FinishedAt    time.Time             `json:"finishedAt"`
	NodeCount     int                   `json:"nodeCount"`
	Error         string                `json:"error,omitempty"`
	Log           []LogEntry            `json:"log"`
	NodeStatuses  map[string]NodeStatus `json:"nodeStatuses"`
}

// WorkflowRunner drives the graph walker + node dispatch loop.
type WorkflowRunner struct {
	actions  DeviceActions
	store    *ExecutionStateStore
	expr     *ExprEvaluator
	executor *NodeExecutor

	mu        sync.Mutex
	state     RunState
	cancel    context.CancelFunc
	done      chan struct{}
	runID     string
	startedAt time.Time

	onFinish func(RunSummary)
}

// NewWorkflowRunner wires the runner to its collaborators. The store is
// passed by reference and owned by the caller's lifecycle.
func NewWorkflowRunner(actions DeviceActions, store *ExecutionStateStore, screenshotDir string) *WorkflowRunner {
	expr := NewExprEvaluator()
	return &WorkflowRunner{
		actions:  actions,
		store:    store,
		expr:     expr,
		executor: NewNodeExecutor(actions, store, screenshotDir),
		state:    RunIdle,
	}
}

// SetOnFinish registers a hook invoked after every finished run (full runs
// only, not single-node executions).
func (r *WorkflowRunner) SetOnFinish(fn func(RunSummary)) {
	r.mu.Lock()
	r.onFinish = fn
	r.mu.Unlock()
}

// State returns the runner's lifecycle state.
func (r *WorkflowRunner) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Done returns a channel closed when the current run finishes. Nil when no
// run was started.
func (r *WorkflowRunner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Start validates the graph and launches the run loop. Validation failures
// reject the call and the run never leaves Idle.
func (r *WorkflowRunner) Start(nodes []Node, edges []Edge, connKey string) error {
	if connKey == "" {
		return fmt.Errorf("connection key is required")
	}

	r.mu.Lock()
	if r.state == RunRunning || r.store.Snapshot().IsRunning {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}

	walker, err := NewGraphWalker(nodes, edges, r.expr)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("invalid workflow graph: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.state = RunRunning
	r.cancel = cancel
	r.done = make(chan struct{})
	r.runID = uuid.New().String()
	r.startedAt = time.Now()
	done := r.done
	r.mu.Unlock()

	r.store.Reset()
	r.store.SetRunning(true)

	WorkflowLog().
		Str("runId", r.runID).
		Str("connectionKey", connKey).
		Int("nodes", len(nodes)).
		Msg("workflow run started")

	go func() {
		defer close(done)
		r.run(ctx, walker, connKey, len(nodes))
	}()
	return nil
}

// Stop requests a cooperative abort. The in-flight node finishes its
// current attempt before the runner halts. Stopping an idle runner is a
// no-op.
func (r *WorkflowRunner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	running := r.state == RunRunning
	r.mu.Unlock()
	if running && cancel != nil {
		WorkflowLog().Str("runId", r.runID).Msg("workflow stop requested")
		cancel()
	}
}

// run is the step loop. It asks the walker for the next node, dispatches
// it, and repeats until the graph is exhausted, a node fails terminally, or
// an abort is observed.
func (r *WorkflowRunner) run(ctx context.Context, walker *GraphWalker, connKey string, nodeCount int) {
	current := walker.Start()
	r.store.SetCurrentNode(current.ID)

	steps := 0
	for {
		res, err := r.executor.Execute(ctx, current, connKey)
		if errors.Is(err, ErrAborted) {
			r.finish(RunAborted, connKey, nodeCount, nil)
			return
		}
		if err != nil {
			r.finish(RunFailed, connKey, nodeCount, err)
			return
		}

		step, err := walker.Next(current, res.Branch, r.store.Snapshot().Variables)
		if err != nil {
			// Loop predicate evaluation failed; surface it on the loop
			// node like any other node failure.
			r.store.UpdateNodeStatus(current.ID, StatusError)
			r.store.AddExecutionLog(LogEntry{
				NodeID:  current.ID,
				Status:  StatusError,
				Message: "failed to select next node",
				Error:   err.Error(),
			})
			r.finish(RunFailed, connKey, nodeCount, err)
			return
		}
		if len(step.Vars) > 0 {
			r.store.UpdateVariables(step.Vars)
		}
		if step.NextNodeID == "" {
			r.finish(RunCompleted, connKey, nodeCount, nil)
			return
		}

		steps++
		if steps > maxRunSteps {
			err := fmt.Errorf("workflow exceeded maximum step limit (%d), possible runaway loop", maxRunSteps)
			r.finish(RunFailed, connKey, nodeCount, err)
			return
		}

		next, ok := walker.Node(step.NextNodeID)
		if !ok {
			r.finish(RunFailed, connKey, nodeCount, fmt.Errorf("walker selected unknown node %q", step.NextNodeID))
			return
		}
		current = next
		r.store.SetCurrentNode(current.ID)
	}
}

// finish records the terminal state, returns the store to the not-running
// baseline, and fires the completion hook.
func (r *WorkflowRunner) finish(state RunState, connKey string, nodeCount int, runErr error) {
	r.store.SetRunning(false)
	if state == RunCompleted {
		r.store.SetCurrentNode("")
	}

	r.mu.Lock()
	r.state = state
	r.cancel = nil
	runID := r.runID
	startedAt := r.startedAt
	onFinish := r.onFinish
	r.mu.Unlock()

	evt := WorkflowLog().Str("runId", runID).Str("state", string(state))
	if runErr != nil {
		evt = evt.Err(runErr)
	}
	evt.Msg("workflow run finished")

	if onFinish != nil {
		snap := r.store.Snapshot()
		summary := RunSummary{
			RunID:         runID,
			ConnectionKey: connKey,
			State:         state,
			StartedAt:     startedAt,
			FinishedAt:    time.Now(),
			NodeCount:     nodeCount,
			Log:           snap.ExecutionLog,
			NodeStatuses:  snap.NodeStatuses,
		}
		if runErr != nil {
			summary.Error = runErr.Error()
		}
		onFinish(summary)
	}
}

// ExecuteSingleNode runs one node in isolation (debug mode). It bypasses
// the graph walker, uses the store's self-contained single-node
// transitions, and never touches sibling nodes' statuses.
func (r *WorkflowRunner) ExecuteSingleNode(node Node, connKey string) error {
	if connKey == "" {
		return fmt.Errorf("connection key is required")
	}

	r.mu.Lock()
	if r.state == RunRunning || r.store.Snapshot().IsRunning {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Config errors are reported without touching the device or marking
	// the node running.
	if err := node.ValidateConfig(); err != nil {
		cfgErr := &ConfigError{NodeID: node.ID, Reason: err.Error()}
		r.store.FailSingleNodeExecution(node.ID, cfgErr.Error())
		return cfgErr
	}

	r.store.StartSingleNodeExecution(node.ID)
	vars := r.store.Snapshot().Variables
	res, err := r.executor.ExecuteDetached(ctx, node, connKey, vars)
	if err != nil {
		r.store.FailSingleNodeExecution(node.ID, err.Error())
		return err
	}
	r.store.CompleteSingleNodeExecution(node.ID, res.Result)
	return nil
}
