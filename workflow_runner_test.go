package main

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// ==================== Runner Helpers ====================

func waitForRun(t *testing.T, r *WorkflowRunner) {
	t.Helper()
	done := r.Done()
	if done == nil {
		t.Fatal("Runner has no done channel, run never started")
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not finish in time")
	}
}

// ==================== Full Run Tests ====================

func TestRunner_LinearRunCompletes(t *testing.T) {
	fake := newFakeActions()
	store := NewExecutionStateStore()
	runner := NewWorkflowRunner(fake, store, t.TempDir())
	runner.executor.pollInterval = 5 * time.Millisecond

	nodes := []Node{
		{ID: "s", Type: NodeStart, Config: NodeConfig{Start: &StartConfig{Package: "com.example.app"}}},
		linearNode("c1", NodeClick),
		linearNode("end", NodeClose),
	}
	edges := []Edge{
		edge("e1", "s", "c1", ""),
		edge("e2", "c1", "end", ""),
	}

	if err := runner.Start(nodes, edges, "dev-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForRun(t, runner)

	if runner.State() != RunCompleted {
		t.Fatalf("Expected RunCompleted, got %s", runner.State())
	}

	snap := store.Snapshot()
	if snap.IsRunning {
		t.Error("Store must not be running after completion")
	}
	if snap.CurrentNodeID != "" {
		t.Errorf("Current node must clear on completion, got %q", snap.CurrentNodeID)
	}
	for _, id := range []string{"s", "c1", "end"} {
		if snap.NodeStatuses[id] != StatusSuccess {
			t.Errorf("Expected %s success, got %s", id, snap.NodeStatuses[id])
		}
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.launched) != 1 || fake.launched[0] != "com.example.app" {
		t.Errorf("Start node must launch its package, got %v", fake.launched)
	}
	if len(fake.stopped) != 1 {
		t.Errorf("Close node must stop its package, got %v", fake.stopped)
	}
}

func TestRunner_RejectsInvalidGraphWithoutStarting(t *testing.T) {
	fake := newFakeActions()
	store := NewExecutionStateStore()
	runner := NewWorkflowRunner(fake, store, t.TempDir())

	// Two start nodes
	nodes := []Node{
		{ID: "s1", Type: NodeStart},
		{ID: "s2", Type: NodeStart},
	}

	err := runner.Start(nodes, nil, "dev-1")
	if err == nil {
		t.Fatal("Expected validation error")
	}
	if runner.State() != RunIdle {
		t.Errorf("Rejected run must stay idle, got %s", runner.State())
	}
	if store.Snapshot().IsRunning {
		t.Error("Store must not be marked running for a rejected run")
	}
	if len(store.Snapshot().ExecutionLog) != 0 {
		t.Error("Rejected run must not produce log entries")
	}
}

func TestRunner_FailedNodeFailsRun(t *testing.T) {
	fake := newFakeActions()
	fake.tapErr = errors.New("device disconnected")
	store := NewExecutionStateStore()
	runner := NewWorkflowRunner(fake, store, t.TempDir())

	nodes := []Node{
		{ID: "s", Type: NodeStart},
		linearNode("c1", NodeClick),
		linearNode("never", NodeClose),
	}
	edges := []Edge{
		edge("e1", "s", "c1", ""),
		edge("e2", "c1", "never", ""),
	}

	if err := runner.Start(nodes, edges, "dev-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForRun(t, runner)

	if runner.State() != RunFailed {
		t.Fatalf("Expected RunFailed, got %s", runner.State())
	}

	snap := store.Snapshot()
	if snap.NodeStatuses["c1"] != StatusError {
		t.Errorf("Failing node must end in error, got %s", snap.NodeStatuses["c1"])
	}
	if _, visited := snap.NodeStatuses["never"]; visited {
		t.Error("Nodes after the failure must not be visited")
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.stopped) != 0 {
		t.Error("Close node must not run after an upstream failure")
	}
}

func TestRunner_LoopCountRunsBodyThreeTimes(t *testing.T) {
	fake := newFakeActions()
	store := NewExecutionStateStore()
	runner := NewWorkflowRunner(fake, store, t.TempDir())

	nodes, edges := countLoopGraph(3)

	if err := runner.Start(nodes, edges, "dev-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForRun(t, runner)

	if runner.State() != RunCompleted {
		t.Fatalf("Expected RunCompleted, got %s", runner.State())
	}
	if got := fake.tapCount(); got != 3 {
		t.Errorf("Expected loop body (tap) 3 times, got %d", got)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.stopped) != 1 {
		t.Error("Node after the loop must run exactly once")
	}
}

func TestRunner_StopAbortsDuringWait(t *testing.T) {
	fake := newFakeActions()
	store := NewExecutionStateStore()
	runner := NewWorkflowRunner(fake, store, t.TempDir())
	runner.executor.pollInterval = 10 * time.Millisecond

	nodes := []Node{
		{ID: "s", Type: NodeStart},
		{ID: "w", Type: NodeWait, Config: NodeConfig{Wait: &WaitConfig{
			Duration: 30_000,
			WaitType: "arise",
			Selector: &ElementSelector{Type: "text", Value: "Never"},
		}}},
		linearNode("never", NodeClose),
	}
	edges := []Edge{
		edge("e1", "s", "w", ""),
		edge("e2", "w", "never", ""),
	}

	if err := runner.Start(nodes, edges, "dev-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	runner.Stop()
	waitForRun(t, runner)

	if runner.State() != RunAborted {
		t.Fatalf("Expected RunAborted, got %s", runner.State())
	}
	snap := store.Snapshot()
	if snap.IsRunning {
		t.Error("Store must not be running after an abort")
	}
	if _, visited := snap.NodeStatuses["never"]; visited {
		t.Error("Nodes after the abort point must not be visited")
	}
}

func TestRunner_SecondStartRejected(t *testing.T) {
	fake := newFakeActions()
	store := NewExecutionStateStore()
	runner := NewWorkflowRunner(fake, store, t.TempDir())

	nodes := []Node{
		{ID: "s", Type: NodeStart},
		{ID: "w", Type: NodeWait, Config: NodeConfig{Wait: &WaitConfig{Duration: 2000}}},
	}
	edges := []Edge{edge("e1", "s", "w", "")}

	if err := runner.Start(nodes, edges, "dev-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		runner.Stop()
		waitForRun(t, runner)
	}()

	time.Sleep(20 * time.Millisecond)
	err := runner.Start(nodes, edges, "dev-1")
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("Expected ErrAlreadyRunning, got %v", err)
	}
}

func TestRunner_OnFinishSummary(t *testing.T) {
	fake := newFakeActions()
	store := NewExecutionStateStore()
	runner := NewWorkflowRunner(fake, store, t.TempDir())

	var summary RunSummary
	got := make(chan struct{})
	runner.SetOnFinish(func(s RunSummary) {
		summary = s
		close(got)
	})

	nodes := []Node{
		{ID: "s", Type: NodeStart},
		linearNode("c1", NodeClick),
	}
	edges := []Edge{edge("e1", "s", "c1", "")}

	if err := runner.Start(nodes, edges, "dev-7"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForRun(t, runner)

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("onFinish hook never fired")
	}

	if summary.RunID == "" {
		t.Error("Summary must carry a run id")
	}
	if summary.ConnectionKey != "dev-7" {
		t.Errorf("Expected connection key dev-7, got %q", summary.ConnectionKey)
	}
	if summary.State != RunCompleted {
		t.Errorf("Expected completed state, got %s", summary.State)
	}
	if summary.NodeCount != 2 {
		t.Errorf("Expected node count 2, got %d", summary.NodeCount)
	}
	if len(summary.Log) == 0 {
		t.Error("Summary must carry the execution log")
	}
	if summary.FinishedAt.Before(summary.StartedAt) {
		t.Error("FinishedAt must not precede StartedAt")
	}
}

// ==================== Single-Node Execution Tests ====================

func TestRunner_SingleNodeSuccess(t *testing.T) {
	fake := newFakeActions()
	store := NewExecutionStateStore()
	runner := NewWorkflowRunner(fake, store, t.TempDir())

	node := linearNode("c1", NodeClick)
	if err := runner.ExecuteSingleNode(node, "dev-1"); err != nil {
		t.Fatalf("Expected success, got %v", err)
	}

	snap := store.Snapshot()
	if snap.IsRunning {
		t.Error("Store must return to idle after single-node execution")
	}
	if snap.NodeStatuses["c1"] != StatusSuccess {
		t.Errorf("Expected success status, got %s", snap.NodeStatuses["c1"])
	}
	if len(snap.ExecutionLog) != 2 {
		t.Fatalf("Single-node success must produce exactly 2 log entries, got %d", len(snap.ExecutionLog))
	}
	if got := fake.tapCount(); got != 1 {
		t.Errorf("Expected exactly one tap, got %d", got)
	}
}

func TestRunner_SingleNodeFailure(t *testing.T) {
	fake := newFakeActions()
	fake.tapErr = errors.New("boom")
	store := NewExecutionStateStore()
	runner := NewWorkflowRunner(fake, store, t.TempDir())

	node := linearNode("c1", NodeClick)
	err := runner.ExecuteSingleNode(node, "dev-1")
	if err == nil {
		t.Fatal("Expected failure")
	}

	snap := store.Snapshot()
	if snap.NodeStatuses["c1"] != StatusError {
		t.Errorf("Expected error status, got %s", snap.NodeStatuses["c1"])
	}
	last := snap.ExecutionLog[len(snap.ExecutionLog)-1]
	if !strings.Contains(last.Error, "boom") {
		t.Errorf("Expected failure message to surface, got %q", last.Error)
	}
	if snap.IsRunning {
		t.Error("Store must return to idle after a failed single-node execution")
	}
}

func TestRunner_SingleNodeConfigError(t *testing.T) {
	fake := newFakeActions()
	store := NewExecutionStateStore()
	runner := NewWorkflowRunner(fake, store, t.TempDir())

	node := Node{ID: "bad", Type: NodeClick, Config: NodeConfig{Click: &ClickConfig{}}}
	err := runner.ExecuteSingleNode(node, "dev-1")

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected ConfigError, got %v", err)
	}
	if got := fake.tapCount(); got != 0 {
		t.Errorf("Config error must not touch the device, got %d taps", got)
	}
	if store.GetNodeStatus("bad") != StatusError {
		t.Errorf("Expected error status, got %s", store.GetNodeStatus("bad"))
	}
}

func TestRunner_SingleNodeRejectedWhileRunning(t *testing.T) {
	fake := newFakeActions()
	store := NewExecutionStateStore()
	runner := NewWorkflowRunner(fake, store, t.TempDir())

	nodes := []Node{
		{ID: "s", Type: NodeStart},
		{ID: "w", Type: NodeWait, Config: NodeConfig{Wait: &WaitConfig{Duration: 2000}}},
	}
	edges := []Edge{edge("e1", "s", "w", "")}

	if err := runner.Start(nodes, edges, "dev-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		runner.Stop()
		waitForRun(t, runner)
	}()

	time.Sleep(20 * time.Millisecond)
	err := runner.ExecuteSingleNode(linearNode("c1", NodeClick), "dev-1")
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("Expected ErrAlreadyRunning, got %v", err)
	}
}
