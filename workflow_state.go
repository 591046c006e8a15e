package main

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ========================================
// ExecutionStateStore - 执行状态存储
// ========================================
// Owns the mutable execution context of one run. All mutation goes through
// the store's methods; every consumer outside the runner reads snapshots.
// Pure in-memory state plus notification fan-out, no device I/O.

// ContextListener receives a full snapshot on every mutation.
type ContextListener func(ExecutionContext)

// StatusSyncFunc propagates a single node status change across the process
// boundary before local subscribers are notified.
type StatusSyncFunc func(nodeID string, status NodeStatus)

// ExecutionStateStore holds the execution context for one in-flight or
// most-recent run.
type ExecutionStateStore struct {
	mu         sync.Mutex
	ctx        ExecutionContext
	listeners  map[int]ContextListener
	nextID     int
	statusSync StatusSyncFunc
}

// NewExecutionStateStore creates a store with an idle baseline context.
func NewExecutionStateStore() *ExecutionStateStore {
	return &ExecutionStateStore{
		ctx:       emptyContext(),
		listeners: make(map[int]ContextListener),
	}
}

func emptyContext() ExecutionContext {
	return ExecutionContext{
		IsRunning:     false,
		CurrentNodeID: "",
		NodeStatuses:  make(map[string]NodeStatus),
		ExecutionLog:  []LogEntry{},
		Variables:     make(map[string]interface{}),
	}
}

// SetStatusSync registers the external status-sync callback. Pass nil to
// clear it.
func (s *ExecutionStateStore) SetStatusSync(fn StatusSyncFunc) {
	s.mu.Lock()
	s.statusSync = fn
	s.mu.Unlock()
}

// Reset clears the context back to the idle baseline and notifies
// subscribers.
func (s *ExecutionStateStore) Reset() {
	s.mu.Lock()
	s.ctx = emptyContext()
	s.notifyLocked()
}

// SetRunning flips the running flag.
func (s *ExecutionStateStore) SetRunning(running bool) {
	s.mu.Lock()
	s.ctx.IsRunning = running
	s.notifyLocked()
}

// SetCurrentNode updates the node the runner is positioned at. An empty id
// means no current node.
func (s *ExecutionStateStore) SetCurrentNode(nodeID string) {
	s.mu.Lock()
	s.ctx.CurrentNodeID = nodeID
	s.notifyLocked()
}

// UpdateNodeStatus sets one node's status. The external sync callback, when
// registered, fires before local subscribers see the change.
func (s *ExecutionStateStore) UpdateNodeStatus(nodeID string, status NodeStatus) {
	s.mu.Lock()
	s.ctx.NodeStatuses[nodeID] = status
	sync := s.statusSync
	if sync != nil {
		// Release the lock around the external callback so it can read
		// back through the store without deadlocking.
		s.mu.Unlock()
		sync(nodeID, status)
		s.mu.Lock()
	}
	s.notifyLocked()
}

// UpdateMultipleNodeStatuses applies a batch of status changes with a single
// notification.
func (s *ExecutionStateStore) UpdateMultipleNodeStatuses(statuses map[string]NodeStatus) {
	s.mu.Lock()
	for id, st := range statuses {
		s.ctx.NodeStatuses[id] = st
	}
	s.notifyLocked()
}

// AddExecutionLog stamps the entry with a unique id and a timestamp, appends
// it and notifies. Timestamps are monotone within a run even if the wall
// clock steps backwards.
func (s *ExecutionStateStore) AddExecutionLog(entry LogEntry) LogEntry {
	s.mu.Lock()
	entry.ID = uuid.New().String()
	entry.Timestamp = time.Now()
	if n := len(s.ctx.ExecutionLog); n > 0 {
		if last := s.ctx.ExecutionLog[n-1].Timestamp; entry.Timestamp.Before(last) {
			entry.Timestamp = last
		}
	}
	s.ctx.ExecutionLog = append(s.ctx.ExecutionLog, entry)
	s.notifyLocked()
	return entry
}

// UpdateVariables shallow-merges the given values into the run variables.
func (s *ExecutionStateStore) UpdateVariables(vars map[string]interface{}) {
	s.mu.Lock()
	for k, v := range vars {
		s.ctx.Variables[k] = v
	}
	s.notifyLocked()
}

// ========================================
// Single-node execution transitions
// ========================================
// Debug-style execution of one node is always a self-contained run: start
// marks the node running, completion or failure returns the context to the
// idle baseline regardless of other nodes' statuses.

// StartSingleNodeExecution marks the node as the sole running node.
func (s *ExecutionStateStore) StartSingleNodeExecution(nodeID string) {
	s.mu.Lock()
	s.ctx.IsRunning = true
	s.ctx.CurrentNodeID = nodeID
	s.ctx.NodeStatuses[nodeID] = StatusRunning
	s.appendLogLocked(LogEntry{
		NodeID:  nodeID,
		Status:  StatusRunning,
		Message: "single-node execution started",
	})
	s.notifyLocked()
}

// CompleteSingleNodeExecution records success and returns to idle.
func (s *ExecutionStateStore) CompleteSingleNodeExecution(nodeID string, result interface{}) {
	s.mu.Lock()
	s.ctx.NodeStatuses[nodeID] = StatusSuccess
	s.ctx.IsRunning = false
	s.ctx.CurrentNodeID = ""
	s.appendLogLocked(LogEntry{
		NodeID:  nodeID,
		Status:  StatusSuccess,
		Message: "single-node execution completed",
		Result:  result,
	})
	s.notifyLocked()
}

// FailSingleNodeExecution records failure and returns to idle.
func (s *ExecutionStateStore) FailSingleNodeExecution(nodeID string, errMsg string) {
	s.mu.Lock()
	s.ctx.NodeStatuses[nodeID] = StatusError
	s.ctx.IsRunning = false
	s.ctx.CurrentNodeID = ""
	s.appendLogLocked(LogEntry{
		NodeID:  nodeID,
		Status:  StatusError,
		Message: "single-node execution failed",
		Error:   errMsg,
	})
	s.notifyLocked()
}

// appendLogLocked stamps and appends without notifying; the caller holds the
// lock and notifies once.
func (s *ExecutionStateStore) appendLogLocked(entry LogEntry) {
	entry.ID = uuid.New().String()
	entry.Timestamp = time.Now()
	if n := len(s.ctx.ExecutionLog); n > 0 {
		if last := s.ctx.ExecutionLog[n-1].Timestamp; entry.Timestamp.Before(last) {
			entry.Timestamp = last
		}
	}
	s.ctx.ExecutionLog = append(s.ctx.ExecutionLog, entry)
}

// ========================================
// Cross-boundary reconciliation
// ========================================

// UpdateFromExecutionContext reconciles local state from an externally
// serialized context. If the snapshot claims a node is currently running but
// its explicit status update has not arrived yet, the status is forced to
// running (self-healing against the snapshot race).
func (s *ExecutionStateStore) UpdateFromExecutionContext(ext ExecutionContext) {
	s.mu.Lock()
	s.ctx.IsRunning = ext.IsRunning
	s.ctx.CurrentNodeID = ext.CurrentNodeID

	s.ctx.Variables = make(map[string]interface{}, len(ext.Variables))
	for k, v := range ext.Variables {
		s.ctx.Variables[k] = v
	}

	s.ctx.NodeStatuses = make(map[string]NodeStatus, len(ext.NodeStatuses))
	for id, st := range ext.NodeStatuses {
		s.ctx.NodeStatuses[id] = st
	}

	s.ctx.ExecutionLog = make([]LogEntry, len(ext.ExecutionLog))
	copy(s.ctx.ExecutionLog, ext.ExecutionLog)

	if s.ctx.IsRunning && s.ctx.CurrentNodeID != "" {
		s.ctx.NodeStatuses[s.ctx.CurrentNodeID] = StatusRunning
	}
	s.notifyLocked()
}

// ========================================
// Subscriptions and reads
// ========================================

// Subscribe registers a listener and returns its unsubscribe function.
// Unsubscribing mid-notification is safe and does not affect other
// listeners.
func (s *ExecutionStateStore) Subscribe(listener ContextListener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// GetNodeStatus returns one node's status, defaulting to idle.
func (s *ExecutionStateStore) GetNodeStatus(nodeID string) NodeStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.ctx.NodeStatuses[nodeID]; ok {
		return st
	}
	return StatusIdle
}

// GetAllNodeStatuses returns a defensive copy of the status map.
func (s *ExecutionStateStore) GetAllNodeStatuses() map[string]NodeStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]NodeStatus, len(s.ctx.NodeStatuses))
	for id, st := range s.ctx.NodeStatuses {
		out[id] = st
	}
	return out
}

// Snapshot returns a deep copy of the execution context.
func (s *ExecutionStateStore) Snapshot() ExecutionContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *ExecutionStateStore) snapshotLocked() ExecutionContext {
	snap := ExecutionContext{
		IsRunning:     s.ctx.IsRunning,
		CurrentNodeID: s.ctx.CurrentNodeID,
		NodeStatuses:  make(map[string]NodeStatus, len(s.ctx.NodeStatuses)),
		ExecutionLog:  make([]LogEntry, len(s.ctx.ExecutionLog)),
		Variables:     make(map[string]interface{}, len(s.ctx.Variables)),
	}
	for id, st := range s.ctx.NodeStatuses {
		snap.NodeStatuses[id] = st
	}
	copy(snap.ExecutionLog, s.ctx.ExecutionLog)
	for k, v := range s.ctx.Variables {
		snap.Variables[k] = v
	}
	return snap
}

// notifyLocked builds a snapshot, releases the lock and fans it out. Every
// listener sees every snapshot; ordering between listeners is unspecified.
func (s *ExecutionStateStore) notifyLocked() {
	snap := s.snapshotLocked()
	listeners := make([]ContextListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

// Cleanup releases all subscribers and the external sync callback.
// Idempotent.
func (s *ExecutionStateStore) Cleanup() {
	s.mu.Lock()
	s.listeners = make(map[int]ContextListener)
	s.statusSync = nil
	s.mu.Unlock()
}
