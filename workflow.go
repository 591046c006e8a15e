package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// safeFileName 用于把 workflow ID 转成安全文件名
var safeFileName = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// getWorkflowsPath returns the path to the workflows directory
func (a *App) getWorkflowsPath() string {
	workflowsPath := filepath.Join(a.dataDir, "workflows")
	_ = os.MkdirAll(workflowsPath, 0755)
	return workflowsPath
}

// SaveWorkflow saves a workflow to file
func (a *App) SaveWorkflow(workflow Workflow) error {
	workflowsPath := a.getWorkflowsPath()

	// Use ID as filename for uniqueness
	safeName := safeFileName.ReplaceAllString(workflow.ID, "_")
	if safeName == "" {
		safeName = fmt.Sprintf("wf_%d", time.Now().Unix())
	}

	if workflow.CreatedAt == 0 {
		workflow.CreatedAt = time.Now().UnixMilli()
	}
	workflow.UpdatedAt = time.Now().UnixMilli()

	filePath := filepath.Join(workflowsPath, safeName+".json")

	data, err := SerializeWorkflow(workflow)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	if a.workflowWatcher != nil {
		a.workflowWatcher.MuteBriefly()
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write workflow file: %w", err)
	}

	return nil
}

// LoadWorkflows loads all saved workflows
func (a *App) LoadWorkflows() ([]Workflow, error) {
	workflowsPath := a.getWorkflowsPath()

	entries, err := os.ReadDir(workflowsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Workflow{}, nil
		}
		return nil, fmt.Errorf("failed to read workflows directory: %w", err)
	}

	workflows := make([]Workflow, 0)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		filePath := filepath.Join(workflowsPath, entry.Name())
		data, err := os.ReadFile(filePath)
		if err != nil {
			continue
		}

		workflow, err := ParseWorkflow(data)
		if err != nil {
			LogWarn("workflow").Err(err).Str("file", entry.Name()).Msg("Skipping unreadable workflow file")
			continue
		}

		workflows = append(workflows, workflow)
	}

	return workflows, nil
}

// DeleteWorkflow deletes a saved workflow
func (a *App) DeleteWorkflow(id string) error {
	workflowsPath := a.getWorkflowsPath()

	safeName := safeFileName.ReplaceAllString(id, "_")
	filePath := filepath.Join(workflowsPath, safeName+".json")

	if a.workflowWatcher != nil {
		a.workflowWatcher.MuteBriefly()
	}
	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("workflow not found")
		}
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

// ========================================
// Execution - bound to the frontend
// ========================================

// ExecuteWorkflow starts a full graph run on the given device
func (a *App) ExecuteWorkflow(deviceId string, workflow Workflow) error {
	if err := ValidateDeviceID(deviceId); err != nil {
		return fmt.Errorf("invalid device ID: %w", err)
	}
	if a.workflowRunner == nil {
		return fmt.Errorf("workflow engine not initialized")
	}

	WorkflowLog().
		Str("deviceId", deviceId).
		Str("workflowId", workflow.ID).
		Int("nodes", len(workflow.Nodes)).
		Msg("Execute workflow requested")

	if a.settings != nil {
		a.settings.SetLastActive(deviceId, time.Now().UnixMilli())
	}

	return a.workflowRunner.Start(workflow.Nodes, workflow.Edges, deviceId)
}

// StopWorkflow requests cooperative cancellation of the running workflow
func (a *App) StopWorkflow() {
	if a.workflowRunner == nil {
		return
	}
	a.workflowRunner.Stop()
}

// ExecuteSingleNode runs one node in isolation for debugging
func (a *App) ExecuteSingleNode(deviceId string, node Node) error {
	if err := ValidateDeviceID(deviceId); err != nil {
		return fmt.Errorf("invalid device ID: %w", err)
	}
	if a.workflowRunner == nil {
		return fmt.Errorf("workflow engine not initialized")
	}
	return a.workflowRunner.ExecuteSingleNode(node, deviceId)
}

// GetWorkflowContext returns a snapshot of the current execution context.
// Used by the frontend to recover state after a reload.
func (a *App) GetWorkflowContext() ExecutionContext {
	if a.workflowState == nil {
		return ExecutionContext{
			NodeStatuses: map[string]NodeStatus{},
			ExecutionLog: []LogEntry{},
			Variables:    map[string]interface{}{},
		}
	}
	return a.workflowState.Snapshot()
}

// IsWorkflowRunning reports whether a run is in flight
func (a *App) IsWorkflowRunning() bool {
	if a.workflowState == nil {
		return false
	}
	return a.workflowState.Snapshot().IsRunning
}

// ExportWorkflow serializes a workflow to a JSON string for sharing
func (a *App) ExportWorkflow(workflow Workflow) (string, error) {
	data, err := json.MarshalIndent(workflow, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to export workflow: %w", err)
	}
	return string(data), nil
}

// ImportWorkflow parses a JSON string into a workflow and saves it
func (a *App) ImportWorkflow(data string) (Workflow, error) {
	workflow, err := ParseWorkflow([]byte(data))
	if err != nil {
		return Workflow{}, fmt.Errorf("failed to import workflow: %w", err)
	}
	if workflow.ID == "" {
		workflow.ID = fmt.Sprintf("wf_%d", time.Now().UnixMilli())
	}
	if err := a.SaveWorkflow(workflow); err != nil {
		return Workflow{}, err
	}
	return workflow, nil
}
