// Package main - workflow type aliases
// This file re-exports types from pkg/types to maintain a single source of truth
// while preserving backward compatibility with existing code in main package.
package main

import (
	"Scout/pkg/types"
)

// ============== Type Aliases ==============
// Re-export all workflow types from pkg/types

type NodeKind = types.NodeKind
type Node = types.Node
type NodeConfig = types.NodeConfig
type Edge = types.Edge
type Workflow = types.Workflow
type ElementSelector = types.ElementSelector
type StartConfig = types.StartConfig
type CloseConfig = types.CloseConfig
type ClickConfig = types.ClickConfig
type InputConfig = types.InputConfig
type SwipeConfig = types.SwipeConfig
type ScrollConfig = types.ScrollConfig
type WaitConfig = types.WaitConfig
type ScreenshotConfig = types.ScreenshotConfig
type ConditionConfig = types.ConditionConfig
type LoopConfig = types.LoopConfig
type NodeStatus = types.NodeStatus
type LogEntry = types.LogEntry
type ExecutionContext = types.ExecutionContext
type ValidationError = types.ValidationError
type TemplateMatchResult = types.TemplateMatchResult

// ============== Constant Aliases ==============

const (
	NodeStart      = types.NodeStart
	NodeClose      = types.NodeClose
	NodeClick      = types.NodeClick
	NodeInput      = types.NodeInput
	NodeSwipe      = types.NodeSwipe
	NodeScroll     = types.NodeScroll
	NodeWait       = types.NodeWait
	NodeScreenshot = types.NodeScreenshot
	NodeCondition  = types.NodeCondition
	NodeLoop       = types.NodeLoop

	HandleTrue  = types.HandleTrue
	HandleFalse = types.HandleFalse
	HandleLoop  = types.HandleLoop
	HandleEnd   = types.HandleEnd

	StatusIdle    = types.StatusIdle
	StatusPending = types.StatusPending
	StatusRunning = types.StatusRunning
	StatusSuccess = types.StatusSuccess
	StatusError   = types.StatusError
)

// ============== Function Aliases ==============

// SerializeWorkflow serializes a workflow to JSON
var SerializeWorkflow = types.SerializeWorkflow

// ParseWorkflow parses workflow JSON
var ParseWorkflow = types.ParseWorkflow

// SerializeExecutionContext serializes a run snapshot for the UI boundary
var SerializeExecutionContext = types.SerializeExecutionContext

// ParseExecutionContext rehydrates a serialized run snapshot
var ParseExecutionContext = types.ParseExecutionContext
