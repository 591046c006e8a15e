package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============== Node Graph Model ==============
// Nodes and edges come from the canvas editor in the frontend. Every node
// carries a kind-specific config block; edges are directed and optionally
// labeled with a source handle to pick among multiple outgoing paths.

// NodeKind identifies the step type of a workflow node.
type NodeKind string

const (
	NodeStart      NodeKind = "start"
	NodeClose      NodeKind = "close"
	NodeClick      NodeKind = "click"
	NodeInput      NodeKind = "input"
	NodeSwipe      NodeKind = "swipe"
	NodeScroll     NodeKind = "scroll"
	NodeWait       NodeKind = "wait"
	NodeScreenshot NodeKind = "screenshot"
	NodeCondition  NodeKind = "condition"
	NodeLoop       NodeKind = "loop"
)

// Edge source handles for branching nodes.
const (
	HandleTrue  = "true"
	HandleFalse = "false"
	HandleLoop  = "loop"
	HandleEnd   = "end"
)

// ElementSelector describes how to locate a UI element on the device.
// Type is one of: text, id, class, description, contains, xpath, bounds.
type ElementSelector struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Index int    `json:"index,omitempty"`
}

// StartConfig configures the graph entry node. Package is optional; when set
// the app is launched before the walk continues.
type StartConfig struct {
	Package  string `json:"package,omitempty"`
	Activity string `json:"activity,omitempty"`
}

// CloseConfig force-stops an app.
type CloseConfig struct {
	Package string `json:"package"`
}

// ClickConfig targets either a selector or raw coordinates. When both are
// present a non-empty selector takes precedence.
type ClickConfig struct {
	Selector  *ElementSelector `json:"selector,omitempty"`
	X         *int             `json:"x,omitempty"`
	Y         *int             `json:"y,omitempty"`
	ClickType string           `json:"clickType,omitempty"` // single | double | long
}

// InputConfig types text into a field located by selector or coordinates.
type InputConfig struct {
	Selector   *ElementSelector `json:"selector,omitempty"`
	X          *int             `json:"x,omitempty"`
	Y          *int             `json:"y,omitempty"`
	Text       string           `json:"text"`
	ClearFirst bool             `json:"clearFirst,omitempty"`
}

// SwipeConfig performs a raw swipe gesture.
type SwipeConfig struct {
	StartX   int `json:"startX"`
	StartY   int `json:"startY"`
	EndX     int `json:"endX"`
	EndY     int `json:"endY"`
	Duration int `json:"duration,omitempty"` // ms, default 300
}

// ScrollConfig scrolls the screen in a direction one or more times.
type ScrollConfig struct {
	Direction string `json:"direction"` // up | down | left | right
	Distance  int    `json:"distance,omitempty"`
	Count     int    `json:"count,omitempty"`
}

// WaitConfig delays the walk. WaitType "fixed" sleeps for the duration;
// "arise"/"vanish" poll for element presence until satisfied or the duration
// elapses.
type WaitConfig struct {
	Duration int              `json:"duration"`
	Unit     string           `json:"unit,omitempty"` // ms | s, default ms
	WaitType string           `json:"waitType,omitempty"`
	Selector *ElementSelector `json:"selector,omitempty"`
}

// ScreenshotConfig captures the screen. SavePath is optional; when empty the
// capture stays in the execution log result only.
type ScreenshotConfig struct {
	SavePath string `json:"savePath,omitempty"`
}

// ConditionConfig evaluates a predicate against live UI state. Either a
// selector+operator pair or an image template is required.
type ConditionConfig struct {
	Selector  *ElementSelector `json:"selector,omitempty"`
	Operator  string           `json:"operator,omitempty"` // equals | contains | exists | not_exists | greater | less | visible | enabled
	Value     string           `json:"value,omitempty"`
	Attribute string           `json:"attribute,omitempty"` // text | resource-id | class | content-desc | checked | enabled | selected
	Template  string           `json:"template,omitempty"`  // image template path, alternative to selector
	Threshold float64          `json:"threshold,omitempty"` // template match threshold, default 0.8
}

// LoopConfig controls loop nodes. Type "count" iterates Count times,
// "condition" re-evaluates a JS expression against the run variables,
// "foreach" walks the list stored in the named variable (current element is
// exposed as the "item" variable). MaxIterations is a hard ceiling for all
// three.
type LoopConfig struct {
	Type          string `json:"type"` // count | condition | foreach
	Count         int    `json:"count,omitempty"`
	Condition     string `json:"condition,omitempty"`
	ForEach       string `json:"foreach,omitempty"`
	MaxIterations int    `json:"maxIterations,omitempty"`
}

// DefaultMaxIterations bounds loop nodes that do not set their own ceiling.
const DefaultMaxIterations = 100

// NodeConfig is the per-kind variant record of a node. Exactly the block
// matching the node's kind must be populated; RetryCount and WaitTime apply
// to any kind.
type NodeConfig struct {
	Start      *StartConfig      `json:"start,omitempty"`
	Close      *CloseConfig      `json:"close,omitempty"`
	Click      *ClickConfig      `json:"click,omitempty"`
	Input      *InputConfig      `json:"input,omitempty"`
	Swipe      *SwipeConfig      `json:"swipe,omitempty"`
	Scroll     *ScrollConfig     `json:"scroll,omitempty"`
	Wait       *WaitConfig       `json:"wait,omitempty"`
	Screenshot *ScreenshotConfig `json:"screenshot,omitempty"`
	Condition  *ConditionConfig  `json:"condition,omitempty"`
	Loop       *LoopConfig       `json:"loop,omitempty"`

	// Retry policy shared by all kinds. RetryCount is the number of
	// additional attempts after a failure; WaitTime is the inter-attempt
	// delay in ms.
	RetryCount int `json:"retryCount,omitempty"`
	WaitTime   int `json:"waitTime,omitempty"`
}

// Node is one step in an automation graph.
type Node struct {
	ID     string     `json:"id"`
	Type   NodeKind   `json:"type"`
	Name   string     `json:"name,omitempty"`
	Config NodeConfig `json:"config"`
}

// Edge is a directed connection between two nodes.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// Workflow is a saved graph definition.
type Workflow struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Nodes     []Node `json:"nodes"`
	Edges     []Edge `json:"edges"`
	CreatedAt int64  `json:"createdAt,omitempty"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
}

// ============== Execution State ==============

// NodeStatus is the lifecycle state of one node within a run.
type NodeStatus string

const (
	StatusIdle    NodeStatus = "idle"
	StatusPending NodeStatus = "pending"
	StatusRunning NodeStatus = "running"
	StatusSuccess NodeStatus = "success"
	StatusError   NodeStatus = "error"
)

// LogEntry is one append-only record in the execution log. Every status
// transition of a node produces exactly one entry.
type LogEntry struct {
	ID        string      `json:"id"`
	NodeID    string      `json:"nodeId"`
	Timestamp time.Time   `json:"timestamp"`
	Status    NodeStatus  `json:"status"`
	Message   string      `json:"message"`
	Duration  int64       `json:"duration,omitempty"` // ms
	Result    interface{} `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// ExecutionContext is the serializable snapshot of one run. Timestamps cross
// the boundary as RFC 3339 strings and nodeStatuses as a plain string map, so
// the struct marshals directly into the wire form.
type ExecutionContext struct {
	IsRunning     bool                   `json:"isRunning"`
	CurrentNodeID string                 `json:"currentNodeId"` // empty = none
	NodeStatuses  map[string]NodeStatus  `json:"nodeStatuses"`
	ExecutionLog  []LogEntry             `json:"executionLog"`
	Variables     map[string]interface{} `json:"variables"`
}

// ============== Validation ==============

// ValidationError describes one problem found in a workflow definition.
type ValidationError struct {
	NodeID  string `json:"nodeId,omitempty"`
	EdgeID  string `json:"edgeId,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("node %s: %s", e.NodeID, e.Message)
	}
	if e.EdgeID != "" {
		return fmt.Sprintf("edge %s: %s", e.EdgeID, e.Message)
	}
	return e.Message
}

// ValidateConfig checks that the node's kind-specific config block is present
// and that its required fields are resolved. It performs no device I/O.
func (n Node) ValidateConfig() error {
	switch n.Type {
	case NodeStart:
		// Config block optional: a bare start node is just the graph entry.
		return nil
	case NodeClose:
		if n.Config.Close == nil || n.Config.Close.Package == "" {
			return ValidationError{NodeID: n.ID, Field: "close.package", Message: "close node requires a package name"}
		}
	case NodeClick:
		c := n.Config.Click
		if c == nil {
			return ValidationError{NodeID: n.ID, Field: "click", Message: "click node has no config"}
		}
		if !selectorSet(c.Selector) && (c.X == nil || c.Y == nil) {
			return ValidationError{NodeID: n.ID, Field: "click", Message: "click node requires a selector or x/y coordinates"}
		}
	case NodeInput:
		c := n.Config.Input
		if c == nil {
			return ValidationError{NodeID: n.ID, Field: "input", Message: "input node has no config"}
		}
		if !selectorSet(c.Selector) && (c.X == nil || c.Y == nil) {
			return ValidationError{NodeID: n.ID, Field: "input", Message: "input node requires a selector or x/y coordinates"}
		}
		if c.Text == "" {
			return ValidationError{NodeID: n.ID, Field: "input.text", Message: "input node requires text"}
		}
	case NodeSwipe:
		if n.Config.Swipe == nil {
			return ValidationError{NodeID: n.ID, Field: "swipe", Message: "swipe node has no config"}
		}
	case NodeScroll:
		c := n.Config.Scroll
		if c == nil || c.Direction == "" {
			return ValidationError{NodeID: n.ID, Field: "scroll.direction", Message: "scroll node requires a direction"}
		}
		switch c.Direction {
		case "up", "down", "left", "right":
		default:
			return ValidationError{NodeID: n.ID, Field: "scroll.direction", Message: fmt.Sprintf("invalid scroll direction: %s", c.Direction)}
		}
	case NodeWait:
		c := n.Config.Wait
		if c == nil || c.Duration <= 0 {
			return ValidationError{NodeID: n.ID, Field: "wait.duration", Message: "wait node requires a positive duration"}
		}
		switch c.WaitType {
		case "", "fixed":
		case "arise", "vanish":
			if !selectorSet(c.Selector) {
				return ValidationError{NodeID: n.ID, Field: "wait.selector", Message: fmt.Sprintf("wait type %q requires a selector", c.WaitType)}
			}
		default:
			return ValidationError{NodeID: n.ID, Field: "wait.waitType", Message: fmt.Sprintf("invalid wait type: %s", c.WaitType)}
		}
	case NodeScreenshot:
		// Config block optional, SavePath defaults to log-only capture.
		return nil
	case NodeCondition:
		c := n.Config.Condition
		if c == nil {
			return ValidationError{NodeID: n.ID, Field: "condition", Message: "condition node has no config"}
		}
		if c.Template != "" {
			return nil
		}
		if !selectorSet(c.Selector) {
			return ValidationError{NodeID: n.ID, Field: "condition.selector", Message: "condition node requires a selector or template"}
		}
		switch c.Operator {
		case "exists", "not_exists", "visible", "enabled":
		case "equals", "contains", "greater", "less":
			if c.Value == "" {
				return ValidationError{NodeID: n.ID, Field: "condition.value", Message: fmt.Sprintf("operator %q requires a value", c.Operator)}
			}
		default:
			return ValidationError{NodeID: n.ID, Field: "condition.operator", Message: fmt.Sprintf("invalid condition operator: %s", c.Operator)}
		}
	case NodeLoop:
		c := n.Config.Loop
		if c == nil {
			return ValidationError{NodeID: n.ID, Field: "loop", Message: "loop node has no config"}
		}
		switch c.Type {
		case "count":
			if c.Count <= 0 {
				return ValidationError{NodeID: n.ID, Field: "loop.count", Message: "count loop requires a positive count"}
			}
		case "condition":
			if c.Condition == "" {
				return ValidationError{NodeID: n.ID, Field: "loop.condition", Message: "condition loop requires an expression"}
			}
		case "foreach":
			if c.ForEach == "" {
				return ValidationError{NodeID: n.ID, Field: "loop.foreach", Message: "foreach loop requires a variable name"}
			}
		default:
			return ValidationError{NodeID: n.ID, Field: "loop.type", Message: fmt.Sprintf("invalid loop type: %s", c.Type)}
		}
	default:
		return ValidationError{NodeID: n.ID, Field: "type", Message: fmt.Sprintf("unknown node type: %s", n.Type)}
	}
	return nil
}

func selectorSet(s *ElementSelector) bool {
	return s != nil && s.Value != ""
}

// IsBranching reports whether the node selects among labeled outgoing edges.
func (n Node) IsBranching() bool {
	return n.Type == NodeCondition || n.Type == NodeLoop
}

// ============== Serialization ==============

// SerializeWorkflow serializes a workflow to JSON.
func SerializeWorkflow(w Workflow) ([]byte, error) {
	return json.MarshalIndent(w, "", "  ")
}

// ParseWorkflow parses workflow JSON.
func ParseWorkflow(data []byte) (Workflow, error) {
	var w Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		return Workflow{}, fmt.Errorf("failed to parse workflow: %w", err)
	}
	return w, nil
}

// SerializeExecutionContext produces the wire form pushed to the UI.
func SerializeExecutionContext(ctx ExecutionContext) ([]byte, error) {
	return json.Marshal(ctx)
}

// ParseExecutionContext rehydrates a serialized context, including log
// timestamps from their RFC 3339 string form.
func ParseExecutionContext(data []byte) (ExecutionContext, error) {
	var ctx ExecutionContext
	if err := json.Unmarshal(data, &ctx); err != nil {
		return ExecutionContext{}, fmt.Errorf("failed to parse execution context: %w", err)
	}
	if ctx.NodeStatuses == nil {
		ctx.NodeStatuses = make(map[string]NodeStatus)
	}
	if ctx.Variables == nil {
		ctx.Variables = make(map[string]interface{})
	}
	return ctx, nil
}
